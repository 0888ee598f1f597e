package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BRKME/LP/internal/config"
	"github.com/BRKME/LP/internal/dedup"
	"github.com/BRKME/LP/internal/handler"
	"github.com/BRKME/LP/internal/kafka"
	"github.com/BRKME/LP/internal/middleware"
	"github.com/BRKME/LP/internal/scanner"
	"github.com/BRKME/LP/internal/scanner/sources"
	"github.com/BRKME/LP/internal/store"
	"github.com/BRKME/LP/internal/telegram"
)

func main() {
	once := flag.Bool("once", false, "run a single scan, deliver the report and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Database (optional, holds bot subscribers)
	var db *store.Store
	if cfg.DatabaseURL != "" {
		db, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("database connected and migrated")
	}

	var opts []scanner.ServiceOption

	// Telegram
	var bot *telegram.Bot
	if cfg.TelegramToken != "" {
		var recipients telegram.RecipientStore
		if db != nil {
			recipients = db
		}
		bot = telegram.NewBot(cfg.TelegramToken, cfg.TelegramChats, recipients, logger)
		opts = append(opts, scanner.WithNotifier(bot))
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, reports will not be delivered")
	}

	// Redis dedup (optional, retry up to 30s for ExternalSecret to sync)
	var dd *dedup.Deduplicator
	if cfg.RedisURL != "" {
		for i := 0; i < 6; i++ {
			dd, err = dedup.New(cfg.RedisURL, cfg.RedisPassword, cfg.DedupTTL, logger)
			if err == nil {
				break
			}
			logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
			time.Sleep(5 * time.Second)
		}
		if err != nil {
			logger.Error("failed to connect to redis after retries", "error", err)
			os.Exit(1)
		}
		defer dd.Close()
		opts = append(opts, scanner.WithDeduper(dd))
		logger.Info("redis connected for report dedup", "ttl", cfg.DedupTTL)
	}

	// Kafka (optional)
	if len(cfg.KafkaBrokers) > 0 {
		pub := kafka.NewRunPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer pub.Close()
		opts = append(opts, scanner.WithPublisher(pub))
		logger.Info("publishing runs to kafka", "topic", pub.Topic)
	}

	scan := scanner.NewScanner(logger,
		sources.NewDefiLlama(cfg.RequestTimeout, cfg.Scan.Chains(), cfg.Scan.ProjectTerms),
		sources.NewSubgraph(cfg.RequestTimeout, cfg.SubgraphAPIKey, cfg.Scan.PageSize),
	)
	svc := scanner.NewService(scan, scanner.ServiceConfig{
		Networks: cfg.Scan.ScanNetworks(),
		Filter:   cfg.Scan.Filter(),
		Report:   scanner.ReportOptions{Limit: cfg.Scan.ReportLimit, Location: cfg.ReportLocation},
	}, logger, opts...)

	if *once {
		if _, err := svc.RunOnce(ctx, scanner.RunOptions{}); err != nil {
			logger.Error("scan run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// Start background goroutines
	if bot != nil && db != nil {
		go bot.Run(ctx)
	}
	if cfg.ScanInterval > 0 {
		go svc.Run(ctx, cfg.ScanInterval)
		logger.Info("scheduled scans enabled", "interval", cfg.ScanInterval)
	}

	runTimeout := 2*cfg.RequestTimeout + time.Minute

	// HTTP routes
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	deps := map[string]handler.Pinger{}
	if db != nil {
		deps["postgres"] = db
	}
	if dd != nil {
		deps["redis"] = dd
	}

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(deps))

	r.Route("/api", func(r chi.Router) {
		r.Post("/run", handler.TriggerRun(svc, runTimeout))
		r.Get("/config", handler.ScanConfig(svc))
		if db != nil {
			r.Get("/recipients", handler.ListRecipients(db))
			r.Delete("/recipients/{chatID}", handler.DeleteRecipient(db))
		}
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: runTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "networks", len(cfg.Scan.Networks))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down gracefully")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
