package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	infisical "github.com/infisical/go-sdk"
	"gopkg.in/yaml.v3"

	"github.com/BRKME/LP/internal/scanner"
	"github.com/BRKME/LP/internal/token"
)

type Config struct {
	Port           string
	DatabaseURL    string
	TelegramToken  string
	TelegramChats  []int64
	FrontendOrigin string
	RedisURL       string
	RedisPassword  string
	SubgraphAPIKey string
	LogLevel       string
	KafkaBrokers   []string
	KafkaTopic     string

	ScanInterval   time.Duration
	RequestTimeout time.Duration
	DedupTTL       time.Duration
	ReportTimezone string
	ReportLocation *time.Location

	Scan ScanConfig
}

// ScanConfig holds the pool filter and network list. It is read from the YAML
// file named by SCAN_CONFIG and then overridden by environment variables.
type ScanConfig struct {
	MinTVLUSD    float64         `yaml:"min_tvl_usd"`
	MinAPRPct    float64         `yaml:"min_apr_pct"`
	TopN         int             `yaml:"top_n"`
	ReportLimit  int             `yaml:"report_limit"`
	PageSize     int             `yaml:"page_size"`
	TargetTokens []string        `yaml:"target_tokens"`
	ProjectTerms []string        `yaml:"project_terms"`
	Aliases      []token.Alias   `yaml:"aliases"`
	Networks     []NetworkConfig `yaml:"networks"`
}

type NetworkConfig struct {
	Name        string `yaml:"name"`
	Chain       string `yaml:"chain"`
	SubgraphURL string `yaml:"subgraph_url"`
	Icon        string `yaml:"icon"`
	TopN        int    `yaml:"top_n"`
}

// DefaultScan mirrors the Uniswap v3 setup the scanner was built for.
func DefaultScan() ScanConfig {
	return ScanConfig{
		MinTVLUSD:    300_000,
		MinAPRPct:    8,
		TopN:         15,
		ReportLimit:  10,
		PageSize:     300,
		TargetTokens: append([]string(nil), token.DefaultTargets...),
		ProjectTerms: []string{"uniswap", "v3"},
		Aliases:      append([]token.Alias(nil), token.DefaultAliases...),
		Networks: []NetworkConfig{
			{
				Name:        "arbitrum",
				Chain:       "Arbitrum",
				SubgraphURL: "https://api.thegraph.com/subgraphs/name/uniswap/uniswap-v3",
				Icon:        "🔹",
			},
			{
				Name:        "bsc",
				Chain:       "BSC",
				SubgraphURL: "https://api.thegraph.com/subgraphs/name/uniswap/uniswap-v3-bsc",
				Icon:        "🔸",
			},
			{
				Name:  "unichain",
				Chain: "Unichain",
				Icon:  "🟣",
				TopN:  10,
			},
		},
	}
}

// ScanNetworks converts the configured networks for the scanner.
func (s ScanConfig) ScanNetworks() []scanner.Network {
	out := make([]scanner.Network, len(s.Networks))
	for i, n := range s.Networks {
		out[i] = scanner.Network{
			Name:        n.Name,
			Chain:       n.Chain,
			SubgraphURL: n.SubgraphURL,
			Icon:        n.Icon,
			TopN:        n.TopN,
		}
	}
	return out
}

// Chains returns the aggregator chain names of all networks.
func (s ScanConfig) Chains() []string {
	out := make([]string, 0, len(s.Networks))
	for _, n := range s.ScanNetworks() {
		out = append(out, n.ChainName())
	}
	return out
}

// Filter builds the per-run filter shared by every network.
func (s ScanConfig) Filter() scanner.FilterConfig {
	return scanner.FilterConfig{
		MinTVLUSD:    s.MinTVLUSD,
		MinAPRPct:    s.MinAPRPct,
		TargetTokens: token.NewSet(s.TargetTokens),
		TopN:         s.TopN,
		Aliases:      token.NewTable(s.Aliases),
	}
}

func Load() (Config, error) {
	cfg := Config{
		Port:           envOr("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		FrontendOrigin: envOr("FRONTEND_ORIGIN", "*"),
		RedisURL:       os.Getenv("REDIS_URL"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		SubgraphAPIKey: os.Getenv("SUBGRAPH_API_KEY"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		KafkaBrokers:   splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:     envOr("KAFKA_TOPIC", "pool-scout.runs"),
		ReportTimezone: envOr("REPORT_TIMEZONE", "Europe/Moscow"),
		Scan:           DefaultScan(),
	}

	var err error
	if cfg.TelegramChats, err = parseChatIDs(os.Getenv("TELEGRAM_CHAT_IDS")); err != nil {
		return cfg, err
	}
	if cfg.ScanInterval, err = envDuration("SCAN_INTERVAL", 0); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = envDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.DedupTTL, err = envDuration("DEDUP_TTL", 6*time.Hour); err != nil {
		return cfg, err
	}

	if path := os.Getenv("SCAN_CONFIG"); path != "" {
		if err := loadScanFile(path, &cfg.Scan); err != nil {
			return cfg, err
		}
	}
	if err := applyScanEnv(&cfg.Scan); err != nil {
		return cfg, err
	}

	// If Infisical credentials are available, fetch secrets from Infisical
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		loadFromInfisical(&cfg, clientID, clientSecret)
	}

	if err := validate(cfg); err != nil {
		return cfg, fmt.Errorf("configuration validation failed: %w", err)
	}
	if cfg.ReportLocation, err = time.LoadLocation(cfg.ReportTimezone); err != nil {
		return cfg, fmt.Errorf("REPORT_TIMEZONE: %w", err)
	}
	return cfg, nil
}

func loadScanFile(path string, scan *ScanConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read scan config: %w", err)
	}
	if err := yaml.Unmarshal(data, scan); err != nil {
		return fmt.Errorf("failed to parse scan config: %w", err)
	}
	return nil
}

func applyScanEnv(scan *ScanConfig) error {
	if v := os.Getenv("MIN_TVL_USD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MIN_TVL_USD: %w", err)
		}
		scan.MinTVLUSD = f
	}
	if v := os.Getenv("MIN_APR_PCT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MIN_APR_PCT: %w", err)
		}
		scan.MinAPRPct = f
	}
	if v := os.Getenv("TOP_N"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TOP_N: %w", err)
		}
		scan.TopN = n
	}
	if v, ok := os.LookupEnv("TARGET_TOKENS"); ok {
		scan.TargetTokens = splitCSV(v)
	}
	return nil
}

func validate(cfg Config) error {
	s := cfg.Scan
	if len(s.Networks) == 0 {
		return errors.New("at least one network is required")
	}
	seen := make(map[string]bool, len(s.Networks))
	for i, n := range s.Networks {
		if n.Name == "" {
			return fmt.Errorf("networks[%d].name is required", i)
		}
		if seen[n.Name] {
			return fmt.Errorf("network %q is configured twice", n.Name)
		}
		seen[n.Name] = true
		if n.TopN < 0 {
			return fmt.Errorf("networks[%d].top_n must not be negative", i)
		}
	}
	if s.TopN <= 0 {
		return errors.New("top_n must be greater than 0")
	}
	if !isFinite(s.MinTVLUSD) || s.MinTVLUSD < 0 {
		return errors.New("min_tvl_usd must be a finite, non-negative number")
	}
	if !isFinite(s.MinAPRPct) {
		return errors.New("min_apr_pct must be a finite number")
	}
	if s.ReportLimit < 0 {
		return errors.New("report_limit must not be negative")
	}
	if s.PageSize < 0 || s.PageSize > 1000 {
		return errors.New("page_size must be between 0 and 1000")
	}
	if cfg.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be greater than 0")
	}
	if cfg.ScanInterval < 0 {
		return errors.New("SCAN_INTERVAL must not be negative")
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func loadFromInfisical(cfg *Config, clientID, clientSecret string) {
	siteURL := envOr("INFISICAL_SITE_URL",
		"http://infisical-infisical-standalone-infisical.infisical.svc.cluster.local:8080")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := envOr("INFISICAL_ENV", "prod")

	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		slog.Error("infisical auth failed", "error", err)
		return
	}

	secrets := map[string]*string{
		"TELEGRAM_BOT_TOKEN": &cfg.TelegramToken,
		"REDIS_PASSWORD":     &cfg.RedisPassword,
		"SUBGRAPH_API_KEY":   &cfg.SubgraphAPIKey,
	}

	for key, target := range secrets {
		if *target != "" {
			continue // env var already set, skip
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  "/",
		})
		if err != nil {
			slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		slog.Info("loaded secret from infisical", "key", key)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseChatIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range splitCSV(s) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_CHAT_IDS: invalid chat id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
