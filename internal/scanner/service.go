package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BRKME/LP/internal/metrics"
)

// ErrRunInProgress is returned when a run is triggered while another one is
// still active.
var ErrRunInProgress = errors.New("scan run already in progress")

// Notifier delivers a formatted report.
type Notifier interface {
	// Name labels the delivery channel in metrics (e.g., "telegram").
	Name() string
	Notify(ctx context.Context, report string) error
}

// Deduper suppresses reports whose content was already delivered recently.
type Deduper interface {
	AlreadySent(ctx context.Context, key string) bool
	Record(ctx context.Context, key string)
}

// Publisher streams finished runs to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, run *Run) error
}

// PoolScanner produces a ranked result for a set of networks.
type PoolScanner interface {
	Run(ctx context.Context, networks []Network, cfg FilterConfig) RankedResult
}

// Run is the outcome of one scan.
type Run struct {
	ID           string       `json:"id"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
	Filter       FilterConfig `json:"filter"`
	Results      RankedResult `json:"results"`
	Report       string       `json:"-"`
	Notified     bool         `json:"notified"`
	Deduplicated bool         `json:"deduplicated"`
}

// ServiceConfig is the static per-process scan configuration.
type ServiceConfig struct {
	Networks []Network
	Filter   FilterConfig
	Report   ReportOptions
}

// RunOptions adjusts a single run.
type RunOptions struct {
	// Force delivers the report even if identical content was sent recently.
	Force bool
}

// ServiceOption configures optional collaborators of a Service.
type ServiceOption func(*Service)

func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifiers = append(s.notifiers, n) }
}

func WithDeduper(d Deduper) ServiceOption {
	return func(s *Service) { s.dedup = d }
}

func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

// Service runs scans one at a time and delivers their reports.
type Service struct {
	scanner   PoolScanner
	cfg       ServiceConfig
	logger    *slog.Logger
	notifiers []Notifier
	dedup     Deduper
	publisher Publisher
	now       func() time.Time

	mu sync.Mutex
}

func NewService(scanner PoolScanner, cfg ServiceConfig, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		scanner: scanner,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the networks and thresholds every run uses.
func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// Run triggers a scan immediately and then on every interval tick until ctx
// is cancelled. Run errors are logged, not returned.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	s.runAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Service) runAndLog(ctx context.Context) {
	if _, err := s.RunOnce(ctx, RunOptions{}); err != nil {
		s.logger.Error("scan run failed", "error", err)
	}
}

// RunOnce performs a full scan and delivers its report. It returns
// ErrRunInProgress without doing anything if another run is active. A
// delivery failure is returned together with the completed Run.
func (s *Service) RunOnce(ctx context.Context, opts RunOptions) (*Run, error) {
	if !s.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.mu.Unlock()

	run := &Run{
		ID:        uuid.NewString(),
		StartedAt: s.now(),
		Filter:    s.cfg.Filter,
	}
	logger := s.logger.With("run_id", run.ID)
	logger.Info("scan run started", "networks", len(s.cfg.Networks))

	run.Results = s.scanner.Run(ctx, s.cfg.Networks, s.cfg.Filter)
	run.Report = FormatReport(run.Results, s.cfg.Networks, s.cfg.Filter, run.StartedAt, s.cfg.Report)

	err := s.deliver(ctx, logger, run, opts)
	run.FinishedAt = s.now()

	if s.publisher != nil {
		if perr := s.publisher.Publish(ctx, run); perr != nil {
			logger.Error("publish run failed", "error", perr)
		}
	}

	metrics.RunDuration.Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	if err != nil {
		metrics.RunTotal.WithLabelValues("error").Inc()
		return run, err
	}
	metrics.RunTotal.WithLabelValues("success").Inc()
	metrics.RunLastSuccess.Set(float64(run.FinishedAt.Unix()))
	logger.Info("scan run finished",
		"pools", run.Results.Total(),
		"notified", run.Notified,
		"deduplicated", run.Deduplicated,
		"duration", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
	)
	return run, nil
}

func (s *Service) deliver(ctx context.Context, logger *slog.Logger, run *Run, opts RunOptions) error {
	if len(s.notifiers) == 0 {
		return nil
	}

	key := ResultKey(run.Results, s.cfg.Networks)
	if s.dedup != nil && !opts.Force && s.dedup.AlreadySent(ctx, key) {
		run.Deduplicated = true
		for _, n := range s.notifiers {
			metrics.NotifyDeduplicatedTotal.WithLabelValues(n.Name()).Inc()
		}
		logger.Info("report unchanged, skipping delivery", "key", key)
		return nil
	}

	var errs []error
	for _, n := range s.notifiers {
		if err := n.Notify(ctx, run.Report); err != nil {
			metrics.NotifyFailedTotal.WithLabelValues(n.Name()).Inc()
			logger.Error("notify failed", "channel", n.Name(), "error", err)
			errs = append(errs, fmt.Errorf("notify %s: %w", n.Name(), err))
			continue
		}
		metrics.NotifySentTotal.WithLabelValues(n.Name()).Inc()
		run.Notified = true
	}

	if len(errs) == 0 && s.dedup != nil {
		s.dedup.Record(ctx, key)
	}
	return errors.Join(errs...)
}

// ResultKey fingerprints the displayed content of a result: network order,
// pair labels and rounded APR and TVL. Results that would render the same
// report body share a key.
func ResultKey(result RankedResult, networks []Network) string {
	h := sha256.New()
	for _, n := range networks {
		fmt.Fprintf(h, "#%s\n", n.Name)
		for _, p := range result[n.Name] {
			fmt.Fprintf(h, "%s|%.0f|%.0f\n", p.PairLabel, math.Round(p.APRPct), math.Round(p.TVLUSD))
		}
	}
	return "pool_scout:report:" + hex.EncodeToString(h.Sum(nil))[:32]
}
