package scanner

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BRKME/LP/internal/metrics"
)

// NetworkSupporter is implemented by fetchers that only serve some networks.
// The scanner skips unsupported pairs without issuing a request.
type NetworkSupporter interface {
	Supports(network Network) bool
}

// Scanner fans out every (network, source) fetch of a run, waits for all of
// them and ranks each network independently.
type Scanner struct {
	fetchers []Fetcher
	logger   *slog.Logger
}

func NewScanner(logger *slog.Logger, fetchers ...Fetcher) *Scanner {
	for _, f := range fetchers {
		logger.Info("registered source", "source", f.Name(), "kind", f.Kind())
	}
	return &Scanner{fetchers: fetchers, logger: logger}
}

// SourceNames returns the names of all registered fetchers.
func (s *Scanner) SourceNames() []string {
	names := make([]string, 0, len(s.fetchers))
	for _, f := range s.fetchers {
		names = append(names, f.Name())
	}
	return names
}

// Run fetches and ranks every network. It never fails: a fetch error is
// logged and that source contributes nothing. The result has an entry for
// every network, possibly empty.
func (s *Scanner) Run(ctx context.Context, networks []Network, cfg FilterConfig) RankedResult {
	// slots[i][j] holds the pools of fetcher j for network i.
	slots := make([][][]PoolObservation, len(networks))
	for i := range slots {
		slots[i] = make([][]PoolObservation, len(s.fetchers))
	}

	var g errgroup.Group
	g.SetLimit(max(1, 2*len(networks)))

	for i, n := range networks {
		netCfg := cfg.forNetwork(n)
		for j, f := range s.fetchers {
			if sup, ok := f.(NetworkSupporter); ok && !sup.Supports(n) {
				continue
			}
			i, j, n, f, netCfg := i, j, n, f, netCfg
			g.Go(func() error {
				slots[i][j] = s.fetch(ctx, f, n, netCfg)
				return nil
			})
		}
	}
	_ = g.Wait()

	result := make(RankedResult, len(networks))
	for i, n := range networks {
		var agg, idx []PoolObservation
		for j, f := range s.fetchers {
			switch f.Kind() {
			case SourceAggregator:
				agg = append(agg, slots[i][j]...)
			case SourceOnChainIndex:
				idx = append(idx, slots[i][j]...)
			}
		}
		ranked := Rank(n.ChainName(), agg, idx, cfg.forNetwork(n))
		result[n.Name] = ranked
		metrics.RankedPools.WithLabelValues(n.Name).Set(float64(len(ranked)))
		s.logger.Info("network ranked",
			"network", n.Name,
			"aggregator_pools", len(agg),
			"index_pools", len(idx),
			"ranked", len(ranked),
		)
	}
	return result
}

func (s *Scanner) fetch(ctx context.Context, f Fetcher, n Network, cfg FilterConfig) []PoolObservation {
	start := time.Now()
	pools, err := f.Fetch(ctx, n, cfg)
	metrics.FetchDuration.WithLabelValues(f.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchTotal.WithLabelValues(f.Name(), n.Name, "error").Inc()
		s.logger.Error("fetch failed", "source", f.Name(), "network", n.Name, "error", err)
		return nil
	}
	metrics.FetchTotal.WithLabelValues(f.Name(), n.Name, "success").Inc()
	metrics.FetchedPools.WithLabelValues(f.Name(), n.Name).Set(float64(len(pools)))
	s.logger.Debug("fetched pools", "source", f.Name(), "network", n.Name, "count", len(pools))
	return pools
}
