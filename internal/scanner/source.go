package scanner

import (
	"context"
	"strings"

	"github.com/BRKME/LP/internal/token"
)

// SourceKind identifies where a pool observation came from.
type SourceKind string

const (
	SourceAggregator   SourceKind = "DeFiLlama"
	SourceOnChainIndex SourceKind = "Uniswap Graph"
)

// Fetcher defines the interface that every pool data source implements.
// Fetch returns an error instead of partial data; the engine treats a failed
// fetch as an empty result for that source.
type Fetcher interface {
	// Name returns a unique identifier for this source (e.g., "defillama").
	Name() string

	// Kind tells the ranker which path the observations take.
	Kind() SourceKind

	// Fetch retrieves the pools this source considers eligible for network.
	Fetch(ctx context.Context, network Network, filter FilterConfig) ([]PoolObservation, error)
}

// FeeDay is one daily fee snapshot. FeesUSD keeps the raw numeric text so the
// APR estimator decides how malformed values are handled.
type FeeDay struct {
	Date    int64  `json:"date"`
	FeesUSD string `json:"fees_usd"`
}

// PoolObservation is a single pool as reported by one source.
type PoolObservation struct {
	PairLabel string     `json:"pair_label"`
	Network   string     `json:"network"`
	TVLUSD    float64    `json:"tvl_usd"`
	APRPct    float64    `json:"apr_pct"`
	Source    SourceKind `json:"source"`
	PoolID    string     `json:"pool_id,omitempty"`
	Project   string     `json:"project,omitempty"`
	FeeSeries []FeeDay   `json:"fee_series,omitempty"`
}

// withAPR returns a copy carrying the given APR.
func (p PoolObservation) withAPR(apr float64) PoolObservation {
	p.APRPct = apr
	return p
}

// Network describes one chain to scan.
type Network struct {
	// Name is the key used in RankedResult (e.g., "arbitrum").
	Name string `json:"name"`
	// Chain is the aggregator's chain name (e.g., "Arbitrum"). Empty means Name.
	Chain string `json:"chain"`
	// SubgraphURL is the on-chain index endpoint. Empty disables that source.
	SubgraphURL string `json:"subgraph_url,omitempty"`
	// Icon prefixes the network section in reports.
	Icon string `json:"icon,omitempty"`
	// TopN overrides FilterConfig.TopN for this network when positive.
	TopN int `json:"top_n,omitempty"`
}

// ChainName returns the aggregator chain name for the network.
func (n Network) ChainName() string {
	if n.Chain != "" {
		return n.Chain
	}
	return n.Name
}

// Label is the uppercase display name used in reports.
func (n Network) Label() string {
	return strings.ToUpper(n.Name)
}

// FilterConfig holds the thresholds for one run.
type FilterConfig struct {
	MinTVLUSD    float64      `json:"min_tvl_usd"`
	MinAPRPct    float64      `json:"min_apr_pct"`
	TargetTokens token.Set    `json:"-"`
	TopN         int          `json:"top_n"`
	Aliases      *token.Table `json:"-"`
}

// forNetwork applies the per-network result cap.
func (f FilterConfig) forNetwork(n Network) FilterConfig {
	if n.TopN > 0 {
		f.TopN = n.TopN
	}
	return f
}

// RankedResult maps network name to its ranked pools.
type RankedResult map[string][]PoolObservation

// Total returns the number of pools across all networks.
func (r RankedResult) Total() int {
	var n int
	for _, pools := range r {
		n += len(pools)
	}
	return n
}
