package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/BRKME/LP/internal/scanner"
)

const (
	defiLlamaAPI = "https://yields.llama.fi/pools"
	userAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// DefaultProjectTerms restricts DeFiLlama pools to Uniswap v3 deployments.
var DefaultProjectTerms = []string{"uniswap", "v3"}

// llamaPool is one entry of the yields API "data" array.
type llamaPool struct {
	Pool    string  `json:"pool"`
	Chain   string  `json:"chain"`
	Project string  `json:"project"`
	Symbol  string  `json:"symbol"`
	TVLUSD  numeric `json:"tvlUsd"`
	APY     numeric `json:"apy"`
}

// DefiLlama fetches pools from the DeFiLlama yields API. The response covers
// every chain, so concurrent fetches for different networks share one request.
type DefiLlama struct {
	client       *http.Client
	baseURL      string
	chains       map[string]bool
	projectTerms []string
	group        singleflight.Group
}

// NewDefiLlama returns an adapter keeping pools on the given aggregator chains
// (case-insensitive, empty means any) whose project name contains every term.
func NewDefiLlama(timeout time.Duration, chains, projectTerms []string) *DefiLlama {
	set := make(map[string]bool, len(chains))
	for _, c := range chains {
		set[strings.ToLower(c)] = true
	}
	terms := make([]string, 0, len(projectTerms))
	for _, t := range projectTerms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}
	return &DefiLlama{
		client:       &http.Client{Timeout: timeout},
		baseURL:      defiLlamaAPI,
		chains:       set,
		projectTerms: terms,
	}
}

func (d *DefiLlama) Name() string             { return "defillama" }
func (d *DefiLlama) Kind() scanner.SourceKind { return scanner.SourceAggregator }

func (d *DefiLlama) Fetch(ctx context.Context, network scanner.Network, filter scanner.FilterConfig) ([]scanner.PoolObservation, error) {
	key := fmt.Sprintf("%v|%v", filter.MinTVLUSD, filter.MinAPRPct)
	v, err, _ := d.group.Do(key, func() (any, error) {
		return d.fetchPools(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]scanner.PoolObservation)
	out := make([]scanner.PoolObservation, len(shared))
	copy(out, shared)
	return out, nil
}

func (d *DefiLlama) fetchPools(ctx context.Context, filter scanner.FilterConfig) ([]scanner.PoolObservation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("defillama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("defillama API status: %d", resp.StatusCode)
	}

	var body struct {
		Data []llamaPool `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode defillama: %w", err)
	}

	var out []scanner.PoolObservation
	for _, p := range body.Data {
		tvl, apy := p.TVLUSD.float64(), p.APY.float64()
		if !d.keep(p, tvl, apy, filter) {
			continue
		}
		label := p.Symbol
		if label == "" {
			label = "Unknown"
		}
		out = append(out, scanner.PoolObservation{
			PairLabel: label,
			Network:   p.Chain,
			TVLUSD:    tvl,
			APRPct:    apy,
			Source:    scanner.SourceAggregator,
			PoolID:    p.Pool,
			Project:   p.Project,
		})
	}
	return out, nil
}

func (d *DefiLlama) keep(p llamaPool, tvl, apy float64, filter scanner.FilterConfig) bool {
	if tvl < filter.MinTVLUSD || apy < filter.MinAPRPct {
		return false
	}
	if len(d.chains) > 0 && !d.chains[strings.ToLower(p.Chain)] {
		return false
	}
	project := strings.ToLower(p.Project)
	for _, term := range d.projectTerms {
		if !strings.Contains(project, term) {
			return false
		}
	}
	return true
}
