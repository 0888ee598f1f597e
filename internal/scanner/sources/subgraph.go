package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BRKME/LP/internal/scanner"
)

const (
	defaultPageSize = 300
	maxPageSize     = 1000
	feeDays         = 7
)

const poolsQuery = `{
  pools(
    first: %d
    where: { totalValueLockedUSD_gt: %d }
    orderBy: totalValueLockedUSD
    orderDirection: desc
  ) {
    id
    token0 { symbol }
    token1 { symbol }
    totalValueLockedUSD
    feesUSD
    poolDayData(first: %d, orderBy: date, orderDirection: desc) {
      feesUSD
      date
    }
  }
}`

type subgraphPool struct {
	ID     string `json:"id"`
	Token0 struct {
		Symbol string `json:"symbol"`
	} `json:"token0"`
	Token1 struct {
		Symbol string `json:"symbol"`
	} `json:"token1"`
	TotalValueLockedUSD numeric `json:"totalValueLockedUSD"`
	FeesUSD             numeric `json:"feesUSD"`
	PoolDayData         []struct {
		FeesUSD numeric `json:"feesUSD"`
		Date    numeric `json:"date"`
	} `json:"poolDayData"`
}

type poolsResponse struct {
	Data *struct {
		Pools []subgraphPool `json:"pools"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Subgraph queries a Uniswap v3 subgraph per network. Networks without a
// subgraph URL are not supported.
type Subgraph struct {
	client   *http.Client
	apiKey   string
	pageSize int
}

// NewSubgraph returns an adapter sending apiKey as a bearer token when set.
// pageSize is clamped to 1..1000; zero selects the default of 300.
func NewSubgraph(timeout time.Duration, apiKey string, pageSize int) *Subgraph {
	switch {
	case pageSize == 0:
		pageSize = defaultPageSize
	case pageSize < 1:
		pageSize = 1
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}
	return &Subgraph{
		client:   &http.Client{Timeout: timeout},
		apiKey:   apiKey,
		pageSize: pageSize,
	}
}

func (s *Subgraph) Name() string             { return "uniswap-subgraph" }
func (s *Subgraph) Kind() scanner.SourceKind { return scanner.SourceOnChainIndex }

func (s *Subgraph) Supports(network scanner.Network) bool {
	return network.SubgraphURL != ""
}

func (s *Subgraph) Fetch(ctx context.Context, network scanner.Network, filter scanner.FilterConfig) ([]scanner.PoolObservation, error) {
	if network.SubgraphURL == "" {
		return nil, nil
	}

	query := fmt.Sprintf(poolsQuery, s.pageSize, int64(filter.MinTVLUSD), feeDays)
	raw, err := s.graphql(ctx, network.SubgraphURL, query)
	if err != nil {
		return nil, fmt.Errorf("subgraph %s: %w", network.Name, err)
	}

	var result poolsResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal %s pools: %w", network.Name, err)
	}
	if result.Data == nil || (len(result.Errors) > 0 && len(result.Data.Pools) == 0) {
		if len(result.Errors) > 0 {
			return nil, fmt.Errorf("subgraph %s: %s", network.Name, result.Errors[0].Message)
		}
		return nil, fmt.Errorf("subgraph %s: no data", network.Name)
	}

	var out []scanner.PoolObservation
	for _, p := range result.Data.Pools {
		if !filter.Aliases.IsRelevantPool(p.Token0.Symbol, p.Token1.Symbol, filter.TargetTokens) {
			continue
		}
		fees := make([]scanner.FeeDay, len(p.PoolDayData))
		for i, d := range p.PoolDayData {
			fees[i] = scanner.FeeDay{Date: d.Date.int64(), FeesUSD: string(d.FeesUSD)}
		}
		out = append(out, scanner.PoolObservation{
			PairLabel: p.Token0.Symbol + "-" + p.Token1.Symbol,
			Network:   network.Name,
			TVLUSD:    p.TotalValueLockedUSD.float64(),
			Source:    scanner.SourceOnChainIndex,
			PoolID:    p.ID,
			FeeSeries: fees,
		})
	}
	return out, nil
}

func (s *Subgraph) graphql(ctx context.Context, url, query string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graphql request failed: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
