package scanner

import (
	"slices"
	"strings"
)

// Rank merges the aggregator and on-chain index observations for one chain
// into a deduplicated list sorted by APR, descending, capped at cfg.TopN.
//
// Aggregator pools only need a target token somewhere in their label
// (case-insensitive substring). Index pools were already matched against the
// alias table by their adapter, so here they are only checked against the
// thresholds after their APR is estimated from the fee series.
func Rank(chain string, aggregatorPools, indexPools []PoolObservation, cfg FilterConfig) []PoolObservation {
	if cfg.TopN <= 0 {
		return []PoolObservation{}
	}

	candidates := make([]PoolObservation, 0, len(aggregatorPools)+len(indexPools))
	for _, p := range aggregatorPools {
		if !strings.EqualFold(p.Network, chain) {
			continue
		}
		if !labelMentionsTarget(p.PairLabel, cfg) {
			continue
		}
		candidates = append(candidates, p)
	}

	for _, p := range indexPools {
		if p.TVLUSD < cfg.MinTVLUSD {
			continue
		}
		apr := EstimateAPR(p.TVLUSD, p.FeeSeries, feeLookbackDays)
		if apr < cfg.MinAPRPct {
			continue
		}
		candidates = append(candidates, p.withAPR(apr))
	}

	pools := dedupByLabel(candidates)
	slices.SortStableFunc(pools, func(a, b PoolObservation) int {
		switch {
		case a.APRPct > b.APRPct:
			return -1
		case a.APRPct < b.APRPct:
			return 1
		}
		return 0
	})

	if len(pools) > cfg.TopN {
		pools = pools[:cfg.TopN]
	}
	return pools
}

func labelMentionsTarget(label string, cfg FilterConfig) bool {
	if cfg.TargetTokens.Empty() {
		return true
	}
	upper := strings.ToUpper(label)
	for sym := range cfg.TargetTokens {
		if strings.Contains(upper, strings.ToUpper(sym)) {
			return true
		}
	}
	return false
}

// dedupByLabel keeps one entry per pair label. A later entry with a strictly
// higher APR replaces the kept one in place.
func dedupByLabel(pools []PoolObservation) []PoolObservation {
	out := make([]PoolObservation, 0, len(pools))
	slot := make(map[string]int, len(pools))
	for _, p := range pools {
		i, seen := slot[p.PairLabel]
		if !seen {
			slot[p.PairLabel] = len(out)
			out = append(out, p)
			continue
		}
		if p.APRPct > out[i].APRPct {
			out[i] = p
		}
	}
	return out
}
