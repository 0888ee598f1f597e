package scanner

import (
	"strings"

	"github.com/shopspring/decimal"
)

// feeLookbackDays is the fee window used when ranking index pools.
const feeLookbackDays = 7

// EstimateAPR extrapolates the average daily fee over the first lookbackDays
// entries of fees (most recent first) to a simple annual percentage of tvlUSD:
//
//	apr = (sum(fees) / n) / tvl * 365 * 100
//
// Thin data yields 0. A malformed fee value makes the whole estimate 0.
func EstimateAPR(tvlUSD float64, fees []FeeDay, lookbackDays int) float64 {
	n := min(lookbackDays, len(fees))
	if n <= 0 || tvlUSD == 0 {
		return 0
	}

	var total float64
	for _, day := range fees[:n] {
		v, ok := parseAmount(day.FeesUSD)
		if !ok {
			return 0
		}
		total += v
	}

	daily := total / float64(n)
	return daily / tvlUSD * 365 * 100
}

// parseAmount parses decimal text as returned by subgraphs. Empty text is a
// missing field and counts as zero; anything else unparsable is reported.
func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}

// ParseAmountOrZero parses decimal text, substituting zero for bad input.
func ParseAmountOrZero(s string) float64 {
	v, ok := parseAmount(s)
	if !ok {
		return 0
	}
	return v
}
