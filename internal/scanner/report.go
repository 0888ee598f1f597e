package scanner

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	reportTitle  = "Uniswap V3 Analysis"
	reportFooter = "Uniswap V3 only - Automated report"
	defaultIcon  = "🔹"
)

// ReportOptions controls report rendering.
type ReportOptions struct {
	// Limit caps the entries shown per network. The total line still counts
	// every ranked pool.
	Limit    int
	Location *time.Location
}

// FormatReport renders a ranked result as Telegram HTML. Networks appear in
// the given order.
func FormatReport(result RankedResult, networks []Network, cfg FilterConfig, now time.Time, opts ReportOptions) string {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	chains := make([]string, len(networks))
	for i, n := range networks {
		chains[i] = n.ChainName()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🚀 <b>%s</b>\n", reportTitle)
	fmt.Fprintf(&b, "⏰ <i>%s</i>\n", now.In(loc).Format("2006-01-02 15:04:05 (MST)"))
	fmt.Fprintf(&b, "📊 Min TVL: $%s | Min APR: %s%%\n", formatWhole(cfg.MinTVLUSD), formatPlain(cfg.MinAPRPct))
	fmt.Fprintf(&b, "🔗 Networks: %s\n\n", html.EscapeString(strings.Join(chains, ", ")))

	for _, n := range networks {
		icon := n.Icon
		if icon == "" {
			icon = defaultIcon
		}
		fmt.Fprintf(&b, "%s <b>%s</b>\n", icon, html.EscapeString(n.Label()))

		pools := result[n.Name]
		if len(pools) == 0 {
			b.WriteString("No pools found\n\n")
			continue
		}
		if opts.Limit > 0 && len(pools) > opts.Limit {
			pools = pools[:opts.Limit]
		}
		for i, p := range pools {
			fmt.Fprintf(&b, "%d. %s\n", i+1, html.EscapeString(p.PairLabel))
			fmt.Fprintf(&b, "   📈 APR: <b>%s%%</b>\n", formatWhole(p.APRPct))
			fmt.Fprintf(&b, "   💰 TVL: $%s\n\n", formatWhole(p.TVLUSD))
		}
	}

	fmt.Fprintf(&b, "📈 <b>Total pools found: %d</b>\n\n", result.Total())
	fmt.Fprintf(&b, "⚡ <i>%s</i>", reportFooter)
	return b.String()
}

// formatWhole rounds to a whole number and groups thousands. APR and TVL
// share it.
func formatWhole(v float64) string {
	return addCommas(strconv.FormatFloat(math.Round(v), 'f', 0, 64))
}

// formatPlain prints v without trailing zeros.
func formatPlain(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) >= 1000 {
		return formatWhole(v)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func addCommas(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]
	n := len(intPart)
	if n <= 3 {
		return sign + s
	}
	var result []byte
	for i, c := range intPart {
		if i > 0 && (n-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	if len(parts) == 2 {
		return sign + string(result) + "." + parts[1]
	}
	return sign + string(result)
}
