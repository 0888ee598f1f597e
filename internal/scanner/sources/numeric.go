package sources

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/BRKME/LP/internal/scanner"
)

// numeric accepts any JSON value and keeps its text. Subgraphs serialize
// BigDecimal fields as strings but some deployments emit numbers. Values
// that are not numbers are kept verbatim and read as zero at the point of use.
type numeric string

func (n *numeric) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*n = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = numeric(s)
	default:
		*n = numeric(b)
	}
	return nil
}

// float64 returns the value, or 0 for empty or malformed text.
func (n numeric) float64() float64 {
	return scanner.ParseAmountOrZero(string(n))
}

// int64 truncates the value, returning 0 for empty or malformed text.
func (n numeric) int64() int64 {
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return 0
	}
	return d.IntPart()
}
