package token

import "strings"

// Alias lists the spellings that resolve to one canonical symbol.
type Alias struct {
	Canonical string   `yaml:"canonical" json:"canonical"`
	Spellings []string `yaml:"spellings" json:"spellings"`
}

// DefaultAliases is the alias table used when no scan config overrides it.
var DefaultAliases = []Alias{
	{Canonical: "ETH", Spellings: []string{"ETH", "WETH", "SETH"}},
	{Canonical: "USDC.e", Spellings: []string{"USDC.E", "USDC-E", "USDC_E"}},
	{Canonical: "BNB", Spellings: []string{"BNB", "WBNB"}},
	{Canonical: "MATIC", Spellings: []string{"MATIC", "WMATIC"}},
	{Canonical: "AVAX", Spellings: []string{"AVAX", "WAVAX"}},
	{Canonical: "ASTER", Spellings: []string{"ASTER", "ASTR"}},
}

// DefaultTargets is the token whitelist used when no scan config overrides it.
var DefaultTargets = []string{
	"USDT", "USDC", "USDC.e", "WETH", "ETH", "WBTC",
	"LINK", "AAVE", "SOL", "ASTER", "BNB", "DAI",
	"PENDLE", "ZRO", "MATIC", "AVAX", "OP", "ARB",
	"UNI", "CRV", "MKR", "SNX",
}

// Table resolves token spellings to canonical symbols. It is immutable after
// construction and safe for concurrent use.
type Table struct {
	index map[string]string
}

// NewTable builds the reverse index. When a spelling appears under more than
// one canonical symbol the earlier entry wins.
func NewTable(aliases []Alias) *Table {
	t := &Table{index: make(map[string]string)}
	for _, a := range aliases {
		if a.Canonical == "" {
			continue
		}
		t.add(a.Canonical, a.Canonical)
		for _, s := range a.Spellings {
			t.add(strings.ToUpper(strings.TrimSpace(s)), a.Canonical)
		}
	}
	return t
}

func (t *Table) add(key, canonical string) {
	if key == "" {
		return
	}
	if _, exists := t.index[key]; exists {
		return
	}
	t.index[key] = canonical
}

// Normalize returns the canonical form of symbol. Empty input is returned
// unchanged; unknown symbols come back trimmed and uppercased.
func (t *Table) Normalize(symbol string) string {
	if symbol == "" {
		return symbol
	}
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	if t != nil {
		if canonical, ok := t.index[upper]; ok {
			return canonical
		}
	}
	return upper
}

// IsRelevantPool reports whether either side of the pair normalizes to a
// target. An empty target set disables the restriction.
func (t *Table) IsRelevantPool(token0, token1 string, targets Set) bool {
	if targets.Empty() {
		return true
	}
	return targets.Has(t.Normalize(token0)) || targets.Has(t.Normalize(token1))
}

// Set is an exact-match symbol set.
type Set map[string]struct{}

// NewSet trims each symbol and drops blanks. Case is preserved.
func NewSet(symbols []string) Set {
	s := make(Set, len(symbols))
	for _, sym := range symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		s[sym] = struct{}{}
	}
	return s
}

func (s Set) Has(symbol string) bool {
	_, ok := s[symbol]
	return ok
}

func (s Set) Empty() bool { return len(s) == 0 }
