package models

import "github.com/shopspring/decimal"

// SymbolInfo is one entry of the static symbol catalog.
type SymbolInfo struct {
	Code          string          // exchange identifier, e.g. "R_100"
	Name          string          // display name
	MinStake      decimal.Decimal // smallest accepted stake
	DurationUnits []string        // supported duration units ("t", "s", "d")
	ShortTerm     bool            // participates in short-term scanning
}

// SupportsUnit reports whether the symbol accepts the given duration unit.
func (s SymbolInfo) SupportsUnit(unit string) bool {
	for _, u := range s.DurationUnits {
		if u == unit {
			return true
		}
	}
	return false
}

var minStakeDefault = decimal.RequireFromString("0.50")

// Symbols is the fixed catalog of tradable instruments. Any
// duration/symbol mismatch is rejected at configure time.
var Symbols = map[string]SymbolInfo{
	"R_100": {Code: "R_100", Name: "Volatility 100 Index", MinStake: minStakeDefault, DurationUnits: []string{"t", "s"}, ShortTerm: true},
	"R_75":  {Code: "R_75", Name: "Volatility 75 Index", MinStake: minStakeDefault, DurationUnits: []string{"t", "s"}, ShortTerm: true},
	"R_50":  {Code: "R_50", Name: "Volatility 50 Index", MinStake: minStakeDefault, DurationUnits: []string{"t", "s"}, ShortTerm: true},
	"R_25":  {Code: "R_25", Name: "Volatility 25 Index", MinStake: minStakeDefault, DurationUnits: []string{"t", "s"}, ShortTerm: true},
	"R_10":  {Code: "R_10", Name: "Volatility 10 Index", MinStake: minStakeDefault, DurationUnits: []string{"t", "s"}, ShortTerm: true},

	"1HZ100V": {Code: "1HZ100V", Name: "Volatility 100 (1s) Index", MinStake: minStakeDefault, DurationUnits: []string{"t", "s"}, ShortTerm: true},
	"1HZ75V":  {Code: "1HZ75V", Name: "Volatility 75 (1s) Index", MinStake: minStakeDefault, DurationUnits: []string{"t", "s"}, ShortTerm: true},
	"1HZ50V":  {Code: "1HZ50V", Name: "Volatility 50 (1s) Index", MinStake: minStakeDefault, DurationUnits: []string{"t", "s"}, ShortTerm: true},

	// Gold only settles on daily contracts.
	"frxXAUUSD": {Code: "frxXAUUSD", Name: "Gold/USD", MinStake: minStakeDefault, DurationUnits: []string{"d"}, ShortTerm: false},
}

// LookupSymbol returns the catalog entry for code.
func LookupSymbol(code string) (SymbolInfo, bool) {
	s, ok := Symbols[code]
	return s, ok
}

// ShortTermSymbols returns the codes that participate in scanning,
// in a stable order.
func ShortTermSymbols() []string {
	ordered := []string{"R_100", "R_75", "R_50", "R_25", "R_10", "1HZ100V", "1HZ75V", "1HZ50V"}
	out := make([]string, 0, len(ordered))
	for _, code := range ordered {
		if s, ok := Symbols[code]; ok && s.ShortTerm {
			out = append(out, code)
		}
	}
	return out
}
