// Package symbols implements the pure, provider-agnostic facts about a
// trading symbol: pip size, default spread, and the provider-specific name
// forms described in spec.md §4.3.
package symbols

import "strings"

// Normalize strips common decorations (=X suffix, venue prefixes) and
// upper-cases a raw symbol string into its canonical 6-letter (or gold/
// silver) form.
func Normalize(symbol string) string {
	s := strings.ToUpper(symbol)
	s = strings.TrimSuffix(s, "=X")
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "/", "")
	return s
}

// PipSize returns the pip size for a symbol: 0.01 for JPY-quote pairs,
// 0.1 for gold, 0.0001 for every other major FX pair.
func PipSize(symbol string) float64 {
	s := Normalize(symbol)
	if strings.Contains(s, "JPY") {
		return 0.01
	}
	if strings.Contains(s, "XAU") || strings.Contains(s, "GOLD") {
		return 0.1
	}
	return 0.0001
}

// DefaultSpreadPips is the fallback spread used when a schedule does not
// supply a per-symbol override.
func DefaultSpreadPips(symbol string) float64 {
	s := Normalize(symbol)
	if strings.Contains(s, "XAU") || strings.Contains(s, "GOLD") {
		return 3.0
	}
	return 0.6
}

// ProviderForms returns the slash form (EUR/USD), the venue-prefixed
// underscore form (OANDA:EUR_USD), and the suffix form (EURUSD=X) of a
// 6-letter (or gold) symbol, for feeding to data providers and brokers
// that each expect a different shape.
func ProviderForms(symbol, venue string) (slash, underscorePrefixed, suffix string) {
	s := Normalize(symbol)
	if len(s) < 6 {
		return s, venue + ":" + s, s + "=X"
	}
	base, quote := s[:3], s[3:6]
	slash = base + "/" + quote
	underscorePrefixed = venue + ":" + base + "_" + quote
	suffix = s + "=X"
	return
}

// AffectedCurrencies returns the set of currencies this symbol is priced in
// or against — used by the news gate. Gold and silver are treated as
// USD-quoted.
func AffectedCurrencies(symbol string) map[string]bool {
	s := Normalize(symbol)
	out := map[string]bool{}
	if strings.Contains(s, "XAU") || strings.Contains(s, "GOLD") ||
		strings.Contains(s, "XAG") || strings.Contains(s, "SILVER") {
		out["USD"] = true
		return out
	}
	if len(s) == 6 {
		out[s[:3]] = true
		out[s[3:]] = true
	}
	return out
}
