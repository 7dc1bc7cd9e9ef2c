// Package risk implements position sizing, budget allocation, and the
// inverse-volatility weighting scheme described in spec.md §4.4.
package risk

import (
	"math"
	"strings"

	"axfl/symbols"
)

// PipValue returns the USD value of one pip on a 100,000-unit position:
// $10 for USD-quote FX majors, $1000 for gold.
func PipValue(symbol string) float64 {
	s := symbols.Normalize(symbol)
	if strings.Contains(s, "XAU") || strings.Contains(s, "GOLD") {
		return 1000.0
	}
	return 10.0
}

// UnitsFromRisk sizes a position so that a fill at sl loses no more than
// riskFraction * equityUSD. An intent whose risk amount can't cover even one
// unit at the given stop distance floors to 0 — the caller rejects it rather
// than silently committing to an oversized risk.
func UnitsFromRisk(symbol string, entry, sl, equityUSD, riskFraction float64) int {
	riskAmount := equityUSD * riskFraction
	pip := symbols.PipSize(symbol)

	slDistance := math.Abs(entry - sl)
	slPips := slDistance / pip
	if slPips < 0.1 {
		slPips = 0.1
	}

	perUnitLoss := slPips * PipValue(symbol) / 100000.0
	if perUnitLoss <= 0 {
		return 0
	}

	units := int(math.Floor(riskAmount/perUnitLoss + 1e-9)) // epsilon absorbs float error in slPips
	if units < 0 {
		units = 0
	}
	return units
}

// SizeBreakdown documents the intermediate figures behind a sizing decision,
// useful for the journal's diagnostic fields.
type SizeBreakdown struct {
	Units          int
	SLDistancePips float64
	PerUnitLossUSD float64
	RiskAmountUSD  float64
	Capped         bool
}

// ComputePositionSize is UnitsFromRisk plus an explicit max-units cap and a
// breakdown of the arithmetic behind the result.
func ComputePositionSize(symbol string, entry, sl, equityUSD, riskFraction float64, maxUnits int) SizeBreakdown {
	riskAmount := equityUSD * riskFraction
	pip := symbols.PipSize(symbol)

	slDistance := math.Abs(entry - sl)
	slPips := slDistance / pip
	if slPips < 0.1 {
		slPips = 0.1
	}
	perUnitLoss := slPips * PipValue(symbol) / 100000.0

	units := 0
	if perUnitLoss > 0 {
		units = int(math.Floor(riskAmount/perUnitLoss + 1e-9))
		if units < 0 {
			units = 0
		}
	}

	capped := false
	if maxUnits > 0 && units > maxUnits {
		units = maxUnits
		capped = true
	}

	return SizeBreakdown{
		Units:          units,
		SLDistancePips: slPips,
		PerUnitLossUSD: perUnitLoss,
		RiskAmountUSD:  riskAmount,
		Capped:         capped,
	}
}
