package risk

import "axfl/bars"

// ATR computes the average true range over the last `period` bars as a
// simple moving average of true range (not Wilder's smoothed variant —
// sufficient for relative inverse-vol weighting across symbols).
func ATR(series []bars.Bar, period int) float64 {
	if len(series) < 2 {
		return 0
	}
	if period <= 0 || period > len(series)-1 {
		period = len(series) - 1
	}

	start := len(series) - period
	var sum float64
	for i := start; i < len(series); i++ {
		prevClose := series[i-1].Close
		b := series[i]
		tr := b.High - b.Low
		if v := absf(b.High - prevClose); v > tr {
			tr = v
		}
		if v := absf(b.Low - prevClose); v > tr {
			tr = v
		}
		sum += tr
	}
	return sum / float64(period)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// InvVolWeights computes risk-parity weights across symbols from their ATR
// values: weight_i proportional to 1/atr_i, floored and capped, then
// renormalized to sum to 1. Symbols with zero ATR start from a raw weight of
// zero, so they end up with the floor before renormalization.
func InvVolWeights(atrBySymbol map[string]float64, floor, cap float64) map[string]float64 {
	inv := make(map[string]float64, len(atrBySymbol))
	var total float64
	for sym, atr := range atrBySymbol {
		if atr <= 0 {
			inv[sym] = 0
			continue
		}
		v := 1.0 / atr
		inv[sym] = v
		total += v
	}
	if total <= 0 {
		// Degenerate: every symbol gets equal weight.
		w := 1.0 / float64(len(atrBySymbol))
		out := make(map[string]float64, len(atrBySymbol))
		for sym := range atrBySymbol {
			out[sym] = w
		}
		return out
	}

	weights := make(map[string]float64, len(inv))
	var sum float64
	for sym, v := range inv {
		w := v / total
		if w < floor {
			w = floor
		}
		if w > cap {
			w = cap
		}
		weights[sym] = w
		sum += w
	}
	if sum <= 0 {
		return weights
	}
	for sym, w := range weights {
		weights[sym] = w / sum
	}
	return weights
}
