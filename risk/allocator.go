package risk

// Budgets is the portfolio-level risk budget: how much of the account's
// equity may be committed per day, per strategy, and per trade.
type Budgets struct {
	EquityUSD            float64
	DailyRiskFraction     float64
	PerStrategyFraction   float64
	PerTradeFraction      float64
	VolatilityTargetAnnual float64
}

// DefaultBudgets mirrors the original allocator's dataclass defaults.
func DefaultBudgets(equityUSD float64) Budgets {
	return Budgets{
		EquityUSD:              equityUSD,
		DailyRiskFraction:      0.02,
		PerStrategyFraction:    0.34,
		PerTradeFraction:       0.005,
		VolatilityTargetAnnual: 0.10,
	}
}

// ComputeBudgets splits the daily risk budget equally across n strategies.
func ComputeBudgets(equityUSD float64, dailyRiskFraction, perTradeFraction float64, nStrategies int) Budgets {
	b := Budgets{
		EquityUSD:              equityUSD,
		DailyRiskFraction:      dailyRiskFraction,
		PerTradeFraction:       perTradeFraction,
		VolatilityTargetAnnual: 0.10,
	}
	if nStrategies > 0 {
		b.PerStrategyFraction = 1.0 / float64(nStrategies)
	} else {
		b.PerStrategyFraction = 1.0
	}
	return b
}

// KellyCap returns the fraction of equity the Kelly criterion would commit
// to a strategy with the given win rate and average win/loss sizes, capped
// at maxFraction. Negative or degenerate inputs yield 0.
func KellyCap(winRate, avgWin, avgLoss, maxFraction float64) float64 {
	if avgLoss <= 0 || winRate <= 0 || winRate >= 1 {
		return 0
	}
	b := avgWin / avgLoss
	if b <= 0 {
		return 0
	}
	f := winRate - (1-winRate)/b
	if f < 0 {
		return 0
	}
	if f > maxFraction {
		return maxFraction
	}
	return f
}

// AdjustForVolatility scales a base position size by the ratio of a target
// annualized volatility to the currently observed one, bounded to
// [minScale, maxScale] to avoid runaway sizing on a quiet or thin market.
func AdjustForVolatility(baseSize int, currentVol, targetVol, minScale, maxScale float64) int {
	if currentVol <= 0 || targetVol <= 0 {
		return baseSize
	}
	scale := targetVol / currentVol
	if scale < minScale {
		scale = minScale
	}
	if scale > maxScale {
		scale = maxScale
	}
	adjusted := int(float64(baseSize) * scale)
	if adjusted < 1 {
		adjusted = 1
	}
	return adjusted
}
