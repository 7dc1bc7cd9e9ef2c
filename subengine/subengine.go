// Package subengine implements the per-(symbol, strategy) sub-engine
// described in spec.md §4.7: it owns one strategy collaborator, a rolling
// bar window seeded from warm-up, and at most one open position, and
// exposes a single ProcessBar entrypoint.
package subengine

import (
	"time"

	"axfl/bars"
	"axfl/clock"
	"axfl/risk"
	"axfl/strategy"
	"axfl/symbols"
)

// Position is an open paper position.
type Position struct {
	Strategy  string
	Symbol    string
	Side      strategy.Side
	Entry     float64
	SL        float64
	TP        float64
	InitialSL float64
	Size      int
	OpenedAt  time.Time
	Notes     string
}

// Trade is a closed position with its realized outcome.
type Trade struct {
	Position
	ExitPrice  float64
	ExitReason string // SL, TP, TIME
	ClosedAt   time.Time
	PnL        float64
	RMultiple  float64
}

// SizeParams carries the portfolio-resolved sizing inputs for a new entry:
// the risk fraction has already been scaled by the symbol's inverse-vol
// weight by the caller, per spec.md §4.8.4.
type SizeParams struct {
	EquityUSD    float64
	RiskFraction float64
	SpreadPips   float64
	MaxUnits     int
}

// BarEvent reports what ProcessBar did on one bar. Closed and Opened can
// both be non-nil: a close is always resolved first, and when allowEntry is
// true the now-flat sub-engine may open a new position on the same bar.
type BarEvent struct {
	Closed *Trade
	Opened *Position
}

// Engine is one (symbol, strategy) sub-engine.
type Engine struct {
	Symbol       string
	StrategyName string
	Strategy     strategy.Strategy
	Windows      []clock.Window

	history  []bars.Bar
	position *Position
}

// New builds a sub-engine seeded with a copy of the symbol's warm-up bars.
func New(symbol, strategyName string, strat strategy.Strategy, windows []clock.Window, warmup []bars.Bar) *Engine {
	hist := make([]bars.Bar, len(warmup))
	copy(hist, warmup)
	strat.Prepare(hist)
	return &Engine{
		Symbol:       symbol,
		StrategyName: strategyName,
		Strategy:     strat,
		Windows:      windows,
		history:      hist,
	}
}

// IsFlat reports whether this sub-engine currently holds no position.
func (e *Engine) IsFlat() bool { return e.position == nil }

// Position returns the currently open position, or nil.
func (e *Engine) Position() *Position { return e.position }

// CostATRPeriod is the bar window the sub-engine uses for its slippage ATR,
// surfaced for the status record's cost-configuration block.
const CostATRPeriod = 14

// sizeCost is the per-side execution cost described in spec.md §4.3: half
// the quoted spread plus a slippage floor of one pip (or ATR/1000 if
// larger, which only matters when volatility is genuinely elevated).
func sizeCost(pip, spreadPips, atr float64) float64 {
	spread := (spreadPips / 2.0) * pip
	slippage := atr / 1000.0
	if slippage < pip {
		slippage = pip
	}
	return spread + slippage
}

// ProcessBar appends bar to the rolling window, resolves SL/TP/TIME exits
// against it regardless of gates, and — only when allowEntry is true and
// the sub-engine is flat — asks the strategy for a new entry.
func (e *Engine) ProcessBar(bar bars.Bar, allowEntry bool, sizing SizeParams) BarEvent {
	e.history = append(e.history, bar)
	if e.Strategy.Stateless() {
		e.Strategy.Prepare(e.history)
	}

	var ev BarEvent

	if e.position != nil {
		if trade := e.checkExit(bar, sizing.SpreadPips); trade != nil {
			ev.Closed = trade
		}
	}

	if e.position == nil && allowEntry {
		signals := e.Strategy.GenerateSignals(e.history)
		for _, sig := range signals {
			pos := e.openPosition(bar, sig, sizing)
			if pos != nil {
				ev.Opened = pos
				break // first intent in emission order wins; rest ignored
			}
		}
	}

	return ev
}

// checkExit resolves SL/TP touch first, then the TIME stop, against bar.
// Returns the closed trade, or nil if the position survives the bar.
func (e *Engine) checkExit(bar bars.Bar, spreadPips float64) *Trade {
	pos := e.position
	pip := symbols.PipSize(e.Symbol)
	atr := risk.ATR(e.history, CostATRPeriod)
	cost := sizeCost(pip, spreadPips, atr)

	switch pos.Side {
	case strategy.Buy:
		if bar.Low <= pos.SL {
			return e.closePosition(bar.Time, pos.SL, "SL", cost)
		}
		if bar.High >= pos.TP {
			return e.closePosition(bar.Time, pos.TP, "TP", cost)
		}
	case strategy.Sell:
		if bar.High >= pos.SL {
			return e.closePosition(bar.Time, pos.SL, "SL", cost)
		}
		if bar.Low <= pos.TP {
			return e.closePosition(bar.Time, pos.TP, "TP", cost)
		}
	}

	if !clock.InAnyWindow(bar.Time, e.Windows) {
		return e.closePosition(bar.Time, bar.Close, "TIME", cost)
	}
	return nil
}

func (e *Engine) closePosition(at time.Time, exitPrice float64, reason string, exitCost float64) *Trade {
	pos := *e.position

	adjExit := exitPrice
	switch pos.Side {
	case strategy.Buy:
		adjExit -= exitCost
	case strategy.Sell:
		adjExit += exitCost
	}

	var pnl float64
	switch pos.Side {
	case strategy.Buy:
		pnl = (adjExit - pos.Entry) * float64(pos.Size)
	case strategy.Sell:
		pnl = (pos.Entry - adjExit) * float64(pos.Size)
	}

	riskPerUnit := abs(pos.Entry-pos.InitialSL) * float64(pos.Size)
	var rMultiple float64
	if riskPerUnit > 0 {
		rMultiple = pnl / riskPerUnit
	}

	trade := &Trade{
		Position:   pos,
		ExitPrice:  adjExit,
		ExitReason: reason,
		ClosedAt:   at,
		PnL:        pnl,
		RMultiple:  rMultiple,
	}
	e.position = nil
	return trade
}

func (e *Engine) openPosition(bar bars.Bar, sig strategy.Signal, sizing SizeParams) *Position {
	pip := symbols.PipSize(e.Symbol)
	atr := risk.ATR(e.history, CostATRPeriod)
	cost := sizeCost(pip, sizing.SpreadPips, atr)

	// Sizing is computed on the signal's own entry/sl (spec.md scenario A:
	// entry=1.10000 before costs), while the position's recorded entry
	// absorbs the execution cost.
	rawEntry := bar.Close
	entry := rawEntry
	switch sig.Side {
	case strategy.Buy:
		entry += cost
	case strategy.Sell:
		entry -= cost
	}

	size := risk.UnitsFromRisk(e.Symbol, rawEntry, sig.SL, sizing.EquityUSD, sizing.RiskFraction)
	if sizing.MaxUnits > 0 && size > sizing.MaxUnits {
		size = sizing.MaxUnits
	}
	if size <= 0 {
		return nil
	}

	pos := &Position{
		Strategy:  e.StrategyName,
		Symbol:    e.Symbol,
		Side:      sig.Side,
		Entry:     entry,
		SL:        sig.SL,
		TP:        sig.TP,
		InitialSL: sig.SL,
		Size:      size,
		OpenedAt:  bar.Time,
		Notes:     e.Strategy.Name(),
	}
	e.position = pos
	return pos
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
