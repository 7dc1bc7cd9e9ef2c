// Package portfolio implements the central dispatcher described in
// spec.md §4.8: it owns every (symbol, strategy) sub-engine, the per-symbol
// bar aggregators, the risk/DD-lock/news gates, and the journal/broker
// mirroring pipeline. Grounded on axfl/portfolio/engine.py.
package portfolio

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"axfl/bars"
	"axfl/broker"
	"axfl/clock"
	"axfl/config"
	"axfl/feed"
	"axfl/journal"
	"axfl/logger"
	"axfl/metrics"
	"axfl/news"
	"axfl/notify"
	"axfl/reconcile"
	"axfl/risk"
	"axfl/strategy"
	"axfl/subengine"
)

// StrategyFactory builds a concrete Strategy collaborator from its
// configured name and parameter overlay. Concrete strategies are outside
// this package's scope; callers supply the factory at construction time.
type StrategyFactory func(name string, params map[string]interface{}) (strategy.Strategy, error)

type subKey struct {
	Symbol   string
	Strategy string
}

// dayState tracks one strategy's cumulative realized R and trade count for
// the current UTC calendar date.
type dayState struct {
	Date         string
	CumR         float64
	TradesOpened int
}

// Engine is the portfolio-wide dispatcher.
type Engine struct {
	Schedule config.Schedule
	Clock    clock.Clock
	Journal  *journal.Store
	Broker   broker.Adapter // nil when running without a broker mirror
	Notifier notify.Notifier
	Feed     *feed.Client // set by RunWS; nil in replay mode

	mu sync.Mutex

	subEngines  map[subKey]*subengine.Engine
	windows     map[subKey][]clock.Window
	aggregators map[string]*bars.CascadeAggregator
	weights     map[string]float64
	realizedVol map[string]float64
	budgets     risk.Budgets

	halted             bool
	haltedDate         string
	ddLockActive       bool
	ddLockSince        time.Time
	ddLockCooloffUntil time.Time

	equityUSD    float64
	peakEquity   float64
	currentDDPct float64

	dayStates map[string]*dayState // keyed by strategy name
	axflIDs   map[subKey]string    // open position's journal id, set at open and cleared at close

	newsEvents  []news.Event
	newsWindows []news.Window

	newsBlockedCount  int
	budgetBlockedCount int
	riskBlockedCount   int
	unmappedTrades     int

	lastSymbolBarTime map[string]time.Time
	firstBarTime      time.Time
	lastBarTime       time.Time

	reconcileSummary reconcile.Summary

	shuttingDown bool
}

// New constructs a portfolio engine with the given schedule and
// collaborators. Strategies are resolved later, by the factory passed to
// Warmup.
func New(sched config.Schedule, clk clock.Clock, store *journal.Store, brk broker.Adapter, notifier notify.Notifier) *Engine {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Engine{
		Schedule:          sched,
		Clock:             clk,
		Journal:           store,
		Broker:            brk,
		Notifier:          notifier,
		subEngines:        make(map[subKey]*subengine.Engine),
		windows:           make(map[subKey][]clock.Window),
		aggregators:       make(map[string]*bars.CascadeAggregator),
		weights:           make(map[string]float64),
		realizedVol:       make(map[string]float64),
		dayStates:         make(map[string]*dayState),
		axflIDs:           make(map[subKey]string),
		lastSymbolBarTime: make(map[string]time.Time),
		equityUSD:         sched.EquityUSD,
		peakEquity:        sched.EquityUSD,
	}
}

// Warmup seeds every configured (symbol, strategy) sub-engine with 5-minute
// bars aggregated from warmup1m — 1-minute history per symbol — and
// computes the initial inverse-volatility weights and risk budgets. It
// fails if no symbol yields any warm-up bars at all.
func (e *Engine) Warmup(warmup1m map[string][]bars.Bar, factory StrategyFactory) error {
	if len(e.Schedule.Symbols) == 0 || len(e.Schedule.Strategies) == 0 {
		return fmt.Errorf("portfolio: warmup requires at least one symbol and one strategy")
	}

	warmup5m := make(map[string][]bars.Bar, len(e.Schedule.Symbols))
	atrBySymbol := make(map[string]float64, len(e.Schedule.Symbols))
	anyData := false

	for _, sym := range e.Schedule.Symbols {
		agg := bars.NewCascadeAggregator()
		e.aggregators[sym] = agg

		var out []bars.Bar
		for _, b := range warmup1m[sym] {
			bid, ask := b.Close, b.Close
			completed := agg.PushTick(b.Time, &bid, &ask, nil)
			out = append(out, completed...)
		}
		warmup5m[sym] = out
		if len(out) > 0 {
			anyData = true
			atrBySymbol[sym] = risk.ATR(out, 14)
		}
	}

	if !anyData {
		return fmt.Errorf("portfolio: warmup failed — no data for any symbol")
	}

	for sym, atr := range atrBySymbol {
		e.realizedVol[sym] = atr
	}
	e.weights = risk.InvVolWeights(atrBySymbol, e.Schedule.RiskParity.Floor, e.Schedule.RiskParity.Cap)
	if !e.Schedule.RiskParity.Enabled || len(e.weights) == 0 {
		e.weights = equalWeights(e.Schedule.Symbols)
	}
	for sym, w := range e.weights {
		metrics.SetSymbolWeight(sym, w, e.realizedVol[sym])
	}

	e.budgets = risk.ComputeBudgets(e.Schedule.EquityUSD, e.Schedule.DailyRiskFraction, e.Schedule.PerTradeFraction, len(e.Schedule.Strategies))

	for _, sc := range e.Schedule.Strategies {
		windows := make([]clock.Window, 0, len(sc.Windows))
		for _, w := range sc.Windows {
			windows = append(windows, clock.ParseWindow(w.Start, w.End))
		}
		for _, sym := range e.Schedule.Symbols {
			strat, err := factory(sc.Name, sc.Params)
			if err != nil {
				return fmt.Errorf("portfolio: build strategy %s: %w", sc.Name, err)
			}
			key := subKey{Symbol: sym, Strategy: sc.Name}
			e.subEngines[key] = subengine.New(sym, sc.Name, strat, windows, warmup5m[sym])
			e.windows[key] = windows
		}
		e.dayStates[sc.Name] = &dayState{}
	}

	return nil
}

func equalWeights(symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return out
	}
	w := 1.0 / float64(len(symbols))
	for _, s := range symbols {
		out[s] = w
	}
	return out
}

// ProcessSymbolBar runs the full gate-and-dispatch pipeline for one
// completed bar on one symbol, per spec.md §4.8.3-4.8.5.
func (e *Engine) ProcessSymbolBar(symbol string, bar bars.Bar) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.firstBarTime.IsZero() {
		e.firstBarTime = bar.Time
	}
	e.lastBarTime = bar.Time
	e.lastSymbolBarTime[symbol] = bar.Time

	e.rolloverDayIfNeeded(bar.Time)

	e.evaluateDDLock(bar.Time)

	if clock.IsWeekend(bar.Time) {
		return
	}

	e.refreshNewsWindows(bar.Time)

	openCount := e.openPositionCountForSymbol(symbol)

	for _, sc := range e.Schedule.Strategies {
		key := subKey{Symbol: symbol, Strategy: sc.Name}
		sub, ok := e.subEngines[key]
		if !ok {
			continue
		}

		allowEntry := false
		if sub.IsFlat() {
			allowEntry = e.entryAllowed(symbol, sc.Name, bar.Time, e.windows[key], openCount)
		}

		sizing := subengine.SizeParams{
			EquityUSD:    e.Schedule.EquityUSD,
			RiskFraction: e.Schedule.PerTradeFraction * e.weights[symbol],
			SpreadPips:   e.Schedule.SpreadFor(symbol),
		}

		ev := sub.ProcessBar(bar, allowEntry, sizing)

		if ev.Closed != nil {
			openCount--
			e.onTradeClosed(key, sc.Name, ev.Closed)
		}
		if ev.Opened != nil {
			openCount++
			e.onTradeOpened(key, sc.Name, bar.Time, ev.Opened)
		}
	}

	metrics.SetOpenPositions(symbol, e.openPositionCountForSymbol(symbol))
}

func (e *Engine) rolloverDayIfNeeded(now time.Time) {
	today := now.UTC().Format("2006-01-02")
	for _, ds := range e.dayStates {
		if ds.Date != today {
			ds.Date = today
			ds.CumR = 0
			ds.TradesOpened = 0
		}
	}
	if e.haltedDate != today {
		e.halted = false
		e.haltedDate = today
	}
}

func (e *Engine) evaluateDDLock(now time.Time) {
	if !e.Schedule.DDLock.Enabled || !e.ddLockActive {
		return
	}
	if now.Before(e.ddLockCooloffUntil) {
		return
	}
	if e.currentDDPct < e.Schedule.DDLock.TrailingPct {
		e.ddLockActive = false
		e.halted = false
		logger.Infof("portfolio: DD lock cleared, dd_pct=%.2f below threshold %.2f", e.currentDDPct, e.Schedule.DDLock.TrailingPct)
	} else {
		e.ddLockCooloffUntil = now.Add(time.Duration(e.Schedule.DDLock.CooloffMin) * time.Minute)
		logger.Warnf("portfolio: DD lock extended, dd_pct=%.2f still above threshold", e.currentDDPct)
	}
}

func (e *Engine) refreshNewsWindows(now time.Time) {
	if !e.Schedule.NewsGuard.Enabled {
		return
	}
	e.newsWindows = news.UpcomingWindows(
		e.newsEvents, now,
		time.Duration(e.Schedule.NewsGuard.PadBeforeM)*time.Minute,
		time.Duration(e.Schedule.NewsGuard.PadAfterM)*time.Minute,
		4*time.Hour,
	)
}

func (e *Engine) openPositionCountForSymbol(symbol string) int {
	n := 0
	for key, sub := range e.subEngines {
		if key.Symbol == symbol && !sub.IsFlat() {
			n++
		}
	}
	return n
}

// entryAllowed evaluates the fixed-order gate conjunction of §4.8.3 step 6b.
// Each failing gate except the session-window check increments its counter
// (being outside every window counts nowhere); the function returns on the
// first failure.
func (e *Engine) entryAllowed(symbol, strategyName string, now time.Time, windows []clock.Window, openCount int) bool {
	if !clock.InAnyWindow(now, windows) {
		return false
	}
	if e.halted || e.ddLockActive {
		e.riskBlockedCount++
		return false
	}
	if e.Schedule.NewsGuard.Enabled && news.IsInEventWindow(symbol, now, e.newsWindows) {
		e.newsBlockedCount++
		metrics.RecordNewsBlock(symbol)
		return false
	}
	ds := e.dayStates[strategyName]
	if ds != nil {
		if e.Schedule.Risk.PerStrategyDailyStopR != 0 && ds.CumR <= e.Schedule.Risk.PerStrategyDailyStopR {
			e.budgetBlockedCount++
			return false
		}
		if e.Schedule.Risk.PerStrategyDailyTrades > 0 && ds.TradesOpened >= e.Schedule.Risk.PerStrategyDailyTrades {
			e.budgetBlockedCount++
			return false
		}
	}
	if openCount >= e.Schedule.Risk.MaxOpenPositions {
		e.riskBlockedCount++
		return false
	}
	return true
}

// onTradeOpened performs the mirroring/journaling sequence of §4.8.4.
func (e *Engine) onTradeOpened(key subKey, strategyName string, barTime time.Time, pos *subengine.Position) {
	ds := e.dayStates[strategyName]
	if ds != nil {
		ds.TradesOpened++
	}

	axflID := generateID(pos.Symbol, strategyName, barTime)
	clientTag := generateID(pos.Symbol, strategyName, barTime)
	e.axflIDs[key] = axflID

	if e.Journal != nil {
		trade := journal.AxflTrade{
			AxflID:    axflID,
			ClientTag: clientTag,
			Strategy:  strategyName,
			Symbol:    pos.Symbol,
			Side:      string(pos.Side),
			Entry:     pos.Entry,
			SL:        pos.SL,
			TP:        pos.TP,
			Units:     pos.Size,
			OpenedAt:  barTime,
			Status:    "open",
		}
		if err := e.Journal.UpsertAxflTrade(trade); err != nil {
			logger.Errorf("portfolio: fatal journal write failure opening %s: %v", axflID, err)
		}
	}

	if e.Broker != nil {
		res := e.Broker.PlaceMarket(pos.Symbol, string(pos.Side), pos.Size, pos.SL, pos.TP, clientTag)
		if res.Success {
			if e.Journal != nil {
				_ = e.Journal.UpsertBrokerOrder(journal.BrokerOrder{
					ClientTag: clientTag,
					OrderID:   res.OrderID,
					Symbol:    pos.Symbol,
					Side:      string(pos.Side),
					Units:     pos.Size,
					Status:    "filled",
					CreatedAt: barTime,
				})
				_ = e.Journal.Link(axflID, clientTag, res.OrderID, barTime)
			}
		} else {
			e.unmappedTrades++
			logger.Warnf("portfolio: broker mirror failed for %s: %s", axflID, res.Error)
			if e.Journal != nil {
				_ = e.Journal.LogEvent("broker_mirror_failed", fmt.Sprintf("axfl_id=%s err=%s", axflID, res.Error), barTime)
			}
		}
	}

	e.Notifier.Send("position_opened", map[string]interface{}{
		"axfl_id": axflID, "symbol": pos.Symbol, "strategy": strategyName, "side": string(pos.Side), "size": pos.Size,
	})
}

// onTradeClosed journals the close, mirrors it to the broker, and updates
// global risk state per §4.8.5.
func (e *Engine) onTradeClosed(key subKey, strategyName string, trade *subengine.Trade) {
	ds := e.dayStates[strategyName]
	if ds != nil {
		ds.CumR += trade.RMultiple
	}

	metrics.RecordTrade(trade.Symbol, strategyName, trade.ExitReason, trade.PnL)

	axflID := e.axflIDs[key]
	delete(e.axflIDs, key)

	if e.Journal != nil && axflID != "" {
		closedAt := trade.ClosedAt
		upd := journal.AxflTrade{
			AxflID:     axflID,
			Strategy:   strategyName,
			Symbol:     trade.Symbol,
			Side:       string(trade.Side),
			Entry:      trade.Entry,
			SL:         trade.SL,
			TP:         trade.TP,
			Units:      trade.Size,
			OpenedAt:   trade.OpenedAt,
			ClosedAt:   sql.NullTime{Time: closedAt, Valid: true},
			ExitPrice:  sql.NullFloat64{Float64: trade.ExitPrice, Valid: true},
			RealizedR:  sql.NullFloat64{Float64: trade.RMultiple, Valid: true},
			ExitReason: trade.ExitReason,
			Status:     "closed",
		}
		if err := e.Journal.UpsertAxflTrade(upd); err != nil {
			logger.Errorf("portfolio: fatal journal write failure closing %s: %v", axflID, err)
		}
	}

	if e.Broker != nil {
		res := e.Broker.CloseAll(trade.Symbol)
		if !res.Success {
			logger.Warnf("portfolio: broker close_all failed for %s: %s", trade.Symbol, res.Error)
		}
	}

	e.Notifier.Send("position_closed", map[string]interface{}{
		"symbol": trade.Symbol, "strategy": strategyName, "reason": trade.ExitReason,
		"pnl": trade.PnL, "r_multiple": trade.RMultiple,
	})

	e.updateGlobalRisk(trade.PnL)
}

func (e *Engine) updateGlobalRisk(pnl float64) {
	var sumR float64
	for _, ds := range e.dayStates {
		sumR += ds.CumR
	}
	if e.Schedule.Risk.GlobalDailyStopR != 0 && sumR <= e.Schedule.Risk.GlobalDailyStopR && !e.halted {
		e.halted = true
		logger.Warnf("portfolio: global daily R stop triggered, sumR=%.2f", sumR)
		e.Notifier.Send("global_risk_halt", map[string]interface{}{"sum_r": sumR})
	}

	e.equityUSD += pnl
	if e.equityUSD > e.peakEquity {
		e.peakEquity = e.equityUSD
	}
	if e.peakEquity > 0 {
		e.currentDDPct = (e.peakEquity - e.equityUSD) / e.peakEquity * 100.0
	}

	if e.Schedule.DDLock.Enabled && !e.ddLockActive && e.currentDDPct >= e.Schedule.DDLock.TrailingPct {
		e.ddLockActive = true
		e.ddLockSince = time.Now().UTC()
		e.ddLockCooloffUntil = e.ddLockSince.Add(time.Duration(e.Schedule.DDLock.CooloffMin) * time.Minute)
		e.halted = true
		logger.Warnf("portfolio: DD lock engaged at dd_pct=%.2f", e.currentDDPct)
		e.Notifier.Send("dd_lock_engaged", map[string]interface{}{"dd_pct": e.currentDDPct})
	}

	metrics.UpdatePortfolioMetrics(e.equityUSD, e.peakEquity, e.currentDDPct, e.halted, e.ddLockActive)
}

func generateID(symbol, strategyName string, barTime time.Time) string {
	suffix := uuid.New().String()[:8]
	return fmt.Sprintf("%s-%s-%d-%s", symbol, strategyName, barTime.UTC().Unix(), suffix)
}

// SetNewsEvents installs the loaded calendar events (see news.LoadEventsCSV).
func (e *Engine) SetNewsEvents(events []news.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.newsEvents = events
}

// Reconcile runs the startup broker-vs-journal reconciliation and stores
// its summary for the status emitter.
func (e *Engine) Reconcile(flattenOnConflict bool) reconcile.Summary {
	if e.Broker == nil || e.Journal == nil {
		return reconcile.Summary{}
	}
	eng := reconcile.NewEngine(e.Broker, e.Journal, flattenOnConflict)
	sum := eng.Reconcile()

	e.mu.Lock()
	e.reconcileSummary = sum
	e.mu.Unlock()

	for range sum.Flattened {
		metrics.ReconcileFlattenedTotal.Inc()
	}
	for range sum.Linked {
		metrics.ReconcileLinkedTotal.Inc()
	}
	return sum
}

// RequestShutdown flips the checked shutdown flag the dispatch loops poll
// between bars.
func (e *Engine) RequestShutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shuttingDown = true
}

func (e *Engine) isShuttingDown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shuttingDown
}

// SymbolSpread exposes the resolved per-symbol spread for external callers
// (e.g. the status emitter).
func (e *Engine) SymbolSpread(symbol string) float64 { return e.Schedule.SpreadFor(symbol) }
