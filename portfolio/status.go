package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"axfl/logger"
	"axfl/subengine"
)

const (
	statusBeginSentinel = "###BEGIN-AXFL-LIVE-PORT###"
	statusEndSentinel   = "###END-AXFL-LIVE-PORT###"
)

// SubEngineStatus summarizes one sub-engine for the status record.
type SubEngineStatus struct {
	Symbol   string  `json:"symbol"`
	Strategy string  `json:"strategy"`
	Flat     bool    `json:"flat"`
	Side     string  `json:"side,omitempty"`
	Entry    float64 `json:"entry,omitempty"`
	SL       float64 `json:"sl,omitempty"`
	TP       float64 `json:"tp,omitempty"`
	Size     int     `json:"size,omitempty"`
}

// BudgetSnapshot reports the portfolio-level risk budget in force, per
// spec.md §4.8.7.
type BudgetSnapshot struct {
	EquityUSD           float64 `json:"equity_usd"`
	DailyRiskFraction   float64 `json:"daily_risk_fraction"`
	PerStrategyFraction float64 `json:"per_strategy_fraction"`
	PerTradeFraction    float64 `json:"per_trade_fraction"`
}

// CostConfig reports the execution cost model applied to fills, per
// spec.md §4.3.
type CostConfig struct {
	ATRPeriod          int                `json:"atr_period"`
	SlippageFloorPips  float64            `json:"slippage_floor_pips"`
	SpreadsPips        map[string]float64 `json:"spreads_pips"`
}

// JournalCounters reports row counts across the journal's tables, per
// spec.md §4.8.7.
type JournalCounters struct {
	BrokerOrders int `json:"broker_orders"`
	AxflTrades   int `json:"axfl_trades"`
	OpenTrades   int `json:"open_trades"`
	Mappings     int `json:"mappings"`
	Events       int `json:"events"`
}

// StatusRecord is the full status emitted at the configured cadence and at
// shutdown, per spec.md §4.8.7.
type StatusRecord struct {
	Mode          string    `json:"mode"`
	Source        string    `json:"source"`
	Interval      string    `json:"interval"`
	FirstBarTime  time.Time `json:"first_bar_time"`
	LastBarTime   time.Time `json:"last_bar_time"`
	GeneratedAt   time.Time `json:"generated_at"`

	SubEngines []SubEngineStatus `json:"sub_engines"`

	OpenPositions int `json:"open_positions"`

	TotalPnLUSD   float64            `json:"total_pnl_usd"`
	TotalCumR     float64            `json:"total_cum_r"`
	CumRByStrategy map[string]float64 `json:"cum_r_by_strategy"`

	Halted             bool      `json:"halted"`
	DDLockActive       bool      `json:"dd_lock_active"`
	DDLockSince        time.Time `json:"dd_lock_since,omitempty"`
	DDLockCooloffUntil time.Time `json:"dd_lock_cooloff_until,omitempty"`
	EquityUSD          float64   `json:"equity_usd"`
	PeakEquityUSD      float64   `json:"peak_equity_usd"`
	CurrentDDPct       float64   `json:"current_dd_pct"`

	Weights     map[string]float64 `json:"weights"`
	RealizedVol map[string]float64 `json:"realized_vol"`

	NewsBlockedEntries  int `json:"news_blocked_entries"`
	BudgetBlockedEntries int `json:"budget_blocked_entries"`
	RiskBlockedEntries   int `json:"risk_blocked_entries"`

	UnmappedTrades     int      `json:"unmapped_trades"`
	ReconcileFlattened []string `json:"reconcile_flattened,omitempty"`
	ReconcileLinked    []string `json:"reconcile_linked,omitempty"`
	ReconcileErrors    []string `json:"reconcile_errors,omitempty"`

	SpreadsPips map[string]float64 `json:"spreads_pips"`

	Budget BudgetSnapshot `json:"budget"`
	Cost   CostConfig     `json:"cost"`

	Journal JournalCounters `json:"journal"`

	BrokerStats interface{} `json:"broker_stats,omitempty"`
	FeedStats   interface{} `json:"feed_stats,omitempty"`

	// RecentEvents is a diagnostic supplement beyond the base spec: the
	// last few journal events, useful for quickly spotting what the
	// engine has been doing without a separate query.
	RecentEvents []string `json:"recent_events,omitempty"`
}

// BuildStatus assembles the current status record. mode is "replay" or
// "ws".
func (e *Engine) BuildStatus(mode string) StatusRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := StatusRecord{
		Mode:           mode,
		Source:         e.Schedule.Source,
		Interval:       e.Schedule.Interval,
		FirstBarTime:   e.firstBarTime,
		LastBarTime:    e.lastBarTime,
		GeneratedAt:    time.Now().UTC(),
		CumRByStrategy: make(map[string]float64, len(e.dayStates)),
		Halted:         e.halted,
		DDLockActive:   e.ddLockActive,
		EquityUSD:      e.equityUSD,
		PeakEquityUSD:  e.peakEquity,
		CurrentDDPct:   e.currentDDPct,
		Weights:        copyFloatMap(e.weights),
		RealizedVol:    copyFloatMap(e.realizedVol),
		NewsBlockedEntries:   e.newsBlockedCount,
		BudgetBlockedEntries: e.budgetBlockedCount,
		RiskBlockedEntries:   e.riskBlockedCount,
		UnmappedTrades:       e.unmappedTrades,
		ReconcileFlattened:   e.reconcileSummary.Flattened,
		ReconcileLinked:      e.reconcileSummary.Linked,
		ReconcileErrors:      e.reconcileSummary.Errors,
		SpreadsPips:          make(map[string]float64, len(e.Schedule.Symbols)),
		Budget: BudgetSnapshot{
			EquityUSD:           e.budgets.EquityUSD,
			DailyRiskFraction:   e.budgets.DailyRiskFraction,
			PerStrategyFraction: e.budgets.PerStrategyFraction,
			PerTradeFraction:    e.budgets.PerTradeFraction,
		},
		Cost: CostConfig{
			ATRPeriod:         subengine.CostATRPeriod,
			SlippageFloorPips: 1.0,
			SpreadsPips:       make(map[string]float64, len(e.Schedule.Symbols)),
		},
	}

	if e.ddLockActive {
		rec.DDLockSince = e.ddLockSince
		rec.DDLockCooloffUntil = e.ddLockCooloffUntil
	}

	for name, ds := range e.dayStates {
		rec.CumRByStrategy[name] = ds.CumR
		rec.TotalCumR += ds.CumR
	}

	for _, sym := range e.Schedule.Symbols {
		rec.SpreadsPips[sym] = e.Schedule.SpreadFor(sym)
		rec.Cost.SpreadsPips[sym] = e.Schedule.SpreadFor(sym)
	}

	for key, sub := range e.subEngines {
		s := SubEngineStatus{Symbol: key.Symbol, Strategy: key.Strategy, Flat: sub.IsFlat()}
		if pos := sub.Position(); pos != nil {
			s.Side = string(pos.Side)
			s.Entry = pos.Entry
			s.SL = pos.SL
			s.TP = pos.TP
			s.Size = pos.Size
			rec.OpenPositions++
		}
		rec.SubEngines = append(rec.SubEngines, s)
	}

	if e.Broker != nil {
		rec.BrokerStats = e.Broker.GetStats()
	}

	if e.Feed != nil {
		rec.FeedStats = e.Feed.GetStats()
	}

	if e.Journal != nil {
		if counts, err := e.Journal.TableCounts(); err == nil {
			rec.Journal = JournalCounters{
				BrokerOrders: counts.BrokerOrders,
				AxflTrades:   counts.AxflTrades,
				OpenTrades:   counts.OpenTrades,
				Mappings:     counts.Mappings,
				Events:       counts.Events,
			}
		}
		if events, err := e.Journal.LastNEvents(10); err == nil {
			for _, ev := range events {
				rec.RecentEvents = append(rec.RecentEvents, fmt.Sprintf("%s: %s", ev.Kind, ev.Payload))
			}
		}
	}

	return rec
}

func copyFloatMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EmitStatus builds, logs (sentinel-delimited), and appends the status
// record to the daily log file at logDir/axfl-status-YYYY-MM-DD.log.
func (e *Engine) EmitStatus(mode, logDir string) {
	rec := e.BuildStatus(mode)

	raw, err := json.Marshal(rec)
	if err != nil {
		logger.Errorf("portfolio: marshal status record: %v", err)
		return
	}

	logger.Infof("%s", statusBeginSentinel)
	logger.Infof("%s", string(raw))
	logger.Infof("%s", statusEndSentinel)

	if logDir == "" {
		return
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		logger.Errorf("portfolio: create log dir %s: %v", logDir, err)
		return
	}
	fname := filepath.Join(logDir, fmt.Sprintf("axfl-status-%s.log", rec.GeneratedAt.Format("2006-01-02")))
	f, err := os.OpenFile(fname, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Errorf("portfolio: open status log %s: %v", fname, err)
		return
	}
	defer f.Close()

	line := statusBeginSentinel + "\n" + string(raw) + "\n" + statusEndSentinel + "\n"
	if _, err := f.WriteString(line); err != nil {
		logger.Errorf("portfolio: write status log %s: %v", fname, err)
	}
}

// StartStatusLoop runs EmitStatus on a ticker at the schedule's configured
// cadence until the engine is told to shut down.
func (e *Engine) StartStatusLoop(mode, logDir string, every time.Duration) {
	if every <= 0 {
		every = time.Duration(e.Schedule.StatusEveryS) * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for range ticker.C {
		if e.isShuttingDown() {
			e.EmitStatus(mode, logDir)
			return
		}
		e.EmitStatus(mode, logDir)
	}
}
