// Package config defines the versioned schedule value that drives the
// portfolio engine. Loading it from YAML and the CLI surface that feeds it
// are out of scope; this package only owns the typed destination struct and
// its defaulting rules.
package config

import "encoding/json"

// Window is a half-open UTC minute range during which a strategy may open
// positions: [Start, End).
type Window struct {
	Start string `json:"start"` // "HH:MM"
	End   string `json:"end"`   // "HH:MM"
}

// StrategyConfig names one (opaque) strategy collaborator, its parameter
// overlay, and the session windows it is permitted to trade in.
type StrategyConfig struct {
	Name    string                 `json:"name"`
	Params  map[string]interface{} `json:"params"`
	Windows []Window               `json:"windows"`
}

// RiskConfig is the portfolio-level risk block of a schedule profile.
type RiskConfig struct {
	GlobalDailyStopR       float64 `json:"global_daily_stop_r"`
	MaxOpenPositions       int     `json:"max_open_positions"`
	PerStrategyDailyTrades int     `json:"per_strategy_daily_trades"`
	PerStrategyDailyStopR  float64 `json:"per_strategy_daily_stop_r"`
}

// RiskParityConfig enables inverse-volatility weighting across symbols.
type RiskParityConfig struct {
	Enabled   bool `json:"enabled"`
	LookbackD int  `json:"lookback_d"`
	// Floor and Cap bound each symbol's weight before renormalization.
	Floor float64 `json:"floor"`
	Cap   float64 `json:"cap"`
}

// DDLockConfig configures the trailing-drawdown halt.
type DDLockConfig struct {
	Enabled      bool    `json:"enabled"`
	TrailingPct  float64 `json:"trailing_pct"`
	CooloffMin   int     `json:"cooloff_min"`
}

// NewsGuardConfig configures the blackout-window gate.
type NewsGuardConfig struct {
	Enabled     bool   `json:"enabled"`
	CSVPath     string `json:"csv_path"`
	PadBeforeM  int    `json:"pad_before_m"`
	PadAfterM   int    `json:"pad_after_m"`
}

// Schedule is one named profile: the whole runtime configuration of a
// portfolio engine instance.
type Schedule struct {
	Symbols      []string           `json:"symbols"`
	Interval     string             `json:"interval"` // e.g. "5m"
	Source       string             `json:"source"`   // auto|finnhub|twelvedata
	Venue        string             `json:"venue"`
	WarmupDays   int                `json:"warmup_days"`
	StatusEveryS int                `json:"status_every_s"`

	Risk       RiskConfig         `json:"risk"`
	Strategies []StrategyConfig   `json:"strategies"`

	// Spreads: per-symbol map wins when present, else SpreadPips (open
	// question #1 in spec.md §9, resolved explicitly in favor of the map).
	Spreads    map[string]float64 `json:"spreads,omitempty"`
	SpreadPips float64            `json:"spread_pips"`

	RiskParity RiskParityConfig  `json:"risk_parity"`
	DDLock     DDLockConfig      `json:"dd_lock"`
	NewsGuard  NewsGuardConfig   `json:"news_guard"`

	EquityUSD            float64 `json:"equity_usd"`
	DailyRiskFraction     float64 `json:"daily_risk_fraction"`
	PerTradeFraction      float64 `json:"per_trade_fraction"`
}

// SpreadFor resolves the per-symbol spread using the explicit precedence
// rule: per-symbol map wins when present, else the flat default.
func (s Schedule) SpreadFor(symbol string) float64 {
	if s.Spreads != nil {
		if v, ok := s.Spreads[symbol]; ok {
			return v
		}
	}
	return s.SpreadPips
}

// Default returns a schedule with the engine's baseline defaults; callers
// overlay their own document's fields on top (the Load function does this
// via a straightforward JSON unmarshal onto the default value).
func Default() Schedule {
	return Schedule{
		Interval:          "5m",
		Source:            "auto",
		Venue:             "practice",
		WarmupDays:        20,
		StatusEveryS:      180,
		SpreadPips:        0.6,
		EquityUSD:         100000.0,
		DailyRiskFraction: 0.02,
		PerTradeFraction:  0.005,
		Risk: RiskConfig{
			GlobalDailyStopR:       -5.0,
			MaxOpenPositions:       1,
			PerStrategyDailyTrades: 3,
			PerStrategyDailyStopR:  -2.0,
		},
		RiskParity: RiskParityConfig{LookbackD: 20, Floor: 0.15, Cap: 0.60},
		DDLock:     DDLockConfig{TrailingPct: 5.0, CooloffMin: 120},
		NewsGuard:  NewsGuardConfig{PadBeforeM: 30, PadAfterM: 30},
	}
}

// Load overlays a JSON document onto Default(), returning the resolved
// schedule. Strict decoding is not used: unknown keys are ignored and are
// not kept anywhere.
func Load(raw []byte) (Schedule, error) {
	sched := Default()
	if err := json.Unmarshal(raw, &sched); err != nil {
		return Schedule{}, err
	}
	return sched, nil
}
