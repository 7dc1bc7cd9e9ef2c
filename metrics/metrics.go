// Package metrics exposes the engine's Prometheus collectors: portfolio
// P&L and drawdown, per-symbol position gauges, broker/journal/news
// counters, and system uptime.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry is the custom prometheus registry for this engine instance.
	Registry = prometheus.NewRegistry()

	mu sync.RWMutex

	// ============================================
	// Portfolio performance
	// ============================================

	PortfolioEquityUSD = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "axfl",
			Subsystem: "portfolio",
			Name:      "equity_usd",
			Help:      "Current paper equity in USD",
		},
	)

	PortfolioPeakEquityUSD = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "axfl",
			Subsystem: "portfolio",
			Name:      "peak_equity_usd",
			Help:      "High-water mark of paper equity in USD",
		},
	)

	PortfolioDrawdownPct = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "axfl",
			Subsystem: "portfolio",
			Name:      "drawdown_pct",
			Help:      "Current drawdown from peak equity, percent",
		},
	)

	PortfolioHalted = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "axfl",
			Subsystem: "portfolio",
			Name:      "halted",
			Help:      "Whether the portfolio is currently halted (1) or trading (0)",
		},
	)

	PortfolioDDLockActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "axfl",
			Subsystem: "portfolio",
			Name:      "dd_lock_active",
			Help:      "Whether the trailing-drawdown lock is currently engaged",
		},
	)

	PortfolioCumRToday = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "axfl",
			Subsystem: "portfolio",
			Name:      "cum_r_today",
			Help:      "Cumulative realized R today, per strategy",
		},
		[]string{"strategy"},
	)

	// ============================================
	// Sub-engine / trade metrics
	// ============================================

	SubengineTradesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "axfl",
			Subsystem: "subengine",
			Name:      "trades_total",
			Help:      "Total closed trades per symbol, strategy, and exit reason",
		},
		[]string{"symbol", "strategy", "reason"},
	)

	SubenginePnLUSD = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "axfl",
			Subsystem: "subengine",
			Name:      "pnl_usd_total",
			Help:      "Cumulative realized profit in USD of winning trades per symbol and strategy (losses are not counted)",
		},
		[]string{"symbol", "strategy"},
	)

	SubengineOpenPositions = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "axfl",
			Subsystem: "subengine",
			Name:      "open_positions",
			Help:      "Open position count per symbol",
		},
		[]string{"symbol"},
	)

	SymbolWeight = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "axfl",
			Subsystem: "subengine",
			Name:      "symbol_weight",
			Help:      "Inverse-volatility portfolio weight assigned to a symbol",
		},
		[]string{"symbol"},
	)

	SymbolRealizedVol = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "axfl",
			Subsystem: "subengine",
			Name:      "realized_volatility",
			Help:      "Last observed ATR-based realized volatility per symbol",
		},
		[]string{"symbol"},
	)

	// ============================================
	// News gate
	// ============================================

	NewsBlockedEntriesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "axfl",
			Subsystem: "news",
			Name:      "blocked_entries_total",
			Help:      "Entries rejected by the news blackout gate, per symbol",
		},
		[]string{"symbol"},
	)

	// ============================================
	// Journal / broker / reconciliation
	// ============================================

	JournalEventsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "axfl",
			Subsystem: "journal",
			Name:      "events_total",
			Help:      "Diagnostic events logged to the journal, per kind",
		},
		[]string{"kind"},
	)

	UnmappedTradesTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "axfl",
			Subsystem: "journal",
			Name:      "unmapped_trades_total",
			Help:      "Paper trades opened without a successful broker mirror",
		},
	)

	BrokerRequestDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "axfl",
			Subsystem: "broker",
			Name:      "request_duration_seconds",
			Help:      "Broker HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"op"},
	)

	BrokerErrorsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "axfl",
			Subsystem: "broker",
			Name:      "errors_total",
			Help:      "Total broker adapter errors",
		},
	)

	ReconcileFlattenedTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "axfl",
			Subsystem: "reconcile",
			Name:      "flattened_total",
			Help:      "Orphan broker positions flattened on reconciliation",
		},
	)

	ReconcileLinkedTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "axfl",
			Subsystem: "reconcile",
			Name:      "linked_total",
			Help:      "Broker orders successfully linked to a paper trade",
		},
	)

	// ============================================
	// System
	// ============================================

	SystemUptime = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "axfl",
			Subsystem: "system",
			Name:      "uptime_seconds",
			Help:      "Engine uptime in seconds",
		},
	)

	WebsocketConnected = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "axfl",
			Subsystem: "feed",
			Name:      "websocket_connected",
			Help:      "Whether the live tick feed websocket is currently connected",
		},
	)

	WebsocketReconnectsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "axfl",
			Subsystem: "feed",
			Name:      "websocket_reconnects_total",
			Help:      "Total websocket reconnect attempts",
		},
	)
)

// UpdatePortfolioMetrics updates the top-level portfolio gauges.
func UpdatePortfolioMetrics(equityUSD, peakEquityUSD, ddPct float64, halted, ddLockActive bool) {
	mu.Lock()
	defer mu.Unlock()

	PortfolioEquityUSD.Set(equityUSD)
	PortfolioPeakEquityUSD.Set(peakEquityUSD)
	PortfolioDrawdownPct.Set(ddPct)
	PortfolioHalted.Set(boolToFloat(halted))
	PortfolioDDLockActive.Set(boolToFloat(ddLockActive))
}

// RecordTrade records one closed trade's outcome.
func RecordTrade(symbol, strategyName, reason string, pnlUSD float64) {
	SubengineTradesTotal.WithLabelValues(symbol, strategyName, reason).Inc()
	if pnlUSD > 0 {
		SubenginePnLUSD.WithLabelValues(symbol, strategyName).Add(pnlUSD)
	}
}

// SetOpenPositions sets the open-position gauge for a symbol.
func SetOpenPositions(symbol string, count int) {
	SubengineOpenPositions.WithLabelValues(symbol).Set(float64(count))
}

// SetSymbolWeight records the inverse-volatility weight assigned to a symbol.
func SetSymbolWeight(symbol string, weight, realizedVol float64) {
	SymbolWeight.WithLabelValues(symbol).Set(weight)
	SymbolRealizedVol.WithLabelValues(symbol).Set(realizedVol)
}

// RecordNewsBlock increments the news-blocked-entry counter for a symbol.
func RecordNewsBlock(symbol string) {
	NewsBlockedEntriesTotal.WithLabelValues(symbol).Inc()
}

// RecordJournalEvent increments the event counter for a kind.
func RecordJournalEvent(kind string) {
	JournalEventsTotal.WithLabelValues(kind).Inc()
}

// SetWebsocketConnected records whether the live tick feed is up.
func SetWebsocketConnected(connected bool) {
	WebsocketConnected.Set(boolToFloat(connected))
}

// IncWebsocketReconnect increments the websocket reconnect-attempt counter.
func IncWebsocketReconnect() {
	WebsocketReconnectsTotal.Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Init registers the standard Go/process collectors alongside the engine's
// own metrics.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
