package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axfl/bars"
	"axfl/clock"
	"axfl/config"
	"axfl/news"
	"axfl/notify"
	"axfl/strategy"
)

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

// queuedStrategy emits signals from a caller-controlled queue, letting tests
// force an entry on a specific bar without depending on an indicator cross.
type queuedStrategy struct {
	queue [][]strategy.Signal
	idx   int
}

func (q *queuedStrategy) Name() string    { return "fake" }
func (q *queuedStrategy) Stateless() bool { return true }
func (q *queuedStrategy) Prepare([]bars.Bar) {}
func (q *queuedStrategy) GenerateSignals([]bars.Bar) []strategy.Signal {
	if q.idx >= len(q.queue) {
		return nil
	}
	sig := q.queue[q.idx]
	q.idx++
	return sig
}

func testSchedule(symbol string) config.Schedule {
	sched := config.Default()
	sched.Symbols = []string{symbol}
	sched.Strategies = []config.StrategyConfig{{
		Name:    "fake",
		Windows: []config.Window{{Start: "00:00", End: "23:59"}},
	}}
	sched.Risk.MaxOpenPositions = 5
	return sched
}

func minuteWarmup(symbol string, n int) map[string][]bars.Bar {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]bars.Bar, 0, n)
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Minute)
		out = append(out, bars.Bar{Time: ts, Open: 1.1, High: 1.1005, Low: 1.0995, Close: 1.1})
	}
	return map[string][]bars.Bar{symbol: out}
}

func newTestEngine(t *testing.T, sched config.Schedule, queue [][]strategy.Signal) *Engine {
	t.Helper()
	eng := New(sched, clock.RealClock{}, nil, nil, notify.NopNotifier{})
	strat := &queuedStrategy{queue: queue}
	factory := func(name string, params map[string]interface{}) (strategy.Strategy, error) {
		return strat, nil
	}
	require.NoError(t, eng.Warmup(minuteWarmup(sched.Symbols[0], 12), factory))
	return eng
}

func bar(t time.Time, o, h, l, c float64) bars.Bar {
	return bars.Bar{Time: t, Open: o, High: h, Low: l, Close: c}
}

func TestWeekendBarsSkipDispatchEntirely(t *testing.T) {
	sched := testSchedule("EURUSD")
	eng := newTestEngine(t, sched, [][]strategy.Signal{{{Side: strategy.Buy, SL: 1.09, TP: 1.11}}})

	sat := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) // Saturday
	eng.ProcessSymbolBar("EURUSD", bar(sat, 1.1, 1.1, 1.1, 1.1))

	key := subKey{Symbol: "EURUSD", Strategy: "fake"}
	assert.True(t, eng.subEngines[key].IsFlat())
}

func TestEntryAllowedNewsGateBlocksAndCounts(t *testing.T) {
	sched := testSchedule("EURUSD")
	sched.NewsGuard = config.NewsGuardConfig{Enabled: true, PadBeforeM: 30, PadAfterM: 30}
	eng := newTestEngine(t, sched, [][]strategy.Signal{{{Side: strategy.Buy, SL: 1.09, TP: 1.11}}})

	now := time.Date(2026, 1, 5, 12, 15, 0, 0, time.UTC)
	eng.SetNewsEvents([]news.Event{{Time: time.Date(2026, 1, 5, 12, 30, 0, 0, time.UTC), Currencies: []string{"USD"}}})

	eng.ProcessSymbolBar("EURUSD", bar(now, 1.1, 1.1, 1.1, 1.1))

	key := subKey{Symbol: "EURUSD", Strategy: "fake"}
	assert.True(t, eng.subEngines[key].IsFlat())
	assert.Equal(t, 1, eng.newsBlockedCount)
}

func TestEntryAllowedBudgetGateBlocksAndCounts(t *testing.T) {
	sched := testSchedule("EURUSD")
	sched.Risk.PerStrategyDailyStopR = -2.0
	eng := newTestEngine(t, sched, [][]strategy.Signal{{{Side: strategy.Buy, SL: 1.09, TP: 1.11}}})
	eng.dayStates["fake"].Date = "2026-01-05" // same day as the bar, so no rollover reset
	eng.dayStates["fake"].CumR = -3.0         // already past the strategy's daily stop

	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	eng.ProcessSymbolBar("EURUSD", bar(now, 1.1, 1.1, 1.1, 1.1))

	key := subKey{Symbol: "EURUSD", Strategy: "fake"}
	assert.True(t, eng.subEngines[key].IsFlat())
	assert.Equal(t, 1, eng.budgetBlockedCount)
}

func TestEntryAllowedMaxOpenPositionsGateBlocksAndCounts(t *testing.T) {
	sched := testSchedule("EURUSD")
	sched.Risk.MaxOpenPositions = 0
	eng := newTestEngine(t, sched, [][]strategy.Signal{{{Side: strategy.Buy, SL: 1.09, TP: 1.11}}})

	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	eng.ProcessSymbolBar("EURUSD", bar(now, 1.1, 1.1, 1.1, 1.1))

	key := subKey{Symbol: "EURUSD", Strategy: "fake"}
	assert.True(t, eng.subEngines[key].IsFlat())
	assert.Equal(t, 1, eng.riskBlockedCount)
}

func TestEntryAllowedOutsideWindowDoesNotIncrementAnyCounter(t *testing.T) {
	sched := testSchedule("EURUSD")
	sched.Strategies[0].Windows = []config.Window{{Start: "07:00", End: "10:00"}}
	eng := newTestEngine(t, sched, [][]strategy.Signal{{{Side: strategy.Buy, SL: 1.09, TP: 1.11}}})

	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC) // outside the window
	eng.ProcessSymbolBar("EURUSD", bar(now, 1.1, 1.1, 1.1, 1.1))

	assert.Equal(t, 0, eng.newsBlockedCount)
	assert.Equal(t, 0, eng.budgetBlockedCount)
	assert.Equal(t, 0, eng.riskBlockedCount)
}

// TestDDLockTriggersAndRecovers reproduces spec scenario D: equity drops
// from 100000 to 94900 (dd_pct=5.1, >= 5) and the lock engages; once the
// cooloff has elapsed and equity has recovered to 96500 (dd_pct=3.5 < 5),
// the lock and halt clear.
func TestDDLockTriggersAndRecovers(t *testing.T) {
	sched := testSchedule("EURUSD")
	sched.DDLock = config.DDLockConfig{Enabled: true, TrailingPct: 5.0, CooloffMin: 120}
	sched.EquityUSD = 100000
	eng := newTestEngine(t, sched, nil)
	eng.equityUSD = 100000
	eng.peakEquity = 100000

	eng.updateGlobalRisk(-5100)
	assert.True(t, eng.ddLockActive)
	assert.True(t, eng.halted)
	assert.InDelta(t, 5.1, eng.currentDDPct, 1e-9)

	// Simulate the cooloff having elapsed and equity having recovered.
	eng.ddLockCooloffUntil = time.Now().UTC().Add(-time.Minute)
	eng.updateGlobalRisk(1600) // 94900 + 1600 = 96500

	eng.evaluateDDLock(time.Now().UTC())
	assert.False(t, eng.ddLockActive)
	assert.False(t, eng.halted)
	assert.InDelta(t, 3.5, eng.currentDDPct, 1e-9)
}

func TestDDLockDoesNotClearBeforeCooloffElapses(t *testing.T) {
	sched := testSchedule("EURUSD")
	sched.DDLock = config.DDLockConfig{Enabled: true, TrailingPct: 5.0, CooloffMin: 120}
	eng := newTestEngine(t, sched, nil)
	eng.equityUSD = 100000
	eng.peakEquity = 100000

	eng.updateGlobalRisk(-5100)
	require.True(t, eng.ddLockActive)

	// Equity recovers, but the cooloff window has not elapsed yet.
	eng.updateGlobalRisk(1600)
	eng.evaluateDDLock(time.Now().UTC())
	assert.True(t, eng.ddLockActive)
}

func TestGlobalDailyStopRHaltsTrading(t *testing.T) {
	sched := testSchedule("EURUSD")
	sched.Risk.GlobalDailyStopR = -2.0
	eng := newTestEngine(t, sched, nil)
	eng.dayStates["fake"].CumR = -3.0

	eng.updateGlobalRisk(0)
	assert.True(t, eng.halted)
}

func TestPeakEquityIsNonDecreasing(t *testing.T) {
	sched := testSchedule("EURUSD")
	eng := newTestEngine(t, sched, nil)
	eng.equityUSD = 100000
	eng.peakEquity = 100000

	eng.updateGlobalRisk(500)
	assert.Equal(t, 100500.0, eng.peakEquity)

	eng.updateGlobalRisk(-1000)
	assert.Equal(t, 100500.0, eng.peakEquity, "peak equity must never decrease")
}
