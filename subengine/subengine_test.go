package subengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axfl/bars"
	"axfl/clock"
	"axfl/strategy"
)

// fakeStrategy emits a queued signal once, then nothing, so tests can drive
// ProcessBar deterministically.
type fakeStrategy struct {
	queued []strategy.Signal
	calls  int
}

func (f *fakeStrategy) Name() string    { return "fake" }
func (f *fakeStrategy) Stateless() bool { return true }
func (f *fakeStrategy) Prepare([]bars.Bar) {}
func (f *fakeStrategy) GenerateSignals([]bars.Bar) []strategy.Signal {
	f.calls++
	if f.calls == 1 {
		return f.queued
	}
	return nil
}

func bar(t time.Time, o, h, l, c float64) bars.Bar {
	return bars.Bar{Time: t, Open: o, High: h, Low: l, Close: c}
}

var fullDayWindow = []clock.Window{clock.ParseWindow("00:00", "23:59")}

// TestProcessBarScenarioA reproduces spec scenario A: a buy entry at 1.10000
// with a 20-pip stop and equity-based sizing, then an SL touch produces a
// -1R loss.
func TestProcessBarScenarioA(t *testing.T) {
	strat := &fakeStrategy{queued: []strategy.Signal{{Side: strategy.Buy, SL: 1.09800, TP: 1.10400}}}
	eng := New("EURUSD", "fake", strat, fullDayWindow, nil)

	sizing := SizeParams{EquityUSD: 100000, RiskFraction: 0.005, SpreadPips: 0, MaxUnits: 10_000_000}

	t0 := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	ev := eng.ProcessBar(bar(t0, 1.10000, 1.10010, 1.09990, 1.10000), true, sizing)
	require.NotNil(t, ev.Opened)
	assert.Equal(t, 250000, ev.Opened.Size)
	assert.Equal(t, 1.09800, ev.Opened.SL)

	t1 := t0.Add(time.Minute)
	ev = eng.ProcessBar(bar(t1, 1.09900, 1.09950, 1.09700, 1.09750), true, sizing)
	require.NotNil(t, ev.Closed)
	assert.Equal(t, "SL", ev.Closed.ExitReason)
	// Both legs carry the spec's 1-pip slippage floor (ATR over this short a
	// history stays below it): entry executes at 1.10010, exit at 1.09790.
	assert.InDelta(t, -550.0, ev.Closed.PnL, 1e-6)
	assert.InDelta(t, -550.0/525.0, ev.Closed.RMultiple, 1e-9)
}

func TestProcessBarSLAndTPSameBarResolvesToSL(t *testing.T) {
	strat := &fakeStrategy{queued: []strategy.Signal{{Side: strategy.Buy, SL: 1.09800, TP: 1.10200}}}
	eng := New("EURUSD", "fake", strat, fullDayWindow, nil)
	sizing := SizeParams{EquityUSD: 100000, RiskFraction: 0.005, MaxUnits: 10_000_000}

	t0 := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	eng.ProcessBar(bar(t0, 1.10000, 1.10010, 1.09990, 1.10000), true, sizing)

	// Bar touches both SL (1.09800) and TP (1.10200) within its range.
	t1 := t0.Add(time.Minute)
	ev := eng.ProcessBar(bar(t1, 1.10000, 1.10300, 1.09700, 1.10050), true, sizing)
	require.NotNil(t, ev.Closed)
	assert.Equal(t, "SL", ev.Closed.ExitReason)
}

// TestProcessBarWindowTimeExit reproduces scenario C: a position open past
// the half-open upper bound of its trading window is closed TIME, not held.
func TestProcessBarWindowTimeExit(t *testing.T) {
	windows := []clock.Window{clock.ParseWindow("07:00", "10:00")}
	strat := &fakeStrategy{queued: []strategy.Signal{{Side: strategy.Buy, SL: 1.09000, TP: 1.20000}}}
	eng := New("EURUSD", "fake", strat, windows, nil)
	sizing := SizeParams{EquityUSD: 100000, RiskFraction: 0.005, MaxUnits: 10_000_000}

	t0 := time.Date(2026, 1, 5, 9, 55, 0, 0, time.UTC)
	eng.ProcessBar(bar(t0, 1.10000, 1.10010, 1.09990, 1.10000), true, sizing)
	require.False(t, eng.IsFlat())

	// The bar landing exactly on the window's exclusive upper bound forces
	// a TIME exit even though SL/TP were not touched.
	t1 := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	ev := eng.ProcessBar(bar(t1, 1.10050, 1.10060, 1.10040, 1.10050), true, sizing)
	require.NotNil(t, ev.Closed)
	assert.Equal(t, "TIME", ev.Closed.ExitReason)
}

func TestProcessBarZeroSizeRejectedWithoutSideEffect(t *testing.T) {
	// A normal 20-pip stop, but an absurdly small equity yields size 0
	// after flooring.
	strat := &fakeStrategy{queued: []strategy.Signal{{Side: strategy.Buy, SL: 1.09800, TP: 1.10400}}}
	eng := New("EURUSD", "fake", strat, fullDayWindow, nil)
	sizing := SizeParams{EquityUSD: 0.0001, RiskFraction: 0.005, MaxUnits: 10_000_000}

	t0 := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	ev := eng.ProcessBar(bar(t0, 1.10000, 1.10010, 1.09990, 1.10000), true, sizing)
	assert.Nil(t, ev.Opened)
	assert.True(t, eng.IsFlat())
}

func TestProcessBarNoEntryWhenGateClosed(t *testing.T) {
	strat := &fakeStrategy{queued: []strategy.Signal{{Side: strategy.Buy, SL: 1.09800, TP: 1.10400}}}
	eng := New("EURUSD", "fake", strat, fullDayWindow, nil)
	sizing := SizeParams{EquityUSD: 100000, RiskFraction: 0.005, MaxUnits: 10_000_000}

	t0 := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	ev := eng.ProcessBar(bar(t0, 1.1, 1.1001, 1.0999, 1.1), false, sizing)
	assert.Nil(t, ev.Opened)
	assert.True(t, eng.IsFlat())
}
