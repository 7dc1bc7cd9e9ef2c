package portfolio

import (
	"sort"
	"time"

	"axfl/bars"
	"axfl/feed"
	"axfl/logger"
)

// symbolTick is one merged tick across every symbol, used to feed the
// replay loop's chronological merge.
type symbolTick struct {
	Symbol string
	Bar    bars.Bar
}

// RunReplay drives the dispatcher from recent 1-minute bars already fetched
// per symbol: ticks are merged in chronological order across symbols, each
// pushed through that symbol's cascade aggregator, and every completed
// 5-minute bar is dispatched to ProcessSymbolBar. tickSleep simulates
// streaming between ticks; pass 0 to run as fast as possible (used by
// tests).
func (e *Engine) RunReplay(recent1m map[string][]bars.Bar, tickSleep time.Duration) {
	var merged []symbolTick
	for sym, series := range recent1m {
		for _, b := range series {
			merged = append(merged, symbolTick{Symbol: sym, Bar: b})
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Bar.Time.Before(merged[j].Bar.Time) })

	for _, t := range merged {
		if e.isShuttingDown() {
			return
		}

		e.mu.Lock()
		agg, ok := e.aggregators[t.Symbol]
		e.mu.Unlock()
		if !ok {
			continue
		}

		bid, ask := t.Bar.Close, t.Bar.Close
		completed := agg.PushTick(t.Bar.Time, &bid, &ask, nil)
		for _, b := range completed {
			e.ProcessSymbolBar(t.Symbol, b)
		}

		if tickSleep > 0 {
			time.Sleep(tickSleep)
		}
	}
}

// RunWS drives the dispatcher from a live feed.Client: it drains buffered
// ticks on a short interval, pushes each through its symbol's aggregator,
// and dispatches every completed 5-minute bar. If the feed's Run() returns
// an error (exhausted reconnect attempts), RunWS degrades to the replay
// loop over whatever 1-minute history the caller supplies as a fallback.
func (e *Engine) RunWS(client *feed.Client, fallback1m map[string][]bars.Bar) {
	e.mu.Lock()
	e.Feed = client
	e.mu.Unlock()

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run() }()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-runErr:
			if err != nil {
				logger.Warnf("portfolio: websocket feed exhausted reconnects, degrading to replay: %v", err)
				e.RunReplay(fallback1m, 0)
			}
			return
		case <-ticker.C:
			if e.isShuttingDown() {
				client.Close()
				return
			}
			for _, t := range client.Drain() {
				e.dispatchTick(t)
			}
		}
	}
}

func (e *Engine) dispatchTick(t feed.Tick) {
	e.mu.Lock()
	agg, ok := e.aggregators[t.Symbol]
	e.mu.Unlock()
	if !ok {
		return
	}

	ts := time.UnixMilli(t.TimestampMs).UTC()
	completed := agg.PushTick(ts, &t.Price, &t.Price, nil)
	for _, b := range completed {
		e.ProcessSymbolBar(t.Symbol, b)
	}
}
