package bars

import "time"

// Aggregator buckets ticks into bars of a fixed number of minutes, aligning
// each tick to the floor of its minute to the nearest multiple of the
// interval.
type Aggregator struct {
	minutes int

	barStart time.Time
	open     float64
	high     float64
	low      float64
	close    float64
	volume   float64
	started  bool
}

// NewAggregator builds an Aggregator bucketing ticks into bars of the given
// number of minutes (1 or 5 in this engine).
func NewAggregator(minutes int) *Aggregator {
	return &Aggregator{minutes: minutes}
}

func (a *Aggregator) align(ts time.Time) time.Time {
	ts = ts.UTC()
	minute := (ts.Minute() / a.minutes) * a.minutes
	return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), minute, 0, 0, time.UTC)
}

// midPrice derives a single trade price from whichever of bid/ask/last is
// available, preferring the bid/ask mid when both sides are present.
func midPrice(bid, ask, last *float64) (float64, bool) {
	switch {
	case bid != nil && ask != nil:
		return (*bid + *ask) / 2.0, true
	case last != nil:
		return *last, true
	case bid != nil:
		return *bid, true
	case ask != nil:
		return *ask, true
	default:
		return 0, false
	}
}

// PushTick feeds one tick into the aggregator. It returns the bar that was
// completed by this tick crossing into a new interval, or nil if the
// current bar is still accumulating.
func (a *Aggregator) PushTick(ts time.Time, bid, ask, last *float64) *Bar {
	price, ok := midPrice(bid, ask, last)
	if !ok {
		return nil
	}

	barStart := a.align(ts)

	var completed *Bar
	if a.started && barStart.After(a.barStart) {
		b := Bar{Time: a.barStart, Open: a.open, High: a.high, Low: a.low, Close: a.close, Volume: a.volume}
		completed = &b
		a.started = false
	}

	if !a.started {
		a.barStart = barStart
		a.open = price
		a.high = price
		a.low = price
		a.volume = 0
		a.started = true
	} else {
		if price > a.high {
			a.high = price
		}
		if price < a.low {
			a.low = price
		}
	}
	a.close = price
	a.volume++ // tick count; §9 note 4 — a deliberate simplification, treated as opaque

	return completed
}

// ForceCompleteIfPast returns the currently accumulating bar as completed,
// without starting a replacement, if ts already falls in a bucket after the
// one being built. It does not consume ts as a price update. Used by
// CascadeAggregator to close a bucket the instant real time has crossed its
// boundary, instead of waiting for the next constituent bar to land inside
// the new one.
func (a *Aggregator) ForceCompleteIfPast(ts time.Time) *Bar {
	if !a.started || !a.align(ts).After(a.barStart) {
		return nil
	}
	b := Bar{Time: a.barStart, Open: a.open, High: a.high, Low: a.low, Close: a.close, Volume: a.volume}
	a.started = false
	return &b
}

// CascadeAggregator chains a 1-minute aggregator into a 5-minute one: every
// completed 1-minute bar is re-fed as a synthetic tick (its close, as
// bid=ask=last) into the 5-minute builder.
type CascadeAggregator struct {
	agg1m *Aggregator
	agg5m *Aggregator
}

// NewCascadeAggregator builds the standard 1m -> 5m cascade.
func NewCascadeAggregator() *CascadeAggregator {
	return &CascadeAggregator{agg1m: NewAggregator(1), agg5m: NewAggregator(5)}
}

// PushTick pushes one tick through the cascade, returning the ordered list
// of completed 5-minute bars (0 or 1 in steady state).
func (c *CascadeAggregator) PushTick(ts time.Time, bid, ask, last *float64) []Bar {
	var out []Bar

	bar1m := c.agg1m.PushTick(ts, bid, ask, last)
	if bar1m == nil {
		return out
	}

	// Attribute the synthetic close to the bucket the completed 1-minute bar
	// itself belongs to, not the bucket of the real tick that triggered its
	// completion — those can disagree by one step (e.g. a 09:04 bar closing
	// on a tick that lands at 09:05:03).
	close := bar1m.Close
	if bar5m := c.agg5m.PushTick(bar1m.Time, &close, &close, &close); bar5m != nil {
		out = append(out, *bar5m)
	}
	// Real time has now advanced to ts, which may already be past the
	// 5-minute bucket just updated above; if so, close it now rather than
	// waiting for a future 1-minute bar that starts inside the new bucket.
	if bar5m := c.agg5m.ForceCompleteIfPast(ts); bar5m != nil {
		out = append(out, *bar5m)
	}
	return out
}
