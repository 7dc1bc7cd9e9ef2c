// Package bars implements the OHLCV bar data model and the tick-to-bar
// cascade aggregator described in spec.md §4.2.
package bars

import "time"

// Bar is a completed, timestamp-aligned OHLCV record. Bars are immutable
// once emitted by the aggregator.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}
