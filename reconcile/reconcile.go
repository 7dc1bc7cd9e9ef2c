// Package reconcile implements the startup reconciliation pass described in
// spec.md §4.8.1 / §4.8.8, grounded on axfl/reconcile/engine.py: compare the
// broker's live positions against the journal's belief, flatten orphans,
// and link any broker fills the journal hasn't yet mapped to an axfl_id.
package reconcile

import (
	"fmt"
	"time"

	"axfl/broker"
	"axfl/journal"
	"axfl/logger"
)

// Summary reports what a reconciliation pass found and did.
type Summary struct {
	Flattened []string // symbols flattened because they had no journal match
	Linked    []string // axfl_ids newly linked to a broker order
	Errors    []string
}

// Engine performs the broker-vs-journal reconciliation described in
// spec.md §4.8.1.
type Engine struct {
	broker           broker.Adapter
	store            *journal.Store
	flattenOnConflict bool
	linkProximity    time.Duration
}

// NewEngine builds a reconciliation engine. flattenOnConflict controls
// whether an orphaned broker position (no journal broker order for its symbol) is
// force-closed on start, matching axfl/reconcile/engine.py's `safety` flag.
func NewEngine(b broker.Adapter, store *journal.Store, flattenOnConflict bool) *Engine {
	return &Engine{
		broker:            b,
		store:             store,
		flattenOnConflict: flattenOnConflict,
		linkProximity:     5 * time.Minute,
	}
}

// OnStart compares broker open positions against the journal's broker
// orders. Any broker position whose symbol has no broker_orders row (of any
// status) is an orphan; if flattenOnConflict is set, it is closed immediately.
func (e *Engine) OnStart() Summary {
	var sum Summary

	live, err := e.broker.GetOpenPositions()
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("fetch open positions: %v", err))
		return sum
	}

	knownSymbols, err := e.store.BrokerOrderSymbols()
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("fetch journal broker orders: %v", err))
		return sum
	}

	for _, pos := range live {
		if knownSymbols[pos.Symbol] {
			continue
		}
		logger.Warnf("reconcile: orphan broker position in %s with no journal match", pos.Symbol)
		if e.flattenOnConflict {
			res := e.broker.CloseAll(pos.Symbol)
			if !res.Success {
				sum.Errors = append(sum.Errors, fmt.Sprintf("flatten %s: %s", pos.Symbol, res.Error))
				continue
			}
			sum.Flattened = append(sum.Flattened, pos.Symbol)
		}
	}
	return sum
}

// LinkPending matches journal paper trades with no map entry against recent
// broker trades: first by exact client_tag, then by instrument-plus-proximity
// (within linkProximity) as a fallback.
func (e *Engine) LinkPending() Summary {
	var sum Summary

	pending, err := e.store.PendingMappings()
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("fetch pending mappings: %v", err))
		return sum
	}
	if len(pending) == 0 {
		return sum
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	trades, err := e.broker.GetTradesSince(since)
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("fetch trades since: %v", err))
		return sum
	}

	for _, trade := range pending {
		matched, ok := matchTrade(trade, trades, e.linkProximity)
		if !ok {
			continue
		}
		if err := e.store.Link(trade.AxflID, trade.ClientTag, matched.OrderID, time.Now().UTC()); err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("link %s: %v", trade.AxflID, err))
			continue
		}
		sum.Linked = append(sum.Linked, trade.AxflID)
	}
	return sum
}

func matchTrade(trade journal.AxflTrade, trades []broker.Trade, proximity time.Duration) (broker.Trade, bool) {
	if trade.ClientTag != "" {
		for _, t := range trades {
			if t.ClientTag == trade.ClientTag {
				return t, true
			}
		}
	}
	for _, t := range trades {
		if t.Symbol != trade.Symbol {
			continue
		}
		if absDuration(t.ClosedAt.Sub(trade.OpenedAt)) <= proximity {
			return t, true
		}
	}
	return broker.Trade{}, false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Reconcile runs OnStart followed by LinkPending, the convenience
// entrypoint the portfolio engine calls before entering its dispatch loop.
func (e *Engine) Reconcile() Summary {
	onStart := e.OnStart()
	linked := e.LinkPending()
	return Summary{
		Flattened: onStart.Flattened,
		Linked:    linked.Linked,
		Errors:    append(onStart.Errors, linked.Errors...),
	}
}
