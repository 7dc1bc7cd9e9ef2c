package reconcile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"axfl/broker"
	"axfl/journal"
)

type mockBroker struct {
	openPositions []broker.Position
	trades        []broker.Trade
	closeAllCalls []string
	closeResult   broker.PlaceResult
}

func (m *mockBroker) Instrument(symbol string) string { return symbol }
func (m *mockBroker) PlaceMarket(symbol, side string, units int, sl, tp float64, clientTag string) broker.PlaceResult {
	return broker.PlaceResult{}
}
func (m *mockBroker) CloseAll(symbol string) broker.PlaceResult {
	m.closeAllCalls = append(m.closeAllCalls, symbol)
	if m.closeResult.Error == "" && !m.closeResult.Success {
		return broker.PlaceResult{Success: true}
	}
	return m.closeResult
}
func (m *mockBroker) FetchPosition(symbol string) (broker.Position, bool, error) { return broker.Position{}, false, nil }
func (m *mockBroker) GetOpenPositions() ([]broker.Position, error)               { return m.openPositions, nil }
func (m *mockBroker) GetTradesSince(since time.Time) ([]broker.Trade, error)     { return m.trades, nil }
func (m *mockBroker) PingAuth() error                                           { return nil }
func (m *mockBroker) GetAccount() (map[string]interface{}, error)               { return nil, nil }
func (m *mockBroker) GetStats() broker.Stats                                    { return broker.Stats{} }

func openTestStore(t *testing.T) *journal.Store {
	t.Helper()
	s, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// TestOnStartFlattensOrphanPosition reproduces scenario B: a broker position
// with no journal broker order for its symbol is flattened at startup.
func TestOnStartFlattensOrphanPosition(t *testing.T) {
	store := openTestStore(t)
	b := &mockBroker{openPositions: []broker.Position{{Symbol: "XAUUSD", Side: "buy", Units: 10}}}

	eng := NewEngine(b, store, true)
	sum := eng.OnStart()

	require.Empty(t, sum.Errors)
	require.Equal(t, []string{"XAUUSD"}, sum.Flattened)
	require.Equal(t, []string{"XAUUSD"}, b.closeAllCalls)
}

func TestOnStartDoesNotFlattenKnownPosition(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertBrokerOrder(journal.BrokerOrder{
		OrderID: "order-1", ClientTag: "tag-1", Symbol: "EURUSD", Side: "buy", Units: 1000,
		Status: "filled", CreatedAt: time.Now().UTC(),
	}))
	b := &mockBroker{openPositions: []broker.Position{{Symbol: "EURUSD", Side: "buy", Units: 1000}}}

	eng := NewEngine(b, store, true)
	sum := eng.OnStart()

	require.Empty(t, sum.Flattened)
	require.Empty(t, b.closeAllCalls)
}

func TestOnStartWithoutFlattenOnConflictLeavesOrphanAlone(t *testing.T) {
	store := openTestStore(t)
	b := &mockBroker{openPositions: []broker.Position{{Symbol: "XAUUSD", Side: "buy", Units: 10}}}

	eng := NewEngine(b, store, false)
	sum := eng.OnStart()

	require.Empty(t, sum.Flattened)
	require.Empty(t, b.closeAllCalls)
}

func TestLinkPendingMatchesByClientTagFirst(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, store.UpsertAxflTrade(journal.AxflTrade{
		AxflID: "axfl-1", ClientTag: "tag-1", Strategy: "sma", Symbol: "EURUSD", Side: "buy",
		Entry: 1.1, SL: 1.09, TP: 1.12, Units: 1000, OpenedAt: now, Status: "open",
	}))
	b := &mockBroker{trades: []broker.Trade{{OrderID: "order-1", ClientTag: "tag-1", Symbol: "EURUSD", ClosedAt: now}}}

	eng := NewEngine(b, store, false)
	sum := eng.LinkPending()

	require.Empty(t, sum.Errors)
	require.Equal(t, []string{"axfl-1"}, sum.Linked)
}

func TestLinkPendingFallsBackToSymbolProximity(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, store.UpsertAxflTrade(journal.AxflTrade{
		AxflID: "axfl-unmatched", ClientTag: "tag-unmatched", Strategy: "sma", Symbol: "XAUUSD", Side: "sell",
		Entry: 1900, SL: 1910, TP: 1880, Units: 10, OpenedAt: now, Status: "open",
	}))
	// No exact client_tag match, but a trade in the same symbol within the
	// 5-minute proximity window.
	b := &mockBroker{trades: []broker.Trade{{
		OrderID: "order-2", ClientTag: "different-tag", Symbol: "XAUUSD", ClosedAt: now.Add(2 * time.Minute),
	}}}

	eng := NewEngine(b, store, false)
	sum := eng.LinkPending()

	require.Empty(t, sum.Errors)
	require.Equal(t, []string{"axfl-unmatched"}, sum.Linked)
}

func TestLinkPendingNoMatchLeavesUnlinked(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, store.UpsertAxflTrade(journal.AxflTrade{
		AxflID: "axfl-orphan", ClientTag: "tag-orphan", Strategy: "sma", Symbol: "GBPUSD", Side: "buy",
		Entry: 1.25, SL: 1.24, TP: 1.27, Units: 1000, OpenedAt: now, Status: "open",
	}))
	b := &mockBroker{trades: nil}

	eng := NewEngine(b, store, false)
	sum := eng.LinkPending()

	require.Empty(t, sum.Linked)
}
