// Package broker implements the idempotent paper-broker adapter described
// in spec.md §4.6, grounded on axfl/brokers/oanda.py and the HTTP-client
// idiom of trader/alpaca_trader.go.
package broker

import "time"

// PlaceResult is the uniform shape every PlaceMarket call returns. It never
// raises to the caller: failures are reported in the Error field.
type PlaceResult struct {
	Success    bool
	OrderID    string
	Error      string
	Idempotent bool // true when this call matched an existing client_tag
}

// Position is the broker's view of one open position.
type Position struct {
	Symbol    string
	Side      string
	Units     int
	AvgPrice  float64
	UnrealPnL float64
}

// Trade is a closed fill reported by the broker's transaction history.
type Trade struct {
	OrderID   string
	ClientTag string
	Symbol    string
	Side      string
	Units     int
	Price     float64
	ClosedAt  time.Time
}

// Stats summarizes adapter health for the status record.
type Stats struct {
	Connected bool
	Errors    int
	LastError string
	Env       string
}

// Adapter is the full surface the portfolio engine needs from a broker.
type Adapter interface {
	// Instrument maps a canonical symbol (EURUSD) to this broker's wire
	// format (EUR_USD).
	Instrument(symbol string) string

	// PlaceMarket opens a market order with attached stop-loss/take-profit.
	// clientTag is the idempotency key: a second call with the same tag
	// within the dedup window returns the original result with
	// Idempotent=true instead of placing a second order.
	PlaceMarket(symbol, side string, units int, sl, tp float64, clientTag string) PlaceResult

	// CloseAll flattens every open position in symbol.
	CloseAll(symbol string) PlaceResult

	// FetchPosition returns the broker's current position in symbol, or
	// ok=false if there is none.
	FetchPosition(symbol string) (Position, bool, error)

	GetOpenPositions() ([]Position, error)
	GetTradesSince(since time.Time) ([]Trade, error)
	PingAuth() error
	GetAccount() (map[string]interface{}, error)
	GetStats() Stats
}
