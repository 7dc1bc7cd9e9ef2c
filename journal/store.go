// Package journal is the durable, idempotent record of everything the
// portfolio engine has told the broker and everything it believes about its
// own positions, backed by SQLite. It is the single source of truth used by
// reconciliation at startup. Grounded on axfl/journal/store.py.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// BrokerOrder mirrors one broker-side fill or rejection.
type BrokerOrder struct {
	OrderID   string
	ClientTag string
	Symbol    string
	Side      string
	Units     int
	Status    string
	Reason    string
	CreatedAt time.Time
}

// AxflTrade is the engine's own view of a position: opened, and later
// closed with a realized R multiple.
type AxflTrade struct {
	AxflID     string
	ClientTag  string // the tag attempted on the broker mirror, if any
	Strategy   string
	Symbol     string
	Side       string
	Entry      float64
	SL         float64
	TP         float64
	Units      int
	OpenedAt   time.Time
	ClosedAt   sql.NullTime
	ExitPrice  sql.NullFloat64
	RealizedR  sql.NullFloat64
	ExitReason string
	Status     string // open|closed
}

// Event is an append-only diagnostic log row.
type Event struct {
	ID        int64
	Kind      string
	Payload   string
	CreatedAt time.Time
}

// Mapping links an internal axfl_id to the broker's client_tag/order_id.
type Mapping struct {
	AxflID    string
	ClientTag string
	OrderID   string
	LinkedAt  time.Time
}

// Store wraps the SQLite-backed journal database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the journal database at path and runs
// schema migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc sqlite: single writer avoids SQLITE_BUSY

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		// PKs follow spec.md §4.5: order_id for broker_orders, axfl_id for
		// axfl_trades, (axfl_id, order_id) for map. client_tag is known at
		// insert time; only broker_orders gives it a secondary unique index
		// — order_id (assigned by the broker) is the real key there.
		`CREATE TABLE IF NOT EXISTS broker_orders (
			order_id   TEXT PRIMARY KEY,
			client_tag TEXT NOT NULL,
			symbol     TEXT NOT NULL,
			side       TEXT NOT NULL,
			units      INTEGER NOT NULL,
			status     TEXT NOT NULL,
			reason     TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_broker_orders_client_tag ON broker_orders(client_tag)`,
		`CREATE INDEX IF NOT EXISTS idx_broker_orders_symbol ON broker_orders(symbol)`,
		`CREATE TABLE IF NOT EXISTS axfl_trades (
			axfl_id     TEXT PRIMARY KEY,
			client_tag  TEXT,
			strategy    TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			side        TEXT NOT NULL,
			entry       REAL NOT NULL,
			sl          REAL NOT NULL,
			tp          REAL NOT NULL,
			units       INTEGER NOT NULL,
			opened_at   TIMESTAMP NOT NULL,
			closed_at   TIMESTAMP,
			exit_price  REAL,
			realized_r  REAL,
			exit_reason TEXT,
			status      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_axfl_trades_status ON axfl_trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_axfl_trades_symbol ON axfl_trades(symbol)`,
		`CREATE TABLE IF NOT EXISTS map (
			axfl_id    TEXT NOT NULL,
			order_id   TEXT NOT NULL,
			client_tag TEXT,
			linked_at  TIMESTAMP NOT NULL,
			PRIMARY KEY (axfl_id, order_id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			kind       TEXT NOT NULL,
			payload    TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// UpsertBrokerOrder inserts a broker order record or, if order_id already
// exists, updates its status/reason in place. Structural fields (client_tag,
// symbol, side, units) are insert-time-only.
func (s *Store) UpsertBrokerOrder(o BrokerOrder) error {
	_, err := s.db.Exec(`
		INSERT INTO broker_orders (order_id, client_tag, symbol, side, units, status, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason
	`, o.OrderID, o.ClientTag, o.Symbol, o.Side, o.Units, o.Status, o.Reason, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("journal: upsert broker order %s: %w", o.OrderID, err)
	}
	return nil
}

// UpsertAxflTrade inserts a trade record or, if axfl_id already exists,
// updates its mutable fields (used to transition open -> closed).
func (s *Store) UpsertAxflTrade(t AxflTrade) error {
	_, err := s.db.Exec(`
		INSERT INTO axfl_trades (axfl_id, client_tag, strategy, symbol, side, entry, sl, tp, units, opened_at,
			closed_at, exit_price, realized_r, exit_reason, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(axfl_id) DO UPDATE SET
			closed_at   = excluded.closed_at,
			exit_price  = excluded.exit_price,
			realized_r  = excluded.realized_r,
			exit_reason = excluded.exit_reason,
			status      = excluded.status
	`, t.AxflID, t.ClientTag, t.Strategy, t.Symbol, t.Side, t.Entry, t.SL, t.TP, t.Units, t.OpenedAt,
		t.ClosedAt, t.ExitPrice, t.RealizedR, t.ExitReason, t.Status)
	if err != nil {
		return fmt.Errorf("journal: upsert trade %s: %w", t.AxflID, err)
	}
	return nil
}

// Link records an axfl_id <-> order_id mapping (client_tag carried for
// diagnostics), ignoring the call if the pair already exists.
func (s *Store) Link(axflID, clientTag, orderID string, linkedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO map (axfl_id, order_id, client_tag, linked_at)
		VALUES (?, ?, ?, ?)
	`, axflID, orderID, clientTag, linkedAt)
	if err != nil {
		return fmt.Errorf("journal: link %s/%s: %w", axflID, orderID, err)
	}
	return nil
}

// LogEvent appends a diagnostic event row.
func (s *Store) LogEvent(kind, payload string, at time.Time) error {
	_, err := s.db.Exec(`INSERT INTO events (kind, payload, created_at) VALUES (?, ?, ?)`, kind, payload, at)
	if err != nil {
		return fmt.Errorf("journal: log event %s: %w", kind, err)
	}
	return nil
}

// OpenPositions returns every trade row still marked open.
func (s *Store) OpenPositions() ([]AxflTrade, error) {
	rows, err := s.db.Query(`
		SELECT axfl_id, client_tag, strategy, symbol, side, entry, sl, tp, units, opened_at,
			closed_at, exit_price, realized_r, exit_reason, status
		FROM axfl_trades WHERE status = 'open'
	`)
	if err != nil {
		return nil, fmt.Errorf("journal: open positions: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// BrokerOrderSymbols returns the distinct set of symbols with at least one
// broker_orders row. Startup reconciliation treats any live broker position
// whose symbol is absent here as an orphan (spec.md §4.8.6 step 2).
func (s *Store) BrokerOrderSymbols() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT DISTINCT symbol FROM broker_orders`)
	if err != nil {
		return nil, fmt.Errorf("journal: broker order symbols: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("journal: scan broker order symbol: %w", err)
		}
		out[sym] = true
	}
	return out, rows.Err()
}

// Counts is a snapshot of row counts across the four journal tables, used by
// the status record (spec.md §4.8.7 "journal counters").
type Counts struct {
	BrokerOrders int
	AxflTrades   int
	OpenTrades   int
	Mappings     int
	Events       int
}

// TableCounts reports current row counts for each journal table.
func (s *Store) TableCounts() (Counts, error) {
	var c Counts
	queries := []struct {
		dst   *int
		query string
	}{
		{&c.BrokerOrders, `SELECT COUNT(*) FROM broker_orders`},
		{&c.AxflTrades, `SELECT COUNT(*) FROM axfl_trades`},
		{&c.OpenTrades, `SELECT COUNT(*) FROM axfl_trades WHERE status = 'open'`},
		{&c.Mappings, `SELECT COUNT(*) FROM map`},
		{&c.Events, `SELECT COUNT(*) FROM events`},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.query).Scan(q.dst); err != nil {
			return Counts{}, fmt.Errorf("journal: table counts: %w", err)
		}
	}
	return c, nil
}

// LastNEvents returns the n most recently logged events, newest first.
func (s *Store) LastNEvents(n int) ([]Event, error) {
	rows, err := s.db.Query(`SELECT id, kind, payload, created_at FROM events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("journal: last events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PendingMappings returns paper trades that have no corresponding row in
// map, i.e. axfl trades the reconciler has not yet linked to a broker fill
// (spec.md §4.8.6 step 3).
func (s *Store) PendingMappings() ([]AxflTrade, error) {
	rows, err := s.db.Query(`
		SELECT t.axfl_id, t.client_tag, t.strategy, t.symbol, t.side, t.entry, t.sl, t.tp, t.units, t.opened_at,
			t.closed_at, t.exit_price, t.realized_r, t.exit_reason, t.status
		FROM axfl_trades t
		LEFT JOIN map m ON m.axfl_id = t.axfl_id
		WHERE m.axfl_id IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("journal: pending mappings: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]AxflTrade, error) {
	var out []AxflTrade
	for rows.Next() {
		var t AxflTrade
		if err := rows.Scan(&t.AxflID, &t.ClientTag, &t.Strategy, &t.Symbol, &t.Side, &t.Entry, &t.SL, &t.TP, &t.Units,
			&t.OpenedAt, &t.ClosedAt, &t.ExitPrice, &t.RealizedR, &t.ExitReason, &t.Status); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
