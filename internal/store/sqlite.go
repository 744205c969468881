package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"altair/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ SnapshotStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS conditional_orders (
	id                 TEXT PRIMARY KEY,
	parent_order_id    TEXT NOT NULL DEFAULT '',
	symbol             TEXT NOT NULL,
	side               TEXT NOT NULL,
	quantity           INTEGER NOT NULL,
	strategy           TEXT NOT NULL,
	params             TEXT NOT NULL,
	state              TEXT NOT NULL,
	created_at         INTEGER NOT NULL,
	last_evaluated_at  INTEGER NOT NULL DEFAULT 0,
	expires_at         INTEGER NOT NULL DEFAULT 0,
	trigger_price      REAL NOT NULL DEFAULT 0,
	high_water_mark    REAL NOT NULL DEFAULT 0,
	child_order_ids    TEXT NOT NULL DEFAULT '[]',
	filled_quantity    INTEGER NOT NULL DEFAULT 0,
	cancelled_quantity INTEGER NOT NULL DEFAULT 0,
	attempts           INTEGER NOT NULL DEFAULT 0,
	legs               TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_orders_state ON conditional_orders(state);
`

// SQLiteStore implements SnapshotStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// SnapshotStore implementation
// ---------------------------------------------------------------------------

// SaveOrder inserts a freshly registered order.
func (s *SQLiteStore) SaveOrder(ctx context.Context, order *domain.ConditionalOrder) error {
	cols, err := encodeOrder(order)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conditional_orders (
			id, parent_order_id, symbol, side, quantity, strategy, params, state,
			created_at, last_evaluated_at, expires_at, trigger_price,
			high_water_mark, child_order_ids, filled_quantity,
			cancelled_quantity, attempts, legs
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cols...)
	if err != nil {
		return fmt.Errorf("inserting order %s: %w", order.ID, err)
	}
	return nil
}

// UpdateOrder persists the current state of an order. It upserts so a
// write-behind update racing the initial save cannot fail.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, order *domain.ConditionalOrder) error {
	cols, err := encodeOrder(order)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO conditional_orders (
			id, parent_order_id, symbol, side, quantity, strategy, params, state,
			created_at, last_evaluated_at, expires_at, trigger_price,
			high_water_mark, child_order_ids, filled_quantity,
			cancelled_quantity, attempts, legs
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cols...)
	if err != nil {
		return fmt.Errorf("updating order %s: %w", order.ID, err)
	}
	return nil
}

// DeleteOrder removes an order after it reached a terminal state.
func (s *SQLiteStore) DeleteOrder(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conditional_orders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting order %s: %w", id, err)
	}
	return nil
}

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.ConditionalOrder, error) {
	row := s.db.QueryRowContext(ctx, selectOrders+` WHERE id = ?`, id)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading order %s: %w", id, err)
	}
	return order, nil
}

// LoadActive returns all orders in a non-terminal state, oldest first.
func (s *SQLiteStore) LoadActive(ctx context.Context) ([]domain.ConditionalOrder, error) {
	rows, err := s.db.QueryContext(ctx, selectOrders+`
		WHERE state NOT IN (?, ?, ?, ?) ORDER BY created_at`,
		string(domain.StateFilled), string(domain.StateRejected),
		string(domain.StateCancelled), string(domain.StateExpired))
	if err != nil {
		return nil, fmt.Errorf("listing active orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.ConditionalOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order row: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// ---------------------------------------------------------------------------
// Row encoding
// ---------------------------------------------------------------------------

const selectOrders = `
	SELECT id, parent_order_id, symbol, side, quantity, strategy, params, state,
	       created_at, last_evaluated_at, expires_at, trigger_price,
	       high_water_mark, child_order_ids, filled_quantity,
	       cancelled_quantity, attempts, legs
	FROM conditional_orders`

func encodeOrder(o *domain.ConditionalOrder) ([]any, error) {
	params, err := json.Marshal(o.Params)
	if err != nil {
		return nil, fmt.Errorf("encoding params for %s: %w", o.ID, err)
	}
	children, err := json.Marshal(o.ChildOrderIDs)
	if err != nil {
		return nil, fmt.Errorf("encoding child ids for %s: %w", o.ID, err)
	}
	legs := ""
	if o.Legs != nil {
		raw, err := json.Marshal(o.Legs)
		if err != nil {
			return nil, fmt.Errorf("encoding legs for %s: %w", o.ID, err)
		}
		legs = string(raw)
	}

	return []any{
		o.ID, o.ParentOrderID, o.Symbol, string(o.Side), o.Quantity,
		string(o.Strategy), string(params), string(o.State),
		unixMilliOrZero(o.CreatedAt), unixMilliOrZero(o.LastEvaluatedAt),
		unixMilliOrZero(o.ExpiresAt), o.TriggerPrice, o.HighWaterMark,
		string(children), o.FilledQuantity, o.CancelledQuantity, o.Attempts,
		legs,
	}, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.ConditionalOrder, error) {
	var (
		o                          domain.ConditionalOrder
		side, strategy, state      string
		params, children, legs     string
		created, evaluated, expiry int64
	)
	err := row.Scan(&o.ID, &o.ParentOrderID, &o.Symbol, &side, &o.Quantity,
		&strategy, &params, &state, &created, &evaluated, &expiry,
		&o.TriggerPrice, &o.HighWaterMark, &children, &o.FilledQuantity,
		&o.CancelledQuantity, &o.Attempts, &legs)
	if err != nil {
		return nil, err
	}

	o.Side = domain.Side(side)
	o.Strategy = domain.StrategyType(strategy)
	o.State = domain.OrderState(state)
	o.CreatedAt = timeFromMilli(created)
	o.LastEvaluatedAt = timeFromMilli(evaluated)
	o.ExpiresAt = timeFromMilli(expiry)

	if err := json.Unmarshal([]byte(params), &o.Params); err != nil {
		return nil, fmt.Errorf("decoding params for %s: %w", o.ID, err)
	}
	if err := json.Unmarshal([]byte(children), &o.ChildOrderIDs); err != nil {
		return nil, fmt.Errorf("decoding child ids for %s: %w", o.ID, err)
	}
	if legs != "" {
		o.Legs = &domain.BracketLegs{}
		if err := json.Unmarshal([]byte(legs), o.Legs); err != nil {
			return nil, fmt.Errorf("decoding legs for %s: %w", o.ID, err)
		}
	}
	return &o, nil
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func timeFromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
