// Package store defines storage interfaces for crash-recovery snapshots of
// conditional orders, the append-only audit journal, and recorded price
// ticks for replay.
package store

import (
	"context"

	"altair/internal/domain"
)

// SnapshotStore persists conditional orders for crash recovery. Every field
// of a ConditionalOrder round-trips losslessly.
type SnapshotStore interface {
	// SaveOrder inserts a freshly registered order.
	SaveOrder(ctx context.Context, order *domain.ConditionalOrder) error

	// UpdateOrder persists the current state of an existing order.
	UpdateOrder(ctx context.Context, order *domain.ConditionalOrder) error

	// DeleteOrder removes an order after it reached a terminal state.
	DeleteOrder(ctx context.Context, id string) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.ConditionalOrder, error)

	// LoadActive returns all orders in a non-terminal state, oldest first.
	LoadActive(ctx context.Context) ([]domain.ConditionalOrder, error)
}

// AuditJournal records execution events and routing decisions to an
// append-only daily journal.
type AuditJournal interface {
	// AppendExecutions appends execution events to the day's journal file.
	AppendExecutions(ctx context.Context, recs []ExecutionRecord) error

	// AppendDecisions appends routing/split decisions to the day's journal file.
	AppendDecisions(ctx context.Context, recs []DecisionRecord) error

	// ReadExecutions returns all execution events journaled on a date
	// (YYYY-MM-DD), ordered by timestamp.
	ReadExecutions(ctx context.Context, date string) ([]ExecutionRecord, error)

	// ReadDecisions returns all decisions journaled on a date, ordered by
	// timestamp.
	ReadDecisions(ctx context.Context, date string) ([]DecisionRecord, error)
}

// TickStore persists and retrieves per-symbol daily tick files.
type TickStore interface {
	// WriteTicks persists a batch of ticks.
	WriteTicks(ctx context.Context, ticks []domain.Tick) error

	// ReadTicks returns all ticks for the given symbol and date (YYYY-MM-DD),
	// ordered by timestamp.
	ReadTicks(ctx context.Context, symbol, date string) ([]domain.Tick, error)

	// ListTickDates returns the dates with recorded ticks for a symbol.
	ListTickDates(ctx context.Context, symbol string) ([]string, error)
}
