// Package feed delivers trade ticks to the engine, either live from the
// Alpaca market-data stream or replayed from recorded tick files.
package feed

import (
	"context"

	"altair/internal/domain"
)

// TickHandler consumes one trade print. Handlers are called from the feed's
// goroutine and must not block.
type TickHandler func(tick domain.Tick)

// PriceFeed is a source of trade ticks.
type PriceFeed interface {
	// Name returns the feed identifier.
	Name() string

	// Run delivers ticks to the handler until the context is cancelled,
	// the feed fails, or (for finite feeds) the tape ends.
	Run(ctx context.Context) error
}
