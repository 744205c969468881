// Package audit persists engine execution reports to the append-only
// journal for end-of-day reconciliation.
package audit

import (
	"context"
	"log/slog"
	"time"

	"altair/internal/engine"
	"altair/internal/store"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultBuffer        = 256

	// maxBatch forces a flush before the ticker when reports come in bursts.
	maxBatch = 64
)

// Recorder subscribes to an engine's order reports and journals them in
// batches.
type Recorder struct {
	journal store.AuditJournal
	log     *slog.Logger

	// FlushInterval is how often buffered reports are written out.
	FlushInterval time.Duration
	// Buffer is the subscription channel depth. Reports are delivered
	// best-effort; an undersized buffer drops under load.
	Buffer int

	batch []store.ExecutionRecord
}

// NewRecorder creates a recorder writing to the given journal.
func NewRecorder(journal store.AuditJournal, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		journal:       journal,
		log:           log.With("component", "audit"),
		FlushInterval: defaultFlushInterval,
		Buffer:        defaultBuffer,
	}
}

// Run consumes the engine's reports until the context is cancelled or the
// engine closes, then flushes whatever is buffered and returns nil.
func (r *Recorder) Run(ctx context.Context, eng *engine.Engine) error {
	id, ch := eng.Subscribe(r.Buffer)
	defer eng.Unsubscribe(id)
	return r.drain(ctx, ch)
}

func (r *Recorder) drain(ctx context.Context, ch <-chan engine.OrderReport) error {
	ticker := time.NewTicker(r.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flush(context.Background())
			return nil
		case rep, ok := <-ch:
			if !ok {
				r.flush(context.Background())
				return nil
			}
			r.batch = append(r.batch, executionRecord(rep))
			if len(r.batch) >= maxBatch {
				r.flush(ctx)
			}
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

// flush writes the buffered batch. On failure the batch is kept for the
// next attempt; the journal merge deduplicates if part of it did land.
func (r *Recorder) flush(ctx context.Context) {
	if len(r.batch) == 0 {
		return
	}
	if err := r.journal.AppendExecutions(ctx, r.batch); err != nil {
		r.log.Error("journaling execution reports", "error", err, "count", len(r.batch))
		return
	}
	r.log.Debug("journaled execution reports", "count", len(r.batch))
	r.batch = nil
}

func executionRecord(rep engine.OrderReport) store.ExecutionRecord {
	return store.ExecutionRecord{
		OrderID:   rep.OrderID,
		Symbol:    rep.Symbol,
		Timestamp: rep.At.UnixMilli(),
		State:     string(rep.State),
		Price:     rep.Price,
		Filled:    rep.FilledQuantity,
		Attempts:  int64(rep.Attempts),
		Reason:    rep.Reason,
	}
}
