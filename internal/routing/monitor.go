package routing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"altair/internal/domain"
)

// PerformanceSource supplies fresh broker performance snapshots to the
// monitor.
type PerformanceSource interface {
	Fetch(ctx context.Context) ([]domain.BrokerPerformanceSnapshot, error)
}

// StaticSource replays a fixed snapshot set on every fetch, stamping the
// window start. Used for config-seeded broker rosters and tests.
type StaticSource struct {
	snaps []domain.BrokerPerformanceSnapshot
}

var _ PerformanceSource = (*StaticSource)(nil)

// NewStaticSource builds a source over a fixed roster.
func NewStaticSource(snaps []domain.BrokerPerformanceSnapshot) *StaticSource {
	return &StaticSource{snaps: snaps}
}

// Fetch returns a copy of the roster with the current window start.
func (s *StaticSource) Fetch(_ context.Context) ([]domain.BrokerPerformanceSnapshot, error) {
	now := time.Now().UTC()
	out := make([]domain.BrokerPerformanceSnapshot, len(s.snaps))
	for i, snap := range s.snaps {
		snap.WindowStart = now
		out[i] = snap
	}
	return out, nil
}

// Monitor periodically refreshes a PerformanceStore from a
// PerformanceSource.
type Monitor struct {
	store   *PerformanceStore
	source  PerformanceSource
	refresh time.Duration
	log     *slog.Logger
}

// NewMonitor wires a store to a source with the given refresh interval.
func NewMonitor(store *PerformanceStore, source PerformanceSource, refresh time.Duration, log *slog.Logger) *Monitor {
	if refresh <= 0 {
		refresh = 15 * time.Second
	}
	return &Monitor{store: store, source: source, refresh: refresh, log: log}
}

// Run refreshes immediately, then on every tick until the context is
// cancelled. Fetch errors are logged and retried on the next tick.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.refreshOnce(ctx); err != nil {
		m.log.Warn("initial broker refresh failed", "error", err)
	}

	ticker := time.NewTicker(m.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.refreshOnce(ctx); err != nil {
				m.log.Warn("broker refresh failed", "error", err)
			}
		}
	}
}

func (m *Monitor) refreshOnce(ctx context.Context) error {
	snaps, err := m.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetching broker snapshots: %w", err)
	}
	m.store.UpsertBatch(snaps)
	m.log.Debug("broker snapshots refreshed", "brokers", len(snaps), "version", m.store.Version())
	return nil
}
