// Package routing implements broker selection and order splitting: a
// performance snapshot store refreshed by a monitor, a multi-criteria
// selector, and lot-size-aware split planning.
package routing

import (
	"sync"

	"github.com/tidwall/btree"

	"altair/internal/domain"
)

// PerformanceStore holds the latest performance snapshot per broker. Readers
// always observe a consistent set: SnapshotAll copies under the read lock and
// tags the copy with a version that increments on every write, so one scoring
// pass never mixes fields from two refresh cycles.
type PerformanceStore struct {
	mu      sync.RWMutex
	brokers btree.Map[string, domain.BrokerPerformanceSnapshot]
	version uint64
}

// NewPerformanceStore returns an empty store.
func NewPerformanceStore() *PerformanceStore {
	return &PerformanceStore{}
}

// Upsert stores a broker snapshot, replacing any previous one. The derived
// fields (OverallScore, RatingTier) are recomputed on write so the monitor
// feed only has to supply raw metrics.
func (ps *PerformanceStore) Upsert(snap domain.BrokerPerformanceSnapshot) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	deriveRating(&snap)
	ps.brokers.Set(snap.BrokerID, snap)
	ps.version++
}

// UpsertBatch stores a batch of snapshots under one lock, bumping the
// version once.
func (ps *PerformanceStore) UpsertBatch(snaps []domain.BrokerPerformanceSnapshot) {
	if len(snaps) == 0 {
		return
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, snap := range snaps {
		deriveRating(&snap)
		ps.brokers.Set(snap.BrokerID, snap)
	}
	ps.version++
}

// Get returns the snapshot for one broker.
func (ps *PerformanceStore) Get(brokerID string) (domain.BrokerPerformanceSnapshot, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.brokers.Get(brokerID)
}

// SnapshotAll returns a copy of every snapshot ordered by broker id, plus
// the store version the copy was taken at.
func (ps *PerformanceStore) SnapshotAll() ([]domain.BrokerPerformanceSnapshot, uint64) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]domain.BrokerPerformanceSnapshot, 0, ps.brokers.Len())
	ps.brokers.Scan(func(_ string, snap domain.BrokerPerformanceSnapshot) bool {
		out = append(out, snap)
		return true
	})
	return out, ps.version
}

// Len returns the number of brokers tracked.
func (ps *PerformanceStore) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.brokers.Len()
}

// Version returns the current write version.
func (ps *PerformanceStore) Version() uint64 {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.version
}

// deriveRating fills the snapshot's composite score and tier from its raw
// metrics. Slippage counts against the score; all terms are fractions.
func deriveRating(snap *domain.BrokerPerformanceSnapshot) {
	score := 0.30*snap.FillRate +
		0.30*snap.SuccessRate +
		0.20*(snap.UptimePercent/100) +
		0.20*(1-clamp01(snap.SlippageRate))
	snap.OverallScore = clamp01(score)
	snap.RatingTier = domain.TierForScore(snap.OverallScore)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
