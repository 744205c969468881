package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"altair/internal/domain"
)

// ---------------------------------------------------------------------------
// Per-order entry (the serialization lane)
// ---------------------------------------------------------------------------

// liveChild tracks one child order outstanding at the venue.
type liveChild struct {
	child       domain.ChildOrder
	outstanding int64
}

// entry is one order's slot in the registry. Its mutex is the order's lane:
// every evaluation, fill, reject, cancel, and modify for the order runs
// under it, which is what makes triggering exactly-once. The cancel flag is
// atomic so a cancel is observable before the next tick is processed.
type entry struct {
	mu        sync.Mutex
	order     *domain.ConditionalOrder
	cancelReq atomic.Bool

	// Everything below is guarded by mu.
	lastPrice    float64
	sliceStop    chan struct{} // non-nil while a slice timer runs
	slicesFired  int
	totalSlices  int
	entryChildID string // bracket entry leg
	submitting   bool   // a submission cycle, including retries, is in flight
	childSeq     int
	liveChildren map[string]*liveChild
}

func newEntry(o *domain.ConditionalOrder) *entry {
	return &entry{
		order: o,
		// Resume the child sequence past ids minted in a previous run, so
		// a restored order never reuses a client order id at the venue.
		childSeq:     len(o.ChildOrderIDs),
		liveChildren: make(map[string]*liveChild),
	}
}

// nextChildID mints a child order id under the lane. Child ids embed the
// parent id so venue records and the audit trail line up.
func (e *entry) nextChildID() string {
	e.childSeq++
	return fmt.Sprintf("%s-c%d", e.order.ID, e.childSeq)
}

// outstanding sums the quantity of live children under the lane.
func (e *entry) outstanding() int64 {
	var n int64
	for _, lc := range e.liveChildren {
		n += lc.outstanding
	}
	return n
}

// stopSlicerLocked stops the order's slice timer, if one is running. Called
// under the lane so a cancel and a firing timer cannot interleave.
func (e *entry) stopSlicerLocked() {
	if e.sliceStop != nil {
		close(e.sliceStop)
		e.sliceStop = nil
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// registry is the arena of active orders: id -> entry, a per-symbol index
// for tick fan-out, and a child-order index for routing fills back.
//
// Lock order: a lane (entry.mu) may be held while taking the registry lock,
// never the reverse. Symbol, Strategy, and ID are immutable after
// registration and safe to read without the lane.
type registry struct {
	mu       sync.RWMutex
	orders   map[string]*entry
	bySymbol map[string]map[string]*entry
	children map[string]*entry
}

func newRegistry() *registry {
	return &registry{
		orders:   make(map[string]*entry),
		bySymbol: make(map[string]map[string]*entry),
		children: make(map[string]*entry),
	}
}

func (r *registry) add(e *entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := e.order.ID
	if _, exists := r.orders[id]; exists {
		return domain.ErrDuplicateOrder
	}
	r.orders[id] = e
	symbol := e.order.Symbol
	if r.bySymbol[symbol] == nil {
		r.bySymbol[symbol] = make(map[string]*entry)
	}
	r.bySymbol[symbol][id] = e
	return nil
}

// remove evicts an order and any child index entries pointing at it.
func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.orders[id]
	if !ok {
		return
	}
	delete(r.orders, id)
	symbol := e.order.Symbol
	if m := r.bySymbol[symbol]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(r.bySymbol, symbol)
		}
	}
	for childID, owner := range r.children {
		if owner == e {
			delete(r.children, childID)
		}
	}
}

func (r *registry) get(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.orders[id]
	return e, ok
}

func (r *registry) addChild(childID string, e *entry) {
	r.mu.Lock()
	r.children[childID] = e
	r.mu.Unlock()
}

func (r *registry) removeChild(childID string) {
	r.mu.Lock()
	delete(r.children, childID)
	r.mu.Unlock()
}

func (r *registry) byChild(childID string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.children[childID]
	return e, ok
}

// forSymbol snapshots the candidate set for a tick. The copy is taken so no
// lane is ever locked while the registry lock is held.
func (r *registry) forSymbol(symbol string) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.bySymbol[symbol]
	if len(m) == 0 {
		return nil
	}
	out := make([]*entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	return out
}

func (r *registry) all() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.orders))
	for _, e := range r.orders {
		out = append(out, e)
	}
	return out
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}

func (r *registry) countByStrategy() map[domain.StrategyType]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.StrategyType]int)
	for _, e := range r.orders {
		out[e.order.Strategy]++
	}
	return out
}
