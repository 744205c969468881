package engine

import (
	"time"

	"altair/internal/domain"
)

// OrderReport is published when an order triggers and whenever it reaches a
// terminal state. Snapshot semantics: fields are copied under the order's
// lane, so a report never races with later mutation.
type OrderReport struct {
	OrderID        string              `json:"order_id"`
	Symbol         string              `json:"symbol"`
	Strategy       domain.StrategyType `json:"strategy"`
	State          domain.OrderState   `json:"state"`
	Price          float64             `json:"price"`
	FilledQuantity int64               `json:"filled_quantity"`
	CancelledQty   int64               `json:"cancelled_quantity"`
	Attempts       int                 `json:"attempts"`
	Reason         string              `json:"reason"`
	At             time.Time           `json:"at"`
}

// reportLocked snapshots the order under the lane.
func reportLocked(o *domain.ConditionalOrder, price float64, reason string) OrderReport {
	return OrderReport{
		OrderID:        o.ID,
		Symbol:         o.Symbol,
		Strategy:       o.Strategy,
		State:          o.State,
		Price:          price,
		FilledQuantity: o.FilledQuantity,
		CancelledQty:   o.CancelledQuantity,
		Attempts:       o.Attempts,
		Reason:         reason,
		At:             time.Now().UTC(),
	}
}

// Subscribe registers a report channel with the given buffer and returns its
// id for Unsubscribe. Reports are delivered best-effort: a full channel
// drops rather than blocking an order lane. After Close the returned channel
// is already closed.
func (eng *Engine) Subscribe(buffer int) (int, <-chan OrderReport) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan OrderReport, buffer)
	eng.subsMu.Lock()
	defer eng.subsMu.Unlock()
	if eng.closed {
		close(ch)
		return 0, ch
	}
	eng.subSeq++
	id := eng.subSeq
	eng.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscription. Unknown ids are a no-op.
func (eng *Engine) Unsubscribe(id int) {
	eng.subsMu.Lock()
	defer eng.subsMu.Unlock()
	if ch, ok := eng.subs[id]; ok {
		delete(eng.subs, id)
		close(ch)
	}
}

func (eng *Engine) publish(rep OrderReport) {
	eng.subsMu.Lock()
	defer eng.subsMu.Unlock()
	for id, ch := range eng.subs {
		select {
		case ch <- rep:
		default:
			eng.log.Warn("dropping order report", "order_id", rep.OrderID, "subscriber", id)
		}
	}
}

func (eng *Engine) closeSubscribers() {
	eng.subsMu.Lock()
	defer eng.subsMu.Unlock()
	eng.closed = true
	for id, ch := range eng.subs {
		delete(eng.subs, id)
		close(ch)
	}
}
