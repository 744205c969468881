package engine

import (
	"context"
	"time"

	"altair/internal/domain"
	"altair/internal/gateway"
	"altair/internal/util"
)

// submitTask pairs a freshly minted child order with the parent state to
// restore should the submission ultimately fail.
type submitTask struct {
	e     *entry
	child domain.ChildOrder
	prior domain.OrderState
}

// newSubmissionLocked mints the next child order, optimistically promotes
// the parent to submitted, and records everything needed to confirm or roll
// back once the gateway answers. A partially filled parent keeps its state.
// The gateway call itself happens off the lane in runSubmission.
func (eng *Engine) newSubmissionLocked(e *entry, qty int64, limit float64, side domain.Side) *submitTask {
	o := e.order
	id := e.nextChildID()
	o.ChildOrderIDs = append(o.ChildOrderIDs, id)
	child := domain.ChildOrder{
		ID:         id,
		ParentID:   o.ID,
		BrokerID:   eng.gw.Name(),
		Symbol:     o.Symbol,
		Side:       side,
		Quantity:   qty,
		LimitPrice: limit,
		CreatedAt:  time.Now().UTC(),
	}
	prior := o.State
	if o.State != domain.StatePartiallyFilled {
		o.State = domain.StateSubmitted
	}
	e.submitting = true
	e.liveChildren[id] = &liveChild{child: child, outstanding: qty}
	eng.reg.addChild(id, e)
	eng.persist(persistUpdate, o)
	return &submitTask{e: e, child: child, prior: prior}
}

// dispatch runs a submission under the engine tomb, or on a detached
// goroutine when shutdown has begun so the task still resolves its
// rollback. lifeMu pins the liveness check to the Go call: Close cannot
// slip between them and leave the tomb dead.
func (eng *Engine) dispatch(task *submitTask) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	if !eng.t.Alive() {
		go eng.runSubmission(task)
		return
	}
	eng.t.Go(func() error {
		eng.runSubmission(task)
		return nil
	})
}

// runSubmission executes one child submission off the lane, retrying
// transport failures with exponential backoff until the attempt budget is
// spent. Each round trip re-acquires the lane to confirm, revert, or hand
// the order its terminal rejection.
func (eng *Engine) runSubmission(task *submitTask) {
	for {
		ctx, cancel := context.WithTimeout(eng.t.Context(nil), eng.cfg.SubmitTimeout)
		ack, err := eng.gw.Submit(ctx, task.child)
		cancel()
		if err == nil {
			eng.submits.Add(1)
			eng.confirmSubmission(task, ack)
			return
		}
		eng.submitFails.Add(1)
		if !eng.retrySubmission(task, err) {
			return
		}
	}
}

// confirmSubmission clears the in-flight guard once the venue accepted the
// child. The order can have finished while the accept was in flight — a
// racing fill or a cancel — in which case the child is unwanted at the
// venue and chased with a cancel of its own.
func (eng *Engine) confirmSubmission(task *submitTask, ack gateway.ExecutionAck) {
	e := task.e
	e.mu.Lock()
	e.submitting = false
	terminal := e.order.State.Terminal()
	e.mu.Unlock()
	if terminal {
		eng.cancelChildAsync(task.child.ID)
		return
	}
	eng.log.Debug("child order submitted",
		"order_id", task.child.ParentID, "child_id", task.child.ID,
		"venue_id", ack.BrokerOrderID, "qty", task.child.Quantity)
}

// retrySubmission decides the fate of a failed transport attempt under the
// lane: drop silently when the order was cancelled or finished meanwhile,
// reject terminally once the attempt budget is spent, otherwise revert the
// optimistic submitted state, back off, and report that the caller should
// go again. The reverted window leaves e.submitting raised so evaluation
// cannot double-trigger while the retry is pending.
func (eng *Engine) retrySubmission(task *submitTask, cause error) bool {
	e := task.e
	e.mu.Lock()
	o := e.order
	if e.cancelReq.Load() || o.State.Terminal() {
		eng.dropChildLocked(e, task.child.ID)
		e.submitting = false
		e.mu.Unlock()
		return false
	}
	o.Attempts++
	attempt := o.Attempts
	if attempt >= eng.cfg.MaxSubmitAttempts {
		eng.dropChildLocked(e, task.child.ID)
		serr := &domain.SubmissionError{
			OrderID:      o.ID,
			ChildOrderID: task.child.ID,
			BrokerID:     eng.gw.Name(),
			Attempts:     attempt,
			Err:          cause,
		}
		rep, cancels := eng.terminalLocked(e, domain.StateRejected, serr.Error(), e.lastPrice)
		e.mu.Unlock()
		eng.finishTerminal(e, rep, cancels)
		return false
	}
	o.State = task.prior
	eng.persist(persistUpdate, o)
	orderID := o.ID
	e.mu.Unlock()
	eng.log.Warn("submission failed, backing off",
		"order_id", orderID, "child_id", task.child.ID, "attempt", attempt, "error", cause)

	select {
	case <-time.After(util.Backoff(attempt-1, eng.cfg.RetryBackoff)):
	case <-eng.t.Dying():
		// Shutdown won the race: leave the order reverted in its
		// monitoring state for recovery to pick back up.
		e.mu.Lock()
		eng.dropChildLocked(e, task.child.ID)
		e.submitting = false
		e.mu.Unlock()
		return false
	}

	e.mu.Lock()
	o = e.order
	if e.cancelReq.Load() || o.State.Terminal() {
		eng.dropChildLocked(e, task.child.ID)
		e.submitting = false
		e.mu.Unlock()
		return false
	}
	if o.State != domain.StatePartiallyFilled {
		o.State = domain.StateSubmitted
	}
	eng.persist(persistUpdate, o)
	e.mu.Unlock()
	return true
}

// dropChildLocked forgets a live child without venue interaction: the
// in-memory record and the registry index entry go together.
func (eng *Engine) dropChildLocked(e *entry, childID string) {
	if _, ok := e.liveChildren[childID]; !ok {
		return
	}
	delete(e.liveChildren, childID)
	eng.reg.removeChild(childID)
}

// ---------------------------------------------------------------------------
// Gateway callbacks
// ---------------------------------------------------------------------------

// OnFill applies an execution from the gateway's trade stream. Fills for
// unknown children, e.g. a venue resend after the parent already finished,
// are dropped with a log line. Entry-leg fills on a bracket accrue to the
// leg and arm the exits; all other fills accrue to the parent, finishing
// it when nothing remains or rolling the iceberg to its next display slice
// when the live slice just completed.
func (eng *Engine) OnFill(childOrderID string, filledQty int64, fillPrice float64) {
	e, ok := eng.reg.byChild(childOrderID)
	if !ok {
		eng.log.Debug("fill for unknown child", "child_id", childOrderID, "qty", filledQty)
		return
	}
	e.mu.Lock()
	o := e.order
	lc, live := e.liveChildren[childOrderID]
	if o.State.Terminal() || !live {
		e.mu.Unlock()
		return
	}
	if filledQty > lc.outstanding {
		filledQty = lc.outstanding
	}
	if filledQty <= 0 {
		e.mu.Unlock()
		return
	}
	lc.outstanding -= filledQty
	childDone := lc.outstanding == 0
	if childDone {
		eng.dropChildLocked(e, childOrderID)
	}

	var (
		task     *submitTask
		rep      OrderReport
		cancels  []string
		finished bool
	)
	if o.Strategy == domain.StrategyBracket && childOrderID == e.entryChildID {
		o.Legs.EntryFilled += filledQty
		if childDone {
			o.Legs.Entry = domain.LegFilled
		}
		if o.State == domain.StateSubmitted {
			o.State = domain.StateArmed
		}
		eng.persist(persistUpdate, o)
	} else {
		o.FilledQuantity += filledQty
		if o.Remaining() == 0 {
			if o.Strategy == domain.StrategyBracket {
				if o.Legs.Target == domain.LegSubmitted {
					o.Legs.Target = domain.LegFilled
				}
				if o.Legs.Stop == domain.LegSubmitted {
					o.Legs.Stop = domain.LegFilled
				}
			}
			rep, cancels = eng.terminalLocked(e, domain.StateFilled, "filled", fillPrice)
			finished = true
		} else {
			if o.State == domain.StateSubmitted {
				o.State = domain.StatePartiallyFilled
			}
			if o.Strategy == domain.StrategyIceberg && childDone {
				task = eng.nextIcebergSliceLocked(e)
			}
			eng.persist(persistUpdate, o)
		}
	}
	e.mu.Unlock()

	if finished {
		eng.finishTerminal(e, rep, cancels)
		return
	}
	if task != nil {
		eng.dispatch(task)
	}
}

// OnReject applies a venue rejection. The rejected child's outstanding
// quantity is withdrawn; slicers and brackets resubmit it as a fresh child
// after backoff, while plain stops rewind to monitoring and wait for the
// next trigger. The cumulative attempt budget applies across all of an
// order's children and sends it to rejected once spent.
func (eng *Engine) OnReject(childOrderID, reason string) {
	e, ok := eng.reg.byChild(childOrderID)
	if !ok {
		eng.log.Debug("reject for unknown child", "child_id", childOrderID, "reason", reason)
		return
	}
	e.mu.Lock()
	o := e.order
	lc, live := e.liveChildren[childOrderID]
	if o.State.Terminal() || !live {
		e.mu.Unlock()
		return
	}
	isEntry := o.Strategy == domain.StrategyBracket && childOrderID == e.entryChildID
	qty := lc.outstanding
	eng.dropChildLocked(e, childOrderID)
	e.submitting = false
	o.Attempts++
	attempt := o.Attempts
	eng.log.Warn("child order rejected",
		"order_id", o.ID, "child_id", childOrderID, "reason", reason, "attempt", attempt)

	if attempt >= eng.cfg.MaxSubmitAttempts {
		rep, cancels := eng.terminalLocked(e, domain.StateRejected, "venue rejected: "+reason, e.lastPrice)
		e.mu.Unlock()
		eng.finishTerminal(e, rep, cancels)
		return
	}

	switch o.Strategy {
	case domain.StrategyStopLoss:
		if o.State == domain.StateSubmitted {
			o.State = domain.StatePending
		}
		o.TriggerPrice = 0
		eng.persist(persistUpdate, o)
		e.mu.Unlock()
	case domain.StrategyTrailingStop:
		if o.State == domain.StateSubmitted {
			o.State = domain.StateArmed
		}
		o.TriggerPrice = 0
		eng.persist(persistUpdate, o)
		e.mu.Unlock()
	default:
		eng.persist(persistUpdate, o)
		e.mu.Unlock()
		eng.resubmitAfter(e, lc.child, qty, attempt, isEntry)
	}
}

// resubmitAfter re-mints a rejected slice or bracket leg as a fresh child
// once the attempt's backoff elapses. The quantity is re-bounded against
// what is still unaccounted for, so a slice schedule that moved on in the
// meantime never oversubmits.
func (eng *Engine) resubmitAfter(e *entry, prev domain.ChildOrder, qty int64, attempt int, isEntry bool) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	if !eng.t.Alive() {
		return
	}
	eng.t.Go(func() error {
		select {
		case <-time.After(util.Backoff(attempt-1, eng.cfg.RetryBackoff)):
		case <-eng.t.Dying():
			return nil
		}
		e.mu.Lock()
		o := e.order
		if e.cancelReq.Load() || o.State.Terminal() {
			e.mu.Unlock()
			return nil
		}
		if avail := o.Remaining() - e.outstanding(); qty > avail {
			qty = avail
		}
		if qty <= 0 {
			e.mu.Unlock()
			return nil
		}
		task := eng.newSubmissionLocked(e, qty, prev.LimitPrice, prev.Side)
		if isEntry {
			e.entryChildID = task.child.ID
		}
		e.mu.Unlock()
		eng.dispatch(task)
		return nil
	})
}
