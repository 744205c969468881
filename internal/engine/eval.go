package engine

import (
	"sync"
	"time"

	"altair/internal/domain"
)

// OnPriceUpdate evaluates every active order on symbol against a fresh
// trade price. It returns order id → whether that order fired a submission
// on this tick. The symbol's candidate set is snapshotted from the registry
// and fanned out across up to cfg.Workers goroutines; each order's
// evaluation still runs alone under its lane, so per-order transitions stay
// strictly ordered no matter how many ticks race.
func (eng *Engine) OnPriceUpdate(symbol string, price float64, ts time.Time) map[string]bool {
	fired := make(map[string]bool)
	if !eng.t.Alive() {
		return fired
	}
	entries := eng.reg.forSymbol(symbol)
	if len(entries) == 0 {
		return fired
	}
	eng.evals.Add(int64(len(entries)))

	workers := eng.cfg.Workers
	if workers > len(entries) {
		workers = len(entries)
	}
	if workers <= 1 {
		for _, e := range entries {
			if id, hit := eng.evaluate(e, price, ts); id != "" {
				fired[id] = hit
			}
		}
		return fired
	}

	work := make(chan *entry)
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for e := range work {
				id, hit := eng.evaluate(e, price, ts)
				if id == "" {
					continue
				}
				mu.Lock()
				fired[id] = hit
				mu.Unlock()
			}
		}()
	}
	for _, e := range entries {
		work <- e
	}
	close(work)
	wg.Wait()
	return fired
}

// evaluate runs one order's trigger rule under its lane and returns the
// order id ("" when the order was skipped as cancelled or already
// finished) plus whether a submission fired. The triggered state is
// transient: a firing order is promoted to submitted under the same lane
// hold, so triggered is never observable from outside.
func (eng *Engine) evaluate(e *entry, price float64, ts time.Time) (string, bool) {
	e.mu.Lock()
	o := e.order
	if e.cancelReq.Load() || o.State.Terminal() {
		e.mu.Unlock()
		return "", false
	}
	id := o.ID
	o.LastEvaluatedAt = ts
	e.lastPrice = price

	if o.Expired(ts) {
		rep, cancels := eng.terminalLocked(e, domain.StateExpired, "expired", price)
		e.mu.Unlock()
		eng.finishTerminal(e, rep, cancels)
		return id, false
	}

	var task *submitTask
	var dropped []string
	switch o.Strategy {
	case domain.StrategyStopLoss:
		task = eng.evalStopLoss(e, price)
	case domain.StrategyTrailingStop:
		task = eng.evalTrailingStop(e, price)
	case domain.StrategyBracket:
		task, dropped = eng.evalBracket(e, price)
	case domain.StrategyIceberg, domain.StrategyTWAP, domain.StrategyVWAP:
		// Clock-driven; a tick only refreshes the price recorded above.
	default:
		eng.evalErrs.Add(1)
		eng.log.Error("unknown strategy", "order_id", id, "strategy", o.Strategy)
	}

	var rep OrderReport
	if task != nil {
		rep = reportLocked(o, price, "triggered")
	}
	e.mu.Unlock()

	for _, childID := range dropped {
		eng.cancelChildAsync(childID)
	}
	if task == nil {
		return id, false
	}
	eng.publish(rep)
	eng.dispatch(task)
	return id, true
}

// evalStopLoss fires once price crosses the stop on the adverse side: at or
// below for a sell stop, at or above for a buy stop.
func (eng *Engine) evalStopLoss(e *entry, price float64) *submitTask {
	o := e.order
	if o.State != domain.StatePending || e.submitting {
		return nil
	}
	p := o.Params.StopLoss
	crossed := (o.Side == domain.SideSell && price <= p.StopPrice) ||
		(o.Side == domain.SideBuy && price >= p.StopPrice)
	if !crossed {
		return nil
	}
	o.TriggerPrice = price
	return eng.newSubmissionLocked(e, o.Remaining(), p.LimitPrice, o.Side)
}

// evalTrailingStop ratchets the high-water mark in the favorable direction,
// then fires when price retraces through the trailing level. For a sell the
// mark is the highest price seen since registration; for a buy, the lowest.
func (eng *Engine) evalTrailingStop(e *entry, price float64) *submitTask {
	o := e.order
	if o.State != domain.StateArmed || e.submitting {
		return nil
	}
	if o.Side == domain.SideSell && price > o.HighWaterMark {
		o.HighWaterMark = price
		eng.persist(persistUpdate, o)
		return nil
	}
	if o.Side == domain.SideBuy && price < o.HighWaterMark {
		o.HighWaterMark = price
		eng.persist(persistUpdate, o)
		return nil
	}
	stop := trailingStopLevel(o.HighWaterMark, o.Params.TrailingStop, o.Side)
	crossed := (o.Side == domain.SideSell && price <= stop) ||
		(o.Side == domain.SideBuy && price >= stop)
	if !crossed {
		return nil
	}
	o.TriggerPrice = price
	return eng.newSubmissionLocked(e, o.Remaining(), 0, o.Side)
}

// trailingStopLevel computes the stop level implied by the current mark.
// TrailPercent is a fraction: 0.05 trails five percent off the mark.
func trailingStopLevel(mark float64, p *domain.TrailingStopParams, side domain.Side) float64 {
	if side == domain.SideSell {
		if p.TrailAmount > 0 {
			return mark - p.TrailAmount
		}
		return mark * (1 - p.TrailPercent)
	}
	if p.TrailAmount > 0 {
		return mark + p.TrailAmount
	}
	return mark * (1 + p.TrailPercent)
}

// evalBracket drives the two-phase bracket. Side is the exit side, so a
// long bracket (buy entry, sell exits) carries SideSell. Pending: a
// favorable touch of the entry price submits the entry leg as a limit.
// Armed: the first exit level hit submits that leg and cancels the sibling
// in the same pass; a still-live entry child is dropped and its unfilled
// quantity written off, since only the established position can exit. When
// one tick gaps through both exit levels the protective stop wins.
// Returned child ids need venue cancels issued off the lane.
func (eng *Engine) evalBracket(e *entry, price float64) (*submitTask, []string) {
	o := e.order
	p := o.Params.Bracket
	if e.submitting {
		return nil, nil
	}

	switch o.State {
	case domain.StatePending:
		if o.Legs.Entry != domain.LegPending {
			return nil, nil
		}
		entryHit := (o.Side == domain.SideSell && price <= p.EntryPrice) ||
			(o.Side == domain.SideBuy && price >= p.EntryPrice)
		if !entryHit {
			return nil, nil
		}
		o.TriggerPrice = price
		task := eng.newSubmissionLocked(e, o.Quantity, p.EntryPrice, o.Side.Opposite())
		o.Legs.Entry = domain.LegSubmitted
		e.entryChildID = task.child.ID
		return task, nil

	case domain.StateArmed:
		var hitTarget, hitStop bool
		if o.Side == domain.SideSell {
			hitTarget = price >= p.TargetPrice
			hitStop = price <= p.StopPrice
		} else {
			hitTarget = price <= p.TargetPrice
			hitStop = price >= p.StopPrice
		}
		exitQty := o.Legs.EntryFilled - o.FilledQuantity
		if exitQty <= 0 {
			return nil, nil
		}

		var task *submitTask
		switch {
		case hitStop && o.Legs.Stop == domain.LegPending:
			dropped := eng.closeEntryLegLocked(e)
			o.TriggerPrice = price
			task = eng.newSubmissionLocked(e, exitQty, 0, o.Side)
			o.Legs.Stop = domain.LegSubmitted
			if o.Legs.Target == domain.LegPending {
				o.Legs.Target = domain.LegCancelled
			}
			return task, dropped
		case hitTarget && o.Legs.Target == domain.LegPending:
			dropped := eng.closeEntryLegLocked(e)
			o.TriggerPrice = price
			task = eng.newSubmissionLocked(e, exitQty, p.TargetPrice, o.Side)
			o.Legs.Target = domain.LegSubmitted
			if o.Legs.Stop == domain.LegPending {
				o.Legs.Stop = domain.LegCancelled
			}
			return task, dropped
		}
	}
	return nil, nil
}

// closeEntryLegLocked retires the entry leg at exit time: any still-live
// entry child is dropped for venue cancellation and the never-established
// quantity is written off, so the order reconciles on exit fills alone.
func (eng *Engine) closeEntryLegLocked(e *entry) []string {
	o := e.order
	var dropped []string
	if e.entryChildID != "" {
		if _, live := e.liveChildren[e.entryChildID]; live {
			eng.dropChildLocked(e, e.entryChildID)
			dropped = append(dropped, e.entryChildID)
		}
		e.entryChildID = ""
	}
	o.CancelledQuantity = o.Quantity - o.Legs.EntryFilled
	return dropped
}
