package engine

import (
	"time"

	"altair/internal/domain"
)

// ---------------------------------------------------------------------------
// Slice math
// ---------------------------------------------------------------------------

// slicesFor returns the total number of slices across a window: the ceiling
// of window over interval, so a partial trailing interval still gets a slice.
func slicesFor(windowMinutes, intervalMinutes int) int {
	if windowMinutes <= 0 || intervalMinutes <= 0 {
		return 0
	}
	return (windowMinutes + intervalMinutes - 1) / intervalMinutes
}

// twapSliceQuantity is the next even-schedule slice: floor of remaining over
// slices left. The final slice takes everything, so partial fills are
// absorbed into later slices rather than re-added, and the schedule always
// reconciles to the remaining quantity exactly.
func twapSliceQuantity(remaining int64, slicesLeft int) int64 {
	if remaining <= 0 || slicesLeft <= 0 {
		return 0
	}
	if slicesLeft == 1 {
		return remaining
	}
	return remaining / int64(slicesLeft)
}

// vwapWeights returns U-shaped intraday volume weights for n buckets,
// u(x) = 1 + 1.5*(2x-1)^2 over bucket midpoints: open and close trade
// heavier than midday, the usual US equity session shape.
func vwapWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		x := (float64(i) + 0.5) / float64(n)
		d := 2*x - 1
		w[i] = 1 + 1.5*d*d
	}
	return w
}

// vwapSliceQuantity sizes slice number fired (zero-based) out of total: the
// remaining quantity distributed over the still-unfired buckets by volume
// weight. capQty > 0 bounds non-final slices (the participation cap); the
// final slice is never capped so the window reconciles exactly.
func vwapSliceQuantity(remaining int64, fired, total int, capQty int64) int64 {
	if remaining <= 0 || fired < 0 || fired >= total {
		return 0
	}
	if total-fired == 1 {
		return remaining
	}
	w := vwapWeights(total)
	var sum float64
	for _, v := range w[fired:] {
		sum += v
	}
	qty := int64(float64(remaining) * w[fired] / sum)
	if qty < 1 {
		qty = 1
	}
	if capQty > 0 && qty > capQty {
		qty = capQty
	}
	if qty > remaining {
		qty = remaining
	}
	return qty
}

// participationCap returns the per-slice quantity bound, or 0 when no
// expected interval volume was supplied.
func participationCap(p *domain.VWAPParams) int64 {
	if p.ExpectedIntervalVolume <= 0 {
		return 0
	}
	capQty := int64(p.ParticipationRate * float64(p.ExpectedIntervalVolume))
	if capQty < 1 {
		capQty = 1
	}
	return capQty
}

// ---------------------------------------------------------------------------
// Slice timer
// ---------------------------------------------------------------------------

// armSlicerLocked sets up slice bookkeeping and starts the timer goroutine.
// Called under the lane. fired is the number of slices already taken (zero
// for a fresh order, recomputed from elapsed time on recovery); firstDelay
// is the wait before the first firing.
func (eng *Engine) armSlicerLocked(e *entry, fired int, firstDelay time.Duration) {
	o := e.order
	var windowMin, intervalMin int
	switch o.Strategy {
	case domain.StrategyTWAP:
		windowMin, intervalMin = o.Params.TWAP.WindowMinutes, o.Params.TWAP.SliceIntervalMinutes
	case domain.StrategyVWAP:
		windowMin, intervalMin = o.Params.VWAP.WindowMinutes, o.Params.VWAP.SliceIntervalMinutes
	default:
		return
	}
	e.totalSlices = slicesFor(windowMin, intervalMin)
	e.slicesFired = fired
	stop := make(chan struct{})
	e.sliceStop = stop

	interval := time.Duration(intervalMin) * eng.cfg.Minute
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	if !eng.t.Alive() {
		return
	}
	eng.t.Go(func() error {
		eng.runSlicer(e, stop, interval, firstDelay)
		return nil
	})
}

// runSlicer drives one order's slice schedule until the order finishes, the
// stop channel closes (cancel, fill, expiry under the lane), or the engine
// shuts down.
func (eng *Engine) runSlicer(e *entry, stop chan struct{}, interval, firstDelay time.Duration) {
	timer := time.NewTimer(firstDelay)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
		case <-stop:
			return
		case <-eng.t.Dying():
			return
		}
		if eng.fireSlice(e) {
			return
		}
		timer.Reset(interval)
	}
}

// fireSlice takes the lane and either submits the next slice or, one
// interval after the last slice, expires any unfilled remainder. It reports
// whether the schedule is finished.
func (eng *Engine) fireSlice(e *entry) bool {
	e.mu.Lock()
	o := e.order
	if e.cancelReq.Load() || o.State.Terminal() {
		e.mu.Unlock()
		return true
	}
	if e.slicesFired >= e.totalSlices {
		rep, cancels := eng.terminalLocked(e, domain.StateExpired, "window elapsed", e.lastPrice)
		e.mu.Unlock()
		eng.finishTerminal(e, rep, cancels)
		return true
	}
	task := eng.nextTimedSliceLocked(e)
	e.mu.Unlock()
	if task != nil {
		eng.dispatch(task)
	}
	return false
}

// nextTimedSliceLocked advances the schedule and builds the next TWAP/VWAP
// slice submission. Quantity in flight at the venue is excluded from the
// remaining quantity so overlapping slices never oversubmit. Returns nil
// when there is nothing to submit this interval.
func (eng *Engine) nextTimedSliceLocked(e *entry) *submitTask {
	o := e.order
	slicesLeft := e.totalSlices - e.slicesFired
	fired := e.slicesFired
	e.slicesFired++

	remaining := o.Remaining() - e.outstanding()
	if remaining <= 0 {
		return nil
	}

	var qty int64
	if o.Strategy == domain.StrategyTWAP {
		qty = twapSliceQuantity(remaining, slicesLeft)
	} else {
		qty = vwapSliceQuantity(remaining, fired, e.totalSlices, participationCap(o.Params.VWAP))
	}
	if qty <= 0 {
		return nil
	}
	return eng.newSubmissionLocked(e, qty, 0, o.Side)
}

// nextIcebergSliceLocked builds the next display slice: min(display,
// remaining not in flight). Returns nil once nothing is left to show.
func (eng *Engine) nextIcebergSliceLocked(e *entry) *submitTask {
	o := e.order
	remaining := o.Remaining() - e.outstanding()
	if remaining <= 0 {
		return nil
	}
	qty := o.Params.Iceberg.DisplayQuantity
	if qty > remaining {
		qty = remaining
	}
	return eng.newSubmissionLocked(e, qty, 0, o.Side)
}
