// Package engine runs conditional order strategies against a live price
// feed. Each registered order owns a serialization lane: every evaluation,
// fill, timer firing and control operation for that order runs under its
// lane, so state transitions are strictly ordered per order while distinct
// orders proceed in parallel. Gateway I/O never happens on a lane; a
// submission is recorded optimistically, executed off-lane, and confirmed
// or rolled back by re-acquiring the lane.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gopkg.in/tomb.v2"

	"altair/internal/domain"
	"altair/internal/gateway"
	"altair/internal/store"
)

// ErrEngineClosed is returned for registrations after Close.
var ErrEngineClosed = errors.New("engine closed")

const persistQueueSize = 1024

// Config tunes the engine. Zero values take defaults.
type Config struct {
	Workers           int
	MaxSubmitAttempts int
	SubmitTimeout     time.Duration
	RetryBackoff      time.Duration
	SweepInterval     time.Duration
	// Minute is the wall-clock length of one strategy minute. Live trading
	// leaves it at time.Minute; replay shrinks it to compress TWAP/VWAP
	// schedules along with the tape.
	Minute time.Duration
	// MaxOrderQuantity and MaxOrderNotional cap individual registrations.
	// Zero means unlimited.
	MaxOrderQuantity int64
	MaxOrderNotional float64
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.MaxSubmitAttempts <= 0 {
		c.MaxSubmitAttempts = 3
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 5 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 250 * time.Millisecond
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	if c.Minute <= 0 {
		c.Minute = time.Minute
	}
	return c
}

// Engine owns the active order book: registration, price-driven evaluation,
// slice schedules, child submissions and fill accounting.
type Engine struct {
	cfg  Config
	gw   gateway.ExecutionGateway
	db   store.SnapshotStore
	log  *slog.Logger
	risk riskLimits

	reg *registry
	t   tomb.Tomb
	// lifeMu pins t.Alive checks to the t.Go that follows them: Close
	// kills under the write half, so the tomb cannot die between the two.
	lifeMu sync.RWMutex

	persistCh chan persistOp

	subsMu sync.Mutex
	subs   map[int]chan OrderReport
	subSeq int
	closed bool

	evals       atomic.Int64
	evalErrs    atomic.Int64
	submits     atomic.Int64
	submitFails atomic.Int64
}

var _ gateway.FillListener = (*Engine)(nil)

// New starts an engine over the given execution gateway. db may be nil to
// run without snapshot persistence.
func New(cfg Config, gw gateway.ExecutionGateway, db store.SnapshotStore, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	eng := &Engine{
		cfg:       cfg,
		gw:        gw,
		db:        db,
		log:       log.With("component", "engine"),
		risk:      riskLimits{maxQuantity: cfg.MaxOrderQuantity, maxNotional: cfg.MaxOrderNotional},
		reg:       newRegistry(),
		persistCh: make(chan persistOp, persistQueueSize),
		subs:      make(map[int]chan OrderReport),
	}
	eng.t.Go(eng.persistLoop)
	eng.t.Go(eng.sweepLoop)
	return eng
}

// Close stops evaluation, waits for in-flight submissions and the snapshot
// writer to drain, then closes all report subscriptions.
func (eng *Engine) Close() error {
	eng.lifeMu.Lock()
	eng.t.Kill(nil)
	eng.lifeMu.Unlock()
	err := eng.t.Wait()
	eng.drainPersist()
	eng.closeSubscribers()
	return err
}

// ---------------------------------------------------------------------------
// Registration and control
// ---------------------------------------------------------------------------

// RegisterStrategy validates and activates a conditional order, returning
// its id. The caller's struct is cloned; counters and lifecycle fields are
// reset regardless of what the caller filled in. Iceberg orders submit
// their first display slice immediately; TWAP/VWAP orders arm their slice
// schedule with the first slice due at once.
func (eng *Engine) RegisterStrategy(o *domain.ConditionalOrder) (string, error) {
	if !eng.t.Alive() {
		return "", ErrEngineClosed
	}
	ord := o.Clone()
	if ord.ID == "" {
		ord.ID = uuid.NewString()
	}
	ord.FilledQuantity = 0
	ord.CancelledQuantity = 0
	ord.Attempts = 0
	ord.TriggerPrice = 0
	ord.ChildOrderIDs = nil
	ord.LastEvaluatedAt = time.Time{}
	if ord.CreatedAt.IsZero() {
		ord.CreatedAt = time.Now().UTC()
	}
	switch ord.Strategy {
	case domain.StrategyStopLoss, domain.StrategyBracket:
		ord.State = domain.StatePending
	default:
		ord.State = domain.StateArmed
	}
	if ord.Strategy == domain.StrategyBracket {
		ord.Legs = domain.NewBracketLegs()
	} else {
		ord.Legs = nil
	}
	if ord.Strategy == domain.StrategyTrailingStop && ord.Params.TrailingStop != nil {
		ord.HighWaterMark = ord.Params.TrailingStop.ReferencePrice
	} else {
		ord.HighWaterMark = 0
	}
	if err := ord.Validate(); err != nil {
		return "", err
	}
	if err := eng.risk.check(ord); err != nil {
		return "", err
	}

	e := newEntry(ord)
	if err := eng.reg.add(e); err != nil {
		return "", err
	}
	var task *submitTask
	e.mu.Lock()
	eng.persist(persistSave, ord)
	switch ord.Strategy {
	case domain.StrategyIceberg:
		task = eng.nextIcebergSliceLocked(e)
	case domain.StrategyTWAP, domain.StrategyVWAP:
		eng.armSlicerLocked(e, 0, 0)
	}
	e.mu.Unlock()
	if task != nil {
		eng.dispatch(task)
	}
	eng.log.Info("strategy registered",
		"order_id", ord.ID, "symbol", ord.Symbol, "strategy", ord.Strategy,
		"side", ord.Side, "quantity", ord.Quantity)
	return ord.ID, nil
}

// Cancel requests cancellation of an active order. It is idempotent:
// cancelling an unknown or already finished order is a no-op and nil. The
// cancel flag is raised before taking the lane so a concurrent evaluation
// observes it no later than its next tick.
func (eng *Engine) Cancel(orderID string) error {
	e, ok := eng.reg.get(orderID)
	if !ok {
		return nil
	}
	e.cancelReq.Store(true)
	e.mu.Lock()
	if e.order.State.Terminal() {
		e.mu.Unlock()
		return nil
	}
	rep, cancels := eng.terminalLocked(e, domain.StateCancelled, "cancelled", e.lastPrice)
	e.mu.Unlock()
	eng.finishTerminal(e, rep, cancels)
	return nil
}

// Modify replaces an order's strategy parameters. Only stop-loss, trailing
// stop and bracket orders can be modified, and only while monitoring with
// no submission in flight. A trailing stop re-seeds its high-water mark
// from the new reference price.
func (eng *Engine) Modify(orderID string, params domain.StrategyParams) error {
	e, ok := eng.reg.get(orderID)
	if !ok {
		return domain.ErrOrderNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	o := e.order
	if o.State.Terminal() {
		return domain.ErrOrderTerminal
	}
	switch o.Strategy {
	case domain.StrategyIceberg, domain.StrategyTWAP, domain.StrategyVWAP:
		return &domain.ValidationError{Field: "strategy", Reason: "slicing orders cannot be modified"}
	}
	if o.State != domain.StatePending && o.State != domain.StateArmed {
		return &domain.ValidationError{Field: "state", Reason: "order is past monitoring"}
	}
	if e.submitting {
		return &domain.ValidationError{Field: "state", Reason: "submission in flight"}
	}
	trial := o.Clone()
	trial.Params = params
	if err := trial.Validate(); err != nil {
		return err
	}
	o.Params = trial.Clone().Params
	if o.Strategy == domain.StrategyTrailingStop {
		o.HighWaterMark = o.Params.TrailingStop.ReferencePrice
	}
	eng.persist(persistUpdate, o)
	eng.log.Info("strategy modified", "order_id", o.ID, "strategy", o.Strategy)
	return nil
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// GetOrder returns a snapshot of an active order.
func (eng *Engine) GetOrder(orderID string) (*domain.ConditionalOrder, error) {
	e, ok := eng.reg.get(orderID)
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	e.mu.Lock()
	o := e.order.Clone()
	e.mu.Unlock()
	return o, nil
}

// ListActive returns snapshots of every active order, oldest first.
func (eng *Engine) ListActive() []*domain.ConditionalOrder {
	entries := eng.reg.all()
	out := make([]*domain.ConditionalOrder, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.order.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveCount returns the number of active orders.
func (eng *Engine) ActiveCount() int { return eng.reg.count() }

// ActiveByStrategy returns active order counts keyed by strategy.
func (eng *Engine) ActiveByStrategy() map[domain.StrategyType]int {
	return eng.reg.countByStrategy()
}

// HealthScore folds the evaluation error rate and submission failure rate
// into a single 0..1 figure, 1 meaning fully healthy.
func (eng *Engine) HealthScore() float64 {
	var evalErrRate, submitFailRate float64
	if evals := eng.evals.Load(); evals > 0 {
		evalErrRate = float64(eng.evalErrs.Load()) / float64(evals)
	}
	fails := eng.submitFails.Load()
	if attempts := eng.submits.Load() + fails; attempts > 0 {
		submitFailRate = float64(fails) / float64(attempts)
	}
	h := 1 - 0.5*submitFailRate - 0.5*evalErrRate
	if h < 0 {
		return 0
	}
	if h > 1 {
		return 1
	}
	return h
}

// Stats is a point-in-time snapshot of engine activity.
type Stats struct {
	ActiveOrders   int                         `json:"active_orders"`
	ByStrategy     map[domain.StrategyType]int `json:"by_strategy"`
	Evaluations    int64                       `json:"evaluations"`
	EvalErrors     int64                       `json:"eval_errors"`
	Submissions    int64                       `json:"submissions"`
	SubmitFailures int64                       `json:"submit_failures"`
	Health         float64                     `json:"health"`
}

// Stats reports counters since start plus the current health score.
func (eng *Engine) Stats() Stats {
	return Stats{
		ActiveOrders:   eng.reg.count(),
		ByStrategy:     eng.reg.countByStrategy(),
		Evaluations:    eng.evals.Load(),
		EvalErrors:     eng.evalErrs.Load(),
		Submissions:    eng.submits.Load(),
		SubmitFailures: eng.submitFails.Load(),
		Health:         eng.HealthScore(),
	}
}

// ---------------------------------------------------------------------------
// Recovery
// ---------------------------------------------------------------------------

// Restore loads active orders from the snapshot store and re-arms them.
// Orders recovered mid-submission rewind to their monitoring state, since
// the child outcome was lost with the process; TWAP/VWAP schedules resume
// at the position the wall clock dictates; iceberg orders submit a fresh
// display slice. Returns the number of orders restored.
func (eng *Engine) Restore(ctx context.Context) (int, error) {
	if eng.db == nil {
		return 0, nil
	}
	orders, err := eng.db.LoadActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading active orders: %w", err)
	}
	now := time.Now().UTC()
	restored := 0
	for i := range orders {
		ord := orders[i].Clone()
		revertInFlight(ord)
		e := newEntry(ord)
		if err := eng.reg.add(e); err != nil {
			eng.log.Warn("skipping duplicate order on restore", "order_id", ord.ID)
			continue
		}
		var task *submitTask
		e.mu.Lock()
		switch ord.Strategy {
		case domain.StrategyTWAP, domain.StrategyVWAP:
			eng.rearmSlicerLocked(e, now)
		case domain.StrategyIceberg:
			task = eng.nextIcebergSliceLocked(e)
		}
		e.mu.Unlock()
		if task != nil {
			eng.dispatch(task)
		}
		restored++
	}
	if restored > 0 {
		eng.log.Info("restored active orders", "count", restored)
	}
	return restored, nil
}

// revertInFlight rewinds an order that was snapshotted mid-submission back
// to the state evaluation would trigger from. A bracket whose exit leg was
// in flight re-opens both exit legs so the one-cancels-other decision is
// made again against live prices.
func revertInFlight(o *domain.ConditionalOrder) {
	if o.State != domain.StateSubmitted && o.State != domain.StateTriggered {
		return
	}
	switch o.Strategy {
	case domain.StrategyStopLoss:
		o.State = domain.StatePending
		o.TriggerPrice = 0
	case domain.StrategyTrailingStop:
		o.State = domain.StateArmed
		o.TriggerPrice = 0
	case domain.StrategyBracket:
		if o.Legs == nil {
			o.Legs = domain.NewBracketLegs()
		}
		if o.Legs.EntryFilled > 0 {
			o.State = domain.StateArmed
			if o.Legs.Target != domain.LegFilled {
				o.Legs.Target = domain.LegPending
			}
			if o.Legs.Stop != domain.LegFilled {
				o.Legs.Stop = domain.LegPending
			}
		} else {
			o.State = domain.StatePending
			o.Legs.Entry = domain.LegPending
		}
	case domain.StrategyIceberg, domain.StrategyTWAP, domain.StrategyVWAP:
		if o.FilledQuantity > 0 {
			o.State = domain.StatePartiallyFilled
		} else {
			o.State = domain.StateArmed
		}
	}
}

// rearmSlicerLocked resumes a recovered TWAP/VWAP schedule at the position
// elapsed wall time dictates, firing next on the original interval
// boundary. Past the window end, the first firing expires the remainder.
func (eng *Engine) rearmSlicerLocked(e *entry, now time.Time) {
	o := e.order
	var intervalMin int
	switch o.Strategy {
	case domain.StrategyTWAP:
		intervalMin = o.Params.TWAP.SliceIntervalMinutes
	case domain.StrategyVWAP:
		intervalMin = o.Params.VWAP.SliceIntervalMinutes
	default:
		return
	}
	interval := time.Duration(intervalMin) * eng.cfg.Minute
	fired := 0
	if elapsed := now.Sub(o.CreatedAt); elapsed > 0 {
		fired = 1 + int(elapsed/interval)
	}
	delay := o.CreatedAt.Add(time.Duration(fired) * interval).Sub(now)
	if delay < 0 {
		delay = 0
	}
	eng.armSlicerLocked(e, fired, delay)
}

// ---------------------------------------------------------------------------
// Expiry sweep
// ---------------------------------------------------------------------------

func (eng *Engine) sweepLoop() error {
	ticker := time.NewTicker(eng.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			eng.sweepExpired(time.Now().UTC())
		case <-eng.t.Dying():
			return nil
		}
	}
}

// sweepExpired expires overdue orders that price evaluation alone would
// miss, e.g. on a symbol with no ticks flowing. Returns how many expired.
func (eng *Engine) sweepExpired(now time.Time) int {
	expired := 0
	for _, e := range eng.reg.all() {
		e.mu.Lock()
		if e.cancelReq.Load() || e.order.State.Terminal() || !e.order.Expired(now) {
			e.mu.Unlock()
			continue
		}
		rep, cancels := eng.terminalLocked(e, domain.StateExpired, "expired", e.lastPrice)
		e.mu.Unlock()
		eng.finishTerminal(e, rep, cancels)
		expired++
	}
	return expired
}

// ---------------------------------------------------------------------------
// Terminal transitions
// ---------------------------------------------------------------------------

// terminalLocked finalizes an order under its lane: the slicer stops, live
// children are collected for cancellation, the unfilled remainder is
// written off where the terminal state calls for it, and the final
// snapshot is persisted before the delete so a crash in between never
// resurrects the order as active. Venue cancellation is left to the caller
// to run off the lane.
func (eng *Engine) terminalLocked(e *entry, state domain.OrderState, reason string, price float64) (OrderReport, []string) {
	o := e.order
	e.stopSlicerLocked()
	e.submitting = false
	cancels := make([]string, 0, len(e.liveChildren))
	for id := range e.liveChildren {
		cancels = append(cancels, id)
	}
	sort.Strings(cancels)
	e.liveChildren = make(map[string]*liveChild)
	switch state {
	case domain.StateCancelled, domain.StateExpired, domain.StateRejected:
		o.CancelledQuantity = o.Quantity - o.FilledQuantity
	}
	o.State = state
	eng.persist(persistUpdate, o)
	eng.persist(persistDelete, o)
	return reportLocked(o, price, reason), cancels
}

// finishTerminal completes a terminal transition off the lane: venue
// cancels for children still live, registry removal, report fan-out. The
// cancels run on plain goroutines so they still go out while the engine is
// shutting down.
func (eng *Engine) finishTerminal(e *entry, rep OrderReport, cancels []string) {
	for _, childID := range cancels {
		eng.cancelChildAsync(childID)
	}
	eng.reg.remove(e.order.ID)
	eng.publish(rep)
	eng.log.Info("order finished",
		"order_id", rep.OrderID, "symbol", rep.Symbol, "state", rep.State,
		"reason", rep.Reason, "filled", rep.FilledQuantity, "cancelled", rep.CancelledQty)
}

// cancelChildAsync issues a venue cancel on its own goroutine, detached
// from the engine lifecycle so cancels still go out during shutdown.
func (eng *Engine) cancelChildAsync(childID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eng.cfg.SubmitTimeout)
		defer cancel()
		if err := eng.gw.Cancel(ctx, childID); err != nil {
			eng.log.Warn("cancelling child order", "child_id", childID, "error", err)
		}
	}()
}

// ---------------------------------------------------------------------------
// Snapshot write-behind
// ---------------------------------------------------------------------------

type persistKind int8

const (
	persistSave persistKind = iota
	persistUpdate
	persistDelete
)

type persistOp struct {
	kind  persistKind
	id    string
	order *domain.ConditionalOrder
}

// persist enqueues a snapshot write. Called under the order's lane: the
// clone is taken here so the writer never touches live state. Writes are
// best-effort behind a buffered queue; a full queue drops the write with a
// warning rather than stalling evaluation.
func (eng *Engine) persist(kind persistKind, o *domain.ConditionalOrder) {
	if eng.db == nil {
		return
	}
	op := persistOp{kind: kind, id: o.ID}
	if kind != persistDelete {
		op.order = o.Clone()
	}
	select {
	case eng.persistCh <- op:
	default:
		eng.log.Warn("snapshot queue full, dropping write", "order_id", o.ID)
	}
}

func (eng *Engine) persistLoop() error {
	for {
		select {
		case op := <-eng.persistCh:
			eng.applyPersist(op)
		case <-eng.t.Dying():
			for {
				select {
				case op := <-eng.persistCh:
					eng.applyPersist(op)
				default:
					return nil
				}
			}
		}
	}
}

// drainPersist applies writes enqueued after the write-behind loop already
// exited, e.g. reverts from submissions that aborted during shutdown. Runs
// after t.Wait, when no lane can enqueue anymore.
func (eng *Engine) drainPersist() {
	for {
		select {
		case op := <-eng.persistCh:
			eng.applyPersist(op)
		default:
			return
		}
	}
}

func (eng *Engine) applyPersist(op persistOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	switch op.kind {
	case persistSave:
		err = eng.db.SaveOrder(ctx, op.order)
	case persistUpdate:
		err = eng.db.UpdateOrder(ctx, op.order)
	case persistDelete:
		err = eng.db.DeleteOrder(ctx, op.id)
	}
	if err != nil {
		eng.log.Warn("persisting order snapshot", "order_id", op.id, "error", err)
	}
}
