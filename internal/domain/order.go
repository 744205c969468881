// Package domain defines the core data types shared across the altair
// engine: conditional orders and their strategy parameters, broker
// performance snapshots, routing criteria and decisions, split plans, and
// the error taxonomy surfaced to callers.
package domain

import (
	"time"
)

// ---------------------------------------------------------------------------
// Enums
// ---------------------------------------------------------------------------

// Side is the direction of the order submitted when a strategy fires. For
// protective strategies (stop-loss, trailing-stop, bracket) it is the exit
// side: sell closes a long position, buy closes a short.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// StrategyType identifies the conditional-order strategy variant.
type StrategyType string

const (
	StrategyStopLoss     StrategyType = "stop_loss"
	StrategyTrailingStop StrategyType = "trailing_stop"
	StrategyBracket      StrategyType = "bracket"
	StrategyIceberg      StrategyType = "iceberg"
	StrategyTWAP         StrategyType = "twap"
	StrategyVWAP         StrategyType = "vwap"
)

// Valid reports whether t is a known strategy type.
func (t StrategyType) Valid() bool {
	switch t {
	case StrategyStopLoss, StrategyTrailingStop, StrategyBracket,
		StrategyIceberg, StrategyTWAP, StrategyVWAP:
		return true
	}
	return false
}

// OrderState is the lifecycle state of a conditional order.
type OrderState string

const (
	StatePending         OrderState = "pending"
	StateArmed           OrderState = "armed"
	StateTriggered       OrderState = "triggered"
	StateSubmitted       OrderState = "submitted"
	StatePartiallyFilled OrderState = "partially_filled"
	StateFilled          OrderState = "filled"
	StateRejected        OrderState = "rejected"
	StateCancelled       OrderState = "cancelled"
	StateExpired         OrderState = "expired"
)

// Terminal reports whether s is a terminal state. Orders in a terminal state
// are evicted from the registry once reported.
func (s OrderState) Terminal() bool {
	switch s {
	case StateFilled, StateRejected, StateCancelled, StateExpired:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Strategy parameters
// ---------------------------------------------------------------------------

// StopLossParams configures a stop-loss order. LimitPrice == 0 means the
// triggered child is submitted as a market order.
type StopLossParams struct {
	StopPrice  float64 `json:"stop_price"`
	LimitPrice float64 `json:"limit_price,omitempty"`
}

// TrailingStopParams configures a trailing stop. Exactly one of TrailAmount
// and TrailPercent must be set. ReferencePrice seeds the high-water mark at
// registration.
type TrailingStopParams struct {
	ReferencePrice float64 `json:"reference_price"`
	TrailAmount    float64 `json:"trail_amount,omitempty"`
	TrailPercent   float64 `json:"trail_percent,omitempty"`
}

// BracketParams configures a bracket: an entry leg plus target/stop exit
// legs with one-cancels-other semantics between the exits.
type BracketParams struct {
	EntryPrice  float64 `json:"entry_price"`
	TargetPrice float64 `json:"target_price"`
	StopPrice   float64 `json:"stop_price"`
}

// IcebergParams configures an iceberg: only DisplayQuantity is ever live at
// the broker at once.
type IcebergParams struct {
	DisplayQuantity int64 `json:"display_quantity"`
}

// TWAPParams configures time-weighted slicing across a window.
type TWAPParams struct {
	WindowMinutes        int `json:"window_minutes"`
	SliceIntervalMinutes int `json:"slice_interval_minutes"`
}

// VWAPParams configures volume-weighted slicing. When ExpectedIntervalVolume
// is positive, non-final slices are capped at
// ParticipationRate * ExpectedIntervalVolume.
type VWAPParams struct {
	WindowMinutes          int     `json:"window_minutes"`
	SliceIntervalMinutes   int     `json:"slice_interval_minutes"`
	ParticipationRate      float64 `json:"participation_rate"`
	ExpectedIntervalVolume int64   `json:"expected_interval_volume,omitempty"`
}

// StrategyParams is a tagged variant: exactly one branch is non-nil, and it
// must match the order's StrategyType.
type StrategyParams struct {
	StopLoss     *StopLossParams     `json:"stop_loss,omitempty"`
	TrailingStop *TrailingStopParams `json:"trailing_stop,omitempty"`
	Bracket      *BracketParams      `json:"bracket,omitempty"`
	Iceberg      *IcebergParams      `json:"iceberg,omitempty"`
	TWAP         *TWAPParams         `json:"twap,omitempty"`
	VWAP         *VWAPParams         `json:"vwap,omitempty"`
}

// branches returns the number of non-nil variants.
func (p StrategyParams) branches() int {
	n := 0
	if p.StopLoss != nil {
		n++
	}
	if p.TrailingStop != nil {
		n++
	}
	if p.Bracket != nil {
		n++
	}
	if p.Iceberg != nil {
		n++
	}
	if p.TWAP != nil {
		n++
	}
	if p.VWAP != nil {
		n++
	}
	return n
}

// Matches reports whether the single non-nil branch corresponds to t.
func (p StrategyParams) Matches(t StrategyType) bool {
	switch t {
	case StrategyStopLoss:
		return p.StopLoss != nil
	case StrategyTrailingStop:
		return p.TrailingStop != nil
	case StrategyBracket:
		return p.Bracket != nil
	case StrategyIceberg:
		return p.Iceberg != nil
	case StrategyTWAP:
		return p.TWAP != nil
	case StrategyVWAP:
		return p.VWAP != nil
	}
	return false
}

// ---------------------------------------------------------------------------
// Bracket leg tracking
// ---------------------------------------------------------------------------

// LegState tracks one leg of a bracket order.
type LegState string

const (
	LegPending   LegState = "pending"
	LegSubmitted LegState = "submitted"
	LegFilled    LegState = "filled"
	LegCancelled LegState = "cancelled"
)

// BracketLegs records per-leg progress for a bracket order. Exactly one of
// Target/Stop ever reaches LegSubmitted; the sibling is cancelled in the
// same evaluation pass.
type BracketLegs struct {
	Entry       LegState `json:"entry"`
	EntryFilled int64    `json:"entry_filled"`
	Target      LegState `json:"target"`
	Stop        LegState `json:"stop"`
}

// NewBracketLegs returns the initial leg state for a freshly registered
// bracket order.
func NewBracketLegs() *BracketLegs {
	return &BracketLegs{Entry: LegPending, Target: LegPending, Stop: LegPending}
}

// ---------------------------------------------------------------------------
// ConditionalOrder
// ---------------------------------------------------------------------------

// ConditionalOrder is a strategy-driven order registered with the engine.
// It is mutated only under its serialization lane.
type ConditionalOrder struct {
	ID            string         `json:"id"`
	ParentOrderID string         `json:"parent_order_id,omitempty"`
	Symbol        string         `json:"symbol"`
	Side          Side           `json:"side"`
	Quantity      int64          `json:"quantity"`
	Strategy      StrategyType   `json:"strategy"`
	Params        StrategyParams `json:"params"`
	State         OrderState     `json:"state"`

	CreatedAt       time.Time `json:"created_at"`
	LastEvaluatedAt time.Time `json:"last_evaluated_at,omitempty"`
	// ExpiresAt zero means the order never expires.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// TriggerPrice is the price that fired the strategy, set on transition
	// to triggered. HighWaterMark is maintained by trailing stops.
	TriggerPrice  float64 `json:"trigger_price,omitempty"`
	HighWaterMark float64 `json:"high_water_mark,omitempty"`

	ChildOrderIDs     []string `json:"child_order_ids,omitempty"`
	FilledQuantity    int64    `json:"filled_quantity"`
	CancelledQuantity int64    `json:"cancelled_quantity"`
	Attempts          int      `json:"attempts"`

	// Legs is populated for bracket orders only.
	Legs *BracketLegs `json:"legs,omitempty"`
}

// Remaining returns the quantity not yet filled or cancelled. The invariant
// Filled + Remaining + Cancelled == Quantity holds at all times.
func (o *ConditionalOrder) Remaining() int64 {
	return o.Quantity - o.FilledQuantity - o.CancelledQuantity
}

// Expired reports whether the order has an expiry and it is at or before now.
func (o *ConditionalOrder) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}

// Clone returns a deep copy safe to hand outside the order's lane.
func (o *ConditionalOrder) Clone() *ConditionalOrder {
	c := *o
	if o.ChildOrderIDs != nil {
		c.ChildOrderIDs = make([]string, len(o.ChildOrderIDs))
		copy(c.ChildOrderIDs, o.ChildOrderIDs)
	}
	if o.Legs != nil {
		legs := *o.Legs
		c.Legs = &legs
	}
	c.Params = cloneParams(o.Params)
	return &c
}

func cloneParams(p StrategyParams) StrategyParams {
	var c StrategyParams
	if p.StopLoss != nil {
		v := *p.StopLoss
		c.StopLoss = &v
	}
	if p.TrailingStop != nil {
		v := *p.TrailingStop
		c.TrailingStop = &v
	}
	if p.Bracket != nil {
		v := *p.Bracket
		c.Bracket = &v
	}
	if p.Iceberg != nil {
		v := *p.Iceberg
		c.Iceberg = &v
	}
	if p.TWAP != nil {
		v := *p.TWAP
		c.TWAP = &v
	}
	if p.VWAP != nil {
		v := *p.VWAP
		c.VWAP = &v
	}
	return c
}

// Validate checks the order at registration time. A failing order never
// enters the registry.
func (o *ConditionalOrder) Validate() error {
	if o.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "required"}
	}
	if !o.Side.Valid() {
		return &ValidationError{Field: "side", Reason: "must be buy or sell"}
	}
	if o.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if !o.Strategy.Valid() {
		return &ValidationError{Field: "strategy", Reason: "unknown strategy type"}
	}
	if o.Params.branches() != 1 {
		return &ValidationError{Field: "params", Reason: "exactly one parameter variant must be set"}
	}
	if !o.Params.Matches(o.Strategy) {
		return &ValidationError{Field: "params", Reason: "parameter variant does not match strategy"}
	}
	return o.validateParams()
}

func (o *ConditionalOrder) validateParams() error {
	switch o.Strategy {
	case StrategyStopLoss:
		p := o.Params.StopLoss
		if p.StopPrice <= 0 {
			return &ValidationError{Field: "stop_price", Reason: "must be positive"}
		}
		if p.LimitPrice < 0 {
			return &ValidationError{Field: "limit_price", Reason: "must not be negative"}
		}

	case StrategyTrailingStop:
		p := o.Params.TrailingStop
		if p.ReferencePrice <= 0 {
			return &ValidationError{Field: "reference_price", Reason: "must be positive"}
		}
		hasAmount := p.TrailAmount > 0
		hasPercent := p.TrailPercent > 0
		if hasAmount == hasPercent {
			return &ValidationError{Field: "trail", Reason: "exactly one of trail_amount and trail_percent must be set"}
		}
		if p.TrailAmount < 0 || p.TrailPercent < 0 {
			return &ValidationError{Field: "trail", Reason: "must not be negative"}
		}
		if p.TrailPercent >= 1 {
			return &ValidationError{Field: "trail_percent", Reason: "must be a fraction below 1"}
		}

	case StrategyBracket:
		p := o.Params.Bracket
		if p.EntryPrice <= 0 || p.TargetPrice <= 0 || p.StopPrice <= 0 {
			return &ValidationError{Field: "bracket", Reason: "entry, target, and stop prices must be positive"}
		}
		// For a long bracket (sell exits) the target sits above the stop;
		// for a short bracket the relationship flips.
		if o.Side == SideSell && p.TargetPrice <= p.StopPrice {
			return &ValidationError{Field: "bracket", Reason: "target price must exceed stop price"}
		}
		if o.Side == SideBuy && p.TargetPrice >= p.StopPrice {
			return &ValidationError{Field: "bracket", Reason: "target price must be below stop price"}
		}

	case StrategyIceberg:
		p := o.Params.Iceberg
		if p.DisplayQuantity <= 0 {
			return &ValidationError{Field: "display_quantity", Reason: "must be positive"}
		}
		if p.DisplayQuantity > o.Quantity {
			return &ValidationError{Field: "display_quantity", Reason: "must not exceed order quantity"}
		}

	case StrategyTWAP:
		p := o.Params.TWAP
		if p.WindowMinutes <= 0 || p.SliceIntervalMinutes <= 0 {
			return &ValidationError{Field: "twap", Reason: "window and slice interval must be positive"}
		}
		if p.SliceIntervalMinutes > p.WindowMinutes {
			return &ValidationError{Field: "slice_interval_minutes", Reason: "must not exceed window"}
		}

	case StrategyVWAP:
		p := o.Params.VWAP
		if p.WindowMinutes <= 0 || p.SliceIntervalMinutes <= 0 {
			return &ValidationError{Field: "vwap", Reason: "window and slice interval must be positive"}
		}
		if p.SliceIntervalMinutes > p.WindowMinutes {
			return &ValidationError{Field: "slice_interval_minutes", Reason: "must not exceed window"}
		}
		if p.ParticipationRate <= 0 || p.ParticipationRate > 1 {
			return &ValidationError{Field: "participation_rate", Reason: "must be in (0, 1]"}
		}
		if p.ExpectedIntervalVolume < 0 {
			return &ValidationError{Field: "expected_interval_volume", Reason: "must not be negative"}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// ChildOrder
// ---------------------------------------------------------------------------

// ChildOrder is a concrete submission produced by the engine (a triggered
// order or a single slice) or by a split plan. LimitPrice == 0 submits at
// market.
type ChildOrder struct {
	ID         string    `json:"id"`
	ParentID   string    `json:"parent_id"`
	BrokerID   string    `json:"broker_id,omitempty"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   int64     `json:"quantity"`
	LimitPrice float64   `json:"limit_price,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
