package domain

import (
	"testing"
	"time"
)

func validStopLoss() *ConditionalOrder {
	return &ConditionalOrder{
		ID:       "ord-1",
		Symbol:   "AAPL",
		Side:     SideSell,
		Quantity: 100,
		Strategy: StrategyStopLoss,
		Params:   StrategyParams{StopLoss: &StopLossParams{StopPrice: 180.0}},
	}
}

func TestOrderStateTerminal(t *testing.T) {
	terminal := []OrderState{StateFilled, StateRejected, StateCancelled, StateExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	live := []OrderState{StatePending, StateArmed, StateTriggered, StateSubmitted, StatePartiallyFilled}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestValidateAcceptsEveryStrategy(t *testing.T) {
	cases := []struct {
		name     string
		strategy StrategyType
		params   StrategyParams
	}{
		{"stop_loss", StrategyStopLoss, StrategyParams{StopLoss: &StopLossParams{StopPrice: 150}}},
		{"trailing_amount", StrategyTrailingStop, StrategyParams{TrailingStop: &TrailingStopParams{ReferencePrice: 200, TrailAmount: 5}}},
		{"trailing_percent", StrategyTrailingStop, StrategyParams{TrailingStop: &TrailingStopParams{ReferencePrice: 200, TrailPercent: 0.03}}},
		{"bracket", StrategyBracket, StrategyParams{Bracket: &BracketParams{EntryPrice: 100, TargetPrice: 110, StopPrice: 95}}},
		{"iceberg", StrategyIceberg, StrategyParams{Iceberg: &IcebergParams{DisplayQuantity: 10}}},
		{"twap", StrategyTWAP, StrategyParams{TWAP: &TWAPParams{WindowMinutes: 100, SliceIntervalMinutes: 10}}},
		{"vwap", StrategyVWAP, StrategyParams{VWAP: &VWAPParams{WindowMinutes: 60, SliceIntervalMinutes: 10, ParticipationRate: 0.1}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := &ConditionalOrder{
				Symbol:   "AAPL",
				Side:     SideSell,
				Quantity: 100,
				Strategy: tc.strategy,
				Params:   tc.params,
			}
			if err := o.Validate(); err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(o *ConditionalOrder)
	}{
		{"missing symbol", func(o *ConditionalOrder) { o.Symbol = "" }},
		{"bad side", func(o *ConditionalOrder) { o.Side = "hold" }},
		{"zero quantity", func(o *ConditionalOrder) { o.Quantity = 0 }},
		{"negative quantity", func(o *ConditionalOrder) { o.Quantity = -5 }},
		{"unknown strategy", func(o *ConditionalOrder) { o.Strategy = "martingale" }},
		{"no params", func(o *ConditionalOrder) { o.Params = StrategyParams{} }},
		{"two params", func(o *ConditionalOrder) {
			o.Params.Iceberg = &IcebergParams{DisplayQuantity: 10}
		}},
		{"params mismatch", func(o *ConditionalOrder) {
			o.Params = StrategyParams{Iceberg: &IcebergParams{DisplayQuantity: 10}}
		}},
		{"zero stop price", func(o *ConditionalOrder) {
			o.Params.StopLoss.StopPrice = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := validStopLoss()
			tc.mutate(o)
			err := o.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if _, ok := err.(*ValidationError); !ok {
				t.Errorf("Validate() returned %T, want *ValidationError", err)
			}
		})
	}
}

func TestValidateTrailingStopExclusive(t *testing.T) {
	// Both trail knobs set.
	o := &ConditionalOrder{
		Symbol:   "MSFT",
		Side:     SideSell,
		Quantity: 50,
		Strategy: StrategyTrailingStop,
		Params: StrategyParams{TrailingStop: &TrailingStopParams{
			ReferencePrice: 400, TrailAmount: 5, TrailPercent: 0.02,
		}},
	}
	if err := o.Validate(); err == nil {
		t.Error("Validate() accepted both trail_amount and trail_percent")
	}

	// Neither set.
	o.Params.TrailingStop = &TrailingStopParams{ReferencePrice: 400}
	if err := o.Validate(); err == nil {
		t.Error("Validate() accepted trailing stop with no trail distance")
	}
}

func TestValidateBracketPriceOrdering(t *testing.T) {
	// Long bracket (sell exits): target must be above stop.
	o := &ConditionalOrder{
		Symbol:   "NVDA",
		Side:     SideSell,
		Quantity: 10,
		Strategy: StrategyBracket,
		Params:   StrategyParams{Bracket: &BracketParams{EntryPrice: 100, TargetPrice: 95, StopPrice: 110}},
	}
	if err := o.Validate(); err == nil {
		t.Error("Validate() accepted long bracket with target below stop")
	}

	// Short bracket (buy exits): target must be below stop.
	o.Side = SideBuy
	o.Params.Bracket = &BracketParams{EntryPrice: 100, TargetPrice: 110, StopPrice: 95}
	if err := o.Validate(); err == nil {
		t.Error("Validate() accepted short bracket with target above stop")
	}
}

func TestValidateIcebergDisplayBounds(t *testing.T) {
	o := &ConditionalOrder{
		Symbol:   "SPY",
		Side:     SideBuy,
		Quantity: 100,
		Strategy: StrategyIceberg,
		Params:   StrategyParams{Iceberg: &IcebergParams{DisplayQuantity: 150}},
	}
	if err := o.Validate(); err == nil {
		t.Error("Validate() accepted display quantity larger than order quantity")
	}
}

func TestRemainingInvariant(t *testing.T) {
	o := validStopLoss()
	if got := o.Remaining(); got != 100 {
		t.Fatalf("Remaining() = %d, want 100", got)
	}

	o.FilledQuantity = 40
	o.CancelledQuantity = 10
	if got := o.Remaining(); got != 50 {
		t.Fatalf("Remaining() = %d, want 50", got)
	}
	if o.FilledQuantity+o.Remaining()+o.CancelledQuantity != o.Quantity {
		t.Error("filled + remaining + cancelled != quantity")
	}
}

func TestExpired(t *testing.T) {
	now := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)

	o := validStopLoss()
	if o.Expired(now) {
		t.Error("order with zero ExpiresAt reported expired")
	}

	o.ExpiresAt = now.Add(time.Minute)
	if o.Expired(now) {
		t.Error("order expiring in the future reported expired")
	}

	o.ExpiresAt = now
	if !o.Expired(now) {
		t.Error("order expiring exactly now not reported expired")
	}
}

func TestCloneIsDeep(t *testing.T) {
	o := validStopLoss()
	o.ChildOrderIDs = []string{"c1", "c2"}
	o.Legs = NewBracketLegs()

	c := o.Clone()
	c.ChildOrderIDs[0] = "mutated"
	c.Legs.Entry = LegFilled
	c.Params.StopLoss.StopPrice = 1.0

	if o.ChildOrderIDs[0] != "c1" {
		t.Error("Clone shares ChildOrderIDs backing array")
	}
	if o.Legs.Entry != LegPending {
		t.Error("Clone shares Legs pointer")
	}
	if o.Params.StopLoss.StopPrice != 180.0 {
		t.Error("Clone shares params pointer")
	}
}

func TestSideOpposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell {
		t.Error("buy.Opposite() != sell")
	}
	if SideSell.Opposite() != SideBuy {
		t.Error("sell.Opposite() != buy")
	}
}
