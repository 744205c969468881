package domain

import (
	"math"
	"testing"
)

func TestTierForScore(t *testing.T) {
	cases := []struct {
		score float64
		want  RatingTier
	}{
		{0.95, TierPlatinum},
		{0.90, TierPlatinum},
		{0.80, TierGold},
		{0.75, TierGold},
		{0.60, TierSilver},
		{0.50, TierSilver},
		{0.49, TierBronze},
		{0.0, TierBronze},
	}
	for _, tc := range cases {
		if got := TierForScore(tc.score); got != tc.want {
			t.Errorf("TierForScore(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestHealthScore(t *testing.T) {
	s := BrokerPerformanceSnapshot{SuccessRate: 0.9, UptimePercent: 99.0}
	want := 0.5*0.9 + 0.5*0.99
	if got := s.HealthScore(); math.Abs(got-want) > 1e-9 {
		t.Errorf("HealthScore() = %v, want %v", got, want)
	}
}

func TestCapacityFraction(t *testing.T) {
	s := BrokerPerformanceSnapshot{AvailableCapacity: 25, MaxConcurrentOrders: 100}
	if got := s.CapacityFraction(); got != 0.25 {
		t.Errorf("CapacityFraction() = %v, want 0.25", got)
	}

	s.MaxConcurrentOrders = 0
	if got := s.CapacityFraction(); got != 0 {
		t.Errorf("CapacityFraction() with zero max = %v, want 0", got)
	}

	s = BrokerPerformanceSnapshot{AvailableCapacity: 200, MaxConcurrentOrders: 100}
	if got := s.CapacityFraction(); got != 1 {
		t.Errorf("CapacityFraction() should clamp to 1, got %v", got)
	}
}

func TestRoutingCriteriaValidate(t *testing.T) {
	c := DefaultRoutingCriteria()
	if err := c.Validate(); err != nil {
		t.Fatalf("default criteria invalid: %v", err)
	}

	c.PriceWeight = 0.5 // sum now 1.2
	if err := c.Validate(); err == nil {
		t.Error("Validate() accepted weights summing to 1.2")
	}

	c = DefaultRoutingCriteria()
	c.SpeedWeight = -0.1
	c.PriceWeight += 0.3 // keep the sum at 1.0
	if err := c.Validate(); err == nil {
		t.Error("Validate() accepted a negative weight")
	}

	c = DefaultRoutingCriteria()
	c.MinBrokerHealth = 1.5
	if err := c.Validate(); err == nil {
		t.Error("Validate() accepted min_broker_health above 1")
	}
}

func TestRoutingCriteriaValidateTolerance(t *testing.T) {
	// Floating point drift within epsilon must pass.
	c := RoutingCriteria{
		PriceWeight:       0.1,
		SpeedWeight:       0.2,
		ReliabilityWeight: 0.3,
		CostWeight:        0.2,
		CapacityWeight:    0.2,
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() = %v for weights summing to 1.0 within epsilon", err)
	}
}

func TestRiskForExposure(t *testing.T) {
	cases := []struct {
		exposure float64
		want     RiskLevel
	}{
		{0.60, RiskHigh},
		{0.51, RiskHigh},
		{0.50, RiskMedium},
		{0.35, RiskMedium},
		{0.30, RiskLow},
		{0.10, RiskLow},
	}
	for _, tc := range cases {
		if got := RiskForExposure(tc.exposure); got != tc.want {
			t.Errorf("RiskForExposure(%v) = %s, want %s", tc.exposure, got, tc.want)
		}
	}
}

func TestSplitPlanAllocatedQuantity(t *testing.T) {
	p := OrderSplitPlan{
		TotalQuantity: 1000,
		Allocations: []ChildAllocation{
			{BrokerID: "a", Quantity: 400},
			{BrokerID: "b", Quantity: 350},
			{BrokerID: "c", Quantity: 250},
		},
	}
	if got := p.AllocatedQuantity(); got != 1000 {
		t.Errorf("AllocatedQuantity() = %d, want 1000", got)
	}
}
