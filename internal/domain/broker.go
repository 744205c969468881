package domain

import (
	"math"
	"time"
)

// ---------------------------------------------------------------------------
// Broker performance
// ---------------------------------------------------------------------------

// RatingTier buckets brokers by overall score.
type RatingTier string

const (
	TierPlatinum RatingTier = "platinum"
	TierGold     RatingTier = "gold"
	TierSilver   RatingTier = "silver"
	TierBronze   RatingTier = "bronze"
)

// TierForScore maps an overall score to its rating tier.
func TierForScore(score float64) RatingTier {
	switch {
	case score >= 0.9:
		return TierPlatinum
	case score >= 0.75:
		return TierGold
	case score >= 0.5:
		return TierSilver
	default:
		return TierBronze
	}
}

// BrokerPerformanceSnapshot is one broker's rolling-window performance as
// supplied by the monitoring feed. Rates are fractions in [0, 1] except
// UptimePercent, which is 0-100.
type BrokerPerformanceSnapshot struct {
	BrokerID    string    `json:"broker_id"`
	WindowStart time.Time `json:"window_start"`

	AvgPriceImprovement float64 `json:"avg_price_improvement"`
	AvgExecutionTimeMs  float64 `json:"avg_execution_time_ms"`
	FillRate            float64 `json:"fill_rate"`
	SlippageRate        float64 `json:"slippage_rate"`
	SuccessRate         float64 `json:"success_rate"`
	UptimePercent       float64 `json:"uptime_percent"`

	ConsecutiveFailures int     `json:"consecutive_failures"`
	CurrentLoad         float64 `json:"current_load"`
	AvailableCapacity   int     `json:"available_capacity"`
	MaxConcurrentOrders int     `json:"max_concurrent_orders"`

	AvgFee        float64 `json:"avg_fee"`
	AvgImpactCost float64 `json:"avg_impact_cost"`

	OverallScore float64    `json:"overall_score"`
	RatingTier   RatingTier `json:"rating_tier"`
}

// HealthScore is the composite health measure compared against
// RoutingCriteria.MinBrokerHealth: the mean of success rate and uptime.
func (s *BrokerPerformanceSnapshot) HealthScore() float64 {
	return 0.5*s.SuccessRate + 0.5*(s.UptimePercent/100)
}

// CapacityFraction returns available capacity as a fraction of the maximum,
// clamped to [0, 1].
func (s *BrokerPerformanceSnapshot) CapacityFraction() float64 {
	if s.MaxConcurrentOrders <= 0 {
		return 0
	}
	f := float64(s.AvailableCapacity) / float64(s.MaxConcurrentOrders)
	return math.Max(0, math.Min(1, f))
}

// ---------------------------------------------------------------------------
// Routing criteria & decision
// ---------------------------------------------------------------------------

// weightEpsilon is the tolerance on the weight-sum check.
const weightEpsilon = 1e-6

// RoutingCriteria drives a broker selection pass: factor weights plus hard
// filters. The five weights must sum to 1 within epsilon.
type RoutingCriteria struct {
	PriceWeight       float64 `json:"price_weight"`
	SpeedWeight       float64 `json:"speed_weight"`
	ReliabilityWeight float64 `json:"reliability_weight"`
	CostWeight        float64 `json:"cost_weight"`
	CapacityWeight    float64 `json:"capacity_weight"`

	MinBrokerHealth        float64 `json:"min_broker_health"`
	MaxConsecutiveFailures int     `json:"max_consecutive_failures"`
	MaxBrokerLoad          float64 `json:"max_broker_load"`

	PreferredBrokers []string `json:"preferred_brokers,omitempty"`
	ExcludedBrokers  []string `json:"excluded_brokers,omitempty"`

	RequireRedundancy     bool `json:"require_redundancy"`
	MinAlternativeBrokers int  `json:"min_alternative_brokers"`
}

// DefaultRoutingCriteria returns a balanced criteria set: price-leaning
// weights, permissive filters.
func DefaultRoutingCriteria() RoutingCriteria {
	return RoutingCriteria{
		PriceWeight:            0.30,
		SpeedWeight:            0.20,
		ReliabilityWeight:      0.25,
		CostWeight:             0.15,
		CapacityWeight:         0.10,
		MinBrokerHealth:        0.5,
		MaxConsecutiveFailures: 5,
		MaxBrokerLoad:          0.95,
	}
}

// Validate checks weight and filter sanity.
func (c *RoutingCriteria) Validate() error {
	weights := []struct {
		name string
		v    float64
	}{
		{"price_weight", c.PriceWeight},
		{"speed_weight", c.SpeedWeight},
		{"reliability_weight", c.ReliabilityWeight},
		{"cost_weight", c.CostWeight},
		{"capacity_weight", c.CapacityWeight},
	}
	sum := 0.0
	for _, w := range weights {
		if w.v < 0 {
			return &ValidationError{Field: w.name, Reason: "must not be negative"}
		}
		sum += w.v
	}
	if math.Abs(sum-1.0) > weightEpsilon {
		return &ValidationError{Field: "weights", Reason: "must sum to 1.0"}
	}
	if c.MinBrokerHealth < 0 || c.MinBrokerHealth > 1 {
		return &ValidationError{Field: "min_broker_health", Reason: "must be in [0, 1]"}
	}
	if c.MaxConsecutiveFailures < 0 {
		return &ValidationError{Field: "max_consecutive_failures", Reason: "must not be negative"}
	}
	if c.MaxBrokerLoad < 0 || c.MaxBrokerLoad > 1 {
		return &ValidationError{Field: "max_broker_load", Reason: "must be in [0, 1]"}
	}
	if c.MinAlternativeBrokers < 0 {
		return &ValidationError{Field: "min_alternative_brokers", Reason: "must not be negative"}
	}
	return nil
}

// RankedBroker pairs a broker with its computed score.
type RankedBroker struct {
	BrokerID string  `json:"broker_id"`
	Score    float64 `json:"score"`
}

// RoutingDecision is the outcome of one selection pass. Identical snapshot
// and criteria inputs always produce an identical decision.
type RoutingDecision struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`

	BrokerID string  `json:"broker_id"`
	Score    float64 `json:"score"`

	EstimatedPriceImprovement float64 `json:"estimated_price_improvement"`
	EstimatedCost             float64 `json:"estimated_cost"`
	EstimatedExecutionTimeMs  float64 `json:"estimated_execution_time_ms"`

	Alternatives []RankedBroker `json:"alternatives,omitempty"`

	PrimaryReason       string             `json:"primary_reason"`
	ContributingFactors map[string]float64 `json:"contributing_factors"`
	Warnings            []string           `json:"warnings,omitempty"`
	PerformanceVersion  uint64             `json:"performance_version"`
	DecidedAt           time.Time          `json:"decided_at"`
}

// ---------------------------------------------------------------------------
// Split plans
// ---------------------------------------------------------------------------

// SplitStrategy selects the allocation algorithm.
type SplitStrategy string

const (
	SplitEqual    SplitStrategy = "equal"
	SplitWeighted SplitStrategy = "weighted"
	SplitPriority SplitStrategy = "priority"
	SplitAdaptive SplitStrategy = "adaptive"
)

// Valid reports whether s is a known split strategy.
func (s SplitStrategy) Valid() bool {
	switch s {
	case SplitEqual, SplitWeighted, SplitPriority, SplitAdaptive:
		return true
	}
	return false
}

// RiskLevel grades a split plan by concentration.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskForExposure derives the risk level from the largest single allocation
// as a fraction of the total.
func RiskForExposure(exposure float64) RiskLevel {
	switch {
	case exposure > 0.5:
		return RiskHigh
	case exposure > 0.3:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ChildAllocation is one broker's share of a split plan.
type ChildAllocation struct {
	BrokerID          string  `json:"broker_id"`
	Quantity          int64   `json:"quantity"`
	AllocationPercent float64 `json:"allocation_percent"`
	Priority          int     `json:"priority"`
	Reason            string  `json:"reason"`
}

// OrderSplitPlan distributes a parent order's quantity across brokers. The
// allocations always sum to TotalQuantity exactly.
type OrderSplitPlan struct {
	ParentOrderID string            `json:"parent_order_id"`
	Symbol        string            `json:"symbol"`
	Side          Side              `json:"side"`
	TotalQuantity int64             `json:"total_quantity"`
	Strategy      SplitStrategy     `json:"strategy"`
	Allocations   []ChildAllocation `json:"allocations"`

	MaxBrokerExposure float64   `json:"max_broker_exposure"`
	RiskLevel         RiskLevel `json:"risk_level"`
	CreatedAt         time.Time `json:"created_at"`
}

// AllocatedQuantity sums the plan's allocations.
func (p *OrderSplitPlan) AllocatedQuantity() int64 {
	var total int64
	for _, a := range p.Allocations {
		total += a.Quantity
	}
	return total
}
