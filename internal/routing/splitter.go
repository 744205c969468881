package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"altair/internal/domain"
)

// defaultTiers is the priority-split schedule when none is configured.
var defaultTiers = []float64{0.50, 0.25, 0.15, 0.10}

// Splitter allocates a parent order's quantity across ranked brokers. Every
// plan reconciles to the exact parent quantity or fails with
// SplitReconciliationError; quantities are rounded to the configured lot
// size with the absorbing broker taking any sub-lot remainder.
type Splitter struct {
	lotSize int64
	tiers   []float64
	log     *slog.Logger
}

// NewSplitter builds a splitter. lotSize below 1 means single-share lots;
// an empty tier schedule uses the default 50/25/15/10.
func NewSplitter(lotSize int64, tiers []float64, log *slog.Logger) *Splitter {
	if lotSize < 1 {
		lotSize = 1
	}
	if len(tiers) == 0 {
		tiers = defaultTiers
	}
	return &Splitter{lotSize: lotSize, tiers: tiers, log: log}
}

// Split builds an allocation plan for the given strategy. brokers carry the
// selector's scores; order does not matter, the splitter re-sorts into
// decision order.
func (sp *Splitter) Split(parentID, symbol string, side domain.Side, total int64, brokers []domain.RankedBroker, strategy domain.SplitStrategy) (*domain.OrderSplitPlan, error) {
	if total <= 0 {
		return nil, &domain.ValidationError{Field: "total_quantity", Reason: "must be positive"}
	}
	if !side.Valid() {
		return nil, &domain.ValidationError{Field: "side", Reason: "must be buy or sell"}
	}
	if len(brokers) == 0 {
		return nil, &domain.ValidationError{Field: "brokers", Reason: "must not be empty"}
	}
	if !strategy.Valid() {
		return nil, &domain.ValidationError{Field: "split_strategy", Reason: fmt.Sprintf("unknown strategy %q", strategy)}
	}

	ranked := sortRanked(brokers)

	var (
		allocations []domain.ChildAllocation
		err         error
	)
	switch strategy {
	case domain.SplitEqual:
		allocations, err = sp.splitEqual(total, ranked)
	case domain.SplitWeighted, domain.SplitAdaptive:
		allocations = sp.splitWeighted(total, ranked)
	case domain.SplitPriority:
		allocations = sp.splitPriority(total, ranked)
	}
	if err != nil {
		return nil, err
	}

	plan, err := sp.buildPlan(parentID, symbol, side, total, strategy, allocations)
	if err != nil {
		return nil, err
	}
	sp.log.Debug("split planned",
		"parent_order_id", parentID,
		"symbol", symbol,
		"strategy", strategy,
		"total", total,
		"allocations", len(plan.Allocations),
		"risk", plan.RiskLevel,
	)
	return plan, nil
}

// ---------------------------------------------------------------------------
// Allocation strategies
// ---------------------------------------------------------------------------

// splitEqual gives every broker the same number of whole lots; the
// top-scored broker absorbs the rounding remainder. Fails when the quantity
// cannot give every broker at least one lot.
func (sp *Splitter) splitEqual(total int64, ranked []domain.RankedBroker) ([]domain.ChildAllocation, error) {
	n := int64(len(ranked))
	lots := total / sp.lotSize
	if lots < n {
		return nil, &domain.SplitReconciliationError{
			Strategy:      domain.SplitEqual,
			TotalQuantity: total,
			LotSize:       sp.lotSize,
			Brokers:       len(ranked),
		}
	}

	per := (lots / n) * sp.lotSize
	remainder := total - per*n

	allocations := make([]domain.ChildAllocation, 0, n)
	for i, b := range ranked {
		qty := per
		reason := "equal share"
		if i == 0 && remainder > 0 {
			qty += remainder
			reason = "equal share + remainder"
		}
		allocations = append(allocations, domain.ChildAllocation{
			BrokerID: b.BrokerID,
			Quantity: qty,
			Priority: i + 1,
			Reason:   reason,
		})
	}
	return allocations, nil
}

// splitWeighted allocates proportionally to score. Shares are floored to
// whole lots so the sum never overshoots; the top-scored broker absorbs the
// remainder.
func (sp *Splitter) splitWeighted(total int64, ranked []domain.RankedBroker) []domain.ChildAllocation {
	quantities := sp.weightedQuantities(total, ranked)

	allocations := make([]domain.ChildAllocation, 0, len(ranked))
	for i, b := range ranked {
		if quantities[i] == 0 {
			continue
		}
		reason := fmt.Sprintf("proportional to score %.2f", b.Score)
		if i == 0 {
			reason += " + remainder"
		}
		allocations = append(allocations, domain.ChildAllocation{
			BrokerID: b.BrokerID,
			Quantity: quantities[i],
			Priority: i + 1,
			Reason:   reason,
		})
	}
	return allocations
}

// weightedQuantities is the proportional math shared by WEIGHTED, ADAPTIVE,
// and rebalancing: per-broker quantities proportional to score, floored to
// lot, remainder credited to ranked[0]. Non-positive scores carry no
// weight; an all-zero ranking degrades to even weighting.
func (sp *Splitter) weightedQuantities(total int64, ranked []domain.RankedBroker) []int64 {
	weights := make([]float64, len(ranked))
	sum := 0.0
	for i, b := range ranked {
		if b.Score > 0 {
			weights[i] = b.Score
			sum += b.Score
		}
	}
	if sum <= 0 {
		for i := range weights {
			weights[i] = 1
		}
		sum = float64(len(weights))
	}

	quantities := make([]int64, len(ranked))
	var allocated int64
	for i := range ranked {
		share := float64(total) * weights[i] / sum
		q := sp.floorToLot(int64(share))
		quantities[i] = q
		allocated += q
	}
	quantities[0] += total - allocated
	return quantities
}

// splitPriority allocates down a decreasing tier schedule in score order.
// Only the first len(tiers) brokers participate; the last participant
// absorbs whatever the schedule leaves over.
func (sp *Splitter) splitPriority(total int64, ranked []domain.RankedBroker) []domain.ChildAllocation {
	k := len(ranked)
	if len(sp.tiers) < k {
		k = len(sp.tiers)
	}

	remaining := total
	allocations := make([]domain.ChildAllocation, 0, k)
	for i := 0; i < k; i++ {
		var qty int64
		var reason string
		if i == k-1 {
			qty = remaining
			reason = fmt.Sprintf("priority tier %d absorbs remainder", i+1)
		} else {
			qty = sp.floorToLot(int64(float64(total) * sp.tiers[i]))
			if qty > remaining {
				qty = remaining
			}
			reason = fmt.Sprintf("priority tier %d (%.0f%%)", i+1, sp.tiers[i]*100)
		}
		remaining -= qty
		if qty == 0 {
			continue
		}
		allocations = append(allocations, domain.ChildAllocation{
			BrokerID: ranked[i].BrokerID,
			Quantity: qty,
			Priority: i + 1,
			Reason:   reason,
		})
	}
	return allocations
}

// ---------------------------------------------------------------------------
// Plan assembly
// ---------------------------------------------------------------------------

// buildPlan finalizes allocations into a plan, verifying exact
// reconciliation and deriving percents, exposure, and risk.
func (sp *Splitter) buildPlan(parentID, symbol string, side domain.Side, total int64, strategy domain.SplitStrategy, allocations []domain.ChildAllocation) (*domain.OrderSplitPlan, error) {
	plan := &domain.OrderSplitPlan{
		ParentOrderID: parentID,
		Symbol:        symbol,
		Side:          side,
		TotalQuantity: total,
		Strategy:      strategy,
		Allocations:   allocations,
		CreatedAt:     time.Now().UTC(),
	}
	if got := plan.AllocatedQuantity(); got != total {
		return nil, &domain.SplitReconciliationError{
			Strategy:      strategy,
			TotalQuantity: total,
			Allocated:     got,
			LotSize:       sp.lotSize,
			Brokers:       len(allocations),
		}
	}

	var maxQty int64
	for i := range plan.Allocations {
		a := &plan.Allocations[i]
		a.AllocationPercent = float64(a.Quantity) / float64(total) * 100
		if a.Quantity > maxQty {
			maxQty = a.Quantity
		}
	}
	plan.MaxBrokerExposure = float64(maxQty) / float64(total)
	plan.RiskLevel = domain.RiskForExposure(plan.MaxBrokerExposure)
	return plan, nil
}

func (sp *Splitter) floorToLot(qty int64) int64 {
	if qty <= 0 {
		return 0
	}
	return qty - qty%sp.lotSize
}

// sortRanked copies and sorts brokers into decision order: score
// descending, ties by lexicographic broker id.
func sortRanked(brokers []domain.RankedBroker) []domain.RankedBroker {
	ranked := make([]domain.RankedBroker, len(brokers))
	copy(ranked, brokers)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].BrokerID < ranked[j].BrokerID
	})
	return ranked
}

// ---------------------------------------------------------------------------
// Adaptive plans
// ---------------------------------------------------------------------------

// AdaptivePlan tracks fills against an adaptive split and re-splits the
// unfilled remainder on demand. Filled quantity is never reduced or
// reassigned.
type AdaptivePlan struct {
	mu       sync.Mutex
	splitter *Splitter
	plan     *domain.OrderSplitPlan
	filled   map[string]int64
}

// NewAdaptivePlan starts an adaptive split from an initial weighted
// allocation.
func (sp *Splitter) NewAdaptivePlan(parentID, symbol string, side domain.Side, total int64, brokers []domain.RankedBroker) (*AdaptivePlan, error) {
	plan, err := sp.Split(parentID, symbol, side, total, brokers, domain.SplitAdaptive)
	if err != nil {
		return nil, err
	}
	return &AdaptivePlan{splitter: sp, plan: plan, filled: make(map[string]int64)}, nil
}

// Plan returns a copy of the current plan.
func (a *AdaptivePlan) Plan() *domain.OrderSplitPlan {
	a.mu.Lock()
	defer a.mu.Unlock()
	return copyPlan(a.plan)
}

// RecordFill credits filled quantity to a broker's allocation.
func (a *AdaptivePlan) RecordFill(brokerID string, qty int64) {
	if qty <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.filled[brokerID] += qty
}

// Unfilled returns the quantity not yet filled.
func (a *AdaptivePlan) Unfilled() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unfilledLocked()
}

func (a *AdaptivePlan) unfilledLocked() int64 {
	var filled int64
	for _, q := range a.filled {
		filled += q
	}
	remaining := a.plan.TotalQuantity - filled
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Rebalance re-splits the unfilled remainder across the latest-ranked
// still-eligible brokers. Brokers holding fills keep them; a broker no
// longer in the ranking keeps its filled quantity and nothing more. The
// updated plan still reconciles to the parent total exactly.
func (a *AdaptivePlan) Rebalance(latest []domain.RankedBroker) (*domain.OrderSplitPlan, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := a.plan.TotalQuantity
	unfilled := a.unfilledLocked()
	if unfilled > 0 && len(latest) == 0 {
		return nil, &domain.BrokerUnavailableError{
			Symbol: a.plan.Symbol,
			Reason: "no eligible brokers to rebalance unfilled quantity",
		}
	}

	ranked := sortRanked(latest)
	var shares []int64
	if unfilled > 0 {
		shares = a.splitter.weightedQuantities(unfilled, ranked)
	}

	// Ranked brokers first, then fill-only holdovers in id order.
	allocations := make([]domain.ChildAllocation, 0, len(ranked)+len(a.filled))
	seen := make(map[string]bool, len(ranked))
	for i, b := range ranked {
		seen[b.BrokerID] = true
		var share int64
		if shares != nil {
			share = shares[i]
		}
		qty := a.filled[b.BrokerID] + share
		if qty == 0 {
			continue
		}
		allocations = append(allocations, domain.ChildAllocation{
			BrokerID: b.BrokerID,
			Quantity: qty,
			Priority: i + 1,
			Reason:   fmt.Sprintf("rebalanced on score %.2f", b.Score),
		})
	}
	holdovers := make([]string, 0, len(a.filled))
	for id := range a.filled {
		if !seen[id] && a.filled[id] > 0 {
			holdovers = append(holdovers, id)
		}
	}
	sort.Strings(holdovers)
	for _, id := range holdovers {
		allocations = append(allocations, domain.ChildAllocation{
			BrokerID: id,
			Quantity: a.filled[id],
			Priority: len(allocations) + 1,
			Reason:   "filled, not reassigned",
		})
	}

	plan, err := a.splitter.buildPlan(a.plan.ParentOrderID, a.plan.Symbol, a.plan.Side, total, domain.SplitAdaptive, allocations)
	if err != nil {
		return nil, err
	}
	a.plan = plan
	return copyPlan(plan), nil
}

func copyPlan(plan *domain.OrderSplitPlan) *domain.OrderSplitPlan {
	out := *plan
	out.Allocations = make([]domain.ChildAllocation, len(plan.Allocations))
	copy(out.Allocations, plan.Allocations)
	return &out
}

// ---------------------------------------------------------------------------
// Rebalancer
// ---------------------------------------------------------------------------

// RankFunc supplies a fresh broker ranking for each rebalance cycle.
type RankFunc func() ([]domain.RankedBroker, error)

// Rebalancer drives an AdaptivePlan on a timer until the plan fills or the
// context ends.
type Rebalancer struct {
	plan     *AdaptivePlan
	rank     RankFunc
	interval time.Duration
	onPlan   func(*domain.OrderSplitPlan)
	log      *slog.Logger
}

// NewRebalancer wires an adaptive plan to a ranking source. onPlan, if
// non-nil, receives each updated plan.
func NewRebalancer(plan *AdaptivePlan, rank RankFunc, interval time.Duration, onPlan func(*domain.OrderSplitPlan), log *slog.Logger) *Rebalancer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Rebalancer{plan: plan, rank: rank, interval: interval, onPlan: onPlan, log: log}
}

// Run rebalances on each tick. Returns nil once the plan is fully filled.
func (r *Rebalancer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if r.plan.Unfilled() == 0 {
				r.log.Info("adaptive plan complete", "parent_order_id", r.plan.Plan().ParentOrderID)
				return nil
			}
			ranked, err := r.rank()
			if err != nil {
				r.log.Warn("rebalance ranking failed", "error", err)
				continue
			}
			plan, err := r.plan.Rebalance(ranked)
			if err != nil {
				r.log.Warn("rebalance failed", "error", err)
				continue
			}
			r.log.Debug("plan rebalanced",
				"parent_order_id", plan.ParentOrderID,
				"unfilled", r.plan.Unfilled(),
				"allocations", len(plan.Allocations),
			)
			if r.onPlan != nil {
				r.onPlan(plan)
			}
		}
	}
}
