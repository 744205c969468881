package routing

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"altair/internal/domain"
)

// Factor names used in decision reasoning fields.
const (
	factorPrice       = "price_improvement"
	factorSpeed       = "execution_speed"
	factorReliability = "reliability"
	factorCost        = "cost"
	factorCapacity    = "capacity"
)

// factorOrder fixes iteration order so the primary reason is deterministic
// when contributions tie.
var factorOrder = []string{factorPrice, factorSpeed, factorReliability, factorCost, factorCapacity}

// Selector scores brokers against routing criteria over the performance
// store's current snapshots. Identical snapshots and criteria always produce
// an identical decision.
type Selector struct {
	store           *PerformanceStore
	maxAlternatives int
	log             *slog.Logger
}

// NewSelector builds a selector. maxAlternatives caps the ranked
// alternatives list on each decision.
func NewSelector(store *PerformanceStore, maxAlternatives int, log *slog.Logger) *Selector {
	if maxAlternatives < 0 {
		maxAlternatives = 0
	}
	return &Selector{store: store, maxAlternatives: maxAlternatives, log: log}
}

// Select picks the best broker for an order. candidates restricts the pool
// to specific broker ids; empty means every known broker. Returns
// BrokerUnavailableError when no broker survives filtering.
func (s *Selector) Select(symbol string, quantity int64, orderType string, candidates []string, criteria domain.RoutingCriteria) (*domain.RoutingDecision, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}

	all, version := s.store.SnapshotAll()
	pool := filterCandidates(all, candidates)
	if len(pool) == 0 {
		return nil, &domain.BrokerUnavailableError{
			Symbol:     symbol,
			Candidates: len(candidates),
			Reason:     "no performance data for any candidate",
		}
	}

	survivors := applyFilters(pool, criteria)
	if len(survivors) == 0 {
		return nil, &domain.BrokerUnavailableError{
			Symbol:     symbol,
			Candidates: len(pool),
			Reason:     "all candidates filtered by health, failure, load, or exclusion limits",
		}
	}
	survivors = applyPreferred(survivors, criteria.PreferredBrokers)

	ranked := scoreBrokers(survivors, criteria)
	winner := ranked[0]

	decision := &domain.RoutingDecision{
		Symbol:   symbol,
		Quantity: quantity,
		BrokerID: winner.snap.BrokerID,
		Score:    winner.score,

		EstimatedPriceImprovement: winner.snap.AvgPriceImprovement,
		EstimatedCost:             winner.snap.AvgFee + winner.snap.AvgImpactCost,
		EstimatedExecutionTimeMs:  winner.snap.AvgExecutionTimeMs,

		PrimaryReason:       primaryReason(winner.contributions),
		ContributingFactors: winner.contributions,
		PerformanceVersion:  version,
		DecidedAt:           time.Now().UTC(),
	}

	for _, r := range ranked[1:] {
		if len(decision.Alternatives) >= s.maxAlternatives {
			break
		}
		decision.Alternatives = append(decision.Alternatives, domain.RankedBroker{
			BrokerID: r.snap.BrokerID,
			Score:    r.score,
		})
	}

	if criteria.RequireRedundancy && len(ranked)-1 < criteria.MinAlternativeBrokers {
		decision.Warnings = append(decision.Warnings, fmt.Sprintf(
			"insufficient redundancy: %d alternative brokers available, %d required",
			len(ranked)-1, criteria.MinAlternativeBrokers))
	}

	s.log.Debug("broker selected",
		"symbol", symbol,
		"quantity", quantity,
		"order_type", orderType,
		"broker", decision.BrokerID,
		"score", decision.Score,
		"reason", decision.PrimaryReason,
		"alternatives", len(decision.Alternatives),
	)
	return decision, nil
}

// Rank scores the (already filtered) candidate pool and returns every
// survivor in decision order. Used by the splitter path, which needs the
// whole ranking rather than a single winner.
func (s *Selector) Rank(symbol string, candidates []string, criteria domain.RoutingCriteria) ([]domain.RankedBroker, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}

	all, _ := s.store.SnapshotAll()
	pool := filterCandidates(all, candidates)
	survivors := applyFilters(pool, criteria)
	if len(survivors) == 0 {
		return nil, &domain.BrokerUnavailableError{
			Symbol:     symbol,
			Candidates: len(pool),
			Reason:     "all candidates filtered by health, failure, load, or exclusion limits",
		}
	}
	survivors = applyPreferred(survivors, criteria.PreferredBrokers)

	ranked := scoreBrokers(survivors, criteria)
	out := make([]domain.RankedBroker, len(ranked))
	for i, r := range ranked {
		out[i] = domain.RankedBroker{BrokerID: r.snap.BrokerID, Score: r.score}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Filtering
// ---------------------------------------------------------------------------

// filterCandidates restricts the pool to the requested broker ids. Unknown
// ids are dropped; an empty candidate list means the whole pool.
func filterCandidates(all []domain.BrokerPerformanceSnapshot, candidates []string) []domain.BrokerPerformanceSnapshot {
	if len(candidates) == 0 {
		return all
	}
	wanted := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		wanted[id] = true
	}
	out := make([]domain.BrokerPerformanceSnapshot, 0, len(candidates))
	for _, snap := range all {
		if wanted[snap.BrokerID] {
			out = append(out, snap)
		}
	}
	return out
}

// applyFilters drops brokers violating the hard limits. A broker failing
// any limit is never selectable regardless of raw score.
func applyFilters(pool []domain.BrokerPerformanceSnapshot, criteria domain.RoutingCriteria) []domain.BrokerPerformanceSnapshot {
	excluded := make(map[string]bool, len(criteria.ExcludedBrokers))
	for _, id := range criteria.ExcludedBrokers {
		excluded[id] = true
	}

	out := make([]domain.BrokerPerformanceSnapshot, 0, len(pool))
	for _, snap := range pool {
		if excluded[snap.BrokerID] {
			continue
		}
		if snap.HealthScore() < criteria.MinBrokerHealth {
			continue
		}
		if snap.ConsecutiveFailures > criteria.MaxConsecutiveFailures {
			continue
		}
		if snap.CurrentLoad > criteria.MaxBrokerLoad {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// applyPreferred restricts survivors to the preferred set, falling back to
// the full filtered set when the intersection is empty.
func applyPreferred(survivors []domain.BrokerPerformanceSnapshot, preferred []string) []domain.BrokerPerformanceSnapshot {
	if len(preferred) == 0 {
		return survivors
	}
	wanted := make(map[string]bool, len(preferred))
	for _, id := range preferred {
		wanted[id] = true
	}
	out := make([]domain.BrokerPerformanceSnapshot, 0, len(survivors))
	for _, snap := range survivors {
		if wanted[snap.BrokerID] {
			out = append(out, snap)
		}
	}
	if len(out) == 0 {
		return survivors
	}
	return out
}

// ---------------------------------------------------------------------------
// Scoring
// ---------------------------------------------------------------------------

type scoredBroker struct {
	snap          domain.BrokerPerformanceSnapshot
	score         float64
	contributions map[string]float64
}

// scoreBrokers computes min-max normalized weighted scores and returns the
// survivors sorted into decision order: score descending, then lower
// AvgExecutionTimeMs, then lexicographic broker id.
func scoreBrokers(survivors []domain.BrokerPerformanceSnapshot, criteria domain.RoutingCriteria) []scoredBroker {
	n := len(survivors)
	price := make([]float64, n)
	speed := make([]float64, n)
	reliability := make([]float64, n)
	cost := make([]float64, n)
	capacity := make([]float64, n)
	for i := range survivors {
		s := &survivors[i]
		price[i] = s.AvgPriceImprovement
		speed[i] = 1.0 / math.Max(s.AvgExecutionTimeMs, 1e-3)
		reliability[i] = s.HealthScore()
		cost[i] = -(s.AvgFee + s.AvgImpactCost)
		capacity[i] = s.CapacityFraction()
	}
	minMaxNormalize(price)
	minMaxNormalize(speed)
	minMaxNormalize(reliability)
	minMaxNormalize(cost)
	minMaxNormalize(capacity)

	ranked := make([]scoredBroker, n)
	for i := range survivors {
		contributions := map[string]float64{
			factorPrice:       criteria.PriceWeight * price[i],
			factorSpeed:       criteria.SpeedWeight * speed[i],
			factorReliability: criteria.ReliabilityWeight * reliability[i],
			factorCost:        criteria.CostWeight * cost[i],
			factorCapacity:    criteria.CapacityWeight * capacity[i],
		}
		total := 0.0
		for _, c := range contributions {
			total += c
		}
		ranked[i] = scoredBroker{snap: survivors[i], score: total, contributions: contributions}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].snap.AvgExecutionTimeMs != ranked[j].snap.AvgExecutionTimeMs {
			return ranked[i].snap.AvgExecutionTimeMs < ranked[j].snap.AvgExecutionTimeMs
		}
		return ranked[i].snap.BrokerID < ranked[j].snap.BrokerID
	})
	return ranked
}

// minMaxNormalize rescales values to [0, 1] in place. When every value is
// equal the factor cannot discriminate, so all brokers get full credit.
func minMaxNormalize(vals []float64) {
	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < 1e-12 {
		for i := range vals {
			vals[i] = 1.0
		}
		return
	}
	for i := range vals {
		vals[i] = (vals[i] - lo) / (hi - lo)
	}
}

// primaryReason names the factor contributing most to the winner's score.
func primaryReason(contributions map[string]float64) string {
	best := factorOrder[0]
	for _, name := range factorOrder[1:] {
		if contributions[name] > contributions[best] {
			best = name
		}
	}
	return best
}
