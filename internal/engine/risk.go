package engine

import (
	"fmt"

	"altair/internal/domain"
)

// riskLimits is the operator-policy gate applied to every registration,
// separate from structural validation: the caps come from deployment
// configuration, not from the order itself.
type riskLimits struct {
	maxQuantity int64
	maxNotional float64
}

// check returns a ValidationError when the order breaches a configured cap.
// Zero caps are unlimited.
func (r riskLimits) check(o *domain.ConditionalOrder) error {
	if r.maxQuantity > 0 && o.Quantity > r.maxQuantity {
		return &domain.ValidationError{
			Field:  "quantity",
			Reason: fmt.Sprintf("exceeds per-order limit of %d shares", r.maxQuantity),
		}
	}
	if r.maxNotional > 0 {
		ref := referencePrice(o)
		if notional := float64(o.Quantity) * ref; ref > 0 && notional > r.maxNotional {
			return &domain.ValidationError{
				Field:  "quantity",
				Reason: fmt.Sprintf("notional %.2f exceeds per-order limit of %.2f", notional, r.maxNotional),
			}
		}
	}
	return nil
}

// referencePrice is the best pre-trade estimate of the order's execution
// price. Slicing strategies have no price anchor until ticks arrive, so they
// are capped by quantity alone.
func referencePrice(o *domain.ConditionalOrder) float64 {
	switch o.Strategy {
	case domain.StrategyStopLoss:
		if p := o.Params.StopLoss; p != nil {
			if p.LimitPrice > 0 {
				return p.LimitPrice
			}
			return p.StopPrice
		}
	case domain.StrategyTrailingStop:
		if p := o.Params.TrailingStop; p != nil {
			return p.ReferencePrice
		}
	case domain.StrategyBracket:
		if p := o.Params.Bracket; p != nil {
			return p.EntryPrice
		}
	}
	return 0
}
