package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry lookups and lifecycle checks.
var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateOrder = errors.New("order already registered")
	ErrOrderTerminal  = errors.New("order already in a terminal state")
)

// ValidationError rejects malformed parameters at registration or on a
// routing request. The order never enters the registry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TriggerEvaluationError wraps a transient evaluation failure. The order
// stays in its current state and is retried on the next tick.
type TriggerEvaluationError struct {
	OrderID string
	Err     error
}

func (e *TriggerEvaluationError) Error() string {
	return fmt.Sprintf("evaluating order %s: %v", e.OrderID, e.Err)
}

func (e *TriggerEvaluationError) Unwrap() error { return e.Err }

// SubmissionError reports a gateway submission that failed after the
// bounded retry budget was exhausted.
type SubmissionError struct {
	OrderID      string
	ChildOrderID string
	BrokerID     string
	Attempts     int
	Err          error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submitting child %s for order %s after %d attempts: %v",
		e.ChildOrderID, e.OrderID, e.Attempts, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// BrokerUnavailableError means no broker survived the selection filters. No
// partial or best-effort decision is synthesized.
type BrokerUnavailableError struct {
	Symbol     string
	Candidates int
	Reason     string
}

func (e *BrokerUnavailableError) Error() string {
	return fmt.Sprintf("no broker available for %s (%d candidates): %s",
		e.Symbol, e.Candidates, e.Reason)
}

// SplitReconciliationError means rounding could not reconcile a split plan
// to the exact parent quantity, e.g. the quantity is smaller than
// lot size x broker count.
type SplitReconciliationError struct {
	Strategy      SplitStrategy
	TotalQuantity int64
	Allocated     int64
	LotSize       int64
	Brokers       int
}

func (e *SplitReconciliationError) Error() string {
	return fmt.Sprintf("%s split of %d across %d brokers (lot size %d) reconciled to %d",
		e.Strategy, e.TotalQuantity, e.Brokers, e.LotSize, e.Allocated)
}
