// Package gateway provides execution venues for child orders. The engine
// submits through an ExecutionGateway and receives execution reports back
// through a FillListener. Implementations cover the Alpaca trading API and
// an in-process simulator used by tests and replay runs.
package gateway

import (
	"context"
	"time"

	"altair/internal/domain"
)

// ExecutionAck reports a successful submission to a venue.
type ExecutionAck struct {
	ChildOrderID  string    // client-assigned child order id
	BrokerOrderID string    // venue-assigned order id
	SubmittedAt   time.Time
}

// ExecutionGateway submits and cancels child orders at an execution venue.
// Submit blocks for the round trip to the venue; fills arrive later through
// the FillListener.
type ExecutionGateway interface {
	// Name returns the venue identifier.
	Name() string

	// SetListener registers the receiver for execution reports. It must be
	// set before the first Submit.
	SetListener(l FillListener)

	// Submit places a child order. The child's ID travels to the venue as
	// the client order id so that execution reports can be matched back.
	Submit(ctx context.Context, child domain.ChildOrder) (ExecutionAck, error)

	// Cancel requests cancellation of a previously submitted child order.
	Cancel(ctx context.Context, childOrderID string) error
}

// FillListener receives asynchronous execution reports for submitted child
// orders. Implementations must tolerate reports arriving before the Submit
// call that produced them has returned.
type FillListener interface {
	// OnFill reports an execution of filledQty shares at fillPrice. Partial
	// fills arrive as multiple calls.
	OnFill(childOrderID string, filledQty int64, fillPrice float64)

	// OnReject reports that the venue rejected or expired the child order.
	OnReject(childOrderID string, reason string)
}
