package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"altair/internal/domain"
)

var _ ExecutionGateway = (*SimGateway)(nil)

// ErrVenueUnavailable is returned by SimGateway.Submit while failure
// injection is active.
var ErrVenueUnavailable = errors.New("venue unavailable")

// SimGateway is an in-process execution venue for tests and replay runs. In
// manual mode (the default) it records submissions and delivers no reports;
// callers drive them through Fill and Reject. AutoFill switches it to fill
// every accepted submission in full on a background goroutine, the way a
// liquid market would.
type SimGateway struct {
	log *slog.Logger

	mu          sync.Mutex
	listener    FillListener
	submissions []domain.ChildOrder
	cancelled   map[string]bool
	nextVenueID int
	failures    int
	rejections  int
	autoFill    bool
	fillPrice   float64
}

// NewSimGateway creates a SimGateway in manual mode.
func NewSimGateway(log *slog.Logger) *SimGateway {
	return &SimGateway{
		log:       log.With("gateway", "sim"),
		cancelled: make(map[string]bool),
	}
}

// Name returns the venue identifier.
func (s *SimGateway) Name() string { return "sim" }

// SetListener registers the receiver for execution reports.
func (s *SimGateway) SetListener(l FillListener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// AutoFill makes every accepted submission fill in full at price. A zero
// price fills at the child's limit price instead.
func (s *SimGateway) AutoFill(price float64) {
	s.mu.Lock()
	s.autoFill = true
	s.fillPrice = price
	s.mu.Unlock()
}

// FailSubmissions makes the next n Submit calls return ErrVenueUnavailable.
func (s *SimGateway) FailSubmissions(n int) {
	s.mu.Lock()
	s.failures = n
	s.mu.Unlock()
}

// RejectSubmissions makes the next n accepted submissions deliver a reject
// report instead of filling.
func (s *SimGateway) RejectSubmissions(n int) {
	s.mu.Lock()
	s.rejections = n
	s.mu.Unlock()
}

// Submit records the child order and schedules any configured report.
func (s *SimGateway) Submit(ctx context.Context, child domain.ChildOrder) (ExecutionAck, error) {
	if err := ctx.Err(); err != nil {
		return ExecutionAck{}, err
	}

	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return ExecutionAck{}, ErrVenueUnavailable
	}
	s.nextVenueID++
	venueID := fmt.Sprintf("sim-%d", s.nextVenueID)
	s.submissions = append(s.submissions, child)

	reject := false
	if s.rejections > 0 {
		s.rejections--
		reject = true
	}
	autoFill := s.autoFill
	price := s.fillPrice
	s.mu.Unlock()

	switch {
	case reject:
		go s.Reject(child.ID, "rejected")
	case autoFill:
		if price == 0 {
			price = child.LimitPrice
		}
		go s.Fill(child.ID, child.Quantity, price)
	}

	return ExecutionAck{
		ChildOrderID:  child.ID,
		BrokerOrderID: venueID,
		SubmittedAt:   time.Now().UTC(),
	}, nil
}

// Cancel marks the child order cancelled. Reports for cancelled orders are
// suppressed. Cancelling an unknown order is a no-op.
func (s *SimGateway) Cancel(ctx context.Context, childOrderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cancelled[childOrderID] = true
	s.mu.Unlock()
	return nil
}

// Fill delivers a fill report to the listener unless the child order has
// been cancelled.
func (s *SimGateway) Fill(childOrderID string, qty int64, price float64) {
	s.mu.Lock()
	listener := s.listener
	cancelled := s.cancelled[childOrderID]
	s.mu.Unlock()

	if listener == nil || cancelled || qty <= 0 {
		return
	}
	listener.OnFill(childOrderID, qty, price)
}

// Reject delivers a reject report to the listener unless the child order
// has been cancelled.
func (s *SimGateway) Reject(childOrderID, reason string) {
	s.mu.Lock()
	listener := s.listener
	cancelled := s.cancelled[childOrderID]
	s.mu.Unlock()

	if listener == nil || cancelled {
		return
	}
	listener.OnReject(childOrderID, reason)
}

// Submissions returns a copy of every child order accepted so far, in
// submission order.
func (s *SimGateway) Submissions() []domain.ChildOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChildOrder, len(s.submissions))
	copy(out, s.submissions)
	return out
}

// Cancelled reports whether Cancel has been called for the child order.
func (s *SimGateway) Cancelled(childOrderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[childOrderID]
}
