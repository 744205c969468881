package util

import (
	"fmt"
	"time"
)

// MarketSession provides regular-hours awareness for the US equity session
// (9:30-16:00 ET, Monday through Friday). Exchange holidays are not modeled;
// callers that need holiday accuracy should gate on the feed instead.
type MarketSession struct {
	loc *time.Location
}

// NewUSSession creates a MarketSession pinned to America/New_York.
func NewUSSession() (*MarketSession, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading New York timezone: %w", err)
	}
	return &MarketSession{loc: loc}, nil
}

// Open returns 9:30 AM ET on t's date.
func (s *MarketSession) Open(t time.Time) time.Time {
	et := t.In(s.loc)
	return time.Date(et.Year(), et.Month(), et.Day(), 9, 30, 0, 0, s.loc)
}

// Close returns 4:00 PM ET on t's date.
func (s *MarketSession) Close(t time.Time) time.Time {
	et := t.In(s.loc)
	return time.Date(et.Year(), et.Month(), et.Day(), 16, 0, 0, 0, s.loc)
}

// IsOpen reports whether t falls inside regular trading hours on a weekday.
func (s *MarketSession) IsOpen(t time.Time) bool {
	et := t.In(s.loc)
	switch et.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !et.Before(s.Open(t)) && et.Before(s.Close(t))
}

// Location returns the session's timezone.
func (s *MarketSession) Location() *time.Location {
	return s.loc
}
