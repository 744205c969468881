package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := Backoff(tc.attempt, base); got != tc.want {
			t.Errorf("Backoff(%d, %v) = %v, want %v", tc.attempt, base, got, tc.want)
		}
	}

	// Large attempt counts hit the cap instead of overflowing.
	if got := Backoff(40, base); got != maxBackoff {
		t.Errorf("Backoff(40) = %v, want cap %v", got, maxBackoff)
	}
	if got := Backoff(5, 0); got != 0 {
		t.Errorf("Backoff with zero base = %v, want 0", got)
	}
}

func TestRateLimiterNew(t *testing.T) {
	rl := NewRateLimiter(60)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0)

	// A disabled limiter never blocks.
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatalf("Wait returned error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("disabled limiter blocked for %v", elapsed)
	}
}

func TestMarketSession(t *testing.T) {
	s, err := NewUSSession()
	if err != nil {
		t.Fatalf("NewUSSession: %v", err)
	}

	// Monday 2025-06-02, 10:00 ET — open.
	open := time.Date(2025, 6, 2, 10, 0, 0, 0, s.Location())
	if !s.IsOpen(open) {
		t.Error("10:00 ET Monday should be inside regular hours")
	}

	// Monday 2025-06-02, 9:29 ET — before the bell.
	pre := time.Date(2025, 6, 2, 9, 29, 0, 0, s.Location())
	if s.IsOpen(pre) {
		t.Error("9:29 ET should be before regular hours")
	}

	// Monday 2025-06-02, 16:00 ET — closed at the bell.
	post := time.Date(2025, 6, 2, 16, 0, 0, 0, s.Location())
	if s.IsOpen(post) {
		t.Error("16:00 ET should be outside regular hours")
	}

	// Saturday.
	sat := time.Date(2025, 6, 7, 12, 0, 0, 0, s.Location())
	if s.IsOpen(sat) {
		t.Error("Saturday should be closed")
	}

	if got := s.Close(open).Hour(); got != 16 {
		t.Errorf("Close().Hour() = %d, want 16", got)
	}
}
