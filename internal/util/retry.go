package util

import (
	"context"
	"time"
)

// maxBackoff caps the exponential delay so a long retry budget never sleeps
// for minutes between attempts.
const maxBackoff = 30 * time.Second

// Backoff returns the delay before the given zero-based retry attempt:
// baseDelay doubled per attempt, capped at 30s.
func Backoff(attempt int, baseDelay time.Duration) time.Duration {
	if baseDelay <= 0 {
		return 0
	}
	d := baseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first successful call, or the last error
// if all attempts fail. The function respects context cancellation between
// retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Backoff(attempt, baseDelay)):
			}
		}
	}

	return err
}
