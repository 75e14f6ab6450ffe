// Package reliability holds retry policy shared by outbound HTTP callers.
package reliability

import (
	"context"
	"time"
)

// RetryableStatus classifies HTTP status codes worth retrying. Everything
// else is either success or a deterministic failure.
func RetryableStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Backoff computes a deterministic capped exponential backoff duration.
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}

// Do runs fn up to attempts times, sleeping a capped exponential backoff
// between tries. fn's second return value says whether the failure is worth
// retrying; deterministic failures surface immediately.
func Do(ctx context.Context, attempts int, base, limit time.Duration, fn func() (error, bool)) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(Backoff(attempt-1, base, limit))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		err, retryable := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return lastErr
}
