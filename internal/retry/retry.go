package retry

import (
	"context"
	"fmt"
	"time"

	"marketlens/internal/logger"
)

// Policy is a bounded retry policy with an exponential backoff curve. One
// policy object is shared by every call site that retries (store writes,
// source fetches, analyst calls) instead of ad hoc loops.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns the policy used for durable-store writes.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// Do runs fn up to MaxAttempts times, sleeping between attempts. It returns
// nil on the first success, ctx.Err() if the context is cancelled while
// waiting, and the last error once attempts are exhausted.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		logger.Warn(ctx, "Operation failed, retrying",
			"operation", op,
			"attempt", attempt,
			"max_attempts", attempts,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}

	return fmt.Errorf("%s: exhausted %d attempts: %w", op, attempts, lastErr)
}

// delay returns the backoff for the given 1-based attempt number.
func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
