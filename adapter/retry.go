package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultBackoff is the wait before the first retry. Each further retry
// doubles it.
const DefaultBackoff = 500 * time.Millisecond

// ErrPermanent marks a failure that retrying cannot fix.
var ErrPermanent = errors.New("non-retriable")

// Permanent wraps err so Retry stops after the current attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Retry runs fn up to 1+retries times, sleeping base, 2*base, 4*base...
// between attempts. It returns nil on the first success, the wrapped error
// of an attempt marked Permanent, or the last error once attempts run out.
// Cancellation of ctx, before an attempt or during backoff, ends the loop.
func Retry(ctx context.Context, retries int, base time.Duration, fn func(ctx context.Context) error) error {
	if base <= 0 {
		base = DefaultBackoff
	}
	attempts := 1 + max(retries, 0)

	var lastErr error
	for i := range attempts {
		if i > 0 {
			timer := time.NewTimer(time.Duration(1<<uint(i-1)) * base)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) {
			return lastErr
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
