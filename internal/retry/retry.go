// Package retry implements the bounded exponential backoff loop shared by the
// embedding and extraction clients. Callers supply a predicate that decides
// which errors are worth another attempt; everything else fails immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Policy controls how Do spaces and bounds its attempts.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int
	// BaseDelay seeds the exponential schedule: attempt i waits BaseDelay * 2^i.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay before jitter is applied.
	MaxDelay time.Duration
	// Jitter adds up to this fraction of the delay as random slack, which keeps
	// concurrent retries from synchronizing. Zero disables jitter.
	Jitter float64
	// Retryable reports whether an error should trigger another attempt. A nil
	// predicate retries nothing.
	Retryable func(error) bool

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// ErrAttemptsExhausted wraps the final error when every attempt failed with a
// retryable error.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Do runs op until it succeeds, returns a non-retryable error, the context is
// canceled, or MaxAttempts is reached.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy: max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		if err := sleep(ctx, p.delay(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, p.MaxAttempts, lastErr)
}

func (p Policy) delay(attempt int) time.Duration {
	delay := p.BaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 0; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		delay += time.Duration(rand.Float64() * p.Jitter * float64(delay))
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
