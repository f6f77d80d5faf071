package io

import (
	"context"
	"fmt"
	"time"
)

// Default retry settings.
const (
	DefaultRetries         = 10
	DefaultRetryBackoff    = 100 * time.Millisecond
	DefaultMaxRetryBackoff = 5 * time.Second
)

// RetryPolicy retries transient storage failures with exponential backoff.
type RetryPolicy struct {
	// Retries is the number of attempts after the first one.
	Retries int
	// Backoff is the delay before the first retry; it doubles per retry.
	Backoff time.Duration
	// MaxBackoff caps a single delay.
	MaxBackoff time.Duration
	// OnRetry, if set, is called before each retry is scheduled.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Retries:    DefaultRetries,
		Backoff:    DefaultRetryBackoff,
		MaxBackoff: DefaultMaxRetryBackoff,
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// retries are used up. Exhaustion is reported as ErrStorageUnavailable
// wrapping the last failure; non-retryable errors are returned unchanged.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr)
		}

		delay := p.delay(attempt)
		if after := retryAfter(lastErr); after > delay {
			delay = after
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: gave up after %d attempts: %w", ErrStorageUnavailable, attempts, lastErr)
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Backoff
	for i := 1; i < attempt && d > 0; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
