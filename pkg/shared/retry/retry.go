/*
Package retry wraps cenkalti/backoff/v4 with the exponential schedule
named in spec.md §9 design notes: object-store operations retry with a
100ms base, factor 2, 30s cap, and 5 attempts, after which Do returns the
last error unchanged. Bus publishes do not go through this package.
*/
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	baseInterval = 100 * time.Millisecond
	maxInterval  = 30 * time.Second
	maxAttempts  = 5
)

// Policy returns the standard backoff schedule, bounded to ctx's lifetime
// and capped at maxAttempts tries.
func Policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseInterval
	b.Multiplier = 2
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0 // bounded by WithMaxRetries below, not wall clock

	return backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx)
}

// Do runs fn under the standard schedule, retrying every error except
// those fn wraps with Permanent.
func Do(ctx context.Context, fn func() error) error {
	return backoff.Retry(fn, Policy(ctx))
}

// Permanent marks err as non-retryable, stopping Do immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
