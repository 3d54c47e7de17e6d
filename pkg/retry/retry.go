// Package retry wraps cenkalti/backoff/v4 with Kurt's retry policy:
// only kurterrors.TransientError is retried, and the error taxonomy's
// classification (not the backoff library's) decides that.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/boringdata/kurt/pkg/kurterrors"
)

// Policy configures a retry's backoff shape and bound.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultPolicy matches the entity-resolution optimistic-concurrency
// retry described in spec.md §5: up to 3 attempts, short exponential
// backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     1 * time.Second,
		Multiplier:      2.0,
	}
}

// Do runs fn, retrying only when fn returns a retryable error
// (kurterrors.IsRetryable), up to policy.MaxAttempts total attempts.
// A non-retryable error or context cancellation returns immediately.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialInterval
	eb.MaxInterval = policy.MaxInterval
	eb.Multiplier = policy.Multiplier
	eb.MaxElapsedTime = 0 // bounded by attempt count below, not wall clock

	bo := backoff.WithContext(eb, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !kurterrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		if attempt >= policy.MaxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(operation, bo)
}
