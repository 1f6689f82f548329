package addon

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how addon requests are retried. Attempt n (0-based) waits BaseDelay * 2^n before the next one.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy is used when a Client is built without an explicit policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
}

func (p RetryPolicy) backOff() backoff.BackOff {
	if p.BaseDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.BaseDelay << max(p.MaxAttempts, 1)
	return b
}

// retry runs op until it succeeds, returns a permanent error, or the policy's attempts are spent.
func retry[T any](ctx context.Context, p RetryPolicy, op func() (T, error)) (T, error) {
	attempts := max(p.MaxAttempts, 1)
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
	)
}
