package enforcement

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the per-target retry loop: delays start at
// BaseDelay (or the platform-reported interval when larger), double by
// Multiplier on repeat, never exceed MaxDelay, and give up after
// MaxAttempts.
type RetryPolicy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy is used unless the executor is built with
// another one.
var DefaultRetryPolicy = RetryPolicy{
	BaseDelay:   time.Second,
	Multiplier:  2.0,
	MaxDelay:    30 * time.Second,
	MaxAttempts: 4,
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// sleep waits for d or until ctx is done, whichever first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
