package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// stop marks err as final; retry returns it without further attempts.
func stop(err error) error {
	return backoff.Permanent(err)
}

// retry calls op up to attempts times with a fixed delay in between. op
// receives the 1-based attempt number. The last error is returned once
// attempts are exhausted.
func retry[T any](ctx context.Context, attempts int, delay time.Duration, op func(attempt int) (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		return op(attempt)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
