package retry

import (
	"context"
	"fmt"
	"time"
)

// Do invokes fn under the given policy, sleeping cooperatively between
// attempts. The wait releases as soon as ctx is cancelled. The final error
// is the last attempt's error, wrapped with the attempt count.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	var rctx Context
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var decision Decision
		decision, rctx = policy.Decide(err, rctx)
		if !decision.Retry {
			if rctx.Attempt > 1 {
				return fmt.Errorf("giving up after %d attempts: %w", rctx.Attempt, err)
			}
			return err
		}

		if err := sleep(ctx, decision.Delay); err != nil {
			return err
		}
	}
}

// DoValue is Do for calls that produce a value
func DoValue[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, policy, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

// sleep waits for the given delay or until ctx is cancelled
func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
