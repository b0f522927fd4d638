package retry

import (
	"context"
	"time"

	"github.com/tigerroll/replica/pkg/replica/support/util/exception"
	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

// Observer is notified before every retry with the attempt that just failed.
type Observer func(operation string, attempt int, err error)

// Executor runs calls under a RetryPolicy.
type Executor struct {
	policy   RetryPolicy
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithObserver registers an Observer, typically a metrics recorder.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// WithSleeper replaces the delay function. Tests use it to avoid real sleeps.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// NewExecutor creates an Executor. A nil policy means DefaultPolicy().
func NewExecutor(policy RetryPolicy, opts ...Option) *Executor {
	if policy == nil {
		policy = DefaultPolicy()
	}
	e := &Executor{policy: policy, sleep: sleepContext}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() RetryPolicy { return e.policy }

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// policy's attempts are used up. Non-retryable errors are returned unchanged;
// exhausting the attempts returns a *exception.RetryExhaustedError wrapping
// the final cause.
func (e *Executor) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	maxAttempts := e.policy.GetMaxAttempts()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 1 {
				logger.Infof("%s succeeded on attempt %d/%d.", operation, attempt, maxAttempts)
			}
			return nil
		}
		if !e.policy.ShouldRetry(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		logger.Warnf("%s failed with a transient fault (attempt %d/%d): %v", operation, attempt, maxAttempts, lastErr)
		if e.observer != nil {
			e.observer(operation, attempt, lastErr)
		}
		if err := e.sleep(ctx, e.policy.GetBackoffInterval(attempt)); err != nil {
			return err
		}
	}
	logger.Errorf("%s failed after %d attempts: %v", operation, maxAttempts, lastErr)
	return &exception.RetryExhaustedError{Operation: operation, Attempts: maxAttempts, LastErr: lastErr}
}

// Value is Do for calls that return a value.
func Value[T any](ctx context.Context, e *Executor, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
