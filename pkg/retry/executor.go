package retry

import (
	"context"

	"github.com/jzx17/flowpipe/pkg/types"
)

// RetryExecutor drives a RetryPolicy: it runs a function, consults the
// policy on failure, waits out the delay on the injected clock, and
// repeats until success, exhaustion, or cancellation.
type RetryExecutor struct {
	policy RetryPolicy
	clock  types.Clock
}

// ExecuteFunc is the operation being retried.
type ExecuteFunc[T any] func(ctx context.Context) (T, error)

// NewRetryExecutor builds an executor for the given policy. A nil
// policy means a single attempt with no retries.
func NewRetryExecutor(policy RetryPolicy, opts ...ExecutorOption) *RetryExecutor {
	if policy == nil {
		policy = NewFixedDelayRetry(1, 0)
	}
	r := &RetryExecutor{
		policy: policy,
		clock:  types.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExecutorOption configures a RetryExecutor.
type ExecutorOption func(*RetryExecutor)

// WithClock substitutes the clock used for retry delays.
func WithClock(clock types.Clock) ExecutorOption {
	return func(r *RetryExecutor) {
		r.clock = clock
	}
}

// Execute runs fn under the executor's policy.
func Execute[T any](r *RetryExecutor, ctx context.Context, fn ExecuteFunc[T]) (T, error) {
	return ExecuteWithName(r, ctx, "retry", fn)
}

// ExecuteWithName runs fn under the executor's policy, labelling the
// final error with name when all attempts fail.
func ExecuteWithName[T any](r *RetryExecutor, ctx context.Context, name string, fn ExecuteFunc[T]) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		if !r.policy.ShouldRetry(err, attempt) {
			return zero, types.NewOpError("retry", name, err)
		}

		// An error that names its own retry-after wins over the policy.
		delay := types.GetRetryDelay(err)
		if delay <= 0 {
			delay = r.policy.NextDelay(attempt)
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-r.clock.After(delay):
			}
		}
	}
}

// ExecuteAsync runs fn under the policy on a fresh goroutine and
// delivers the outcome, with its wall time, on the returned channel.
func ExecuteAsync[T any](r *RetryExecutor, ctx context.Context, fn ExecuteFunc[T]) <-chan types.Result[T] {
	out := make(chan types.Result[T], 1)
	go func() {
		defer close(out)
		start := r.clock.Now()
		value, err := Execute(r, ctx, fn)
		out <- types.Result[T]{
			Value:    value,
			Error:    err,
			Duration: r.clock.Since(start),
		}
	}()
	return out
}
