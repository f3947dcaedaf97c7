package retry_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/flowpipe/internal/testutils"
	"github.com/jzx17/flowpipe/pkg/retry"
	"github.com/jzx17/flowpipe/pkg/types"
)

func alwaysRetry() retry.PolicyOption {
	return retry.WithRetryCondition(func(error) bool { return true })
}

func TestExecute(t *testing.T) {
	t.Run("first attempt succeeds", func(t *testing.T) {
		exec := retry.NewRetryExecutor(retry.NewFixedDelayRetry(3, 0))
		var calls int32
		got, err := retry.Execute(exec, context.Background(), func(context.Context) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "done", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "done", got)
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	})

	t.Run("retries until success", func(t *testing.T) {
		exec := retry.NewRetryExecutor(retry.NewFixedDelayRetry(5, 0, alwaysRetry()))
		var calls int32
		got, err := retry.Execute(exec, context.Background(), func(context.Context) (int, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return 0, errors.New("transient")
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	})

	t.Run("exhausted attempts surface an op error", func(t *testing.T) {
		exec := retry.NewRetryExecutor(retry.NewFixedDelayRetry(2, 0, alwaysRetry()))
		cause := errors.New("still broken")
		_, err := retry.ExecuteWithName(exec, context.Background(), "flaky-read", func(context.Context) (int, error) {
			return 0, cause
		})
		require.Error(t, err)
		var op *types.OpError
		require.ErrorAs(t, err, &op)
		assert.Equal(t, "retry", op.Op)
		assert.Equal(t, "flaky-read", op.Detail)
		assert.True(t, errors.Is(err, cause))
	})

	t.Run("non-retryable error fails immediately", func(t *testing.T) {
		exec := retry.NewRetryExecutor(retry.NewFixedDelayRetry(5, 0))
		var calls int32
		_, err := retry.Execute(exec, context.Background(), func(context.Context) (int, error) {
			atomic.AddInt32(&calls, 1)
			return 0, errors.New("fatal")
		})
		require.Error(t, err)
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		exec := retry.NewRetryExecutor(retry.NewFixedDelayRetry(5, 0, alwaysRetry()))
		ctx, cancel := context.WithCancel(context.Background())
		_, err := retry.Execute(exec, ctx, func(context.Context) (int, error) {
			cancel()
			return 0, errors.New("transient")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("nil policy means single attempt", func(t *testing.T) {
		exec := retry.NewRetryExecutor(nil)
		var calls int32
		_, err := retry.Execute(exec, context.Background(), func(context.Context) (int, error) {
			atomic.AddInt32(&calls, 1)
			return 0, errors.New("transient")
		})
		require.Error(t, err)
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	})
}

func TestExecute_DelaysOnClock(t *testing.T) {
	clock := testutils.NewSimClock(t)
	trap := clock.Mock().Trap().NewTimer()
	defer trap.Close()

	exec := retry.NewRetryExecutor(
		retry.NewFixedDelayRetry(3, time.Second, alwaysRetry()),
		retry.WithClock(clock),
	)

	var calls int32
	done := make(chan error, 1)
	go func() {
		_, err := retry.Execute(exec, context.Background(), func(context.Context) (int, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return 0, errors.New("transient")
			}
			return 1, nil
		})
		done <- err
	}()

	for i := 0; i < 2; i++ {
		call := trap.MustWait(context.Background())
		assert.Equal(t, time.Second, call.Duration)
		call.MustRelease(context.Background())
		clock.Advance(time.Second)
	}

	require.NoError(t, <-done)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestExecute_RetryAfterOverridesPolicyDelay(t *testing.T) {
	clock := testutils.NewSimClock(t)
	trap := clock.Mock().Trap().NewTimer()
	defer trap.Close()

	exec := retry.NewRetryExecutor(
		retry.NewFixedDelayRetry(2, time.Second, alwaysRetry()),
		retry.WithClock(clock),
	)

	done := make(chan error, 1)
	var calls int32
	go func() {
		_, err := retry.Execute(exec, context.Background(), func(context.Context) (int, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return 0, &types.RetryableError{
					Err:        errors.New("throttled"),
					Retryable:  true,
					RetryAfter: 5 * time.Second,
				}
			}
			return 1, nil
		})
		done <- err
	}()

	call := trap.MustWait(context.Background())
	assert.Equal(t, 5*time.Second, call.Duration)
	call.MustRelease(context.Background())
	clock.Advance(5 * time.Second)

	require.NoError(t, <-done)
}

func TestExecuteAsync(t *testing.T) {
	exec := retry.NewRetryExecutor(retry.NewFixedDelayRetry(3, 0, alwaysRetry()))
	var calls int32
	results := retry.ExecuteAsync(exec, context.Background(), func(context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) < 2 {
			return "", errors.New("transient")
		}
		return "async", nil
	})

	select {
	case res := <-results:
		require.NoError(t, res.Error)
		assert.Equal(t, "async", res.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
	}
}
