package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jzx17/flowpipe/pkg/types"
)

func TestDefaultRetryCondition(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		assert.False(t, DefaultRetryCondition(nil))
	})

	t.Run("marked retryable", func(t *testing.T) {
		err := &types.RetryableError{Err: errors.New("reset"), Retryable: true}
		assert.True(t, DefaultRetryCondition(err))
	})

	t.Run("marked not retryable", func(t *testing.T) {
		err := &types.RetryableError{Err: errors.New("bad input"), Retryable: false}
		assert.False(t, DefaultRetryCondition(err))
	})

	t.Run("pool congestion sentinels", func(t *testing.T) {
		assert.True(t, DefaultRetryCondition(types.ErrTimeout))
		assert.True(t, DefaultRetryCondition(types.ErrWorkerPoolFull))
	})

	t.Run("context errors never retry", func(t *testing.T) {
		assert.False(t, DefaultRetryCondition(context.Canceled))
		assert.False(t, DefaultRetryCondition(context.DeadlineExceeded))
	})

	t.Run("plain error", func(t *testing.T) {
		assert.False(t, DefaultRetryCondition(errors.New("boom")))
	})
}

func TestFixedDelayRetry(t *testing.T) {
	t.Run("constant delay", func(t *testing.T) {
		p := NewFixedDelayRetry(3, 100*time.Millisecond)
		assert.Equal(t, 100*time.Millisecond, p.NextDelay(1))
		assert.Equal(t, 100*time.Millisecond, p.NextDelay(2))
	})

	t.Run("stops at attempt ceiling", func(t *testing.T) {
		p := NewFixedDelayRetry(3, 0, WithRetryCondition(func(error) bool { return true }))
		err := errors.New("transient")
		assert.True(t, p.ShouldRetry(err, 1))
		assert.True(t, p.ShouldRetry(err, 2))
		assert.False(t, p.ShouldRetry(err, 3))
		assert.Equal(t, 3, p.MaxAttempts())
	})

	t.Run("custom condition overrides default", func(t *testing.T) {
		p := NewFixedDelayRetry(5, 0, WithRetryCondition(func(err error) bool {
			return err.Error() == "flaky"
		}))
		assert.True(t, p.ShouldRetry(errors.New("flaky"), 1))
		assert.False(t, p.ShouldRetry(errors.New("fatal"), 1))
	})

	t.Run("jitter stays near the base delay", func(t *testing.T) {
		p := NewFixedDelayRetry(3, time.Second, WithJitter(0.2))
		for i := 0; i < 20; i++ {
			d := p.NextDelay(1)
			assert.GreaterOrEqual(t, d, 500*time.Millisecond)
			assert.LessOrEqual(t, d, 1200*time.Millisecond)
		}
	})
}

func TestExponentialBackoffRetry(t *testing.T) {
	t.Run("doubles per attempt", func(t *testing.T) {
		p := NewExponentialBackoffRetry(5, 100*time.Millisecond)
		assert.Equal(t, 100*time.Millisecond, p.NextDelay(1))
		assert.Equal(t, 200*time.Millisecond, p.NextDelay(2))
		assert.Equal(t, 400*time.Millisecond, p.NextDelay(3))
	})

	t.Run("caps at max delay", func(t *testing.T) {
		p := NewExponentialBackoffRetry(10, time.Second).WithMaxDelay(3 * time.Second)
		assert.Equal(t, 3*time.Second, p.NextDelay(5))
	})

	t.Run("custom multiplier", func(t *testing.T) {
		p := NewExponentialBackoffRetry(5, 100*time.Millisecond).WithMultiplier(3.0)
		assert.Equal(t, 300*time.Millisecond, p.NextDelay(2))
		assert.Equal(t, 900*time.Millisecond, p.NextDelay(3))
	})
}
