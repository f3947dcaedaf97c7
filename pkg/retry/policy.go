package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/jzx17/flowpipe/pkg/types"
)

// RetryPolicy decides whether a failed factory run is attempted again
// and how long to wait before the next attempt. Policies are stateless
// and safe for concurrent use by multiple executors.
type RetryPolicy interface {
	// ShouldRetry reports whether err on the given 1-based attempt
	// warrants another try.
	ShouldRetry(err error, attempt int) bool

	// NextDelay returns the wait before attempt+1.
	NextDelay(attempt int) time.Duration

	// MaxAttempts returns the attempt ceiling, including the first run.
	MaxAttempts() int
}

// RetryCondition classifies an error as worth retrying.
type RetryCondition func(error) bool

// DefaultRetryCondition retries errors explicitly marked retryable and
// the pool's transient congestion sentinels. Context cancellation and
// deadline errors never retry.
func DefaultRetryCondition(err error) bool {
	if err == nil {
		return false
	}
	if types.IsRetryable(err) {
		return true
	}
	switch err {
	case types.ErrTimeout, types.ErrWorkerPoolFull:
		return true
	}
	return false
}

// basePolicy carries the attempt ceiling, condition, and jitter shared
// by the concrete policies.
type basePolicy struct {
	maxAttempts  int
	condition    RetryCondition
	jitterFactor float64
}

func newBasePolicy(maxAttempts int, opts []PolicyOption) basePolicy {
	b := basePolicy{
		maxAttempts: maxAttempts,
		condition:   DefaultRetryCondition,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *basePolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= b.maxAttempts {
		return false
	}
	return b.condition(err)
}

func (b *basePolicy) MaxAttempts() int { return b.maxAttempts }

// jitter spreads delay by ±factor so simultaneous failures don't
// reissue in lockstep.
func (b *basePolicy) jitter(delay time.Duration) time.Duration {
	if b.jitterFactor <= 0 || delay <= 0 {
		return delay
	}
	spread := float64(delay) * b.jitterFactor
	adjusted := delay + time.Duration((rand.Float64()-0.5)*2*spread)
	if adjusted < 0 {
		return delay / 2
	}
	return adjusted
}

// PolicyOption configures a policy at construction.
type PolicyOption func(*basePolicy)

// WithRetryCondition replaces DefaultRetryCondition.
func WithRetryCondition(condition RetryCondition) PolicyOption {
	return func(b *basePolicy) {
		b.condition = condition
	}
}

// WithJitter spreads each delay by up to ±factor (0 < factor <= 1).
func WithJitter(factor float64) PolicyOption {
	return func(b *basePolicy) {
		if factor > 0 && factor <= 1.0 {
			b.jitterFactor = factor
		}
	}
}

// FixedDelayRetry waits the same interval between every attempt.
type FixedDelayRetry struct {
	basePolicy
	delay time.Duration
}

// NewFixedDelayRetry makes up to maxAttempts attempts in all, the first
// run included, with a constant delay between attempts.
func NewFixedDelayRetry(maxAttempts int, delay time.Duration, opts ...PolicyOption) *FixedDelayRetry {
	return &FixedDelayRetry{
		basePolicy: newBasePolicy(maxAttempts, opts),
		delay:      delay,
	}
}

// NextDelay returns the configured delay, jittered when enabled.
func (p *FixedDelayRetry) NextDelay(int) time.Duration {
	return p.jitter(p.delay)
}

// ExponentialBackoffRetry doubles (or multiplies) the delay after each
// failed attempt, capped at a maximum.
type ExponentialBackoffRetry struct {
	basePolicy
	initialDelay time.Duration
	multiplier   float64
	maxDelay     time.Duration
}

// NewExponentialBackoffRetry starts at initialDelay and grows by the
// multiplier (default 2.0) per attempt, capped at 30s unless
// WithMaxDelay overrides it.
func NewExponentialBackoffRetry(maxAttempts int, initialDelay time.Duration, opts ...PolicyOption) *ExponentialBackoffRetry {
	p := &ExponentialBackoffRetry{
		initialDelay: initialDelay,
		multiplier:   2.0,
		maxDelay:     30 * time.Second,
	}
	p.basePolicy = newBasePolicy(maxAttempts, opts)
	return p
}

// WithMultiplier sets the backoff growth factor.
func (p *ExponentialBackoffRetry) WithMultiplier(multiplier float64) *ExponentialBackoffRetry {
	if multiplier > 1.0 {
		p.multiplier = multiplier
	}
	return p
}

// WithMaxDelay caps the backoff delay.
func (p *ExponentialBackoffRetry) WithMaxDelay(maxDelay time.Duration) *ExponentialBackoffRetry {
	if maxDelay > 0 {
		p.maxDelay = maxDelay
	}
	return p
}

// NextDelay returns initialDelay * multiplier^(attempt-1), capped.
func (p *ExponentialBackoffRetry) NextDelay(attempt int) time.Duration {
	delay := time.Duration(float64(p.initialDelay) * math.Pow(p.multiplier, float64(attempt-1)))
	if delay > p.maxDelay || delay < 0 {
		delay = p.maxDelay
	}
	return p.jitter(delay)
}
