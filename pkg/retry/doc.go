// Package retry runs a function repeatedly under a RetryPolicy until
// it succeeds, the policy gives up, or the context is cancelled.
//
// Retry is strictly opt-in: a stage retries a factory only when the
// factory exposes a policy itself. Two policies are provided,
// FixedDelayRetry and ExponentialBackoffRetry, both accepting
// WithRetryCondition and WithJitter. DefaultRetryCondition retries
// errors marked with types.RetryableError and the transient pool
// sentinels, never context cancellation.
//
// RetryExecutor takes its delays from a types.Clock, so tests can
// drive backoff schedules with a simulated clock instead of sleeping.
package retry
