// Package types holds the small contracts shared across the worker pool,
// retry, and error-handling packages: the task and pool interfaces, the
// clock abstraction, and the error values they exchange.
package types

import (
	"context"
	"time"
)

// Task is one unit of work submitted to a pool. A parallel stage wraps
// each factory's run sequence in a Task.
type Task interface {
	Execute(ctx context.Context) error

	// ID identifies the task in diagnostics.
	ID() string
}

// WorkerPool bounds concurrency for a parallel stage.
type WorkerPool interface {
	Submit(task Task) error
	SubmitWithTimeout(task Task, timeout time.Duration) error
	Start(ctx context.Context) error
	Stop() error
	Close() error
	Size() int
	Stats() WorkerPoolStats
}

// WorkerPoolStats is a point-in-time view of a pool.
type WorkerPoolStats struct {
	PoolSize      int
	ActiveWorkers int
	QueueSize     int
	QueueCapacity int
}

// ErrorHandler is the pool-level error callback: invoked with a task's
// failure, it may translate or swallow the error for diagnostics. For
// pipeline-level classification see internal/errors.
type ErrorHandler func(error) error

// Result carries the outcome of an asynchronous execution, used by
// pkg/retry's ExecuteAsync.
type Result[R any] struct {
	Value    R
	Error    error
	Duration time.Duration
}
