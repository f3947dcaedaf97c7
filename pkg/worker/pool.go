// Package worker implements the bounded, fixed-size pool a parallel
// stage fans its factories out through. The DAG forbids intra-stage
// dependencies, so tasks submitted for one stage never need to observe
// each other's output; the pool only bounds how many run at once.
// Sequential stages bypass the pool entirely.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jzx17/flowpipe/pkg/types"
)

// FixedWorkerPoolConfig sizes the pool and its task queue.
type FixedWorkerPoolConfig struct {
	// PoolSize is the number of worker goroutines.
	PoolSize int

	// QueueSize is the capacity of the pending-task queue.
	QueueSize int

	// SubmitTimeout bounds how long Submit blocks on a full queue.
	SubmitTimeout time.Duration

	// Clock drives submit timeouts and shutdown deadlines.
	Clock types.Clock

	// ErrorHandler, when set, observes every task failure (including
	// recovered panics). The pool never resubmits a failed task.
	ErrorHandler types.ErrorHandler
}

// DefaultFixedWorkerPoolConfig returns a small pool suitable for fanning
// out one stage's factories.
func DefaultFixedWorkerPoolConfig() *FixedWorkerPoolConfig {
	return &FixedWorkerPoolConfig{
		PoolSize:      4,
		QueueSize:     64,
		SubmitTimeout: 5 * time.Second,
		Clock:         types.NewRealClock(),
	}
}

func (c *FixedWorkerPoolConfig) validate() error {
	if c.PoolSize <= 0 {
		return fmt.Errorf("worker: pool size must be positive, got %d", c.PoolSize)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("worker: queue size must be positive, got %d", c.QueueSize)
	}
	return nil
}

const (
	poolIdle int32 = iota
	poolRunning
	poolClosed
)

// FixedWorkerPool runs a fixed set of worker goroutines draining one
// shared task queue.
type FixedWorkerPool struct {
	cfg   *FixedWorkerPoolConfig
	tasks chan types.Task

	state  int32
	active int32

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ types.WorkerPool = (*FixedWorkerPool)(nil)

// NewFixedWorkerPool creates a pool from cfg; nil cfg means defaults.
func NewFixedWorkerPool(cfg *FixedWorkerPoolConfig) (*FixedWorkerPool, error) {
	if cfg == nil {
		cfg = DefaultFixedWorkerPoolConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = types.NewRealClock()
	}
	return &FixedWorkerPool{
		cfg:   cfg,
		tasks: make(chan types.Task, cfg.QueueSize),
	}, nil
}

// Start launches the worker goroutines. Starting a running or closed
// pool is an error.
func (p *FixedWorkerPool) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.state, poolIdle, poolRunning) {
		if atomic.LoadInt32(&p.state) == poolRunning {
			return fmt.Errorf("worker: pool already running")
		}
		return types.ErrPoolClosed
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(p.cfg.PoolSize)
	for i := 0; i < p.cfg.PoolSize; i++ {
		go p.work(p.ctx)
	}
	return nil
}

func (p *FixedWorkerPool) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.runTask(ctx, task)
		}
	}
}

func (p *FixedWorkerPool) runTask(ctx context.Context, task types.Task) {
	atomic.AddInt32(&p.active, 1)
	defer atomic.AddInt32(&p.active, -1)

	err := execute(ctx, task)
	if err != nil && p.cfg.ErrorHandler != nil {
		p.cfg.ErrorHandler(err)
	}
}

// execute runs the task, converting a panic into an error naming the
// task so one panicking factory cannot take the pool down.
func execute(ctx context.Context, task types.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewOpError("worker", task.ID(), fmt.Errorf("panic: %v", r))
		}
	}()
	return task.Execute(ctx)
}

// Submit enqueues a task, blocking up to the configured SubmitTimeout.
func (p *FixedWorkerPool) Submit(task types.Task) error {
	return p.SubmitWithTimeout(task, p.cfg.SubmitTimeout)
}

// SubmitWithTimeout enqueues a task, blocking up to timeout on a full
// queue; a non-positive timeout means fail immediately when full.
func (p *FixedWorkerPool) SubmitWithTimeout(task types.Task, timeout time.Duration) error {
	switch atomic.LoadInt32(&p.state) {
	case poolIdle:
		return types.ErrPoolNotStarted
	case poolClosed:
		return types.ErrPoolClosed
	}
	if task == nil {
		return fmt.Errorf("worker: task cannot be nil")
	}

	if timeout <= 0 {
		select {
		case p.tasks <- task:
			return nil
		default:
			return types.ErrWorkerPoolFull
		}
	}

	timer := p.cfg.Clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p.tasks <- task:
		return nil
	case <-timer.C():
		return types.ErrTimeout
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Stop cancels the workers and waits for in-flight tasks to finish.
func (p *FixedWorkerPool) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.state, poolRunning, poolIdle) {
		if atomic.LoadInt32(&p.state) == poolIdle {
			return types.ErrPoolNotStarted
		}
		return types.ErrPoolClosed
	}

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-p.cfg.Clock.After(10 * time.Second):
		return fmt.Errorf("worker: timeout waiting for workers to stop")
	}
}

// Close stops the pool if needed and releases the queue. Close is
// idempotent.
func (p *FixedWorkerPool) Close() error {
	var closeErr error
	p.closeOnce.Do(func() {
		if atomic.LoadInt32(&p.state) == poolRunning {
			closeErr = p.Stop()
		}
		atomic.StoreInt32(&p.state, poolClosed)
		close(p.tasks)
	})
	return closeErr
}

// Size returns the configured worker count.
func (p *FixedWorkerPool) Size() int { return p.cfg.PoolSize }

// IsRunning reports whether Start has succeeded and Stop/Close has not.
func (p *FixedWorkerPool) IsRunning() bool {
	return atomic.LoadInt32(&p.state) == poolRunning
}

// Stats returns a point-in-time view of the pool.
func (p *FixedWorkerPool) Stats() types.WorkerPoolStats {
	return types.WorkerPoolStats{
		PoolSize:      p.cfg.PoolSize,
		ActiveWorkers: int(atomic.LoadInt32(&p.active)),
		QueueSize:     len(p.tasks),
		QueueCapacity: p.cfg.QueueSize,
	}
}
