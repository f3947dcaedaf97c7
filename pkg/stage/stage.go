// Package stage implements the ordered group-of-factories abstraction. A
// Stage runs its factories in registration order by default; when
// Parallel is set, it fans them out through a bounded worker pool
// (pkg/worker.FixedWorkerPool) because the DAG forbids intra-stage
// dependencies, so no ordering is required between siblings.
package stage

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/jzx17/flowpipe/pkg/delivery"
	"github.com/jzx17/flowpipe/pkg/descriptor"
	"github.com/jzx17/flowpipe/pkg/dispatch"
	"github.com/jzx17/flowpipe/pkg/flowerrors"
	"github.com/jzx17/flowpipe/pkg/retry"
	"github.com/jzx17/flowpipe/pkg/worker"
)

// Retryable is an optional hook on a factory. A factory implementing it
// opts its own Read/Process/Write sequence into retry.RetryExecutor using
// the policy it supplies; factories that don't implement it run once, as
// usual. Nothing retries a factory that doesn't ask for it.
type Retryable interface {
	RetryPolicy() retry.RetryPolicy
}

// NamedFactory pairs a factory instance with the id it is known by in the
// pipeline.
type NamedFactory struct {
	ID      delivery.FactoryID
	Factory descriptor.Factory
}

// Stage is an ordered group of factories runnable without internal
// dependency.
type Stage struct {
	ID        int
	Factories []NamedFactory
	End       bool
	Parallel  bool
}

// Run executes the stage: sequentially by default (read → process →
// write → get per factory), or concurrently via pool when Parallel is
// set and pool is non-nil. Every failure in a parallel stage is collected
// (go.uber.org/multierr) rather than only the first, so the returned
// error can name every failed node.
func (s *Stage) Run(ctx context.Context, d *dispatch.Dispatcher, pool *worker.FixedWorkerPool) error {
	if !s.Parallel || pool == nil {
		for _, nf := range s.Factories {
			if err := runFactory(ctx, nf, d); err != nil {
				return &flowerrors.RuntimeFactoryFailure{StageID: s.ID, FactoryID: nf.ID, Cause: err}
			}
		}
		return nil
	}
	return s.runParallel(ctx, d, pool)
}

func (s *Stage) runParallel(ctx context.Context, d *dispatch.Dispatcher, pool *worker.FixedWorkerPool) error {
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var combined error

	for _, nf := range s.Factories {
		nf := nf
		done := make(chan error, 1)
		task := worker.NewTask(string(nf.ID), func(taskCtx context.Context) error {
			err := runFactorySafe(taskCtx, nf, d)
			done <- err
			return err
		})
		if err := pool.Submit(task); err != nil {
			return &flowerrors.RuntimeFactoryFailure{StageID: s.ID, FactoryID: nf.ID, Cause: err}
		}
		g.Go(func() error {
			select {
			case err := <-done:
				if err != nil {
					mu.Lock()
					combined = multierr.Append(combined, &flowerrors.RuntimeFactoryFailure{StageID: s.ID, FactoryID: nf.ID, Cause: err})
					mu.Unlock()
				}
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return combined
}

// runFactorySafe converts a panicking factory into an error so the
// waiting collector always hears back. Used only on the parallel path;
// a sequential panic propagates to the caller as usual.
func runFactorySafe(ctx context.Context, nf NamedFactory, d *dispatch.Dispatcher) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return runFactory(ctx, nf, d)
}

// runFactory drives one factory's lifecycle: dispatch its inputs, then
// read → process → write → get → collect.
func runFactory(ctx context.Context, nf NamedFactory, d *dispatch.Dispatcher) error {
	desc, err := descriptor.Describe(nf.Factory)
	if err != nil {
		return err
	}
	if err := d.Dispatch(nf.Factory, desc, nf.ID); err != nil {
		return err
	}

	run := runOnce
	if r, ok := nf.Factory.(Retryable); ok {
		run = func(ctx context.Context, f descriptor.Factory) error {
			executor := retry.NewRetryExecutor(r.RetryPolicy())
			_, err := retry.ExecuteWithName(executor, ctx, string(nf.ID), func(ctx context.Context) (struct{}, error) {
				return struct{}{}, runOnce(ctx, f)
			})
			return err
		}
	}
	if err := run(ctx, nf.Factory); err != nil {
		return err
	}

	if _, err := d.CollectDeliverable(nf.Factory, nf.ID, desc, nf.Factory.Get); err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	return nil
}

// runOnce drives one read → process → write pass of a factory.
func runOnce(ctx context.Context, f descriptor.Factory) error {
	if err := f.Read(ctx); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if err := f.Process(ctx); err != nil {
		return fmt.Errorf("process: %w", err)
	}
	if err := f.Write(ctx); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
