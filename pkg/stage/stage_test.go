package stage_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/flowpipe/pkg/delivery"
	"github.com/jzx17/flowpipe/pkg/dispatch"
	"github.com/jzx17/flowpipe/pkg/retry"
	"github.com/jzx17/flowpipe/pkg/stage"
	"github.com/jzx17/flowpipe/pkg/worker"
)

type recorder struct {
	order *[]string
	name  string
	out   string
}

func (f *recorder) Read(ctx context.Context) error    { return nil }
func (f *recorder) Process(ctx context.Context) error { *f.order = append(*f.order, f.name); f.out = f.name; return nil }
func (f *recorder) Write(ctx context.Context) error    { return nil }
func (f *recorder) Get() any                           { return f.out }
func (f *recorder) OutputType() delivery.RuntimeType   { return delivery.TypeFor[string]() }

type failing struct{}

func (f *failing) Read(ctx context.Context) error    { return assertErr }
func (f *failing) Process(ctx context.Context) error { return nil }
func (f *failing) Write(ctx context.Context) error   { return nil }
func (f *failing) Get() any                          { return nil }
func (f *failing) OutputType() delivery.RuntimeType  { return delivery.TypeFor[int]() }

var assertErr = assertError{}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestStage_Run_Sequential_PreservesRegistrationOrder(t *testing.T) {
	var order []string
	d := dispatch.New(nil)
	s := stage.Stage{ID: 0, Factories: []stage.NamedFactory{
		{ID: "a", Factory: &recorder{order: &order, name: "a"}},
		{ID: "b", Factory: &recorder{order: &order, name: "b"}},
	}, End: true}

	require.NoError(t, s.Run(context.Background(), d, nil))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestStage_Run_Sequential_PropagatesFailure(t *testing.T) {
	d := dispatch.New(nil)
	s := stage.Stage{ID: 0, Factories: []stage.NamedFactory{{ID: "bad", Factory: &failing{}}}}

	err := s.Run(context.Background(), d, nil)
	require.Error(t, err)
}

func TestStage_Run_Parallel_RunsAllFactories(t *testing.T) {
	pool, err := worker.NewFixedWorkerPool(&worker.FixedWorkerPoolConfig{PoolSize: 2, QueueSize: 10})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Close()

	var count int32
	d := dispatch.New(nil)
	factories := make([]stage.NamedFactory, 0, 3)
	for i := 0; i < 3; i++ {
		factories = append(factories, stage.NamedFactory{
			ID: delivery.FactoryID(string(rune('a' + i))),
			Factory: &counting{counter: &count, out: i},
		})
	}
	s := stage.Stage{ID: 0, Factories: factories, Parallel: true, End: true}

	require.NoError(t, s.Run(context.Background(), d, pool))
	assert.EqualValues(t, 3, atomic.LoadInt32(&count))
}

type counting struct {
	counter *int32
	out     int
}

func (f *counting) Read(ctx context.Context) error    { return nil }
func (f *counting) Process(ctx context.Context) error { atomic.AddInt32(f.counter, 1); return nil }
func (f *counting) Write(ctx context.Context) error   { return nil }
func (f *counting) Get() any                          { return f.out }
func (f *counting) OutputType() delivery.RuntimeType  { return delivery.TypeFor[int]() }

// flaky fails its first two reads, then succeeds; it opts into retry via
// stage.Retryable.
type flaky struct {
	attempts int32
	out      string
}

func (f *flaky) Read(ctx context.Context) error {
	if atomic.AddInt32(&f.attempts, 1) < 3 {
		return assertErr
	}
	return nil
}
func (f *flaky) Process(ctx context.Context) error { f.out = "ok"; return nil }
func (f *flaky) Write(ctx context.Context) error   { return nil }
func (f *flaky) Get() any                          { return f.out }
func (f *flaky) OutputType() delivery.RuntimeType  { return delivery.TypeFor[string]() }
func (f *flaky) RetryPolicy() retry.RetryPolicy {
	return retry.NewFixedDelayRetry(5, 0, retry.WithRetryCondition(func(error) bool { return true }))
}

func TestStage_Run_RetryableFactoryRetriesUntilSuccess(t *testing.T) {
	d := dispatch.New(nil)
	f := &flaky{}
	s := stage.Stage{ID: 0, Factories: []stage.NamedFactory{{ID: "flaky", Factory: f}}, End: true}

	require.NoError(t, s.Run(context.Background(), d, nil))
	assert.EqualValues(t, 3, atomic.LoadInt32(&f.attempts))
}

// alwaysFlaky implements stage.Retryable but never succeeds within its
// attempt budget, so the stage still fails.
type alwaysFlaky struct{ attempts int32 }

func (f *alwaysFlaky) Read(ctx context.Context) error    { atomic.AddInt32(&f.attempts, 1); return assertErr }
func (f *alwaysFlaky) Process(ctx context.Context) error { return nil }
func (f *alwaysFlaky) Write(ctx context.Context) error   { return nil }
func (f *alwaysFlaky) Get() any                          { return nil }
func (f *alwaysFlaky) OutputType() delivery.RuntimeType  { return delivery.TypeFor[int]() }
func (f *alwaysFlaky) RetryPolicy() retry.RetryPolicy {
	return retry.NewFixedDelayRetry(3, time.Millisecond, retry.WithRetryCondition(func(error) bool { return true }))
}

func TestStage_Run_RetryableFactoryStillFailsAfterExhaustingAttempts(t *testing.T) {
	d := dispatch.New(nil)
	f := &alwaysFlaky{}
	s := stage.Stage{ID: 0, Factories: []stage.NamedFactory{{ID: "bad", Factory: f}}}

	err := s.Run(context.Background(), d, nil)
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&f.attempts))
}
