// Package pipeline implements Pipeline: the driver that owns the stage
// list, forces inspection, applies the configured optimizer, and runs the
// resulting plan to completion. Its state machine follows the
// atomic-int32 CAS pattern used elsewhere in this module, generalized
// from a Created/Running/Stopped/Closed shape to this package's own
// Building/Inspected/Running/Done states.
package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jzx17/flowpipe/internal/diag"
	internalerrors "github.com/jzx17/flowpipe/internal/errors"
	"github.com/jzx17/flowpipe/pkg/delivery"
	"github.com/jzx17/flowpipe/pkg/descriptor"
	"github.com/jzx17/flowpipe/pkg/dispatch"
	"github.com/jzx17/flowpipe/pkg/flowerrors"
	"github.com/jzx17/flowpipe/pkg/graph"
	"github.com/jzx17/flowpipe/pkg/inspector"
	"github.com/jzx17/flowpipe/pkg/optimizer"
	"github.com/jzx17/flowpipe/pkg/stage"
	"github.com/jzx17/flowpipe/pkg/types"
	"github.com/jzx17/flowpipe/pkg/worker"
)

// State is the pipeline's lifecycle state.
type State int32

const (
	// StateBuilding is the initial state: setInput/addStage allowed.
	StateBuilding State = iota
	// StateInspected marks a cached, up-to-date DAG.
	StateInspected
	// StateRunning marks an in-flight Run; addStage is fatal.
	StateRunning
	// StateDone marks a completed Run; outputs are retrievable.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "Building"
	case StateInspected:
		return "Inspected"
	case StateRunning:
		return "Running"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Config holds the host-tunable knobs: the per-stage timeout, the clock
// used to measure stage duration, worker pool sizing, and whether the
// optimizer runs at all. Retry is never a pipeline-level concern; see
// pkg/stage.Retryable.
type Config struct {
	StageTimeout    time.Duration
	Clock           types.Clock
	Workers         int
	EnableOptimizer bool
}

// DefaultConfig is the conservative baseline: single worker, real
// clock, a generous per-stage timeout, optimizer off until explicitly
// enabled.
func DefaultConfig() *Config {
	return &Config{
		StageTimeout: 10 * time.Second,
		Clock:        types.NewRealClock(),
		Workers:      1,
	}
}

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

func WithClock(c types.Clock) Option {
	return func(p *Pipeline) { p.config.Clock = c }
}

func WithOptimizer(o optimizer.Optimizer) Option {
	return func(p *Pipeline) { p.optimizer = o }
}

func WithErrorHandler(h internalerrors.ErrorHandler) Option {
	return func(p *Pipeline) { p.errorHandler = h }
}

func WithWorkerPool(pool *worker.FixedWorkerPool) Option {
	return func(p *Pipeline) { p.pool = pool }
}

func WithConfig(cfg *Config) Option {
	return func(p *Pipeline) {
		if cfg != nil {
			p.config = cfg
		}
	}
}

// DeliveryOption qualifies a pipeline-seeded delivery built by SetInput.
type DeliveryOption func(delivery.Delivery) delivery.Delivery

func WithDeliveryID(id string) DeliveryOption {
	return func(d delivery.Delivery) delivery.Delivery { return d.WithDeliveryID(id) }
}

func WithConsumers(ids ...delivery.FactoryID) DeliveryOption {
	return func(d delivery.Delivery) delivery.Delivery { return d.WithConsumers(ids...) }
}

// Pipeline is the orchestrator driver.
type Pipeline struct {
	mu sync.Mutex // serializes structural mutation and inspection

	config       *Config
	optimizer    optimizer.Optimizer
	errorHandler internalerrors.ErrorHandler
	pool         *worker.FixedWorkerPool
	inspector    inspector.Inspector

	state  int32 // atomic State
	stages []stage.Stage
	seeded []delivery.Delivery
	plan   *graph.DAG
	endIDs []delivery.FactoryID // factories in the current last (end) stage

	dispatcher *dispatch.Dispatcher
	warnings   *diag.Collector

	durMu     sync.Mutex
	durations []StageDuration
}

// StageDuration records how long one stage's Run call took, measured by
// Config.Clock.
type StageDuration struct {
	StageID  int
	Duration time.Duration
}

// New creates a Pipeline in the Building state.
func New(opts ...Option) *Pipeline {
	warnings := diag.New()
	p := &Pipeline{
		config:    DefaultConfig(),
		optimizer: optimizer.IdentityOptimizer{},
		inspector: inspector.New(),
		state:     int32(StateBuilding),
		warnings:  warnings,
	}
	p.dispatcher = dispatch.New(warnings)

	for _, opt := range opts {
		opt(p)
	}
	if p.config.EnableOptimizer {
		if _, isIdentity := p.optimizer.(optimizer.IdentityOptimizer); isIdentity {
			p.optimizer = optimizer.MergeOptimizer{}
		}
	}
	return p
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	return State(atomic.LoadInt32(&p.state))
}

// SetInput registers a pipeline-seeded delivery. It is disallowed while a
// Run is in flight.
func (p *Pipeline) SetInput(payload any, opts ...DeliveryOption) error {
	if p.State() == StateRunning {
		return fmt.Errorf("pipeline: cannot set input while running")
	}

	rt := delivery.TypeOf(payload)
	d := delivery.New(payload, rt)
	for _, opt := range opts {
		d = opt(d)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeded = append(p.seeded, d)
	p.plan = nil
	atomic.StoreInt32(&p.state, int32(StateBuilding))
	return nil
}

// AddStage registers an ordered group of factories. It is fatal to call
// while Running; it always invalidates any cached DAG and marks only the
// newly-added stage as "end" (a stage is end iff it is the last
// registered). A factory whose descriptor cannot be built is rejected
// here with a DescriptorError.
func (p *Pipeline) AddStage(s stage.Stage) error {
	if p.State() == StateRunning {
		return fmt.Errorf("pipeline: cannot add stage while running")
	}
	for _, nf := range s.Factories {
		if _, err := descriptor.Describe(nf.Factory); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s.ID = len(p.stages)
	s.End = true
	for i := range p.stages {
		p.stages[i].End = false
	}
	p.stages = append(p.stages, s)

	p.endIDs = p.endIDs[:0]
	for _, nf := range s.Factories {
		p.endIDs = append(p.endIDs, nf.ID)
	}

	p.plan = nil
	atomic.StoreInt32(&p.state, int32(StateBuilding))
	return nil
}

// AddFactory is a single-factory convenience over AddStage.
func (p *Pipeline) AddFactory(id delivery.FactoryID, f descriptor.Factory) error {
	return p.AddStage(stage.Stage{Factories: []stage.NamedFactory{{ID: id, Factory: f}}})
}

// AddStageFromConstructor is a reflective class-based convenience: it
// builds a factory by calling constructor with args (coercing each
// argument's reflect.Value to the parameter type it expects), and
// registers it as a single-factory stage. A constructor whose arity or
// argument types don't match raises ConstructorMismatchError rather than
// panicking.
func AddStageFromConstructor(p *Pipeline, id delivery.FactoryID, constructor any, args ...any) error {
	cv := reflect.ValueOf(constructor)
	factoryTypeName := fmt.Sprintf("%T", constructor)

	if cv.Kind() != reflect.Func {
		return &flowerrors.ConstructorMismatchError{FactoryType: factoryTypeName, Reason: "constructor is not a function"}
	}
	ct := cv.Type()
	if ct.IsVariadic() {
		if len(args) < ct.NumIn()-1 {
			return &flowerrors.ConstructorMismatchError{
				FactoryType: factoryTypeName,
				Reason:      fmt.Sprintf("constructor requires at least %d args, got %d", ct.NumIn()-1, len(args)),
			}
		}
	} else if ct.NumIn() != len(args) {
		return &flowerrors.ConstructorMismatchError{
			FactoryType: factoryTypeName,
			Reason:      fmt.Sprintf("constructor expects %d args, got %d", ct.NumIn(), len(args)),
		}
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		want := ct.In(i)
		if ct.IsVariadic() && i >= ct.NumIn()-1 {
			want = ct.In(ct.NumIn() - 1).Elem()
		}
		av := reflect.ValueOf(a)
		switch {
		case !av.IsValid():
			av = reflect.Zero(want)
		case av.Type().AssignableTo(want):
		case av.Type().ConvertibleTo(want):
			av = av.Convert(want)
		default:
			return &flowerrors.ConstructorMismatchError{
				FactoryType: factoryTypeName,
				Reason:      fmt.Sprintf("argument %d: cannot use %s as %s", i, av.Type(), want),
			}
		}
		in[i] = av
	}

	out := cv.Call(in)
	if len(out) == 0 {
		return &flowerrors.ConstructorMismatchError{FactoryType: factoryTypeName, Reason: "constructor returned no value"}
	}
	if len(out) == 2 {
		if errVal, ok := out[1].Interface().(error); ok && errVal != nil {
			return errVal
		}
	}
	factory, ok := out[0].Interface().(descriptor.Factory)
	if !ok {
		return &flowerrors.ConstructorMismatchError{
			FactoryType: factoryTypeName,
			Reason:      "constructor's return value does not implement descriptor.Factory",
		}
	}
	return p.AddFactory(id, factory)
}

// inspectLocked runs the inspector and caches the result. With force
// false it is a no-op when a cached plan already exists and the state
// isn't Building (i.e. nothing has invalidated it since). Caller must
// hold p.mu.
func (p *Pipeline) inspectLocked(force bool) error {
	if !force && p.plan != nil && State(atomic.LoadInt32(&p.state)) != StateBuilding {
		return nil
	}
	plan, err := p.inspector.Inspect(p.stages, p.seeded)
	if err != nil {
		return err
	}
	p.plan = plan
	return nil
}

// Describe forces inspection and renders the textual DAG diagram.
func (p *Pipeline) Describe() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.inspectLocked(false); err != nil {
		return "", err
	}
	atomic.CompareAndSwapInt32(&p.state, int32(StateBuilding), int32(StateInspected))
	return p.plan.Describe(), nil
}

// Run executes the inspected, optimized plan to completion. Stages
// execute in order; a parallel stage fans out through the injected
// worker pool, or a run-scoped one sized from Config.Workers when none
// was injected. A stage failure always halts remaining stages; a
// configured ErrorHandler only classifies/annotates the failure (for
// logging or diagnostics), it never resumes the run. Cancellation via
// ctx lets the in-flight stage finish before Run returns a
// CancelledError; no new stage starts. Each stage runs under
// Config.StageTimeout (when positive) and its wall time, measured by
// Config.Clock, is recorded and retrievable via StageDurations.
func (p *Pipeline) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.state, int32(StateBuilding), int32(StateRunning)) &&
		!atomic.CompareAndSwapInt32(&p.state, int32(StateInspected), int32(StateRunning)) &&
		!atomic.CompareAndSwapInt32(&p.state, int32(StateDone), int32(StateRunning)) {
		return fmt.Errorf("pipeline: already running")
	}

	p.mu.Lock()
	// A fresh run gets a fresh registry: re-running from Done would
	// otherwise re-seed and re-collect the same deliveries, tripping the
	// duplicate-rejection in AddDeliverable.
	p.dispatcher = dispatch.New(p.warnings)
	if err := p.inspectLocked(true); err != nil {
		p.mu.Unlock()
		atomic.StoreInt32(&p.state, int32(StateDone))
		return err
	}
	stages := p.stages
	plan := p.plan
	p.mu.Unlock()

	optimized, err := p.optimizer.Optimize(stages, plan)
	if err != nil {
		atomic.StoreInt32(&p.state, int32(StateDone))
		return err
	}

	for _, del := range p.seeded {
		if err := p.dispatcher.AddDeliverable(del); err != nil {
			atomic.StoreInt32(&p.state, int32(StateDone))
			return err
		}
	}

	p.durMu.Lock()
	p.durations = p.durations[:0]
	p.durMu.Unlock()

	clock := p.config.Clock
	if clock == nil {
		clock = types.NewRealClock()
	}

	pool, ownPool, err := p.acquirePool(ctx, optimized)
	if err != nil {
		atomic.StoreInt32(&p.state, int32(StateDone))
		return err
	}
	if ownPool {
		defer pool.Close()
	}

	for _, st := range optimized {
		select {
		case <-ctx.Done():
			atomic.StoreInt32(&p.state, int32(StateDone))
			return &flowerrors.CancelledError{Cause: ctx.Err()}
		default:
		}

		stageCtx := ctx
		var cancel context.CancelFunc
		if p.config.StageTimeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, p.config.StageTimeout)
		}

		start := clock.Now()
		var runErr error
		if st.Parallel && pool != nil {
			runErr = st.Run(stageCtx, p.dispatcher, pool)
		} else {
			runErr = st.Run(stageCtx, p.dispatcher, nil)
		}
		elapsed := clock.Since(start)
		if cancel != nil {
			cancel()
		}

		p.durMu.Lock()
		p.durations = append(p.durations, StageDuration{StageID: st.ID, Duration: elapsed})
		p.durMu.Unlock()

		if runErr == nil {
			continue
		}

		if ctx.Err() != nil {
			atomic.StoreInt32(&p.state, int32(StateDone))
			return &flowerrors.CancelledError{Cause: ctx.Err()}
		}

		if p.errorHandler != nil {
			errCtx := internalerrors.NewErrorContext(runErr, fmt.Sprintf("stage-%d", st.ID), nil)
			// HandleError classifies the failure (e.g. for logging); its
			// return value never changes whether Run halts.
			p.errorHandler.HandleError(ctx, errCtx)
		}
		atomic.StoreInt32(&p.state, int32(StateDone))
		return runErr
	}

	atomic.StoreInt32(&p.state, int32(StateDone))
	return nil
}

// acquirePool returns the pool parallel stages fan out through: the
// injected one when present, otherwise a run-scoped pool sized from
// Config.Workers. The second return reports whether the caller owns
// the pool and must close it. No parallel stage means no pool at all.
func (p *Pipeline) acquirePool(ctx context.Context, stages []stage.Stage) (*worker.FixedWorkerPool, bool, error) {
	if p.pool != nil {
		return p.pool, false, nil
	}

	parallel := false
	for _, st := range stages {
		if st.Parallel {
			parallel = true
			break
		}
	}
	if !parallel {
		return nil, false, nil
	}

	workers := p.config.Workers
	if workers <= 0 {
		workers = 1
	}
	cfg := worker.DefaultFixedWorkerPoolConfig()
	cfg.PoolSize = workers
	if p.config.Clock != nil {
		cfg.Clock = p.config.Clock
	}
	pool, err := worker.NewFixedWorkerPool(cfg)
	if err != nil {
		return nil, false, err
	}
	if err := pool.Start(ctx); err != nil {
		return nil, false, err
	}
	return pool, true, nil
}

// StageDurations returns the wall time of every stage executed by the
// most recent Run, in execution order.
func (p *Pipeline) StageDurations() []StageDuration {
	p.durMu.Lock()
	defer p.durMu.Unlock()
	return append([]StageDuration(nil), p.durations...)
}

// GetLastOutput returns the output of the end stage's factories, the
// first if more than one factory occupies it.
func (p *Pipeline) GetLastOutput() (any, error) {
	p.mu.Lock()
	endIDs := append([]delivery.FactoryID(nil), p.endIDs...)
	p.mu.Unlock()

	for _, del := range p.dispatcher.Snapshot() {
		for _, id := range endIDs {
			if del.Producer() == id {
				return del.Get(), nil
			}
		}
	}
	return nil, &flowerrors.LookupMissError{Query: "last output"}
}

// GetOutput returns the output produced by the named factory.
func (p *Pipeline) GetOutput(id delivery.FactoryID) (any, error) {
	for _, del := range p.dispatcher.Snapshot() {
		if del.Producer() == id {
			return del.Get(), nil
		}
	}
	return nil, &flowerrors.LookupMissError{Query: fmt.Sprintf("output of %q", id)}
}

// GetDeliverable returns every registered delivery of the given runtime
// type.
func (p *Pipeline) GetDeliverable(rt delivery.RuntimeType) ([]delivery.Delivery, error) {
	found := p.dispatcher.FindDeliverableByType(rt)
	if len(found) == 0 {
		return nil, &flowerrors.LookupMissError{Query: rt.String()}
	}
	return found, nil
}

// Warnings returns every non-fatal tie-break diagnostic recorded during
// dispatch.
func (p *Pipeline) Warnings() []diag.Warning {
	return p.warnings.All()
}
