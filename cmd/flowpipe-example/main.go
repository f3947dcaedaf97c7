// Command flowpipe-example wires up the chained string→product→container
// scenario: a String seeds a Product1, an independent Product2 is built
// from nothing, Product1 is wrapped into a Container, and Product2 is
// wrapped into a Container2 through a setter-form input slot.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jzx17/flowpipe/pkg/delivery"
	"github.com/jzx17/flowpipe/pkg/descriptor"
	"github.com/jzx17/flowpipe/pkg/pipeline"
	"github.com/jzx17/flowpipe/pkg/retry"
	"github.com/jzx17/flowpipe/pkg/stage"
)

type Product1 struct{ X string }
type Product2 struct{ X, Y string }
type Container[T any] struct{ Inner T }
type Container2[T any] struct{ Inner T }

// StringToProduct1 turns the externally-seeded id string into a Product1.
// Its Read simulates a flaky upstream lookup that fails twice before
// succeeding; implementing stage.Retryable is what opts it into
// retry.RetryExecutor. Nothing in the pipeline retries a factory that
// doesn't ask for it.
type StringToProduct1 struct {
	ID       string `flow:"in"`
	out      Product1
	attempts int
}

func (f *StringToProduct1) Read(ctx context.Context) error {
	f.attempts++
	if f.attempts < 3 {
		return errors.New("upstream lookup temporarily unavailable")
	}
	return nil
}
func (f *StringToProduct1) Process(ctx context.Context) error { f.out = Product1{X: f.ID}; return nil }
func (f *StringToProduct1) Write(ctx context.Context) error   { return nil }
func (f *StringToProduct1) Get() any                          { return f.out }
func (f *StringToProduct1) OutputType() delivery.RuntimeType  { return delivery.TypeFor[Product1]() }

func (f *StringToProduct1) RetryPolicy() retry.RetryPolicy {
	return retry.NewFixedDelayRetry(5, 0, retry.WithRetryCondition(func(error) bool { return true }))
}

var _ stage.Retryable = (*StringToProduct1)(nil)

// MakeProduct2 has no inputs; it seeds a fixed Product2.
type MakeProduct2 struct{ out Product2 }

func (f *MakeProduct2) Read(ctx context.Context) error    { return nil }
func (f *MakeProduct2) Process(ctx context.Context) error { f.out = Product2{X: "a", Y: "b"}; return nil }
func (f *MakeProduct2) Write(ctx context.Context) error    { return nil }
func (f *MakeProduct2) Get() any                           { return f.out }
func (f *MakeProduct2) OutputType() delivery.RuntimeType   { return delivery.TypeFor[Product2]() }

// WrapProduct1 consumes a Product1 by field and produces Container[Product1].
type WrapProduct1 struct {
	In  Product1 `flow:"in"`
	out Container[Product1]
}

func (f *WrapProduct1) Read(ctx context.Context) error    { return nil }
func (f *WrapProduct1) Process(ctx context.Context) error { f.out = Container[Product1]{Inner: f.In}; return nil }
func (f *WrapProduct1) Write(ctx context.Context) error   { return nil }
func (f *WrapProduct1) Get() any                          { return f.out }
func (f *WrapProduct1) OutputType() delivery.RuntimeType  { return delivery.TypeFor[Container[Product1]]() }

// WrapProduct2 consumes a Product2 through a setter, producing
// Container2[Product2], demonstrating the setter-form input slot
// declaration Go's lack of method tags otherwise prevents discovering by
// reflection alone.
type WrapProduct2 struct {
	out Container2[Product2]
}

func (f *WrapProduct2) Read(ctx context.Context) error    { return nil }
func (f *WrapProduct2) Process(ctx context.Context) error { return nil }
func (f *WrapProduct2) Write(ctx context.Context) error   { return nil }
func (f *WrapProduct2) Get() any                          { return f.out }
func (f *WrapProduct2) OutputType() delivery.RuntimeType  { return delivery.TypeFor[Container2[Product2]]() }
func (f *WrapProduct2) SetInner(p Product2) {
	f.out = Container2[Product2]{Inner: p}
}
func (f *WrapProduct2) SinkSetters() []descriptor.SetterSpec {
	return []descriptor.SetterSpec{{Method: "SetInner"}}
}

func main() {
	p := pipeline.New()

	if err := p.SetInput("id_of_product1"); err != nil {
		log.Fatalf("seed input: %v", err)
	}
	stage1 := stage.Stage{Factories: []stage.NamedFactory{
		{ID: "F1", Factory: &StringToProduct1{}},
		{ID: "F2", Factory: &MakeProduct2{}},
	}}
	if err := p.AddStage(stage1); err != nil {
		log.Fatalf("add stage 1: %v", err)
	}
	if err := p.AddFactory("F3", &WrapProduct1{}); err != nil {
		log.Fatalf("add stage 2: %v", err)
	}
	if err := p.AddFactory("F4", &WrapProduct2{}); err != nil {
		log.Fatalf("add stage 3: %v", err)
	}

	if err := p.Run(context.Background()); err != nil {
		log.Fatalf("run: %v", err)
	}

	out, err := p.GetLastOutput()
	if err != nil {
		log.Fatalf("get last output: %v", err)
	}
	fmt.Printf("final output: %+v\n", out)

	for _, w := range p.Warnings() {
		fmt.Printf("warning: slot=%s candidates=%d chosen=%s\n", w.Slot, w.Candidates, w.Chosen)
	}

	found, err := p.GetDeliverable(delivery.TypeFor[Container2[Product2]]())
	if err != nil {
		log.Fatalf("get deliverable: %v", err)
	}
	fmt.Printf("container2 deliverables: %d\n", len(found))

	for _, d := range p.StageDurations() {
		fmt.Printf("stage %d took %s\n", d.StageID, d.Duration)
	}
}
