// Package flowerrors defines the orchestrator's public error kinds. Each is
// a distinct exported type with identifying fields, Unwrap support where
// there is a cause, and errors.As-friendly pointer receivers, the same
// shape pkg/types uses for OpError.
package flowerrors

import (
	"errors"
	"fmt"

	"github.com/jzx17/flowpipe/pkg/delivery"
)

// UnsatisfiedInputError is raised at inspection when a non-optional slot
// has no matching delivery.
type UnsatisfiedInputError struct {
	RuntimeType      string
	DeliveryID       string
	ExpectedProducer delivery.FactoryID
	Consumer         delivery.FactoryID
}

func (e *UnsatisfiedInputError) Error() string {
	return fmt.Sprintf(
		"unsatisfied input: type=%s id=%q producer=%q consumer=%q has no matching delivery",
		e.RuntimeType, e.DeliveryID, e.ExpectedProducer, e.Consumer,
	)
}

// AmbiguousDeliveryError is raised at inspection when more than one
// delivery matches a slot with equal specificity.
type AmbiguousDeliveryError struct {
	RuntimeType string
	DeliveryID  string
	Consumer    delivery.FactoryID
	Candidates  int
}

func (e *AmbiguousDeliveryError) Error() string {
	return fmt.Sprintf(
		"ambiguous delivery: type=%s id=%q consumer=%q has %d equally specific candidates",
		e.RuntimeType, e.DeliveryID, e.Consumer, e.Candidates,
	)
}

// ConstructorMismatchError is raised by a class-based AddStage when the
// supplied constructor arguments don't match the factory's primary
// constructor.
type ConstructorMismatchError struct {
	FactoryType string
	Reason      string
}

func (e *ConstructorMismatchError) Error() string {
	return fmt.Sprintf("constructor mismatch for %s: %s", e.FactoryType, e.Reason)
}

// RuntimeFactoryFailure wraps an error a factory's Read/Process/Write
// raised, naming the failing node.
type RuntimeFactoryFailure struct {
	StageID   int
	FactoryID delivery.FactoryID
	Cause     error
}

func (e *RuntimeFactoryFailure) Error() string {
	return fmt.Sprintf("factory %q in stage %d failed: %v", e.FactoryID, e.StageID, e.Cause)
}

func (e *RuntimeFactoryFailure) Unwrap() error { return e.Cause }

// LookupMissError is returned by GetOutput/GetDeliverable when nothing
// matches, distinct from the empty-slice case, which is valid.
type LookupMissError struct {
	Query string
}

func (e *LookupMissError) Error() string {
	return fmt.Sprintf("lookup miss: %s", e.Query)
}

// CancelledError wraps cooperative cancellation during Run.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("pipeline run cancelled: %v", e.Cause)
}

func (e *CancelledError) Unwrap() error { return e.Cause }

// IsLookupMiss reports whether err is (or wraps) a LookupMissError.
func IsLookupMiss(err error) bool {
	var miss *LookupMissError
	return errors.As(err, &miss)
}
