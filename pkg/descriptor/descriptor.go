// Package descriptor builds the reflected view of a factory: its declared
// input slots and declared output type. A Descriptor is built once per
// concrete factory type and cached, matching this module's preference
// for immutable, lock-free-after-build metadata.
package descriptor

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jzx17/flowpipe/pkg/delivery"
)

// Factory is the contract a user implements. Go's erased-at-interface-level
// generics mean a factory must declare its output's type token explicitly
// rather than have it inferred from a generic parameter; OutputType plays
// that role.
type Factory interface {
	Read(ctx context.Context) error
	Process(ctx context.Context) error
	Write(ctx context.Context) error
	Get() any
	OutputType() delivery.RuntimeType
}

// OutputSpec optionally qualifies a factory's output with a delivery id
// and a restricted consumer set. Factories that don't need either skip
// implementing OutputSpecProvider.
type OutputSpec struct {
	DeliveryID string
	Consumers  []delivery.FactoryID
}

// OutputSpecProvider is an optional hook on Factory.
type OutputSpecProvider interface {
	Output() OutputSpec
}

// SetterSpec declares one setter-form input slot. Because Go methods carry
// no struct tags, setter-form slots are declared explicitly through
// SinkSetterProvider rather than discovered purely by reflection.
type SetterSpec struct {
	Method     string
	DeliveryID string
	Producer   delivery.FactoryID
	Optional   bool
	AutoLoad   bool
}

// SinkSetterProvider is an optional hook on Factory exposing setter-form
// input slots.
type SinkSetterProvider interface {
	SinkSetters() []SetterSpec
}

// Slot is one declared input on a factory.
type Slot struct {
	RuntimeType delivery.RuntimeType
	DeliveryID  string
	Producer    delivery.FactoryID // External means "from any producer"
	Consumer    delivery.FactoryID // the owning factory
	Optional    bool
	AutoLoad    bool

	assign func(factory any, payload any) error
}

// Query converts a Slot into the delivery.SlotQuery the matching rule
// operates on.
func (s Slot) Query() delivery.SlotQuery {
	return delivery.SlotQuery{
		RuntimeType: s.RuntimeType,
		DeliveryID:  s.DeliveryID,
		Producer:    s.Producer,
		Consumer:    s.Consumer,
	}
}

// Assign writes payload into factory via the slot's recorded accessor.
func (s Slot) Assign(factory any, payload any) error {
	return s.assign(factory, payload)
}

// Descriptor is the reflected, immutable view of one factory instance's
// shape.
type Descriptor struct {
	OutputType delivery.RuntimeType
	OutputID   string
	Consumers  []delivery.FactoryID
	Inputs     []Slot
}

// DescriptorError is raised when reflection cannot derive a factory's
// shape: a missing output type, or a setter with an arity other than
// one.
type DescriptorError struct {
	FactoryType string
	Reason      string
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("descriptor: %s: %s", e.FactoryType, e.Reason)
}

var cache sync.Map // reflect.Type -> *Descriptor

// Describe builds (or returns the cached) Descriptor for factory's
// concrete type.
func Describe(factory Factory) (*Descriptor, error) {
	rt := reflect.TypeOf(factory)
	if cached, ok := cache.Load(rt); ok {
		return cached.(*Descriptor), nil
	}

	outputType := factory.OutputType()
	if !outputType.Valid() {
		return nil, &DescriptorError{FactoryType: rt.String(), Reason: "OutputType() returned an invalid type token"}
	}

	desc := &Descriptor{OutputType: outputType}
	if p, ok := factory.(OutputSpecProvider); ok {
		spec := p.Output()
		desc.OutputID = spec.DeliveryID
		desc.Consumers = spec.Consumers
	}

	fieldSlots, err := fieldSlots(rt)
	if err != nil {
		return nil, err
	}
	desc.Inputs = append(desc.Inputs, fieldSlots...)

	if p, ok := factory.(SinkSetterProvider); ok {
		setterSlots, err := setterSlots(rt, p.SinkSetters())
		if err != nil {
			return nil, err
		}
		desc.Inputs = append(desc.Inputs, setterSlots...)
	}

	cache.Store(rt, desc)
	return desc, nil
}

// fieldSlots discovers field-form input slots: exported fields tagged
// `flow:"in"`, optionally suffixed with key=value pairs
// (id=..., producer=..., optional, autoload).
func fieldSlots(rt reflect.Type) ([]Slot, error) {
	elemType := rt
	for elemType.Kind() == reflect.Ptr {
		elemType = elemType.Elem()
	}
	if elemType.Kind() != reflect.Struct {
		return nil, nil
	}

	var slots []Slot
	for i := 0; i < elemType.NumField(); i++ {
		field := elemType.Field(i)
		tag, ok := field.Tag.Lookup("flow")
		if !ok {
			continue
		}
		parts := strings.Split(tag, ",")
		if len(parts) == 0 || parts[0] != "in" {
			continue
		}

		slot := Slot{RuntimeType: delivery.TypeOf(reflect.Zero(field.Type).Interface())}
		for _, kv := range parts[1:] {
			applyTagOption(&slot, kv)
		}
		index := i
		slot.assign = func(factory any, payload any) error {
			v := reflect.ValueOf(factory)
			for v.Kind() == reflect.Ptr {
				v = v.Elem()
			}
			target := v.Field(index)
			return assignValue(target, payload)
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// setterSlots validates and builds setter-form input slots from explicit
// SetterSpec declarations: a setter with other than exactly one
// parameter is fatal.
func setterSlots(rt reflect.Type, specs []SetterSpec) ([]Slot, error) {
	slots := make([]Slot, 0, len(specs))
	for _, spec := range specs {
		method, ok := rt.MethodByName(spec.Method)
		if !ok {
			return nil, &DescriptorError{FactoryType: rt.String(), Reason: fmt.Sprintf("setter %q not found", spec.Method)}
		}
		// method.Type includes the receiver as the first parameter.
		if method.Type.NumIn() != 2 {
			return nil, &DescriptorError{
				FactoryType: rt.String(),
				Reason:      fmt.Sprintf("setter %q must take exactly one argument, got %d", spec.Method, method.Type.NumIn()-1),
			}
		}
		argType := method.Type.In(1)
		slot := Slot{
			RuntimeType: delivery.TypeOf(reflect.Zero(argType).Interface()),
			DeliveryID:  spec.DeliveryID,
			Producer:    spec.Producer,
			Optional:    spec.Optional,
			AutoLoad:    spec.AutoLoad,
		}
		methodName := spec.Method
		slot.assign = func(factory any, payload any) error {
			v := reflect.ValueOf(factory)
			m := v.MethodByName(methodName)
			if !m.IsValid() {
				return fmt.Errorf("descriptor: setter %q not found on %T", methodName, factory)
			}
			argVal, err := coerce(payload, argType)
			if err != nil {
				return err
			}
			results := m.Call([]reflect.Value{argVal})
			if len(results) == 1 {
				if errVal, ok := results[0].Interface().(error); ok {
					return errVal
				}
			}
			return nil
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func applyTagOption(slot *Slot, kv string) {
	kv = strings.TrimSpace(kv)
	switch {
	case kv == "optional":
		slot.Optional = true
	case kv == "autoload":
		slot.AutoLoad = true
	case strings.HasPrefix(kv, "id="):
		slot.DeliveryID = strings.TrimPrefix(kv, "id=")
	case strings.HasPrefix(kv, "producer="):
		slot.Producer = delivery.FactoryID(strings.TrimPrefix(kv, "producer="))
	}
}

// assignValue writes payload into a struct field, unboxing
// primitive-wrapped types as needed.
func assignValue(target reflect.Value, payload any) error {
	if !target.CanSet() {
		return fmt.Errorf("descriptor: field %s is not assignable", target.Type())
	}
	val, err := coerce(payload, target.Type())
	if err != nil {
		return err
	}
	target.Set(val)
	return nil
}

func coerce(payload any, want reflect.Type) (reflect.Value, error) {
	val := reflect.ValueOf(payload)
	if !val.IsValid() {
		return reflect.Zero(want), nil
	}
	if val.Type().AssignableTo(want) {
		return val, nil
	}
	if val.Type().ConvertibleTo(want) {
		return val.Convert(want), nil
	}
	return reflect.Value{}, fmt.Errorf("descriptor: cannot assign %s into %s", val.Type(), want)
}
