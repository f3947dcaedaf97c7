// Package delivery defines the typed envelope that carries a value between
// factories: its payload, its exact runtime type (including generic
// parameters), and the routing metadata (producer, consumers, delivery id)
// that the dispatcher uses to decide where it may go.
package delivery

import (
	"fmt"
	"reflect"
)

// FactoryID identifies a factory instance within a pipeline. The empty
// FactoryID is reserved as the External sentinel: it marks pipeline-seeded
// deliveries and slots that accept input from any producer.
type FactoryID string

// External is the sentinel producer for pipeline-level seeded deliveries.
const External FactoryID = ""

// RuntimeType is a structural type token. Two RuntimeType values are equal
// iff the underlying Go types are identical, including generic
// instantiation: Container[Product1] and Container[Product2] are
// distinguishable because Go reifies them as distinct reflect.Types.
type RuntimeType struct {
	t reflect.Type
}

// TypeOf derives a RuntimeType from a value's dynamic type.
func TypeOf(example any) RuntimeType {
	return RuntimeType{t: reflect.TypeOf(example)}
}

// TypeFor derives a RuntimeType from a static type parameter, useful when
// no example value is at hand (e.g. an interface return type).
func TypeFor[T any]() RuntimeType {
	return RuntimeType{t: reflect.TypeOf((*T)(nil)).Elem()}
}

// Equal reports whether two runtime types are the exact same Go type.
func (r RuntimeType) Equal(o RuntimeType) bool {
	return r.t == o.t
}

// Valid reports whether the type token was actually derived from a value
// (a nil interface yields an invalid RuntimeType).
func (r RuntimeType) Valid() bool {
	return r.t != nil
}

func (r RuntimeType) String() string {
	if r.t == nil {
		return "<invalid>"
	}
	return r.t.String()
}

// GoType exposes the underlying reflect.Type for descriptor/dispatch code
// that needs to unbox or assign values into factory fields.
func (r RuntimeType) GoType() reflect.Type {
	return r.t
}

// SlotQuery is the subset of a descriptor.Slot the matching rule needs.
// It lives in this package (rather than descriptor) so Delivery can
// implement matching without importing descriptor, which itself depends
// on delivery.
type SlotQuery struct {
	RuntimeType RuntimeType
	DeliveryID  string
	Producer    FactoryID // External means "accept from any producer"
	Consumer    FactoryID
}

// Delivery is an immutable envelope. Builder methods return a modified
// copy, matching the functional-options style used elsewhere in this
// module.
type Delivery struct {
	payload     any
	runtimeType RuntimeType
	deliveryID  string
	producer    FactoryID
	consumers   map[FactoryID]struct{} // nil/empty means "any consumer"
}

// New creates a Delivery with empty consumers, an empty delivery id, and
// producer External, the shape of a freshly seeded pipeline input.
func New(payload any, rt RuntimeType) Delivery {
	return Delivery{payload: payload, runtimeType: rt, producer: External}
}

// WithConsumers restricts dispatch to the given factory ids.
func (d Delivery) WithConsumers(ids ...FactoryID) Delivery {
	if len(ids) == 0 {
		d.consumers = nil
		return d
	}
	set := make(map[FactoryID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	d.consumers = set
	return d
}

// WithDeliveryID sets the disambiguating tag.
func (d Delivery) WithDeliveryID(id string) Delivery {
	d.deliveryID = id
	return d
}

// WithProducer sets the producing factory's id.
func (d Delivery) WithProducer(id FactoryID) Delivery {
	d.producer = id
	return d
}

// Get returns the payload.
func (d Delivery) Get() any { return d.payload }

// RuntimeType returns the envelope's type token.
func (d Delivery) RuntimeType() RuntimeType { return d.runtimeType }

// DeliveryID returns the disambiguating tag.
func (d Delivery) DeliveryID() string { return d.deliveryID }

// Producer returns the producing factory id, or External.
func (d Delivery) Producer() FactoryID { return d.producer }

// Consumers returns the consumer set; nil means "any consumer".
func (d Delivery) Consumers() []FactoryID {
	if len(d.consumers) == 0 {
		return nil
	}
	out := make([]FactoryID, 0, len(d.consumers))
	for id := range d.consumers {
		out = append(out, id)
	}
	return out
}

// Key identifies a delivery for duplicate-rejection purposes: the
// (runtimeType, deliveryId, producer, consumers) quadruple.
type Key struct {
	RuntimeType string
	DeliveryID  string
	Producer    FactoryID
	ConsumerSet string
}

// Key builds the duplicate-rejection key, rendering the consumer set in a
// canonical, order-independent form.
func (d Delivery) Key() Key {
	consumers := d.Consumers()
	if len(consumers) > 1 {
		// canonical order for comparison purposes
		sorted := make([]FactoryID, len(consumers))
		copy(sorted, consumers)
		for i := 1; i < len(sorted); i++ {
			for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
				sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
			}
		}
		consumers = sorted
	}
	return Key{
		RuntimeType: d.runtimeType.String(),
		DeliveryID:  d.deliveryID,
		Producer:    d.producer,
		ConsumerSet: fmt.Sprint(consumers),
	}
}

// Matches implements the four-part matching rule:
//  1. exact runtime type equality,
//  2. equal delivery id,
//  3. slot producer is External, or equals this delivery's producer,
//  4. this delivery's consumers is empty, or contains the slot's consumer.
func (d Delivery) Matches(q SlotQuery) bool {
	if !d.runtimeType.Equal(q.RuntimeType) {
		return false
	}
	if d.deliveryID != q.DeliveryID {
		return false
	}
	if q.Producer != External && d.producer != q.Producer {
		return false
	}
	if len(d.consumers) > 0 {
		if _, ok := d.consumers[q.Consumer]; !ok {
			return false
		}
	}
	return true
}

// Specificity scores a match for tie-breaking: a delivery whose consumer
// set names the slot's consumer outranks one with an empty (any-consumer)
// set. Callers must only call Specificity after Matches has returned
// true.
func (d Delivery) Specificity(q SlotQuery) int {
	if len(d.consumers) > 0 {
		return 2
	}
	return 1
}
