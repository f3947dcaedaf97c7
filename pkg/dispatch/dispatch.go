// Package dispatch implements DeliverableDispatcher: the runtime registry
// of available deliveries, and the logic that injects matching
// deliveries into a factory's declared input slots before it runs. The
// registry's locking discipline (writer-exclusive on write, shared on
// read) mirrors the sync.RWMutex discipline pkg/worker uses to guard
// pool state.
package dispatch

import (
	"fmt"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"github.com/jzx17/flowpipe/internal/diag"
	"github.com/jzx17/flowpipe/pkg/delivery"
	"github.com/jzx17/flowpipe/pkg/descriptor"
)

// Dispatcher is the registry-and-router binding deliveries to slots at run
// time.
type Dispatcher struct {
	mu       sync.RWMutex
	registry []delivery.Delivery
	seen     map[delivery.Key]struct{}
	warnings *diag.Collector
}

// New creates an empty Dispatcher. A nil *diag.Collector disables
// warning collection.
func New(warnings *diag.Collector) *Dispatcher {
	if warnings == nil {
		warnings = diag.New()
	}
	return &Dispatcher{
		seen:     make(map[delivery.Key]struct{}),
		warnings: warnings,
	}
}

// AddDeliverable appends a delivery to the registry. Duplicates (equal
// (runtimeType, deliveryId, producer, consumers) quadruple) are rejected;
// callers wanting to replace must not call this twice with the same key.
func (d *Dispatcher) AddDeliverable(del delivery.Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := del.Key()
	if _, dup := d.seen[key]; dup {
		return fmt.Errorf("dispatch: duplicate deliverable %+v", key)
	}
	d.seen[key] = struct{}{}
	d.registry = append(d.registry, del)
	return nil
}

// candidate pairs a delivery with its index, used to break ties by
// "most recently registered wins".
type candidate struct {
	del   delivery.Delivery
	index int
}

// Best finds the highest-specificity, most-recent match for a slot query
// among the current registry. It also returns how many matches tied for
// the highest specificity, so callers can decide whether the situation
// is ambiguous.
func (d *Dispatcher) Best(q delivery.SlotQuery) (winner delivery.Delivery, tiedCount int, found bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var best []candidate
	bestScore := -1
	for i, del := range d.registry {
		if !del.Matches(q) {
			continue
		}
		score := del.Specificity(q)
		switch {
		case score > bestScore:
			bestScore = score
			best = []candidate{{del, i}}
		case score == bestScore:
			best = append(best, candidate{del, i})
		}
	}
	if len(best) == 0 {
		return delivery.Delivery{}, 0, false
	}
	// tie-break: most recently registered wins.
	top := best[0]
	for _, c := range best[1:] {
		if c.index > top.index {
			top = c
		}
	}
	return top.del, len(best), true
}

// Dispatch finds and assigns a matching delivery for each of factory's
// declared input slots. Missing optional slots are left untouched and are
// never autowired; a missing required slot is a bug the inspector should
// have already caught.
func (d *Dispatcher) Dispatch(factory any, desc *descriptor.Descriptor, consumer delivery.FactoryID) error {
	for i, slot := range desc.Inputs {
		q := slot.Query()
		q.Consumer = consumer
		match, tied, found := d.Best(q)
		if !found {
			if slot.Optional {
				continue
			}
			return pkgerrors.WithStack(fmt.Errorf(
				"dispatch: required slot %d (%s) on %q has no matching delivery though inspection passed",
				i, slot.RuntimeType, consumer,
			))
		}
		if tied > 1 {
			d.warnings.Add(diag.Warning{
				Slot:       slot.RuntimeType.String(),
				Candidates: tied,
				Chosen:     string(match.Producer()),
			})
		}
		if err := slot.Assign(factory, match.Get()); err != nil {
			return pkgerrors.WithStack(err)
		}
	}
	return nil
}

// CollectDeliverable wraps a factory's completed output as a new Delivery
// and registers it. It never overwrites an older delivery of the same
// type; both remain queryable, and the newest wins future matches by
// registration order.
func (d *Dispatcher) CollectDeliverable(factory any, producer delivery.FactoryID, desc *descriptor.Descriptor, get func() any) (delivery.Delivery, error) {
	payload := get()
	del := delivery.New(payload, desc.OutputType).
		WithProducer(producer).
		WithDeliveryID(desc.OutputID).
		WithConsumers(desc.Consumers...)
	if err := d.AddDeliverable(del); err != nil {
		return delivery.Delivery{}, err
	}
	return del, nil
}

// FindDeliverableByType returns every registered delivery whose runtime
// type matches rt, in registration order.
func (d *Dispatcher) FindDeliverableByType(rt delivery.RuntimeType) []delivery.Delivery {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []delivery.Delivery
	for _, del := range d.registry {
		if del.RuntimeType().Equal(rt) {
			out = append(out, del)
		}
	}
	return out
}

// Snapshot returns every registered delivery, in registration order; the
// pipeline uses it to look up outputs by producer.
func (d *Dispatcher) Snapshot() []delivery.Delivery {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]delivery.Delivery, len(d.registry))
	copy(out, d.registry)
	return out
}

// Warnings returns the diagnostics collector Dispatch records tie-break
// warnings into.
func (d *Dispatcher) Warnings() *diag.Collector {
	return d.warnings
}
