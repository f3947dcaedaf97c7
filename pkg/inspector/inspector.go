// Package inspector implements PipelineInspector: the pure function that
// turns an ordered stage list plus a set of externally-seeded deliveries
// into a validated, stage-partitioned DAG, failing fast with a
// diagnostic rather than at run time.
package inspector

import (
	"github.com/google/uuid"

	"github.com/jzx17/flowpipe/pkg/delivery"
	"github.com/jzx17/flowpipe/pkg/descriptor"
	"github.com/jzx17/flowpipe/pkg/flowerrors"
	"github.com/jzx17/flowpipe/pkg/graph"
	"github.com/jzx17/flowpipe/pkg/stage"
)

// Inspector is stateless; every call to Inspect is a pure function of its
// arguments, so Inspect is idempotent and safe to re-invoke.
type Inspector struct{}

// New returns a ready Inspector.
func New() Inspector { return Inspector{} }

// Inspect resolves every non-optional input slot against seeded plus
// previously-produced deliveries, stage by stage. It returns the first
// unsatisfied or ambiguous slot it finds, never partway through
// execution.
func (Inspector) Inspect(stages []stage.Stage, seeded []delivery.Delivery) (*graph.DAG, error) {
	dag := &graph.DAG{Stages: make([][]*graph.Node, len(stages))}

	// available accumulates monotonically: seeded deliveries, plus the
	// output of every node in stages 0..k-1.
	available := append([]delivery.Delivery(nil), seeded...)
	nodesByFactory := make(map[delivery.FactoryID]*graph.Node)

	for k, st := range stages {
		stageNodes := make([]*graph.Node, 0, len(st.Factories))

		for _, nf := range st.Factories {
			desc, err := descriptor.Describe(nf.Factory)
			if err != nil {
				return nil, err
			}
			node := &graph.Node{
				ID:        uuid.New(),
				StageID:   k,
				FactoryID: nf.ID,
				Desc:      desc,
			}
			for slotIndex, slot := range desc.Inputs {
				edge, err := resolveSlot(available, slot, slotIndex, nf.ID, nodesByFactory)
				if err != nil {
					return nil, err
				}
				if edge == nil {
					// optional slot, unsatisfied; left for dispatch to skip.
					continue
				}
				edge.To = node
				node.Ingress = append(node.Ingress, *edge)
				dag.Edges = append(dag.Edges, *edge)
				if edge.From != nil {
					edge.From.Egress = append(edge.From.Egress, *edge)
				}
			}
			stageNodes = append(stageNodes, node)
			nodesByFactory[nf.ID] = node
		}

		dag.Stages[k] = stageNodes

		// Stage k's outputs become available to stage k+1 only after the
		// whole stage is described (stages 0..k-1, never k itself).
		for _, node := range stageNodes {
			del := delivery.New(nil, node.Desc.OutputType).
				WithProducer(node.FactoryID).
				WithDeliveryID(node.Desc.OutputID).
				WithConsumers(node.Desc.Consumers...)
			available = append(available, del)
		}
	}

	return dag, nil
}

// resolveSlot finds the best match for slot among available and returns
// the edge it implies, or nil if the slot is optional and unsatisfied.
func resolveSlot(
	available []delivery.Delivery,
	slot descriptor.Slot,
	slotIndex int,
	consumer delivery.FactoryID,
	nodesByFactory map[delivery.FactoryID]*graph.Node,
) (*graph.Edge, error) {
	q := slot.Query()
	q.Consumer = consumer

	bestScore := -1
	var best []delivery.Delivery
	for _, del := range available {
		if !del.Matches(q) {
			continue
		}
		score := del.Specificity(q)
		switch {
		case score > bestScore:
			bestScore = score
			best = []delivery.Delivery{del}
		case score == bestScore:
			best = append(best, del)
		}
	}

	if len(best) == 0 {
		if slot.Optional {
			return nil, nil
		}
		return nil, &flowerrors.UnsatisfiedInputError{
			RuntimeType:      slot.RuntimeType.String(),
			DeliveryID:       slot.DeliveryID,
			ExpectedProducer: slot.Producer,
			Consumer:         consumer,
		}
	}
	if len(best) > 1 {
		return nil, &flowerrors.AmbiguousDeliveryError{
			RuntimeType: slot.RuntimeType.String(),
			DeliveryID:  slot.DeliveryID,
			Consumer:    consumer,
			Candidates:  len(best),
		}
	}

	winner := best[0]
	edge := &graph.Edge{
		SlotIndex:   slotIndex,
		RuntimeType: winner.RuntimeType(),
		DeliveryID:  winner.DeliveryID(),
	}
	if winner.Producer() != delivery.External {
		edge.From = nodesByFactory[winner.Producer()]
	}
	return edge, nil
}
