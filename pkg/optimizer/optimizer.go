// Package optimizer implements PipelineOptimizer: a pass over a validated
// stage list and its induced DAG that may widen stage boundaries without
// changing the DAG's edge set.
package optimizer

import (
	"github.com/jzx17/flowpipe/pkg/delivery"
	"github.com/jzx17/flowpipe/pkg/graph"
	"github.com/jzx17/flowpipe/pkg/stage"
)

// Optimizer rewrites a stage list given the DAG inspection produced from
// it. Implementations must preserve the DAG's edge set and must never
// move a consumer into the same or an earlier stage than its producer.
type Optimizer interface {
	Optimize(stages []stage.Stage, plan *graph.DAG) ([]stage.Stage, error)
}

// IdentityOptimizer returns the stage list unchanged, the default when
// optimization is disabled.
type IdentityOptimizer struct{}

func (IdentityOptimizer) Optimize(stages []stage.Stage, plan *graph.DAG) ([]stage.Stage, error) {
	return stages, nil
}

// MergeOptimizer merges consecutive stages whenever doing so introduces
// no new intra-stage producer/consumer pair, grounded on the topological
// "process by levels" idiom used across the pack's DAG examples, adapted
// here to merge already-declared levels rather than compute them.
type MergeOptimizer struct{}

// Optimize greedily folds each stage into its predecessor when no edge
// would end up with both endpoints inside the combined stage. Factories
// within one stage must stay mutually independent, so a merge is safe
// exactly when nothing being folded in consumes a sibling of the
// merged stage.
func (MergeOptimizer) Optimize(stages []stage.Stage, plan *graph.DAG) ([]stage.Stage, error) {
	if len(stages) < 2 {
		return stages, nil
	}

	edgesByConsumer := make(map[delivery.FactoryID][]*graph.Edge)
	for i := range plan.Edges {
		e := &plan.Edges[i]
		if e.To == nil {
			continue
		}
		edgesByConsumer[e.To.FactoryID] = append(edgesByConsumer[e.To.FactoryID], e)
	}

	merged := []stage.Stage{stages[0]}
	for i := 1; i < len(stages); i++ {
		prev := &merged[len(merged)-1]
		next := stages[i]

		if canMerge(*prev, next, edgesByConsumer) {
			prev.Factories = append(prev.Factories, next.Factories...)
			prev.End = next.End
			prev.Parallel = prev.Parallel || next.Parallel
			continue
		}
		merged = append(merged, next)
	}

	// Re-sequence IDs so downstream stage.Stage.ID stays contiguous.
	for i := range merged {
		merged[i].ID = i
	}
	return merged, nil
}

// canMerge reports whether folding next's factories into prev is safe:
// none of next's factories may consume a delivery produced by a sibling
// also being folded into the same stage (that would make them
// interdependent, which the DAG forbids within one stage).
func canMerge(prev, next stage.Stage, edgesByConsumer map[delivery.FactoryID][]*graph.Edge) bool {
	mergedIDs := make(map[delivery.FactoryID]struct{}, len(prev.Factories)+len(next.Factories))
	for _, nf := range prev.Factories {
		mergedIDs[nf.ID] = struct{}{}
	}
	for _, nf := range next.Factories {
		mergedIDs[nf.ID] = struct{}{}
	}

	for _, nf := range next.Factories {
		for _, e := range edgesByConsumer[nf.ID] {
			if e.From == nil {
				continue
			}
			if _, ok := mergedIDs[e.From.FactoryID]; ok {
				return false
			}
		}
	}
	return true
}
