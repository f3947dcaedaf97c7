// Package graph holds the validated execution plan: one Node per factory
// instance, partitioned by stage, and the Edges the inspector derives
// between them. Graph itself performs no validation; that lives in
// pkg/inspector, mirroring the split between config validation and a
// purely mechanical execution loop used elsewhere in this module.
package graph

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jzx17/flowpipe/pkg/delivery"
	"github.com/jzx17/flowpipe/pkg/descriptor"
)

// Node is one factory instance placed in the DAG.
type Node struct {
	ID        uuid.UUID
	StageID   int
	FactoryID delivery.FactoryID
	Desc      *descriptor.Descriptor
	Ingress   []Edge
	Egress    []Edge
}

// Edge is a satisfied input-slot binding: From is nil when the producer is
// External.
type Edge struct {
	From        *Node
	To          *Node
	SlotIndex   int
	RuntimeType delivery.RuntimeType
	DeliveryID  string
}

// DAG is the validated, stage-partitioned graph produced by the inspector.
type DAG struct {
	Stages [][]*Node
	Edges  []Edge
}

// NodeByFactoryID finds the node for a given factory id, if present.
func (g *DAG) NodeByFactoryID(id delivery.FactoryID) *Node {
	for _, stage := range g.Stages {
		for _, n := range stage {
			if n.FactoryID == id {
				return n
			}
		}
	}
	return nil
}

// Describe renders a textual diagram: one line per node, edges listed by
// endpoint identifiers.
func (g *DAG) Describe() string {
	var b strings.Builder
	for _, stage := range g.Stages {
		for _, n := range stage {
			fmt.Fprintf(&b, "node %s stage=%d factory=%s output=%s\n", n.ID, n.StageID, n.FactoryID, n.Desc.OutputType)
		}
	}
	for _, e := range g.Edges {
		from := "External"
		if e.From != nil {
			from = e.From.ID.String()
		}
		fmt.Fprintf(&b, "edge %s -> %s slot=%d type=%s id=%q\n", from, e.To.ID, e.SlotIndex, e.RuntimeType, e.DeliveryID)
	}
	return b.String()
}
