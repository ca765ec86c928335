// Package graph provides the typed arena representation of a workflow's
// node/edge definition and the structural validation run before a workflow
// may go live.
package graph

import (
	"github.com/inkletter/inkletter/pkg/models"
)

// Graph is an arena of nodes indexed by ID plus a flat edge list. It is
// immutable after Build; the engine builds one per transition from the
// workflow definition.
type Graph struct {
	nodes    map[string]*models.Node
	edges    []*models.Edge
	outgoing map[string][]*models.Edge
	incoming map[string][]*models.Edge
	trigger  *models.Node
}

// Build indexes a workflow definition. It never rejects anything; Validate
// reports invariant violations separately so the builder UI can show all of
// them at once.
func Build(nodes []*models.Node, edges []*models.Edge) *Graph {
	g := &Graph{
		nodes:    make(map[string]*models.Node, len(nodes)),
		edges:    edges,
		outgoing: make(map[string][]*models.Edge),
		incoming: make(map[string][]*models.Edge),
	}

	for _, node := range nodes {
		g.nodes[node.ID] = node

		if node.Kind.IsTrigger() && g.trigger == nil {
			g.trigger = node
		}
	}

	for _, edge := range edges {
		g.outgoing[edge.SourceID] = append(g.outgoing[edge.SourceID], edge)
		g.incoming[edge.TargetID] = append(g.incoming[edge.TargetID], edge)
	}

	return g
}

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id string) *models.Node {
	return g.nodes[id]
}

// Trigger returns the first trigger node, or nil.
func (g *Graph) Trigger() *models.Node {
	return g.trigger
}

// Outgoing returns the edges leaving a node.
func (g *Graph) Outgoing(nodeID string) []*models.Edge {
	return g.outgoing[nodeID]
}

// Next returns the target of a node's single unlabeled outgoing edge, or ""
// when the node has none (the execution completes there).
func (g *Graph) Next(nodeID string) string {
	for _, edge := range g.outgoing[nodeID] {
		if edge.Label == models.EdgeLabelNone {
			return edge.TargetID
		}
	}

	return ""
}

// Branch returns the target of a condition node's true or false edge, or ""
// when that branch has no edge.
func (g *Graph) Branch(nodeID string, result bool) string {
	want := models.EdgeLabelFalse
	if result {
		want = models.EdgeLabelTrue
	}

	for _, edge := range g.outgoing[nodeID] {
		if edge.Label == want {
			return edge.TargetID
		}
	}

	return ""
}
