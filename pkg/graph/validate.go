package graph

import (
	"fmt"

	"github.com/inkletter/inkletter/pkg/models"
)

// ValidationError is one invariant violation in a workflow definition.
type ValidationError struct {
	NodeID  string `json:"node_id,omitempty"`
	EdgeID  string `json:"edge_id,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	switch {
	case e.NodeID != "":
		return fmt.Sprintf("node %s: %s", e.NodeID, e.Message)
	case e.EdgeID != "":
		return fmt.Sprintf("edge %s: %s", e.EdgeID, e.Message)
	default:
		return e.Message
	}
}

// Validate checks every structural invariant a workflow definition must hold
// before it can become active, and returns all violations rather than the
// first:
//
//   - exactly one trigger node, with no incoming edges
//   - every condition node has exactly two outgoing edges, labeled true and false
//   - every action node has at most one outgoing edge
//   - edges reference existing nodes and carry labels only off conditions
//   - the graph is acyclic
//   - every non-trigger node is reachable from the trigger
//   - node configs are semantically sound (positive wait durations, known
//     field operators)
func Validate(g *Graph) []ValidationError {
	var errs []ValidationError

	errs = append(errs, validateTrigger(g)...)
	errs = append(errs, validateEdges(g)...)
	errs = append(errs, validateDegrees(g)...)
	errs = append(errs, validateConfigs(g)...)

	// Cycle and reachability checks assume edge endpoints exist.
	if len(errs) == 0 {
		errs = append(errs, validateAcyclic(g)...)
		errs = append(errs, validateReachability(g)...)
	}

	return errs
}

func validateTrigger(g *Graph) []ValidationError {
	var errs []ValidationError

	triggers := 0

	for _, node := range g.nodes {
		if node.Kind.IsTrigger() {
			triggers++
		}
	}

	switch {
	case triggers == 0:
		errs = append(errs, ValidationError{Message: "workflow has no trigger node"})
	case triggers > 1:
		errs = append(errs, ValidationError{Message: fmt.Sprintf("workflow has %d trigger nodes, want exactly one", triggers)})
	}

	if g.trigger != nil && len(g.incoming[g.trigger.ID]) > 0 {
		errs = append(errs, ValidationError{NodeID: g.trigger.ID, Message: "trigger node must have no incoming edges"})
	}

	return errs
}

func validateEdges(g *Graph) []ValidationError {
	var errs []ValidationError

	for _, edge := range g.edges {
		source := g.nodes[edge.SourceID]
		if source == nil {
			errs = append(errs, ValidationError{EdgeID: edge.ID, Message: "source node " + edge.SourceID + " does not exist"})
		}

		if g.nodes[edge.TargetID] == nil {
			errs = append(errs, ValidationError{EdgeID: edge.ID, Message: "target node " + edge.TargetID + " does not exist"})
		}

		switch edge.Label {
		case models.EdgeLabelNone:
			if source != nil && source.Kind.IsCondition() {
				errs = append(errs, ValidationError{EdgeID: edge.ID, Message: "edge leaving a condition node must be labeled true or false"})
			}
		case models.EdgeLabelTrue, models.EdgeLabelFalse:
			if source != nil && !source.Kind.IsCondition() {
				errs = append(errs, ValidationError{EdgeID: edge.ID, Message: "branch label is only allowed on edges leaving a condition node"})
			}
		default:
			errs = append(errs, ValidationError{EdgeID: edge.ID, Message: fmt.Sprintf("unknown branch label %q", edge.Label)})
		}
	}

	return errs
}

func validateDegrees(g *Graph) []ValidationError {
	var errs []ValidationError

	for _, node := range g.nodes {
		out := g.outgoing[node.ID]

		switch {
		case node.Kind.IsCondition():
			var hasTrue, hasFalse bool

			for _, edge := range out {
				switch edge.Label {
				case models.EdgeLabelTrue:
					hasTrue = true
				case models.EdgeLabelFalse:
					hasFalse = true
				}
			}

			if len(out) != 2 || !hasTrue || !hasFalse {
				errs = append(errs, ValidationError{
					NodeID:  node.ID,
					Message: "condition node must have exactly two outgoing edges, one labeled true and one labeled false",
				})
			}
		case node.Kind.IsAction():
			if len(out) > 1 {
				errs = append(errs, ValidationError{
					NodeID:  node.ID,
					Message: fmt.Sprintf("action node has %d outgoing edges, at most one is allowed", len(out)),
				})
			}
		}
	}

	return errs
}

func validateConfigs(g *Graph) []ValidationError {
	var errs []ValidationError

	for _, node := range g.nodes {
		switch config := node.Config.(type) {
		case nil:
			errs = append(errs, ValidationError{NodeID: node.ID, Message: "node has no config"})
		case models.WaitConfig:
			if config.Duration.Std() <= 0 {
				errs = append(errs, ValidationError{NodeID: node.ID, Message: "wait duration must be positive"})
			}
		case models.CustomFieldConfig:
			if !config.Operator.IsValid() {
				errs = append(errs, ValidationError{NodeID: node.ID, Message: fmt.Sprintf("unknown field operator %q", config.Operator)})
			}
		}

		if node.Config != nil && node.Config.NodeKind() != node.Kind {
			errs = append(errs, ValidationError{NodeID: node.ID, Message: "node config does not match node kind"})
		}
	}

	return errs
}

// validateAcyclic runs a depth-first search with coloring; a back edge means
// a node is reachable from itself.
func validateAcyclic(g *Graph) []ValidationError {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // finished
	)

	colors := make(map[string]int, len(g.nodes))

	var errs []ValidationError

	var visit func(id string) bool

	visit = func(id string) bool {
		colors[id] = gray

		for _, edge := range g.outgoing[id] {
			switch colors[edge.TargetID] {
			case gray:
				errs = append(errs, ValidationError{NodeID: edge.TargetID, Message: "graph contains a cycle through this node"})

				return true
			case white:
				if visit(edge.TargetID) {
					return true
				}
			}
		}

		colors[id] = black

		return false
	}

	for id := range g.nodes {
		if colors[id] == white {
			if visit(id) {
				break
			}
		}
	}

	return errs
}

func validateReachability(g *Graph) []ValidationError {
	if g.trigger == nil {
		return nil
	}

	reached := make(map[string]bool, len(g.nodes))
	queue := []string{g.trigger.ID}
	reached[g.trigger.ID] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range g.outgoing[current] {
			if !reached[edge.TargetID] {
				reached[edge.TargetID] = true
				queue = append(queue, edge.TargetID)
			}
		}
	}

	var errs []ValidationError

	for id := range g.nodes {
		if !reached[id] {
			errs = append(errs, ValidationError{NodeID: id, Message: "node is not reachable from the trigger"})
		}
	}

	return errs
}
