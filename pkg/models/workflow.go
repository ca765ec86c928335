package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft  WorkflowStatus = "draft"  // Editable, never matched against events
	WorkflowStatusActive WorkflowStatus = "active" // Live, matched against incoming events
	WorkflowStatusPaused WorkflowStatus = "paused" // No new executions; in-flight ones finish
)

func (s WorkflowStatus) IsValid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusPaused:
		return true
	default:
		return false
	}
}

// Workflow is an automation: a trigger pattern plus a graph of action and
// condition nodes. The engine only reads workflows; the builder UI owns
// creation and editing through the management API.
type Workflow struct {
	ID            string         `json:"id"`
	PublicationID string         `json:"publication_id" validate:"required"`
	Name          string         `json:"name"           validate:"required,min=3"`
	Description   string         `json:"description"`
	Status        WorkflowStatus `json:"status"`
	Trigger       Trigger        `json:"trigger"`
	Nodes         []*Node        `json:"nodes"`
	Edges         []*Edge        `json:"edges"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
}

// TriggerNode returns the workflow's trigger node, or nil if the graph has
// none. Validation guarantees exactly one on active workflows.
func (w *Workflow) TriggerNode() *Node {
	for _, node := range w.Nodes {
		if node.Kind.IsTrigger() {
			return node
		}
	}

	return nil
}
