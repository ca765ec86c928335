package models

import "time"

// ExecutionStatus is the state-machine status of one workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusWaiting   ExecutionStatus = "waiting"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status allows no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// Execution is one traversal of a workflow graph for one subscriber and one
// triggering event. Suspension is pure data: a waiting execution holds its
// wake time in WakeAt and no goroutine or timer exists for it, so process
// restarts lose nothing. Executions are never deleted; they are retained for
// dashboard counters and audit.
//
// Version implements optimistic concurrency: every committed transition
// increments it, and a transition built against a stale version is rejected
// by the store. (WorkflowID, EventID) is unique, which makes event
// redelivery idempotent.
type Execution struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflow_id"`
	SubscriberID  string          `json:"subscriber_id"`
	EventID       string          `json:"event_id"`
	Status        ExecutionStatus `json:"status"`
	CurrentNodeID string          `json:"current_node_id"`
	Context       map[string]any  `json:"context,omitempty"`
	WakeAt        *time.Time      `json:"wake_at,omitempty"`
	Attempts      int             `json:"attempts,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ContextString returns a context value as a string, or "" when absent or
// not a string.
func (e *Execution) ContextString(key string) string {
	value, ok := e.Context[key]
	if !ok {
		return ""
	}

	text, ok := value.(string)
	if !ok {
		return ""
	}

	return text
}
