// Package memory provides an in-memory persistence implementation for tests
// and local development. It honors the same version and uniqueness semantics
// as the PostgreSQL implementation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/inkletter/inkletter/pkg/events"
	"github.com/inkletter/inkletter/pkg/models"
	"github.com/inkletter/inkletter/pkg/persistence"
)

// Persistence implements persistence.Persistence backed by maps.
type Persistence struct {
	mu            sync.RWMutex
	workflows     map[string]*models.Workflow
	executions    map[string]*models.Execution
	executionKeys map[executionKey]string // (workflow, event) -> execution ID
}

type executionKey struct {
	workflowID string
	eventID    string
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		workflows:     make(map[string]*models.Workflow),
		executions:    make(map[string]*models.Execution),
		executionKeys: make(map[executionKey]string),
	}
}

func (p *Persistence) Workflows(_ context.Context) ([]*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(p.workflows))

	for _, workflow := range p.workflows {
		if workflow.DeletedAt == nil {
			workflows = append(workflows, copyWorkflow(workflow))
		}
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (p *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflow, ok := p.workflows[id]
	if !ok || workflow.DeletedAt != nil {
		return nil, persistence.ErrWorkflowNotFound
	}

	return copyWorkflow(workflow), nil
}

func (p *Persistence) ActiveWorkflowsByTriggerKind(_ context.Context, publicationID string, kind events.Kind) ([]*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var matches []*models.Workflow

	for _, workflow := range p.workflows {
		if workflow.DeletedAt != nil {
			continue
		}

		if workflow.Status != models.WorkflowStatusActive {
			continue
		}

		if workflow.PublicationID != publicationID || workflow.Trigger.Kind != kind {
			continue
		}

		matches = append(matches, copyWorkflow(workflow))
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	return matches, nil
}

func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.workflows[workflow.ID] = copyWorkflow(workflow)

	return nil
}

func (p *Persistence) DeleteWorkflow(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	workflow, ok := p.workflows[id]
	if !ok || workflow.DeletedAt != nil {
		return nil
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now

	return nil
}

func (p *Persistence) CreateExecution(_ context.Context, execution *models.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := executionKey{workflowID: execution.WorkflowID, eventID: execution.EventID}
	if _, exists := p.executionKeys[key]; exists {
		return persistence.ErrExecutionExists
	}

	stored := copyExecution(execution)

	p.executions[stored.ID] = stored
	p.executionKeys[key] = stored.ID

	return nil
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	execution, ok := p.executions[id]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	return copyExecution(execution), nil
}

func (p *Persistence) ExecutionByWorkflowAndEvent(_ context.Context, workflowID, eventID string) (*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	id, ok := p.executionKeys[executionKey{workflowID: workflowID, eventID: eventID}]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	return copyExecution(p.executions[id]), nil
}

func (p *Persistence) ExecutionsByWorkflow(_ context.Context, workflowID string) ([]*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var executions []*models.Execution

	for _, execution := range p.executions {
		if execution.WorkflowID == workflowID {
			executions = append(executions, copyExecution(execution))
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.Before(executions[j].CreatedAt)
	})

	return executions, nil
}

func (p *Persistence) UpdateExecution(_ context.Context, execution *models.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.executions[execution.ID]
	if !ok {
		return persistence.ErrExecutionNotFound
	}

	if stored.Version != execution.Version {
		return persistence.ErrExecutionConflict
	}

	execution.Version++
	execution.UpdatedAt = time.Now().UTC()
	p.executions[execution.ID] = copyExecution(execution)

	return nil
}

func (p *Persistence) DueExecutions(_ context.Context, now time.Time) ([]*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var due []*models.Execution

	for _, execution := range p.executions {
		if execution.Status != models.ExecutionStatusWaiting {
			continue
		}

		if execution.WakeAt == nil || execution.WakeAt.After(now) {
			continue
		}

		due = append(due, copyExecution(execution))
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].WakeAt.Before(*due[j].WakeAt)
	})

	return due, nil
}

func (p *Persistence) CountExecutionsByStatus(_ context.Context, workflowID string) (map[models.ExecutionStatus]int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	counts := make(map[models.ExecutionStatus]int64)

	for _, execution := range p.executions {
		if execution.WorkflowID == workflowID {
			counts[execution.Status]++
		}
	}

	return counts, nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func copyWorkflow(workflow *models.Workflow) *models.Workflow {
	copied := *workflow

	copied.Nodes = make([]*models.Node, len(workflow.Nodes))
	for i, node := range workflow.Nodes {
		nodeCopy := *node
		copied.Nodes[i] = &nodeCopy
	}

	copied.Edges = make([]*models.Edge, len(workflow.Edges))
	for i, edge := range workflow.Edges {
		edgeCopy := *edge
		copied.Edges[i] = &edgeCopy
	}

	return &copied
}

func copyExecution(execution *models.Execution) *models.Execution {
	copied := *execution

	if execution.WakeAt != nil {
		wake := *execution.WakeAt
		copied.WakeAt = &wake
	}

	if execution.Context != nil {
		copied.Context = make(map[string]any, len(execution.Context))
		for k, v := range execution.Context {
			copied.Context[k] = v
		}
	}

	return &copied
}
