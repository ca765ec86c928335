// Package services holds the management operations behind the HTTP API:
// workflow CRUD, status transitions and execution reporting. Activation is
// the gate where structural and template validation run; drafts are allowed
// to be broken.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/inkletter/inkletter/pkg/events"
	"github.com/inkletter/inkletter/pkg/graph"
	"github.com/inkletter/inkletter/pkg/models"
	"github.com/inkletter/inkletter/pkg/persistence"
	"github.com/inkletter/inkletter/pkg/variables"
)

// WorkflowService owns workflow lifecycle operations.
type WorkflowService struct {
	persistence persistence.Persistence
	variables   *variables.Registry
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewWorkflowService(store persistence.Persistence, registry *variables.Registry, logger *slog.Logger) *WorkflowService {
	return &WorkflowService{
		persistence: store,
		variables:   registry,
		validator:   validator.New(),
		logger:      logger.With("module", "workflow_service"),
	}
}

// Create stores a new workflow. New workflows always start as drafts, however
// the caller labelled them; activation is a separate, validated transition.
func (s *WorkflowService) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	workflow.ID = uuid.New().String()
	workflow.Status = models.WorkflowStatusDraft

	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	workflow.DeletedAt = nil

	if err := s.validator.Struct(workflow); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}

	if err := s.persistence.SaveWorkflow(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	s.logger.Info("Workflow created", "workflow_id", workflow.ID, "publication_id", workflow.PublicationID)

	return workflow, nil
}

// Update replaces a workflow's definition. Edits to an active workflow must
// keep it structurally valid; drafts and paused workflows accept anything
// well-formed.
func (s *WorkflowService) Update(ctx context.Context, id string, updated *models.Workflow) (*models.Workflow, error) {
	existing, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	updated.ID = existing.ID
	updated.PublicationID = existing.PublicationID
	updated.Status = existing.Status
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	updated.DeletedAt = nil

	if err := s.validator.Struct(updated); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}

	if existing.Status == models.WorkflowStatusActive {
		if err := s.validateForActivation(updated); err != nil {
			return nil, err
		}
	}

	if err := s.persistence.SaveWorkflow(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	return updated, nil
}

// Get returns one workflow by ID.
func (s *WorkflowService) Get(ctx context.Context, id string) (*models.Workflow, error) {
	return s.get(ctx, id)
}

// List returns all workflows.
func (s *WorkflowService) List(ctx context.Context) ([]*models.Workflow, error) {
	workflows, err := s.persistence.Workflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// Delete soft-deletes a workflow. In-flight executions fail on their next
// transition: the definition is gone, and silently dropping them would leave
// rows the scheduler never revisits.
func (s *WorkflowService) Delete(ctx context.Context, id string) error {
	if _, err := s.get(ctx, id); err != nil {
		return err
	}

	if err := s.persistence.DeleteWorkflow(ctx, id); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	s.logger.Info("Workflow deleted", "workflow_id", id)

	return nil
}

// SetStatus transitions a workflow between draft, active and paused.
// Activation runs full validation: graph structure plus every email
// template's tokens. Pausing stops new executions only; waiting ones still
// wake and finish.
func (s *WorkflowService) SetStatus(ctx context.Context, id string, status models.WorkflowStatus) (*models.Workflow, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	workflow, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow.Status == status {
		return workflow, nil
	}

	if status == models.WorkflowStatusActive {
		if err := s.validateForActivation(workflow); err != nil {
			return nil, err
		}
	}

	workflow.Status = status
	workflow.UpdatedAt = time.Now().UTC()

	if err := s.persistence.SaveWorkflow(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	s.logger.Info("Workflow status changed", "workflow_id", id, "status", status)

	return workflow, nil
}

// Executions lists a workflow's executions, newest first.
func (s *WorkflowService) Executions(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	if _, err := s.get(ctx, workflowID); err != nil {
		return nil, err
	}

	executions, err := s.persistence.ExecutionsByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

// ExecutionStats returns per-status execution counts for one workflow.
func (s *WorkflowService) ExecutionStats(ctx context.Context, workflowID string) (map[models.ExecutionStatus]int64, error) {
	if _, err := s.get(ctx, workflowID); err != nil {
		return nil, err
	}

	stats, err := s.persistence.CountExecutionsByStatus(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	return stats, nil
}

func (s *WorkflowService) get(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := s.persistence.WorkflowByID(ctx, id)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to fetch workflow: %w", err)
	}

	if workflow.DeletedAt != nil {
		return nil, ErrWorkflowDeleted
	}

	return workflow, nil
}

// validateForActivation runs the structural graph checks and validates every
// email template against the token registry. A workflow that fails any check
// stays in its current status.
func (s *WorkflowService) validateForActivation(workflow *models.Workflow) error {
	g := graph.Build(workflow.Nodes, workflow.Edges)

	problems := graph.Validate(g)

	sample := sampleContext(workflow)

	for _, node := range workflow.Nodes {
		config, ok := node.Config.(models.SendEmailConfig)
		if !ok {
			continue
		}

		for _, template := range []string{config.Subject, config.Content} {
			result := s.variables.Validate(template, sample)
			for _, token := range result.InvalidVariables {
				problems = append(problems, graph.ValidationError{
					NodeID:  node.ID,
					Message: fmt.Sprintf("unknown personalization token %q", token),
				})
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationFailedError{Problems: problems}
	}

	return nil
}

// sampleContext mirrors what the matcher seeds into a real execution, so the
// advisory missing-token result reflects what will resolve at send time.
// Tokens only certain trigger kinds carry resolve only for those kinds;
// tokens nothing seeds stay missing. Missing tokens never block activation.
func sampleContext(workflow *models.Workflow) variables.Context {
	sample := variables.Context{
		variables.TokenSubscriberName:  "Sample Subscriber",
		variables.TokenSubscriberEmail: "subscriber@example.com",
		variables.TokenTierName:        "free",
		variables.TokenUnsubscribeLink: "https://example.com/unsubscribe",
	}

	switch workflow.Trigger.Kind {
	case events.KindTagAdded, events.KindTagRemoved:
		sample[variables.TokenTagName] = "sample-tag"
	}

	return sample
}

// RenderPreview renders a template against a caller-supplied context, for
// the builder UI's preview pane.
func (s *WorkflowService) RenderPreview(template string, ctx variables.Context) string {
	return s.variables.Render(template, ctx)
}

// ValidateTemplate checks a template's tokens against the registry.
func (s *WorkflowService) ValidateTemplate(template string, sample variables.Context) variables.ValidationResult {
	return s.variables.Validate(template, sample)
}
