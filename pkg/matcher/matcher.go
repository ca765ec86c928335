// Package matcher starts workflow executions from subscriber lifecycle
// events. It is the only component that creates execution rows.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/inkletter/inkletter/pkg/events"
	"github.com/inkletter/inkletter/pkg/models"
	"github.com/inkletter/inkletter/pkg/persistence"
	"github.com/inkletter/inkletter/pkg/protocol"
	"github.com/inkletter/inkletter/pkg/variables"
)

// Matcher finds active workflows whose trigger matches an event and creates
// executions for them. Creation is keyed (workflow ID, event ID): redelivery
// of the same event is a silent no-op.
type Matcher struct {
	persistence persistence.Persistence
	subscribers protocol.SubscriberProvider
	logger      *slog.Logger
	linkBase    string
}

// NewMatcher creates a trigger matcher. linkBase is the public base URL used
// to build unsubscribe links in execution contexts (may be empty).
func NewMatcher(
	persistence persistence.Persistence,
	subscribers protocol.SubscriberProvider,
	logger *slog.Logger,
	linkBase string,
) *Matcher {
	return &Matcher{
		persistence: persistence,
		subscribers: subscribers,
		logger:      logger.With("module", "trigger_matcher"),
		linkBase:    linkBase,
	}
}

// Match creates executions for every active workflow the event triggers and
// returns the ones the caller should drive. A scope mismatch is not an error,
// just no match. When the event was already consumed, the existing execution
// is returned again if it is still running: delivery is at-least-once, and a
// redelivery is how a run that died mid-flight gets picked back up. Finished
// and suspended executions are left alone.
func (m *Matcher) Match(ctx context.Context, event events.DomainEvent) ([]*models.Execution, error) {
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("rejecting malformed event: %w", err)
	}

	workflows, err := m.persistence.ActiveWorkflowsByTriggerKind(ctx, event.PublicationID, event.Kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load active workflows: %w", err)
	}

	logger := m.logger.With("event_id", event.ID, "event_kind", event.Kind, "subscriber_id", event.SubscriberID)
	logger.Debug("Matching event against workflows", "candidates", len(workflows))

	var created []*models.Execution

	for _, workflow := range workflows {
		if !workflow.Trigger.Matches(event) {
			continue
		}

		execution, err := m.startExecution(ctx, workflow, event)
		if err != nil {
			if persistence.IsExecutionExists(err) {
				existing, lookupErr := m.persistence.ExecutionByWorkflowAndEvent(ctx, workflow.ID, event.ID)
				if lookupErr != nil {
					return created, fmt.Errorf("failed to load existing execution of workflow %s: %w", workflow.ID, lookupErr)
				}

				if existing.Status == models.ExecutionStatusRunning {
					logger.Info("Redelivered event re-drives running execution",
						"workflow_id", workflow.ID,
						"execution_id", existing.ID)

					created = append(created, existing)
				} else {
					logger.Debug("Execution already exists for event, skipping", "workflow_id", workflow.ID)
				}

				continue
			}

			return created, fmt.Errorf("failed to start execution of workflow %s: %w", workflow.ID, err)
		}

		logger.Info("Started execution",
			"workflow_id", workflow.ID,
			"workflow_name", workflow.Name,
			"execution_id", execution.ID)

		created = append(created, execution)
	}

	return created, nil
}

func (m *Matcher) startExecution(ctx context.Context, workflow *models.Workflow, event events.DomainEvent) (*models.Execution, error) {
	trigger := workflow.TriggerNode()
	if trigger == nil {
		return nil, fmt.Errorf("active workflow %s has no trigger node", workflow.ID)
	}

	executionContext, err := m.seedContext(ctx, event)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate execution ID: %w", err)
	}

	now := time.Now().UTC()

	execution := &models.Execution{
		ID:            id.String(),
		WorkflowID:    workflow.ID,
		SubscriberID:  event.SubscriberID,
		EventID:       event.ID,
		Status:        models.ExecutionStatusRunning,
		CurrentNodeID: trigger.ID,
		Context:       executionContext,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := m.persistence.CreateExecution(ctx, execution); err != nil {
		return nil, err
	}

	return execution, nil
}

// seedContext merges event fields with the subscriber snapshot taken at
// trigger time. Condition nodes re-read the live subscriber during
// execution; this snapshot feeds personalization tokens.
func (m *Matcher) seedContext(ctx context.Context, event events.DomainEvent) (map[string]any, error) {
	subscriber, err := m.subscribers.Subscriber(ctx, event.SubscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subscriber %s: %w", event.SubscriberID, err)
	}

	executionContext := map[string]any{
		"event_id":                      event.ID,
		"event_kind":                    string(event.Kind),
		"publication_id":                event.PublicationID,
		"subscriber_id":                 subscriber.ID,
		"occurred_at":                   event.OccurredAt.UTC().Format(time.RFC3339),
		variables.TokenSubscriberName:   subscriber.Name,
		variables.TokenSubscriberEmail:  subscriber.Email,
		variables.TokenTierName:         subscriber.Tier,
	}

	if event.TargetID != "" {
		executionContext["target_id"] = event.TargetID
	}

	if event.TagName != "" {
		executionContext[variables.TokenTagName] = event.TagName
	}

	if event.FromTier != "" {
		executionContext["from_tier"] = event.FromTier
	}

	if event.ToTier != "" {
		executionContext["to_tier"] = event.ToTier
	}

	if event.FormID != "" {
		executionContext["form_id"] = event.FormID
	}

	if m.linkBase != "" {
		executionContext[variables.TokenUnsubscribeLink] = m.linkBase + "/unsubscribe/" + subscriber.ID
	}

	return executionContext, nil
}
