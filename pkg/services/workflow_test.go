package services

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkletter/inkletter/pkg/events"
	"github.com/inkletter/inkletter/pkg/models"
	"github.com/inkletter/inkletter/pkg/persistence/memory"
	"github.com/inkletter/inkletter/pkg/variables"
)

func newService() (*WorkflowService, *memory.Persistence) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store := memory.NewPersistence()

	return NewWorkflowService(store, variables.NewRegistry(logger), logger), store
}

func validWorkflow() *models.Workflow {
	return &models.Workflow{
		PublicationID: "pub-1",
		Name:          "Welcome Series",
		Trigger: models.Trigger{
			Kind:  events.KindSubscribe,
			Scope: models.SubscriptionScope{Audience: models.AudiencePublication},
		},
		Nodes: []*models.Node{
			{ID: "t", Kind: models.NodeKindTrigger, Config: models.TriggerConfig{}},
			{ID: "email", Kind: models.NodeKindSendEmail, Config: models.SendEmailConfig{
				Subject: "Welcome {{subscriber_name}}",
				Content: "<p>Glad you joined {{publication_name}}</p>",
			}},
		},
		Edges: []*models.Edge{
			{ID: "e1", SourceID: "t", TargetID: "email"},
		},
	}
}

func TestCreate_ForcesDraft(t *testing.T) {
	service, _ := newService()

	workflow := validWorkflow()
	workflow.Status = models.WorkflowStatusActive

	created, err := service.Create(context.Background(), workflow)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusDraft, created.Status)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
}

func TestCreate_RejectsShortName(t *testing.T) {
	service, _ := newService()

	workflow := validWorkflow()
	workflow.Name = "ab"

	_, err := service.Create(context.Background(), workflow)

	assert.Error(t, err)
}

func TestCreate_AllowsBrokenDraft(t *testing.T) {
	service, _ := newService()

	// No trigger node and a dangling edge. Fine for a draft.
	workflow := validWorkflow()
	workflow.Nodes = workflow.Nodes[1:]

	_, err := service.Create(context.Background(), workflow)

	assert.NoError(t, err)
}

func TestSetStatus_ActivationValidatesGraph(t *testing.T) {
	service, _ := newService()

	workflow := validWorkflow()
	workflow.Nodes = workflow.Nodes[1:] // Drop the trigger node.

	created, err := service.Create(context.Background(), workflow)
	require.NoError(t, err)

	_, err = service.SetStatus(context.Background(), created.ID, models.WorkflowStatusActive)

	require.Error(t, err)

	validationErr, ok := IsValidationError(err)
	require.True(t, ok)
	assert.NotEmpty(t, validationErr.Problems)

	// Still a draft after the failed activation.
	stored, err := service.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusDraft, stored.Status)
}

func TestSetStatus_ActivationValidatesTemplates(t *testing.T) {
	service, _ := newService()

	workflow := validWorkflow()
	workflow.Nodes[1].Config = models.SendEmailConfig{
		Subject: "Hello {{subscriber_nickname}}",
		Content: "<p>Hi</p>",
	}

	created, err := service.Create(context.Background(), workflow)
	require.NoError(t, err)

	_, err = service.SetStatus(context.Background(), created.ID, models.WorkflowStatusActive)

	require.Error(t, err)

	validationErr, ok := IsValidationError(err)
	require.True(t, ok)
	assert.Contains(t, validationErr.Error(), "subscriber_nickname")
}

func TestSetStatus_UnseededTokensStayAdvisory(t *testing.T) {
	service, _ := newService()

	workflow := validWorkflow()
	workflow.Nodes[1].Config = models.SendEmailConfig{
		Subject: "New post: {{post_title}}",
		Content: "<p>Read it, {{subscriber_name}}</p>",
	}

	created, err := service.Create(context.Background(), workflow)
	require.NoError(t, err)

	// post_title is registered but nothing seeds it for a subscribe trigger;
	// that is advisory, not a blocker.
	activated, err := service.SetStatus(context.Background(), created.ID, models.WorkflowStatusActive)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, activated.Status)

	result := service.ValidateTemplate("{{post_title}} {{tag_name}}", sampleContext(created))
	assert.True(t, result.IsValid)
	assert.ElementsMatch(t, []string{"post_title", "tag_name"}, result.MissingVariables)
}

func TestSampleContext_FollowsTriggerKind(t *testing.T) {
	tagWorkflow := validWorkflow()
	tagWorkflow.Trigger = models.Trigger{Kind: events.KindTagAdded, Scope: models.TagScope{Tag: "vip"}}

	assert.Contains(t, sampleContext(tagWorkflow), variables.TokenTagName)
	assert.NotContains(t, sampleContext(validWorkflow()), variables.TokenTagName)
}

func TestSetStatus_Lifecycle(t *testing.T) {
	ctx := context.Background()
	service, _ := newService()

	created, err := service.Create(ctx, validWorkflow())
	require.NoError(t, err)

	activated, err := service.SetStatus(ctx, created.ID, models.WorkflowStatusActive)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, activated.Status)

	paused, err := service.SetStatus(ctx, created.ID, models.WorkflowStatusPaused)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPaused, paused.Status)

	_, err = service.SetStatus(ctx, created.ID, "archived")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestUpdate_ActiveWorkflowMustStayValid(t *testing.T) {
	ctx := context.Background()
	service, _ := newService()

	created, err := service.Create(ctx, validWorkflow())
	require.NoError(t, err)

	_, err = service.SetStatus(ctx, created.ID, models.WorkflowStatusActive)
	require.NoError(t, err)

	broken := validWorkflow()
	broken.Nodes = broken.Nodes[1:]

	_, err = service.Update(ctx, created.ID, broken)

	_, ok := IsValidationError(err)
	assert.True(t, ok)
}

func TestUpdate_DraftAcceptsBrokenGraph(t *testing.T) {
	ctx := context.Background()
	service, _ := newService()

	created, err := service.Create(ctx, validWorkflow())
	require.NoError(t, err)

	broken := validWorkflow()
	broken.Nodes = broken.Nodes[1:]

	updated, err := service.Update(ctx, created.ID, broken)
	require.NoError(t, err)
	assert.Len(t, updated.Nodes, 1)
}

func TestUpdate_PreservesIdentity(t *testing.T) {
	ctx := context.Background()
	service, _ := newService()

	created, err := service.Create(ctx, validWorkflow())
	require.NoError(t, err)

	replacement := validWorkflow()
	replacement.PublicationID = "pub-other"
	replacement.Name = "Renamed Series"

	updated, err := service.Update(ctx, created.ID, replacement)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "pub-1", updated.PublicationID)
	assert.Equal(t, "Renamed Series", updated.Name)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	service, _ := newService()

	created, err := service.Create(ctx, validWorkflow())
	require.NoError(t, err)

	require.NoError(t, service.Delete(ctx, created.ID))

	_, err = service.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	err = service.Delete(ctx, "missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestExecutionStats(t *testing.T) {
	ctx := context.Background()
	service, store := newService()

	created, err := service.Create(ctx, validWorkflow())
	require.NoError(t, err)

	for i, status := range []models.ExecutionStatus{
		models.ExecutionStatusCompleted,
		models.ExecutionStatusCompleted,
		models.ExecutionStatusWaiting,
	} {
		execution := &models.Execution{
			ID:         "exec-" + string(rune('a'+i)),
			WorkflowID: created.ID,
			EventID:    "evt-" + string(rune('a'+i)),
			Status:     status,
		}
		require.NoError(t, store.CreateExecution(ctx, execution))
	}

	stats, err := service.ExecutionStats(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats[models.ExecutionStatusCompleted])
	assert.Equal(t, int64(1), stats[models.ExecutionStatusWaiting])
}

func TestTemplateHelpers(t *testing.T) {
	service, _ := newService()

	rendered := service.RenderPreview("Hi {{subscriber_name}}", variables.Context{
		variables.TokenSubscriberName: "Ada",
	})
	assert.Equal(t, "Hi Ada", rendered)

	result := service.ValidateTemplate("Hi {{nope}}", variables.Context{})
	assert.False(t, result.IsValid)
}
