package matcher

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkletter/inkletter/pkg/events"
	"github.com/inkletter/inkletter/pkg/models"
	"github.com/inkletter/inkletter/pkg/persistence/memory"
	"github.com/inkletter/inkletter/pkg/subscribers"
	"github.com/inkletter/inkletter/pkg/variables"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func activeWorkflow(id string, trigger models.Trigger) *models.Workflow {
	return &models.Workflow{
		ID:            id,
		PublicationID: "pub-1",
		Name:          "Welcome Series",
		Status:        models.WorkflowStatusActive,
		Trigger:       trigger,
		Nodes: []*models.Node{
			{ID: "t", Kind: models.NodeKindTrigger, Config: models.TriggerConfig{}},
			{ID: "e", Kind: models.NodeKindSendEmail, Config: models.SendEmailConfig{Subject: "Hi", Content: "<p>Hi</p>"}},
		},
		Edges: []*models.Edge{
			{ID: "edge-1", SourceID: "t", TargetID: "e"},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func subscribeEvent(id string) events.DomainEvent {
	return events.DomainEvent{
		ID:            id,
		Kind:          events.KindSubscribe,
		PublicationID: "pub-1",
		SubscriberID:  "sub-1",
		OccurredAt:    time.Now().UTC(),
	}
}

func TestMatch_StartsExecution(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	require.NoError(t, store.SaveWorkflow(ctx, activeWorkflow("wf-1", models.Trigger{
		Kind:  events.KindSubscribe,
		Scope: models.SubscriptionScope{Audience: models.AudiencePublication},
	})))

	provider := subscribers.NewStaticStore(&models.Subscriber{
		ID:    "sub-1",
		Email: "ada@example.com",
		Name:  "Ada",
		Tier:  "free",
	})

	m := NewMatcher(store, provider, testLogger(), "https://news.example.com")

	created, err := m.Match(ctx, subscribeEvent("evt-1"))
	require.NoError(t, err)
	require.Len(t, created, 1)

	execution := created[0]
	assert.Equal(t, "wf-1", execution.WorkflowID)
	assert.Equal(t, "sub-1", execution.SubscriberID)
	assert.Equal(t, "evt-1", execution.EventID)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.Equal(t, "t", execution.CurrentNodeID)

	assert.Equal(t, "Ada", execution.Context[variables.TokenSubscriberName])
	assert.Equal(t, "ada@example.com", execution.Context[variables.TokenSubscriberEmail])
	assert.Equal(t, "free", execution.Context[variables.TokenTierName])
	assert.Equal(t, "https://news.example.com/unsubscribe/sub-1", execution.Context[variables.TokenUnsubscribeLink])

	stored, err := store.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.ID, stored.ID)
}

func TestMatch_RedeliveryAfterCompletionIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	require.NoError(t, store.SaveWorkflow(ctx, activeWorkflow("wf-1", models.Trigger{
		Kind:  events.KindSubscribe,
		Scope: models.SubscriptionScope{Audience: models.AudiencePublication},
	})))

	provider := subscribers.NewStaticStore(&models.Subscriber{ID: "sub-1", Email: "ada@example.com"})
	m := NewMatcher(store, provider, testLogger(), "")

	first, err := m.Match(ctx, subscribeEvent("evt-1"))
	require.NoError(t, err)
	require.Len(t, first, 1)

	done := first[0]
	done.Status = models.ExecutionStatusCompleted
	require.NoError(t, store.UpdateExecution(ctx, done))

	second, err := m.Match(ctx, subscribeEvent("evt-1"))
	require.NoError(t, err)
	assert.Empty(t, second)

	all, err := store.ExecutionsByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMatch_RedeliveryReturnsRunningExecution(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	require.NoError(t, store.SaveWorkflow(ctx, activeWorkflow("wf-1", models.Trigger{
		Kind:  events.KindSubscribe,
		Scope: models.SubscriptionScope{Audience: models.AudiencePublication},
	})))

	provider := subscribers.NewStaticStore(&models.Subscriber{ID: "sub-1", Email: "ada@example.com"})
	m := NewMatcher(store, provider, testLogger(), "")

	// The worker created the execution and then died before running it.
	first, err := m.Match(ctx, subscribeEvent("evt-1"))
	require.NoError(t, err)
	require.Len(t, first, 1)

	// The nacked event comes back. The stuck row is handed out again so the
	// worker re-runs it; no second row is created.
	second, err := m.Match(ctx, subscribeEvent("evt-1"))
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, models.ExecutionStatusRunning, second[0].Status)

	all, err := store.ExecutionsByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Once the execution suspends, redelivery leaves it to the scheduler.
	waiting := all[0]
	waiting.Status = models.ExecutionStatusWaiting
	require.NoError(t, store.UpdateExecution(ctx, waiting))

	third, err := m.Match(ctx, subscribeEvent("evt-1"))
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestMatch_DistinctEventsStartDistinctExecutions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	require.NoError(t, store.SaveWorkflow(ctx, activeWorkflow("wf-1", models.Trigger{
		Kind:  events.KindSubscribe,
		Scope: models.SubscriptionScope{Audience: models.AudiencePublication},
	})))

	provider := subscribers.NewStaticStore(&models.Subscriber{ID: "sub-1", Email: "ada@example.com"})
	m := NewMatcher(store, provider, testLogger(), "")

	_, err := m.Match(ctx, subscribeEvent("evt-1"))
	require.NoError(t, err)
	_, err = m.Match(ctx, subscribeEvent("evt-2"))
	require.NoError(t, err)

	all, err := store.ExecutionsByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMatch_ScopeMismatch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	require.NoError(t, store.SaveWorkflow(ctx, activeWorkflow("wf-1", models.Trigger{
		Kind:  events.KindSubscribe,
		Scope: models.SubscriptionScope{Audience: models.AudienceCourse, TargetID: "course-1"},
	})))

	provider := subscribers.NewStaticStore(&models.Subscriber{ID: "sub-1", Email: "ada@example.com"})
	m := NewMatcher(store, provider, testLogger(), "")

	event := subscribeEvent("evt-1")
	event.TargetID = "course-2"

	created, err := m.Match(ctx, event)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestMatch_IgnoresInactiveWorkflows(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	for _, status := range []models.WorkflowStatus{models.WorkflowStatusDraft, models.WorkflowStatusPaused} {
		workflow := activeWorkflow("wf-"+string(status), models.Trigger{
			Kind:  events.KindSubscribe,
			Scope: models.SubscriptionScope{Audience: models.AudiencePublication},
		})
		workflow.Status = status
		require.NoError(t, store.SaveWorkflow(ctx, workflow))
	}

	provider := subscribers.NewStaticStore(&models.Subscriber{ID: "sub-1", Email: "ada@example.com"})
	m := NewMatcher(store, provider, testLogger(), "")

	created, err := m.Match(ctx, subscribeEvent("evt-1"))
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestMatch_RejectsMalformedEvent(t *testing.T) {
	store := memory.NewPersistence()
	provider := subscribers.NewStaticStore()
	m := NewMatcher(store, provider, testLogger(), "")

	_, err := m.Match(context.Background(), events.DomainEvent{Kind: events.KindSubscribe})

	require.Error(t, err)
	assert.ErrorIs(t, err, events.ErrMissingEventID)
}

func TestMatch_TagEventSeedsTagToken(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	require.NoError(t, store.SaveWorkflow(ctx, activeWorkflow("wf-1", models.Trigger{
		Kind:  events.KindTagAdded,
		Scope: models.TagScope{Tag: "vip"},
	})))

	provider := subscribers.NewStaticStore(&models.Subscriber{ID: "sub-1", Email: "ada@example.com"})
	m := NewMatcher(store, provider, testLogger(), "")

	event := events.DomainEvent{
		ID:            "evt-1",
		Kind:          events.KindTagAdded,
		PublicationID: "pub-1",
		SubscriberID:  "sub-1",
		TagName:       "vip",
		OccurredAt:    time.Now().UTC(),
	}

	created, err := m.Match(ctx, event)
	require.NoError(t, err)
	require.Len(t, created, 1)

	assert.Equal(t, "vip", created[0].Context[variables.TokenTagName])
}
