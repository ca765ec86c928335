package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkletter/inkletter/pkg/models"
	"github.com/inkletter/inkletter/pkg/persistence/memory"
	"github.com/inkletter/inkletter/pkg/subscribers"
	"github.com/inkletter/inkletter/pkg/variables"
)

type sentEmail struct {
	to      string
	subject string
	content string
}

// fakeSender records sends and can be primed to fail a number of times.
type fakeSender struct {
	mu       sync.Mutex
	sent     []sentEmail
	failures int
}

func (s *fakeSender) Send(_ context.Context, to, subject, htmlContent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--

		return errors.New("smtp connection refused")
	}

	s.sent = append(s.sent, sentEmail{to: to, subject: subject, content: htmlContent})

	return nil
}

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sent)
}

// clock is a settable test clock.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

type fixture struct {
	store  *memory.Persistence
	sender *fakeSender
	subs   *subscribers.StaticStore
	clock  *clock
	engine *Engine
}

func newFixture(t *testing.T, subscriber *models.Subscriber, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		store:  memory.NewPersistence(),
		sender: &fakeSender{},
		subs:   subscribers.NewStaticStore(subscriber),
		clock:  newClock(),
	}

	logger := testLogger()
	registry := variables.NewRegistry(logger)

	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.engine = NewEngine(f.store, f.sender, f.subs, f.subs, registry, logger, opts...)

	return f
}

func (f *fixture) saveWorkflow(t *testing.T, nodes []*models.Node, edges []*models.Edge) {
	t.Helper()

	workflow := &models.Workflow{
		ID:            "wf-1",
		PublicationID: "pub-1",
		Name:          "Test Workflow",
		Status:        models.WorkflowStatusActive,
		Nodes:         nodes,
		Edges:         edges,
	}

	require.NoError(t, f.store.SaveWorkflow(context.Background(), workflow))
}

func (f *fixture) createExecution(t *testing.T, eventID string) *models.Execution {
	t.Helper()

	execution := &models.Execution{
		ID:            "exec-" + eventID,
		WorkflowID:    "wf-1",
		SubscriberID:  "sub-1",
		EventID:       eventID,
		Status:        models.ExecutionStatusRunning,
		CurrentNodeID: "t",
		Context: map[string]any{
			variables.TokenSubscriberName:  "Ada",
			variables.TokenSubscriberEmail: "ada@example.com",
		},
		CreatedAt: f.clock.Now(),
		UpdatedAt: f.clock.Now(),
	}

	require.NoError(t, f.store.CreateExecution(context.Background(), execution))

	return execution
}

func (f *fixture) fetch(t *testing.T, id string) *models.Execution {
	t.Helper()

	execution, err := f.store.ExecutionByID(context.Background(), id)
	require.NoError(t, err)

	return execution
}

func triggerNode() *models.Node {
	return &models.Node{ID: "t", Kind: models.NodeKindTrigger, Config: models.TriggerConfig{}}
}

func plainEdge(id, source, target string) *models.Edge {
	return &models.Edge{ID: id, SourceID: source, TargetID: target}
}

func TestRun_SendEmailAndComplete(t *testing.T) {
	f := newFixture(t, &models.Subscriber{ID: "sub-1", Email: "ada@example.com"})

	f.saveWorkflow(t,
		[]*models.Node{
			triggerNode(),
			{ID: "email", Kind: models.NodeKindSendEmail, Config: models.SendEmailConfig{
				Subject: "Welcome {{subscriber_name}}",
				Content: "<p>Hello {{subscriber_name}}</p>",
			}},
		},
		[]*models.Edge{plainEdge("e1", "t", "email")},
	)

	execution := f.createExecution(t, "evt-1")

	require.NoError(t, f.engine.Run(context.Background(), execution.ID))

	final := f.fetch(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Nil(t, final.WakeAt)

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "ada@example.com", f.sender.sent[0].to)
	assert.Equal(t, "Welcome Ada", f.sender.sent[0].subject)
	assert.Equal(t, "<p>Hello Ada</p>", f.sender.sent[0].content)
}

func TestRun_TagActionsMutateSubscriber(t *testing.T) {
	f := newFixture(t, &models.Subscriber{ID: "sub-1", Email: "ada@example.com", Tags: []string{"old"}})

	f.saveWorkflow(t,
		[]*models.Node{
			triggerNode(),
			{ID: "add", Kind: models.NodeKindAddTag, Config: models.AddTagConfig{Tag: "welcomed"}},
			{ID: "remove", Kind: models.NodeKindRemoveTag, Config: models.RemoveTagConfig{Tag: "old"}},
		},
		[]*models.Edge{
			plainEdge("e1", "t", "add"),
			plainEdge("e2", "add", "remove"),
		},
	)

	execution := f.createExecution(t, "evt-1")

	require.NoError(t, f.engine.Run(context.Background(), execution.ID))

	final := f.fetch(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)

	subscriber, err := f.subs.Subscriber(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.True(t, subscriber.HasTag("welcomed"))
	assert.False(t, subscriber.HasTag("old"))
}

func TestRun_ConditionBranching(t *testing.T) {
	tests := []struct {
		name        string
		tags        []string
		wantSubject string
	}{
		{name: "true branch", tags: []string{"vip"}, wantSubject: "VIP perks"},
		{name: "false branch", tags: nil, wantSubject: "Regular news"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &models.Subscriber{ID: "sub-1", Email: "ada@example.com", Tags: tt.tags})

			f.saveWorkflow(t,
				[]*models.Node{
					triggerNode(),
					{ID: "c", Kind: models.NodeKindHasTag, Config: models.HasTagConfig{Tag: "vip"}},
					{ID: "vip", Kind: models.NodeKindSendEmail, Config: models.SendEmailConfig{Subject: "VIP perks", Content: "x"}},
					{ID: "reg", Kind: models.NodeKindSendEmail, Config: models.SendEmailConfig{Subject: "Regular news", Content: "x"}},
				},
				[]*models.Edge{
					plainEdge("e1", "t", "c"),
					{ID: "e2", SourceID: "c", TargetID: "vip", Label: models.EdgeLabelTrue},
					{ID: "e3", SourceID: "c", TargetID: "reg", Label: models.EdgeLabelFalse},
				},
			)

			execution := f.createExecution(t, "evt-1")

			require.NoError(t, f.engine.Run(context.Background(), execution.ID))

			require.Len(t, f.sender.sent, 1)
			assert.Equal(t, tt.wantSubject, f.sender.sent[0].subject)
		})
	}
}

func TestRun_CustomFieldCondition(t *testing.T) {
	subscriber := &models.Subscriber{
		ID:    "sub-1",
		Email: "ada@example.com",
		CustomFields: map[string]any{
			"age":    30,
			"source": "landing-page",
		},
	}

	tests := []struct {
		name   string
		config models.CustomFieldConfig
		want   string
	}{
		{
			name:   "equals true",
			config: models.CustomFieldConfig{Field: "source", Operator: models.OperatorEquals, Value: "landing-page"},
			want:   "yes",
		},
		{
			name:   "greater_than true",
			config: models.CustomFieldConfig{Field: "age", Operator: models.OperatorGreaterThan, Value: "21"},
			want:   "yes",
		},
		{
			name:   "less_than false",
			config: models.CustomFieldConfig{Field: "age", Operator: models.OperatorLessThan, Value: "21"},
			want:   "no",
		},
		{
			name:   "absent field is false",
			config: models.CustomFieldConfig{Field: "city", Operator: models.OperatorEquals, Value: "Berlin"},
			want:   "no",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, subscriber)

			f.saveWorkflow(t,
				[]*models.Node{
					triggerNode(),
					{ID: "c", Kind: models.NodeKindCustomField, Config: tt.config},
					{ID: "yes", Kind: models.NodeKindSendEmail, Config: models.SendEmailConfig{Subject: "yes", Content: "x"}},
					{ID: "no", Kind: models.NodeKindSendEmail, Config: models.SendEmailConfig{Subject: "no", Content: "x"}},
				},
				[]*models.Edge{
					plainEdge("e1", "t", "c"),
					{ID: "e2", SourceID: "c", TargetID: "yes", Label: models.EdgeLabelTrue},
					{ID: "e3", SourceID: "c", TargetID: "no", Label: models.EdgeLabelFalse},
				},
			)

			execution := f.createExecution(t, "evt-1")

			require.NoError(t, f.engine.Run(context.Background(), execution.ID))

			require.Len(t, f.sender.sent, 1)
			assert.Equal(t, tt.want, f.sender.sent[0].subject)
		})
	}
}

func TestRun_WaitSuspendsAndResumeContinues(t *testing.T) {
	f := newFixture(t, &models.Subscriber{ID: "sub-1", Email: "ada@example.com"})

	f.saveWorkflow(t,
		[]*models.Node{
			triggerNode(),
			{ID: "w", Kind: models.NodeKindWait, Config: models.WaitConfig{Duration: models.Duration(2 * time.Hour)}},
			{ID: "email", Kind: models.NodeKindSendEmail, Config: models.SendEmailConfig{Subject: "Later", Content: "x"}},
		},
		[]*models.Edge{
			plainEdge("e1", "t", "w"),
			plainEdge("e2", "w", "email"),
		},
	)

	execution := f.createExecution(t, "evt-1")
	start := f.clock.Now()

	require.NoError(t, f.engine.Run(context.Background(), execution.ID))

	suspended := f.fetch(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusWaiting, suspended.Status)
	require.NotNil(t, suspended.WakeAt)
	assert.Equal(t, start.Add(2*time.Hour), *suspended.WakeAt)
	// The pointer already moved past the wait node.
	assert.Equal(t, "email", suspended.CurrentNodeID)
	assert.Zero(t, f.sender.sentCount())

	// Not due yet.
	require.NoError(t, f.engine.Resume(context.Background(), suspended))
	assert.Equal(t, models.ExecutionStatusWaiting, f.fetch(t, execution.ID).Status)
	assert.Zero(t, f.sender.sentCount())

	f.clock.Advance(2*time.Hour + time.Minute)

	due, err := f.store.DueExecutions(context.Background(), f.clock.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, f.engine.Resume(context.Background(), due[0]))

	final := f.fetch(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Equal(t, 1, f.sender.sentCount())
}

func TestRun_TrailingWaitCompletes(t *testing.T) {
	f := newFixture(t, &models.Subscriber{ID: "sub-1", Email: "ada@example.com"})

	f.saveWorkflow(t,
		[]*models.Node{
			triggerNode(),
			{ID: "w", Kind: models.NodeKindWait, Config: models.WaitConfig{Duration: models.Duration(time.Hour)}},
		},
		[]*models.Edge{plainEdge("e1", "t", "w")},
	)

	execution := f.createExecution(t, "evt-1")

	require.NoError(t, f.engine.Run(context.Background(), execution.ID))

	final := f.fetch(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Nil(t, final.WakeAt)
}

func TestRun_RetriesWithBackoff(t *testing.T) {
	f := newFixture(t, &models.Subscriber{ID: "sub-1", Email: "ada@example.com"})
	f.sender.failures = 2

	f.saveWorkflow(t,
		[]*models.Node{
			triggerNode(),
			{ID: "email", Kind: models.NodeKindSendEmail, Config: models.SendEmailConfig{Subject: "Hi", Content: "x"}},
		},
		[]*models.Edge{plainEdge("e1", "t", "email")},
	)

	execution := f.createExecution(t, "evt-1")
	start := f.clock.Now()

	require.NoError(t, f.engine.Run(context.Background(), execution.ID))

	first := f.fetch(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusWaiting, first.Status)
	assert.Equal(t, 1, first.Attempts)
	assert.Equal(t, "email", first.CurrentNodeID)
	require.NotNil(t, first.WakeAt)
	assert.Equal(t, start.Add(30*time.Second), *first.WakeAt)

	f.clock.Advance(31 * time.Second)
	require.NoError(t, f.engine.Resume(context.Background(), f.fetch(t, execution.ID)))

	second := f.fetch(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusWaiting, second.Status)
	assert.Equal(t, 2, second.Attempts)
	require.NotNil(t, second.WakeAt)
	assert.Equal(t, 60*time.Second, second.WakeAt.Sub(f.clock.Now()))

	f.clock.Advance(61 * time.Second)
	require.NoError(t, f.engine.Resume(context.Background(), f.fetch(t, execution.ID)))

	final := f.fetch(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Zero(t, final.Attempts)
	assert.Empty(t, final.LastError)
	assert.Equal(t, 1, f.sender.sentCount())
}

func TestRun_FailsAfterRetriesExhausted(t *testing.T) {
	f := newFixture(t, &models.Subscriber{ID: "sub-1", Email: "ada@example.com"})
	f.sender.failures = 100

	f.saveWorkflow(t,
		[]*models.Node{
			triggerNode(),
			{ID: "email", Kind: models.NodeKindSendEmail, Config: models.SendEmailConfig{Subject: "Hi", Content: "x"}},
		},
		[]*models.Edge{plainEdge("e1", "t", "email")},
	)

	execution := f.createExecution(t, "evt-1")

	require.NoError(t, f.engine.Run(context.Background(), execution.ID))

	for {
		current := f.fetch(t, execution.ID)
		if current.Status != models.ExecutionStatusWaiting {
			break
		}

		f.clock.Advance(time.Hour)
		require.NoError(t, f.engine.Resume(context.Background(), f.fetch(t, execution.ID)))
	}

	final := f.fetch(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, final.Status)
	assert.Equal(t, 5, final.Attempts)
	assert.Contains(t, final.LastError, "smtp connection refused")
	assert.Zero(t, f.sender.sentCount())
}

func TestResume_OnlyOneWinnerOnConflict(t *testing.T) {
	f := newFixture(t, &models.Subscriber{ID: "sub-1", Email: "ada@example.com"})

	f.saveWorkflow(t,
		[]*models.Node{
			triggerNode(),
			{ID: "w", Kind: models.NodeKindWait, Config: models.WaitConfig{Duration: models.Duration(time.Hour)}},
			{ID: "email", Kind: models.NodeKindSendEmail, Config: models.SendEmailConfig{Subject: "Hi", Content: "x"}},
		},
		[]*models.Edge{
			plainEdge("e1", "t", "w"),
			plainEdge("e2", "w", "email"),
		},
	)

	execution := f.createExecution(t, "evt-1")
	require.NoError(t, f.engine.Run(context.Background(), execution.ID))

	f.clock.Advance(2 * time.Hour)

	// Two pollers picked up the same due row.
	copy1 := f.fetch(t, execution.ID)
	copy2 := f.fetch(t, execution.ID)

	require.NoError(t, f.engine.Resume(context.Background(), copy1))
	require.NoError(t, f.engine.Resume(context.Background(), copy2))

	assert.Equal(t, models.ExecutionStatusCompleted, f.fetch(t, execution.ID).Status)
	assert.Equal(t, 1, f.sender.sentCount())
}

func TestCancel(t *testing.T) {
	f := newFixture(t, &models.Subscriber{ID: "sub-1", Email: "ada@example.com"})

	f.saveWorkflow(t,
		[]*models.Node{
			triggerNode(),
			{ID: "w", Kind: models.NodeKindWait, Config: models.WaitConfig{Duration: models.Duration(time.Hour)}},
			{ID: "email", Kind: models.NodeKindSendEmail, Config: models.SendEmailConfig{Subject: "Hi", Content: "x"}},
		},
		[]*models.Edge{
			plainEdge("e1", "t", "w"),
			plainEdge("e2", "w", "email"),
		},
	)

	execution := f.createExecution(t, "evt-1")
	require.NoError(t, f.engine.Run(context.Background(), execution.ID))

	require.NoError(t, f.engine.Cancel(context.Background(), execution.ID))

	cancelled := f.fetch(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.WakeAt)

	// A later tick finds nothing due.
	f.clock.Advance(2 * time.Hour)

	due, err := f.store.DueExecutions(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, due)

	// Cancelling again is a no-op.
	require.NoError(t, f.engine.Cancel(context.Background(), execution.ID))
	assert.Zero(t, f.sender.sentCount())
}

func TestRun_MissingNodeFailsExecution(t *testing.T) {
	f := newFixture(t, &models.Subscriber{ID: "sub-1", Email: "ada@example.com"})

	f.saveWorkflow(t,
		[]*models.Node{triggerNode()},
		nil,
	)

	execution := &models.Execution{
		ID:            "exec-1",
		WorkflowID:    "wf-1",
		SubscriberID:  "sub-1",
		EventID:       "evt-1",
		Status:        models.ExecutionStatusRunning,
		CurrentNodeID: "vanished",
		Context:       map[string]any{variables.TokenSubscriberEmail: "ada@example.com"},
	}
	require.NoError(t, f.store.CreateExecution(context.Background(), execution))

	require.NoError(t, f.engine.Run(context.Background(), execution.ID))

	final := f.fetch(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, final.Status)
	assert.Contains(t, final.LastError, "no longer exists")
}

func TestRun_DeletedWorkflowFailsExecution(t *testing.T) {
	f := newFixture(t, &models.Subscriber{ID: "sub-1", Email: "ada@example.com"})

	f.saveWorkflow(t,
		[]*models.Node{
			triggerNode(),
			{ID: "w", Kind: models.NodeKindWait, Config: models.WaitConfig{Duration: models.Duration(time.Hour)}},
			{ID: "email", Kind: models.NodeKindSendEmail, Config: models.SendEmailConfig{Subject: "Hi", Content: "x"}},
		},
		[]*models.Edge{
			plainEdge("e1", "t", "w"),
			plainEdge("e2", "w", "email"),
		},
	)

	execution := f.createExecution(t, "evt-1")
	require.NoError(t, f.engine.Run(context.Background(), execution.ID))
	assert.Equal(t, models.ExecutionStatusWaiting, f.fetch(t, execution.ID).Status)

	require.NoError(t, f.store.DeleteWorkflow(context.Background(), "wf-1"))

	f.clock.Advance(2 * time.Hour)

	due, err := f.store.DueExecutions(context.Background(), f.clock.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, f.engine.Resume(context.Background(), due[0]))

	final := f.fetch(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, final.Status)
	assert.Contains(t, final.LastError, "no longer exists")
	assert.Zero(t, f.sender.sentCount())

	// Nothing left for the scheduler to pick up, ever.
	f.clock.Advance(24 * time.Hour)

	due, err = f.store.DueExecutions(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	assert.Equal(t, 30*time.Second, policy.Delay(1))
	assert.Equal(t, 60*time.Second, policy.Delay(2))
	assert.Equal(t, 120*time.Second, policy.Delay(3))
	assert.Equal(t, 240*time.Second, policy.Delay(4))

	assert.False(t, policy.Exhausted(4))
	assert.True(t, policy.Exhausted(5))
}
