// Package engine advances workflow executions through their graphs: it runs
// actions, evaluates conditions, and suspends executions at wait nodes.
// Every transition is a single compare-and-swap against the execution store,
// so any number of workers and scheduler ticks may drive the same execution
// concurrently without a global lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/inkletter/inkletter/pkg/graph"
	"github.com/inkletter/inkletter/pkg/models"
	"github.com/inkletter/inkletter/pkg/otelhelper"
	"github.com/inkletter/inkletter/pkg/persistence"
	"github.com/inkletter/inkletter/pkg/protocol"
	"github.com/inkletter/inkletter/pkg/variables"
)

// Engine is the execution state machine.
type Engine struct {
	persistence persistence.Persistence
	emails      protocol.EmailSender
	tags        protocol.TagStore
	subscribers protocol.SubscriberProvider
	variables   *variables.Registry
	logger      *slog.Logger
	tracer      trace.Tracer
	retry       RetryPolicy
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryPolicy overrides the default external-effect retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(e *Engine) { e.retry = policy }
}

// WithClock overrides the engine clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTracer attaches a tracer; transitions are recorded as spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// NewEngine creates an execution engine.
func NewEngine(
	store persistence.Persistence,
	emails protocol.EmailSender,
	tags protocol.TagStore,
	subscribers protocol.SubscriberProvider,
	registry *variables.Registry,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		persistence: store,
		emails:      emails,
		tags:        tags,
		subscribers: subscribers,
		variables:   registry,
		logger:      logger.With("module", "execution_engine"),
		tracer:      noop.NewTracerProvider().Tracer("engine"),
		retry:       DefaultRetryPolicy(),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run advances an execution until it suspends or reaches a terminal status.
// Lost optimistic-concurrency races are retried against the refreshed row;
// validated graphs are acyclic, so the loop terminates.
func (e *Engine) Run(ctx context.Context, executionID string) error {
	for {
		execution, err := e.persistence.ExecutionByID(ctx, executionID)
		if err != nil {
			return fmt.Errorf("failed to fetch execution %s: %w", executionID, err)
		}

		if execution.Status != models.ExecutionStatusRunning {
			return nil
		}

		err = e.Step(ctx, execution)
		if err != nil {
			if persistence.IsExecutionConflict(err) {
				continue
			}

			return err
		}
	}
}

// Step performs exactly one transition of the execution and commits it with
// the version the caller read. The external call, if any, happens between
// the read and the write; no store lock is held across it.
func (e *Engine) Step(ctx context.Context, execution *models.Execution) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execution.step",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
		attribute.String(otelhelper.NodeIDKey, execution.CurrentNodeID),
	)
	defer span.End()

	workflow, err := e.persistence.WorkflowByID(ctx, execution.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			// The workflow was deleted under a live execution. Not retryable:
			// a running row the scheduler never revisits would be stuck for
			// good, so the execution terminates here.
			e.fail(execution, fmt.Errorf("workflow %s no longer exists", execution.WorkflowID))

			return e.commit(ctx, span, execution)
		}

		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to fetch workflow %s: %w", execution.WorkflowID, err)
	}

	g := graph.Build(workflow.Nodes, workflow.Edges)

	node := g.Node(execution.CurrentNodeID)
	if node == nil {
		// The definition changed under a live execution and the node is
		// gone. Not retryable.
		e.fail(execution, fmt.Errorf("node %s no longer exists in workflow %s", execution.CurrentNodeID, workflow.ID))

		return e.commit(ctx, span, execution)
	}

	logger := e.logger.With(
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"node_id", node.ID,
		"node_kind", node.Kind,
	)

	switch config := node.Config.(type) {
	case models.TriggerConfig:
		e.advance(execution, g.Next(node.ID))
	case models.SendEmailConfig:
		e.applyEffect(execution, g, node, logger, func() error {
			return e.sendEmail(ctx, execution, config)
		})
	case models.AddTagConfig:
		e.applyEffect(execution, g, node, logger, func() error {
			return e.tags.AddTag(ctx, execution.SubscriberID, config.Tag)
		})
	case models.RemoveTagConfig:
		e.applyEffect(execution, g, node, logger, func() error {
			return e.tags.RemoveTag(ctx, execution.SubscriberID, config.Tag)
		})
	case models.WaitConfig:
		e.suspend(execution, g, node, config, logger)
	case models.HasTagConfig, models.SubscriptionTierConfig, models.CustomFieldConfig:
		e.branch(ctx, execution, g, node, logger)
	default:
		e.fail(execution, fmt.Errorf("node %s has unsupported config %T", node.ID, node.Config))
	}

	return e.commit(ctx, span, execution)
}

// Resume hands a due waiting execution back to the engine. A conflict means
// another tick or worker already resumed it; that is not an error.
func (e *Engine) Resume(ctx context.Context, execution *models.Execution) error {
	if execution.Status != models.ExecutionStatusWaiting {
		return nil
	}

	if execution.WakeAt == nil || execution.WakeAt.After(e.now()) {
		return nil
	}

	execution.Status = models.ExecutionStatusRunning
	execution.WakeAt = nil

	err := e.persistence.UpdateExecution(ctx, execution)
	if err != nil {
		if persistence.IsExecutionConflict(err) {
			e.logger.Debug("Execution resumed by another worker", "execution_id", execution.ID)

			return nil
		}

		return fmt.Errorf("failed to resume execution %s: %w", execution.ID, err)
	}

	e.logger.Info("Resumed execution", "execution_id", execution.ID, "node_id", execution.CurrentNodeID)

	return e.Run(ctx, execution.ID)
}

// Cancel transitions a non-terminal execution to cancelled. It is safe
// against a concurrently-firing scheduler tick: the version check decides
// the winner and the loser refetches.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	for {
		execution, err := e.persistence.ExecutionByID(ctx, executionID)
		if err != nil {
			return fmt.Errorf("failed to fetch execution %s: %w", executionID, err)
		}

		if execution.Status.Terminal() {
			return nil
		}

		execution.Status = models.ExecutionStatusCancelled
		execution.WakeAt = nil

		err = e.persistence.UpdateExecution(ctx, execution)
		if err != nil {
			if persistence.IsExecutionConflict(err) {
				continue
			}

			return fmt.Errorf("failed to cancel execution %s: %w", executionID, err)
		}

		e.logger.Info("Cancelled execution", "execution_id", executionID)

		return nil
	}
}

// applyEffect runs one external side effect and either advances the
// execution or applies the retry policy.
func (e *Engine) applyEffect(
	execution *models.Execution,
	g *graph.Graph,
	node *models.Node,
	logger *slog.Logger,
	effect func() error,
) {
	err := effect()
	if err == nil {
		execution.Attempts = 0
		execution.LastError = ""
		e.advance(execution, g.Next(node.ID))

		return
	}

	execution.Attempts++
	execution.LastError = err.Error()

	if e.retry.Exhausted(execution.Attempts) {
		logger.Error("Node failed permanently, retries exhausted", "error", err, "attempts", execution.Attempts)
		execution.Status = models.ExecutionStatusFailed
		execution.WakeAt = nil

		return
	}

	delay := e.retry.Delay(execution.Attempts)
	wake := e.now().Add(delay)

	logger.Warn("Node failed, scheduling retry",
		"error", err,
		"attempt", execution.Attempts,
		"retry_in", delay)

	// The node pointer stays put so the resumed execution re-runs it.
	execution.Status = models.ExecutionStatusWaiting
	execution.WakeAt = &wake
}

// suspend parks the execution at its wait node's successor. The pointer is
// moved before suspension so resumption continues directly at the next node.
func (e *Engine) suspend(
	execution *models.Execution,
	g *graph.Graph,
	node *models.Node,
	config models.WaitConfig,
	logger *slog.Logger,
) {
	next := g.Next(node.ID)
	if next == "" {
		// Waiting with nothing after it is a completion.
		e.advance(execution, "")

		return
	}

	wake := e.now().Add(config.Duration.Std())

	execution.Status = models.ExecutionStatusWaiting
	execution.WakeAt = &wake
	execution.CurrentNodeID = next

	logger.Info("Execution suspended at wait node", "wake_at", wake)
}

// branch evaluates a condition node against the subscriber's current state
// and follows the matching labeled edge.
func (e *Engine) branch(
	ctx context.Context,
	execution *models.Execution,
	g *graph.Graph,
	node *models.Node,
	logger *slog.Logger,
) {
	subscriber, err := e.subscribers.Subscriber(ctx, execution.SubscriberID)
	if err != nil {
		// The context provider is an external collaborator like any other.
		e.applyEffect(execution, g, node, logger, func() error { return err })

		return
	}

	result, err := evaluateCondition(node.Config, subscriber)
	if err != nil {
		e.fail(execution, err)

		return
	}

	logger.Debug("Condition evaluated", "result", result)
	e.advance(execution, g.Branch(node.ID, result))
}

func (e *Engine) advance(execution *models.Execution, next string) {
	if next == "" {
		execution.Status = models.ExecutionStatusCompleted
		execution.WakeAt = nil

		return
	}

	execution.CurrentNodeID = next
}

func (e *Engine) fail(execution *models.Execution, err error) {
	execution.Status = models.ExecutionStatusFailed
	execution.LastError = err.Error()
	execution.WakeAt = nil
}

func (e *Engine) commit(ctx context.Context, span trace.Span, execution *models.Execution) error {
	err := e.persistence.UpdateExecution(ctx, execution)
	if err != nil {
		if !persistence.IsExecutionConflict(err) {
			otelhelper.SetError(span, err)
		}

		return err
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionStatusKey, string(execution.Status)))

	if execution.Status == models.ExecutionStatusFailed {
		e.logger.Error("Execution failed",
			"execution_id", execution.ID,
			"workflow_id", execution.WorkflowID,
			"error", execution.LastError)
	}

	return nil
}

func (e *Engine) sendEmail(ctx context.Context, execution *models.Execution, config models.SendEmailConfig) error {
	to := execution.ContextString(variables.TokenSubscriberEmail)
	if to == "" {
		return errors.New("execution context has no subscriber email")
	}

	renderCtx := variables.Context(execution.Context)
	subject := e.variables.Render(config.Subject, renderCtx)
	content := e.variables.Render(config.Content, renderCtx)

	return e.emails.Send(ctx, to, subject, content)
}

// evaluateCondition applies a condition node's predicate to the subscriber.
func evaluateCondition(config models.NodeConfig, subscriber *models.Subscriber) (bool, error) {
	switch c := config.(type) {
	case models.HasTagConfig:
		return subscriber.HasTag(c.Tag), nil
	case models.SubscriptionTierConfig:
		return subscriber.Tier == c.Tier, nil
	case models.CustomFieldConfig:
		return evaluateFieldCondition(c, subscriber)
	default:
		return false, fmt.Errorf("config %T is not a condition", config)
	}
}

func evaluateFieldCondition(config models.CustomFieldConfig, subscriber *models.Subscriber) (bool, error) {
	value, ok := subscriber.CustomFields[config.Field]
	if !ok {
		// Absent fields compare false on every operator.
		return false, nil
	}

	actual := fmt.Sprintf("%v", value)

	switch config.Operator {
	case models.OperatorEquals:
		return actual == config.Value, nil
	case models.OperatorContains:
		return strings.Contains(actual, config.Value), nil
	case models.OperatorGreaterThan, models.OperatorLessThan:
		return compareNumeric(config.Operator, actual, config.Value)
	default:
		return false, fmt.Errorf("unknown field operator %q", config.Operator)
	}
}

func compareNumeric(operator models.FieldOperator, actual, expected string) (bool, error) {
	actualNum, err := parseNumber(actual)
	if err != nil {
		return false, nil
	}

	expectedNum, err := parseNumber(expected)
	if err != nil {
		return false, fmt.Errorf("condition value %q is not numeric: %w", expected, err)
	}

	if operator == models.OperatorGreaterThan {
		return actualNum > expectedNum, nil
	}

	return actualNum < expectedNum, nil
}

func parseNumber(text string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(text), 64)
}
