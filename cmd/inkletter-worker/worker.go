// Package main provides the Inkletter automation worker. The worker consumes
// subscriber lifecycle events, matches them against active workflow triggers
// and drives the resulting executions until they suspend or finish.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/inkletter/inkletter/pkg/engine"
	"github.com/inkletter/inkletter/pkg/eventbus"
	"github.com/inkletter/inkletter/pkg/events"
	"github.com/inkletter/inkletter/pkg/matcher"
)

type Worker struct {
	workerID string
	eventBus eventbus.EventBus
	matcher  *matcher.Matcher
	engine   *engine.Engine
	logger   *slog.Logger
}

func NewWorker(
	workerID string,
	bus eventbus.EventBus,
	m *matcher.Matcher,
	eng *engine.Engine,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		workerID: workerID,
		eventBus: bus,
		matcher:  m,
		engine:   eng,
		logger:   logger,
	}
}

// Start consumes events until the context is cancelled or a termination
// signal arrives.
func (w *Worker) Start(ctx context.Context) error {
	w.eventBus.Handle(w.handleEvent)

	if err := w.eventBus.Subscribe(ctx); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started", "topic", events.Topic)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
	case <-c:
		w.logger.Info("Shutting down")
	}

	return nil
}

// handleEvent matches one event and runs every execution it started. A match
// or run failure nacks the message; execution creation is idempotent, so
// redelivery cannot double-fire workflows.
func (w *Worker) handleEvent(ctx context.Context, event events.DomainEvent) error {
	executions, err := w.matcher.Match(ctx, event)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to match event",
			"event_id", event.ID,
			"event_kind", event.Kind,
			"error", err)

		return err
	}

	for _, execution := range executions {
		if err := w.engine.Run(ctx, execution.ID); err != nil {
			w.logger.ErrorContext(ctx, "Failed to run execution",
				"execution_id", execution.ID,
				"workflow_id", execution.WorkflowID,
				"error", err)

			return err
		}
	}

	return nil
}
