// Package scheduler resumes suspended executions. Suspension is data (a
// persisted wake time), so resumption is a poll: every tick collects all
// overdue waiting executions and hands each back to the engine. Ticks are
// independent and idempotent; a crashed tick leaves executions waiting for
// the next one.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/inkletter/inkletter/pkg/engine"
	"github.com/inkletter/inkletter/pkg/persistence"
)

// DefaultInterval is how often the poller looks for due executions.
const DefaultInterval = 60 * time.Second

// Scheduler is the resumption poller.
type Scheduler struct {
	persistence persistence.Persistence
	engine      *engine.Engine
	logger      *slog.Logger
	interval    time.Duration
	cron        *cron.Cron
	now         func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval overrides the default tick interval.
func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) { s.interval = interval }
}

// WithClock overrides the scheduler clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a resumption poller.
func NewScheduler(store persistence.Persistence, eng *engine.Engine, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		persistence: store,
		engine:      eng,
		logger:      logger.With("module", "scheduler"),
		interval:    DefaultInterval,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins ticking until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.Tick(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule resumption tick: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started", "interval", s.interval)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop halts ticking. In-flight ticks finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.logger.Info("Scheduler stopped")
	}
}

// Tick processes every overdue execution, not just the earliest, so a single
// tick catches up after downtime. Failures on one execution never block the
// others; a lost resume race is simply skipped.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	due, err := s.persistence.DueExecutions(ctx, now)
	if err != nil {
		s.logger.Error("Failed to query due executions", "error", err)

		return
	}

	if len(due) == 0 {
		return
	}

	s.logger.Info("Resuming due executions", "count", len(due))

	for _, execution := range due {
		if err := s.engine.Resume(ctx, execution); err != nil {
			s.logger.Error("Failed to resume execution",
				"execution_id", execution.ID,
				"workflow_id", execution.WorkflowID,
				"error", err)
		}
	}
}
