// Package main provides the Inkletter resumption scheduler. It polls for
// waiting executions whose wake time has passed and hands them back to the
// engine. The worker and the scheduler can run in the same process or apart;
// optimistic concurrency on executions keeps them from double-running one.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/inkletter/inkletter/pkg/cmd"
	"github.com/inkletter/inkletter/pkg/email"
	"github.com/inkletter/inkletter/pkg/engine"
	"github.com/inkletter/inkletter/pkg/log"
	"github.com/inkletter/inkletter/pkg/otelhelper"
	"github.com/inkletter/inkletter/pkg/scheduler"
	"github.com/inkletter/inkletter/pkg/variables"
)

const serviceName = "inkletter-scheduler"

func main() {
	logger := log.WithModule(serviceName)

	command := &cli.Command{
		Name:                  serviceName,
		EnableShellCompletion: true,
		Usage:                 "Resume suspended workflow executions when their wake time passes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.DurationFlag{
				Name:    "interval",
				Usage:   "How often to poll for due executions",
				Value:   scheduler.DefaultInterval,
				Sources: cli.EnvVars("SCHEDULER_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for subscriber snapshots (in-memory store if unset)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces for execution transitions",
				Value:   false,
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Inkletter Scheduler")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			store, closeStore, err := cmd.NewSubscriberStore(command.String("redis-url"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := closeStore(); err != nil {
					logger.ErrorContext(ctx, "Failed to close subscriber store", "error", err)
				}
			}()

			registry := variables.NewRegistry(logger)
			sender := email.NewLogSender(logger)

			opts := []engine.Option{}

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, serviceName)
				if err != nil {
					return err
				}

				opts = append(opts, engine.WithTracer(tracer))
			}

			eng := engine.NewEngine(persistence, sender, store, store, registry, logger, opts...)

			sched := scheduler.NewScheduler(persistence, eng, logger,
				scheduler.WithInterval(command.Duration("interval")))

			if err := sched.Start(ctx); err != nil {
				return err
			}

			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)

			select {
			case <-ctx.Done():
			case <-c:
				logger.Info("Shutting down")
			}

			sched.Stop()

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
