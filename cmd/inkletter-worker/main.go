package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/inkletter/inkletter/pkg/cmd"
	"github.com/inkletter/inkletter/pkg/email"
	"github.com/inkletter/inkletter/pkg/engine"
	"github.com/inkletter/inkletter/pkg/log"
	"github.com/inkletter/inkletter/pkg/matcher"
	"github.com/inkletter/inkletter/pkg/otelhelper"
	"github.com/inkletter/inkletter/pkg/variables"
)

const serviceName = "inkletter-worker"

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		EnableShellCompletion: true,
		Usage:                 "Consume subscriber events and execute automation workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus provider (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for subscriber snapshots (in-memory store if unset)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "link-base",
				Usage:   "Public base URL for unsubscribe links",
				Value:   "",
				Sources: cli.EnvVars("LINK_BASE_URL"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule(serviceName).With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Inkletter Worker")

			eventBus := cmd.NewEventBus(command.String("event-bus"), serviceName, logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

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
			m := matcher.NewMatcher(persistence, store, logger, command.String("link-base"))

			worker := NewWorker(workerID, eventBus, m, eng, logger)

			err = worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
