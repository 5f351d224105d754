package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/eventwire/pkg/cmd"
	"github.com/dukex/eventwire/pkg/log"
	"github.com/dukex/eventwire/pkg/worker"
	"github.com/dukex/eventwire/pkg/workflow"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "eventwire-api",
		Usage:                 "Ingest events and manage workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file:// or postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "checkpoint-store-url",
				Usage:   "Checkpoint store (memory, redis://); empty uses the persistence store",
				Sources: cli.EnvVars("CHECKPOINT_STORE_URL"),
			},
			&cli.IntFlag{
				Name:    "max-concurrent-executions",
				Usage:   "Executions run at once by the embedded worker",
				Value:   workflow.DefaultMaxConcurrentExecutions,
				Sources: cli.EnvVars("MAX_CONCURRENT_EXECUTIONS"),
			},
			&cli.IntFlag{
				Name:    "step-max-attempts",
				Usage:   "Attempts per node before the execution fails",
				Value:   3,
				Sources: cli.EnvVars("STEP_MAX_ATTEMPTS"),
			},
			&cli.StringFlag{
				Name:    "recovery-schedule",
				Usage:   "Cron spec of the stale execution sweep; empty disables it",
				Value:   worker.DefaultRecoverySchedule,
				Sources: cli.EnvVars("RECOVERY_SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing eventwire API")

			runtime, err := cmd.NewRuntime(ctx, logger, cmd.RuntimeConfig{
				ServiceName:        "eventwire-api",
				DatabaseURL:        command.String("database-url"),
				EventBus:           command.String("event-bus"),
				KafkaBrokers:       command.String("kafka-brokers"),
				CheckpointStoreURL: command.String("checkpoint-store-url"),
				StepMaxAttempts:    command.Int("step-max-attempts"),
				OTelEnabled:        command.Bool("otel-enabled"),
			})
			if err != nil {
				return err
			}
			defer runtime.Close(ctx)

			// Messages on an in-process bus never reach another binary.
			if cmd.IsInProcessEventBus(command.String("event-bus")) {
				embedded := runtime.NewWorker(
					fmt.Sprintf("api-%s", uuid.New().String()[:8]),
					command.Int("max-concurrent-executions"),
					command.String("recovery-schedule"),
				)

				err = embedded.Start(ctx)
				if err != nil {
					return fmt.Errorf("failed to start embedded worker: %w", err)
				}
				defer embedded.Stop(ctx)
			}

			api := NewAPI(
				logger,
				runtime.Persistence,
				runtime.Registry,
				runtime.Engine,
				runtime.EventBus,
			)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
