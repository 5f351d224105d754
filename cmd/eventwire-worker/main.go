// Package main provides the eventwire worker, which matches ingested events and runs workflows.
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

func main() {
	command := &cli.Command{
		Name:                  "eventwire-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker to execute workflows",
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
				Usage:    "Database connection URL for persistence (file:// or postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka)",
				Value:   "kafka",
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
				Usage:   "Executions run at once by this worker",
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

			logger := log.WithModule("worker")

			if cmd.IsInProcessEventBus(command.String("event-bus")) {
				logger.WarnContext(ctx, "In-process event bus only sees events published by this worker")
			}

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
			}

			runtime, err := cmd.NewRuntime(ctx, logger, cmd.RuntimeConfig{
				ServiceName:        "eventwire-worker",
				InstanceID:         workerID,
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

			w := runtime.NewWorker(
				workerID,
				command.Int("max-concurrent-executions"),
				command.String("recovery-schedule"),
			)

			return w.Run(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
