package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dukex/eventwire/pkg/eventbus"
	"github.com/dukex/eventwire/pkg/otelhelper"
	"github.com/dukex/eventwire/pkg/persistence"
	"github.com/dukex/eventwire/pkg/registry"
	"github.com/dukex/eventwire/pkg/step"
	"github.com/dukex/eventwire/pkg/worker"
	"github.com/dukex/eventwire/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

type RuntimeConfig struct {
	ServiceName string

	// InstanceID names this process on the execution leases its engine takes. Empty picks a random one.
	InstanceID string

	DatabaseURL        string
	EventBus           string
	KafkaBrokers       string
	CheckpointStoreURL string
	StepMaxAttempts    int
	OTelEnabled        bool
}

// Runtime holds the components shared by the eventwire binaries.
type Runtime struct {
	Persistence persistence.Persistence
	Checkpoints step.Store
	EventBus    eventbus.EventBus
	Registry    *registry.Registry
	Engine      *workflow.Engine

	logger         *slog.Logger
	shutdownTracer otelhelper.ShutdownFunc
}

// NewRuntime builds persistence, checkpoints, event bus, registry and engine from config.
// Anything built before a failure is closed again.
func NewRuntime(ctx context.Context, logger *slog.Logger, config RuntimeConfig) (*Runtime, error) {
	runtime := &Runtime{logger: logger}

	var err error

	defer func() {
		if err != nil {
			runtime.Close(ctx)
		}
	}()

	var opts []workflow.EngineOption

	if config.InstanceID != "" {
		opts = append(opts, workflow.WithOwner(config.InstanceID))
	}

	if config.OTelEnabled {
		var tracer trace.Tracer

		tracer, runtime.shutdownTracer, err = otelhelper.NewTracer(ctx, config.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		opts = append(opts, workflow.WithTracer(tracer))
	}

	runtime.Persistence, err = NewPersistence(ctx, logger, config.DatabaseURL)
	if err != nil {
		return nil, err
	}

	runtime.Checkpoints, err = NewCheckpointStore(ctx, config.CheckpointStoreURL, runtime.Persistence)
	if err != nil {
		return nil, err
	}

	runtime.EventBus, err = NewEventBus(config.EventBus, config.KafkaBrokers, config.ServiceName, logger)
	if err != nil {
		return nil, err
	}

	runtime.Registry = NewRegistry(logger)

	opts = append(opts, workflow.WithCompletionHook(worker.CompletionPublisher(runtime.EventBus, logger)))

	runtime.Engine = workflow.NewEngine(
		runtime.Persistence.WorkflowRepository(),
		runtime.Persistence.ExecutionRepository(),
		runtime.Registry,
		step.NewRunner(runtime.Checkpoints, workflow.StepPolicy(config.StepMaxAttempts), logger),
		logger,
		opts...,
	)

	return runtime, nil
}

// NewWorker wires a matcher and a dispatcher over the runtime engine.
func (r *Runtime) NewWorker(id string, maxConcurrentExecutions int, recoverySchedule string) *worker.Worker {
	executions := r.Persistence.ExecutionRepository()

	dispatcher := workflow.NewDispatcher(r.Engine, executions, r.logger,
		workflow.WithMaxConcurrentExecutions(maxConcurrentExecutions),
	)
	matcher := workflow.NewMatcher(r.Persistence.WorkflowRepository(), dispatcher, r.logger)

	return worker.New(id, r.EventBus, matcher, dispatcher, r.logger,
		worker.WithRecoverySchedule(recoverySchedule),
	)
}

// Close releases the runtime in reverse build order.
func (r *Runtime) Close(ctx context.Context) {
	var errs []error

	if r.EventBus != nil {
		errs = append(errs, r.EventBus.Close())
	}

	if closer, ok := r.Checkpoints.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}

	if r.Persistence != nil {
		errs = append(errs, r.Persistence.Close(ctx))
	}

	if r.shutdownTracer != nil {
		errs = append(errs, r.shutdownTracer(ctx))
	}

	err := errors.Join(errs...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
	}
}
