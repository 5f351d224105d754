// Package worker consumes ingested events and run requests from the event bus and executes workflows.
package worker

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/eventwire/pkg/eventbus"
	"github.com/dukex/eventwire/pkg/events"
	"github.com/dukex/eventwire/pkg/models"
	"github.com/dukex/eventwire/pkg/workflow"
)

const (
	DefaultRecoverySchedule = "@every 1m"
	DefaultShutdownTimeout  = 30 * time.Second
)

type Worker struct {
	id         string
	eventBus   eventbus.EventBus
	matcher    *workflow.Matcher
	dispatcher *workflow.Dispatcher
	logger     *slog.Logger

	recoverySchedule string
	shutdownTimeout  time.Duration
}

type Option func(*Worker)

// WithRecoverySchedule sets the cron spec of the stale execution sweep. An empty spec disables it.
func WithRecoverySchedule(spec string) Option {
	return func(w *Worker) {
		w.recoverySchedule = spec
	}
}

func WithShutdownTimeout(timeout time.Duration) Option {
	return func(w *Worker) {
		w.shutdownTimeout = timeout
	}
}

func New(
	id string,
	eventBus eventbus.EventBus,
	matcher *workflow.Matcher,
	dispatcher *workflow.Dispatcher,
	logger *slog.Logger,
	opts ...Option,
) *Worker {
	worker := &Worker{
		id:               id,
		eventBus:         eventBus,
		matcher:          matcher,
		dispatcher:       dispatcher,
		logger:           logger.With("module", "eventwire-worker", "worker_id", id),
		recoverySchedule: DefaultRecoverySchedule,
		shutdownTimeout:  DefaultShutdownTimeout,
	}

	for _, opt := range opts {
		opt(worker)
	}

	return worker
}

// Start registers the event handlers, subscribes to the bus and schedules recovery.
// Unfinished executions from an earlier process are resubmitted once at startup.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker")

	err := w.eventBus.Handle(events.EventIngestedEvent, w.handleEventIngested)
	if err != nil {
		return err
	}

	err = w.eventBus.Handle(events.WorkflowRunRequestedEvent, w.handleWorkflowRunRequested)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if w.recoverySchedule != "" {
		err = w.dispatcher.StartRecovery(w.recoverySchedule)
		if err != nil {
			return err
		}

		resumed, err := w.dispatcher.RecoverStale(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "Initial recovery sweep failed", "error", err)
		} else if resumed > 0 {
			w.logger.InfoContext(ctx, "Resumed unfinished executions", "count", resumed)
		}
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	return nil
}

// Stop waits for in-flight executions up to the shutdown timeout.
func (w *Worker) Stop(ctx context.Context) {
	w.logger.InfoContext(ctx, "Shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.shutdownTimeout)
	defer cancel()

	w.dispatcher.Shutdown(shutdownCtx)

	w.logger.InfoContext(ctx, "Worker stopped")
}

// Run starts the worker and blocks until SIGINT, SIGTERM or ctx cancellation.
func (w *Worker) Run(ctx context.Context) error {
	err := w.Start(ctx)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	w.Stop(ctx)

	return nil
}

func (w *Worker) handleEventIngested(ctx context.Context, event any) error {
	ingested, ok := event.(*events.EventIngested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for EventIngested")

		return nil
	}

	w.logger.InfoContext(ctx, "Processing ingested event",
		"event_id", ingested.Event.EventID,
		"organization_id", ingested.Event.OrganizationID,
	)

	w.matcher.MatchAndExecute(ctx, &ingested.Event)

	return nil
}

func (w *Worker) handleWorkflowRunRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.WorkflowRunRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for WorkflowRunRequested")

		return nil
	}

	w.logger.InfoContext(ctx, "Processing run request",
		"workflow_id", requested.WorkflowID,
		"execution_id", requested.ExecutionID,
	)

	w.dispatcher.SubmitExecution(ctx, requested.ExecutionID)

	return nil
}

// CompletionPublisher announces every finished execution on the event bus.
func CompletionPublisher(publisher eventbus.EventPublisher, logger *slog.Logger) workflow.CompletionHook {
	logger = logger.With("module", "completion_publisher")

	return func(ctx context.Context, execution *models.WorkflowExecution) {
		var duration time.Duration
		if execution.CompletedAt != nil {
			duration = execution.CompletedAt.Sub(execution.StartedAt)
		}

		var event eventbus.Event

		if execution.Status == models.ExecutionStatusSuccess {
			event = events.ExecutionFinished{
				BaseEvent:   events.NewBaseEvent(events.ExecutionFinishedEvent, execution.WorkflowID),
				ExecutionID: execution.ID,
				Duration:    duration,
			}
		} else {
			event = events.ExecutionFailed{
				BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
				ExecutionID: execution.ID,
				Error:       execution.Error,
				Duration:    duration,
			}
		}

		err := publisher.Publish(context.WithoutCancel(ctx), execution.WorkflowID, event)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to publish execution result",
				"execution_id", execution.ID,
				"event_type", event.GetType(),
				"error", err,
			)
		}
	}
}
