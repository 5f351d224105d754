// Package workflow matches events to workflows and executes workflow graphs durably.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/eventwire/pkg/models"
	"github.com/dukex/eventwire/pkg/otelhelper"
	"github.com/dukex/eventwire/pkg/persistence"
	"github.com/dukex/eventwire/pkg/registry"
	"github.com/dukex/eventwire/pkg/step"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StartMode selects the initial state of a new execution record.
type StartMode int

const (
	// StartDirect creates a running execution that the caller runs immediately.
	StartDirect StartMode = iota

	// StartQueued creates a pending execution for a manual run that a worker picks up later.
	// Disabled workflows are rejected in this mode.
	StartQueued
)

// StepPolicy is step.DefaultPolicy bounded to maxAttempts, with NonRetryable errors surfacing at once.
func StepPolicy(maxAttempts int) step.Policy {
	policy := step.DefaultPolicy()
	policy.NonRetryable = NonRetryable

	if maxAttempts > 0 {
		policy.MaxAttempts = maxAttempts
	}

	return policy
}

// DefaultLeaseTTL is how long a claimed execution stays owned without renewal.
const DefaultLeaseTTL = 2 * time.Minute

// CompletionHook observes executions reaching a terminal status.
type CompletionHook func(ctx context.Context, execution *models.WorkflowExecution)

type Engine struct {
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	registry   *registry.Registry
	runner     *step.Runner
	logger     *slog.Logger
	tracer     trace.Tracer
	onComplete []CompletionHook
	now        func() time.Time

	// owner names this engine on the execution leases it takes.
	owner    string
	leaseTTL time.Duration
}

type EngineOption func(*Engine)

func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithOwner sets the lease owner recorded on claimed executions. Owners must be unique per process.
func WithOwner(owner string) EngineOption {
	return func(e *Engine) {
		if owner != "" {
			e.owner = owner
		}
	}
}

func WithLeaseTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) {
		if ttl > 0 {
			e.leaseTTL = ttl
		}
	}
}

// WithCompletionHook registers hook to run after an execution succeeds or fails.
func WithCompletionHook(hook CompletionHook) EngineOption {
	return func(e *Engine) {
		e.onComplete = append(e.onComplete, hook)
	}
}

func NewEngine(
	workflows persistence.WorkflowRepository,
	executions persistence.ExecutionRepository,
	registry *registry.Registry,
	runner *step.Runner,
	logger *slog.Logger,
	opts ...EngineOption,
) *Engine {
	engine := &Engine{
		workflows:  workflows,
		executions: executions,
		registry:   registry,
		runner:     runner,
		logger:     logger.With("module", "workflow_engine"),
		tracer:     otelhelper.Tracer("eventwire"),
		now:        func() time.Time { return time.Now().UTC() },
		owner:      "engine-" + uuid.NewString()[:8],
		leaseTTL:   DefaultLeaseTTL,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Execute starts and runs a workflow to completion. The workflow need not be stored:
// the run walks the graph captured by Start.
// A failing node is recorded on the returned execution, not returned as an error.
func (e *Engine) Execute(ctx context.Context, workflow *models.Workflow, input models.TriggerInput) (*models.WorkflowExecution, error) {
	execution, err := e.Start(ctx, workflow, input, StartDirect)
	if err != nil {
		return nil, err
	}

	return e.Run(ctx, execution.ID)
}

// Start validates the workflow and creates its execution record with a snapshot of the graph.
// Nothing is persisted on error. A direct start for an event fails with ErrDuplicateExecution
// when that event already started the workflow.
func (e *Engine) Start(ctx context.Context, workflow *models.Workflow, input models.TriggerInput, mode StartMode) (*models.WorkflowExecution, error) {
	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	if mode == StartQueued && !workflow.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowDisabled, workflow.ID)
	}

	if len(workflow.TriggerNodes()) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNoTrigger, workflow.ID)
	}

	if input == nil {
		input = models.TriggerInput{}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate execution ID: %w", err)
	}

	status := models.ExecutionStatusRunning
	if mode == StartQueued {
		status = models.ExecutionStatusPending
	}

	now := e.now()

	execution := &models.WorkflowExecution{
		ID:           id.String(),
		WorkflowID:   workflow.ID,
		Status:       status,
		TriggeredBy:  input.TriggeredBy(),
		TriggerInput: input,
		Workflow:     workflow.Snapshot(),
		Logs:         []models.NodeExecutionLog{},
		StartedAt:    now,
		UpdatedAt:    now,
	}

	if mode == StartDirect && execution.TriggeredBy.EventID != "" {
		execution.IdempotencyKey = models.EventIdempotencyKey(execution.TriggeredBy.EventID, workflow.ID)
	}

	err = e.executions.CreateExecution(ctx, execution)
	if err != nil {
		if errors.Is(err, ErrDuplicateExecution) {
			return nil, fmt.Errorf("%w: event %s already started workflow %s", ErrDuplicateExecution, execution.TriggeredBy.EventID, workflow.ID)
		}

		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	e.logger.InfoContext(ctx, "Execution created",
		"workflow_id", workflow.ID,
		"execution_id", execution.ID,
		"status", status,
	)

	return execution, nil
}

// Run claims an existing execution and walks its workflow snapshot. Steps completed by an
// earlier, interrupted Run are replayed from their checkpoints instead of executed again.
// Runs of terminal executions return the stored record unchanged, and executions leased
// to another runner are refused with ErrExecutionClaimed.
//
// Cancelling ctx interrupts the run: the record keeps its non-terminal status, the lease is
// released and the context error is returned so the execution can be resumed later.
func (e *Engine) Run(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	execution, claimed, err := e.executions.ClaimExecution(ctx, executionID, e.owner, e.leaseDeadline())
	if err != nil {
		return nil, fmt.Errorf("failed to claim execution: %w", err)
	}

	if execution == nil {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}

	if execution.Status.IsTerminal() {
		return execution, nil
	}

	if !claimed {
		return execution, fmt.Errorf("%w: %s is leased to %s", ErrExecutionClaimed, execution.ID, execution.LeaseOwner)
	}

	logger := e.logger.With("workflow_id", execution.WorkflowID, "execution_id", execution.ID)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
	)
	defer span.End()

	workflow, err := e.graph(ctx, execution)
	if err != nil {
		otelhelper.SetError(span, err)
		e.release(ctx, logger, execution.ID)

		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	if workflow == nil {
		return e.finish(ctx, logger, execution, nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, execution.WorkflowID))
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowNameKey, workflow.Name))

	running := models.ExecutionStatusRunning

	execution, err = e.executions.UpdateExecution(ctx, execution.ID, models.ExecutionPatch{
		Status: &running,
		Logs:   []models.NodeExecutionLog{},
		Owner:  e.owner,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark execution running: %w", err)
	}

	logger.InfoContext(ctx, "Running workflow", "workflow_name", workflow.Name)

	walk := &graphWalk{
		engine:      e,
		workflow:    workflow,
		execution:   execution,
		execCtx:     models.NewExecutionContext(execution.TriggerInput),
		logger:      logger,
		occurrences: make(map[string]int),
		ancestors:   make(map[string]bool),
	}

	stopRenewal := e.keepLease(ctx, logger, execution.ID)
	walkErr := walk.run(ctx)
	stopRenewal()

	if errors.Is(walkErr, persistence.ErrExecutionLeaseLost) {
		logger.WarnContext(ctx, "Execution lease lost, leaving the run to its new owner", "error", walkErr)
		otelhelper.SetError(span, walkErr)

		return walk.execution, walkErr
	}

	if walkErr != nil && ctx.Err() != nil && !IsStructural(walkErr) {
		logger.WarnContext(ctx, "Execution interrupted", "error", walkErr)
		otelhelper.SetError(span, walkErr)
		e.release(ctx, logger, execution.ID)

		return walk.execution, ctx.Err()
	}

	if walkErr != nil {
		otelhelper.SetError(span, walkErr)
	}

	return e.finish(ctx, logger, walk.execution, walk.logs, walkErr)
}

// Resume continues an interrupted execution. It is Run under a name that says why it is called.
func (e *Engine) Resume(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	e.logger.InfoContext(ctx, "Resuming execution", "execution_id", executionID)

	return e.Run(ctx, executionID)
}

// graph returns the workflow snapshot of execution. Records without one fall back to the stored workflow.
func (e *Engine) graph(ctx context.Context, execution *models.WorkflowExecution) (*models.Workflow, error) {
	if execution.Workflow != nil {
		return execution.Workflow, nil
	}

	return e.workflows.GetByID(ctx, execution.WorkflowID)
}

func (e *Engine) leaseDeadline() time.Time {
	return e.now().Add(e.leaseTTL)
}

// keepLease renews the lease on executionID until the returned function is called.
func (e *Engine) keepLease(ctx context.Context, logger *slog.Logger, executionID string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(max(e.leaseTTL/3, time.Millisecond))
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				leaseUntil := e.leaseDeadline()

				_, err := e.executions.UpdateExecution(ctx, executionID, models.ExecutionPatch{Owner: e.owner, LeaseUntil: &leaseUntil})
				if errors.Is(err, persistence.ErrExecutionLeaseLost) {
					return
				}

				if err != nil && ctx.Err() == nil {
					logger.WarnContext(ctx, "Failed to renew execution lease", "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// release expires the lease so another runner can resume the execution at once.
func (e *Engine) release(ctx context.Context, logger *slog.Logger, executionID string) {
	now := e.now()

	_, err := e.executions.UpdateExecution(context.WithoutCancel(ctx), executionID, models.ExecutionPatch{Owner: e.owner, LeaseUntil: &now})
	if err != nil {
		logger.WarnContext(ctx, "Failed to release execution lease", "error", err)
	}
}

func (e *Engine) finish(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.WorkflowExecution,
	logs []models.NodeExecutionLog,
	cause error,
) (*models.WorkflowExecution, error) {
	completedAt := e.now()
	status := models.ExecutionStatusSuccess
	patch := models.ExecutionPatch{
		Status:      &status,
		CompletedAt: &completedAt,
		Logs:        logs,
		LeaseUntil:  &completedAt,
		Owner:       e.owner,
	}

	if cause != nil {
		status = models.ExecutionStatusError
		message := failureMessage(cause)
		patch.Error = &message
	}

	finished, err := e.executions.UpdateExecution(context.WithoutCancel(ctx), execution.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to record execution result: %w", err)
	}

	if cause != nil {
		logger.ErrorContext(ctx, "Execution failed", "error", cause)
	} else {
		logger.InfoContext(ctx, "Execution succeeded", "nodes", len(finished.Logs))
	}

	err = e.runner.Forget(context.WithoutCancel(ctx), execution.ID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to drop step checkpoints", "error", err)
	}

	for _, hook := range e.onComplete {
		hook(ctx, finished)
	}

	return finished, nil
}

// graphWalk is the state of one depth-first traversal.
type graphWalk struct {
	engine    *Engine
	workflow  *models.Workflow
	execution *models.WorkflowExecution
	execCtx   *models.ExecutionContext
	logger    *slog.Logger
	logs      []models.NodeExecutionLog

	// occurrences counts visits per node so step ids are stable across replays.
	occurrences map[string]int

	// ancestors holds the nodes on the current path.
	ancestors map[string]bool
}

func (w *graphWalk) run(ctx context.Context) error {
	w.logs = make([]models.NodeExecutionLog, 0, len(w.workflow.Nodes))

	for _, trigger := range w.workflow.TriggerNodes() {
		err := w.visit(ctx, trigger)
		if err != nil {
			return err
		}
	}

	return nil
}

func (w *graphWalk) visit(ctx context.Context, node *models.WorkflowNode) error {
	if w.ancestors[node.ID] {
		return fmt.Errorf("%w: node %s is reachable from itself", ErrWorkflowCycle, node.ID)
	}

	w.occurrences[node.ID]++
	stepID := fmt.Sprintf("%s#%d", node.ID, w.occurrences[node.ID])

	output, err := w.execute(ctx, node, stepID)
	if err != nil {
		return err
	}

	w.execCtx.Outputs[node.ID] = output

	w.ancestors[node.ID] = true
	defer delete(w.ancestors, node.ID)

	for _, edge := range w.workflow.OutgoingEdges(node.ID) {
		target := w.workflow.NodeByID(edge.Target)
		if target == nil {
			w.logger.DebugContext(ctx, "Skipping dangling edge", "edge_id", edge.ID, "target", edge.Target)

			continue
		}

		if !w.traversable(ctx, edge) {
			w.logger.DebugContext(ctx, "Edge condition not met, skipping branch", "edge_id", edge.ID, "condition", edge.Condition)

			continue
		}

		err := w.visit(ctx, target)
		if err != nil {
			return err
		}
	}

	return nil
}

func (w *graphWalk) traversable(ctx context.Context, edge *models.WorkflowEdge) bool {
	if edge.Condition == "" {
		return true
	}

	return expressionTrue(ctx, w.logger, edge.Condition, w.execCtx)
}

func (w *graphWalk) execute(ctx context.Context, node *models.WorkflowNode, stepID string) (any, error) {
	logger := w.logger.With("node_id", node.ID, "step_id", stepID)

	ctx, span := otelhelper.StartSpan(ctx, w.engine.tracer, "workflow.node",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
		attribute.String(otelhelper.StepIDKey, stepID),
	)
	defer span.End()

	index := len(w.logs)
	w.logs = append(w.logs, models.NodeExecutionLog{
		NodeID:    node.ID,
		NodeName:  node.Name(),
		Status:    models.NodeStatusRunning,
		StartedAt: w.engine.now(),
	})

	err := w.persistLogs(ctx)
	if err != nil {
		return nil, err
	}

	var (
		output    any
		nodeErr   error
		startedAt time.Time
	)

	if node.IsTrigger() {
		output = map[string]any(w.execCtx.Trigger)
	} else {
		result, err := w.runAction(ctx, node, stepID, span)
		if err != nil {
			nodeErr = err
		} else {
			output = result.Output
			startedAt = result.StartedAt
		}
	}

	if nodeErr != nil && ctx.Err() != nil {
		return nil, nodeErr
	}

	completedAt := w.engine.now()
	entry := &w.logs[index]
	entry.CompletedAt = &completedAt

	if !startedAt.IsZero() {
		entry.StartedAt = startedAt
	}

	if nodeErr != nil {
		entry.Status = models.NodeStatusError
		entry.Error = nodeErr.Error()

		otelhelper.SetError(span, nodeErr)
		logger.ErrorContext(ctx, "Node failed", "error", nodeErr)
	} else {
		entry.Status = models.NodeStatusSuccess
		entry.Output = output

		logger.DebugContext(ctx, "Node succeeded")
	}

	err = w.persistLogs(ctx)
	if err != nil {
		return nil, err
	}

	if nodeErr != nil {
		return nil, &NodeError{NodeID: node.ID, Err: nodeErr}
	}

	return output, nil
}

func (w *graphWalk) runAction(ctx context.Context, node *models.WorkflowNode, stepID string, span trace.Span) (*step.Result, error) {
	config, ok := node.ActionConfig()
	if !ok {
		return nil, fmt.Errorf("%w: action node %s has no action config", ErrNodeMisconfigured, node.ID)
	}

	span.SetAttributes(attribute.String(otelhelper.ActionTypeKey, string(config.ActionType())))

	handler, err := w.engine.registry.Handler(config.ActionType())
	if err != nil {
		return nil, err
	}

	result, err := w.engine.runner.Run(ctx, w.execution.ID, stepID, func(ctx context.Context) (any, error) {
		return handler.Execute(ctx, config, w.execCtx)
	})
	if err != nil {
		var panicErr *step.PanicError
		if errors.As(err, &panicErr) {
			w.logger.ErrorContext(ctx, "Action handler panicked", "node_id", node.ID, "panic", panicErr.Value)
		}

		return nil, err
	}

	if result.Replayed {
		span.AddEvent("step_replayed")
	}

	return result, nil
}

// persistLogs writes the node logs and renews the lease. It fails once another runner owns the execution.
func (w *graphWalk) persistLogs(ctx context.Context) error {
	leaseUntil := w.engine.leaseDeadline()

	execution, err := w.engine.executions.UpdateExecution(context.WithoutCancel(ctx), w.execution.ID, models.ExecutionPatch{
		Logs:       w.logs,
		LeaseUntil: &leaseUntil,
		Owner:      w.engine.owner,
	})
	if err != nil {
		return fmt.Errorf("failed to persist execution logs: %w", err)
	}

	w.execution = execution

	return nil
}
