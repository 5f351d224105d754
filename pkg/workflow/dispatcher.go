package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/eventwire/pkg/models"
	"github.com/dukex/eventwire/pkg/persistence"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxConcurrentExecutions = 16
	DefaultStaleAfter              = 5 * time.Minute
)

// Dispatcher runs executions in the background, bounded by a concurrency limit.
// Each execution runs in its own goroutine; a failure in one never affects the others.
type Dispatcher struct {
	engine     *Engine
	executions persistence.ExecutionRepository
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}

	staleAfter time.Duration
	scheduler  *cron.Cron
}

type DispatcherOption func(*Dispatcher)

func WithMaxConcurrentExecutions(limit int) DispatcherOption {
	return func(d *Dispatcher) {
		if limit > 0 {
			d.sem = semaphore.NewWeighted(int64(limit))
		}
	}
}

// WithStaleAfter sets how long a pending or running execution may go untouched before recovery resumes it.
func WithStaleAfter(staleAfter time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if staleAfter > 0 {
			d.staleAfter = staleAfter
		}
	}
}

func NewDispatcher(engine *Engine, executions persistence.ExecutionRepository, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	dispatcher := &Dispatcher{
		engine:     engine,
		executions: executions,
		logger:     logger.With("module", "execution_dispatcher"),
		ctx:        ctx,
		cancel:     cancel,
		sem:        semaphore.NewWeighted(DefaultMaxConcurrentExecutions),
		inflight:   make(map[string]struct{}),
		staleAfter: DefaultStaleAfter,
	}

	for _, opt := range opts {
		opt(dispatcher)
	}

	return dispatcher
}

// Submit starts and runs workflow in the background.
func (d *Dispatcher) Submit(ctx context.Context, workflow *models.Workflow, input models.TriggerInput) {
	d.spawn(ctx, func(runCtx context.Context) {
		execution, err := d.engine.Start(runCtx, workflow, input, StartDirect)
		if errors.Is(err, ErrDuplicateExecution) {
			d.logger.InfoContext(runCtx, "Event already started this workflow, skipping", "workflow_id", workflow.ID, "error", err)

			return
		}

		if err != nil {
			d.logger.ErrorContext(runCtx, "Failed to start execution", "workflow_id", workflow.ID, "error", err)

			return
		}

		d.run(runCtx, execution.ID)
	})
}

// SubmitExecution runs an existing execution record in the background, replaying completed steps.
func (d *Dispatcher) SubmitExecution(ctx context.Context, executionID string) {
	d.spawn(ctx, func(runCtx context.Context) {
		d.run(runCtx, executionID)
	})
}

// spawn detaches work from the caller's lifetime while keeping its trace.
func (d *Dispatcher) spawn(ctx context.Context, work func(context.Context)) {
	runCtx := trace.ContextWithSpanContext(d.ctx, trace.SpanContextFromContext(ctx))

	d.wg.Add(1)

	go func() {
		defer d.wg.Done()

		err := d.sem.Acquire(runCtx, 1)
		if err != nil {
			d.logger.WarnContext(runCtx, "Dispatcher stopped before execution could start", "error", err)

			return
		}
		defer d.sem.Release(1)

		work(runCtx)
	}()
}

func (d *Dispatcher) run(ctx context.Context, executionID string) {
	if !d.track(executionID) {
		d.logger.DebugContext(ctx, "Execution already running in this process", "execution_id", executionID)

		return
	}
	defer d.untrack(executionID)

	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.ErrorContext(ctx, "Execution panicked", "execution_id", executionID, "panic", recovered)
		}
	}()

	_, err := d.engine.Run(ctx, executionID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			d.logger.InfoContext(ctx, "Execution interrupted, it will be resumed by recovery", "execution_id", executionID)

			return
		}

		if errors.Is(err, ErrExecutionClaimed) || errors.Is(err, persistence.ErrExecutionLeaseLost) {
			d.logger.InfoContext(ctx, "Execution owned by another runner", "execution_id", executionID, "error", err)

			return
		}

		d.logger.ErrorContext(ctx, "Execution run failed", "execution_id", executionID, "error", err)
	}
}

func (d *Dispatcher) track(executionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.inflight[executionID]; ok {
		return false
	}

	d.inflight[executionID] = struct{}{}

	return true
}

func (d *Dispatcher) untrack(executionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.inflight, executionID)
}

func (d *Dispatcher) isInflight(executionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.inflight[executionID]

	return ok
}

// Wait blocks until every submitted execution has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// RecoverStale resumes pending and running executions that nobody holds a lease on and
// that have not been written to for the stale threshold. It returns how many were resubmitted.
// Resubmitted runs still have to win the execution claim, so concurrent sweeps in several
// processes run each execution once.
func (d *Dispatcher) RecoverStale(ctx context.Context) (int, error) {
	executions, err := d.executions.ListExecutionsByStatus(ctx, models.ExecutionStatusPending, models.ExecutionStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished executions: %w", err)
	}

	now := time.Now().UTC()
	cutoff := now.Add(-d.staleAfter)
	resumed := 0

	for _, execution := range executions {
		if execution.LeaseHeld(now) || execution.LastUpdate().After(cutoff) || d.isInflight(execution.ID) {
			continue
		}

		d.logger.InfoContext(ctx, "Resuming stale execution",
			"execution_id", execution.ID,
			"workflow_id", execution.WorkflowID,
			"status", execution.Status,
		)

		d.SubmitExecution(ctx, execution.ID)
		resumed++
	}

	return resumed, nil
}

// StartRecovery schedules RecoverStale on a cron spec such as "@every 1m".
func (d *Dispatcher) StartRecovery(spec string) error {
	scheduler := cron.New()

	_, err := scheduler.AddFunc(spec, func() {
		resumed, err := d.RecoverStale(d.ctx)
		if err != nil {
			d.logger.ErrorContext(d.ctx, "Recovery sweep failed", "error", err)

			return
		}

		if resumed > 0 {
			d.logger.InfoContext(d.ctx, "Recovery sweep resumed executions", "count", resumed)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid recovery schedule %q: %w", spec, err)
	}

	d.scheduler = scheduler
	scheduler.Start()

	return nil
}

// Shutdown stops recovery and waits for in-flight executions until ctx is done.
// Executions still running at that point are interrupted and left resumable.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	if d.scheduler != nil {
		<-d.scheduler.Stop().Done()
	}

	done := make(chan struct{})

	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.logger.WarnContext(ctx, "Shutdown deadline reached, interrupting executions")
	}

	d.cancel()
	<-done
}
