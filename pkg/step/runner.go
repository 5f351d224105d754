package step

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds retries of a failing step.
type Policy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxAttempts     int

	// NonRetryable classifies errors that must surface on the first failure.
	NonRetryable func(error) bool
}

func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 500 * time.Millisecond,
		Multiplier:      2,
		MaxInterval:     10 * time.Second,
		MaxAttempts:     3,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOffContext {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = p.InitialInterval
	exponential.Multiplier = p.Multiplier
	exponential.MaxInterval = p.MaxInterval
	exponential.MaxElapsedTime = 0
	exponential.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	return backoff.WithContext(backoff.WithMaxRetries(exponential, uint64(attempts-1)), ctx)
}

// Result is the outcome of a step, fresh or replayed from its checkpoint.
type Result struct {
	Output      any
	Attempts    int
	StartedAt   time.Time
	CompletedAt time.Time
	Replayed    bool
}

// Func is the unit of work wrapped by a step.
type Func func(ctx context.Context) (any, error)

// PanicError carries a recovered panic out of a step.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("step panicked: %v", e.Value)
}

type Runner struct {
	store  Store
	policy Policy
	logger *slog.Logger
	now    func() time.Time
}

func NewRunner(store Store, policy Policy, logger *slog.Logger) *Runner {
	return &Runner{
		store:  store,
		policy: policy,
		logger: logger.With("module", "step_runner"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run returns the checkpointed result of (executionID, stepID) when one exists.
// Otherwise it invokes fn, retrying per policy, and checkpoints the first success.
// Outputs are normalized through JSON so fresh and replayed results are identical.
func (r *Runner) Run(ctx context.Context, executionID, stepID string, fn Func) (*Result, error) {
	err := validateKey(executionID, stepID)
	if err != nil {
		return nil, err
	}

	err = ctx.Err()
	if err != nil {
		return nil, err
	}

	logger := r.logger.With("execution_id", executionID, "step_id", stepID)

	checkpoint, err := r.store.GetCheckpoint(ctx, executionID, stepID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if checkpoint != nil {
		output, err := decodeOutput(checkpoint.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint output: %w", err)
		}

		logger.DebugContext(ctx, "Replaying completed step")

		return &Result{
			Output:      output,
			Attempts:    checkpoint.Attempts,
			StartedAt:   checkpoint.StartedAt,
			CompletedAt: checkpoint.CompletedAt,
			Replayed:    true,
		}, nil
	}

	startedAt := r.now()
	attempts := 0

	var output any

	operation := func() error {
		attempts++

		out, err := r.invoke(ctx, fn)
		if err != nil {
			var panicErr *PanicError
			if errors.As(err, &panicErr) || (r.policy.NonRetryable != nil && r.policy.NonRetryable(err)) {
				return backoff.Permanent(err)
			}

			return err
		}

		output = out

		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "Step failed, retrying", "attempt", attempts, "retry_in", wait, "error", err)
	}

	err = backoff.RetryNotify(operation, r.policy.backOff(ctx), notify)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("failed to encode step output: %w", err)
	}

	completedAt := r.now()

	err = r.store.SaveCheckpoint(context.WithoutCancel(ctx), &Checkpoint{
		ExecutionID: executionID,
		StepID:      stepID,
		Output:      raw,
		Attempts:    attempts,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	normalized, err := decodeOutput(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode step output: %w", err)
	}

	return &Result{
		Output:      normalized,
		Attempts:    attempts,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}, nil
}

// Forget drops every checkpoint of an execution once it can no longer be replayed.
func (r *Runner) Forget(ctx context.Context, executionID string) error {
	return r.store.DeleteCheckpoints(ctx, executionID)
}

func (r *Runner) invoke(ctx context.Context, fn Func) (output any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &PanicError{Value: recovered}
		}
	}()

	return fn(ctx)
}

func decodeOutput(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var output any

	err := json.Unmarshal(raw, &output)
	if err != nil {
		return nil, err
	}

	return output, nil
}
