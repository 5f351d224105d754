package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/eventwire/pkg/actions/condition"
	"github.com/dukex/eventwire/pkg/actions/httpcall"
	"github.com/dukex/eventwire/pkg/actions/webhookmessage"
	"github.com/dukex/eventwire/pkg/models"
	"github.com/dukex/eventwire/pkg/persistence"
	"github.com/dukex/eventwire/pkg/persistence/file"
	"github.com/dukex/eventwire/pkg/protocol"
	"github.com/dukex/eventwire/pkg/registry"
	"github.com/dukex/eventwire/pkg/step"
	"github.com/dukex/eventwire/pkg/testutil"
	"github.com/dukex/eventwire/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcHandler adapts a function into an action handler for a given type.
type funcHandler struct {
	actionType models.ActionType
	fn         func(ctx context.Context, execCtx *models.ExecutionContext) (any, error)
}

func (h *funcHandler) Type() models.ActionType { return h.actionType }

func (h *funcHandler) Name() string { return "func" }

func (h *funcHandler) Schema() map[string]any { return nil }

func (h *funcHandler) Execute(ctx context.Context, _ models.ActionConfig, execCtx *models.ExecutionContext) (any, error) {
	return h.fn(ctx, execCtx)
}

type testEnv struct {
	engine      *workflow.Engine
	persistence *file.Persistence
	checkpoints *step.MemoryStore
	registry    *registry.Registry
}

// newEngine builds another engine over the same stores, as a second process would.
func (env *testEnv) newEngine(opts ...workflow.EngineOption) *workflow.Engine {
	logger := slog.Default()

	policy := workflow.StepPolicy(3)
	policy.InitialInterval = time.Millisecond
	policy.MaxInterval = time.Millisecond

	return workflow.NewEngine(
		env.persistence.WorkflowRepository(),
		env.persistence.ExecutionRepository(),
		env.registry,
		step.NewRunner(env.checkpoints, policy, logger),
		logger,
		opts...,
	)
}

func newTestEnv(t *testing.T, handlers ...protocol.ActionHandler) *testEnv {
	t.Helper()

	return newTestEnvWithOptions(t, handlers, nil)
}

func newTestEnvWithOptions(t *testing.T, handlers []protocol.ActionHandler, opts []workflow.EngineOption) *testEnv {
	t.Helper()

	reg := registry.NewRegistry(slog.Default())
	for _, handler := range handlers {
		reg.Register(handler)
	}

	env := &testEnv{
		persistence: file.NewPersistence(t.TempDir()),
		checkpoints: step.NewMemoryStore(),
		registry:    reg,
	}
	env.engine = env.newEngine(opts...)

	return env
}

func (env *testEnv) save(t *testing.T, wf *models.Workflow) *models.Workflow {
	t.Helper()

	require.NoError(t, env.persistence.WorkflowRepository().Save(context.Background(), wf))

	return wf
}

func newWorkflow(id string, nodes []*models.WorkflowNode, edges []*models.WorkflowEdge) *models.Workflow {
	return testutil.CreateTestWorkflow(testutil.WithID(id), testutil.WithNodes(nodes...), testutil.WithEdges(edges...))
}

func nodeIDs(logs []models.NodeExecutionLog) []string {
	ids := make([]string, 0, len(logs))
	for _, log := range logs {
		ids = append(ids, log.NodeID)
	}

	return ids
}

func TestEngine_Execute_LinearWorkflow(t *testing.T) {
	var seen []string

	handler := &funcHandler{actionType: models.ActionTypeEmail, fn: func(_ context.Context, execCtx *models.ExecutionContext) (any, error) {
		seen = append(seen, execCtx.Trigger["eventTitle"].(string))

		return map[string]any{"count": 2}, nil
	}}

	env := newTestEnv(t, handler)
	wf := env.save(t, newWorkflow("wf-linear",
		[]*models.WorkflowNode{
			testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"}),
			testutil.ActionNode("A", &models.EmailAction{To: "ops@example.com"}),
		},
		[]*models.WorkflowEdge{testutil.Edge("T", "A", "")},
	))

	execution, err := env.engine.Execute(context.Background(), wf, models.TriggerInput{"eventTitle": "Deploy finished", "eventId": "e1"})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Empty(t, execution.Error)
	assert.NotNil(t, execution.CompletedAt)
	assert.Equal(t, "e1", execution.TriggeredBy.EventID)
	assert.Equal(t, []string{"Deploy finished"}, seen)
	assert.Equal(t, []string{"T", "A"}, nodeIDs(execution.Logs))

	for _, log := range execution.Logs {
		assert.Equal(t, models.NodeStatusSuccess, log.Status)
		assert.NotNil(t, log.CompletedAt)
	}

	assert.Equal(t, map[string]any{"count": float64(2)}, execution.Logs[1].Output)

	stored, err := env.persistence.ExecutionRepository().GetExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, stored.Status)
	assert.Len(t, stored.Logs, 2)

	checkpoint, err := env.checkpoints.GetCheckpoint(context.Background(), execution.ID, "A#1")
	require.NoError(t, err)
	assert.Nil(t, checkpoint, "checkpoints are dropped once the execution completes")
}

func TestEngine_Execute_ConditionalEdgePruned(t *testing.T) {
	var bCalls atomic.Int32

	a := &funcHandler{actionType: models.ActionTypeHTTP, fn: func(context.Context, *models.ExecutionContext) (any, error) {
		return map[string]any{"result": 1}, nil
	}}
	b := &funcHandler{actionType: models.ActionTypeEmail, fn: func(context.Context, *models.ExecutionContext) (any, error) {
		bCalls.Add(1)

		return "sent", nil
	}}

	env := newTestEnv(t, a, b)
	wf := env.save(t, newWorkflow("wf-pruned",
		[]*models.WorkflowNode{
			testutil.TriggerNode("T", &models.TagTrigger{Tags: []string{"urgent"}}),
			testutil.ActionNode("A", &models.HTTPAction{Endpoint: "https://example.com"}),
			testutil.ActionNode("B", &models.EmailAction{To: "ops@example.com"}),
		},
		[]*models.WorkflowEdge{testutil.Edge("T", "A", ""), testutil.Edge("A", "B", "outputs.A.result == 0")},
	))

	execution, err := env.engine.Execute(context.Background(), wf, models.TriggerInput{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, []string{"T", "A"}, nodeIDs(execution.Logs))
	assert.Zero(t, bCalls.Load())
}

func TestEngine_Execute_ConditionNodeGatesBranch(t *testing.T) {
	var notified atomic.Int32

	notify := &funcHandler{actionType: models.ActionTypeEmail, fn: func(context.Context, *models.ExecutionContext) (any, error) {
		notified.Add(1)

		return "sent", nil
	}}

	env := newTestEnv(t, condition.New(slog.Default()), notify)
	wf := env.save(t, newWorkflow("wf-condition",
		[]*models.WorkflowNode{
			testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"}),
			testutil.ActionNode("check", &models.ConditionAction{Condition: `trigger.eventTitle == "Deploy failed"`}),
			testutil.ActionNode("onFalse", &models.EmailAction{To: "ops@example.com"}),
			testutil.ActionNode("onTrue", &models.EmailAction{To: "oncall@example.com"}),
		},
		[]*models.WorkflowEdge{
			testutil.Edge("T", "check", ""),
			testutil.Edge("check", "onFalse", "outputs.check.result == 0"),
			testutil.Edge("check", "onTrue", "outputs.check.result == 1"),
		},
	))

	execution, err := env.engine.Execute(context.Background(), wf, models.TriggerInput{"eventTitle": "Deploy finished"})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, []string{"T", "check", "onFalse"}, nodeIDs(execution.Logs))
	assert.Equal(t, int32(1), notified.Load())
}

type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.calls.Add(1)

	return nil, errors.New("transport must not be reached")
}

func TestEngine_Execute_BlocksInternalAddress(t *testing.T) {
	transport := &countingTransport{}
	handler := httpcall.New(slog.Default(), httpcall.WithClient(&http.Client{Transport: transport}))

	env := newTestEnv(t, handler)
	wf := env.save(t, newWorkflow("wf-ssrf",
		[]*models.WorkflowNode{
			testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"}),
			testutil.ActionNode("fetch", &models.HTTPAction{HTTPMethod: "GET", Endpoint: "http://169.254.169.254/latest/meta-data"}),
		},
		[]*models.WorkflowEdge{testutil.Edge("T", "fetch", "")},
	))

	execution, err := env.engine.Execute(context.Background(), wf, models.TriggerInput{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusError, execution.Status)
	assert.Contains(t, execution.Error, "request to internal address blocked")
	assert.Zero(t, transport.calls.Load())

	require.Len(t, execution.Logs, 2)
	assert.Equal(t, models.NodeStatusError, execution.Logs[1].Status)
	assert.Contains(t, execution.Logs[1].Error, "169.254.169.254")
}

func TestEngine_Execute_SlackEndToEnd(t *testing.T) {
	var (
		mu       sync.Mutex
		received map[string]string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	env := newTestEnv(t, webhookmessage.NewSlack(slog.Default(), server.Client()))
	wf := env.save(t, newWorkflow("wf-slack",
		[]*models.WorkflowNode{
			testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"}),
			testutil.ActionNode("slack", &models.SlackAction{WebhookMessage: models.WebhookMessage{
				WebhookURL:      server.URL,
				MessageTemplate: "{{trigger.eventTitle}}",
			}}),
		},
		[]*models.WorkflowEdge{testutil.Edge("T", "slack", "")},
	))

	event := &models.EventData{EventID: "e1", FolderID: "f1", OrganizationID: "org-1", Title: "Deploy finished"}

	execution, err := env.engine.Execute(context.Background(), wf, event.TriggerInput())
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, map[string]string{"text": "Deploy finished"}, received)
}

func TestEngine_Resume_ReplaysCompletedSteps(t *testing.T) {
	var aCalls, bCalls atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := &funcHandler{actionType: models.ActionTypeHTTP, fn: func(context.Context, *models.ExecutionContext) (any, error) {
		aCalls.Add(1)
		cancel()

		return map[string]any{"result": 1}, nil
	}}
	b := &funcHandler{actionType: models.ActionTypeEmail, fn: func(_ context.Context, execCtx *models.ExecutionContext) (any, error) {
		bCalls.Add(1)

		return execCtx.Outputs["A"], nil
	}}

	env := newTestEnv(t, a, b)
	wf := env.save(t, newWorkflow("wf-resume",
		[]*models.WorkflowNode{
			testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"}),
			testutil.ActionNode("A", &models.HTTPAction{Endpoint: "https://example.com"}),
			testutil.ActionNode("B", &models.EmailAction{To: "ops@example.com"}),
		},
		[]*models.WorkflowEdge{testutil.Edge("T", "A", ""), testutil.Edge("A", "B", "")},
	))

	interrupted, err := env.engine.Execute(ctx, wf, models.TriggerInput{})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, interrupted)
	assert.Equal(t, models.ExecutionStatusRunning, interrupted.Status)
	assert.Equal(t, int32(1), aCalls.Load())
	assert.Zero(t, bCalls.Load())

	resumed, err := env.engine.Resume(context.Background(), interrupted.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, resumed.Status)
	assert.Equal(t, int32(1), aCalls.Load(), "completed step must not run again")
	assert.Equal(t, int32(1), bCalls.Load())
	assert.Equal(t, []string{"T", "A", "B"}, nodeIDs(resumed.Logs))
	assert.Equal(t, map[string]any{"result": float64(1)}, resumed.Logs[2].Output)

	again, err := env.engine.Resume(context.Background(), interrupted.ID)
	require.NoError(t, err)
	assert.Equal(t, resumed.Status, again.Status)
	assert.Equal(t, int32(1), bCalls.Load(), "terminal executions are not run again")
}

func TestEngine_Execute_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32

	handler := &funcHandler{actionType: models.ActionTypeHTTP, fn: func(context.Context, *models.ExecutionContext) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("connection reset")
		}

		return "ok", nil
	}}

	env := newTestEnv(t, handler)
	wf := env.save(t, newWorkflow("wf-retry",
		[]*models.WorkflowNode{
			testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"}),
			testutil.ActionNode("A", &models.HTTPAction{Endpoint: "https://example.com"}),
		},
		[]*models.WorkflowEdge{testutil.Edge("T", "A", "")},
	))

	execution, err := env.engine.Execute(context.Background(), wf, models.TriggerInput{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEngine_Execute_NodeFailureStopsExecution(t *testing.T) {
	var downstream atomic.Int32

	failing := &funcHandler{actionType: models.ActionTypeHTTP, fn: func(context.Context, *models.ExecutionContext) (any, error) {
		return nil, errors.New("upstream unavailable")
	}}
	next := &funcHandler{actionType: models.ActionTypeEmail, fn: func(context.Context, *models.ExecutionContext) (any, error) {
		downstream.Add(1)

		return nil, nil
	}}

	env := newTestEnv(t, failing, next)
	wf := env.save(t, newWorkflow("wf-fail",
		[]*models.WorkflowNode{
			testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"}),
			testutil.ActionNode("A", &models.HTTPAction{Endpoint: "https://example.com"}),
			testutil.ActionNode("B", &models.EmailAction{To: "ops@example.com"}),
		},
		[]*models.WorkflowEdge{testutil.Edge("T", "A", ""), testutil.Edge("A", "B", "")},
	))

	execution, err := env.engine.Execute(context.Background(), wf, models.TriggerInput{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusError, execution.Status)
	assert.Equal(t, "upstream unavailable", execution.Error)
	assert.Zero(t, downstream.Load())
	assert.Equal(t, []string{"T", "A"}, nodeIDs(execution.Logs))
}

func TestEngine_Execute_PanicIsRecorded(t *testing.T) {
	var calls atomic.Int32

	handler := &funcHandler{actionType: models.ActionTypeHTTP, fn: func(context.Context, *models.ExecutionContext) (any, error) {
		calls.Add(1)
		panic("boom")
	}}

	env := newTestEnv(t, handler)
	wf := env.save(t, newWorkflow("wf-panic",
		[]*models.WorkflowNode{
			testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"}),
			testutil.ActionNode("A", &models.HTTPAction{Endpoint: "https://example.com"}),
		},
		[]*models.WorkflowEdge{testutil.Edge("T", "A", "")},
	))

	execution, err := env.engine.Execute(context.Background(), wf, models.TriggerInput{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusError, execution.Status)
	assert.Equal(t, "step panicked: boom", execution.Error)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEngine_Execute_UnregisteredAction(t *testing.T) {
	env := newTestEnv(t)
	wf := env.save(t, newWorkflow("wf-unregistered",
		[]*models.WorkflowNode{
			testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"}),
			testutil.ActionNode("A", &models.DiscordAction{}),
		},
		[]*models.WorkflowEdge{testutil.Edge("T", "A", "")},
	))

	execution, err := env.engine.Execute(context.Background(), wf, models.TriggerInput{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusError, execution.Status)
	assert.Contains(t, execution.Error, "action type not registered")
}

func TestEngine_Execute_CycleIsRecorded(t *testing.T) {
	var calls atomic.Int32

	handler := &funcHandler{actionType: models.ActionTypeEmail, fn: func(context.Context, *models.ExecutionContext) (any, error) {
		calls.Add(1)

		return nil, nil
	}}

	env := newTestEnv(t, handler)
	wf := env.save(t, newWorkflow("wf-cycle",
		[]*models.WorkflowNode{
			testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"}),
			testutil.ActionNode("A", &models.EmailAction{To: "a@example.com"}),
			testutil.ActionNode("B", &models.EmailAction{To: "b@example.com"}),
		},
		[]*models.WorkflowEdge{testutil.Edge("T", "A", ""), testutil.Edge("A", "B", ""), testutil.Edge("B", "A", "")},
	))

	execution, err := env.engine.Execute(context.Background(), wf, models.TriggerInput{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusError, execution.Status)
	assert.Contains(t, execution.Error, "cycle")
	assert.Equal(t, int32(2), calls.Load())
}

func TestEngine_Execute_DiamondRunsOncePerPath(t *testing.T) {
	var joins atomic.Int32

	noop := &funcHandler{actionType: models.ActionTypeHTTP, fn: func(context.Context, *models.ExecutionContext) (any, error) {
		return "ok", nil
	}}
	join := &funcHandler{actionType: models.ActionTypeEmail, fn: func(context.Context, *models.ExecutionContext) (any, error) {
		joins.Add(1)

		return "ok", nil
	}}

	env := newTestEnv(t, noop, join)
	wf := env.save(t, newWorkflow("wf-diamond",
		[]*models.WorkflowNode{
			testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"}),
			testutil.ActionNode("L", &models.HTTPAction{Endpoint: "https://example.com/l"}),
			testutil.ActionNode("R", &models.HTTPAction{Endpoint: "https://example.com/r"}),
			testutil.ActionNode("J", &models.EmailAction{To: "ops@example.com"}),
		},
		[]*models.WorkflowEdge{testutil.Edge("T", "L", ""), testutil.Edge("T", "R", ""), testutil.Edge("L", "J", ""), testutil.Edge("R", "J", "")},
	))

	execution, err := env.engine.Execute(context.Background(), wf, models.TriggerInput{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, []string{"T", "L", "J", "R", "J"}, nodeIDs(execution.Logs))
	assert.Equal(t, int32(2), joins.Load())
}

func TestEngine_Execute_SkipsDanglingEdges(t *testing.T) {
	env := newTestEnv(t)
	wf := env.save(t, newWorkflow("wf-dangling",
		[]*models.WorkflowNode{testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"})},
		[]*models.WorkflowEdge{testutil.Edge("T", "ghost", "")},
	))

	execution, err := env.engine.Execute(context.Background(), wf, models.TriggerInput{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, []string{"T"}, nodeIDs(execution.Logs))
}

func TestEngine_Start_RejectsStructuralErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	noTrigger := env.save(t, newWorkflow("wf-no-trigger",
		[]*models.WorkflowNode{testutil.ActionNode("A", &models.EmailAction{To: "ops@example.com"})},
		nil,
	))

	_, err := env.engine.Execute(ctx, noTrigger, models.TriggerInput{})
	require.ErrorIs(t, err, workflow.ErrWorkflowNoTrigger)
	assert.True(t, workflow.IsStructural(err))

	executions, err := env.persistence.ExecutionRepository().ListExecutionsByWorkflow(ctx, noTrigger.ID)
	require.NoError(t, err)
	assert.Empty(t, executions)

	_, err = env.engine.Execute(ctx, nil, models.TriggerInput{})
	require.ErrorIs(t, err, workflow.ErrWorkflowNotFound)

	disabled := newWorkflow("wf-disabled", []*models.WorkflowNode{testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"})}, nil)
	disabled.Enabled = false
	env.save(t, disabled)

	_, err = env.engine.Start(ctx, disabled, models.TriggerInput{}, workflow.StartQueued)
	require.ErrorIs(t, err, workflow.ErrWorkflowDisabled)
}

func TestEngine_StartQueued_ThenRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	wf := env.save(t, newWorkflow("wf-queued", []*models.WorkflowNode{testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"})}, nil))

	pending, err := env.engine.Start(ctx, wf, nil, workflow.StartQueued)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, pending.Status)
	assert.NotNil(t, pending.TriggerInput)

	execution, err := env.engine.Run(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
}

func TestEngine_Run_UnknownExecution(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Run(context.Background(), "missing")
	require.ErrorIs(t, err, workflow.ErrExecutionNotFound)
}

func TestEngine_Run_DeletedWorkflowStillRunsSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	wf := env.save(t, newWorkflow("wf-deleted", []*models.WorkflowNode{testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"})}, nil))

	pending, err := env.engine.Start(ctx, wf, nil, workflow.StartQueued)
	require.NoError(t, err)

	require.NoError(t, env.persistence.WorkflowRepository().Delete(ctx, wf.ID))

	execution, err := env.engine.Run(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, []string{"T"}, nodeIDs(execution.Logs))
}

func TestEngine_Run_RecordWithoutSnapshotUsesStoredWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	executions := env.persistence.ExecutionRepository()

	env.save(t, newWorkflow("wf-stored", []*models.WorkflowNode{testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"})}, nil))

	stored := &models.WorkflowExecution{ID: "legacy", WorkflowID: "wf-stored", Status: models.ExecutionStatusPending, StartedAt: time.Now().UTC()}
	require.NoError(t, executions.CreateExecution(ctx, stored))

	execution, err := env.engine.Run(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)

	orphan := &models.WorkflowExecution{ID: "orphan", WorkflowID: "wf-gone", Status: models.ExecutionStatusPending, StartedAt: time.Now().UTC()}
	require.NoError(t, executions.CreateExecution(ctx, orphan))

	execution, err = env.engine.Run(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusError, execution.Status)
	assert.Contains(t, execution.Error, "workflow not found")
}

func TestEngine_Execute_UnsavedWorkflow(t *testing.T) {
	var calls atomic.Int32

	handler := &funcHandler{actionType: models.ActionTypeEmail, fn: func(context.Context, *models.ExecutionContext) (any, error) {
		calls.Add(1)

		return "sent", nil
	}}

	env := newTestEnv(t, handler)
	wf := newWorkflow("wf-unsaved",
		[]*models.WorkflowNode{
			testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"}),
			testutil.ActionNode("A", &models.EmailAction{To: "ops@example.com"}),
		},
		[]*models.WorkflowEdge{testutil.Edge("T", "A", "")},
	)

	execution, err := env.engine.Execute(context.Background(), wf, models.TriggerInput{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, []string{"T", "A"}, nodeIDs(execution.Logs))
	assert.Equal(t, int32(1), calls.Load())
}

func TestEngine_Run_WalksGraphCapturedAtStart(t *testing.T) {
	var aCalls, bCalls atomic.Int32

	a := &funcHandler{actionType: models.ActionTypeEmail, fn: func(context.Context, *models.ExecutionContext) (any, error) {
		aCalls.Add(1)

		return "a", nil
	}}
	b := &funcHandler{actionType: models.ActionTypeHTTP, fn: func(context.Context, *models.ExecutionContext) (any, error) {
		bCalls.Add(1)

		return "b", nil
	}}

	env := newTestEnv(t, a, b)
	ctx := context.Background()

	env.save(t, newWorkflow("wf-edited", []*models.WorkflowNode{testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"})}, nil))

	matched := newWorkflow("wf-edited",
		[]*models.WorkflowNode{
			testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"}),
			testutil.ActionNode("A", &models.EmailAction{To: "ops@example.com"}),
		},
		[]*models.WorkflowEdge{testutil.Edge("T", "A", "")},
	)

	pending, err := env.engine.Start(ctx, matched, nil, workflow.StartQueued)
	require.NoError(t, err)

	env.save(t, newWorkflow("wf-edited",
		[]*models.WorkflowNode{
			testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"}),
			testutil.ActionNode("B", &models.HTTPAction{Endpoint: "https://example.com"}),
		},
		[]*models.WorkflowEdge{testutil.Edge("T", "B", "")},
	))

	execution, err := env.engine.Run(ctx, pending.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, []string{"T", "A"}, nodeIDs(execution.Logs))
	assert.Equal(t, int32(1), aCalls.Load())
	assert.Zero(t, bCalls.Load(), "edits after the start do not affect the run")
}

func TestEngine_Run_RefusesExecutionLeasedElsewhere(t *testing.T) {
	var calls atomic.Int32

	handler := &funcHandler{actionType: models.ActionTypeEmail, fn: func(context.Context, *models.ExecutionContext) (any, error) {
		calls.Add(1)

		return nil, nil
	}}

	env := newTestEnv(t, handler)
	ctx := context.Background()
	executions := env.persistence.ExecutionRepository()

	wf := newWorkflow("wf-leased",
		[]*models.WorkflowNode{
			testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"}),
			testutil.ActionNode("A", &models.EmailAction{To: "ops@example.com"}),
		},
		[]*models.WorkflowEdge{testutil.Edge("T", "A", "")},
	)

	pending, err := env.engine.Start(ctx, wf, nil, workflow.StartQueued)
	require.NoError(t, err)

	_, claimed, err := executions.ClaimExecution(ctx, pending.ID, "other-worker", time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	execution, err := env.engine.Run(ctx, pending.ID)
	require.ErrorIs(t, err, workflow.ErrExecutionClaimed)
	require.NotNil(t, execution)
	assert.Equal(t, "other-worker", execution.LeaseOwner)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Zero(t, calls.Load())
}

func TestEngine_Run_StopsWritingAfterLeaseLoss(t *testing.T) {
	ctx := context.Background()

	var executionID string

	env := newTestEnv(t)
	executions := env.persistence.ExecutionRepository()

	takeover := &funcHandler{actionType: models.ActionTypeEmail, fn: func(ctx context.Context, _ *models.ExecutionContext) (any, error) {
		expired := time.Now().UTC().Add(-time.Second)

		_, err := executions.UpdateExecution(ctx, executionID, models.ExecutionPatch{Owner: "worker-1", LeaseUntil: &expired})
		if err != nil {
			return nil, err
		}

		_, claimed, err := executions.ClaimExecution(ctx, executionID, "worker-2", time.Now().UTC().Add(time.Minute))
		if err != nil || !claimed {
			return nil, errors.New("takeover failed")
		}

		return "sent", nil
	}}
	env.registry.Register(takeover)

	engine := env.newEngine(workflow.WithOwner("worker-1"))

	wf := newWorkflow("wf-takeover",
		[]*models.WorkflowNode{
			testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"}),
			testutil.ActionNode("A", &models.EmailAction{To: "ops@example.com"}),
		},
		[]*models.WorkflowEdge{testutil.Edge("T", "A", "")},
	)

	pending, err := engine.Start(ctx, wf, nil, workflow.StartQueued)
	require.NoError(t, err)

	executionID = pending.ID

	_, err = engine.Run(ctx, pending.ID)
	require.ErrorIs(t, err, persistence.ErrExecutionLeaseLost)

	stored, err := executions.GetExecution(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, "worker-2", stored.LeaseOwner)
	assert.Equal(t, models.ExecutionStatusRunning, stored.Status, "the stale runner must not finish the record")
}

func TestEngine_Execute_SameEventStartsWorkflowOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	wf := newWorkflow("wf-once", []*models.WorkflowNode{testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"})}, nil)
	input := testutil.CreateTestEvent("ev-1").TriggerInput()

	first, err := env.engine.Execute(ctx, wf, input)
	require.NoError(t, err)
	assert.Equal(t, models.EventIdempotencyKey("ev-1", wf.ID), first.IdempotencyKey)

	_, err = env.engine.Execute(ctx, wf, input)
	require.ErrorIs(t, err, workflow.ErrDuplicateExecution)

	manual, err := env.engine.Start(ctx, wf, input, workflow.StartQueued)
	require.NoError(t, err, "manual runs are never deduplicated")
	assert.Empty(t, manual.IdempotencyKey)

	executions, err := env.persistence.ExecutionRepository().ListExecutionsByWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Len(t, executions, 2)
}

func TestEngine_CompletionHook(t *testing.T) {
	var finished []*models.WorkflowExecution

	hook := func(_ context.Context, execution *models.WorkflowExecution) {
		finished = append(finished, execution)
	}

	env := newTestEnvWithOptions(t, nil, []workflow.EngineOption{workflow.WithCompletionHook(hook)})
	wf := env.save(t, newWorkflow("wf-hook", []*models.WorkflowNode{testutil.TriggerNode("T", &models.FolderTrigger{FolderID: "f1"})}, nil))

	execution, err := env.engine.Execute(context.Background(), wf, models.TriggerInput{})
	require.NoError(t, err)

	require.Len(t, finished, 1)
	assert.Equal(t, execution.ID, finished[0].ID)
	assert.Equal(t, models.ExecutionStatusSuccess, finished[0].Status)
}
