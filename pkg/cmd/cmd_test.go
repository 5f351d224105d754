package cmd

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/eventwire/pkg/models"
	"github.com/dukex/eventwire/pkg/persistence/file"
	"github.com/dukex/eventwire/pkg/step"
	"github.com/dukex/eventwire/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceProvider(t *testing.T) {
	tests := map[string]string{
		"file://./data":                       "file",
		"./data":                              "file",
		"postgres://user:pass@db:5432/app":    "postgres",
		"postgresql://user:pass@db/app":       "postgresql",
		"mongodb://localhost:27017/eventwire": "file",
	}

	for url, expected := range tests {
		t.Run(url, func(t *testing.T) {
			assert.Equal(t, expected, parsePersistenceProvider(url))
		})
	}
}

func TestNewPersistence_File(t *testing.T) {
	p, err := NewPersistence(context.Background(), slog.Default(), "file://"+t.TempDir())
	require.NoError(t, err)

	require.NoError(t, p.HealthCheck(context.Background()))
	assert.IsType(t, &file.Persistence{}, p)
}

func TestNewCheckpointStore(t *testing.T) {
	ctx := context.Background()
	p := file.NewPersistence(t.TempDir())

	store, err := NewCheckpointStore(ctx, "", p)
	require.NoError(t, err)
	assert.IsType(t, &file.CheckpointStore{}, store)

	store, err = NewCheckpointStore(ctx, "memory", p)
	require.NoError(t, err)
	assert.IsType(t, &step.MemoryStore{}, store)

	_, err = NewCheckpointStore(ctx, "etcd://localhost:2379", p)
	require.Error(t, err)
}

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus("gochannel", "", "eventwire-test", slog.Default())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewEventBus("rabbitmq", "", "eventwire-test", slog.Default())
	require.ErrorIs(t, err, ErrUnsupportedEventBus)

	assert.True(t, IsInProcessEventBus("gochannel"))
	assert.False(t, IsInProcessEventBus("kafka"))
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry(slog.Default())

	assert.Equal(t, []models.ActionType{
		models.ActionTypeCondition,
		models.ActionTypeDiscord,
		models.ActionTypeEmail,
		models.ActionTypeHTTP,
		models.ActionTypeSlack,
	}, reg.ActionTypes())
}

func TestNewRuntime(t *testing.T) {
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, slog.Default(), RuntimeConfig{
		ServiceName:        "eventwire-test",
		InstanceID:         "worker-test",
		DatabaseURL:        "file://" + t.TempDir(),
		EventBus:           "gochannel",
		CheckpointStoreURL: "memory",
		StepMaxAttempts:    2,
	})
	require.NoError(t, err)

	defer runtime.Close(ctx)

	assert.IsType(t, &step.MemoryStore{}, runtime.Checkpoints)
	assert.NotNil(t, runtime.Engine)

	w := runtime.NewWorker("worker-test", 4, "")
	require.NoError(t, w.Start(ctx))

	execution, err := runtime.Engine.Execute(ctx, testutil.CreateTestWorkflow(), models.TriggerInput{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, "worker-test", execution.LeaseOwner)

	w.Stop(ctx)
}

func TestNewRuntime_UnsupportedEventBus(t *testing.T) {
	_, err := NewRuntime(context.Background(), slog.Default(), RuntimeConfig{
		ServiceName: "eventwire-test",
		DatabaseURL: "file://" + t.TempDir(),
		EventBus:    "rabbitmq",
	})
	require.ErrorIs(t, err, ErrUnsupportedEventBus)
}
