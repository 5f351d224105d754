package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/eventwire/pkg/persistence"
	"github.com/dukex/eventwire/pkg/step"
)

// CheckpointTTL bounds how long Redis keeps the checkpoints of an execution that never completes.
const CheckpointTTL = 7 * 24 * time.Hour

// NewCheckpointStore selects where step checkpoints live. An empty URL keeps them next to the
// executions in the configured persistence.
//
//nolint:ireturn
func NewCheckpointStore(ctx context.Context, checkpointURL string, p persistence.Persistence) (step.Store, error) {
	switch {
	case checkpointURL == "":
		return p.CheckpointStore(), nil
	case checkpointURL == "memory":
		return step.NewMemoryStore(), nil
	case strings.HasPrefix(checkpointURL, "redis://"), strings.HasPrefix(checkpointURL, "rediss://"):
		store, err := step.NewRedisStore(ctx, checkpointURL, CheckpointTTL)
		if err != nil {
			return nil, err
		}

		return store, nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint store %q", checkpointURL)
	}
}
