package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/eventwire/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		workflowErr := persistence.NewWorkflowError("GetByID", "workflow-123", persistence.ErrWorkflowNotFound)
		executionErr := persistence.NewExecutionError("UpdateExecution", "exec-1", persistence.ErrExecutionNotFound)

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.False(t, persistence.IsExecutionNotFound(workflowErr))
		assert.True(t, persistence.IsExecutionNotFound(executionErr))

		assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", executionErr), persistence.ErrExecutionNotFound))
	})

	t.Run("errors contain context", func(t *testing.T) {
		err := persistence.NewWorkflowError("Save", "workflow-123", persistence.ErrWorkflowNotFound)

		assert.Contains(t, err.Error(), "Save")
		assert.Contains(t, err.Error(), "workflow-123")
		assert.Contains(t, err.Error(), "workflow not found")

		execErr := persistence.NewExecutionError("GetExecution", "exec-9", errors.New("disk full"))
		assert.Equal(t, "GetExecution operation failed for execution exec-9: disk full", execErr.Error())
	})
}

func TestValidateID(t *testing.T) {
	t.Parallel()

	assert.NoError(t, persistence.ValidateID("0190c7d2-7c11-7a6b-9f7e-4c3a1d2b3c4d"))
	assert.ErrorIs(t, persistence.ValidateID(""), persistence.ErrInvalidID)
	assert.ErrorIs(t, persistence.ValidateID("../secrets"), persistence.ErrInvalidID)
	assert.ErrorIs(t, persistence.ValidateID("a/b"), persistence.ErrInvalidID)
	assert.ErrorIs(t, persistence.ValidateID(`a\b`), persistence.ErrInvalidID)
}
