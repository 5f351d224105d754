package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/eventwire/pkg/eventbus"
	"github.com/dukex/eventwire/pkg/events"
	"github.com/dukex/eventwire/pkg/models"
	"github.com/dukex/eventwire/pkg/persistence"
	"github.com/dukex/eventwire/pkg/registry"
	"github.com/dukex/eventwire/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	persistence persistence.Persistence
	engine      *workflow.Engine
	eventBus    eventbus.EventPublisher
	validator   *validator.Validate
	registry    *registry.Registry
	logger      *slog.Logger
}

func NewAPIHandlers(
	persistence persistence.Persistence,
	engine *workflow.Engine,
	eventBus eventbus.EventPublisher,
	validator *validator.Validate,
	registry *registry.Registry,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		persistence: persistence,
		engine:      engine,
		eventBus:    eventBus,
		validator:   validator,
		registry:    registry,
		logger:      logger.With("module", "api_handlers"),
	}
}

// Register mounts every endpoint on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Post("/events", h.IngestEvent)

	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Patch("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/runs", h.RunWorkflow)
	w.Get("/:id/executions", h.GetWorkflowExecutions)

	router.Get("/executions/:id", h.GetExecution)
	router.Get("/health", h.HealthCheck)
}

// IngestEvent accepts an application event and hands it to the workers for matching.
// The response does not wait for any workflow to run.
func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	var event models.EventData
	if err := c.Bind().JSON(&event); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(event); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.eventBus.Publish(c.Context(), event.OrganizationID, events.EventIngested{
		BaseEvent: events.NewBaseEvent(events.EventIngestedEvent, ""),
		Event:     event,
	})
	if err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to publish ingested event", "event_id", event.EventID, "error", err)

		return internalError(c, fmt.Errorf("failed to enqueue event: %w", err))
	}

	return c.Status(fiber.StatusAccepted).JSON(IngestEventResponse{EventID: event.EventID})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.persistence.WorkflowRepository().List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.fetchWorkflow(c)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := req.ToWorkflow()

	err := h.validateGraph(workflow)
	if err != nil {
		return handleError(c, err)
	}

	err = h.persistence.WorkflowRepository().Save(c.Context(), workflow)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.fetchWorkflow(c)
	if err != nil {
		return handleError(c, err)
	}

	req.Apply(existing)

	err = h.validateGraph(existing)
	if err != nil {
		return handleError(c, err)
	}

	err = h.persistence.WorkflowRepository().Save(c.Context(), existing)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(existing)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	workflow, err := h.fetchWorkflow(c)
	if err != nil {
		return handleError(c, err)
	}

	err = h.persistence.WorkflowRepository().Delete(c.Context(), workflow.ID)
	if err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// RunWorkflow queues a manual run and returns its execution id at once.
// A worker picks the run up from the event bus; if publishing fails the
// pending record is resumed later by the recovery sweep.
func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	var req RunWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	wf, err := h.fetchWorkflow(c)
	if err != nil {
		return handleError(c, err)
	}

	execution, err := h.engine.Start(c.Context(), wf, req.TriggerInput, workflow.StartQueued)
	if err != nil {
		return handleError(c, err)
	}

	err = h.eventBus.Publish(c.Context(), execution.ID, events.WorkflowRunRequested{
		BaseEvent:   events.NewBaseEvent(events.WorkflowRunRequestedEvent, wf.ID),
		ExecutionID: execution.ID,
	})
	if err != nil {
		h.logger.WarnContext(c.Context(), "Failed to publish run request, leaving it to recovery",
			"execution_id", execution.ID,
			"error", err,
		)
	}

	return c.Status(fiber.StatusAccepted).JSON(RunWorkflowResponse{
		ExecutionID: execution.ID,
		WorkflowID:  wf.ID,
		Status:      execution.Status,
	})
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	id := c.Params("id")

	err := persistence.ValidateID(id)
	if err != nil {
		return handleError(c, err)
	}

	executions, err := h.persistence.ExecutionRepository().ListExecutionsByWorkflow(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":  executions,
		"total_count": len(executions),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")

	err := persistence.ValidateID(id)
	if err != nil {
		return handleError(c, err)
	}

	execution, err := h.persistence.ExecutionRepository().GetExecution(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	if execution == nil {
		return notFound(c, "Execution not found")
	}

	return c.JSON(execution)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "eventwire API is healthy"
	httpStatus := http.StatusOK
	persistenceCheck := "ok"

	err := h.persistence.HealthCheck(c.Context())
	if err != nil {
		status = "unhealthy"
		message = "eventwire API is unhealthy"
		httpStatus = http.StatusServiceUnavailable
		persistenceCheck = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"persistence": persistenceCheck,
			"actions":     h.registry.ActionTypes(),
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) fetchWorkflow(c fiber.Ctx) (*models.Workflow, error) {
	id := c.Params("id")

	err := persistence.ValidateID(id)
	if err != nil {
		return nil, err
	}

	workflow, err := h.persistence.WorkflowRepository().GetByID(c.Context(), id)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

// validateGraph checks every node config against its schema. Triggers are required only to run,
// so drafts without one are accepted.
func (h *APIHandlers) validateGraph(workflow *models.Workflow) error {
	for _, node := range workflow.Nodes {
		err := h.registry.ValidateNode(node)
		if err != nil {
			return err
		}
	}

	return nil
}
