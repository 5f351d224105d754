// Package web provides HTTP request and response types for the eventwire API.
package web

import "github.com/dukex/eventwire/pkg/models"

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	OrganizationID string                 `json:"organizationId" validate:"required"`
	Name           string                 `json:"name"           validate:"required,min=1"`
	Nodes          []*models.WorkflowNode `json:"nodes"          validate:"dive,required"`
	Edges          []*models.WorkflowEdge `json:"edges"          validate:"dive,required"`
	Enabled        *bool                  `json:"enabled,omitempty"`
}

// UpdateWorkflowRequest represents the request body for updating an existing workflow.
// All fields are optional; the organization of a workflow never changes.
type UpdateWorkflowRequest struct {
	Name    *string                `json:"name,omitempty"    validate:"omitempty,min=1"`
	Nodes   []*models.WorkflowNode `json:"nodes,omitempty"   validate:"omitempty,dive,required"`
	Edges   []*models.WorkflowEdge `json:"edges,omitempty"   validate:"omitempty,dive,required"`
	Enabled *bool                  `json:"enabled,omitempty"`
}

// RunWorkflowRequest is the body of a manual run. TriggerInput is exposed to the workflow as "trigger".
type RunWorkflowRequest struct {
	TriggerInput map[string]any `json:"triggerInput"`
}

// RunWorkflowResponse identifies the queued execution of a manual run.
type RunWorkflowResponse struct {
	ExecutionID string                 `json:"executionId"`
	WorkflowID  string                 `json:"workflowId"`
	Status      models.ExecutionStatus `json:"status"`
}

// IngestEventResponse acknowledges an event accepted for matching.
type IngestEventResponse struct {
	EventID string `json:"eventId"`
}

// ToWorkflow builds the workflow described by a create request. Workflows are enabled unless stated otherwise.
func (r CreateWorkflowRequest) ToWorkflow() *models.Workflow {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}

	return &models.Workflow{
		OrganizationID: r.OrganizationID,
		Name:           r.Name,
		Nodes:          nonNilNodes(r.Nodes),
		Edges:          nonNilEdges(r.Edges),
		Enabled:        enabled,
	}
}

// Apply merges the fields present in the request into workflow.
func (r UpdateWorkflowRequest) Apply(workflow *models.Workflow) {
	if r.Name != nil {
		workflow.Name = *r.Name
	}

	if r.Nodes != nil {
		workflow.Nodes = r.Nodes
	}

	if r.Edges != nil {
		workflow.Edges = r.Edges
	}

	if r.Enabled != nil {
		workflow.Enabled = *r.Enabled
	}
}

func nonNilNodes(nodes []*models.WorkflowNode) []*models.WorkflowNode {
	if nodes == nil {
		return []*models.WorkflowNode{}
	}

	return nodes
}

func nonNilEdges(edges []*models.WorkflowEdge) []*models.WorkflowEdge {
	if edges == nil {
		return []*models.WorkflowEdge{}
	}

	return edges
}
