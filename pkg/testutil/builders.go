// Package testutil provides test data builders for workflows and events.
package testutil

import (
	"github.com/dukex/eventwire/pkg/models"
	"github.com/google/uuid"
)

// TriggerNode creates a trigger node labelled with its id.
func TriggerNode(id string, config models.TriggerConfig) *models.WorkflowNode {
	return &models.WorkflowNode{ID: id, Type: models.NodeTypeTrigger, Data: models.NodeData{Label: id, Config: config}}
}

// ActionNode creates an action node labelled with its id.
func ActionNode(id string, config models.ActionConfig) *models.WorkflowNode {
	return &models.WorkflowNode{ID: id, Type: models.NodeTypeAction, Data: models.NodeData{Label: id, Config: config}}
}

// Edge connects source to target. The id is "source-target".
func Edge(source, target, condition string) *models.WorkflowEdge {
	return &models.WorkflowEdge{ID: source + "-" + target, Source: source, Target: target, Condition: condition}
}

// CreateTestWorkflow creates an enabled workflow of org-1 with a single folder trigger on f1.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	workflow := &models.Workflow{
		ID:             uuid.New().String(),
		OrganizationID: "org-1",
		Name:           "Test Workflow",
		Enabled:        true,
		Nodes: []*models.WorkflowNode{
			TriggerNode("T", &models.FolderTrigger{FolderID: "f1"}),
		},
		Edges: []*models.WorkflowEdge{},
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

func WithID(id string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.ID = id
		w.Name = "workflow " + id
	}
}

func WithOrganization(organizationID string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.OrganizationID = organizationID
	}
}

// WithNodes replaces every node, the default trigger included.
func WithNodes(nodes ...*models.WorkflowNode) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Nodes = nodes
	}
}

func WithEdges(edges ...*models.WorkflowEdge) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Edges = edges
	}
}

func WithEnabled(enabled bool) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Enabled = enabled
	}
}

// CreateTestEvent creates an event of org-1 in folder f1. Overrides run in order.
func CreateTestEvent(eventID string, overrides ...func(*models.EventData)) *models.EventData {
	event := &models.EventData{
		EventID:        eventID,
		OrganizationID: "org-1",
		FolderID:       "f1",
		Title:          "Deploy finished",
	}

	for _, override := range overrides {
		override(event)
	}

	return event
}
