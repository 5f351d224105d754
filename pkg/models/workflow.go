// Package models defines the core domain models for event-triggered workflow automation
package models

import (
	"slices"
	"time"
)

// Workflow is a user-defined automation: trigger nodes and action nodes wired by edges.
type Workflow struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organizationId"       validate:"required"`
	Name           string          `json:"name"                 validate:"required,min=1"`
	Nodes          []*WorkflowNode `json:"nodes"                validate:"dive"`
	Edges          []*WorkflowEdge `json:"edges"                validate:"dive"`
	Enabled        bool            `json:"enabled"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// WorkflowEdge connects two nodes. A non-empty Condition gates traversal.
type WorkflowEdge struct {
	ID        string `json:"id"                  validate:"required"`
	Source    string `json:"source"              validate:"required"`
	Target    string `json:"target"              validate:"required"`
	Condition string `json:"condition,omitempty"`
}

// Snapshot copies the workflow for an execution record. Nodes and edges are shared, not cloned.
func (w *Workflow) Snapshot() *Workflow {
	return &Workflow{
		ID:             w.ID,
		OrganizationID: w.OrganizationID,
		Name:           w.Name,
		Nodes:          slices.Clone(w.Nodes),
		Edges:          slices.Clone(w.Edges),
		Enabled:        w.Enabled,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
}

// TriggerNodes returns the trigger nodes in declaration order.
func (w *Workflow) TriggerNodes() []*WorkflowNode {
	triggers := make([]*WorkflowNode, 0)

	for _, node := range w.Nodes {
		if node != nil && node.IsTrigger() {
			triggers = append(triggers, node)
		}
	}

	return triggers
}

// NodeByID returns the node with the given id or nil.
func (w *Workflow) NodeByID(id string) *WorkflowNode {
	for _, node := range w.Nodes {
		if node != nil && node.ID == id {
			return node
		}
	}

	return nil
}

// OutgoingEdges returns the edges leaving nodeID in declaration order.
func (w *Workflow) OutgoingEdges(nodeID string) []*WorkflowEdge {
	edges := make([]*WorkflowEdge, 0)

	for _, edge := range w.Edges {
		if edge != nil && edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}
