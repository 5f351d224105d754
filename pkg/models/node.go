package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// NodeType is the role of a node in the graph.
type NodeType string

const (
	NodeTypeTrigger NodeType = "trigger"
	NodeTypeAction  NodeType = "action"
)

// NodeStatus defines the possible states of a node execution.
type NodeStatus string

const (
	NodeStatusPending NodeStatus = "pending"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusError   NodeStatus = "error"
)

var (
	ErrUnknownTriggerType = errors.New("unknown trigger type")
	ErrUnknownActionType  = errors.New("unknown action type")
)

// Position is the editor canvas location of a node. It has no runtime meaning.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// WorkflowNode represents a node instance in a workflow.
type WorkflowNode struct {
	ID       string   `json:"id"       validate:"required"`
	Type     NodeType `json:"type"     validate:"required,oneof=trigger action"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// NodeData holds the display fields and the typed configuration of a node.
type NodeData struct {
	Label       string     `json:"label"`
	Description string     `json:"description,omitempty"`
	Config      NodeConfig `json:"config"`
}

func (n *WorkflowNode) IsTrigger() bool {
	return n.Type == NodeTypeTrigger
}

func (n *WorkflowNode) IsAction() bool {
	return n.Type == NodeTypeAction
}

// Name is the label used in execution logs, falling back to the node id.
func (n *WorkflowNode) Name() string {
	if n.Data.Label != "" {
		return n.Data.Label
	}

	return n.ID
}

// TriggerConfig returns the node's trigger configuration if it carries one.
//
//nolint:ireturn
func (n *WorkflowNode) TriggerConfig() (TriggerConfig, bool) {
	cfg, ok := n.Data.Config.(TriggerConfig)

	return cfg, ok
}

// ActionConfig returns the node's action configuration if it carries one.
//
//nolint:ireturn
func (n *WorkflowNode) ActionConfig() (ActionConfig, bool) {
	cfg, ok := n.Data.Config.(ActionConfig)

	return cfg, ok
}

type nodeDataJSON struct {
	Label       string          `json:"label"`
	Description string          `json:"description,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// MarshalJSON writes the config with its triggerType / actionType discriminant.
func (d NodeData) MarshalJSON() ([]byte, error) {
	out := nodeDataJSON{Label: d.Label, Description: d.Description}

	switch cfg := d.Config.(type) {
	case nil:
	case TriggerConfig:
		raw, err := withDiscriminant(cfg, "triggerType", string(cfg.TriggerType()))
		if err != nil {
			return nil, err
		}

		out.Config = raw
	case ActionConfig:
		raw, err := withDiscriminant(cfg, "actionType", string(cfg.ActionType()))
		if err != nil {
			return nil, err
		}

		out.Config = raw
	default:
		return nil, fmt.Errorf("unsupported node config %T", d.Config)
	}

	return json.Marshal(out)
}

// UnmarshalJSON decodes the config variant selected by its discriminant.
func (d *NodeData) UnmarshalJSON(data []byte) error {
	var in nodeDataJSON

	err := json.Unmarshal(data, &in)
	if err != nil {
		return err
	}

	d.Label = in.Label
	d.Description = in.Description
	d.Config = nil

	if len(in.Config) == 0 || string(in.Config) == "null" {
		return nil
	}

	var probe struct {
		TriggerType TriggerType `json:"triggerType"`
		ActionType  ActionType  `json:"actionType"`
	}

	err = json.Unmarshal(in.Config, &probe)
	if err != nil {
		return fmt.Errorf("failed to decode node config: %w", err)
	}

	switch {
	case probe.TriggerType != "":
		cfg, err := decodeTriggerConfig(probe.TriggerType, in.Config)
		if err != nil {
			return err
		}

		d.Config = cfg
	case probe.ActionType != "":
		cfg, err := decodeActionConfig(probe.ActionType, in.Config)
		if err != nil {
			return err
		}

		d.Config = cfg
	default:
		return errors.New("node config has neither triggerType nor actionType")
	}

	return nil
}

func withDiscriminant(cfg any, key, value string) (json.RawMessage, error) {
	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]json.RawMessage)

	err = json.Unmarshal(body, &fields)
	if err != nil {
		return nil, err
	}

	discriminant, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	fields[key] = discriminant

	return json.Marshal(fields)
}
