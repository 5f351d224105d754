package models

import (
	"encoding/json"
	"fmt"
)

// NodeConfig is the closed set of node configurations: trigger and action variants.
type NodeConfig interface {
	nodeConfig()
}

// TriggerType discriminates TriggerConfig variants.
type TriggerType string

const (
	TriggerTypeFolder    TriggerType = "folder"
	TriggerTypeChannel   TriggerType = "channel"
	TriggerTypeEventType TriggerType = "event_type"
	TriggerTypeTag       TriggerType = "tag"
)

// EventTypeAll is the wildcard accepted by event_type triggers.
const EventTypeAll = "all"

// TriggerConfig is implemented by every trigger variant.
type TriggerConfig interface {
	NodeConfig
	TriggerType() TriggerType
}

type FolderTrigger struct {
	FolderID   string   `json:"folderId"             validate:"required"`
	EventTypes []string `json:"eventTypes,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

type ChannelTrigger struct {
	ChannelID  string   `json:"channelId"            validate:"required"`
	EventTypes []string `json:"eventTypes,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

type EventTypeTrigger struct {
	EventTypes []string `json:"eventTypes"     validate:"required,min=1"`
	Tags       []string `json:"tags,omitempty"`
}

type TagTrigger struct {
	Tags []string `json:"tags" validate:"required,min=1"`
}

func (*FolderTrigger) nodeConfig()    {}
func (*ChannelTrigger) nodeConfig()   {}
func (*EventTypeTrigger) nodeConfig() {}
func (*TagTrigger) nodeConfig()       {}

func (*FolderTrigger) TriggerType() TriggerType    { return TriggerTypeFolder }
func (*ChannelTrigger) TriggerType() TriggerType   { return TriggerTypeChannel }
func (*EventTypeTrigger) TriggerType() TriggerType { return TriggerTypeEventType }
func (*TagTrigger) TriggerType() TriggerType       { return TriggerTypeTag }

// ActionType discriminates ActionConfig variants.
type ActionType string

const (
	ActionTypeSlack     ActionType = "slack"
	ActionTypeDiscord   ActionType = "discord"
	ActionTypeEmail     ActionType = "email"
	ActionTypeHTTP      ActionType = "http"
	ActionTypeCondition ActionType = "condition"
)

// ActionConfig is implemented by every action variant.
type ActionConfig interface {
	NodeConfig
	ActionType() ActionType
}

// WebhookMessage is the shared shape of chat webhook actions.
type WebhookMessage struct {
	WebhookURL      string `json:"webhookUrl"      validate:"required,url"`
	MessageTemplate string `json:"messageTemplate"`
}

type SlackAction struct {
	WebhookMessage
}

type DiscordAction struct {
	WebhookMessage
}

type EmailAction struct {
	To      string `json:"to"      validate:"required"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type HTTPAction struct {
	HTTPMethod string            `json:"httpMethod,omitempty"`
	Endpoint   string            `json:"endpoint"             validate:"required"`
	Headers    map[string]string `json:"headers,omitempty"`
	HTTPBody   string            `json:"httpBody,omitempty"`
}

type ConditionAction struct {
	Condition string `json:"condition" validate:"required"`
}

func (*SlackAction) nodeConfig()     {}
func (*DiscordAction) nodeConfig()   {}
func (*EmailAction) nodeConfig()     {}
func (*HTTPAction) nodeConfig()      {}
func (*ConditionAction) nodeConfig() {}

func (*SlackAction) ActionType() ActionType     { return ActionTypeSlack }
func (*DiscordAction) ActionType() ActionType   { return ActionTypeDiscord }
func (*EmailAction) ActionType() ActionType     { return ActionTypeEmail }
func (*HTTPAction) ActionType() ActionType      { return ActionTypeHTTP }
func (*ConditionAction) ActionType() ActionType { return ActionTypeCondition }

//nolint:ireturn
func decodeTriggerConfig(triggerType TriggerType, raw json.RawMessage) (TriggerConfig, error) {
	var cfg TriggerConfig

	switch triggerType {
	case TriggerTypeFolder:
		cfg = &FolderTrigger{}
	case TriggerTypeChannel:
		cfg = &ChannelTrigger{}
	case TriggerTypeEventType:
		cfg = &EventTypeTrigger{}
	case TriggerTypeTag:
		cfg = &TagTrigger{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTriggerType, triggerType)
	}

	err := json.Unmarshal(raw, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s trigger config: %w", triggerType, err)
	}

	return cfg, nil
}

//nolint:ireturn
func decodeActionConfig(actionType ActionType, raw json.RawMessage) (ActionConfig, error) {
	var cfg ActionConfig

	switch actionType {
	case ActionTypeSlack:
		cfg = &SlackAction{}
	case ActionTypeDiscord:
		cfg = &DiscordAction{}
	case ActionTypeEmail:
		cfg = &EmailAction{}
	case ActionTypeHTTP:
		cfg = &HTTPAction{}
	case ActionTypeCondition:
		cfg = &ConditionAction{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, actionType)
	}

	err := json.Unmarshal(raw, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s action config: %w", actionType, err)
	}

	return cfg, nil
}
