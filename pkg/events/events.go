// Package events defines the messages exchanged between the API and the worker over the event bus.
package events

import (
	"time"

	"github.com/dukex/eventwire/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "eventwire.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Inbound.
	EventIngestedEvent        EventType = "event.ingested"
	WorkflowRunRequestedEvent EventType = "workflow.run.requested"

	// Execution lifecycle.
	ExecutionFinishedEvent EventType = "execution.finished"
	ExecutionFailedEvent   EventType = "execution.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EventIngested carries an application event to the trigger matcher.
type EventIngested struct {
	BaseEvent

	Event models.EventData `json:"event"`
}

func (e EventIngested) GetType() EventType {
	return EventIngestedEvent
}

// WorkflowRunRequested asks a worker to run an execution record created by a manual trigger.
type WorkflowRunRequested struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
}

func (e WorkflowRunRequested) GetType() EventType {
	return WorkflowRunRequestedEvent
}

type ExecutionFinished struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	Error       string        `json:"error"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// New returns an empty event of the given type for decoding, or nil for unknown types.
func New(eventType EventType) any {
	switch eventType {
	case EventIngestedEvent:
		return &EventIngested{}
	case WorkflowRunRequestedEvent:
		return &WorkflowRunRequested{}
	case ExecutionFinishedEvent:
		return &ExecutionFinished{}
	case ExecutionFailedEvent:
		return &ExecutionFailed{}
	default:
		return nil
	}
}
