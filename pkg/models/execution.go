package models

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending ExecutionStatus = "pending"
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusError   ExecutionStatus = "error"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusError
}

// TriggeredBy identifies the event that started an execution.
type TriggeredBy struct {
	EventID    string `json:"eventId"`
	ChannelID  string `json:"channelId"`
	FolderID   string `json:"folderId"`
	EventTitle string `json:"eventTitle"`
}

// WorkflowExecution is the persistent record of one run of a workflow.
type WorkflowExecution struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflowId"`
	Status       ExecutionStatus `json:"status"`
	TriggeredBy  TriggeredBy     `json:"triggeredBy"`
	TriggerInput TriggerInput    `json:"triggerInput,omitempty"`

	// Workflow is the graph as it was when the execution was created. Runs walk this copy.
	Workflow *Workflow `json:"workflow,omitempty"`

	// IdempotencyKey is unique across executions when set.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	Logs        []NodeExecutionLog `json:"logs"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"startedAt"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
	UpdatedAt   time.Time          `json:"updatedAt"`

	// LeaseOwner runs the execution until LeaseUntil. An expired lease may be claimed by anyone.
	LeaseOwner string     `json:"leaseOwner,omitempty"`
	LeaseUntil *time.Time `json:"leaseUntil,omitempty"`
}

// EventIdempotencyKey identifies the execution of workflowID started by eventID.
func EventIdempotencyKey(eventID, workflowID string) string {
	return "event:" + eventID + ":workflow:" + workflowID
}

// LeaseHeld reports whether a lease on the execution is still live at now.
func (e *WorkflowExecution) LeaseHeld(now time.Time) bool {
	return e.LeaseUntil != nil && e.LeaseUntil.After(now)
}

// Claimable reports whether a runner may take the execution over at now.
func (e *WorkflowExecution) Claimable(now time.Time) bool {
	return !e.Status.IsTerminal() && !e.LeaseHeld(now)
}

// LastUpdate is the time of the latest write to the record.
func (e *WorkflowExecution) LastUpdate() time.Time {
	if e.UpdatedAt.IsZero() {
		return e.StartedAt
	}

	return e.UpdatedAt
}

// NodeExecutionLog records one node visit in traversal order.
type NodeExecutionLog struct {
	NodeID      string     `json:"nodeId"`
	NodeName    string     `json:"nodeName"`
	Status      NodeStatus `json:"status"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ExecutionPatch is a partial update of an execution record. Nil fields are left untouched.
type ExecutionPatch struct {
	Status      *ExecutionStatus
	Logs        []NodeExecutionLog
	Error       *string
	CompletedAt *time.Time
	LeaseUntil  *time.Time

	// Owner fences the update: when set, it is refused unless the record is leased to Owner.
	Owner string
}

// Apply merges the patch into the execution.
func (e *WorkflowExecution) Apply(patch ExecutionPatch) {
	if patch.Status != nil {
		e.Status = *patch.Status
	}

	if patch.Logs != nil {
		e.Logs = append([]NodeExecutionLog(nil), patch.Logs...)
	}

	if patch.Error != nil {
		e.Error = *patch.Error
	}

	if patch.CompletedAt != nil {
		completedAt := *patch.CompletedAt
		e.CompletedAt = &completedAt
	}

	if patch.LeaseUntil != nil {
		leaseUntil := *patch.LeaseUntil
		e.LeaseUntil = &leaseUntil
	}
}

// ExecutionContext is the data visible to templates and conditions during a run.
type ExecutionContext struct {
	Trigger TriggerInput
	Outputs map[string]any
}

// NewExecutionContext creates an execution context with an empty output map.
func NewExecutionContext(trigger TriggerInput) *ExecutionContext {
	if trigger == nil {
		trigger = TriggerInput{}
	}

	return &ExecutionContext{
		Trigger: trigger,
		Outputs: make(map[string]any),
	}
}

// AsMap exposes the context as {trigger, outputs} for lookups.
func (c *ExecutionContext) AsMap() map[string]any {
	return map[string]any{
		"trigger": map[string]any(c.Trigger),
		"outputs": c.Outputs,
	}
}
