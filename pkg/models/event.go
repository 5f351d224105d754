package models

// EventData is an application event as delivered by the ingestion pipeline.
type EventData struct {
	EventID        string         `json:"eventId"               validate:"required"`
	ChannelID      string         `json:"channelId"`
	FolderID       string         `json:"folderId"`
	OrganizationID string         `json:"organizationId"        validate:"required"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// TriggerInput is the free-form payload a run starts with.
type TriggerInput map[string]any

// TriggerInput builds the payload exposed to workflows as "trigger".
func (e *EventData) TriggerInput() TriggerInput {
	tags := make([]any, 0, len(e.Tags))
	for _, tag := range e.Tags {
		tags = append(tags, tag)
	}

	metadata := e.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return TriggerInput{
		"eventId":          e.EventID,
		"eventTitle":       e.Title,
		"eventDescription": e.Description,
		"channelId":        e.ChannelID,
		"folderId":         e.FolderID,
		"organizationId":   e.OrganizationID,
		"tags":             tags,
		"metadata":         metadata,
	}
}

func (e *EventData) TriggeredBy() TriggeredBy {
	return TriggeredBy{
		EventID:    e.EventID,
		ChannelID:  e.ChannelID,
		FolderID:   e.FolderID,
		EventTitle: e.Title,
	}
}

// TriggeredBy extracts the event identity from a trigger payload, if present.
func (t TriggerInput) TriggeredBy() TriggeredBy {
	return TriggeredBy{
		EventID:    t.str("eventId"),
		ChannelID:  t.str("channelId"),
		FolderID:   t.str("folderId"),
		EventTitle: t.str("eventTitle"),
	}
}

func (t TriggerInput) str(key string) string {
	value, ok := t[key].(string)
	if !ok {
		return ""
	}

	return value
}
