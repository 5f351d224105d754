package registry

import "github.com/dukex/eventwire/pkg/models"

func stringList(minItems int) map[string]any {
	schema := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}

	if minItems > 0 {
		schema["minItems"] = minItems
	}

	return schema
}

// TriggerSchema returns the JSON schema for a trigger variant, or nil when unknown.
func TriggerSchema(triggerType models.TriggerType) map[string]any {
	switch triggerType {
	case models.TriggerTypeFolder:
		return map[string]any{
			"type":     "object",
			"required": []any{"folderId"},
			"properties": map[string]any{
				"folderId":   map[string]any{"type": "string", "minLength": 1},
				"eventTypes": stringList(0),
				"tags":       stringList(0),
			},
		}
	case models.TriggerTypeChannel:
		return map[string]any{
			"type":     "object",
			"required": []any{"channelId"},
			"properties": map[string]any{
				"channelId":  map[string]any{"type": "string", "minLength": 1},
				"eventTypes": stringList(0),
				"tags":       stringList(0),
			},
		}
	case models.TriggerTypeEventType:
		return map[string]any{
			"type":     "object",
			"required": []any{"eventTypes"},
			"properties": map[string]any{
				"eventTypes": stringList(1),
				"tags":       stringList(0),
			},
		}
	case models.TriggerTypeTag:
		return map[string]any{
			"type":     "object",
			"required": []any{"tags"},
			"properties": map[string]any{
				"tags": stringList(1),
			},
		}
	default:
		return nil
	}
}
