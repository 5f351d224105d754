package workflow

import (
	"context"
	"log/slog"
	"slices"

	"github.com/dukex/eventwire/pkg/expression"
	"github.com/dukex/eventwire/pkg/models"
	"github.com/dukex/eventwire/pkg/otelhelper"
	"github.com/dukex/eventwire/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Submitter accepts matched workflows for asynchronous execution.
type Submitter interface {
	Submit(ctx context.Context, workflow *models.Workflow, input models.TriggerInput)
}

// Matcher decides which workflows an event fires.
type Matcher struct {
	workflows persistence.WorkflowRepository
	submitter Submitter
	logger    *slog.Logger
	tracer    trace.Tracer
}

func NewMatcher(workflows persistence.WorkflowRepository, submitter Submitter, logger *slog.Logger) *Matcher {
	return &Matcher{
		workflows: workflows,
		submitter: submitter,
		logger:    logger.With("module", "trigger_matcher"),
		tracer:    otelhelper.Tracer("eventwire"),
	}
}

// Match returns the enabled workflows of the event's organization with at least one matching trigger.
func (m *Matcher) Match(ctx context.Context, event *models.EventData) ([]*models.Workflow, error) {
	workflows, err := m.workflows.ListEnabledWorkflows(ctx, event.OrganizationID)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Workflow, 0)

	for _, workflow := range workflows {
		if WorkflowMatches(workflow, event) {
			matched = append(matched, workflow)
		}
	}

	return matched, nil
}

// MatchAndExecute submits every matching workflow for execution and returns without waiting.
// Lookup failures are logged; they never reach the caller.
func (m *Matcher) MatchAndExecute(ctx context.Context, event *models.EventData) {
	logger := m.logger.With("event_id", event.EventID, "organization_id", event.OrganizationID)

	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "workflow.match",
		attribute.String(otelhelper.EventIDKey, event.EventID),
		attribute.String(otelhelper.OrganizationIDKey, event.OrganizationID),
	)
	defer span.End()

	matched, err := m.Match(ctx, event)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to match event against workflows", "error", err)
		otelhelper.SetError(span, err)

		return
	}

	span.SetAttributes(attribute.Int(otelhelper.MatchCountKey, len(matched)))
	logger.InfoContext(ctx, "Event matched workflows", "matches", len(matched))

	for _, workflow := range matched {
		m.submitter.Submit(ctx, workflow, event.TriggerInput())
	}
}

// WorkflowMatches reports whether any trigger node of workflow accepts the event.
func WorkflowMatches(workflow *models.Workflow, event *models.EventData) bool {
	for _, node := range workflow.TriggerNodes() {
		config, ok := node.TriggerConfig()
		if ok && TriggerMatches(config, event) {
			return true
		}
	}

	return false
}

// TriggerMatches evaluates one trigger predicate against an event.
func TriggerMatches(trigger models.TriggerConfig, event *models.EventData) bool {
	switch config := trigger.(type) {
	case *models.FolderTrigger:
		return config.FolderID != "" && config.FolderID == event.FolderID && tagRule(config.Tags, event.Tags)
	case *models.ChannelTrigger:
		return config.ChannelID != "" && config.ChannelID == event.ChannelID && tagRule(config.Tags, event.Tags)
	case *models.EventTypeTrigger:
		// Events carry no type yet, so only the wildcard can match.
		return slices.Contains(config.EventTypes, models.EventTypeAll) && tagRule(config.Tags, event.Tags)
	case *models.TagTrigger:
		return len(config.Tags) > 0 && intersects(config.Tags, event.Tags)
	default:
		return false
	}
}

// tagRule passes when the trigger has no tags or shares at least one with the event.
func tagRule(triggerTags, eventTags []string) bool {
	return len(triggerTags) == 0 || intersects(triggerTags, eventTags)
}

func intersects(a, b []string) bool {
	for _, tag := range a {
		if slices.Contains(b, tag) {
			return true
		}
	}

	return false
}

func expressionTrue(ctx context.Context, logger *slog.Logger, condition string, execCtx *models.ExecutionContext) bool {
	return expression.EvaluateOrFalse(ctx, logger, condition, execCtx.AsMap())
}
