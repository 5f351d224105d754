package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/eventwire/pkg/events"
	"go.opentelemetry.io/otel/propagation"
)

// WatermillEventBus carries events over a single watermill topic.
// The trace context of the publisher travels in the message metadata.
type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	propagator propagation.TextMapPropagator
	logger     *slog.Logger

	mu       sync.RWMutex
	handlers map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
		propagator: propagation.TraceContext{},
		logger:     logger.With("module", "event_bus"),
		handlers:   make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.GetType(), err)
	}

	msg := message.NewMessage(eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))
	msg.SetContext(ctx)

	eb.propagator.Inject(ctx, propagation.MapCarrier(msg.Metadata))

	return eb.publisher.Publish(events.Topic, msg)
}

// Subscribe starts delivering messages to the registered handlers in a background goroutine.
// Messages of unhandled types are acked and dropped, as are messages that cannot be decoded.
// A handler error nacks the message so the broker redelivers it.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			if eb.deliver(msg) {
				msg.Ack()
			} else {
				msg.Nack()
			}
		}
	}()

	return nil
}

func (eb *WatermillEventBus) deliver(msg *message.Message) bool {
	ctx := eb.propagator.Extract(msg.Context(), propagation.MapCarrier(msg.Metadata))
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	eb.mu.RLock()
	handler, exists := eb.handlers[eventType]
	eb.mu.RUnlock()

	if !exists {
		return true
	}

	logger := eb.logger.With("event_type", eventType, "message_id", msg.UUID)

	event := events.New(eventType)
	if event == nil {
		logger.ErrorContext(ctx, "Dropping message of unknown event type")

		return true
	}

	err := json.Unmarshal(msg.Payload, event)
	if err != nil {
		logger.ErrorContext(ctx, "Dropping undecodable message", "error", err)

		return true
	}

	err = handler(ctx, event)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to handle event", "error", err)

		return false
	}

	return true
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	return errors.Join(eb.publisher.Close(), eb.subscriber.Close())
}
