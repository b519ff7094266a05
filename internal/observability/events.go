package observability

import (
	"context"

	"go.uber.org/zap"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// EventPublisher is the broker side of Events.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// Events publishes operational envelopes to the broker. Failures are counted
// and logged, never returned.
type Events struct {
	publisher EventPublisher
	logger    *zap.Logger
}

func NewEvents(publisher EventPublisher, logger *zap.Logger) *Events {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Events{publisher: publisher, logger: logger}
}

func (e *Events) Publish(ctx context.Context, routingKey string, envelope EventEnvelope, headers map[string]string) {
	if e == nil || e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, routingKey, envelope, headers); err != nil {
		IncAMQPPublishError()
		e.logger.Warn("event publish failed",
			zap.String("routing_key", routingKey),
			zap.String("event_name", envelope.EventName),
			zap.Error(err),
		)
	}
}
