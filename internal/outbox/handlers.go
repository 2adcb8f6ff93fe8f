package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/pkg/logger"
)

// LoggingHandler logs outbox messages. It stands in for a broker when Kafka is not configured.
type LoggingHandler struct {
	logger logger.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger logger.Logger) *LoggingHandler {
	return &LoggingHandler{
		logger: logger,
	}
}

// HandleMessage logs the event envelope
func (h *LoggingHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	var event models.OrderEvent

	if err := json.Unmarshal(message.Payload, &event); err != nil {
		return fmt.Errorf("failed to unmarshal outbox message: %w", err)
	}

	h.logger.Info("Order event",
		"messageID", message.ID,
		"eventType", message.EventType,
		"aggregateID", message.AggregateID,
		"eventID", event.EventID,
		"occurredAt", event.OccurredAt)

	return nil
}

// RegisterAll registers handler for every order event type
func RegisterAll(p *Processor, handler MessageHandler) {
	for _, eventType := range models.OrderEventTypes {
		p.RegisterHandler(eventType, handler)
	}
}
