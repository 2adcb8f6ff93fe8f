package outbox

import (
	"context"
	"fmt"

	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/pkg/kafka"
	"github.com/sajanshree/order-api/pkg/logger"
)

// Record headers set on every published order event
const (
	HeaderEventType = "event_type"
	HeaderMessageID = "outbox_id"
)

// KafkaHandler publishes outbox messages to Kafka
type KafkaHandler struct {
	logger   logger.Logger
	producer kafka.Publisher
	topic    string
}

// NewKafkaHandler creates a new KafkaHandler
func NewKafkaHandler(producer kafka.Publisher, topic string, logger logger.Logger) *KafkaHandler {
	return &KafkaHandler{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// HandleMessage publishes the payload keyed by order id so events of one order stay ordered
func (h *KafkaHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	headers := map[string]string{
		HeaderEventType: message.EventType,
		HeaderMessageID: fmt.Sprint(message.ID),
	}

	if err := h.producer.SendMessage(ctx, h.topic, message.AggregateID, message.Payload, headers); err != nil {
		return fmt.Errorf("failed to publish message to Kafka: %w", err)
	}

	h.logger.Debug("Published order event",
		"topic", h.topic,
		"messageID", message.ID,
		"aggregateID", message.AggregateID,
		"eventType", message.EventType)

	return nil
}
