package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/pkg/logger"
)

// Notifier is told about status changes customers care about
type Notifier interface {
	StatusChanged(ctx context.Context, change models.StatusChange) error
}

// LogNotifier writes notifications to the log
type LogNotifier struct {
	logger logger.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger logger.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// StatusChanged logs the change
func (n *LogNotifier) StatusChanged(_ context.Context, change models.StatusChange) error {
	n.logger.Info("Order status notification",
		"orderID", change.OrderID,
		"orderNumber", change.OrderNumber,
		"customer", change.CustomerName,
		"oldStatus", change.OldStatus,
		"newStatus", change.NewStatus,
		"automatic", change.Automatic)
	return nil
}

// OrderEventsHandler consumes order events from Kafka
type OrderEventsHandler struct {
	notifier Notifier
	logger   logger.Logger
}

// NewOrderEventsHandler creates a new OrderEventsHandler
func NewOrderEventsHandler(notifier Notifier, logger logger.Logger) *OrderEventsHandler {
	return &OrderEventsHandler{
		notifier: notifier,
		logger:   logger,
	}
}

// orderEvent mirrors models.OrderEvent with the data left raw for per-type decoding
type orderEvent struct {
	EventType   string          `json:"event_type"`
	EventID     string          `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	Data        json.RawMessage `json:"data"`
}

// HandleMessage handles incoming order events from Kafka messages
func (h *OrderEventsHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event orderEvent

	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error("Failed to unmarshal order event", "error", err, "offset", msg.Offset)
		// Poison messages are dropped rather than redelivered forever
		return nil
	}

	switch event.EventType {
	case models.EventOrderStatusChanged:
		return h.handleStatusChanged(ctx, event)
	case models.EventOrderCreated, models.EventOrderUpdated, models.EventOrderDeleted:
		h.logger.Debug("Order event received",
			"eventType", event.EventType,
			"eventID", event.EventID,
			"orderID", event.AggregateID)
		return nil
	default:
		h.logger.Warn("Unknown event type", "eventType", event.EventType)
		return nil
	}
}

func (h *OrderEventsHandler) handleStatusChanged(ctx context.Context, event orderEvent) error {
	var change models.StatusChange

	if err := json.Unmarshal(event.Data, &change); err != nil {
		h.logger.Error("Invalid status change data", "error", err, "eventID", event.EventID)
		return nil
	}

	if err := h.notifier.StatusChanged(ctx, change); err != nil {
		return fmt.Errorf("failed to notify status change of %s: %w", change.OrderID, err)
	}
	return nil
}
