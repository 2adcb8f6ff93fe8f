package models

import (
	"encoding/json"
	"time"
)

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusCompleted  OutboxStatus = "completed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// Order event types published through the outbox
const (
	EventOrderCreated       = "order_created"
	EventOrderUpdated       = "order_updated"
	EventOrderDeleted       = "order_deleted"
	EventOrderStatusChanged = "order_status_changed"
)

// OrderEventTypes lists every event the order service emits
var OrderEventTypes = []string{
	EventOrderCreated,
	EventOrderUpdated,
	EventOrderDeleted,
	EventOrderStatusChanged,
}

// OutboxMessage is an event stored alongside the order write, published later
type OutboxMessage struct {
	ID                 int64        `db:"id" json:"id" bson:"seq"`
	AggregateType      string       `db:"aggregate_type" json:"aggregate_type" bson:"aggregateType"`
	AggregateID        string       `db:"aggregate_id" json:"aggregate_id" bson:"aggregateId"`
	EventType          string       `db:"event_type" json:"event_type" bson:"eventType"`
	Payload            []byte       `db:"payload" json:"payload" bson:"payload"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at" bson:"createdAt"`
	ProcessedAt        *time.Time   `db:"processed_at" json:"processed_at,omitempty" bson:"processedAt,omitempty"`
	ProcessingAttempts int          `db:"processing_attempts" json:"processing_attempts" bson:"processingAttempts"`
	LastError          *string      `db:"last_error" json:"last_error,omitempty" bson:"lastError,omitempty"`
	Status             OutboxStatus `db:"status" json:"status" bson:"status"`
}

// OrderEvent is the envelope written into OutboxMessage.Payload
type OrderEvent struct {
	EventType   string      `json:"event_type"`
	EventID     string      `json:"event_id"`
	AggregateID string      `json:"aggregate_id"`
	OccurredAt  time.Time   `json:"occurred_at"`
	Data        interface{} `json:"data"`
}

// StatusChange is the data of an order_status_changed event
type StatusChange struct {
	OrderID      string      `json:"id"`
	OrderNumber  string      `json:"order_id"`
	CustomerName string      `json:"customer_name"`
	OldStatus    OrderStatus `json:"old_status"`
	NewStatus    OrderStatus `json:"new_status"`
	Automatic    bool        `json:"automatic"`
}

func newOrderMessage(eventType, orderID string, data interface{}, at time.Time) (*OutboxMessage, error) {
	event := OrderEvent{
		EventType:   eventType,
		EventID:     GenerateEventID("evt"),
		AggregateID: orderID,
		OccurredAt:  at,
		Data:        data,
	}

	payload, err := json.Marshal(event)

	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     at,
		Status:        OutboxStatusPending,
	}, nil
}

// NewOrderCreatedEvent creates a new order created event
func NewOrderCreatedEvent(order *Order) (*OutboxMessage, error) {
	return newOrderMessage(EventOrderCreated, order.ID, order, order.CreatedAt)
}

// NewOrderUpdatedEvent creates a new order updated event
func NewOrderUpdatedEvent(order *Order) (*OutboxMessage, error) {
	return newOrderMessage(EventOrderUpdated, order.ID, order, order.UpdatedAt)
}

// NewOrderDeletedEvent records the removal of an order
func NewOrderDeletedEvent(order *Order, at time.Time) (*OutboxMessage, error) {
	return newOrderMessage(EventOrderDeleted, order.ID, map[string]string{
		"id":       order.ID,
		"order_id": order.OrderID,
	}, at)
}

// NewOrderStatusChangedEvent creates a new event for order status change
func NewOrderStatusChangedEvent(order *Order, oldStatus OrderStatus, automatic bool) (*OutboxMessage, error) {
	return newOrderMessage(EventOrderStatusChanged, order.ID, StatusChange{
		OrderID:      order.ID,
		OrderNumber:  order.OrderID,
		CustomerName: order.CustomerName,
		OldStatus:    oldStatus,
		NewStatus:    order.Status,
		Automatic:    automatic,
	}, order.UpdatedAt)
}
