package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	changes []models.StatusChange
	err     error
}

func (n *captureNotifier) StatusChanged(_ context.Context, change models.StatusChange) error {
	n.changes = append(n.changes, change)
	return n.err
}

func statusChangedMessage(t *testing.T) *sarama.ConsumerMessage {
	t.Helper()

	order := models.NewOrder(time.Now().UTC())
	order.OrderID = "ORD-1-abcdefghi"
	order.CustomerName = "Asha"
	order.Status = models.OrderStatusProcessing

	msg, err := models.NewOrderStatusChangedEvent(order, models.OrderStatusPending, true)
	require.NoError(t, err)

	return &sarama.ConsumerMessage{Topic: "orders", Value: msg.Payload}
}

func TestHandleStatusChangedNotifies(t *testing.T) {
	t.Parallel()

	notifier := &captureNotifier{}
	h := NewOrderEventsHandler(notifier, logger.NewNop())

	require.NoError(t, h.HandleMessage(context.Background(), statusChangedMessage(t)))
	require.Len(t, notifier.changes, 1)

	change := notifier.changes[0]
	assert.Equal(t, "ORD-1-abcdefghi", change.OrderNumber)
	assert.Equal(t, models.OrderStatusPending, change.OldStatus)
	assert.Equal(t, models.OrderStatusProcessing, change.NewStatus)
	assert.True(t, change.Automatic)
}

func TestHandleNotifierFailureIsReturned(t *testing.T) {
	t.Parallel()

	notifier := &captureNotifier{err: errors.New("sms gateway down")}
	h := NewOrderEventsHandler(notifier, logger.NewNop())

	assert.Error(t, h.HandleMessage(context.Background(), statusChangedMessage(t)))
}

func TestHandleDropsPoisonAndOtherEvents(t *testing.T) {
	t.Parallel()

	notifier := &captureNotifier{}
	h := NewOrderEventsHandler(notifier, logger.NewNop())

	for _, value := range []string{"not json", `{"event_type":"order_created","data":{}}`, `{"event_type":"mystery"}`} {
		assert.NoError(t, h.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte(value)}), value)
	}
	assert.Empty(t, notifier.changes)
}
