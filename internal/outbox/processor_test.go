package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/internal/repository"
	"github.com/sajanshree/order-api/pkg/kafka"
	"github.com/sajanshree/order-api/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu    sync.Mutex
	err   error
	calls []int64
}

func (h *recordingHandler) HandleMessage(_ context.Context, msg *models.OutboxMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls = append(h.calls, msg.ID)
	return h.err
}

func seedOrder(t *testing.T, mem *repository.MemoryStore) *models.Order {
	t.Helper()

	order := models.NewOrder(time.Now().UTC())
	order.OrderID = models.NewOrderNumber(order.CreatedAt)

	event, err := models.NewOrderCreatedEvent(order)
	require.NoError(t, err)
	require.NoError(t, mem.Repositories().Orders.Create(context.Background(), order, event))
	return order
}

func statusOf(t *testing.T, mem *repository.MemoryStore, id int64) models.OutboxMessage {
	t.Helper()

	for _, msg := range mem.OutboxMessages() {
		if msg.ID == id {
			return msg
		}
	}
	t.Fatalf("outbox message %d not found", id)
	return models.OutboxMessage{}
}

func TestProcessBatchDeliversInOrder(t *testing.T) {
	t.Parallel()

	mem := repository.NewMemoryStore()
	seedOrder(t, mem)
	seedOrder(t, mem)

	handler := &recordingHandler{}
	p := NewProcessor(mem.Repositories().Outbox, ProcessorConfig{}, logger.NewNop())
	RegisterAll(p, handler)

	delivered, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, []int64{1, 2}, handler.calls)

	for _, msg := range mem.OutboxMessages() {
		assert.Equal(t, models.OutboxStatusCompleted, msg.Status)
		assert.NotNil(t, msg.ProcessedAt)
	}

	delivered, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestProcessBatchRetriesThenFails(t *testing.T) {
	t.Parallel()

	mem := repository.NewMemoryStore()
	seedOrder(t, mem)

	handler := &recordingHandler{err: errors.New("broker unavailable")}
	p := NewProcessor(mem.Repositories().Outbox, ProcessorConfig{MaxRetries: 2}, logger.NewNop())
	RegisterAll(p, handler)

	_, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)

	msg := statusOf(t, mem, 1)
	assert.Equal(t, models.OutboxStatusPending, msg.Status)
	assert.Equal(t, 1, msg.ProcessingAttempts)
	require.NotNil(t, msg.LastError)
	assert.Contains(t, *msg.LastError, "broker unavailable")

	_, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)

	msg = statusOf(t, mem, 1)
	assert.Equal(t, models.OutboxStatusFailed, msg.Status)
	assert.Equal(t, 2, msg.ProcessingAttempts)

	failed, err := mem.Repositories().Outbox.GetFailedMessages(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestProcessBatchWithoutHandlerFails(t *testing.T) {
	t.Parallel()

	mem := repository.NewMemoryStore()
	seedOrder(t, mem)

	p := NewProcessor(mem.Repositories().Outbox, ProcessorConfig{}, logger.NewNop())

	delivered, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.Equal(t, models.OutboxStatusFailed, statusOf(t, mem, 1).Status)
}

func TestKafkaHandlerPublishesKeyedByOrder(t *testing.T) {
	t.Parallel()

	mem := repository.NewMemoryStore()
	order := seedOrder(t, mem)

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event models.OrderEvent

		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}

		if event.EventType != models.EventOrderCreated || event.AggregateID != order.ID {
			return errors.New("unexpected event")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	handler := NewKafkaHandler(kafka.NewProducerFromSync(producer, logger.NewNop()), "orders", logger.NewNop())

	msg := statusOf(t, mem, 1)
	require.NoError(t, handler.HandleMessage(context.Background(), &msg))

	err := handler.HandleMessage(context.Background(), &msg)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	require.NoError(t, producer.Close())
}

func TestLoggingHandlerRejectsGarbage(t *testing.T) {
	t.Parallel()

	h := NewLoggingHandler(logger.NewNop())

	assert.Error(t, h.HandleMessage(context.Background(), &models.OutboxMessage{Payload: []byte("{")}))
	assert.NoError(t, h.HandleMessage(context.Background(), &models.OutboxMessage{Payload: []byte(`{"event_type":"order_created"}`)}))
}

func TestProcessorStartStop(t *testing.T) {
	t.Parallel()

	mem := repository.NewMemoryStore()
	seedOrder(t, mem)

	handler := &recordingHandler{}
	p := NewProcessor(mem.Repositories().Outbox, ProcessorConfig{PollingInterval: 10 * time.Millisecond}, logger.NewNop())
	RegisterAll(p, handler)

	p.Start()
	p.Start()

	assert.Eventually(t, func() bool {
		return statusOf(t, mem, 1).Status == models.OutboxStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	p.Stop()
	p.Stop()
}
