package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/internal/repository"
	"github.com/sajanshree/order-api/pkg/logger"
)

// MessageHandler defines the interface for handling outbox messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, message *models.OutboxMessage) error
}

// Processor relays pending outbox messages to their handlers
type Processor struct {
	outboxRepo      repository.OutboxRepository
	handlers        map[string]MessageHandler
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	logger          logger.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	running         bool
	mu              sync.Mutex
}

// ProcessorConfig holds the configuration for the Processor
type ProcessorConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxRetries      int
}

// NewProcessor creates a new Processor
func NewProcessor(outboxRepo repository.OutboxRepository, config ProcessorConfig, logger logger.Logger) *Processor {
	if config.PollingInterval <= 0 {
		config.PollingInterval = 5 * time.Second
	}

	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}

	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}

	return &Processor{
		outboxRepo:      outboxRepo,
		handlers:        make(map[string]MessageHandler),
		pollingInterval: config.PollingInterval,
		batchSize:       config.BatchSize,
		maxRetries:      config.MaxRetries,
		logger:          logger.With("component", "outbox_processor"),
	}
}

// RegisterHandler registers a message handler for a specific event type
func (p *Processor) RegisterHandler(eventType string, handler MessageHandler) {
	p.handlers[eventType] = handler
}

// Start starts the outbox processor
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running = true
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.processOutbox()
	}()

	p.logger.Info("Outbox processor started",
		"pollingInterval", p.pollingInterval,
		"batchSize", p.batchSize)
}

// Stop stops the outbox processor
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("Outbox processor stopped")
}

func (p *Processor) processOutbox() {
	ticker := time.NewTicker(p.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(p.ctx); err != nil {
				p.logger.Error("Failed to process outbox batch", "error", err)
			}
		}
	}
}

// ProcessBatch relays one batch of pending messages and returns how many were delivered
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.pollingInterval)
	defer cancel()

	messages, err := p.outboxRepo.GetPendingMessages(ctx, p.batchSize)

	if err != nil {
		return 0, fmt.Errorf("failed to get pending messages: %w", err)
	}

	if len(messages) == 0 {
		return 0, nil
	}

	p.logger.Debug("Processing batch of outbox messages", "count", len(messages))

	delivered := 0

	for _, msg := range messages {
		if err := p.processMessage(ctx, msg); err != nil {
			p.logger.Error("Failed to process message",
				"error", err,
				"messageID", msg.ID,
				"aggregateID", msg.AggregateID,
				"eventType", msg.EventType)
			continue
		}
		delivered++
	}

	return delivered, nil
}

func (p *Processor) processMessage(ctx context.Context, msg *models.OutboxMessage) error {
	if err := p.outboxRepo.MarkAsProcessing(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message as processing: %w", err)
	}

	attempts := msg.ProcessingAttempts + 1
	handler, exists := p.handlers[msg.EventType]

	if !exists {
		errorMsg := fmt.Sprintf("no handler registered for event type: %s", msg.EventType)

		if err := p.outboxRepo.MarkAsFailed(ctx, msg.ID, errorMsg); err != nil {
			p.logger.Error("Failed to mark message as failed", "error", err, "messageID", msg.ID)
		}
		return fmt.Errorf("%s", errorMsg)
	}

	if err := handler.HandleMessage(ctx, msg); err != nil {
		if attempts >= p.maxRetries {
			errorMsg := fmt.Sprintf("max retries reached: %s", err.Error())

			if markErr := p.outboxRepo.MarkAsFailed(ctx, msg.ID, errorMsg); markErr != nil {
				p.logger.Error("Failed to mark message as failed", "error", markErr, "messageID", msg.ID)
			}
			return fmt.Errorf("message failed after %d attempts: %w", attempts, err)
		}

		if markErr := p.outboxRepo.MarkForRetry(ctx, msg.ID, err.Error()); markErr != nil {
			p.logger.Error("Failed to requeue message", "error", markErr, "messageID", msg.ID)
		}

		p.logger.Warn("Message processing failed, will retry",
			"error", err,
			"messageID", msg.ID,
			"attempt", attempts)
		return err
	}

	if err := p.outboxRepo.MarkAsCompleted(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message as completed: %w", err)
	}

	p.logger.Debug("Relayed outbox message",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType)

	return nil
}
