package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/sajanshree/order-api/pkg/logger"
)

// Publisher sends keyed messages to a topic
type Publisher interface {
	SendMessage(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
	Close() error
}

// ProducerConfig holds the producer settings
type ProducerConfig struct {
	Brokers  []string
	ClientID string
	MaxRetry int
	Timeout  time.Duration
}

// Producer is a wrapper around the Sarama sync producer
type Producer struct {
	producer sarama.SyncProducer
	logger   logger.Logger
}

// NewProducer creates a new Kafka producer that waits for all in-sync replicas
func NewProducer(cfg ProducerConfig, logger logger.Logger) (*Producer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Retry.Max = 10
	saramaCfg.Producer.Retry.Backoff = 500 * time.Millisecond
	saramaCfg.Producer.Timeout = 5 * time.Second
	saramaCfg.Producer.Idempotent = true
	saramaCfg.Net.MaxOpenRequests = 1
	saramaCfg.Version = sarama.V2_1_0_0

	if cfg.ClientID != "" {
		saramaCfg.ClientID = cfg.ClientID
	}

	if cfg.MaxRetry > 0 {
		saramaCfg.Producer.Retry.Max = cfg.MaxRetry
	}

	if cfg.Timeout > 0 {
		saramaCfg.Producer.Timeout = cfg.Timeout
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)

	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	logger.Info("Kafka producer connected", "brokers", cfg.Brokers)
	return NewProducerFromSync(producer, logger), nil
}

// NewProducerFromSync wraps an existing sync producer
func NewProducerFromSync(producer sarama.SyncProducer, logger logger.Logger) *Producer {
	return &Producer{
		producer: producer,
		logger:   logger,
	}
}

// SendMessage sends a message to the specified topic. Headers carry event metadata.
func (p *Producer) SendMessage(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now().UTC(),
	}

	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	partition, offset, err := p.producer.SendMessage(msg)

	if err != nil {
		p.logger.Error("Failed to send message to Kafka",
			"error", err,
			"topic", topic,
			"key", key)
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	p.logger.Debug("Message sent to Kafka",
		"topic", topic,
		"key", key,
		"partition", partition,
		"offset", offset)

	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.producer.Close()
}
