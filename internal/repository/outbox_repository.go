package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sajanshree/order-api/internal/database"
	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/pkg/logger"
)

// PostgresOutboxRepository handles database operations for outbox messages
type PostgresOutboxRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewOutboxRepository creates a new PostgresOutboxRepository
func NewOutboxRepository(db *database.Database, logger logger.Logger) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{
		db:     db,
		logger: logger,
	}
}

// CreateInTx creates a new outbox message within a transaction. A nil message is a no-op.
func (r *PostgresOutboxRepository) CreateInTx(ctx context.Context, tx *sqlx.Tx, message *models.OutboxMessage) error {
	if message == nil {
		return nil
	}

	query := `
		INSERT INTO outbox_messages (
			aggregate_type, aggregate_id, event_type, payload,
			created_at, status
		) VALUES (
			$1, $2, $3, $4, $5, $6
		) RETURNING id
	`

	var id int64

	err := tx.QueryRowContext(
		ctx,
		query,
		message.AggregateType,
		message.AggregateID,
		message.EventType,
		message.Payload,
		message.CreatedAt,
		message.Status,
	).Scan(&id)

	if err != nil {
		return fmt.Errorf("failed to create outbox message in transaction: %w", err)
	}

	message.ID = id
	return nil
}

// GetPendingMessages retrieves pending outbox messages from the database
func (r *PostgresOutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload,
			   created_at, processed_at, processing_attempts, last_error, status
		FROM outbox_messages
		WHERE status = $1
		ORDER BY id ASC
		LIMIT $2
	`

	var messages []*models.OutboxMessage

	err := r.db.DB.SelectContext(ctx, &messages, query, models.OutboxStatusPending, limit)

	if err != nil {
		r.logger.Error("Failed to get pending outbox messages", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return messages, nil
}

func (r *PostgresOutboxRepository) exec(ctx context.Context, op string, id int64, query string, args ...interface{}) error {
	_, err := r.db.DB.ExecContext(ctx, query, args...)

	if err != nil {
		r.logger.Error("Failed to "+op+" outbox message", "error", err, "message_id", id)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}

// MarkAsProcessing updates the status of an outbox message to processing
func (r *PostgresOutboxRepository) MarkAsProcessing(ctx context.Context, id int64) error {
	return r.exec(ctx, "mark as processing", id, `
		UPDATE outbox_messages
		SET status = $1, processing_attempts = processing_attempts + 1
		WHERE id = $2
	`, models.OutboxStatusProcessing, id)
}

// MarkAsCompleted updates the status of an outbox message to completed
func (r *PostgresOutboxRepository) MarkAsCompleted(ctx context.Context, id int64) error {
	return r.exec(ctx, "mark as completed", id, `
		UPDATE outbox_messages
		SET status = $1, processed_at = $2
		WHERE id = $3
	`, models.OutboxStatusCompleted, time.Now().UTC(), id)
}

// MarkForRetry puts the message back in the pending queue
func (r *PostgresOutboxRepository) MarkForRetry(ctx context.Context, id int64, errorMessage string) error {
	return r.exec(ctx, "requeue", id, `
		UPDATE outbox_messages
		SET status = $1, last_error = $2
		WHERE id = $3
	`, models.OutboxStatusPending, errorMessage, id)
}

// MarkAsFailed updates the status of an outbox message to failed
func (r *PostgresOutboxRepository) MarkAsFailed(ctx context.Context, id int64, errorMessage string) error {
	return r.exec(ctx, "mark as failed", id, `
		UPDATE outbox_messages
		SET status = $1, last_error = $2
		WHERE id = $3
	`, models.OutboxStatusFailed, errorMessage, id)
}

// GetFailedMessages retrieves messages that exhausted their retries
func (r *PostgresOutboxRepository) GetFailedMessages(ctx context.Context, limit, offset int) ([]*models.OutboxMessage, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload,
			   created_at, processed_at, processing_attempts, last_error, status
		FROM outbox_messages
		WHERE status = $1
		ORDER BY id ASC
		LIMIT $2 OFFSET $3
	`

	var messages []*models.OutboxMessage

	err := r.db.DB.SelectContext(ctx, &messages, query, models.OutboxStatusFailed, limit, offset)

	if err != nil {
		r.logger.Error("Failed to get failed outbox messages", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return messages, nil
}

// Requeue gives a failed message a fresh set of attempts
func (r *PostgresOutboxRepository) Requeue(ctx context.Context, id int64) error {
	result, err := r.db.DB.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $1, processing_attempts = 0
		WHERE id = $2 AND status = $3
	`, models.OutboxStatusPending, id, models.OutboxStatusFailed)

	if err != nil {
		r.logger.Error("Failed to requeue outbox message", "error", err, "message_id", id)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	rows, err := result.RowsAffected()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
