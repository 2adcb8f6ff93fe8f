package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/sajanshree/order-api/internal/config"
	"github.com/sajanshree/order-api/pkg/logger"
)

// Database represents a database connection
type Database struct {
	DB     *sqlx.DB
	logger logger.Logger
}

// New creates a new database connection
func New(cfg *config.Config, logger logger.Logger) (*Database, error) {
	db, err := sqlx.Connect("postgres", cfg.GetDBConnString())

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("Connected to database", "host", cfg.DB.Host, "database", cfg.DB.Name)

	return &Database{
		DB:     db,
		logger: logger,
	}, nil
}

// Ping checks the database connection
func (d *Database) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}

// InTx runs fn inside a transaction, rolling back when fn fails
func (d *Database) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := d.DB.BeginTxx(ctx, nil)

	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				d.logger.Error("Failed to rollback transaction", "error", rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RunMigrations creates the schema. Items and payments are JSON (not JSONB) so size key order survives.
func (d *Database) RunMigrations(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(64) PRIMARY KEY,
		order_id VARCHAR(64),
		customer_name TEXT NOT NULL,
		mobile_number VARCHAR(32) NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		order_date TIMESTAMPTZ NOT NULL,
		delivery_date TIMESTAMPTZ NOT NULL,
		status VARCHAR(20) NOT NULL CHECK (status IN ('Pending', 'Processing', 'Completed', 'Shipped')),
		product TEXT NOT NULL,
		order_type VARCHAR(32) NOT NULL DEFAULT 'walk-in',
		items JSON NOT NULL,
		advance_payments JSON NOT NULL DEFAULT '[]',
		order_description TEXT NOT NULL DEFAULT '',
		order_image JSON,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_order_id ON orders(order_id) WHERE order_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_orders_status_delivery ON orders(status, delivery_date);

	CREATE TABLE IF NOT EXISTS catalog_templates (
		id VARCHAR(64) PRIMARY KEY,
		kind VARCHAR(32) NOT NULL,
		name TEXT NOT NULL,
		sizes JSON NOT NULL DEFAULT '[]',
		details JSON NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (kind, name)
	);

	CREATE TABLE IF NOT EXISTS outbox_messages (
		id SERIAL PRIMARY KEY,
		aggregate_type VARCHAR(50) NOT NULL,
		aggregate_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(50) NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ,
		processing_attempts INT NOT NULL DEFAULT 0,
		last_error TEXT,
		status VARCHAR(20) NOT NULL DEFAULT 'pending'
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_messages(status);
	CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox_messages(aggregate_type, aggregate_id);
	`

	if _, err := d.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.logger.Info("Database migrations completed successfully")
	return nil
}
