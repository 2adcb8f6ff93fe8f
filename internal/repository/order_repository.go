package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sajanshree/order-api/internal/database"
	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/pkg/logger"
)

const uniqueViolation = "23505"

const orderColumns = `id, order_id, customer_name, mobile_number, email, address, order_date, delivery_date,
	status, product, order_type, items, advance_payments, order_description, order_image, created_at, updated_at`

// PostgresOrderRepository handles database operations for orders
type PostgresOrderRepository struct {
	db     *database.Database
	outbox *PostgresOutboxRepository
	logger logger.Logger
}

// NewOrderRepository creates a new PostgresOrderRepository
func NewOrderRepository(db *database.Database, outbox *PostgresOutboxRepository, logger logger.Logger) *PostgresOrderRepository {
	return &PostgresOrderRepository{
		db:     db,
		outbox: outbox,
		logger: logger,
	}
}

// orderRow is the SQL shape of an order. Nested collections live in JSON columns.
type orderRow struct {
	ID               string         `db:"id"`
	OrderID          sql.NullString `db:"order_id"`
	CustomerName     string         `db:"customer_name"`
	MobileNumber     string         `db:"mobile_number"`
	Email            string         `db:"email"`
	Address          string         `db:"address"`
	OrderDate        time.Time      `db:"order_date"`
	DeliveryDate     time.Time      `db:"delivery_date"`
	Status           string         `db:"status"`
	Product          string         `db:"product"`
	OrderType        string         `db:"order_type"`
	Items            []byte         `db:"items"`
	AdvancePayments  []byte         `db:"advance_payments"`
	OrderDescription string         `db:"order_description"`
	OrderImage       []byte         `db:"order_image"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func toOrderRow(o *models.Order) (*orderRow, error) {
	items, err := json.Marshal(o.Items)

	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}

	payments, err := json.Marshal(o.AdvancePayments)

	if err != nil {
		return nil, fmt.Errorf("encode advance payments: %w", err)
	}

	row := &orderRow{
		ID:               o.ID,
		OrderID:          sql.NullString{String: o.OrderID, Valid: o.OrderID != ""},
		CustomerName:     o.CustomerName,
		MobileNumber:     o.MobileNumber,
		Email:            o.Email,
		Address:          o.Address,
		OrderDate:        o.OrderDate,
		DeliveryDate:     o.DeliveryDate,
		Status:           string(o.Status),
		Product:          o.Product,
		OrderType:        o.OrderType,
		Items:            items,
		AdvancePayments:  payments,
		OrderDescription: o.OrderDescription,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}

	if !o.OrderImage.Empty() {
		if row.OrderImage, err = json.Marshal(o.OrderImage); err != nil {
			return nil, fmt.Errorf("encode order image: %w", err)
		}
	}

	return row, nil
}

func (row *orderRow) toModel() (*models.Order, error) {
	o := &models.Order{
		ID:               row.ID,
		OrderID:          row.OrderID.String,
		CustomerName:     row.CustomerName,
		MobileNumber:     row.MobileNumber,
		Email:            row.Email,
		Address:          row.Address,
		OrderDate:        row.OrderDate.UTC(),
		DeliveryDate:     row.DeliveryDate.UTC(),
		Status:           models.OrderStatus(row.Status),
		Product:          row.Product,
		OrderType:        row.OrderType,
		OrderDescription: row.OrderDescription,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}

	if err := json.Unmarshal(row.Items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of order %s: %w", row.ID, err)
	}

	if len(row.AdvancePayments) > 0 {
		if err := json.Unmarshal(row.AdvancePayments, &o.AdvancePayments); err != nil {
			return nil, fmt.Errorf("decode advance payments of order %s: %w", row.ID, err)
		}
	}

	if o.AdvancePayments == nil {
		o.AdvancePayments = []models.AdvancePayment{}
	}

	if len(row.OrderImage) > 0 && string(row.OrderImage) != "null" {
		o.OrderImage = &models.ImageRef{}

		if err := json.Unmarshal(row.OrderImage, o.OrderImage); err != nil {
			return nil, fmt.Errorf("decode image of order %s: %w", row.ID, err)
		}
	}

	return o, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Create inserts a new order and its event in one transaction
func (r *PostgresOrderRepository) Create(ctx context.Context, order *models.Order, event *models.OutboxMessage) error {
	row, err := toOrderRow(order)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	query := `INSERT INTO orders (` + orderColumns + `) VALUES (
		:id, :order_id, :customer_name, :mobile_number, :email, :address, :order_date, :delivery_date,
		:status, :product, :order_type, :items, :advance_payments, :order_description, :order_image, :created_at, :updated_at)`

	err = r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return err
		}
		return r.outbox.CreateInTx(ctx, tx, event)
	})

	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		r.logger.Error("Failed to create order", "error", err, "orderID", order.ID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// GetByID retrieves an order by its ID
func (r *PostgresOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	var row orderRow
	err := r.db.DB.GetContext(ctx, &row, query, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get order by ID", "error", err, "orderID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	order, err := row.toModel()

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return order, nil
}

// List retrieves orders matching the filter, newest first
func (r *PostgresOrderRepository) List(ctx context.Context, filter OrderFilter) ([]*models.Order, error) {
	var (
		conditions []string
		args       []interface{}
	)

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	if !filter.DeliveredBefore.IsZero() {
		args = append(args, filter.DeliveredBefore)
		conditions = append(conditions, fmt.Sprintf("delivery_date < $%d", len(args)))
	}

	if !filter.DeliveredAfter.IsZero() {
		args = append(args, filter.DeliveredAfter)
		conditions = append(conditions, fmt.Sprintf("delivery_date > $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return r.selectOrders(ctx, query, args...)
}

func (r *PostgresOrderRepository) selectOrders(ctx context.Context, query string, args ...interface{}) ([]*models.Order, error) {
	var rows []orderRow
	err := r.db.DB.SelectContext(ctx, &rows, query, args...)

	if err != nil {
		r.logger.Error("Failed to select orders", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	orders := make([]*models.Order, 0, len(rows))

	for i := range rows {
		order, err := rows[i].toModel()

		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		orders = append(orders, order)
	}

	return orders, nil
}

// CountByStatus counts orders in the given status
func (r *PostgresOrderRepository) CountByStatus(ctx context.Context, status models.OrderStatus) (int, error) {
	var count int
	err := r.db.DB.GetContext(ctx, &count, `SELECT COUNT(*) FROM orders WHERE status = $1`, string(status))

	if err != nil {
		r.logger.Error("Failed to count orders", "error", err, "status", status)
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return count, nil
}

// FindOverdue returns Pending orders whose delivery date has passed
func (r *PostgresOrderRepository) FindOverdue(ctx context.Context, asOf time.Time) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE status = $1 AND delivery_date < $2
		ORDER BY delivery_date ASC`

	return r.selectOrders(ctx, query, string(models.OrderStatusPending), asOf)
}

// Update replaces an existing order and records its event
func (r *PostgresOrderRepository) Update(ctx context.Context, order *models.Order, event *models.OutboxMessage) error {
	row, err := toOrderRow(order)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	query := `
		UPDATE orders SET
			order_id = :order_id, customer_name = :customer_name, mobile_number = :mobile_number,
			email = :email, address = :address, delivery_date = :delivery_date, status = :status,
			product = :product, order_type = :order_type, items = :items, advance_payments = :advance_payments,
			order_description = :order_description, order_image = :order_image, updated_at = :updated_at
		WHERE id = :id
	`

	err = r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.NamedExecContext(ctx, query, row)

		if err != nil {
			return err
		}

		rowsAffected, err := result.RowsAffected()

		if err != nil {
			return err
		}

		if rowsAffected == 0 {
			return ErrNotFound
		}

		return r.outbox.CreateInTx(ctx, tx, event)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case isUniqueViolation(err):
		return ErrDuplicate
	default:
		r.logger.Error("Failed to update order", "error", err, "orderID", order.ID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
}

// UpdateStatus changes the status only while the stored one is still from
func (r *PostgresOrderRepository) UpdateStatus(ctx context.Context, order *models.Order, from models.OrderStatus, event *models.OutboxMessage) error {
	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
			string(order.Status), order.UpdatedAt, order.ID, string(from))

		if err != nil {
			return err
		}

		rowsAffected, err := result.RowsAffected()

		if err != nil {
			return err
		}

		if rowsAffected == 0 {
			var current string

			if err := tx.GetContext(ctx, &current, `SELECT status FROM orders WHERE id = $1`, order.ID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrNotFound
				}
				return err
			}
			return ErrStatusMismatch
		}

		return r.outbox.CreateInTx(ctx, tx, event)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrStatusMismatch):
		return err
	default:
		r.logger.Error("Failed to update order status", "error", err, "orderID", order.ID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
}

// Delete deletes an order by its ID
func (r *PostgresOrderRepository) Delete(ctx context.Context, id string, event *models.OutboxMessage) error {
	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)

		if err != nil {
			return err
		}

		rowsAffected, err := result.RowsAffected()

		if err != nil {
			return err
		}

		if rowsAffected == 0 {
			return ErrNotFound
		}

		return r.outbox.CreateInTx(ctx, tx, event)
	})

	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		r.logger.Error("Failed to delete order", "error", err, "orderID", id)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}
