package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sajanshree/order-api/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate key")
	ErrDatabase  = errors.New("database error")
	// ErrStatusMismatch is returned by UpdateStatus when the stored status is no longer the expected one
	ErrStatusMismatch = errors.New("stored status differs from expected")
)

// OrderFilter narrows ListOrders. Zero values mean "no constraint".
type OrderFilter struct {
	Status          models.OrderStatus
	DeliveredBefore time.Time
	DeliveredAfter  time.Time
	Limit           int
	Offset          int
}

// OrderRepository stores orders. Every write persists the order and its outbox event atomically.
type OrderRepository interface {
	// Create fails with ErrDuplicate when order.OrderID is already taken
	Create(ctx context.Context, order *models.Order, event *models.OutboxMessage) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]*models.Order, error)
	CountByStatus(ctx context.Context, status models.OrderStatus) (int, error)
	// FindOverdue returns Pending orders whose delivery date is before asOf
	FindOverdue(ctx context.Context, asOf time.Time) ([]*models.Order, error)
	Update(ctx context.Context, order *models.Order, event *models.OutboxMessage) error
	// UpdateStatus writes order.Status and order.UpdatedAt only while the stored status is still from
	UpdateStatus(ctx context.Context, order *models.Order, from models.OrderStatus, event *models.OutboxMessage) error
	Delete(ctx context.Context, id string, event *models.OutboxMessage) error
}

// TemplateRepository stores catalog templates of one kind
type TemplateRepository interface {
	// Create fails with ErrDuplicate when the name is taken
	Create(ctx context.Context, tpl *models.Template) error
	GetByID(ctx context.Context, id string) (*models.Template, error)
	GetByName(ctx context.Context, name string) (*models.Template, error)
	List(ctx context.Context) ([]*models.Template, error)
	Update(ctx context.Context, tpl *models.Template) error
	Delete(ctx context.Context, id string) error
	// AppendOption atomically adds option to the detail keyed detailKey.
	// Returns ErrNotFound for a missing template, models.ErrDetailNotFound or models.ErrOptionExists.
	AppendOption(ctx context.Context, name, detailKey, option string, at time.Time) (*models.Template, error)
}

// OutboxRepository is the read side used by the outbox processor and the admin API
type OutboxRepository interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error)
	MarkAsProcessing(ctx context.Context, id int64) error
	MarkAsCompleted(ctx context.Context, id int64) error
	// MarkForRetry returns the message to pending, keeping the error for diagnostics
	MarkForRetry(ctx context.Context, id int64, errorMessage string) error
	MarkAsFailed(ctx context.Context, id int64, errorMessage string) error
	// GetFailedMessages lists messages that exhausted their retries, oldest first
	GetFailedMessages(ctx context.Context, limit, offset int) ([]*models.OutboxMessage, error)
	// Requeue resets a failed message to pending with zero attempts. ErrNotFound if no failed message has id.
	Requeue(ctx context.Context, id int64) error
}

// Store bundles the repositories of one backend
type Store struct {
	Orders       OrderRepository
	Products     TemplateRepository
	OrderOptions TemplateRepository
	Outbox       OutboxRepository
	Close        func(ctx context.Context) error
}
