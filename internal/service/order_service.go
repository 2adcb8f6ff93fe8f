package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/internal/repository"
	apperrors "github.com/sajanshree/order-api/pkg/errors"
	"github.com/sajanshree/order-api/pkg/logger"
	"github.com/sajanshree/order-api/pkg/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	orderIDAttempts = 3
	metricNamespace = "github.com/sajanshree/order-api"
)

// ErrStatusChanged means the order left the status a change was based on before it could be written
var ErrStatusChanged = fmt.Errorf("%w: order status changed", apperrors.ErrConflict)

// AssetStore keeps order images outside the order record
type AssetStore interface {
	Store(ctx context.Context, data []byte, filename string) (*models.ImageRef, error)
	Delete(ctx context.Context, assetID string) error
}

// OrderResult is a completed write plus any best-effort asset failure
type OrderResult struct {
	Order    *models.Order
	AssetErr error
}

// Warnings returns the non-fatal problems of the write
func (r *OrderResult) Warnings() []string {
	if r == nil || r.AssetErr == nil {
		return nil
	}
	return []string{r.AssetErr.Error()}
}

// OrderList is a page of orders with the number currently Pending
type OrderList struct {
	Orders       []*models.Order `json:"orders"`
	PendingCount int             `json:"pendingCount"`
}

// OrderService handles order-related operations
type OrderService struct {
	orders       repository.OrderRepository
	products     repository.TemplateRepository
	assets       AssetStore
	logger       logger.Logger
	now          func() time.Time
	strict       bool
	pendingGauge metric.Int64Gauge
	assetRetry   retry.RetryConfig
}

// Option customises OrderService construction
type Option func(*OrderService)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *OrderService) {
		s.now = now
	}
}

// WithStrictTransitions rejects status changes outside the transition table
func WithStrictTransitions(strict bool) Option {
	return func(s *OrderService) {
		s.strict = strict
	}
}

// WithCatalog validates order items against the product catalog
func WithCatalog(products repository.TemplateRepository) Option {
	return func(s *OrderService) {
		s.products = products
	}
}

// WithAssetStore sets the store used to delete replaced or orphaned images
func WithAssetStore(assets AssetStore) Option {
	return func(s *OrderService) {
		s.assets = assets
	}
}

// WithMeter injects a custom OpenTelemetry meter
func WithMeter(m metric.Meter) Option {
	return func(s *OrderService) {
		s.pendingGauge = newPendingGauge(m, s.logger)
	}
}

// WithAssetRetry overrides how asset deletions are retried
func WithAssetRetry(cfg retry.RetryConfig) Option {
	return func(s *OrderService) {
		s.assetRetry = cfg
	}
}

func newPendingGauge(m metric.Meter, log logger.Logger) metric.Int64Gauge {
	gauge, err := m.Int64Gauge(
		"orders.pending",
		metric.WithDescription("Number of orders in Pending status observed on the last listing"),
	)

	if err != nil {
		log.Warn("Unable to register pending orders gauge", "error", err)
		return nil
	}
	return gauge
}

// NewOrderService creates a new OrderService
func NewOrderService(orders repository.OrderRepository, logger logger.Logger, opts ...Option) *OrderService {
	s := &OrderService{
		orders: orders,
		logger: logger,
		now:    models.GetCurrentTime,
		assetRetry: retry.RetryConfig{
			MaxAttempts:     3,
			BackoffStrategy: retry.NewDefaultExponentialBackoff(),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.pendingGauge == nil {
		s.pendingGauge = newPendingGauge(otel.GetMeterProvider().Meter(metricNamespace), logger)
	}

	if s.assetRetry.Logger == nil {
		s.assetRetry.Logger = logger
	}

	return s
}

// storeError translates repository failures into application errors
func (s *OrderService) storeError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFoundError("order not found")
	case errors.Is(err, repository.ErrDuplicate):
		return apperrors.NewConflictError(apperrors.CodeDuplicateOrderID, "orderId is already in use")
	case errors.Is(err, repository.ErrStatusMismatch):
		return statusChangedError("order status changed concurrently")
	default:
		s.logger.Error("Order store failure", "op", op, "error", err)
		return apperrors.NewPersistenceError(fmt.Sprintf("failed to %s order", op), err)
	}
}

// stamp returns a timestamp strictly after prev
func (s *OrderService) stamp(prev time.Time) time.Time {
	now := s.now().UTC()

	if !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	return now
}

// CreateOrder validates the payload and persists a new Pending order with its created event
func (s *OrderService) CreateOrder(ctx context.Context, payload *OrderPayload) (*models.Order, error) {
	if missing := payload.MissingFields(); len(missing) > 0 {
		return nil, apperrors.NewValidationError(apperrors.CodeMissingRequiredFields,
			"missing required fields: "+strings.Join(missing, ", ")).
			WithContext("fields", missing)
	}

	deliveryDate, err := parseDeliveryDate(payload.DeliveryDate)

	if err != nil {
		return nil, err
	}

	items, err := validateItems(payload.Items)

	if err != nil {
		return nil, err
	}

	if err := s.enforceCatalog(ctx, items); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	payments, err := buildPayments(payload.AdvancePayments, now)

	if err != nil {
		return nil, err
	}

	order := models.NewOrder(now)
	order.CustomerName = payload.CustomerName
	order.MobileNumber = payload.MobileNumber
	order.Email = payload.Email
	order.Address = payload.Address
	order.DeliveryDate = deliveryDate
	order.Product = payload.Product
	order.Items = items
	order.AdvancePayments = payments
	order.OrderDescription = payload.OrderDescription
	order.OrderImage = payload.OrderImage

	if payload.OrderType != "" {
		order.OrderType = payload.OrderType
	}

	if payload.Status != "" {
		status, ok := models.ParseOrderStatus(payload.Status)

		if !ok {
			return nil, invalidStatusError(payload.Status)
		}
		order.Status = status
	}

	if err := s.insert(ctx, order, payload.OrderID); err != nil {
		return nil, err
	}

	s.logger.Info("Order created", "id", order.ID, "orderId", order.OrderID, "items", len(order.Items))
	return order, nil
}

// insert persists the order. A generated orderId is retried on collision; a supplied one is not.
func (s *OrderService) insert(ctx context.Context, order *models.Order, requestedID string) error {
	attempts := orderIDAttempts

	if requestedID != "" {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if requestedID != "" {
			order.OrderID = requestedID
		} else {
			order.OrderID = models.NewOrderNumber(order.CreatedAt)
		}

		event, err := models.NewOrderCreatedEvent(order)

		if err != nil {
			return apperrors.NewInternalError(fmt.Sprintf("failed to build order event: %v", err))
		}

		err = s.orders.Create(ctx, order, event)

		if err == nil {
			return nil
		}

		if !errors.Is(err, repository.ErrDuplicate) {
			return s.storeError("create", err)
		}

		if requestedID != "" {
			return apperrors.NewConflictError(apperrors.CodeDuplicateOrderID,
				fmt.Sprintf("orderId %q is already in use", requestedID))
		}

		s.logger.Warn("Generated orderId collided, regenerating", "orderId", order.OrderID, "attempt", attempt)
	}

	return apperrors.NewPersistenceError("failed to allocate a unique orderId",
		fmt.Errorf("%d consecutive collisions", attempts))
}

func (s *OrderService) enforceCatalog(ctx context.Context, items []models.Item) error {
	if s.products == nil {
		return nil
	}

	for i, item := range items {
		tpl, err := s.products.GetByName(ctx, item.Product)

		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NewValidationError(apperrors.CodeUnknownProduct,
					fmt.Sprintf("items[%d]: unknown product %q", i, item.Product)).
					WithContext("index", i)
			}
			return apperrors.NewPersistenceError("failed to load product template", err)
		}

		if err := checkAgainstCatalog(i, item, tpl); err != nil {
			return err
		}
	}

	return nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, id)

	if err != nil {
		return nil, s.storeError("get", err)
	}

	return order, nil
}

// ListOrders returns matching orders and the number of Pending orders in the store
func (s *OrderService) ListOrders(ctx context.Context, filter repository.OrderFilter) (*OrderList, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalidStatusError(string(filter.Status))
	}

	orders, err := s.orders.List(ctx, filter)

	if err != nil {
		return nil, s.storeError("list", err)
	}

	pending, err := s.orders.CountByStatus(ctx, models.OrderStatusPending)

	if err != nil {
		return nil, s.storeError("count", err)
	}

	if pending > 0 {
		s.logger.Info("Pending orders awaiting processing", "count", pending)
	}

	if s.pendingGauge != nil {
		s.pendingGauge.Record(ctx, int64(pending))
	}

	return &OrderList{Orders: orders, PendingCount: pending}, nil
}

// ListOverdue returns Pending orders whose delivery date is before asOf
func (s *OrderService) ListOverdue(ctx context.Context, asOf time.Time) ([]*models.Order, error) {
	orders, err := s.orders.FindOverdue(ctx, asOf)

	if err != nil {
		return nil, s.storeError("find overdue", err)
	}

	return orders, nil
}

// UpdateOrder applies the non-empty fields of patch. Fields cannot be cleared through it.
func (s *OrderService) UpdateOrder(ctx context.Context, id string, patch *OrderPayload) (*OrderResult, error) {
	existing, err := s.orders.GetByID(ctx, id)

	if err != nil {
		return nil, s.storeError("get", err)
	}

	updated := existing.Clone()

	setIfPresent(&updated.OrderID, patch.OrderID)
	setIfPresent(&updated.CustomerName, patch.CustomerName)
	setIfPresent(&updated.MobileNumber, patch.MobileNumber)
	setIfPresent(&updated.Email, patch.Email)
	setIfPresent(&updated.Address, patch.Address)
	setIfPresent(&updated.Product, patch.Product)
	setIfPresent(&updated.OrderType, patch.OrderType)
	setIfPresent(&updated.OrderDescription, patch.OrderDescription)

	if patch.DeliveryDate != "" {
		if updated.DeliveryDate, err = parseDeliveryDate(patch.DeliveryDate); err != nil {
			return nil, err
		}
	}

	if patch.Status != "" {
		status, ok := models.ParseOrderStatus(patch.Status)

		if !ok {
			return nil, invalidStatusError(patch.Status)
		}

		if err := s.checkTransition(existing, status); err != nil {
			return nil, err
		}
		updated.Status = status
	}

	if len(patch.Items) > 0 {
		items, err := validateItems(patch.Items)

		if err != nil {
			return nil, err
		}

		if err := s.enforceCatalog(ctx, items); err != nil {
			return nil, err
		}
		updated.Items = items
	}

	if len(patch.AdvancePayments) > 0 {
		payments, err := buildPayments(patch.AdvancePayments, s.now().UTC())

		if err != nil {
			return nil, err
		}
		updated.AdvancePayments = payments
	}

	var replaced *models.ImageRef

	if !patch.OrderImage.Empty() && !sameImage(existing.OrderImage, patch.OrderImage) {
		if !existing.OrderImage.Empty() {
			replaced = existing.OrderImage
		}

		img := *patch.OrderImage
		updated.OrderImage = &img
	}

	updated.UpdatedAt = s.stamp(existing.UpdatedAt)

	event, err := models.NewOrderUpdatedEvent(updated)

	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to build order event: %v", err))
	}

	if err := s.orders.Update(ctx, updated, event); err != nil {
		return nil, s.storeError("update", err)
	}

	s.logger.Info("Order updated", "id", updated.ID, "orderId", updated.OrderID)

	result := &OrderResult{Order: updated}

	if replaced != nil {
		result.AssetErr = s.deleteAsset(ctx, updated.ID, replaced)
	}

	return result, nil
}

// sameImage reports whether next points at the image current already holds
func sameImage(current, next *models.ImageRef) bool {
	if current.Empty() || next.Empty() {
		return false
	}

	if next.AssetID != "" {
		return next.AssetID == current.AssetID
	}
	return next.URL == current.URL
}

func setIfPresent(field *string, value string) {
	if value != "" {
		*field = value
	}
}

// DeleteOrder removes the order and then its image asset. Asset failures come back as warnings.
func (s *OrderService) DeleteOrder(ctx context.Context, id string) (*OrderResult, error) {
	existing, err := s.orders.GetByID(ctx, id)

	if err != nil {
		return nil, s.storeError("get", err)
	}

	event, err := models.NewOrderDeletedEvent(existing, s.now().UTC())

	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to build order event: %v", err))
	}

	if err := s.orders.Delete(ctx, id, event); err != nil {
		return nil, s.storeError("delete", err)
	}

	s.logger.Info("Order deleted", "id", id, "orderId", existing.OrderID)

	result := &OrderResult{Order: existing}

	if !existing.OrderImage.Empty() {
		result.AssetErr = s.deleteAsset(ctx, id, existing.OrderImage)
	}

	return result, nil
}

// deleteAsset removes an image with retries. It never fails the caller's write.
func (s *OrderService) deleteAsset(ctx context.Context, orderID string, img *models.ImageRef) error {
	if s.assets == nil {
		return nil
	}

	if img.AssetID == "" {
		s.logger.Debug("Image has no asset id, nothing to delete", "id", orderID, "url", img.URL)
		return nil
	}

	cfg := s.assetRetry
	err := retry.Retry(ctx, func(ctx context.Context) error {
		return s.assets.Delete(ctx, img.AssetID)
	}, &cfg)

	if err != nil {
		s.logger.Warn("Failed to delete order image", "id", orderID, "assetId", img.AssetID, "error", err)
		return apperrors.NewAssetStoreError(fmt.Sprintf("failed to delete image %s", img.AssetID), err).
			WithContext("assetId", img.AssetID)
	}

	return nil
}

// StatusOption tunes a status change
type StatusOption func(*statusChange)

type statusChange struct {
	automatic bool
	expected  models.OrderStatus
}

// Automatic marks the change as made by the system rather than a user
func Automatic() StatusOption {
	return func(c *statusChange) {
		c.automatic = true
	}
}

// ExpectStatus applies the change only while the order is still in status
func ExpectStatus(status models.OrderStatus) StatusOption {
	return func(c *statusChange) {
		c.expected = status
	}
}

// SetStatus moves an order to status. Setting the current status is a no-op.
func (s *OrderService) SetStatus(ctx context.Context, id, status string, opts ...StatusOption) (*models.Order, error) {
	change := statusChange{}

	for _, opt := range opts {
		opt(&change)
	}

	next, ok := models.ParseOrderStatus(strings.TrimSpace(status))

	if !ok {
		return nil, invalidStatusError(status)
	}

	existing, err := s.orders.GetByID(ctx, id)

	if err != nil {
		return nil, s.storeError("get", err)
	}

	if change.expected != "" && existing.Status != change.expected {
		return nil, statusChangedError(fmt.Sprintf("order is %s, expected %s", existing.Status, change.expected)).
			WithContext("status", existing.Status)
	}

	if existing.Status == next {
		return existing, nil
	}

	if err := s.checkTransition(existing, next); err != nil {
		return nil, err
	}

	updated := existing.Clone()
	updated.Status = next
	updated.UpdatedAt = s.stamp(existing.UpdatedAt)

	event, err := models.NewOrderStatusChangedEvent(updated, existing.Status, change.automatic)

	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to build order event: %v", err))
	}

	if err := s.orders.UpdateStatus(ctx, updated, existing.Status, event); err != nil {
		return nil, s.storeError("update status of", err)
	}

	s.logger.Info("Order status changed",
		"id", updated.ID,
		"orderId", updated.OrderID,
		"from", existing.Status,
		"to", next,
		"automatic", change.automatic)

	return updated, nil
}

// checkTransition enforces the transition table in strict mode and only warns otherwise
func (s *OrderService) checkTransition(order *models.Order, next models.OrderStatus) error {
	if order.Status == next || order.Status.CanTransitionTo(next) {
		return nil
	}

	if s.strict {
		return apperrors.NewConflictError(apperrors.CodeInvalidTransition,
			fmt.Sprintf("cannot move order from %s to %s", order.Status, next)).
			WithContext("from", order.Status).
			WithContext("to", next)
	}

	s.logger.Warn("Status change outside the transition table",
		"id", order.ID,
		"from", order.Status,
		"to", next,
		"reopensTerminal", order.Status.IsTerminal())
	return nil
}

func statusChangedError(message string) *apperrors.AppError {
	return apperrors.NewAppError(ErrStatusChanged, message, http.StatusConflict, false).
		WithCode(apperrors.CodeStatusChanged)
}

func invalidStatusError(status string) *apperrors.AppError {
	return apperrors.NewValidationError(apperrors.CodeInvalidStatus,
		fmt.Sprintf("invalid status %q", status)).
		WithContext("allowed", models.OrderStatuses)
}
