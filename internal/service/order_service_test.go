package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/internal/repository"
	apperrors "github.com/sajanshree/order-api/pkg/errors"
	"github.com/sajanshree/order-api/pkg/logger"
	"github.com/sajanshree/order-api/pkg/retry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAssets struct {
	mu      sync.Mutex
	err     error
	deletes []string
}

func (f *fakeAssets) Store(_ context.Context, _ []byte, filename string) (*models.ImageRef, error) {
	return &models.ImageRef{URL: "https://cdn.test/" + filename, AssetID: filename}, nil
}

func (f *fakeAssets) Delete(_ context.Context, assetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deletes = append(f.deletes, assetID)
	return f.err
}

func (f *fakeAssets) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deletes)
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, opts ...Option) (*OrderService, *repository.MemoryStore) {
	t.Helper()

	mem := repository.NewMemoryStore()
	opts = append([]Option{WithAssetRetry(retry.RetryConfig{
		MaxAttempts:     3,
		BackoffStrategy: &retry.ConstantBackoff{Interval: time.Millisecond},
	})}, opts...)

	return NewOrderService(mem.Repositories().Orders, logger.NewNop(), opts...), mem
}

func samplePayload() *OrderPayload {
	return &OrderPayload{
		CustomerName: "Asha Rao",
		MobileNumber: "9876543210",
		DeliveryDate: "2024-06-20",
		Product:      "Shirt",
		Items: []RawItem{{
			Product: "Shirt",
			Sizes:   json.RawMessage(`{"S":{"quantity":2,"price":500},"M":{"quantity":1,"price":550}}`),
			Details: json.RawMessage(`{"collar":"Round"}`),
		}},
	}
}

func TestCreateOrderDefaults(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{now: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)}
	svc, mem := newTestService(t, WithClock(clock.Now))

	order, err := svc.CreateOrder(context.Background(), samplePayload())
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.DefaultOrderType, order.OrderType)
	assert.Regexp(t, `^ORD-\d+-[0-9a-z]{9}$`, order.OrderID)
	assert.Equal(t, clock.now, order.CreatedAt)
	assert.Equal(t, order.CreatedAt, order.UpdatedAt)
	assert.Equal(t, []string{"S", "M"}, order.Items[0].Sizes.Labels())
	assert.True(t, order.Total().Equal(decimal.NewFromInt(1550)))

	events := mem.OutboxMessages()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventOrderCreated, events[0].EventType)
	assert.Equal(t, order.ID, events[0].AggregateID)
}

func TestCreateOrderEmptyItemsNeverPersists(t *testing.T) {
	t.Parallel()

	svc, mem := newTestService(t)

	payload := samplePayload()
	payload.Items = nil

	_, err := svc.CreateOrder(context.Background(), payload)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMissingRequiredFields, apperrors.CodeOf(err))
	assert.Equal(t, http.StatusBadRequest, apperrors.StatusCodeOf(err))

	list, err := svc.ListOrders(context.Background(), repository.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, list.Orders)
	assert.Empty(t, mem.OutboxMessages())
}

func TestCreateOrderValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(p *OrderPayload)
		code   string
	}{
		{
			name:   "missing customer",
			mutate: func(p *OrderPayload) { p.CustomerName = "" },
			code:   apperrors.CodeMissingRequiredFields,
		},
		{
			name:   "negative quantity",
			mutate: func(p *OrderPayload) { p.Items[0].Sizes = json.RawMessage(`{"S":{"quantity":-1,"price":5}}`) },
			code:   apperrors.CodeInvalidItemFormat,
		},
		{
			name:   "sizes array",
			mutate: func(p *OrderPayload) { p.Items[0].Sizes = json.RawMessage(`[1]`) },
			code:   apperrors.CodeInvalidItemFormat,
		},
		{
			name:   "item without product",
			mutate: func(p *OrderPayload) { p.Items[0].Product = "" },
			code:   apperrors.CodeInvalidItemFormat,
		},
		{
			name:   "bad delivery date",
			mutate: func(p *OrderPayload) { p.DeliveryDate = "next tuesday" },
			code:   apperrors.CodeInvalidPayload,
		},
		{
			name:   "unknown status",
			mutate: func(p *OrderPayload) { p.Status = "Lost" },
			code:   apperrors.CodeInvalidStatus,
		},
		{
			name: "negative advance",
			mutate: func(p *OrderPayload) {
				p.AdvancePayments = []PaymentInput{{Amount: decimal.NewFromInt(-10)}}
			},
			code: apperrors.CodeNegativeValue,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc, mem := newTestService(t)
			payload := samplePayload()
			tc.mutate(payload)

			_, err := svc.CreateOrder(context.Background(), payload)
			require.Error(t, err)
			assert.Equal(t, tc.code, apperrors.CodeOf(err))
			assert.Empty(t, mem.OutboxMessages())
		})
	}
}

func TestCreateOrderNegativeSizeReason(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	payload := samplePayload()
	payload.Items[0].Sizes = json.RawMessage(`{"S":{"quantity":1,"price":-5}}`)

	_, err := svc.CreateOrder(context.Background(), payload)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, 0, appErr.Context["index"])
	assert.Equal(t, apperrors.CodeNegativeValue, appErr.Context["reason"])
}

func TestCreateOrderSuppliedOrderIDConflicts(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	first := samplePayload()
	first.OrderID = "ORD-custom-1"

	_, err := svc.CreateOrder(context.Background(), first)
	require.NoError(t, err)

	second := samplePayload()
	second.OrderID = "ORD-custom-1"

	_, err = svc.CreateOrder(context.Background(), second)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeDuplicateOrderID, apperrors.CodeOf(err))
	assert.Equal(t, http.StatusConflict, apperrors.StatusCodeOf(err))
}

func TestCreateOrderConcurrentOrderIDsAreUnique(t *testing.T) {
	t.Parallel()

	const n = 10000

	svc, _ := newTestService(t)

	var (
		wg     sync.WaitGroup
		failed atomic.Int32
		ids    sync.Map
		dups   atomic.Int32
	)

	wg.Add(n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()

			order, err := svc.CreateOrder(context.Background(), samplePayload())

			if err != nil {
				failed.Add(1)
				return
			}

			if _, loaded := ids.LoadOrStore(order.OrderID, struct{}{}); loaded {
				dups.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Zero(t, failed.Load())
	assert.Zero(t, dups.Load())

	list, err := svc.ListOrders(context.Background(), repository.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, list.Orders, n)
	assert.Equal(t, n, list.PendingCount)
}

func TestUpdateOrderStatusOnlyPatch(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{now: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)}
	svc, mem := newTestService(t, WithClock(clock.Now))

	created, err := svc.CreateOrder(context.Background(), samplePayload())
	require.NoError(t, err)

	clock.Advance(time.Minute)

	result, err := svc.UpdateOrder(context.Background(), created.ID, &OrderPayload{Status: "Processing"})
	require.NoError(t, err)
	assert.Nil(t, result.Warnings())

	updated := result.Order
	assert.Equal(t, models.OrderStatusProcessing, updated.Status)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	expected := created.Clone()
	expected.Status = updated.Status
	expected.UpdatedAt = updated.UpdatedAt
	assert.Equal(t, expected, updated)

	events := mem.OutboxMessages()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventOrderUpdated, events[1].EventType)
}

func TestUpdateOrderAdvancesTimestampWithFrozenClock(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{now: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)}
	svc, _ := newTestService(t, WithClock(clock.Now))

	created, err := svc.CreateOrder(context.Background(), samplePayload())
	require.NoError(t, err)

	result, err := svc.UpdateOrder(context.Background(), created.ID, &OrderPayload{Address: "12 MG Road"})
	require.NoError(t, err)

	assert.True(t, result.Order.UpdatedAt.After(created.UpdatedAt))
	assert.Equal(t, "12 MG Road", result.Order.Address)
}

func TestUpdateOrderNotFound(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	_, err := svc.UpdateOrder(context.Background(), "missing", &OrderPayload{Status: "Processing"})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apperrors.StatusCodeOf(err))
}

func TestUpdateOrderReplacingImageDeletesOldAsset(t *testing.T) {
	t.Parallel()

	assets := &fakeAssets{}
	svc, _ := newTestService(t, WithAssetStore(assets))

	payload := samplePayload()
	payload.OrderImage = &models.ImageRef{URL: "https://cdn.test/old.jpg", AssetID: "orders/old.jpg"}

	created, err := svc.CreateOrder(context.Background(), payload)
	require.NoError(t, err)

	result, err := svc.UpdateOrder(context.Background(), created.ID, &OrderPayload{
		OrderImage: &models.ImageRef{URL: "https://cdn.test/new.jpg", AssetID: "orders/new.jpg"},
	})
	require.NoError(t, err)

	assert.Equal(t, "orders/new.jpg", result.Order.OrderImage.AssetID)
	assert.Equal(t, []string{"orders/old.jpg"}, assets.deletes)
}

func TestUpdateOrderWithSameImageKeepsAsset(t *testing.T) {
	t.Parallel()

	assets := &fakeAssets{}
	svc, _ := newTestService(t, WithAssetStore(assets))

	payload := samplePayload()
	payload.OrderImage = &models.ImageRef{URL: "https://cdn.test/orders/a.jpg", AssetID: "orders/a.jpg"}

	created, err := svc.CreateOrder(context.Background(), payload)
	require.NoError(t, err)

	result, err := svc.UpdateOrder(context.Background(), created.ID, &OrderPayload{
		OrderImage: &models.ImageRef{URL: "https://cdn.test/orders/a.jpg"},
	})
	require.NoError(t, err)

	assert.Equal(t, "orders/a.jpg", result.Order.OrderImage.AssetID)
	assert.Zero(t, assets.deleteCount())
}

func TestPayloadIgnoresClientAssetIDs(t *testing.T) {
	t.Parallel()

	payload, err := DecodeOrderPayload(strings.NewReader(
		`{"orderImage":{"url":"https://cdn.test/orders/victim.jpg","assetId":"orders/victim.jpg"}}`))
	require.NoError(t, err)
	require.NotNil(t, payload.OrderImage)
	assert.Equal(t, "https://cdn.test/orders/victim.jpg", payload.OrderImage.URL)
	assert.Empty(t, payload.OrderImage.AssetID)

	payload, err = DecodeOrderPayload(strings.NewReader(`{"orderImage":{"assetId":"orders/victim.jpg"}}`))
	require.NoError(t, err)
	assert.Nil(t, payload.OrderImage)

	form, err := PayloadFromForm(map[string][]string{
		"orderImage": {`{"url":"https://cdn.test/x.jpg","assetId":"orders/x.jpg"}`},
	})
	require.NoError(t, err)
	require.NotNil(t, form.OrderImage)
	assert.Empty(t, form.OrderImage.AssetID)
}

func TestDeleteOrderWithFailingAssetStoreStillRemovesRecord(t *testing.T) {
	t.Parallel()

	assets := &fakeAssets{err: errors.New("bucket unavailable")}
	svc, mem := newTestService(t, WithAssetStore(assets))

	payload := samplePayload()
	payload.OrderImage = &models.ImageRef{URL: "https://cdn.test/a.jpg", AssetID: "orders/a.jpg"}

	created, err := svc.CreateOrder(context.Background(), payload)
	require.NoError(t, err)

	result, err := svc.DeleteOrder(context.Background(), created.ID)
	require.NoError(t, err)

	require.Len(t, result.Warnings(), 1)
	assert.Contains(t, result.Warnings()[0], "orders/a.jpg")
	assert.Equal(t, 3, assets.deleteCount())

	_, err = svc.GetOrder(context.Background(), created.ID)
	assert.Equal(t, http.StatusNotFound, apperrors.StatusCodeOf(err))

	events := mem.OutboxMessages()
	assert.Equal(t, models.EventOrderDeleted, events[len(events)-1].EventType)
}

func TestDeleteOrderNotFound(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	_, err := svc.DeleteOrder(context.Background(), "missing")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestSetStatus(t *testing.T) {
	t.Parallel()

	svc, mem := newTestService(t)

	created, err := svc.CreateOrder(context.Background(), samplePayload())
	require.NoError(t, err)

	_, err = svc.SetStatus(context.Background(), created.ID, "Unknown")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidStatus, apperrors.CodeOf(err))

	same, err := svc.SetStatus(context.Background(), created.ID, "Pending")
	require.NoError(t, err)
	assert.Equal(t, created.UpdatedAt, same.UpdatedAt)
	assert.Len(t, mem.OutboxMessages(), 1)

	moved, err := svc.SetStatus(context.Background(), created.ID, "Processing", Automatic())
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, moved.Status)

	events := mem.OutboxMessages()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventOrderStatusChanged, events[1].EventType)

	var decoded struct {
		Data models.StatusChange `json:"data"`
	}
	require.NoError(t, json.Unmarshal(events[1].Payload, &decoded))
	assert.True(t, decoded.Data.Automatic)
	assert.Equal(t, models.OrderStatusPending, decoded.Data.OldStatus)
}

func TestSetStatusBackwardsIsPermissiveByDefault(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	created, err := svc.CreateOrder(context.Background(), samplePayload())
	require.NoError(t, err)

	_, err = svc.SetStatus(context.Background(), created.ID, "Completed")
	require.NoError(t, err)

	back, err := svc.SetStatus(context.Background(), created.ID, "Pending")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, back.Status)
}

func TestSetStatusStrictRejectsBackwards(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, WithStrictTransitions(true))

	created, err := svc.CreateOrder(context.Background(), samplePayload())
	require.NoError(t, err)

	_, err = svc.SetStatus(context.Background(), created.ID, "Shipped")
	require.NoError(t, err)

	_, err = svc.SetStatus(context.Background(), created.ID, "Processing")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidTransition, apperrors.CodeOf(err))
	assert.Equal(t, http.StatusConflict, apperrors.StatusCodeOf(err))
}

func TestSetStatusExpectedStatus(t *testing.T) {
	t.Parallel()

	svc, mem := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateOrder(ctx, samplePayload())
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, created.ID, "Shipped")
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, created.ID, "Processing", Automatic(), ExpectStatus(models.OrderStatusPending))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStatusChanged)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, apperrors.CodeStatusChanged, apperrors.CodeOf(err))
	assert.Equal(t, http.StatusConflict, apperrors.StatusCodeOf(err))

	got, err := svc.GetOrder(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, got.Status)
	assert.Len(t, mem.OutboxMessages(), 2)
}

// concurrentEditRepository completes the order right after it has been read
type concurrentEditRepository struct {
	repository.OrderRepository
	once sync.Once
}

func (r *concurrentEditRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	order, err := r.OrderRepository.GetByID(ctx, id)

	if err != nil {
		return nil, err
	}

	r.once.Do(func() {
		edited := order.Clone()
		edited.Status = models.OrderStatusCompleted
		err = r.OrderRepository.Update(ctx, edited, nil)
	})
	return order, err
}

func TestSetStatusDoesNotOverwriteConcurrentChange(t *testing.T) {
	t.Parallel()

	mem := repository.NewMemoryStore()
	orders := mem.Repositories().Orders

	seed := NewOrderService(orders, logger.NewNop())
	created, err := seed.CreateOrder(context.Background(), samplePayload())
	require.NoError(t, err)

	svc := NewOrderService(&concurrentEditRepository{OrderRepository: orders}, logger.NewNop())

	_, err = svc.SetStatus(context.Background(), created.ID, "Processing")
	assert.ErrorIs(t, err, ErrStatusChanged)

	got, err := orders.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, got.Status)
}

func TestListOrdersPendingCountAndFilter(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	var ids []string

	for i := 0; i < 3; i++ {
		order, err := svc.CreateOrder(ctx, samplePayload())
		require.NoError(t, err)
		ids = append(ids, order.ID)
	}

	_, err := svc.SetStatus(ctx, ids[0], "Processing")
	require.NoError(t, err)

	list, err := svc.ListOrders(ctx, repository.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, list.Orders, 3)
	assert.Equal(t, 2, list.PendingCount)

	processing, err := svc.ListOrders(ctx, repository.OrderFilter{Status: models.OrderStatusProcessing})
	require.NoError(t, err)
	require.Len(t, processing.Orders, 1)
	assert.Equal(t, ids[0], processing.Orders[0].ID)

	_, err = svc.ListOrders(ctx, repository.OrderFilter{Status: "pending"})
	assert.Equal(t, apperrors.CodeInvalidStatus, apperrors.CodeOf(err))
}

func TestCatalogEnforcement(t *testing.T) {
	t.Parallel()

	mem := repository.NewMemoryStore()
	store := mem.Repositories()
	ctx := context.Background()

	require.NoError(t, store.Products.Create(ctx, &models.Template{
		ID:      "tpl-1",
		Name:    "Shirt",
		Sizes:   []string{"S", "M", "L"},
		Details: []models.DetailField{{Label: "Collar", Key: "collar", Options: []string{"Round", "Mandarin"}}},
	}))

	svc := NewOrderService(store.Orders, logger.NewNop(), WithCatalog(store.Products))

	_, err := svc.CreateOrder(ctx, samplePayload())
	require.NoError(t, err)

	unknownSize := samplePayload()
	unknownSize.Items[0].Sizes = json.RawMessage(`{"XXL":{"quantity":1,"price":1}}`)
	_, err = svc.CreateOrder(ctx, unknownSize)
	assert.Equal(t, apperrors.CodeUnknownSize, apperrors.CodeOf(err))

	unknownOption := samplePayload()
	unknownOption.Items[0].Details = json.RawMessage(`{"collar":"Spread"}`)
	_, err = svc.CreateOrder(ctx, unknownOption)
	assert.Equal(t, apperrors.CodeUnknownDetail, apperrors.CodeOf(err))

	unknownProduct := samplePayload()
	unknownProduct.Items[0].Product = "Kurta"
	_, err = svc.CreateOrder(ctx, unknownProduct)
	assert.Equal(t, apperrors.CodeUnknownProduct, apperrors.CodeOf(err))
}

func TestPayloadJSONAndFormAreEquivalent(t *testing.T) {
	t.Parallel()

	body := `{
		"customerName": " Asha Rao ",
		"phone": "9876543210",
		"deliveryDate": "2024-06-20",
		"product": "Shirt",
		"items": [{"product": "Shirt", "sizes": {"S": {"quantity": 2, "price": 500}}, "details": {"collar": "Round"}}],
		"advancePayments": [{"amount": 200}],
		"orderImage": "https://cdn.test/a.jpg"
	}`

	fromJSON, err := DecodeOrderPayload(strings.NewReader(body))
	require.NoError(t, err)

	fromForm, err := PayloadFromForm(map[string][]string{
		"customerName":    {"Asha Rao"},
		"phone":           {"9876543210"},
		"deliveryDate":    {"2024-06-20"},
		"product":         {"Shirt"},
		"items":           {`[{"product":"Shirt","sizes":{"S":{"quantity":2,"price":500}},"details":{"collar":"Round"}}]`},
		"advancePayments": {`[{"amount":200}]`},
		"orderImage":      {"https://cdn.test/a.jpg"},
	})
	require.NoError(t, err)

	assert.Equal(t, "9876543210", fromJSON.MobileNumber)
	assert.Equal(t, fromJSON.CustomerName, fromForm.CustomerName)
	assert.Equal(t, fromJSON.MobileNumber, fromForm.MobileNumber)
	assert.Equal(t, fromJSON.Items, fromForm.Items)
	assert.Equal(t, fromJSON.OrderImage, fromForm.OrderImage)
	require.Len(t, fromForm.AdvancePayments, 1)
	assert.True(t, fromJSON.AdvancePayments[0].Amount.Equal(fromForm.AdvancePayments[0].Amount))
}

func TestPayloadFromFormRejectsMalformedItems(t *testing.T) {
	t.Parallel()

	_, err := PayloadFromForm(map[string][]string{"items": {"not json"}})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidPayload, apperrors.CodeOf(err))
}

func TestParseDeliveryDateLayouts(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"2024-06-20", "2024-06-20T10:30", "2024-06-20T10:30:00", "2024-06-20T10:30:00Z", "2024-06-20T10:30:00+05:30"} {
		d, err := parseDeliveryDate(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, time.UTC, d.Location())
	}
}
