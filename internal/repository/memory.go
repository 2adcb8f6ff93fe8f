package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sajanshree/order-api/internal/models"
)

// MemoryStore is an in-process backend for local development and tests. Each write holds a single lock,
// which gives the same all-or-nothing behaviour as the transactional backends.
type MemoryStore struct {
	mu        sync.RWMutex
	orders    map[string]*models.Order
	orderIDs  map[string]string
	templates map[string]map[string]*models.Template
	outbox    []*models.OutboxMessage
	nextSeq   int64
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*models.Order),
		orderIDs: make(map[string]string),
		templates: map[string]map[string]*models.Template{
			models.CatalogProducts:     {},
			models.CatalogOrderOptions: {},
		},
	}
}

// Repositories exposes the store through the repository interfaces
func (m *MemoryStore) Repositories() *Store {
	return &Store{
		Orders:       &memoryOrders{m},
		Products:     &memoryTemplates{store: m, kind: models.CatalogProducts},
		OrderOptions: &memoryTemplates{store: m, kind: models.CatalogOrderOptions},
		Outbox:       &memoryOutbox{m},
		Close:        func(context.Context) error { return nil },
	}
}

// OutboxMessages returns a copy of every recorded event
func (m *MemoryStore) OutboxMessages() []models.OutboxMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.OutboxMessage, 0, len(m.outbox))

	for _, msg := range m.outbox {
		out = append(out, *msg)
	}
	return out
}

func (m *MemoryStore) appendEvent(event *models.OutboxMessage) {
	if event == nil {
		return
	}

	m.nextSeq++
	event.ID = m.nextSeq
	stored := *event
	m.outbox = append(m.outbox, &stored)
}

type memoryOrders struct {
	*MemoryStore
}

func (r *memoryOrders) Create(_ context.Context, order *models.Order, event *models.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return ErrDuplicate
	}

	if order.OrderID != "" {
		if _, taken := r.orderIDs[order.OrderID]; taken {
			return ErrDuplicate
		}
		r.orderIDs[order.OrderID] = order.ID
	}

	r.orders[order.ID] = order.Clone()
	r.appendEvent(event)
	return nil
}

func (r *memoryOrders) GetByID(_ context.Context, id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]

	if !ok {
		return nil, ErrNotFound
	}
	return order.Clone(), nil
}

func (r *memoryOrders) List(_ context.Context, filter OrderFilter) ([]*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var orders []*models.Order

	for _, o := range r.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}

		if !filter.DeliveredBefore.IsZero() && !o.DeliveryDate.Before(filter.DeliveredBefore) {
			continue
		}

		if !filter.DeliveredAfter.IsZero() && !o.DeliveryDate.After(filter.DeliveredAfter) {
			continue
		}
		orders = append(orders, o.Clone())
	}

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})

	return paginate(orders, filter.Limit, filter.Offset), nil
}

func paginate(orders []*models.Order, limit, offset int) []*models.Order {
	if offset > 0 {
		if offset >= len(orders) {
			return []*models.Order{}
		}
		orders = orders[offset:]
	}

	if limit > 0 && limit < len(orders) {
		orders = orders[:limit]
	}

	if orders == nil {
		return []*models.Order{}
	}
	return orders
}

func (r *memoryOrders) CountByStatus(_ context.Context, status models.OrderStatus) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0

	for _, o := range r.orders {
		if o.Status == status {
			count++
		}
	}
	return count, nil
}

func (r *memoryOrders) FindOverdue(_ context.Context, asOf time.Time) ([]*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var overdue []*models.Order

	for _, o := range r.orders {
		if o.IsOverdue(asOf) {
			overdue = append(overdue, o.Clone())
		}
	}

	sort.Slice(overdue, func(i, j int) bool { return overdue[i].DeliveryDate.Before(overdue[j].DeliveryDate) })
	return overdue, nil
}

func (r *memoryOrders) Update(_ context.Context, order *models.Order, event *models.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.orders[order.ID]

	if !ok {
		return ErrNotFound
	}

	if order.OrderID != existing.OrderID {
		if owner, taken := r.orderIDs[order.OrderID]; taken && owner != order.ID {
			return ErrDuplicate
		}
		delete(r.orderIDs, existing.OrderID)

		if order.OrderID != "" {
			r.orderIDs[order.OrderID] = order.ID
		}
	}

	r.orders[order.ID] = order.Clone()
	r.appendEvent(event)
	return nil
}

func (r *memoryOrders) UpdateStatus(_ context.Context, order *models.Order, from models.OrderStatus, event *models.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.orders[order.ID]

	if !ok {
		return ErrNotFound
	}

	if existing.Status != from {
		return ErrStatusMismatch
	}

	existing.Status = order.Status
	existing.UpdatedAt = order.UpdatedAt
	r.appendEvent(event)
	return nil
}

func (r *memoryOrders) Delete(_ context.Context, id string, event *models.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.orders[id]

	if !ok {
		return ErrNotFound
	}

	delete(r.orderIDs, existing.OrderID)
	delete(r.orders, id)
	r.appendEvent(event)
	return nil
}

type memoryTemplates struct {
	store *MemoryStore
	kind  string
}

func (r *memoryTemplates) byID() map[string]*models.Template {
	return r.store.templates[r.kind]
}

func (r *memoryTemplates) findByName(name string) *models.Template {
	for _, t := range r.byID() {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func (r *memoryTemplates) Create(_ context.Context, tpl *models.Template) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if r.findByName(tpl.Name) != nil {
		return ErrDuplicate
	}

	r.byID()[tpl.ID] = tpl.Clone()
	return nil
}

func (r *memoryTemplates) GetByID(_ context.Context, id string) (*models.Template, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	tpl, ok := r.byID()[id]

	if !ok {
		return nil, ErrNotFound
	}
	return tpl.Clone(), nil
}

func (r *memoryTemplates) GetByName(_ context.Context, name string) (*models.Template, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	tpl := r.findByName(name)

	if tpl == nil {
		return nil, ErrNotFound
	}
	return tpl.Clone(), nil
}

func (r *memoryTemplates) List(_ context.Context) ([]*models.Template, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	templates := make([]*models.Template, 0, len(r.byID()))

	for _, t := range r.byID() {
		templates = append(templates, t.Clone())
	}

	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return templates, nil
}

func (r *memoryTemplates) Update(_ context.Context, tpl *models.Template) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.byID()[tpl.ID]; !ok {
		return ErrNotFound
	}

	if other := r.findByName(tpl.Name); other != nil && other.ID != tpl.ID {
		return ErrDuplicate
	}

	r.byID()[tpl.ID] = tpl.Clone()
	return nil
}

func (r *memoryTemplates) Delete(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.byID()[id]; !ok {
		return ErrNotFound
	}

	delete(r.byID(), id)
	return nil
}

func (r *memoryTemplates) AppendOption(_ context.Context, name, detailKey, option string, at time.Time) (*models.Template, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	tpl := r.findByName(name)

	if tpl == nil {
		return nil, ErrNotFound
	}

	if err := tpl.AddOption(detailKey, option); err != nil {
		return nil, err
	}

	tpl.UpdatedAt = at
	return tpl.Clone(), nil
}

type memoryOutbox struct {
	*MemoryStore
}

func (r *memoryOutbox) GetPendingMessages(_ context.Context, limit int) ([]*models.OutboxMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pending []*models.OutboxMessage

	for _, msg := range r.outbox {
		if msg.Status != models.OutboxStatusPending {
			continue
		}

		copied := *msg
		pending = append(pending, &copied)

		if limit > 0 && len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (r *memoryOutbox) update(id int64, fn func(*models.OutboxMessage)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, msg := range r.outbox {
		if msg.ID == id {
			fn(msg)
			return nil
		}
	}
	return ErrNotFound
}

func (r *memoryOutbox) MarkAsProcessing(_ context.Context, id int64) error {
	return r.update(id, func(m *models.OutboxMessage) {
		m.Status = models.OutboxStatusProcessing
		m.ProcessingAttempts++
	})
}

func (r *memoryOutbox) MarkAsCompleted(_ context.Context, id int64) error {
	return r.update(id, func(m *models.OutboxMessage) {
		now := models.GetCurrentTime()
		m.Status = models.OutboxStatusCompleted
		m.ProcessedAt = &now
	})
}

func (r *memoryOutbox) MarkForRetry(_ context.Context, id int64, errorMessage string) error {
	return r.update(id, func(m *models.OutboxMessage) {
		m.Status = models.OutboxStatusPending
		m.LastError = &errorMessage
	})
}

func (r *memoryOutbox) MarkAsFailed(_ context.Context, id int64, errorMessage string) error {
	return r.update(id, func(m *models.OutboxMessage) {
		m.Status = models.OutboxStatusFailed
		m.LastError = &errorMessage
	})
}

func (r *memoryOutbox) GetFailedMessages(_ context.Context, limit, offset int) ([]*models.OutboxMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var failed []*models.OutboxMessage

	for _, msg := range r.outbox {
		if msg.Status != models.OutboxStatusFailed {
			continue
		}

		if offset > 0 {
			offset--
			continue
		}

		copied := *msg
		failed = append(failed, &copied)

		if limit > 0 && len(failed) == limit {
			break
		}
	}
	return failed, nil
}

func (r *memoryOutbox) Requeue(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, msg := range r.outbox {
		if msg.ID == id && msg.Status == models.OutboxStatusFailed {
			msg.Status = models.OutboxStatusPending
			msg.ProcessingAttempts = 0
			return nil
		}
	}
	return ErrNotFound
}
