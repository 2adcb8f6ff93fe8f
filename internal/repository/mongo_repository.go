package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sajanshree/order-api/internal/database"
	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const outboxCounter = "outbox_seq"

// MongoOrderRepository stores orders as documents. Writes run in a multi-document
// transaction together with their outbox message, which requires a replica set.
type MongoOrderRepository struct {
	db     *database.MongoDatabase
	orders *mongo.Collection
	outbox *MongoOutboxRepository
	logger logger.Logger
}

// NewMongoOrderRepository creates a new MongoOrderRepository
func NewMongoOrderRepository(db *database.MongoDatabase, outbox *MongoOutboxRepository, logger logger.Logger) *MongoOrderRepository {
	return &MongoOrderRepository{
		db:     db,
		orders: db.DB.Collection(database.OrdersCollection),
		outbox: outbox,
		logger: logger,
	}
}

func (r *MongoOrderRepository) inTx(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := r.db.Client.StartSession()

	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (r *MongoOrderRepository) wrap(op, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrStatusMismatch):
		return ErrStatusMismatch
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	default:
		r.logger.Error("Failed to "+op+" order", "error", err, "orderID", id)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
}

// Create inserts a new order and its event in one transaction
func (r *MongoOrderRepository) Create(ctx context.Context, order *models.Order, event *models.OutboxMessage) error {
	err := r.inTx(ctx, func(sc mongo.SessionContext) error {
		if _, err := r.orders.InsertOne(sc, order); err != nil {
			return err
		}
		return r.outbox.insert(sc, event)
	})

	return r.wrap("create", order.ID, err)
}

// GetByID retrieves an order by its ID
func (r *MongoOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := r.orders.FindOne(ctx, bson.M{"_id": id}).Decode(&order)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, r.wrap("get", id, err)
	}

	normalizeOrder(&order)
	return &order, nil
}

func normalizeOrder(o *models.Order) {
	o.OrderDate = o.OrderDate.UTC()
	o.DeliveryDate = o.DeliveryDate.UTC()
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()

	if o.Items == nil {
		o.Items = []models.Item{}
	}

	if o.AdvancePayments == nil {
		o.AdvancePayments = []models.AdvancePayment{}
	}
}

func (r *MongoOrderRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Order, error) {
	cursor, err := r.orders.Find(ctx, filter, opts)

	if err != nil {
		return nil, r.wrap("find", "", err)
	}
	defer cursor.Close(ctx)

	orders := []*models.Order{}

	for cursor.Next(ctx) {
		var order models.Order

		if err := cursor.Decode(&order); err != nil {
			return nil, r.wrap("decode", "", err)
		}

		normalizeOrder(&order)
		orders = append(orders, &order)
	}

	if err := cursor.Err(); err != nil {
		return nil, r.wrap("iterate", "", err)
	}

	return orders, nil
}

// List retrieves orders matching the filter, newest first
func (r *MongoOrderRepository) List(ctx context.Context, filter OrderFilter) ([]*models.Order, error) {
	query := bson.M{}

	if filter.Status != "" {
		query["status"] = filter.Status
	}

	delivery := bson.M{}

	if !filter.DeliveredBefore.IsZero() {
		delivery["$lt"] = filter.DeliveredBefore
	}

	if !filter.DeliveredAfter.IsZero() {
		delivery["$gt"] = filter.DeliveredAfter
	}

	if len(delivery) > 0 {
		query["deliveryDate"] = delivery
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})

	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	return r.find(ctx, query, opts)
}

// CountByStatus counts orders in the given status
func (r *MongoOrderRepository) CountByStatus(ctx context.Context, status models.OrderStatus) (int, error) {
	count, err := r.orders.CountDocuments(ctx, bson.M{"status": status})

	if err != nil {
		return 0, r.wrap("count", "", err)
	}
	return int(count), nil
}

// FindOverdue returns Pending orders whose delivery date has passed
func (r *MongoOrderRepository) FindOverdue(ctx context.Context, asOf time.Time) ([]*models.Order, error) {
	query := bson.M{
		"status":       models.OrderStatusPending,
		"deliveryDate": bson.M{"$lt": asOf},
	}

	return r.find(ctx, query, options.Find().SetSort(bson.D{{Key: "deliveryDate", Value: 1}}))
}

// Update replaces an existing order and records its event
func (r *MongoOrderRepository) Update(ctx context.Context, order *models.Order, event *models.OutboxMessage) error {
	err := r.inTx(ctx, func(sc mongo.SessionContext) error {
		result, err := r.orders.ReplaceOne(sc, bson.M{"_id": order.ID}, order)

		if err != nil {
			return err
		}

		if result.MatchedCount == 0 {
			return ErrNotFound
		}

		return r.outbox.insert(sc, event)
	})

	return r.wrap("update", order.ID, err)
}

// UpdateStatus changes the status only while the stored one is still from
func (r *MongoOrderRepository) UpdateStatus(ctx context.Context, order *models.Order, from models.OrderStatus, event *models.OutboxMessage) error {
	err := r.inTx(ctx, func(sc mongo.SessionContext) error {
		result, err := r.orders.UpdateOne(sc,
			bson.M{"_id": order.ID, "status": from},
			bson.M{"$set": bson.M{"status": order.Status, "updatedAt": order.UpdatedAt}})

		if err != nil {
			return err
		}

		if result.MatchedCount == 0 {
			count, err := r.orders.CountDocuments(sc, bson.M{"_id": order.ID})

			if err != nil {
				return err
			}

			if count == 0 {
				return ErrNotFound
			}
			return ErrStatusMismatch
		}

		return r.outbox.insert(sc, event)
	})

	return r.wrap("update status of", order.ID, err)
}

// Delete deletes an order by its ID
func (r *MongoOrderRepository) Delete(ctx context.Context, id string, event *models.OutboxMessage) error {
	err := r.inTx(ctx, func(sc mongo.SessionContext) error {
		result, err := r.orders.DeleteOne(sc, bson.M{"_id": id})

		if err != nil {
			return err
		}

		if result.DeletedCount == 0 {
			return ErrNotFound
		}

		return r.outbox.insert(sc, event)
	})

	return r.wrap("delete", id, err)
}

// MongoTemplateRepository stores the templates of one catalog in its own collection
type MongoTemplateRepository struct {
	coll   *mongo.Collection
	logger logger.Logger
}

// NewMongoTemplateRepository creates a repository over the named collection
func NewMongoTemplateRepository(db *database.MongoDatabase, collection string, logger logger.Logger) *MongoTemplateRepository {
	return &MongoTemplateRepository{
		coll:   db.DB.Collection(collection),
		logger: logger.With("catalog", collection),
	}
}

func (r *MongoTemplateRepository) wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	default:
		r.logger.Error("Failed to "+op+" template", "error", err)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
}

func (r *MongoTemplateRepository) findOne(ctx context.Context, filter bson.M) (*models.Template, error) {
	var tpl models.Template

	if err := r.coll.FindOne(ctx, filter).Decode(&tpl); err != nil {
		return nil, r.wrap("get", err)
	}

	tpl.Normalize()
	return &tpl, nil
}

// Create inserts a new template
func (r *MongoTemplateRepository) Create(ctx context.Context, tpl *models.Template) error {
	tpl.Normalize()

	_, err := r.coll.InsertOne(ctx, tpl)
	return r.wrap("create", err)
}

// GetByID retrieves a template by its ID
func (r *MongoTemplateRepository) GetByID(ctx context.Context, id string) (*models.Template, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// GetByName retrieves a template by its unique name
func (r *MongoTemplateRepository) GetByName(ctx context.Context, name string) (*models.Template, error) {
	return r.findOne(ctx, bson.M{"name": name})
}

// List returns every template ordered by name
func (r *MongoTemplateRepository) List(ctx context.Context) ([]*models.Template, error) {
	cursor, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))

	if err != nil {
		return nil, r.wrap("list", err)
	}
	defer cursor.Close(ctx)

	var templates []*models.Template

	if err := cursor.All(ctx, &templates); err != nil {
		return nil, r.wrap("decode", err)
	}

	if templates == nil {
		templates = []*models.Template{}
	}

	for _, t := range templates {
		t.Normalize()
	}
	return templates, nil
}

// Update replaces a template
func (r *MongoTemplateRepository) Update(ctx context.Context, tpl *models.Template) error {
	tpl.Normalize()

	result, err := r.coll.ReplaceOne(ctx, bson.M{"_id": tpl.ID}, tpl)

	if err != nil {
		return r.wrap("update", err)
	}

	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a template by its ID
func (r *MongoTemplateRepository) Delete(ctx context.Context, id string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})

	if err != nil {
		return r.wrap("delete", err)
	}

	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendOption pushes the option onto the matching detail in a single conditional update.
// When nothing matches, the current document tells which precondition failed.
func (r *MongoTemplateRepository) AppendOption(ctx context.Context, name, detailKey, option string, at time.Time) (*models.Template, error) {
	filter := bson.M{
		"name": name,
		"details": bson.M{"$elemMatch": bson.M{
			"key":     detailKey,
			"options": bson.M{"$ne": option},
		}},
	}

	update := bson.M{
		"$push": bson.M{"details.$.options": option},
		"$set":  bson.M{"updatedAt": at},
	}

	var tpl models.Template
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&tpl)

	if err == nil {
		tpl.Normalize()
		return &tpl, nil
	}

	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, r.wrap("append option to", err)
	}

	current, err := r.GetByName(ctx, name)

	if err != nil {
		return nil, err
	}

	return nil, appendFailure(current, detailKey, option)
}

// appendFailure tells which precondition of a conditional option push did not hold
func appendFailure(current *models.Template, detailKey, option string) error {
	detail, ok := current.Detail(detailKey)

	if !ok {
		return models.ErrDetailNotFound
	}

	if detail.HasOption(option) {
		return models.ErrOptionExists
	}

	// The document changed between the two reads
	return fmt.Errorf("%w: concurrent template update", ErrDatabase)
}

// MongoOutboxRepository stores outbox messages with a monotonically increasing seq
type MongoOutboxRepository struct {
	coll     *mongo.Collection
	counters *mongo.Collection
	logger   logger.Logger
}

// NewMongoOutboxRepository creates a new MongoOutboxRepository
func NewMongoOutboxRepository(db *database.MongoDatabase, logger logger.Logger) *MongoOutboxRepository {
	return &MongoOutboxRepository{
		coll:     db.DB.Collection(database.OutboxCollection),
		counters: db.DB.Collection(database.CountersCollection),
		logger:   logger,
	}
}

func (r *MongoOutboxRepository) nextSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": outboxCounter},
		bson.M{"$inc": bson.M{"seq": 1}},
		opts,
	).Decode(&counter)

	return counter.Seq, err
}

func (r *MongoOutboxRepository) insert(ctx context.Context, message *models.OutboxMessage) error {
	if message == nil {
		return nil
	}

	seq, err := r.nextSeq(ctx)

	if err != nil {
		return fmt.Errorf("failed to allocate outbox sequence: %w", err)
	}

	message.ID = seq

	if _, err := r.coll.InsertOne(ctx, message); err != nil {
		return fmt.Errorf("failed to create outbox message: %w", err)
	}
	return nil
}

// GetPendingMessages retrieves pending outbox messages in sequence order
func (r *MongoOutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}).SetLimit(int64(limit))
	cursor, err := r.coll.Find(ctx, bson.M{"status": models.OutboxStatusPending}, opts)

	if err != nil {
		r.logger.Error("Failed to get pending outbox messages", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer cursor.Close(ctx)

	var messages []*models.OutboxMessage

	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return messages, nil
}

func (r *MongoOutboxRepository) update(ctx context.Context, op string, id int64, update bson.M) error {
	_, err := r.coll.UpdateOne(ctx, bson.M{"seq": id}, update)

	if err != nil {
		r.logger.Error("Failed to "+op+" outbox message", "error", err, "message_id", id)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}

// MarkAsProcessing updates the status of an outbox message to processing
func (r *MongoOutboxRepository) MarkAsProcessing(ctx context.Context, id int64) error {
	return r.update(ctx, "mark as processing", id, bson.M{
		"$set": bson.M{"status": models.OutboxStatusProcessing},
		"$inc": bson.M{"processingAttempts": 1},
	})
}

// MarkAsCompleted updates the status of an outbox message to completed
func (r *MongoOutboxRepository) MarkAsCompleted(ctx context.Context, id int64) error {
	return r.update(ctx, "mark as completed", id, bson.M{
		"$set": bson.M{"status": models.OutboxStatusCompleted, "processedAt": time.Now().UTC()},
	})
}

// MarkForRetry puts the message back in the pending queue
func (r *MongoOutboxRepository) MarkForRetry(ctx context.Context, id int64, errorMessage string) error {
	return r.update(ctx, "requeue", id, bson.M{
		"$set": bson.M{"status": models.OutboxStatusPending, "lastError": errorMessage},
	})
}

// MarkAsFailed updates the status of an outbox message to failed
func (r *MongoOutboxRepository) MarkAsFailed(ctx context.Context, id int64, errorMessage string) error {
	return r.update(ctx, "mark as failed", id, bson.M{
		"$set": bson.M{"status": models.OutboxStatusFailed, "lastError": errorMessage},
	})
}

// GetFailedMessages retrieves messages that exhausted their retries
func (r *MongoOutboxRepository) GetFailedMessages(ctx context.Context, limit, offset int) ([]*models.OutboxMessage, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "seq", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	cursor, err := r.coll.Find(ctx, bson.M{"status": models.OutboxStatusFailed}, opts)

	if err != nil {
		r.logger.Error("Failed to get failed outbox messages", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer cursor.Close(ctx)

	var messages []*models.OutboxMessage

	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return messages, nil
}

// Requeue gives a failed message a fresh set of attempts
func (r *MongoOutboxRepository) Requeue(ctx context.Context, id int64) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"seq": id, "status": models.OutboxStatusFailed},
		bson.M{"$set": bson.M{"status": models.OutboxStatusPending, "processingAttempts": 0}},
	)

	if err != nil {
		r.logger.Error("Failed to requeue outbox message", "error", err, "message_id", id)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
