package repository

import (
	"context"

	"github.com/sajanshree/order-api/internal/database"
	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/pkg/logger"
)

// NewPostgresStore wires the SQL repositories over one connection pool
func NewPostgresStore(db *database.Database, logger logger.Logger) *Store {
	outbox := NewOutboxRepository(db, logger)

	return &Store{
		Orders:       NewOrderRepository(db, outbox, logger),
		Products:     NewTemplateRepository(db, models.CatalogProducts, logger),
		OrderOptions: NewTemplateRepository(db, models.CatalogOrderOptions, logger),
		Outbox:       outbox,
		Close:        func(context.Context) error { return db.Close() },
	}
}

// NewMongoStore wires the document repositories over one client
func NewMongoStore(db *database.MongoDatabase, logger logger.Logger) *Store {
	outbox := NewMongoOutboxRepository(db, logger)

	return &Store{
		Orders:       NewMongoOrderRepository(db, outbox, logger),
		Products:     NewMongoTemplateRepository(db, database.ProductsCollection, logger),
		OrderOptions: NewMongoTemplateRepository(db, database.OrderOptionsCollection, logger),
		Outbox:       outbox,
		Close:        db.Close,
	}
}
