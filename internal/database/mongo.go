package database

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/sajanshree/order-api/internal/config"
	"github.com/sajanshree/order-api/pkg/logger"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names
const (
	OrdersCollection       = "orders"
	ProductsCollection     = "products"
	OrderOptionsCollection = "order_options"
	OutboxCollection       = "outbox_messages"
	CountersCollection     = "counters"
)

// MongoDatabase wraps a connected client and the selected database
type MongoDatabase struct {
	Client *mongo.Client
	DB     *mongo.Database
	logger logger.Logger
}

// NewMongo connects and pings the document store
func NewMongo(ctx context.Context, cfg *config.Config, logger logger.Logger) (*MongoDatabase, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.Mongo.URI).SetRegistry(NewBSONRegistry())
	client, err := mongo.Connect(connectCtx, opts)

	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	logger.Info("Connected to MongoDB", "database", cfg.Mongo.Database)

	return &MongoDatabase{
		Client: client,
		DB:     client.Database(cfg.Mongo.Database),
		logger: logger,
	}, nil
}

// Close disconnects the client
func (m *MongoDatabase) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// EnsureIndexes creates the unique indexes the repositories rely on
func (m *MongoDatabase) EnsureIndexes(ctx context.Context) error {
	orderIndexes := []mongo.IndexModel{
		{
			// Sparse so orders without a human id never collide
			Keys:    bson.D{{Key: "orderId", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("uniq_order_id"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "deliveryDate", Value: 1}},
			Options: options.Index().SetName("status_delivery"),
		},
	}

	if _, err := m.DB.Collection(OrdersCollection).Indexes().CreateMany(ctx, orderIndexes); err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}

	for _, name := range []string{ProductsCollection, OrderOptionsCollection} {
		idx := mongo.IndexModel{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_name"),
		}

		if _, err := m.DB.Collection(name).Indexes().CreateOne(ctx, idx); err != nil {
			return fmt.Errorf("failed to create %s index: %w", name, err)
		}
	}

	outboxIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "status", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetName("status_seq"),
	}

	if _, err := m.DB.Collection(OutboxCollection).Indexes().CreateOne(ctx, outboxIdx); err != nil {
		return fmt.Errorf("failed to create outbox index: %w", err)
	}

	m.logger.Info("MongoDB indexes ensured")
	return nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// NewBSONRegistry returns the default registry plus a Decimal128 codec for decimal.Decimal
func NewBSONRegistry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeEncoder(decimalType, bsoncodec.ValueEncoderFunc(encodeDecimal))
	reg.RegisterTypeDecoder(decimalType, bsoncodec.ValueDecoderFunc(decodeDecimal))
	return reg
}

func encodeDecimal(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != decimalType {
		return bsoncodec.ValueEncoderError{Name: "DecimalEncodeValue", Types: []reflect.Type{decimalType}, Received: val}
	}

	d := val.Interface().(decimal.Decimal)
	d128, err := primitive.ParseDecimal128(d.String())

	if err != nil {
		return err
	}
	return vw.WriteDecimal128(d128)
}

func decodeDecimal(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != decimalType {
		return bsoncodec.ValueDecoderError{Name: "DecimalDecodeValue", Types: []reflect.Type{decimalType}, Received: val}
	}

	var (
		d   decimal.Decimal
		err error
	)

	switch vr.Type() {
	case bsontype.Decimal128:
		var d128 primitive.Decimal128

		if d128, err = vr.ReadDecimal128(); err == nil {
			d, err = decimal.NewFromString(d128.String())
		}
	case bsontype.Double:
		var f float64

		if f, err = vr.ReadDouble(); err == nil {
			d = decimal.NewFromFloat(f)
		}
	case bsontype.Int32:
		var i int32

		if i, err = vr.ReadInt32(); err == nil {
			d = decimal.NewFromInt(int64(i))
		}
	case bsontype.Int64:
		var i int64

		if i, err = vr.ReadInt64(); err == nil {
			d = decimal.NewFromInt(i)
		}
	case bsontype.String:
		var s string

		if s, err = vr.ReadString(); err == nil {
			d, err = decimal.NewFromString(s)
		}
	case bsontype.Null:
		err = vr.ReadNull()
	default:
		return fmt.Errorf("cannot decode %v into decimal.Decimal", vr.Type())
	}

	if err != nil {
		return err
	}

	val.Set(reflect.ValueOf(d))
	return nil
}
