package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sajanshree/order-api/internal/assets"
	"github.com/sajanshree/order-api/internal/auth"
	"github.com/sajanshree/order-api/internal/config"
	"github.com/sajanshree/order-api/internal/database"
	"github.com/sajanshree/order-api/internal/handlers"
	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/internal/outbox"
	"github.com/sajanshree/order-api/internal/repository"
	"github.com/sajanshree/order-api/internal/scheduler"
	"github.com/sajanshree/order-api/internal/service"
	"github.com/sajanshree/order-api/pkg/kafka"
	"github.com/sajanshree/order-api/pkg/logger"
)

// Deps are the collaborators a Server runs on
type Deps struct {
	Store *repository.Store
	// Ping checks store reachability for /health. Nil skips the check.
	Ping   func(ctx context.Context) error
	Assets service.AssetStore
	// Authenticator verifies bearer tokens. Nil disables authentication.
	Authenticator *auth.Authenticator
	// Publisher relays outbox events. Nil logs them instead.
	Publisher kafka.Publisher
	Consumer  *kafka.Consumer
	Closers   []func(ctx context.Context) error
}

// Server is the HTTP API plus its background workers
type Server struct {
	config          *config.Config
	logger          logger.Logger
	router          *mux.Router
	httpServer      *http.Server
	store           *repository.Store
	ping            func(ctx context.Context) error
	assets          service.AssetStore
	authenticator   *auth.Authenticator
	orderService    *service.OrderService
	products        *service.CatalogService
	orderOptions    *service.CatalogService
	sweeper         *scheduler.OverdueSweeper
	outboxProcessor *outbox.Processor
	publisher       kafka.Publisher
	kafkaConsumer   *kafka.Consumer
	closers         []func(ctx context.Context) error
}

// NewServer connects the configured backends and builds the server
func NewServer(ctx context.Context, cfg *config.Config, logger logger.Logger) (*Server, error) {
	deps := Deps{}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := database.New(cfg, logger)

		if err != nil {
			return nil, err
		}

		if err := db.RunMigrations(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}

		deps.Store = repository.NewPostgresStore(db, logger)
		deps.Ping = db.Ping
	case config.DriverMongo:
		mdb, err := database.NewMongo(ctx, cfg, logger)

		if err != nil {
			return nil, err
		}

		if err := mdb.EnsureIndexes(ctx); err != nil {
			_ = mdb.Close(ctx)
			return nil, err
		}

		deps.Store = repository.NewMongoStore(mdb, logger)
		deps.Ping = func(ctx context.Context) error { return mdb.Client.Ping(ctx, nil) }
	default:
		logger.Warn("Using in-memory store, data is lost on restart")
		deps.Store = repository.NewMemoryStore().Repositories()
	}
	deps.Closers = append(deps.Closers, deps.Store.Close)

	if cfg.Assets.Bucket != "" {
		gcs, err := assets.NewGCSStore(ctx, cfg.Assets, logger)

		if err != nil {
			return nil, err
		}

		deps.Assets = gcs
		deps.Closers = append(deps.Closers, func(context.Context) error { return gcs.Close() })
	} else {
		logger.Warn("ASSET_BUCKET not set, image uploads are disabled")
		deps.Assets = assets.NewNoopStore(logger)
	}

	if cfg.Auth.JWTSecret != "" {
		deps.Authenticator = auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	} else {
		logger.Warn("AUTH_JWT_SECRET not set, API authentication is disabled")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers, ClientID: "order-api"}, logger)

		if err != nil {
			return nil, err
		}
		deps.Publisher = producer

		if cfg.Kafka.ConsumerGroup != "" {
			consumer, err := kafka.NewConsumer(&kafka.ConsumerConfig{
				Brokers:       cfg.Kafka.Brokers,
				Topics:        []string{cfg.Kafka.OrdersTopic},
				ConsumerGroup: cfg.Kafka.ConsumerGroup,
			}, logger)

			if err != nil {
				logger.Error("Failed to create Kafka consumer", "error", err)
			} else {
				consumer.RegisterHandler(cfg.Kafka.OrdersTopic,
					handlers.NewOrderEventsHandler(handlers.NewLogNotifier(logger), logger))
				deps.Consumer = consumer
			}
		}
	}

	return New(cfg, logger, deps), nil
}

// New builds the server around already connected collaborators
func New(cfg *config.Config, logger logger.Logger, deps Deps) *Server {
	if deps.Assets == nil {
		deps.Assets = assets.NewNoopStore(logger)
	}

	opts := []service.Option{
		service.WithStrictTransitions(cfg.StrictStatusTransitions),
		service.WithAssetStore(deps.Assets),
	}

	if cfg.EnforceCatalog {
		opts = append(opts, service.WithCatalog(deps.Store.Products))
	}

	orderService := service.NewOrderService(deps.Store.Orders, logger, opts...)

	sweeper := scheduler.NewOverdueSweeper(orderService, scheduler.Config{
		Hour:       cfg.Sweep.Hour,
		Minute:     cfg.Sweep.Minute,
		Location:   cfg.Sweep.Location,
		RunOnStart: cfg.Sweep.OnStart,
	}, logger)

	processor := outbox.NewProcessor(deps.Store.Outbox, outbox.ProcessorConfig{
		PollingInterval: cfg.Outbox.PollingInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxRetries:      cfg.Outbox.MaxRetries,
	}, logger)

	if deps.Publisher != nil {
		outbox.RegisterAll(processor, outbox.NewKafkaHandler(deps.Publisher, cfg.Kafka.OrdersTopic, logger))
	} else {
		outbox.RegisterAll(processor, outbox.NewLoggingHandler(logger))
	}

	r := mux.NewRouter()

	s := &Server{
		config: cfg,
		logger: logger,
		router: r,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		store:           deps.Store,
		ping:            deps.Ping,
		assets:          deps.Assets,
		authenticator:   deps.Authenticator,
		orderService:    orderService,
		products:        service.NewCatalogService(models.CatalogProducts, deps.Store.Products, logger),
		orderOptions:    service.NewCatalogService(models.CatalogOrderOptions, deps.Store.OrderOptions, logger),
		sweeper:         sweeper,
		outboxProcessor: processor,
		publisher:       deps.Publisher,
		kafkaConsumer:   deps.Consumer,
		closers:         deps.Closers,
	}

	s.setupRoutes()
	return s
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the background workers and then serves HTTP until shutdown
func (s *Server) Start() error {
	s.outboxProcessor.Start()

	if s.config.Sweep.Enabled {
		s.sweeper.Start()
	}

	if s.kafkaConsumer != nil {
		if err := s.kafkaConsumer.Start(); err != nil {
			s.logger.Error("Failed to start Kafka consumer", "error", err)
		}
	}

	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, then the workers, then releases connections
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	s.sweeper.Stop()
	s.outboxProcessor.Stop()

	if s.kafkaConsumer != nil {
		if err := s.kafkaConsumer.Stop(); err != nil {
			s.logger.Error("Error stopping Kafka consumer", "error", err)
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("Error closing Kafka producer", "error", err)
		}
	}

	for _, closeFn := range s.closers {
		if err := closeFn(ctx); err != nil {
			s.logger.Error("Error closing resource", "error", err)
		}
	}

	return err
}

// setupRoutes configures all the routes of the API
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)

	protected := api.NewRoute().Subrouter()
	protected.Use(s.authMiddleware)

	protected.HandleFunc("/orders", s.listOrdersHandler).Methods(http.MethodGet)
	protected.HandleFunc("/orders", s.createOrderHandler).Methods(http.MethodPost)
	protected.HandleFunc("/orders/{id}", s.getOrderHandler).Methods(http.MethodGet)
	protected.HandleFunc("/orders/{id}", s.updateOrderHandler).Methods(http.MethodPut, http.MethodPatch)
	protected.HandleFunc("/orders/{id}", s.deleteOrderHandler).Methods(http.MethodDelete)
	protected.HandleFunc("/orders/{id}/status", s.updateOrderStatusHandler).Methods(http.MethodPut, http.MethodPatch)

	s.registerCatalogRoutes(protected, "/products", s.products)
	s.registerCatalogRoutes(protected, "/order-options", s.orderOptions)

	admin := protected.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireRole(auth.RoleAdmin))
	admin.HandleFunc("/sweeps/overdue", s.runOverdueSweepHandler).Methods(http.MethodPost)
	admin.HandleFunc("/dead-letters", s.getDeadLettersHandler).Methods(http.MethodGet)
	admin.HandleFunc("/dead-letters/{id}/retry", s.retryDeadLetterHandler).Methods(http.MethodPost)
}
