package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/guttosm/quoteflow/config"
	"github.com/guttosm/quoteflow/internal/api"
	"github.com/guttosm/quoteflow/internal/broker"
	"github.com/guttosm/quoteflow/internal/consumer"
	"github.com/guttosm/quoteflow/internal/ingestion"
	"github.com/guttosm/quoteflow/internal/producer"
	"github.com/guttosm/quoteflow/internal/service"
	"github.com/guttosm/quoteflow/internal/storage"
)

// brokerDialer opens AMQP connections for every Manager built here; overridden in tests.
var brokerDialer broker.Dialer = broker.DialAMQP

// InitBroker builds the channel manager for the configured broker.
// No connection is made until the first Open, Publish or Ping.
func InitBroker(cfg *config.Config) *broker.Manager {
	return broker.NewManager(cfg.RabbitMQ, broker.WithDialer(brokerDialer))
}

// InitializeApp sets up all application dependencies and returns
// a fully configured Gin router, a cleanup function for graceful shutdown,
// and any error encountered during initialization.
//
// Responsibilities:
//   - Connects to PostgreSQL using InitPostgres().
//   - Initializes the repository and quote service.
//   - Builds the broker manager and the CSV producer on top of it.
//   - Configures the Gin router with all API routes.
//   - Registers health and readiness probes (postgres ping, broker dial).
//   - Provides a cleanup function to close resources (e.g., DB connection).
//
// Returns:
//   - *gin.Engine: the configured Gin HTTP router.
//   - func(): cleanup function to be executed on shutdown.
//   - error: any initialization error that occurred.
func InitializeApp(cfg *config.Config) (*gin.Engine, func(), error) {
	// indirection for unit testing
	db, err := postgresOpener(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	repo := storage.NewQuotesRepository(db)
	quotes := service.NewQuoteService(repo)

	// The producer opens a fresh broker connection per upload, so nothing is dialed here.
	mgr := InitBroker(cfg)
	prod := producer.NewProducer(mgr, cfg.RabbitMQ.Exchange, cfg.Server.UploadMaxBytes)

	handler := api.NewHandler(prod, quotes, cfg.Server.UploadMaxBytes)

	router := api.NewRouter(handler, api.RouterOptions{
		RateLimitRequests: cfg.Server.RateLimitRequests,
		RateLimitWindow:   cfg.Server.RateLimitWindow,
	})

	api.NewHealthHandler(
		api.Check{Name: "postgres", Fn: db.PingContext},
		api.Check{Name: "rabbitmq", Fn: func(ctx context.Context) error { return mgr.Ping(ctx) }},
	).Register(router)

	cleanup := func() {
		_ = db.Close()
	}

	return router, cleanup, nil
}

// InitConsumer wires the queue worker: Postgres repository -> ingestion processor -> consumer.
// The returned cleanup closes the database pool once Run has returned.
func InitConsumer(cfg *config.Config) (*consumer.Consumer, func(), error) {
	db, err := postgresOpener(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	proc := ingestion.NewProcessor(storage.NewQuotesRepository(db))
	c := consumer.NewConsumer(InitBroker(cfg), proc, cfg.Consumer)

	return c, func() { _ = db.Close() }, nil
}
