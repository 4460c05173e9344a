package main

import (
	"context"
	"net/http"

	"github.com/septivank/hue-event-logger/internal/api"
	"github.com/septivank/hue-event-logger/internal/config"
	"github.com/septivank/hue-event-logger/internal/db"
	"github.com/septivank/hue-event-logger/internal/diagnostics"
	"github.com/septivank/hue-event-logger/internal/health"
	"github.com/septivank/hue-event-logger/internal/hue"
	"github.com/septivank/hue-event-logger/internal/livequeue"
	"github.com/septivank/hue-event-logger/internal/mq"
	"github.com/septivank/hue-event-logger/internal/repository"
	"github.com/septivank/hue-event-logger/internal/retention"
	"github.com/septivank/hue-event-logger/internal/service"
	"github.com/septivank/hue-event-logger/internal/stream"
	"github.com/septivank/hue-event-logger/internal/tail"
	"github.com/septivank/hue-event-logger/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// startService forces construction of the lifecycle-owning components
func startService(
	cfg *config.Config,
	logger *zap.Logger,
	_ *http.Server,
	_ *stream.Manager,
	_ *retention.Janitor,
) {
	logger.Info("hue event logger wired",
		zap.Int("port", cfg.ServicePort),
		zap.Int("queue_size", cfg.Stream.QueueSize))
}

// ProvideStore selects the SQLite or PostgreSQL backend from DATABASE_URL and
// applies the schema on start
func ProvideStore(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (repository.Store, error) {
	var store repository.Store
	if db.IsSQLiteURL(cfg.Database.URL) {
		sqlDB, err := db.NewSQLite(lc, logger, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		store = repository.NewSQLiteRepository(sqlDB)
	} else {
		pool, err := db.NewPool(lc, logger, cfg.Database.URL, cfg.ServiceName)
		if err != nil {
			return nil, err
		}
		store = repository.NewRepository(pool)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := store.EnsureSchema(ctx); err != nil {
				logger.Error("[DATABASE SCHEMA FAILED] cannot create tables", zap.Error(err))
				return err
			}
			logger.Info("database schema ready")
			return nil
		},
	})

	return store, nil
}

// ProvideLiveQueue creates the bounded live tail queue
func ProvideLiveQueue(cfg *config.Config) *livequeue.Queue {
	return livequeue.New(cfg.Stream.QueueSize)
}

// ProvideDiagnosticsEngine creates the connectivity and battery diagnostics engine
func ProvideDiagnosticsEngine(store repository.Store, logger *zap.Logger) *diagnostics.Engine {
	return diagnostics.NewEngine(store, logger)
}

// ProvideValidator creates a new validator instance
func ProvideValidator() *validator.Validator {
	return validator.NewValidator()
}

// ProvideMQConnection creates a RabbitMQ connection, nil when publishing is disabled
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL, cfg.ServiceName)
}

// ProvidePublisher creates the broker publisher, or a discarding one without a connection
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (service.EventPublisher, error) {
	if conn == nil {
		return mq.Discard{}, nil
	}

	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})

	return publisher, nil
}

// ProvideDispatcher creates the event dispatcher
func ProvideDispatcher(
	store repository.Store,
	queue *livequeue.Queue,
	engine *diagnostics.Engine,
	publisher service.EventPublisher,
	validator *validator.Validator,
	logger *zap.Logger,
) *service.Dispatcher {
	return service.NewDispatcher(store, queue, engine, publisher, validator, logger)
}

// ProvideHueClient creates the bridge API client
func ProvideHueClient(cfg *config.Config) (*hue.Client, error) {
	return hue.NewClient(cfg.Hue.BaseURL(), cfg.Hue.AppKey, cfg.Hue.VerifyTLS)
}

// ProvideStreamManager creates the event stream manager and ties it to the lifecycle
func ProvideStreamManager(
	lc fx.Lifecycle,
	client *hue.Client,
	dispatcher *service.Dispatcher,
	store repository.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *stream.Manager {
	manager := stream.NewManager(client, dispatcher, store, stream.Config{
		ReadTimeout:    cfg.Stream.ReadTimeout,
		ReconnectDelay: cfg.Stream.ReconnectDelay,
		MaxFailures:    cfg.Stream.MaxFailures,
	}, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting event stream",
				zap.Duration("read_timeout", cfg.Stream.ReadTimeout),
				zap.Int("max_failures", cfg.Stream.MaxFailures))
			return manager.Start()
		},
		OnStop: func(ctx context.Context) error {
			manager.Stop()
			client.CloseIdleConnections()
			logger.Info("event stream stopped",
				zap.Int64("frames", dispatcher.Frames()),
				zap.Int64("events", dispatcher.Events()))
			return nil
		},
	})

	return manager
}

// ProvideTailMerger creates the live tail merger
func ProvideTailMerger(store repository.Store, queue *livequeue.Queue, cfg *config.Config, logger *zap.Logger) *tail.Merger {
	return tail.NewMerger(store, queue, tail.Config{
		DrainBatch:   cfg.Tail.DrainBatch,
		PollInterval: cfg.Tail.PollInterval,
		IdleSleep:    cfg.Tail.IdleSleep,
	}, logger)
}

// ProvideHealthScorer creates the device health scorer
func ProvideHealthScorer(cfg *config.Config) *health.Scorer {
	return health.NewScorer(health.DefaultWeights(), cfg.Health.StaleAfter)
}

// ProvideJanitor creates the event retention janitor and ties it to the lifecycle
func ProvideJanitor(lc fx.Lifecycle, store repository.Store, cfg *config.Config, logger *zap.Logger) *retention.Janitor {
	janitor := retention.NewJanitor(store, cfg.Retention.Days, cfg.Retention.Interval, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			janitor.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			janitor.Stop()
			return nil
		},
	})

	return janitor
}

// ProvideRouter creates the HTTP handlers and router
func ProvideRouter(
	store repository.Store,
	merger *tail.Merger,
	manager *stream.Manager,
	queue *livequeue.Queue,
	engine *diagnostics.Engine,
	scorer *health.Scorer,
	logger *zap.Logger,
) *api.Router {
	return api.NewRouter(api.NewHandlers(store, merger, manager, queue, engine, scorer, logger))
}

// ProvideHTTPServer creates the HTTP server
func ProvideHTTPServer(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config, router *api.Router) *http.Server {
	return api.NewServer(lc, logger, cfg.ServicePort, router)
}
