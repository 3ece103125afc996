package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"postbox/internal/config"
	"postbox/internal/constants"
	"postbox/internal/delivery"
	"postbox/internal/ingest"
	"postbox/internal/logger"
	"postbox/internal/mediator"
	"postbox/internal/messaging"
	"postbox/internal/realtime"
	"postbox/internal/transaction"
	"postbox/internal/validation"
	"postbox/pkg/bootstrap"
	"postbox/pkg/circuitbreaker"
	"postbox/pkg/health"
	"postbox/pkg/metrics"
	"postbox/pkg/middleware"
	"postbox/pkg/migrations"
	"postbox/pkg/ratelimit"
	"postbox/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector

	db          *sql.DB
	redis       *redis.Client
	mongoClient *mongo.Client

	mediator *mediator.Mediator
	store    *delivery.PostgresStore
	relay    *delivery.Relay
	hub      *realtime.Hub
	bridge   *realtime.RedisBridge
	ingest   *ingest.Handler

	tracerProvider *tracing.TracerProvider
	server         *http.Server
	health         *health.CheckerRegistry
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		health:      health.NewCheckerRegistry(constants.HealthCheckTimeout),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.Register()

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	a.InitBroker(constants.ServiceName)

	if err := a.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	a.initHTTPServer(ctx)
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db
	a.health.Register(health.NewPostgreSQLChecker(db))

	if a.Config.Database.RunMigrations {
		if err := migrations.Up(db); err != nil {
			return err
		}
		a.Logger.InfowCtx(ctx, "Database migrations applied")
	}

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	if rdb != nil {
		a.redis = rdb
		a.health.Register(health.NewRedisChecker(rdb))
	}

	// The archive is optional; the service runs without it.
	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "MongoDB connection failed, continuing without archive", "error", err)
	} else if mongoClient != nil {
		a.mongoClient = mongoClient
		a.health.RegisterOptional(health.NewMongoDBChecker(mongoClient))
	}

	return nil
}

func (a *App) initPipeline(ctx context.Context) error {
	cfg := a.Config

	validator, err := validation.New(cfg.Validation.Policies, validation.WithLogger(a.Logger))
	if err != nil {
		return err
	}

	a.mediator = mediator.New(
		mediator.Recovery(a.Logger),
		mediator.Tracing(),
		mediator.Logging(a.Logger),
		mediator.Metrics(),
		validation.Behavior(validator),
	)

	a.store = delivery.NewPostgresStore(a.db, cfg.Delivery.Retention)

	var events delivery.EventPublisher
	if a.Producer != nil && cfg.Broker.Kafka.EventTopic != "" {
		cb := circuitbreaker.FromConfig("delivery-events", cfg.CircuitBreaker, nil)
		events = delivery.NewKafkaEventPublisher(a.Producer, cfg.Broker.Kafka.EventTopic, constants.ServiceName, cb, a.Logger)
	}

	transport, err := a.initTransport(ctx)
	if err != nil {
		return err
	}

	relayOpts := []delivery.RelayOption{}
	if a.redis != nil {
		relayOpts = append(relayOpts, delivery.WithLocker(delivery.NewRedisLocker(a.redis, a.Logger)))
	}
	if events != nil {
		relayOpts = append(relayOpts, delivery.WithEventPublisher(events))
	}
	if a.mongoClient != nil {
		mongoCfg := cfg.Database.MongoDB
		archiveDB := a.mongoClient.Database(mongoCfg.Database)
		if err := migrations.EnsureMongoArchive(ctx, archiveDB, mongoCfg.Collection); err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to ensure archive indexes", "error", err)
		}
		relayOpts = append(relayOpts, delivery.WithArchiver(delivery.NewMongoArchive(archiveDB, mongoCfg.Collection)))
	}
	a.relay = delivery.NewRelay(a.store, transport, cfg.Delivery, a.Logger, relayOpts...)

	var directory messaging.UserDirectory = messaging.NewPostgresDirectory(a.db)
	if a.redis != nil && cfg.Directory.CacheEnabled {
		cb := circuitbreaker.FromConfig("directory-cache", cfg.CircuitBreaker, nil)
		directory = messaging.NewCachedDirectory(directory, a.redis, cb, cfg.Directory.CacheTTL, a.Logger)
	}

	messages := messaging.NewMessageRepository(a.db)
	create := messaging.NewCreateMessageHandler(
		directory,
		messages,
		transaction.NewSQLUnitOfWork(a.db),
		a.store,
		a.Logger,
		messaging.WithNotifier(a.relay),
	)
	if err := messaging.Register(a.mediator, create, messaging.NewQueryHandler(messages)); err != nil {
		return err
	}
	if err := delivery.Register(a.mediator, delivery.NewHandlers(a.store, events, a.Logger)); err != nil {
		return err
	}

	if a.Consumer != nil {
		a.ingest = ingest.NewHandler(a.mediator, a.Logger)
	}

	a.Logger.InfowCtx(ctx, "Pipeline ready",
		"requests", a.mediator.Registered(),
		"transport", cfg.Transport.Type,
		"events", events != nil,
		"archive", a.mongoClient != nil,
	)
	return nil
}

// initTransport builds the hub every instance serves websockets from, and
// returns what the relay pushes to: the hub itself, or the Redis bridge
// that fans out to the hubs of all instances.
func (a *App) initTransport(ctx context.Context) (delivery.Transport, error) {
	cfg := a.Config.Transport

	backfill := realtime.BackfillerFunc(func(ctx context.Context, recipient string) (int, error) {
		return a.relay.Backfill(ctx, recipient)
	})

	switch cfg.Type {
	case "redis":
		a.bridge = realtime.NewRedisBridge(a.redis, cfg.ChannelPrefix, a.Logger)
		a.hub = realtime.NewHub(a.mediator, cfg.WriteTimeout, a.Logger,
			realtime.WithBackfiller(backfill),
			realtime.WithPresence(a.bridge),
		)
		if err := a.bridge.Attach(ctx, a.hub); err != nil {
			return nil, err
		}
		return a.bridge, nil
	default:
		a.hub = realtime.NewHub(a.mediator, cfg.WriteTimeout, a.Logger, realtime.WithBackfiller(backfill))
		return a.hub, nil
	}
}

func (a *App) initHTTPServer(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName, "/health", "/metrics", "/swagger"))
	}
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))

	router.GET("/health", a.health.Handler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if a.Config.Server.EnableSwagger {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	router.GET("/ws", gin.WrapH(a.hub.Handler()))

	api := router.Group("")
	if rl := a.Config.RateLimit; rl.Enabled {
		api.Use(ratelimit.RateLimitMiddleware(ctx, ratelimit.RateLimitConfig{
			RPS:             rl.RPS,
			Burst:           rl.Burst,
			CleanupInterval: rl.CleanupInterval,
			MaxAge:          rl.MaxAge,
			KeyHeader:       constants.UserIDHeader,
		}))
		a.Logger.InfowCtx(ctx, "Rate limiting enabled", "rps", rl.RPS, "burst", rl.Burst)
	}

	messaging.NewHandler(a.mediator, a.Logger).RegisterRoutes(api)
	delivery.NewHandler(a.mediator, a.Logger).RegisterRoutes(api)

	// The hub clears these deadlines on upgraded connections.
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.relay.Run(gCtx)
	})

	if a.bridge != nil {
		g.Go(func() error {
			return a.bridge.Run(gCtx)
		})
	}

	if a.ingest != nil {
		topic := a.Config.Broker.Kafka.CommandTopic
		g.Go(func() error {
			err := a.Consumer.Consume(gCtx, topic, a.ingest.Handle)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.InfowCtx(ctx, "Shutting down messaging service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.db, a.mongoClient)...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
