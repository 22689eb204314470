package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"taxi/internal/admin"
	"taxi/internal/app"
	"taxi/internal/config"
	"taxi/internal/handler"
	"taxi/internal/history"
	"taxi/internal/ingest"
	"taxi/internal/logging"
	"taxi/internal/rating"
	"taxi/internal/registry"
	"taxi/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic first so data stores can be instrumented.
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", zap.Error(err))
			nrApp = nil
		} else {
			logger.Info("New Relic enabled", zap.String("app", cfg.NewRelic.AppName))
		}
	}

	// Shared store backend.
	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

	// Ride history backend (optional).
	var db *sql.DB
	var recorder *history.PostgresRecorder
	if cfg.Database.Enabled {
		db, err = app.NewDatabase(ctx, cfg.Database, nrApp)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		recorder = history.NewPostgresRecorder(db)
		logger.Info("connected to postgres", zap.String("db", cfg.Database.DBName))
	}

	// Lifecycle event export (optional).
	var events ingest.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp := ingest.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kp.Close()
		events = kp
		logger.Info("kafka event export enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	server := wireServer(redisClient, recorder, events, nrApp, cfg, logger)

	go func() {
		logger.Info("starting server", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(redisClient *redis.Client, recorder *history.PostgresRecorder, events ingest.Publisher, nrApp *newrelic.Application, cfg *config.Config, logger *zap.Logger) *http.Server {
	// The shared store adapter, with the one equality index the open-call
	// listing relies on.
	sharedStore := store.NewRedisStore(redisClient, store.WithIndex(store.NodeCalls, "status"))

	// Registries. The ops server only reads engine state; negotiation is
	// driven by the actor clients against the same store.
	presenceRegistry := registry.NewPresenceRegistry(sharedStore, logger).
		WithLiveness(cfg.Engine.PresenceLiveness)
	callRegistry := registry.NewCallRegistry(sharedStore, logger, events).
		WithStaleness(cfg.Engine.CallStaleness)
	aggregator := rating.NewAggregator(sharedStore, logger)
	adminService := admin.NewService(sharedStore, logger)

	// Handlers.
	monitorHandler := handler.NewMonitorHandler(presenceRegistry, callRegistry, aggregator, logger)
	if recorder != nil {
		monitorHandler.WithHistory(recorder)
	}
	adminHandler := handler.NewAdminHandler(adminService)

	// Create router.
	router := app.NewRouter(app.RouterDeps{
		MonitorHandler: monitorHandler,
		AdminHandler:   adminHandler,
		RedisClient:    redisClient,
		NewRelicApp:    nrApp,
	})

	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
