package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/omnimart/marketplace-indexer/internal/adapter"
	"github.com/omnimart/marketplace-indexer/internal/applier"
	"github.com/omnimart/marketplace-indexer/internal/config"
	"github.com/omnimart/marketplace-indexer/internal/lifecycle"
	"github.com/omnimart/marketplace-indexer/internal/logger"
	"github.com/omnimart/marketplace-indexer/internal/providers/jetstream"
	"github.com/omnimart/marketplace-indexer/internal/registry"
	"github.com/omnimart/marketplace-indexer/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadWorkerConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "worker",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Marketplace Worker")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database")

	// Initialize store and adapters
	dataStore := store.NewPGStore(db)
	clockAdapter := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()
	natsJS := adapter.NewNatsJetStream()

	// Initialize NATS consumer
	natsConsumer, err := jetstream.NewConsumer(jetstream.ConsumerConfig{
		Config: jetstream.Config{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: cfg.NATS.ConnectionName,
		},
		ConsumerName:   cfg.NATS.ConsumerName,
		AckWaitTimeout: cfg.NATS.AckWait,
		MaxDeliver:     cfg.NATS.MaxDeliver,
	}, natsJS, jsonAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create NATS consumer", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer natsConsumer.Close()
	logger.InfoCtx(ctx, "Connected to NATS JetStream")

	// Seed curated collections before consuming events
	if cfg.CollectionsPath != "" {
		collections, err := registry.LoadCollections(cfg.CollectionsPath)
		if err != nil {
			logger.FatalCtx(ctx, "Failed to load collection registry",
				zap.Error(err),
				zap.String("path", cfg.CollectionsPath))
		}
		if err := collections.Register(ctx, dataStore); err != nil {
			logger.FatalCtx(ctx, "Failed to register curated collections", zap.Error(err))
		}
		logger.InfoCtx(ctx, "Registered curated collections",
			zap.String("path", cfg.CollectionsPath),
			zap.Int("count", collections.Len()))
	}

	// Event applier consumes normalized chain events
	eventApplier := applier.NewApplier(dataStore, applier.Config{
		DefaultListingDuration: cfg.Lifecycle.DefaultDuration,
	})

	// Lifecycle dispatcher claims and runs due listing jobs
	dispatcher := lifecycle.NewDispatcher(dataStore, clockAdapter, lifecycle.Config{
		TickInterval:      cfg.Lifecycle.TickInterval,
		DutchSyncInterval: cfg.Lifecycle.DutchSyncInterval,
		ClaimLimit:        lifecycle.DefaultClaimLimit,
		WorkerPoolSize:    cfg.Worker.WorkerPoolSize,
		WorkerQueueSize:   cfg.Worker.WorkerQueueSize,
	})

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	go func() {
		if err := natsConsumer.Run(ctx, eventApplier.ApplyEvent); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("consumer stopped: %w", err)
		}
	}()

	go func() {
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("dispatcher stopped: %w", err)
		}
	}()

	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("message", "Worker component failed"))
	}
	cancel()

	logger.InfoCtx(ctx, "Marketplace Worker stopped")
}
