package main

import (
	"context"
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
	"github.com/omnimart/marketplace-indexer/internal/block"
	"github.com/omnimart/marketplace-indexer/internal/config"
	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/logger"
	"github.com/omnimart/marketplace-indexer/internal/poller"
	"github.com/omnimart/marketplace-indexer/internal/providers/evm"
	"github.com/omnimart/marketplace-indexer/internal/providers/jetstream"
	"github.com/omnimart/marketplace-indexer/internal/providers/solana"
	"github.com/omnimart/marketplace-indexer/internal/ratelimit"
	"github.com/omnimart/marketplace-indexer/internal/source"
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
	cfg, err := config.LoadIndexerConfig(*configFile, *envPath)
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
			"service": "indexer",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Marketplace Indexer")

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

	// Initialize NATS publisher
	natsPublisher, err := jetstream.NewPublisher(jetstream.Config{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectionName: cfg.NATS.ConnectionName,
	}, natsJS, jsonAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create NATS publisher", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer natsPublisher.Close()
	logger.InfoCtx(ctx, "Connected to NATS JetStream")

	// Build chain sources
	var sources []source.EventSource
	startPositions := make(map[domain.Chain]uint64)

	ethDialer := adapter.NewEthClientDialer()
	for _, chainCfg := range cfg.EVMChains() {
		if chainCfg.MarketplaceAddress == "" && chainCfg.BridgeAddress == "" && chainCfg.TokenAddress == "" {
			logger.WarnCtx(ctx, "Skipping EVM chain with no configured addresses",
				zap.String("chain", string(chainCfg.ChainID)))
			continue
		}

		ethClient, err := ethDialer.Dial(ctx, chainCfg.RPCURL)
		if err != nil {
			logger.FatalCtx(ctx, "Failed to dial EVM RPC",
				zap.Error(err),
				zap.String("chain", string(chainCfg.ChainID)),
				zap.String("rpc_url", chainCfg.RPCURL))
		}

		head := block.NewHeadProvider(evm.NewBlockFetcher(ethClient), block.Config{
			TTL:         chainCfg.BlockHeadTTL,
			StaleWindow: chainCfg.BlockHeadStaleWindow,
		}, clockAdapter)

		sources = append(sources, evm.NewSource(ethClient, head, evm.Config{
			ChainID:            chainCfg.ChainID,
			MarketplaceAddress: chainCfg.MarketplaceAddress,
			BridgeAddress:      chainCfg.BridgeAddress,
			TokenAddress:       chainCfg.TokenAddress,
			MaxBlockRange:      chainCfg.MaxBlockRange,
		}))
		if chainCfg.StartBlock > 0 {
			startPositions[chainCfg.ChainID] = chainCfg.StartBlock
		}
		logger.InfoCtx(ctx, "Configured EVM source", zap.String("chain", string(chainCfg.ChainID)))
	}

	if cfg.Solana.Enabled {
		httpClient := adapter.NewHTTPClient(cfg.Solana.RPCTimeout)
		if cfg.Solana.RequestsPerSecond > 0 {
			httpClient = ratelimit.NewHTTPClient(httpClient, ratelimit.NewLimiter(ratelimit.Config{
				RequestsPerSecond: cfg.Solana.RequestsPerSecond,
				Burst:             cfg.Solana.RequestBurst,
			}))
		}
		sources = append(sources, solana.NewSource(httpClient, solana.Config{
			ChainID:        cfg.Solana.ChainID,
			RPCURL:         cfg.Solana.RPCURL,
			ProgramID:      cfg.Solana.ProgramID,
			RequestTimeout: cfg.Solana.RPCTimeout,
		}))
		if cfg.Solana.StartSlot > 0 {
			startPositions[cfg.Solana.ChainID] = cfg.Solana.StartSlot
		}
		logger.InfoCtx(ctx, "Configured Solana source", zap.String("chain", string(cfg.Solana.ChainID)))
	}

	if len(sources) == 0 {
		logger.FatalCtx(ctx, "No chain sources configured")
	}
	defer func() {
		for _, src := range sources {
			src.Close()
		}
	}()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	chainPoller := poller.NewPoller(sources, natsPublisher, dataStore, clockAdapter, poller.Config{
		PollInterval:   cfg.Poller.Interval,
		StartPositions: startPositions,
	})

	done := make(chan struct{})
	go func() {
		chainPoller.Run(ctx)
		close(done)
	}()

	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
		<-done
	case <-natsPublisher.CloseChan():
		logger.WarnCtx(ctx, "NATS connection closed, shutting down")
		cancel()
		<-done
	case <-done:
	}

	logger.InfoCtx(ctx, "Marketplace Indexer stopped")
}
