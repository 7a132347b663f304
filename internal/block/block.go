package block

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnimart/marketplace-indexer/internal/adapter"
	"github.com/omnimart/marketplace-indexer/internal/logger"
)

// HeadProvider provides cached access to the latest block number and to
// block timestamps. It reduces RPC calls against chain providers by caching
// the head for a short TTL and timestamps in a size-bounded cache; a
// confirmed block's timestamp never changes, so entries only leave the
// cache through eviction or an explicit TTL.
//
//go:generate mockgen -source=block.go -destination=../mocks/head_provider.go -package=mocks -mock_names=HeadProvider=MockHeadProvider
type HeadProvider interface {
	// LatestBlock returns the latest block number, potentially from cache
	LatestBlock(ctx context.Context) (uint64, error)

	// BlockTimestamp returns the timestamp of a block, potentially from cache
	BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// Fetcher fetches block information from the chain
//
//go:generate mockgen -source=block.go -destination=../mocks/head_provider.go -package=mocks -mock_names=Fetcher=MockBlockFetcher
type Fetcher interface {
	// FetchLatestBlock fetches the latest block number from the chain
	FetchLatestBlock(ctx context.Context) (uint64, error)

	// FetchBlockTimestamp fetches the timestamp of a block from the chain
	FetchBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// Config holds configuration for the HeadProvider
type Config struct {
	// TTL is how long the cached head is considered fresh
	TTL time.Duration

	// StaleWindow is how long stale cache entries may serve as a fallback
	// when fetching fails; beyond it the fetch error surfaces
	StaleWindow time.Duration

	// TimestampTTL is how long block timestamps are cached.
	// 0 caches forever, which is safe for confirmed blocks.
	TimestampTTL time.Duration

	// MaxTimestampEntries caps the timestamp cache size; 0 applies the
	// package default
	MaxTimestampEntries int
}

// defaultMaxTimestampEntries bounds the timestamp cache when the config
// leaves it unset
const defaultMaxTimestampEntries = 4096

type headEntry struct {
	number   uint64
	cachedAt time.Time
}

type timestampEntry struct {
	timestamp time.Time
	cachedAt  time.Time
}

type headProvider struct {
	fetcher Fetcher
	config  Config
	clock   adapter.Clock

	mu         sync.RWMutex
	head       *headEntry
	timestamps map[uint64]*timestampEntry
}

// NewHeadProvider creates a new HeadProvider with caching
func NewHeadProvider(fetcher Fetcher, config Config, clock adapter.Clock) HeadProvider {
	if config.MaxTimestampEntries <= 0 {
		config.MaxTimestampEntries = defaultMaxTimestampEntries
	}
	return &headProvider{
		fetcher:    fetcher,
		config:     config,
		clock:      clock,
		timestamps: make(map[uint64]*timestampEntry),
	}
}

// LatestBlock returns the latest block number, using cache if valid
func (p *headProvider) LatestBlock(ctx context.Context) (uint64, error) {
	p.mu.RLock()
	cached := p.head
	p.mu.RUnlock()

	now := p.clock.Now()

	if cached != nil && now.Sub(cached.cachedAt) < p.config.TTL {
		return cached.number, nil
	}

	blockNumber, err := p.fetcher.FetchLatestBlock(ctx)
	if err != nil {
		// Serve a stale head rather than failing the whole poll cycle
		if cached != nil && now.Sub(cached.cachedAt) < p.config.StaleWindow {
			logger.DebugCtx(ctx, "using stale head", zap.Uint64("block_number", cached.number))
			return cached.number, nil
		}
		return 0, fmt.Errorf("failed to fetch latest block and no valid cache available: %w", err)
	}

	p.mu.Lock()
	p.head = &headEntry{
		number:   blockNumber,
		cachedAt: now,
	}
	p.mu.Unlock()

	return blockNumber, nil
}

// BlockTimestamp returns the timestamp of a block, using cache if valid
func (p *headProvider) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	p.mu.RLock()
	cached := p.timestamps[blockNumber]
	p.mu.RUnlock()

	now := p.clock.Now()

	if cached != nil && (p.config.TimestampTTL == 0 || now.Sub(cached.cachedAt) < p.config.TimestampTTL) {
		return cached.timestamp, nil
	}

	timestamp, err := p.fetcher.FetchBlockTimestamp(ctx, blockNumber)
	if err != nil {
		if cached != nil && now.Sub(cached.cachedAt) < p.config.StaleWindow {
			logger.DebugCtx(ctx, "using stale block timestamp",
				zap.Uint64("block_number", blockNumber),
				zap.Time("timestamp", cached.timestamp))
			return cached.timestamp, nil
		}
		return time.Time{}, fmt.Errorf("failed to fetch timestamp for block %d and no valid cache available: %w", blockNumber, err)
	}

	p.mu.Lock()
	p.timestamps[blockNumber] = &timestampEntry{
		timestamp: timestamp,
		cachedAt:  now,
	}
	p.evictTimestampsLocked()
	p.mu.Unlock()

	return timestamp, nil
}

// evictTimestampsLocked drops the lowest block numbers once the cache
// exceeds its cap. The poller walks forward, so the oldest blocks are the
// least likely to be asked for again. Caller must hold mu.
func (p *headProvider) evictTimestampsLocked() {
	for len(p.timestamps) > p.config.MaxTimestampEntries {
		var lowest uint64
		first := true
		for number := range p.timestamps {
			if first || number < lowest {
				lowest = number
				first = false
			}
		}
		delete(p.timestamps, lowest)
	}
}
