package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnimart/marketplace-indexer/internal/adapter"
	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/logger"
	"github.com/omnimart/marketplace-indexer/internal/messaging"
	"github.com/omnimart/marketplace-indexer/internal/source"
	"github.com/omnimart/marketplace-indexer/internal/store"
)

// DefaultPollInterval is the pause between poll rounds on each chain
const DefaultPollInterval = 15 * time.Second

// Config holds the configuration for the chain poller
type Config struct {
	PollInterval time.Duration
	// StartPositions pins the first polled position per chain when no
	// cursor exists yet; chains without an entry start from the tip
	StartPositions map[domain.Chain]uint64
}

func (c Config) withDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Poller drives one fetch loop per chain source, publishing normalized
// events and advancing the chain cursor only after every event of the
// window has been handed to the publisher. A failed round leaves the
// cursor untouched so the same window is retried on the next tick.
type Poller struct {
	sources   []source.EventSource
	publisher messaging.Publisher
	cursors   store.CursorStore
	clock     adapter.Clock
	config    Config
}

// NewPoller creates a poller over the given chain sources
func NewPoller(
	sources []source.EventSource,
	publisher messaging.Publisher,
	cursors store.CursorStore,
	clock adapter.Clock,
	config Config,
) *Poller {
	return &Poller{
		sources:   sources,
		publisher: publisher,
		cursors:   cursors,
		clock:     clock,
		config:    config.withDefaults(),
	}
}

// Run polls every source until the context is cancelled
func (p *Poller) Run(ctx context.Context) {
	config := p.config

	var wg sync.WaitGroup
	for _, src := range p.sources {
		wg.Add(1)
		go func(src source.EventSource) {
			defer wg.Done()
			logger.InfoCtx(ctx, "Starting chain poller",
				zap.String("chain", string(src.Chain())),
				zap.Duration("interval", config.PollInterval))

			for {
				p.pollOnce(ctx, src)

				select {
				case <-ctx.Done():
					return
				case <-p.clock.After(config.PollInterval):
				}
			}
		}(src)
	}
	wg.Wait()
}

// pollOnce fetches and publishes one window for a source. Errors are
// logged and retried on the next tick.
func (p *Poller) pollOnce(ctx context.Context, src source.EventSource) {
	chain := src.Chain()

	cursor, err := p.cursors.GetCursor(ctx, string(chain))
	if err != nil {
		logger.ErrorCtx(ctx, err,
			zap.String("message", "Failed to load chain cursor"),
			zap.String("chain", string(chain)))
		return
	}

	from, err := p.startPosition(ctx, src, cursor)
	if err != nil {
		p.logFetchError(ctx, chain, err)
		return
	}

	batch, err := src.Fetch(ctx, from)
	if err != nil {
		p.logFetchError(ctx, chain, err)
		return
	}

	for i := range batch.Events {
		event := &batch.Events[i]
		if err := p.publisher.PublishEvent(ctx, event); err != nil {
			// Leaving the cursor behind replays the window; downstream
			// dedup absorbs the events already published
			logger.ErrorCtx(ctx, err,
				zap.String("message", "Failed to publish event"),
				zap.String("chain", string(chain)),
				zap.String("dedupKey", event.DedupKey()))
			return
		}
	}

	if batch.Position < from {
		return
	}

	if err := p.cursors.SetCursor(ctx, string(chain), batch.Position); err != nil {
		logger.ErrorCtx(ctx, err,
			zap.String("message", "Failed to advance chain cursor"),
			zap.String("chain", string(chain)))
		return
	}

	if len(batch.Events) > 0 {
		logger.DebugCtx(ctx, "Published chain events",
			zap.String("chain", string(chain)),
			zap.Int("events", len(batch.Events)),
			zap.Uint64("position", batch.Position))
	}
}

// startPosition resolves where the next window begins: after the stored
// cursor, at the configured start position, or at the chain tip.
func (p *Poller) startPosition(ctx context.Context, src source.EventSource, cursor uint64) (uint64, error) {
	if cursor > 0 {
		return cursor + 1, nil
	}
	if start, ok := p.config.StartPositions[src.Chain()]; ok && start > 0 {
		return start, nil
	}
	return src.Latest(ctx)
}

func (p *Poller) logFetchError(ctx context.Context, chain domain.Chain, err error) {
	if errors.Is(err, domain.ErrSourceUnavailable) {
		logger.WarnCtx(ctx, "Chain source unavailable, retrying next tick",
			zap.String("chain", string(chain)),
			zap.Error(err))
		return
	}
	logger.ErrorCtx(ctx, err,
		zap.String("message", "Failed to fetch chain events"),
		zap.String("chain", string(chain)))
}
