package lifecycle

import (
	"context"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/omnimart/marketplace-indexer/internal/adapter"
	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/logger"
	"github.com/omnimart/marketplace-indexer/internal/retry"
	"github.com/omnimart/marketplace-indexer/internal/store"
	"github.com/omnimart/marketplace-indexer/internal/store/schema"
)

const (
	DefaultTickInterval      = 1 * time.Second
	DefaultDutchSyncInterval = 60 * time.Second
	DefaultClaimLimit        = 100
	DefaultWorkerPoolSize    = 8
	DefaultWorkerQueueSize   = 256
)

// Config holds the configuration for the lifecycle job dispatcher
type Config struct {
	TickInterval      time.Duration
	DutchSyncInterval time.Duration
	ClaimLimit        int
	WorkerPoolSize    int
	WorkerQueueSize   int
}

func (c Config) withDefaults() Config {
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.DutchSyncInterval == 0 {
		c.DutchSyncInterval = DefaultDutchSyncInterval
	}
	if c.ClaimLimit == 0 {
		c.ClaimLimit = DefaultClaimLimit
	}
	if c.WorkerPoolSize == 0 {
		c.WorkerPoolSize = DefaultWorkerPoolSize
	}
	if c.WorkerQueueSize == 0 {
		c.WorkerQueueSize = DefaultWorkerQueueSize
	}
	return c
}

// Dispatcher polls the delayed job queue and runs due lifecycle jobs on a
// worker pool. Jobs are claimed exactly once; a job whose precondition no
// longer holds is a silent no-op.
type Dispatcher struct {
	store  store.Store
	clock  adapter.Clock
	config Config
}

// NewDispatcher creates a lifecycle job dispatcher
func NewDispatcher(st store.Store, clock adapter.Clock, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:  st,
		clock:  clock,
		config: cfg.withDefaults(),
	}
}

// Run polls for due jobs until the context is cancelled
func (d *Dispatcher) Run(ctx context.Context) error {
	logger.InfoCtx(ctx, "Starting lifecycle dispatcher",
		zap.Duration("tick", d.config.TickInterval),
		zap.Int("workers", d.config.WorkerPoolSize))

	pool := pond.NewPool(
		d.config.WorkerPoolSize,
		pond.WithQueueSize(d.config.WorkerQueueSize),
		pond.WithContext(ctx),
	)
	defer pool.StopAndWait()

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Shutting down lifecycle dispatcher")
			return ctx.Err()
		case <-d.clock.After(d.config.TickInterval):
			jobs, err := d.store.ClaimDueJobs(ctx, d.clock.Now(), d.config.ClaimLimit)
			if err != nil {
				logger.ErrorCtx(ctx, err, zap.String("message", "Failed to claim due jobs"))
				continue
			}

			for _, job := range jobs {
				job := job
				pool.Submit(func() {
					d.Handle(ctx, job)
				})
			}
		}
	}
}

// Handle runs a single claimed job. Errors are logged and the job is
// dropped; lifecycle jobs are advisory and later state is re-derived from
// chain events.
func (d *Dispatcher) Handle(ctx context.Context, job *schema.ScheduledJob) {
	var err error
	switch job.Kind {
	case domain.JobKindActivate:
		err = d.activate(ctx, job.ListingID)
	case domain.JobKindSettle:
		err = d.settle(ctx, job.ListingID)
	case domain.JobKindDutchSync:
		err = d.resyncDutch(ctx, job.ListingID)
	default:
		logger.WarnCtx(ctx, "Unknown lifecycle job kind",
			zap.String("kind", string(job.Kind)),
			zap.String("listingID", job.ListingID))
		return
	}

	if err != nil {
		logger.ErrorCtx(ctx, err,
			zap.String("message", "Lifecycle job failed"),
			zap.String("kind", string(job.Kind)),
			zap.String("listingID", job.ListingID))
	}
}

// activate transitions a Pending listing to Active at its start time. A
// job fired before the start time reschedules itself instead of acting.
func (d *Dispatcher) activate(ctx context.Context, listingID string) error {
	return retry.OnConflict(ctx, func() error {
		return d.store.Transaction(ctx, func(tx store.Store) error {
			listing, err := tx.GetListingForUpdate(ctx, listingID)
			if err != nil {
				return err
			}
			if listing == nil || listing.Status != domain.ListingStatusPending {
				return nil
			}

			now := d.clock.Now()
			if now.Before(listing.StartTime) {
				return NewScheduler(tx).ScheduleActivation(ctx, listingID, listing.StartTime)
			}

			listing.Status = domain.ListingStatusActive
			if err := tx.UpdateListing(ctx, listing); err != nil {
				return err
			}

			if listing.Type == domain.ListingTypeDutch {
				return NewScheduler(tx).ScheduleDutchSync(ctx, listingID, now.Add(d.config.DutchSyncInterval))
			}
			return nil
		})
	})
}

// settle expires an Active listing at its end time and cancels remaining
// pending bids. A job fired before the (possibly extended) end time
// reschedules to the current end time.
func (d *Dispatcher) settle(ctx context.Context, listingID string) error {
	return retry.OnConflict(ctx, func() error {
		return d.store.Transaction(ctx, func(tx store.Store) error {
			listing, err := tx.GetListingForUpdate(ctx, listingID)
			if err != nil {
				return err
			}
			if listing == nil || listing.Status != domain.ListingStatusActive {
				return nil
			}

			if d.clock.Now().Before(listing.EndTime) {
				return NewScheduler(tx).RescheduleSettlement(ctx, listingID, listing.EndTime)
			}

			listing.Status = domain.ListingStatusExpired
			if err := tx.UpdateListing(ctx, listing); err != nil {
				return err
			}

			return tx.UpdateBidStatuses(ctx, listingID, domain.BidStatusPending, domain.BidStatusCancelled)
		})
	})
}

// resyncDutch writes the interpolated Dutch auction price and schedules the
// next resync. Once the end time is reached it defers to settlement.
func (d *Dispatcher) resyncDutch(ctx context.Context, listingID string) error {
	return retry.OnConflict(ctx, func() error {
		return d.store.Transaction(ctx, func(tx store.Store) error {
			listing, err := tx.GetListingForUpdate(ctx, listingID)
			if err != nil {
				return err
			}
			if listing == nil || listing.Status != domain.ListingStatusActive || listing.Type != domain.ListingTypeDutch {
				return nil
			}

			now := d.clock.Now()
			if !now.Before(listing.EndTime) {
				return NewScheduler(tx).ScheduleSettlement(ctx, listingID, listing.EndTime)
			}

			listing.Price = DutchPriceAt(listing.StartPrice, listing.EndPrice, listing.StartTime, listing.EndTime, now)
			if err := tx.UpdateListing(ctx, listing); err != nil {
				return err
			}

			return NewScheduler(tx).ScheduleDutchSync(ctx, listingID, now.Add(d.config.DutchSyncInterval))
		})
	})
}
