package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/store"
	"github.com/omnimart/marketplace-indexer/internal/store/schema"
)

// Scheduler manages the delayed lifecycle jobs of listings. Each
// (kind, listing) pair holds at most one pending job; scheduling again
// replaces the pending run time.
//
//go:generate mockgen -source=scheduler.go -destination=../mocks/scheduler.go -package=mocks -mock_names=Scheduler=MockScheduler
type Scheduler interface {
	// ScheduleActivation schedules the pending to active transition
	ScheduleActivation(ctx context.Context, listingID string, runAt time.Time) error

	// ScheduleSettlement schedules the settlement of a listing at its end time
	ScheduleSettlement(ctx context.Context, listingID string, runAt time.Time) error

	// RescheduleSettlement moves a pending settlement to a new run time
	RescheduleSettlement(ctx context.Context, listingID string, runAt time.Time) error

	// ScheduleDutchSync schedules the next Dutch auction price resync
	ScheduleDutchSync(ctx context.Context, listingID string, runAt time.Time) error

	// ClearScheduledJobs removes every pending job for a listing
	ClearScheduledJobs(ctx context.Context, listingID string) error
}

type storeScheduler struct {
	store store.Store
}

// NewScheduler creates a scheduler persisting jobs in the store's delayed
// job queue
func NewScheduler(st store.Store) Scheduler {
	return &storeScheduler{store: st}
}

func (s *storeScheduler) ScheduleActivation(ctx context.Context, listingID string, runAt time.Time) error {
	return s.save(ctx, domain.JobKindActivate, listingID, runAt)
}

func (s *storeScheduler) ScheduleSettlement(ctx context.Context, listingID string, runAt time.Time) error {
	return s.save(ctx, domain.JobKindSettle, listingID, runAt)
}

// RescheduleSettlement is the same operation as ScheduleSettlement; the
// (kind, listing) identity gives replace-on-schedule semantics.
func (s *storeScheduler) RescheduleSettlement(ctx context.Context, listingID string, runAt time.Time) error {
	return s.save(ctx, domain.JobKindSettle, listingID, runAt)
}

func (s *storeScheduler) ScheduleDutchSync(ctx context.Context, listingID string, runAt time.Time) error {
	return s.save(ctx, domain.JobKindDutchSync, listingID, runAt)
}

func (s *storeScheduler) ClearScheduledJobs(ctx context.Context, listingID string) error {
	if err := s.store.DeleteScheduledJobsForListing(ctx, listingID); err != nil {
		return fmt.Errorf("failed to clear scheduled jobs for listing %s: %w", listingID, err)
	}
	return nil
}

func (s *storeScheduler) save(ctx context.Context, kind domain.JobKind, listingID string, runAt time.Time) error {
	job := &schema.ScheduledJob{
		Kind:      kind,
		ListingID: listingID,
		RunAt:     runAt,
	}
	if err := s.store.SaveScheduledJob(ctx, job); err != nil {
		return fmt.Errorf("failed to schedule %s for listing %s: %w", kind, listingID, err)
	}
	return nil
}
