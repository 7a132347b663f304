package lifecycle_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/lifecycle"
	"github.com/omnimart/marketplace-indexer/internal/logger"
	"github.com/omnimart/marketplace-indexer/internal/mocks"
	"github.com/omnimart/marketplace-indexer/internal/store"
	"github.com/omnimart/marketplace-indexer/internal/store/schema"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// setupDispatcher creates a dispatcher over a fresh memory store with the
// clock frozen at testNow
func setupDispatcher(t *testing.T) (*lifecycle.Dispatcher, *store.MemoryStore) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	mockClock := mocks.NewMockClock(ctrl)
	mockClock.EXPECT().Now().Return(testNow).AnyTimes()

	st := store.NewMemoryStore()
	dispatcher := lifecycle.NewDispatcher(st, mockClock, lifecycle.Config{
		DutchSyncInterval: 30 * time.Second,
	})
	return dispatcher, st
}

func seedListing(t *testing.T, st *store.MemoryStore, listing *schema.Listing) {
	require.NoError(t, st.UpsertListing(context.Background(), listing))
}

func job(kind domain.JobKind, listingID string) *schema.ScheduledJob {
	return &schema.ScheduledJob{Kind: kind, ListingID: listingID, RunAt: testNow}
}

func TestDispatcher_Activate_PendingListing(t *testing.T) {
	dispatcher, st := setupDispatcher(t)
	ctx := context.Background()

	seedListing(t, st, &schema.Listing{
		ID:        "listing-1",
		Chain:     domain.ChainEthereumMainnet,
		Type:      domain.ListingTypeEnglish,
		Status:    domain.ListingStatusPending,
		StartTime: testNow.Add(-time.Minute),
		EndTime:   testNow.Add(time.Hour),
	})

	dispatcher.Handle(ctx, job(domain.JobKindActivate, "listing-1"))

	listing, err := st.GetListing(ctx, "listing-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusActive, listing.Status)
	assert.Nil(t, st.GetScheduledJob(domain.JobKindDutchSync, "listing-1"))
}

func TestDispatcher_Activate_DutchListing_SchedulesFirstResync(t *testing.T) {
	dispatcher, st := setupDispatcher(t)
	ctx := context.Background()

	seedListing(t, st, &schema.Listing{
		ID:         "listing-1",
		Chain:      domain.ChainEthereumMainnet,
		Type:       domain.ListingTypeDutch,
		Status:     domain.ListingStatusPending,
		StartPrice: decimal.NewFromInt(10),
		EndPrice:   decimal.NewFromInt(1),
		StartTime:  testNow.Add(-time.Minute),
		EndTime:    testNow.Add(time.Hour),
	})

	dispatcher.Handle(ctx, job(domain.JobKindActivate, "listing-1"))

	listing, err := st.GetListing(ctx, "listing-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusActive, listing.Status)

	sync := st.GetScheduledJob(domain.JobKindDutchSync, "listing-1")
	require.NotNil(t, sync)
	assert.Equal(t, testNow.Add(30*time.Second), sync.RunAt)
}

func TestDispatcher_Activate_EarlyFire_Reschedules(t *testing.T) {
	dispatcher, st := setupDispatcher(t)
	ctx := context.Background()

	startTime := testNow.Add(10 * time.Minute)
	seedListing(t, st, &schema.Listing{
		ID:        "listing-1",
		Chain:     domain.ChainEthereumMainnet,
		Type:      domain.ListingTypeFixed,
		Status:    domain.ListingStatusPending,
		StartTime: startTime,
		EndTime:   testNow.Add(time.Hour),
	})

	dispatcher.Handle(ctx, job(domain.JobKindActivate, "listing-1"))

	listing, err := st.GetListing(ctx, "listing-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusPending, listing.Status)

	rescheduled := st.GetScheduledJob(domain.JobKindActivate, "listing-1")
	require.NotNil(t, rescheduled)
	assert.Equal(t, startTime, rescheduled.RunAt)
}

func TestDispatcher_Activate_NoOpWhenMissingOrNotPending(t *testing.T) {
	dispatcher, st := setupDispatcher(t)
	ctx := context.Background()

	// Missing listing
	dispatcher.Handle(ctx, job(domain.JobKindActivate, "unknown"))

	// Already terminal
	seedListing(t, st, &schema.Listing{
		ID:        "listing-1",
		Chain:     domain.ChainEthereumMainnet,
		Type:      domain.ListingTypeFixed,
		Status:    domain.ListingStatusCancelled,
		StartTime: testNow.Add(-time.Hour),
		EndTime:   testNow.Add(time.Hour),
	})
	dispatcher.Handle(ctx, job(domain.JobKindActivate, "listing-1"))

	listing, err := st.GetListing(ctx, "listing-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusCancelled, listing.Status)
}

func TestDispatcher_Settle_ExpiresListingAndCancelsPendingBids(t *testing.T) {
	dispatcher, st := setupDispatcher(t)
	ctx := context.Background()

	seedListing(t, st, &schema.Listing{
		ID:        "listing-1",
		Chain:     domain.ChainEthereumMainnet,
		Type:      domain.ListingTypeEnglish,
		Status:    domain.ListingStatusActive,
		StartTime: testNow.Add(-2 * time.Hour),
		EndTime:   testNow.Add(-time.Minute),
	})

	superseded := &schema.Bid{
		ListingID:     "listing-1",
		BidderAddress: "0xaaa",
		Amount:        decimal.NewFromInt(1),
		Status:        domain.BidStatusRefunded,
		TxHash:        "0xbid1",
	}
	_, err := st.CreateBid(ctx, superseded)
	require.NoError(t, err)

	pending := &schema.Bid{
		ListingID:     "listing-1",
		BidderAddress: "0xbbb",
		Amount:        decimal.NewFromInt(2),
		Status:        domain.BidStatusPending,
		TxHash:        "0xbid2",
	}
	_, err = st.CreateBid(ctx, pending)
	require.NoError(t, err)

	dispatcher.Handle(ctx, job(domain.JobKindSettle, "listing-1"))

	listing, err := st.GetListing(ctx, "listing-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusExpired, listing.Status)

	bids, err := st.ListBids(ctx, "listing-1")
	require.NoError(t, err)
	require.Len(t, bids, 2)
	for _, bid := range bids {
		switch bid.ID {
		case superseded.ID:
			assert.Equal(t, domain.BidStatusRefunded, bid.Status)
		case pending.ID:
			assert.Equal(t, domain.BidStatusCancelled, bid.Status)
		}
	}
}

func TestDispatcher_Settle_EarlyFire_ReschedulesToEndTime(t *testing.T) {
	dispatcher, st := setupDispatcher(t)
	ctx := context.Background()

	endTime := testNow.Add(2 * time.Minute)
	seedListing(t, st, &schema.Listing{
		ID:        "listing-1",
		Chain:     domain.ChainEthereumMainnet,
		Type:      domain.ListingTypeEnglish,
		Status:    domain.ListingStatusActive,
		StartTime: testNow.Add(-time.Hour),
		EndTime:   endTime,
	})

	dispatcher.Handle(ctx, job(domain.JobKindSettle, "listing-1"))

	listing, err := st.GetListing(ctx, "listing-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusActive, listing.Status)

	rescheduled := st.GetScheduledJob(domain.JobKindSettle, "listing-1")
	require.NotNil(t, rescheduled)
	assert.Equal(t, endTime, rescheduled.RunAt)
}

func TestDispatcher_Settle_NoOpOnTerminalListing(t *testing.T) {
	dispatcher, st := setupDispatcher(t)
	ctx := context.Background()

	seedListing(t, st, &schema.Listing{
		ID:        "listing-1",
		Chain:     domain.ChainEthereumMainnet,
		Type:      domain.ListingTypeFixed,
		Status:    domain.ListingStatusSold,
		StartTime: testNow.Add(-2 * time.Hour),
		EndTime:   testNow.Add(-time.Hour),
	})

	dispatcher.Handle(ctx, job(domain.JobKindSettle, "listing-1"))

	listing, err := st.GetListing(ctx, "listing-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusSold, listing.Status)
}

func TestDispatcher_DutchSync_WritesDecayedPriceAndReschedules(t *testing.T) {
	dispatcher, st := setupDispatcher(t)
	ctx := context.Background()

	startTime := testNow.Add(-500 * time.Second)
	endTime := testNow.Add(500 * time.Second)
	seedListing(t, st, &schema.Listing{
		ID:         "listing-1",
		Chain:      domain.ChainEthereumMainnet,
		Type:       domain.ListingTypeDutch,
		Status:     domain.ListingStatusActive,
		Price:      decimal.NewFromInt(2),
		StartPrice: decimal.NewFromInt(2),
		EndPrice:   decimal.NewFromInt(1),
		StartTime:  startTime,
		EndTime:    endTime,
	})

	dispatcher.Handle(ctx, job(domain.JobKindDutchSync, "listing-1"))

	listing, err := st.GetListing(ctx, "listing-1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromFloat(1.5).Equal(listing.Price), "price = %s", listing.Price)

	next := st.GetScheduledJob(domain.JobKindDutchSync, "listing-1")
	require.NotNil(t, next)
	assert.Equal(t, testNow.Add(30*time.Second), next.RunAt)
}

func TestDispatcher_DutchSync_DefersToSettlementAtEnd(t *testing.T) {
	dispatcher, st := setupDispatcher(t)
	ctx := context.Background()

	endTime := testNow.Add(-time.Second)
	seedListing(t, st, &schema.Listing{
		ID:         "listing-1",
		Chain:      domain.ChainEthereumMainnet,
		Type:       domain.ListingTypeDutch,
		Status:     domain.ListingStatusActive,
		Price:      decimal.NewFromInt(2),
		StartPrice: decimal.NewFromInt(2),
		EndPrice:   decimal.NewFromInt(1),
		StartTime:  testNow.Add(-time.Hour),
		EndTime:    endTime,
	})

	dispatcher.Handle(ctx, job(domain.JobKindDutchSync, "listing-1"))

	listing, err := st.GetListing(ctx, "listing-1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(2).Equal(listing.Price), "price rewritten to %s", listing.Price)

	assert.Nil(t, st.GetScheduledJob(domain.JobKindDutchSync, "listing-1"))

	settle := st.GetScheduledJob(domain.JobKindSettle, "listing-1")
	require.NotNil(t, settle)
	assert.Equal(t, endTime, settle.RunAt)
}

func TestDispatcher_DutchSync_NoOpOnNonDutchListing(t *testing.T) {
	dispatcher, st := setupDispatcher(t)
	ctx := context.Background()

	seedListing(t, st, &schema.Listing{
		ID:        "listing-1",
		Chain:     domain.ChainEthereumMainnet,
		Type:      domain.ListingTypeEnglish,
		Status:    domain.ListingStatusActive,
		Price:     decimal.NewFromInt(7),
		StartTime: testNow.Add(-time.Hour),
		EndTime:   testNow.Add(time.Hour),
	})

	dispatcher.Handle(ctx, job(domain.JobKindDutchSync, "listing-1"))

	listing, err := st.GetListing(ctx, "listing-1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(7).Equal(listing.Price))
	assert.Nil(t, st.GetScheduledJob(domain.JobKindDutchSync, "listing-1"))
}

func TestDispatcher_UnknownJobKind_Ignored(t *testing.T) {
	dispatcher, _ := setupDispatcher(t)

	dispatcher.Handle(context.Background(), &schema.ScheduledJob{
		Kind:      domain.JobKind("compact"),
		ListingID: "listing-1",
		RunAt:     testNow,
	})
}

func TestDispatcher_Settle_RetriesOnConflict(t *testing.T) {
	dispatcher, st := setupDispatcher(t)
	ctx := context.Background()

	seedListing(t, st, &schema.Listing{
		ID:        "listing-1",
		Chain:     domain.ChainEthereumMainnet,
		Type:      domain.ListingTypeEnglish,
		Status:    domain.ListingStatusActive,
		StartTime: testNow.Add(-2 * time.Hour),
		EndTime:   testNow.Add(-time.Minute),
	})

	st.FailTransactions(2)
	dispatcher.Handle(ctx, job(domain.JobKindSettle, "listing-1"))

	listing, err := st.GetListing(ctx, "listing-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusExpired, listing.Status)
}
