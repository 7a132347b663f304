package engine_test

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
	"github.com/omnimart/marketplace-indexer/internal/engine"
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

var (
	testNow      = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	testContract = "0xc0ffee254729296a45a3885639ac7e10f9d54979"
)

func setupEngine(t *testing.T) (*engine.Engine, *store.MemoryStore) {
	return setupEngineWithConfig(t, engine.Config{})
}

func setupEngineWithConfig(t *testing.T, cfg engine.Config) (*engine.Engine, *store.MemoryStore) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	mockClock := mocks.NewMockClock(ctrl)
	mockClock.EXPECT().Now().Return(testNow).AnyTimes()

	st := store.NewMemoryStore()
	return engine.NewEngine(st, mockClock, cfg), st
}

// seedToken creates the collection row for testContract if needed and a token
// owned by the given wallet
func seedToken(t *testing.T, st *store.MemoryStore, tokenNumber, owner string) *schema.Token {
	ctx := context.Background()

	collection, err := st.EnsureCollection(ctx, &schema.Collection{
		Chain:           domain.ChainEthereumMainnet,
		ContractAddress: testContract,
		Slug:            "test-collection",
	})
	require.NoError(t, err)

	token, err := st.EnsureToken(ctx, &schema.Token{
		CollectionID: collection.ID,
		TokenNumber:  tokenNumber,
		OwnerAddress: owner,
	})
	require.NoError(t, err)
	return token
}

func fixedListingParams() engine.CreateListingParams {
	return engine.CreateListingParams{
		Chain:         domain.ChainEthereumMainnet,
		Type:          domain.ListingTypeFixed,
		Seller:        "0xSeller",
		TokenContract: testContract,
		TokenNumber:   "1",
		Price:         decimal.NewFromInt(10),
	}
}

func TestEngine_CreateListing_Fixed(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	token := seedToken(t, st, "1", "0xseller")

	listing, err := marketplace.CreateListing(ctx, fixedListingParams())
	require.NoError(t, err)
	require.NotNil(t, listing)

	assert.Equal(t, domain.ListingStatusActive, listing.Status)
	assert.Equal(t, "0xseller", listing.SellerAddress)
	assert.Equal(t, testNow, listing.StartTime)
	assert.Equal(t, testNow.Add(engine.DefaultListingDuration), listing.EndTime)
	require.NotNil(t, listing.TokenID)
	assert.Equal(t, token.ID, *listing.TokenID)

	// Fixed listings have no settlement deadline
	assert.Nil(t, st.GetScheduledJob(domain.JobKindSettle, listing.ID))
	assert.Nil(t, st.GetScheduledJob(domain.JobKindActivate, listing.ID))
	assert.NotNil(t, st.GetUser("0xseller"))
}

func TestEngine_CreateListing_FutureStartIsPending(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	seedToken(t, st, "1", "0xseller")

	params := fixedListingParams()
	params.StartTime = testNow.Add(time.Hour)
	listing, err := marketplace.CreateListing(ctx, params)
	require.NoError(t, err)

	assert.Equal(t, domain.ListingStatusPending, listing.Status)

	activation := st.GetScheduledJob(domain.JobKindActivate, listing.ID)
	require.NotNil(t, activation)
	assert.Equal(t, testNow.Add(time.Hour), activation.RunAt)
}

func TestEngine_CreateListing_EnglishSchedulesSettlement(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	seedToken(t, st, "1", "0xseller")

	params := fixedListingParams()
	params.Type = domain.ListingTypeEnglish
	params.EndTime = testNow.Add(time.Hour)
	listing, err := marketplace.CreateListing(ctx, params)
	require.NoError(t, err)

	settle := st.GetScheduledJob(domain.JobKindSettle, listing.ID)
	require.NotNil(t, settle)
	assert.Equal(t, testNow.Add(time.Hour), settle.RunAt)
}

func TestEngine_CreateListing_DutchSchedulesPriceSync(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	seedToken(t, st, "1", "0xseller")

	params := fixedListingParams()
	params.Type = domain.ListingTypeDutch
	params.EndPrice = decimal.NewFromInt(2)
	listing, err := marketplace.CreateListing(ctx, params)
	require.NoError(t, err)

	assert.NotNil(t, st.GetScheduledJob(domain.JobKindSettle, listing.ID))
	assert.NotNil(t, st.GetScheduledJob(domain.JobKindDutchSync, listing.ID))
}

func TestEngine_CreateListing_DutchEndPriceValidation(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	seedToken(t, st, "1", "0xseller")

	params := fixedListingParams()
	params.Type = domain.ListingTypeDutch

	_, err := marketplace.CreateListing(ctx, params)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	params.EndPrice = decimal.NewFromInt(10)
	_, err = marketplace.CreateListing(ctx, params)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEngine_CreateListing_Validation(t *testing.T) {
	marketplace, _ := setupEngine(t)
	ctx := context.Background()

	params := fixedListingParams()
	params.Chain = domain.Chain("eip155:99999")
	_, err := marketplace.CreateListing(ctx, params)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	params = fixedListingParams()
	params.Price = decimal.Zero
	_, err = marketplace.CreateListing(ctx, params)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	params = fixedListingParams()
	params.StartTime = testNow.Add(time.Hour)
	params.EndTime = testNow.Add(time.Minute)
	_, err = marketplace.CreateListing(ctx, params)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	params = fixedListingParams()
	params.Type = domain.ListingType("raffle")
	_, err = marketplace.CreateListing(ctx, params)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEngine_CreateListing_TokenOwnership(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	// Unknown collection
	_, err := marketplace.CreateListing(ctx, fixedListingParams())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Known collection, unknown token
	seedToken(t, st, "2", "0xseller")
	_, err = marketplace.CreateListing(ctx, fixedListingParams())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Token held by someone else
	seedToken(t, st, "1", "0xsomeoneelse")
	_, err = marketplace.CreateListing(ctx, fixedListingParams())
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEngine_CreateListing_Bundle(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	first := seedToken(t, st, "1", "0xseller")
	second := seedToken(t, st, "2", "0xseller")

	params := fixedListingParams()
	params.Type = domain.ListingTypeBundle
	params.TokenContract = ""
	params.TokenNumber = ""
	params.BundleItems = []engine.BundleItemRef{
		{TokenContract: testContract, TokenNumber: "1"},
		{TokenContract: testContract, TokenNumber: "2"},
	}

	listing, err := marketplace.CreateListing(ctx, params)
	require.NoError(t, err)
	assert.Nil(t, listing.TokenID)

	items, err := st.GetBundleItems(ctx, listing.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.ElementsMatch(t, []int64{first.ID, second.ID}, []int64{items[0].TokenID, items[1].TokenID})

	// Bundles settle at the end time like auctions
	assert.NotNil(t, st.GetScheduledJob(domain.JobKindSettle, listing.ID))
}

func TestEngine_CreateListing_BundleRejectsDuplicatesAndEmpty(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	seedToken(t, st, "1", "0xseller")

	params := fixedListingParams()
	params.Type = domain.ListingTypeBundle
	params.BundleItems = nil
	_, err := marketplace.CreateListing(ctx, params)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	params.BundleItems = []engine.BundleItemRef{
		{TokenContract: testContract, TokenNumber: "1"},
		{TokenContract: testContract, TokenNumber: "1"},
	}
	_, err = marketplace.CreateListing(ctx, params)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

// seedEnglishAuction creates an active English auction ending an hour from now
func seedEnglishAuction(t *testing.T, marketplace *engine.Engine, st *store.MemoryStore) *schema.Listing {
	seedToken(t, st, "1", "0xseller")

	params := fixedListingParams()
	params.Type = domain.ListingTypeEnglish
	params.EndTime = testNow.Add(time.Hour)
	listing, err := marketplace.CreateListing(context.Background(), params)
	require.NoError(t, err)
	return listing
}

func TestEngine_PlaceBid_SinglePendingBidInvariant(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	listing := seedEnglishAuction(t, marketplace, st)

	_, err := marketplace.PlaceBid(ctx, listing.ID, "0xAlice", decimal.NewFromInt(11))
	require.NoError(t, err)
	_, err = marketplace.PlaceBid(ctx, listing.ID, "0xBob", decimal.NewFromInt(12))
	require.NoError(t, err)
	_, err = marketplace.PlaceBid(ctx, listing.ID, "0xAlice", decimal.NewFromInt(13))
	require.NoError(t, err)

	bids, err := st.ListBids(ctx, listing.ID)
	require.NoError(t, err)
	require.Len(t, bids, 3)

	var pending []*schema.Bid
	for _, bid := range bids {
		if bid.Status == domain.BidStatusPending {
			pending = append(pending, bid)
		}
	}
	require.Len(t, pending, 1)
	assert.Equal(t, "0xalice", pending[0].BidderAddress)
	assert.True(t, decimal.NewFromInt(13).Equal(pending[0].Amount))

	updated, err := st.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(13).Equal(updated.Price))
}

func TestEngine_PlaceBid_RejectsNonIncreasingAmount(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	listing := seedEnglishAuction(t, marketplace, st)

	_, err := marketplace.PlaceBid(ctx, listing.ID, "0xAlice", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, domain.ErrBidTooLow)

	_, err = marketplace.PlaceBid(ctx, listing.ID, "0xAlice", decimal.NewFromInt(11))
	require.NoError(t, err)

	// Equal to the current price is not an overbid
	_, err = marketplace.PlaceBid(ctx, listing.ID, "0xBob", decimal.NewFromInt(11))
	assert.ErrorIs(t, err, domain.ErrBidTooLow)
}

func TestEngine_PlaceBid_InvalidListingStates(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	_, err := marketplace.PlaceBid(ctx, "missing", "0xAlice", decimal.NewFromInt(11))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Fixed listings take no bids
	seedToken(t, st, "1", "0xseller")
	fixed, err := marketplace.CreateListing(ctx, fixedListingParams())
	require.NoError(t, err)

	_, err = marketplace.PlaceBid(ctx, fixed.ID, "0xAlice", decimal.NewFromInt(11))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEngine_PlaceBid_ExtendsAuctionInsideWindow(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	seedToken(t, st, "1", "0xseller")
	params := fixedListingParams()
	params.Type = domain.ListingTypeEnglish
	params.EndTime = testNow.Add(3 * time.Minute)
	listing, err := marketplace.CreateListing(ctx, params)
	require.NoError(t, err)

	_, err = marketplace.PlaceBid(ctx, listing.ID, "0xAlice", decimal.NewFromInt(11))
	require.NoError(t, err)

	updated, err := st.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(5*time.Minute), updated.EndTime)

	settle := st.GetScheduledJob(domain.JobKindSettle, listing.ID)
	require.NotNil(t, settle)
	assert.Equal(t, testNow.Add(5*time.Minute), settle.RunAt)
}

func TestEngine_PlaceBid_NoExtensionOutsideWindow(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	listing := seedEnglishAuction(t, marketplace, st)

	_, err := marketplace.PlaceBid(ctx, listing.ID, "0xAlice", decimal.NewFromInt(11))
	require.NoError(t, err)

	updated, err := st.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(time.Hour), updated.EndTime)
}

func TestEngine_PlaceBid_ConfiguredExtensionTiming(t *testing.T) {
	marketplace, st := setupEngineWithConfig(t, engine.Config{
		ExtensionWindow:    10 * time.Minute,
		ExtensionIncrement: 4 * time.Minute,
	})
	ctx := context.Background()

	seedToken(t, st, "1", "0xseller")
	params := fixedListingParams()
	params.Type = domain.ListingTypeEnglish
	// Inside the configured window but outside the default one
	params.EndTime = testNow.Add(8 * time.Minute)
	listing, err := marketplace.CreateListing(ctx, params)
	require.NoError(t, err)

	_, err = marketplace.PlaceBid(ctx, listing.ID, "0xAlice", decimal.NewFromInt(11))
	require.NoError(t, err)

	updated, err := st.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(12*time.Minute), updated.EndTime)
}

func TestEngine_PlaceBid_ExtendsOnceUnderConflictRetry(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	seedToken(t, st, "1", "0xseller")
	params := fixedListingParams()
	params.Type = domain.ListingTypeEnglish
	params.EndTime = testNow.Add(3 * time.Minute)
	listing, err := marketplace.CreateListing(ctx, params)
	require.NoError(t, err)

	st.FailTransactions(2)
	_, err = marketplace.PlaceBid(ctx, listing.ID, "0xAlice", decimal.NewFromInt(11))
	require.NoError(t, err)

	bids, err := st.ListBids(ctx, listing.ID)
	require.NoError(t, err)
	require.Len(t, bids, 1)

	updated, err := st.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(5*time.Minute), updated.EndTime)
}

func TestEngine_WithdrawOverbid(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	listing := seedEnglishAuction(t, marketplace, st)

	_, err := marketplace.PlaceBid(ctx, listing.ID, "0xAlice", decimal.NewFromInt(11))
	require.NoError(t, err)
	_, err = marketplace.PlaceBid(ctx, listing.ID, "0xBob", decimal.NewFromInt(12))
	require.NoError(t, err)
	_, err = marketplace.PlaceBid(ctx, listing.ID, "0xAlice", decimal.NewFromInt(13))
	require.NoError(t, err)
	_, err = marketplace.PlaceBid(ctx, listing.ID, "0xBob", decimal.NewFromInt(14))
	require.NoError(t, err)

	total, err := marketplace.WithdrawOverbid(ctx, listing.ID, "0xAlice")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(24).Equal(total), "total = %s", total)

	// Alice's superseded bids are closed out; a second withdrawal finds none
	_, err = marketplace.WithdrawOverbid(ctx, listing.ID, "0xAlice")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Bob's winning bid stays pending
	bids, err := st.ListBidsByBidder(ctx, listing.ID, "0xbob", domain.BidStatusPending)
	require.NoError(t, err)
	assert.Len(t, bids, 1)
}

func TestEngine_WithdrawOverbid_UnknownListing(t *testing.T) {
	marketplace, _ := setupEngine(t)

	_, err := marketplace.WithdrawOverbid(context.Background(), "missing", "0xAlice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngine_BuyNow_FixedListing(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	token := seedToken(t, st, "1", "0xseller")
	listing, err := marketplace.CreateListing(ctx, fixedListingParams())
	require.NoError(t, err)

	sale, err := marketplace.BuyNow(ctx, listing.ID, "0xBuyer", decimal.NewFromInt(10))
	require.NoError(t, err)
	require.NotNil(t, sale)
	assert.Equal(t, "0xbuyer", sale.BuyerAddress)
	assert.Equal(t, "0xseller", sale.SellerAddress)
	assert.True(t, decimal.NewFromInt(10).Equal(sale.Amount))

	updated, err := st.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusSold, updated.Status)
	assert.Equal(t, testNow, updated.EndTime)

	owned, err := st.GetTokenByID(ctx, token.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xbuyer", owned.OwnerAddress)

	sales, err := st.ListSales(ctx, listing.ID)
	require.NoError(t, err)
	assert.Len(t, sales, 1)

	// The listing cannot be bought twice
	_, err = marketplace.BuyNow(ctx, listing.ID, "0xOther", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEngine_BuyNow_BundleTransfersEveryToken(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	first := seedToken(t, st, "1", "0xseller")
	second := seedToken(t, st, "2", "0xseller")

	params := fixedListingParams()
	params.Type = domain.ListingTypeBundle
	params.BundleItems = []engine.BundleItemRef{
		{TokenContract: testContract, TokenNumber: "1"},
		{TokenContract: testContract, TokenNumber: "2"},
	}
	listing, err := marketplace.CreateListing(ctx, params)
	require.NoError(t, err)

	_, err = marketplace.BuyNow(ctx, listing.ID, "0xBuyer", decimal.NewFromInt(10))
	require.NoError(t, err)

	for _, tokenID := range []int64{first.ID, second.ID} {
		token, err := st.GetTokenByID(ctx, tokenID)
		require.NoError(t, err)
		assert.Equal(t, "0xbuyer", token.OwnerAddress)
	}

	assert.Nil(t, st.GetScheduledJob(domain.JobKindSettle, listing.ID))
}

func TestEngine_BuyNow_Rejections(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	_, err := marketplace.BuyNow(ctx, "missing", "0xBuyer", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	seedToken(t, st, "1", "0xseller")
	fixed, err := marketplace.CreateListing(ctx, fixedListingParams())
	require.NoError(t, err)

	_, err = marketplace.BuyNow(ctx, fixed.ID, "0xBuyer", decimal.NewFromInt(9))
	assert.ErrorIs(t, err, domain.ErrBidTooLow)

	seedToken(t, st, "2", "0xseller")
	params := fixedListingParams()
	params.Type = domain.ListingTypeEnglish
	params.TokenNumber = "2"
	auction, err := marketplace.CreateListing(ctx, params)
	require.NoError(t, err)

	_, err = marketplace.BuyNow(ctx, auction.ID, "0xBuyer", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEngine_Queries(t *testing.T) {
	marketplace, st := setupEngine(t)
	ctx := context.Background()

	_, err := marketplace.GetListing(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = marketplace.ListBids(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	seedToken(t, st, "1", "0xseller")
	listing, err := marketplace.CreateListing(ctx, fixedListingParams())
	require.NoError(t, err)

	found, err := marketplace.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, listing.ID, found.ID)

	listings, err := marketplace.ListListings(ctx, store.ListingFilter{Seller: "0xseller"})
	require.NoError(t, err)
	assert.Len(t, listings, 1)

	bids, err := marketplace.ListBids(ctx, listing.ID)
	require.NoError(t, err)
	assert.Empty(t, bids)
}
