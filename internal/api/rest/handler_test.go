package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnimart/marketplace-indexer/internal/api/rest"
	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/engine"
	"github.com/omnimart/marketplace-indexer/internal/logger"
	"github.com/omnimart/marketplace-indexer/internal/mocks"
	"github.com/omnimart/marketplace-indexer/internal/store"
	"github.com/omnimart/marketplace-indexer/internal/store/schema"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	logger.Initialize(logger.Config{Debug: false})
	gin.SetMode(gin.TestMode)
	m.Run()
}

type testAPIMocks struct {
	ctrl        *gomock.Controller
	marketplace *mocks.MockMarketplace
}

func setupAPI(t *testing.T) (*testAPIMocks, *gin.Engine) {
	ctrl := gomock.NewController(t)
	tm := &testAPIMocks{
		ctrl:        ctrl,
		marketplace: mocks.NewMockMarketplace(ctrl),
	}

	router := gin.New()
	rest.SetupRoutes(router, rest.NewHandler(tm.marketplace))
	return tm, router
}

func perform(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// errorCode extracts the code from a standardized error body
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func sampleListing() *schema.Listing {
	tokenID := int64(7)
	return &schema.Listing{
		ID:            "01HZX3K9J4M5N6P7Q8R9S0T1V2",
		Chain:         domain.ChainEthereumMainnet,
		Type:          domain.ListingTypeFixed,
		Status:        domain.ListingStatusActive,
		SellerAddress: "0xseller",
		TokenID:       &tokenID,
		Price:         decimal.RequireFromString("1.5"),
		StartTime:     testNow,
		EndTime:       testNow.Add(24 * time.Hour),
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
}

func TestHealthCheck(t *testing.T) {
	_, router := setupAPI(t)

	rec := perform(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateListing(t *testing.T) {
	tm, router := setupAPI(t)
	defer tm.ctrl.Finish()

	start := testNow.Add(time.Hour)
	end := testNow.Add(48 * time.Hour)

	tm.marketplace.EXPECT().
		CreateListing(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, params engine.CreateListingParams) (*schema.Listing, error) {
			assert.Equal(t, domain.ChainEthereumMainnet, params.Chain)
			assert.Equal(t, domain.ListingTypeDutch, params.Type)
			assert.Equal(t, "0xSeller", params.Seller)
			assert.Equal(t, "0xc0ffee254729296a45a3885639ac7e10f9d54979", params.TokenContract)
			assert.Equal(t, "7", params.TokenNumber)
			assert.True(t, params.Price.Equal(decimal.RequireFromString("2")))
			assert.True(t, params.EndPrice.Equal(decimal.RequireFromString("0.5")))
			assert.True(t, params.StartTime.Equal(start))
			assert.True(t, params.EndTime.Equal(end))
			return sampleListing(), nil
		})

	rec := perform(t, router, http.MethodPost, "/api/v1/listings", gin.H{
		"chain":          "eip155:1",
		"type":           "auction_dutch",
		"seller":         "0xSeller",
		"token_contract": "0xc0ffee254729296a45a3885639ac7e10f9d54979",
		"token_number":   "7",
		"price":          "2",
		"end_price":      "0.5",
		"start_time":     start,
		"end_time":       end,
	})

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp rest.ListingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "01HZX3K9J4M5N6P7Q8R9S0T1V2", resp.ID)
	assert.Equal(t, "eip155:1", resp.Chain)
	assert.Equal(t, "active", resp.Status)
	require.NotNil(t, resp.TokenID)
	assert.Equal(t, int64(7), *resp.TokenID)
}

func TestCreateListing_BundleItemsForwarded(t *testing.T) {
	tm, router := setupAPI(t)
	defer tm.ctrl.Finish()

	tm.marketplace.EXPECT().
		CreateListing(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, params engine.CreateListingParams) (*schema.Listing, error) {
			require.Len(t, params.BundleItems, 2)
			assert.Equal(t, "0xaaa", params.BundleItems[0].TokenContract)
			assert.Equal(t, "1", params.BundleItems[0].TokenNumber)
			assert.Equal(t, "0xbbb", params.BundleItems[1].TokenContract)
			assert.Equal(t, "2", params.BundleItems[1].TokenNumber)
			return sampleListing(), nil
		})

	rec := perform(t, router, http.MethodPost, "/api/v1/listings", gin.H{
		"chain":  "eip155:1",
		"type":   "bundle",
		"seller": "0xSeller",
		"price":  "3",
		"bundle_items": []gin.H{
			{"token_contract": "0xaaa", "token_number": "1"},
			{"token_contract": "0xbbb", "token_number": "2"},
		},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateListing_InvalidBody(t *testing.T) {
	tm, router := setupAPI(t)
	defer tm.ctrl.Finish()

	// Missing required fields, engine never reached
	rec := perform(t, router, http.MethodPost, "/api/v1/listings", gin.H{"chain": "eip155:1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", errorCode(t, rec))
}

func TestCreateListing_EngineRejection(t *testing.T) {
	tm, router := setupAPI(t)
	defer tm.ctrl.Finish()

	tm.marketplace.EXPECT().
		CreateListing(gomock.Any(), gomock.Any()).
		Return(nil, fmt.Errorf("seller does not own token: %w", domain.ErrInvalidState))

	rec := perform(t, router, http.MethodPost, "/api/v1/listings", gin.H{
		"chain":          "eip155:1",
		"type":           "fixed",
		"seller":         "0xSeller",
		"token_contract": "0xaaa",
		"token_number":   "1",
		"price":          "2",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", errorCode(t, rec))
}

func TestGetListing(t *testing.T) {
	tm, router := setupAPI(t)
	defer tm.ctrl.Finish()

	listing := sampleListing()
	tm.marketplace.EXPECT().
		GetListing(gomock.Any(), listing.ID).
		Return(listing, nil)

	rec := perform(t, router, http.MethodGet, "/api/v1/listings/"+listing.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rest.ListingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, listing.ID, resp.ID)
	assert.Equal(t, "fixed", resp.Type)
	assert.True(t, resp.Price.Equal(listing.Price))
}

func TestGetListing_NotFound(t *testing.T) {
	tm, router := setupAPI(t)
	defer tm.ctrl.Finish()

	tm.marketplace.EXPECT().
		GetListing(gomock.Any(), "missing").
		Return(nil, fmt.Errorf("listing missing: %w", domain.ErrNotFound))

	rec := perform(t, router, http.MethodGet, "/api/v1/listings/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))
}

func TestListListings_FilterParsing(t *testing.T) {
	tm, router := setupAPI(t)
	defer tm.ctrl.Finish()

	tm.marketplace.EXPECT().
		ListListings(gomock.Any(), store.ListingFilter{
			Chain:  domain.ChainPolygonMainnet,
			Status: domain.ListingStatusActive,
			Seller: "0xseller",
			Limit:  10,
			Offset: 20,
		}).
		Return([]*schema.Listing{sampleListing()}, nil)

	rec := perform(t, router, http.MethodGet,
		"/api/v1/listings?chain=eip155:137&status=active&seller=0xSELLER&limit=10&offset=20", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Listings []rest.ListingResponse `json:"listings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Listings, 1)
}

func TestListListings_InvalidLimit(t *testing.T) {
	tm, router := setupAPI(t)
	defer tm.ctrl.Finish()

	rec := perform(t, router, http.MethodGet, "/api/v1/listings?limit=banana", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "validation_failed", errorCode(t, rec))
}

func TestListBids(t *testing.T) {
	tm, router := setupAPI(t)
	defer tm.ctrl.Finish()

	tm.marketplace.EXPECT().
		ListBids(gomock.Any(), "lst1").
		Return([]*schema.Bid{
			{ID: 2, ListingID: "lst1", BidderAddress: "0xbob", Amount: decimal.RequireFromString("2"), Status: domain.BidStatusPending},
			{ID: 1, ListingID: "lst1", BidderAddress: "0xalice", Amount: decimal.RequireFromString("1"), Status: domain.BidStatusRefunded},
		}, nil)

	rec := perform(t, router, http.MethodGet, "/api/v1/listings/lst1/bids", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Bids []rest.BidResponse `json:"bids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Bids, 2)
	assert.Equal(t, "0xbob", resp.Bids[0].BidderAddress)
	assert.Equal(t, "refunded", resp.Bids[1].Status)
}

func TestPlaceBid(t *testing.T) {
	tm, router := setupAPI(t)
	defer tm.ctrl.Finish()

	amount := decimal.RequireFromString("2.5")
	tm.marketplace.EXPECT().
		PlaceBid(gomock.Any(), "lst1", "0xBidder", decimalMatcher{amount}).
		Return(&schema.Bid{
			ID:            1,
			ListingID:     "lst1",
			BidderAddress: "0xbidder",
			Amount:        amount,
			Status:        domain.BidStatusPending,
			TxHash:        "api:01HZX3K9J4M5N6P7Q8R9S0T1V2",
		}, nil)

	rec := perform(t, router, http.MethodPost, "/api/v1/listings/lst1/bids", gin.H{
		"bidder": "0xBidder",
		"amount": "2.5",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp rest.BidResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "0xbidder", resp.BidderAddress)
	assert.True(t, resp.Amount.Equal(amount))
	assert.Equal(t, "pending", resp.Status)
}

func TestPlaceBid_TooLow(t *testing.T) {
	tm, router := setupAPI(t)
	defer tm.ctrl.Finish()

	tm.marketplace.EXPECT().
		PlaceBid(gomock.Any(), "lst1", "0xBidder", gomock.Any()).
		Return(nil, fmt.Errorf("bid 1 does not beat 2: %w", domain.ErrBidTooLow))

	rec := perform(t, router, http.MethodPost, "/api/v1/listings/lst1/bids", gin.H{
		"bidder": "0xBidder",
		"amount": "1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "bid_too_low", errorCode(t, rec))
}

func TestBuyNow(t *testing.T) {
	tm, router := setupAPI(t)
	defer tm.ctrl.Finish()

	amount := decimal.RequireFromString("1.5")
	tm.marketplace.EXPECT().
		BuyNow(gomock.Any(), "lst1", "0xBuyer", decimalMatcher{amount}).
		Return(&schema.Sale{
			ID:            "01HZX3K9J4M5N6P7Q8R9S0T1V3",
			ListingID:     "lst1",
			Chain:         domain.ChainEthereumMainnet,
			BuyerAddress:  "0xbuyer",
			SellerAddress: "0xseller",
			Amount:        amount,
		}, nil)

	rec := perform(t, router, http.MethodPost, "/api/v1/listings/lst1/purchase", gin.H{
		"buyer":  "0xBuyer",
		"amount": "1.5",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp rest.SaleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "lst1", resp.ListingID)
	assert.Equal(t, "0xbuyer", resp.BuyerAddress)
	assert.True(t, resp.Amount.Equal(amount))
}

func TestBuyNow_StoreFailure(t *testing.T) {
	tm, router := setupAPI(t)
	defer tm.ctrl.Finish()

	tm.marketplace.EXPECT().
		BuyNow(gomock.Any(), "lst1", "0xBuyer", gomock.Any()).
		Return(nil, errors.New("connection reset"))

	rec := perform(t, router, http.MethodPost, "/api/v1/listings/lst1/purchase", gin.H{
		"buyer":  "0xBuyer",
		"amount": "1.5",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", errorCode(t, rec))
}

func TestWithdrawOverbid(t *testing.T) {
	tm, router := setupAPI(t)
	defer tm.ctrl.Finish()

	tm.marketplace.EXPECT().
		WithdrawOverbid(gomock.Any(), "lst1", "0xBidder").
		Return(decimal.RequireFromString("3.5"), nil)

	rec := perform(t, router, http.MethodPost, "/api/v1/listings/lst1/withdrawals", gin.H{
		"bidder": "0xBidder",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rest.WithdrawResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "lst1", resp.ListingID)
	assert.Equal(t, "0xbidder", resp.Bidder)
	assert.True(t, resp.Total.Equal(decimal.RequireFromString("3.5")))
}

func TestWithdrawOverbid_NothingPending(t *testing.T) {
	tm, router := setupAPI(t)
	defer tm.ctrl.Finish()

	tm.marketplace.EXPECT().
		WithdrawOverbid(gomock.Any(), "lst1", "0xBidder").
		Return(decimal.Zero, fmt.Errorf("no refundable bids: %w", domain.ErrNotFound))

	rec := perform(t, router, http.MethodPost, "/api/v1/listings/lst1/withdrawals", gin.H{
		"bidder": "0xBidder",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))
}

// decimalMatcher matches a decimal argument by numeric value rather than
// internal representation
type decimalMatcher struct {
	want decimal.Decimal
}

func (m decimalMatcher) Matches(x interface{}) bool {
	d, ok := x.(decimal.Decimal)
	return ok && d.Equal(m.want)
}

func (m decimalMatcher) String() string {
	return "decimal equal to " + m.want.String()
}
