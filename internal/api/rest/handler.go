package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/engine"
	"github.com/omnimart/marketplace-indexer/internal/store"
	"github.com/omnimart/marketplace-indexer/internal/store/schema"
)

// Marketplace is the engine surface the REST layer depends on
//
//go:generate mockgen -source=handler.go -destination=../../mocks/marketplace.go -package=mocks -mock_names=Marketplace=MockMarketplace
type Marketplace interface {
	CreateListing(ctx context.Context, params engine.CreateListingParams) (*schema.Listing, error)
	PlaceBid(ctx context.Context, listingID, bidder string, amount decimal.Decimal) (*schema.Bid, error)
	WithdrawOverbid(ctx context.Context, listingID, bidder string) (decimal.Decimal, error)
	BuyNow(ctx context.Context, listingID, buyer string, amount decimal.Decimal) (*schema.Sale, error)
	GetListing(ctx context.Context, listingID string) (*schema.Listing, error)
	ListListings(ctx context.Context, filter store.ListingFilter) ([]*schema.Listing, error)
	ListBids(ctx context.Context, listingID string) ([]*schema.Bid, error)
}

// Handler defines the REST API handlers
type Handler interface {
	// CreateListing creates a new listing
	// POST /api/v1/listings
	CreateListing(c *gin.Context)

	// GetListing retrieves a single listing
	// GET /api/v1/listings/:id
	GetListing(c *gin.Context)

	// ListListings retrieves listings with optional filters
	// GET /api/v1/listings?chain=<chain>&status=<status>&seller=<address>&limit=<limit>&offset=<offset>
	ListListings(c *gin.Context)

	// ListBids retrieves the bids on a listing, newest first
	// GET /api/v1/listings/:id/bids
	ListBids(c *gin.Context)

	// PlaceBid places an English auction bid
	// POST /api/v1/listings/:id/bids
	PlaceBid(c *gin.Context)

	// BuyNow purchases a Fixed, Dutch, or Bundle listing outright
	// POST /api/v1/listings/:id/purchase
	BuyNow(c *gin.Context)

	// WithdrawOverbid acknowledges withdrawal of superseded bids
	// POST /api/v1/listings/:id/withdrawals
	WithdrawOverbid(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	marketplace Marketplace
}

// NewHandler creates a new REST API handler over the marketplace engine
func NewHandler(marketplace Marketplace) Handler {
	return &handler{marketplace: marketplace}
}

// CreateListing creates a new listing
func (h *handler) CreateListing(c *gin.Context) {
	var req CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}

	listing, err := h.marketplace.CreateListing(c.Request.Context(), req.ToParams())
	if err != nil {
		respondEngineError(c, err, "Failed to create listing")
		return
	}

	c.JSON(http.StatusCreated, NewListingResponse(listing))
}

// GetListing retrieves a single listing
func (h *handler) GetListing(c *gin.Context) {
	listingID := c.Param("id")
	if listingID == "" {
		respondBadRequest(c, "Listing ID is required")
		return
	}

	listing, err := h.marketplace.GetListing(c.Request.Context(), listingID)
	if err != nil {
		respondEngineError(c, err, "Failed to get listing")
		return
	}

	c.JSON(http.StatusOK, NewListingResponse(listing))
}

// ListListings retrieves listings with optional filters
func (h *handler) ListListings(c *gin.Context) {
	filter, err := parseListingFilter(c)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	listings, err := h.marketplace.ListListings(c.Request.Context(), filter)
	if err != nil {
		respondEngineError(c, err, "Failed to list listings")
		return
	}

	response := make([]ListingResponse, 0, len(listings))
	for _, listing := range listings {
		response = append(response, NewListingResponse(listing))
	}
	c.JSON(http.StatusOK, gin.H{"listings": response})
}

// ListBids retrieves the bids on a listing
func (h *handler) ListBids(c *gin.Context) {
	listingID := c.Param("id")

	bids, err := h.marketplace.ListBids(c.Request.Context(), listingID)
	if err != nil {
		respondEngineError(c, err, "Failed to list bids")
		return
	}

	response := make([]BidResponse, 0, len(bids))
	for _, bid := range bids {
		response = append(response, NewBidResponse(bid))
	}
	c.JSON(http.StatusOK, gin.H{"bids": response})
}

// PlaceBid places an English auction bid
func (h *handler) PlaceBid(c *gin.Context) {
	listingID := c.Param("id")

	var req PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}

	bid, err := h.marketplace.PlaceBid(c.Request.Context(), listingID, req.Bidder, req.Amount)
	if err != nil {
		respondEngineError(c, err, "Failed to place bid")
		return
	}

	c.JSON(http.StatusCreated, NewBidResponse(bid))
}

// BuyNow purchases a listing outright
func (h *handler) BuyNow(c *gin.Context) {
	listingID := c.Param("id")

	var req BuyNowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}

	sale, err := h.marketplace.BuyNow(c.Request.Context(), listingID, req.Buyer, req.Amount)
	if err != nil {
		respondEngineError(c, err, "Failed to purchase listing")
		return
	}

	c.JSON(http.StatusCreated, NewSaleResponse(sale))
}

// WithdrawOverbid acknowledges withdrawal of superseded bids
func (h *handler) WithdrawOverbid(c *gin.Context) {
	listingID := c.Param("id")

	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}

	total, err := h.marketplace.WithdrawOverbid(c.Request.Context(), listingID, req.Bidder)
	if err != nil {
		respondEngineError(c, err, "Failed to withdraw bids")
		return
	}

	c.JSON(http.StatusOK, WithdrawResponse{
		ListingID: listingID,
		Bidder:    domain.NormalizeAddress(req.Bidder),
		Total:     total,
	})
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// parseListingFilter reads the listing query parameters
func parseListingFilter(c *gin.Context) (store.ListingFilter, error) {
	filter := store.ListingFilter{
		Chain:  domain.Chain(c.Query("chain")),
		Status: domain.ListingStatus(c.Query("status")),
		Seller: domain.NormalizeAddress(c.Query("seller")),
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, errInvalidQueryParam("limit", raw)
		}
		filter.Limit = limit
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, errInvalidQueryParam("offset", raw)
		}
		filter.Offset = offset
	}
	return filter, nil
}
