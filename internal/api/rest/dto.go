package rest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/engine"
	"github.com/omnimart/marketplace-indexer/internal/store/schema"
)

// BundleItemRequest identifies one token of a bundle listing
type BundleItemRequest struct {
	TokenContract string `json:"token_contract" binding:"required"`
	TokenNumber   string `json:"token_number" binding:"required"`
}

// CreateListingRequest is the body of POST /listings
type CreateListingRequest struct {
	Chain         string              `json:"chain" binding:"required"`
	Type          string              `json:"type" binding:"required"`
	Seller        string              `json:"seller" binding:"required"`
	TokenContract string              `json:"token_contract"`
	TokenNumber   string              `json:"token_number"`
	Price         decimal.Decimal     `json:"price"`
	EndPrice      decimal.Decimal     `json:"end_price"`
	StartTime     *time.Time          `json:"start_time"`
	EndTime       *time.Time          `json:"end_time"`
	BundleItems   []BundleItemRequest `json:"bundle_items"`
}

// ToParams converts the request into engine parameters
func (r *CreateListingRequest) ToParams() engine.CreateListingParams {
	params := engine.CreateListingParams{
		Chain:         domain.Chain(r.Chain),
		Type:          domain.ListingType(r.Type),
		Seller:        r.Seller,
		TokenContract: r.TokenContract,
		TokenNumber:   r.TokenNumber,
		Price:         r.Price,
		EndPrice:      r.EndPrice,
	}
	if r.StartTime != nil {
		params.StartTime = *r.StartTime
	}
	if r.EndTime != nil {
		params.EndTime = *r.EndTime
	}
	for _, item := range r.BundleItems {
		params.BundleItems = append(params.BundleItems, engine.BundleItemRef{
			TokenContract: item.TokenContract,
			TokenNumber:   item.TokenNumber,
		})
	}
	return params
}

// PlaceBidRequest is the body of POST /listings/:id/bids
type PlaceBidRequest struct {
	Bidder string          `json:"bidder" binding:"required"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// BuyNowRequest is the body of POST /listings/:id/purchase
type BuyNowRequest struct {
	Buyer  string          `json:"buyer" binding:"required"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// WithdrawRequest is the body of POST /listings/:id/withdrawals
type WithdrawRequest struct {
	Bidder string `json:"bidder" binding:"required"`
}

// ListingResponse is the wire form of a listing
type ListingResponse struct {
	ID            string          `json:"id"`
	Chain         string          `json:"chain"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	SellerAddress string          `json:"seller_address"`
	TokenID       *int64          `json:"token_id,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StartPrice    decimal.Decimal `json:"start_price"`
	EndPrice      decimal.Decimal `json:"end_price"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	TxHash        string          `json:"tx_hash,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewListingResponse converts a listing row into its wire form
func NewListingResponse(listing *schema.Listing) ListingResponse {
	return ListingResponse{
		ID:            listing.ID,
		Chain:         string(listing.Chain),
		Type:          string(listing.Type),
		Status:        string(listing.Status),
		SellerAddress: listing.SellerAddress,
		TokenID:       listing.TokenID,
		Price:         listing.Price,
		StartPrice:    listing.StartPrice,
		EndPrice:      listing.EndPrice,
		StartTime:     listing.StartTime,
		EndTime:       listing.EndTime,
		TxHash:        listing.TxHash,
		CreatedAt:     listing.CreatedAt,
		UpdatedAt:     listing.UpdatedAt,
	}
}

// BidResponse is the wire form of a bid
type BidResponse struct {
	ID            int64           `json:"id"`
	ListingID     string          `json:"listing_id"`
	BidderAddress string          `json:"bidder_address"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	TxHash        string          `json:"tx_hash"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewBidResponse converts a bid row into its wire form
func NewBidResponse(bid *schema.Bid) BidResponse {
	return BidResponse{
		ID:            bid.ID,
		ListingID:     bid.ListingID,
		BidderAddress: bid.BidderAddress,
		Amount:        bid.Amount,
		Status:        string(bid.Status),
		TxHash:        bid.TxHash,
		CreatedAt:     bid.CreatedAt,
	}
}

// SaleResponse is the wire form of a sale
type SaleResponse struct {
	ID            string          `json:"id"`
	ListingID     string          `json:"listing_id"`
	Chain         string          `json:"chain"`
	BuyerAddress  string          `json:"buyer_address"`
	SellerAddress string          `json:"seller_address"`
	Amount        decimal.Decimal `json:"amount"`
	TxHash        string          `json:"tx_hash,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewSaleResponse converts a sale row into its wire form
func NewSaleResponse(sale *schema.Sale) SaleResponse {
	return SaleResponse{
		ID:            sale.ID,
		ListingID:     sale.ListingID,
		Chain:         string(sale.Chain),
		BuyerAddress:  sale.BuyerAddress,
		SellerAddress: sale.SellerAddress,
		Amount:        sale.Amount,
		TxHash:        sale.TxHash,
		CreatedAt:     sale.CreatedAt,
	}
}

// WithdrawResponse is the wire form of a withdrawal acknowledgement
type WithdrawResponse struct {
	ListingID string          `json:"listing_id"`
	Bidder    string          `json:"bidder"`
	Total     decimal.Decimal `json:"total"`
}
