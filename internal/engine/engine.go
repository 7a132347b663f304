package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/omnimart/marketplace-indexer/internal/adapter"
	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/lifecycle"
	"github.com/omnimart/marketplace-indexer/internal/retry"
	"github.com/omnimart/marketplace-indexer/internal/store"
	"github.com/omnimart/marketplace-indexer/internal/store/schema"
)

const (
	// DefaultExtensionWindow is how close to the end a bid must land to
	// extend an English auction
	DefaultExtensionWindow = 5 * time.Minute
	// DefaultExtensionIncrement is how far a late bid pushes the end time
	// out
	DefaultExtensionIncrement = 2 * time.Minute

	// DefaultListingDuration is applied when a listing is created without
	// an end time
	DefaultListingDuration = 7 * 24 * time.Hour
)

// Config holds the auction timing knobs. Zero values fall back to the
// package defaults.
type Config struct {
	ExtensionWindow        time.Duration
	ExtensionIncrement     time.Duration
	DefaultListingDuration time.Duration
}

// BundleItemRef identifies one token of a bundle listing by its on-chain
// coordinates
type BundleItemRef struct {
	TokenContract string
	TokenNumber   string
}

// CreateListingParams carries the caller-supplied fields for a new listing
type CreateListingParams struct {
	Chain         domain.Chain
	Type          domain.ListingType
	Seller        string
	TokenContract string
	TokenNumber   string
	// Price is the asking price; for Dutch auctions it is the start price
	Price decimal.Decimal
	// EndPrice is the Dutch auction floor
	EndPrice  decimal.Decimal
	StartTime time.Time
	EndTime   time.Time
	// BundleItems lists the member tokens of a bundle listing
	BundleItems []BundleItemRef
}

// Engine implements the marketplace operations that originate from the API
// rather than from chain events. Every multi-entity mutation runs in one
// transaction serialized on the listing row, and retries on write conflict.
type Engine struct {
	store  store.Store
	clock  adapter.Clock
	config Config
}

// NewEngine creates a marketplace engine
func NewEngine(st store.Store, clock adapter.Clock, cfg Config) *Engine {
	if cfg.ExtensionWindow == 0 {
		cfg.ExtensionWindow = DefaultExtensionWindow
	}
	if cfg.ExtensionIncrement == 0 {
		cfg.ExtensionIncrement = DefaultExtensionIncrement
	}
	if cfg.DefaultListingDuration == 0 {
		cfg.DefaultListingDuration = DefaultListingDuration
	}
	return &Engine{store: st, clock: clock, config: cfg}
}

// CreateListing validates and persists a new listing, scheduling its
// lifecycle jobs in the same transaction.
func (e *Engine) CreateListing(ctx context.Context, params CreateListingParams) (*schema.Listing, error) {
	if !domain.IsValidChain(params.Chain) {
		return nil, fmt.Errorf("%w: unsupported chain %q", domain.ErrInvalidState, params.Chain)
	}
	if params.Seller == "" || !params.Price.IsPositive() {
		return nil, fmt.Errorf("%w: seller and a positive price are required", domain.ErrInvalidState)
	}

	now := e.clock.Now()
	startTime := params.StartTime
	if startTime.IsZero() {
		startTime = now
	}
	endTime := params.EndTime
	if endTime.IsZero() {
		endTime = startTime.Add(e.config.DefaultListingDuration)
	}
	if !endTime.After(startTime) {
		return nil, fmt.Errorf("%w: end time must come after start time", domain.ErrInvalidState)
	}

	switch params.Type {
	case domain.ListingTypeFixed, domain.ListingTypeEnglish:
	case domain.ListingTypeDutch:
		if !params.EndPrice.IsPositive() || !params.EndPrice.LessThan(params.Price) {
			return nil, fmt.Errorf("%w: dutch end price must be positive and below the start price", domain.ErrInvalidState)
		}
	case domain.ListingTypeBundle:
		if len(params.BundleItems) == 0 {
			return nil, fmt.Errorf("%w: bundle listing needs at least one item", domain.ErrInvalidState)
		}
	default:
		return nil, fmt.Errorf("%w: unknown listing type %q", domain.ErrInvalidState, params.Type)
	}

	seller := domain.NormalizeAddress(params.Seller)

	status := domain.ListingStatusActive
	if startTime.After(now) {
		status = domain.ListingStatusPending
	}

	listing := &schema.Listing{
		ID:            uuid.NewString(),
		Chain:         params.Chain,
		Type:          params.Type,
		Status:        status,
		SellerAddress: seller,
		Price:         params.Price,
		StartPrice:    params.Price,
		EndPrice:      params.EndPrice,
		StartTime:     startTime,
		EndTime:       endTime,
	}

	err := retry.OnConflict(ctx, func() error {
		return e.store.Transaction(ctx, func(tx store.Store) error {
			if err := tx.EnsureUser(ctx, seller, domain.UserRoleCreator); err != nil {
				return err
			}

			var items []schema.BundleItem
			if params.Type == domain.ListingTypeBundle {
				resolved, err := e.resolveBundleItems(ctx, tx, listing.ID, params, seller)
				if err != nil {
					return err
				}
				items = resolved
			} else {
				token, err := e.resolveOwnedToken(ctx, tx, params.Chain, params.TokenContract, params.TokenNumber, seller)
				if err != nil {
					return err
				}
				listing.TokenID = &token.ID
			}

			if err := tx.CreateListing(ctx, listing, items); err != nil {
				return err
			}

			scheduler := lifecycle.NewScheduler(tx)
			if status == domain.ListingStatusPending {
				if err := scheduler.ScheduleActivation(ctx, listing.ID, startTime); err != nil {
					return err
				}
			}
			if params.Type != domain.ListingTypeFixed {
				if err := scheduler.ScheduleSettlement(ctx, listing.ID, endTime); err != nil {
					return err
				}
			}
			if status == domain.ListingStatusActive && params.Type == domain.ListingTypeDutch {
				if err := scheduler.ScheduleDutchSync(ctx, listing.ID, now.Add(lifecycle.DefaultDutchSyncInterval)); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

// resolveOwnedToken looks up a token and checks the seller holds it
func (e *Engine) resolveOwnedToken(ctx context.Context, tx store.Store, chain domain.Chain, contract, tokenNumber, seller string) (*schema.Token, error) {
	if contract == "" || tokenNumber == "" {
		return nil, fmt.Errorf("%w: token contract and token number are required", domain.ErrInvalidState)
	}

	collection, err := tx.GetCollection(ctx, chain, domain.NormalizeAddress(contract))
	if err != nil {
		return nil, err
	}
	if collection == nil {
		return nil, fmt.Errorf("%w: collection %s on %s", domain.ErrNotFound, contract, chain)
	}

	token, err := tx.GetToken(ctx, collection.ID, tokenNumber)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, fmt.Errorf("%w: token %s/%s", domain.ErrNotFound, contract, tokenNumber)
	}
	if token.OwnerAddress != seller {
		return nil, fmt.Errorf("%w: token %s/%s is not held by the seller", domain.ErrInvalidState, contract, tokenNumber)
	}
	return token, nil
}

func (e *Engine) resolveBundleItems(ctx context.Context, tx store.Store, listingID string, params CreateListingParams, seller string) ([]schema.BundleItem, error) {
	items := make([]schema.BundleItem, 0, len(params.BundleItems))
	seen := make(map[int64]bool, len(params.BundleItems))
	for _, ref := range params.BundleItems {
		token, err := e.resolveOwnedToken(ctx, tx, params.Chain, ref.TokenContract, ref.TokenNumber, seller)
		if err != nil {
			return nil, err
		}
		if seen[token.ID] {
			return nil, fmt.Errorf("%w: token %s/%s listed twice in bundle", domain.ErrInvalidState, ref.TokenContract, ref.TokenNumber)
		}
		seen[token.ID] = true
		items = append(items, schema.BundleItem{ListingID: listingID, TokenID: token.ID})
	}
	return items, nil
}

// PlaceBid places an English auction bid, superseding the previous pending
// bid and extending the auction when the bid lands inside the extension
// window.
func (e *Engine) PlaceBid(ctx context.Context, listingID, bidder string, amount decimal.Decimal) (*schema.Bid, error) {
	bidder = domain.NormalizeAddress(bidder)

	// The synthetic tx hash is fixed before the retry loop so a conflict
	// retry reuses the same bid identity instead of inserting twice
	bid := &schema.Bid{
		ListingID:     listingID,
		BidderAddress: bidder,
		Amount:        amount,
		Status:        domain.BidStatusPending,
		TxHash:        "api:" + ulid.Make().String(),
	}

	err := retry.OnConflict(ctx, func() error {
		return e.store.Transaction(ctx, func(tx store.Store) error {
			listing, err := tx.GetListingForUpdate(ctx, listingID)
			if err != nil {
				return err
			}
			if listing == nil {
				return fmt.Errorf("%w: listing %s", domain.ErrNotFound, listingID)
			}
			if listing.Status != domain.ListingStatusActive {
				return fmt.Errorf("%w: listing %s is %s", domain.ErrInvalidState, listingID, listing.Status)
			}
			if listing.Type != domain.ListingTypeEnglish {
				return fmt.Errorf("%w: listing %s is not an English auction", domain.ErrInvalidState, listingID)
			}
			if !amount.GreaterThan(listing.Price) {
				return fmt.Errorf("%w: %s does not exceed current price %s", domain.ErrBidTooLow, amount, listing.Price)
			}

			if err := tx.EnsureUser(ctx, bidder, domain.UserRoleBuyer); err != nil {
				return err
			}

			previous, err := tx.HighestPendingBid(ctx, listingID)
			if err != nil {
				return err
			}
			if previous != nil {
				if err := tx.UpdateBidStatus(ctx, previous.ID, domain.BidStatusRefunded); err != nil {
					return err
				}
			}

			inserted, err := tx.CreateBid(ctx, bid)
			if err != nil {
				return err
			}
			if !inserted {
				// A previous attempt already committed this bid
				return nil
			}

			listing.Price = amount

			now := e.clock.Now()
			if listing.EndTime.Sub(now) <= e.config.ExtensionWindow {
				listing.EndTime = listing.EndTime.Add(e.config.ExtensionIncrement)
				if err := lifecycle.NewScheduler(tx).RescheduleSettlement(ctx, listingID, listing.EndTime); err != nil {
					return err
				}
			}

			return tx.UpdateListing(ctx, listing)
		})
	})
	if err != nil {
		return nil, err
	}
	return bid, nil
}

// WithdrawOverbid acknowledges withdrawal of a bidder's superseded bids on
// a listing and returns the total amount released.
func (e *Engine) WithdrawOverbid(ctx context.Context, listingID, bidder string) (decimal.Decimal, error) {
	bidder = domain.NormalizeAddress(bidder)

	var total decimal.Decimal
	err := retry.OnConflict(ctx, func() error {
		return e.store.Transaction(ctx, func(tx store.Store) error {
			total = decimal.Zero

			listing, err := tx.GetListing(ctx, listingID)
			if err != nil {
				return err
			}
			if listing == nil {
				return fmt.Errorf("%w: listing %s", domain.ErrNotFound, listingID)
			}

			refunded, err := tx.ListBidsByBidder(ctx, listingID, bidder, domain.BidStatusRefunded)
			if err != nil {
				return err
			}
			if len(refunded) == 0 {
				return fmt.Errorf("%w: no refunded bids for %s on listing %s", domain.ErrNotFound, bidder, listingID)
			}

			for _, bid := range refunded {
				if err := tx.UpdateBidStatus(ctx, bid.ID, domain.BidStatusCancelled); err != nil {
					return err
				}
				total = total.Add(bid.Amount)
			}
			return nil
		})
	})
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// BuyNow purchases a Fixed, Dutch, or Bundle listing outright: the listing
// is sold, every listed token changes owner, pending lifecycle jobs are
// cleared, and a sale fact is recorded, all atomically.
func (e *Engine) BuyNow(ctx context.Context, listingID, buyer string, amount decimal.Decimal) (*schema.Sale, error) {
	buyer = domain.NormalizeAddress(buyer)

	// ULID fixed up front for the same reason as the PlaceBid tx hash
	saleID := ulid.Make().String()

	var sale *schema.Sale
	err := retry.OnConflict(ctx, func() error {
		return e.store.Transaction(ctx, func(tx store.Store) error {
			listing, err := tx.GetListingForUpdate(ctx, listingID)
			if err != nil {
				return err
			}
			if listing == nil {
				return fmt.Errorf("%w: listing %s", domain.ErrNotFound, listingID)
			}
			if listing.Status != domain.ListingStatusActive {
				return fmt.Errorf("%w: listing %s is %s", domain.ErrInvalidState, listingID, listing.Status)
			}
			if listing.Type == domain.ListingTypeEnglish {
				return fmt.Errorf("%w: English auction %s settles by bids", domain.ErrInvalidState, listingID)
			}
			if amount.LessThan(listing.Price) {
				return fmt.Errorf("%w: %s is below the asking price %s", domain.ErrBidTooLow, amount, listing.Price)
			}

			if err := tx.EnsureUser(ctx, buyer, domain.UserRoleBuyer); err != nil {
				return err
			}

			now := e.clock.Now()
			if listing.TokenID != nil {
				if err := tx.UpdateTokenOwner(ctx, *listing.TokenID, buyer, now); err != nil {
					return err
				}
			}
			if listing.Type == domain.ListingTypeBundle {
				items, err := tx.GetBundleItems(ctx, listingID)
				if err != nil {
					return err
				}
				for _, item := range items {
					if err := tx.UpdateTokenOwner(ctx, item.TokenID, buyer, now); err != nil {
						return err
					}
				}
			}

			listing.Status = domain.ListingStatusSold
			listing.Price = amount
			listing.EndTime = now
			if err := tx.UpdateListing(ctx, listing); err != nil {
				return err
			}

			sale = &schema.Sale{
				ID:            saleID,
				ListingID:     listingID,
				Chain:         listing.Chain,
				BuyerAddress:  buyer,
				SellerAddress: listing.SellerAddress,
				Amount:        amount,
			}
			if _, err := tx.CreateSale(ctx, sale); err != nil {
				return err
			}

			return lifecycle.NewScheduler(tx).ClearScheduledJobs(ctx, listingID)
		})
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// GetListing retrieves a listing by ID
func (e *Engine) GetListing(ctx context.Context, listingID string) (*schema.Listing, error) {
	listing, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, fmt.Errorf("%w: listing %s", domain.ErrNotFound, listingID)
	}
	return listing, nil
}

// ListListings retrieves listings matching the filter
func (e *Engine) ListListings(ctx context.Context, filter store.ListingFilter) ([]*schema.Listing, error) {
	return e.store.ListListings(ctx, filter)
}

// ListBids retrieves the bids on a listing
func (e *Engine) ListBids(ctx context.Context, listingID string) ([]*schema.Bid, error) {
	listing, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, fmt.Errorf("%w: listing %s", domain.ErrNotFound, listingID)
	}
	return e.store.ListBids(ctx, listingID)
}
