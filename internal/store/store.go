package store

import (
	"context"
	"time"

	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/store/schema"
)

// ListingFilter narrows ListListings results. Zero-valued fields are ignored.
type ListingFilter struct {
	Chain  domain.Chain
	Status domain.ListingStatus
	Seller string
	Limit  int
	Offset int
}

// Store defines the interface for database operations.
//
// Lookup methods return (nil, nil) when no record matches; callers that need
// an error translate that into domain.ErrNotFound.
type Store interface {
	// GetCollection retrieves a collection by chain and contract address
	GetCollection(ctx context.Context, chain domain.Chain, contractAddress string) (*schema.Collection, error)
	// GetCollectionBySlug retrieves a collection by its slug
	GetCollectionBySlug(ctx context.Context, slug string) (*schema.Collection, error)
	// EnsureCollection inserts the collection unless one already exists for
	// its (chain, contract address) pair, and returns the stored row
	EnsureCollection(ctx context.Context, collection *schema.Collection) (*schema.Collection, error)
	// RegisterCollection upserts curated collection data onto the
	// (chain, contract address) row, clearing the shadow flag
	RegisterCollection(ctx context.Context, collection *schema.Collection) error

	// GetToken retrieves a token by collection and token number
	GetToken(ctx context.Context, collectionID int64, tokenNumber string) (*schema.Token, error)
	// GetTokenByID retrieves a token by its internal ID
	GetTokenByID(ctx context.Context, tokenID int64) (*schema.Token, error)
	// EnsureToken inserts the token unless one already exists for its
	// (collection, token number) pair, and returns the stored row
	EnsureToken(ctx context.Context, token *schema.Token) (*schema.Token, error)
	// UpdateTokenOwner records an ownership change for a token
	UpdateTokenOwner(ctx context.Context, tokenID int64, owner string, transferredAt time.Time) error

	// EnsureUser inserts a user for the wallet unless one already exists
	EnsureUser(ctx context.Context, walletAddress string, role domain.UserRole) error

	// GetListing retrieves a listing by ID
	GetListing(ctx context.Context, id string) (*schema.Listing, error)
	// GetListingForUpdate retrieves a listing with a row-level lock; only
	// meaningful inside Transaction
	GetListingForUpdate(ctx context.Context, id string) (*schema.Listing, error)
	// ListListings retrieves listings matching the filter, newest first
	ListListings(ctx context.Context, filter ListingFilter) ([]*schema.Listing, error)
	// UpsertListing inserts or updates a chain-observed listing. A listing
	// already in a terminal status is never modified.
	UpsertListing(ctx context.Context, listing *schema.Listing) error
	// UpdateListing saves changes to an existing listing
	UpdateListing(ctx context.Context, listing *schema.Listing) error
	// CreateListing inserts a new listing together with its bundle items
	CreateListing(ctx context.Context, listing *schema.Listing, items []schema.BundleItem) error
	// GetBundleItems retrieves the bundle items of a listing
	GetBundleItems(ctx context.Context, listingID string) ([]*schema.BundleItem, error)

	// CreateBid inserts a bid; returns false when a bid with the same
	// (listing, tx hash, log index) already exists
	CreateBid(ctx context.Context, bid *schema.Bid) (bool, error)
	// ListBids retrieves all bids on a listing, newest first
	ListBids(ctx context.Context, listingID string) ([]*schema.Bid, error)
	// ListBidsByBidder retrieves a bidder's bids on a listing in the given status
	ListBidsByBidder(ctx context.Context, listingID string, bidder string, status domain.BidStatus) ([]*schema.Bid, error)
	// HighestPendingBid retrieves the highest pending bid on a listing
	HighestPendingBid(ctx context.Context, listingID string) (*schema.Bid, error)
	// UpdateBidStatus updates the status of a single bid
	UpdateBidStatus(ctx context.Context, bidID int64, status domain.BidStatus) error
	// UpdateBidStatuses moves every bid on the listing from one status to another
	UpdateBidStatuses(ctx context.Context, listingID string, from domain.BidStatus, to domain.BidStatus) error

	// CreateSale inserts a sale; returns false when the sale ID already exists
	CreateSale(ctx context.Context, sale *schema.Sale) (bool, error)
	// ListSales retrieves the sales recorded for a listing
	ListSales(ctx context.Context, listingID string) ([]*schema.Sale, error)

	// CreateBridgeEvent inserts a bridge event; returns false when an event
	// with the same message ID already exists
	CreateBridgeEvent(ctx context.Context, event *schema.BridgeEvent) (bool, error)
	// GetBridgeEventByCompletionRef retrieves the bridge event completed by
	// the given completion reference
	GetBridgeEventByCompletionRef(ctx context.Context, ref string) (*schema.BridgeEvent, error)
	// LatestInFlightBridgeEvent retrieves the most recent in-flight bridge
	// event for a token
	LatestInFlightBridgeEvent(ctx context.Context, tokenID int64) (*schema.BridgeEvent, error)
	// UpdateBridgeEvent saves changes to an existing bridge event
	UpdateBridgeEvent(ctx context.Context, event *schema.BridgeEvent) error

	// SaveScheduledJob inserts or replaces the pending job for the
	// (kind, listing) pair
	SaveScheduledJob(ctx context.Context, job *schema.ScheduledJob) error
	// DeleteScheduledJob removes the pending job for the (kind, listing) pair
	DeleteScheduledJob(ctx context.Context, kind domain.JobKind, listingID string) error
	// DeleteScheduledJobsForListing removes every pending job for a listing
	DeleteScheduledJobsForListing(ctx context.Context, listingID string) error
	// ClaimDueJobs atomically removes and returns up to limit jobs whose run
	// time has passed, so each due job is dispatched exactly once
	ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]*schema.ScheduledJob, error)

	// Transaction runs fn inside a database transaction. The Store passed to
	// fn routes all operations through the transaction. A rolled-back write
	// conflict surfaces as domain.ErrConflictRetryable.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	CursorStore
}
