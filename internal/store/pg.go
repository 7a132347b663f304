package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to reasonable defaults.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	// database/sql treats MaxIdleConns above MaxOpenConns as MaxOpenConns
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// GetCollection retrieves a collection by chain and contract address
func (s *pgStore) GetCollection(ctx context.Context, chain domain.Chain, contractAddress string) (*schema.Collection, error) {
	var collection schema.Collection
	err := s.db.WithContext(ctx).
		Where("chain = ? AND contract_address = ?", chain, contractAddress).
		First(&collection).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return &collection, nil
}

// GetCollectionBySlug retrieves a collection by its slug
func (s *pgStore) GetCollectionBySlug(ctx context.Context, slug string) (*schema.Collection, error) {
	var collection schema.Collection
	err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&collection).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get collection by slug: %w", err)
	}
	return &collection, nil
}

// EnsureCollection inserts the collection unless one already exists for its
// (chain, contract address) pair, and returns the stored row
func (s *pgStore) EnsureCollection(ctx context.Context, collection *schema.Collection) (*schema.Collection, error) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain"}, {Name: "contract_address"}},
		DoNothing: true,
	}).Create(collection).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	// On conflict nothing was inserted, so fetch the existing row
	if collection.ID == 0 {
		return s.GetCollection(ctx, collection.Chain, collection.ContractAddress)
	}

	return collection, nil
}

// RegisterCollection upserts curated collection data onto the
// (chain, contract address) row, clearing the shadow flag
func (s *pgStore) RegisterCollection(ctx context.Context, collection *schema.Collection) error {
	collection.Shadow = false
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chain"}, {Name: "contract_address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"slug", "name", "creator_address", "shadow", "metadata", "updated_at",
		}),
	}).Create(collection).Error
	if err != nil {
		return fmt.Errorf("failed to register collection: %w", err)
	}
	return nil
}

// GetToken retrieves a token by collection and token number
func (s *pgStore) GetToken(ctx context.Context, collectionID int64, tokenNumber string) (*schema.Token, error) {
	var token schema.Token
	err := s.db.WithContext(ctx).
		Where("collection_id = ? AND token_number = ?", collectionID, tokenNumber).
		First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &token, nil
}

// GetTokenByID retrieves a token by its internal ID
func (s *pgStore) GetTokenByID(ctx context.Context, tokenID int64) (*schema.Token, error) {
	var token schema.Token
	err := s.db.WithContext(ctx).Where("id = ?", tokenID).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &token, nil
}

// EnsureToken inserts the token unless one already exists for its
// (collection, token number) pair, and returns the stored row
func (s *pgStore) EnsureToken(ctx context.Context, token *schema.Token) (*schema.Token, error) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection_id"}, {Name: "token_number"}},
		DoNothing: true,
	}).Create(token).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}

	if token.ID == 0 {
		return s.GetToken(ctx, token.CollectionID, token.TokenNumber)
	}

	return token, nil
}

// UpdateTokenOwner records an ownership change for a token
func (s *pgStore) UpdateTokenOwner(ctx context.Context, tokenID int64, owner string, transferredAt time.Time) error {
	err := s.db.WithContext(ctx).Model(&schema.Token{}).
		Where("id = ?", tokenID).
		Updates(map[string]interface{}{
			"owner_address":       owner,
			"last_transferred_at": transferredAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update token owner: %w", err)
	}
	return nil
}

// EnsureUser inserts a user for the wallet unless one already exists
func (s *pgStore) EnsureUser(ctx context.Context, walletAddress string, role domain.UserRole) error {
	user := schema.User{
		WalletAddress: walletAddress,
		Role:          role,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}},
		DoNothing: true,
	}).Create(&user).Error
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

// GetListing retrieves a listing by ID
func (s *pgStore) GetListing(ctx context.Context, id string) (*schema.Listing, error) {
	var listing schema.Listing
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&listing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return &listing, nil
}

// GetListingForUpdate retrieves a listing with a row-level lock
func (s *pgStore) GetListingForUpdate(ctx context.Context, id string) (*schema.Listing, error) {
	var listing schema.Listing
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&listing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock listing: %w", err)
	}
	return &listing, nil
}

// ListListings retrieves listings matching the filter, newest first
func (s *pgStore) ListListings(ctx context.Context, filter ListingFilter) ([]*schema.Listing, error) {
	query := s.db.WithContext(ctx).Model(&schema.Listing{})

	if filter.Chain != "" {
		query = query.Where("chain = ?", filter.Chain)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Seller != "" {
		query = query.Where("seller_address = ?", filter.Seller)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var listings []*schema.Listing
	if err := query.Order("created_at DESC").Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	return listings, nil
}

// UpsertListing inserts or updates a chain-observed listing. The conflict
// clause refuses to touch rows already in a terminal status, so replayed
// creation events cannot resurrect a sold or cancelled listing.
func (s *pgStore) UpsertListing(ctx context.Context, listing *schema.Listing) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"type", "status", "seller_address", "token_id",
			"price", "start_price", "end_price",
			"start_time", "end_time", "tx_hash", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("listings.status NOT IN ?", []domain.ListingStatus{
				domain.ListingStatusSold,
				domain.ListingStatusExpired,
				domain.ListingStatusCancelled,
			}),
		}},
	}).Create(listing).Error
	if err != nil {
		return fmt.Errorf("failed to upsert listing: %w", err)
	}
	return nil
}

// UpdateListing saves changes to an existing listing
func (s *pgStore) UpdateListing(ctx context.Context, listing *schema.Listing) error {
	if err := s.db.WithContext(ctx).Save(listing).Error; err != nil {
		return fmt.Errorf("failed to update listing: %w", err)
	}
	return nil
}

// CreateListing inserts a new listing together with its bundle items
func (s *pgStore) CreateListing(ctx context.Context, listing *schema.Listing, items []schema.BundleItem) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(listing).Error; err != nil {
			return fmt.Errorf("failed to create listing: %w", err)
		}

		for i := range items {
			items[i].ListingID = listing.ID
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return fmt.Errorf("failed to create bundle items: %w", err)
			}
		}

		return nil
	})
}

// GetBundleItems retrieves the bundle items of a listing
func (s *pgStore) GetBundleItems(ctx context.Context, listingID string) ([]*schema.BundleItem, error) {
	var items []*schema.BundleItem
	err := s.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get bundle items: %w", err)
	}
	return items, nil
}

// CreateBid inserts a bid; returns false when a bid with the same
// (listing, tx hash, log index) already exists
func (s *pgStore) CreateBid(ctx context.Context, bid *schema.Bid) (bool, error) {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "listing_id"}, {Name: "tx_hash"}, {Name: "log_index"}},
		DoNothing: true,
	}).Create(bid)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create bid: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListBids retrieves all bids on a listing, newest first
func (s *pgStore) ListBids(ctx context.Context, listingID string) ([]*schema.Bid, error) {
	var bids []*schema.Bid
	err := s.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("created_at DESC").
		Find(&bids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	return bids, nil
}

// ListBidsByBidder retrieves a bidder's bids on a listing in the given status
func (s *pgStore) ListBidsByBidder(ctx context.Context, listingID string, bidder string, status domain.BidStatus) ([]*schema.Bid, error) {
	var bids []*schema.Bid
	err := s.db.WithContext(ctx).
		Where("listing_id = ? AND bidder_address = ? AND status = ?", listingID, bidder, status).
		Find(&bids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bids by bidder: %w", err)
	}
	return bids, nil
}

// HighestPendingBid retrieves the highest pending bid on a listing
func (s *pgStore) HighestPendingBid(ctx context.Context, listingID string) (*schema.Bid, error) {
	var bid schema.Bid
	err := s.db.WithContext(ctx).
		Where("listing_id = ? AND status = ?", listingID, domain.BidStatusPending).
		Order("amount DESC").
		First(&bid).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get highest pending bid: %w", err)
	}
	return &bid, nil
}

// UpdateBidStatus updates the status of a single bid
func (s *pgStore) UpdateBidStatus(ctx context.Context, bidID int64, status domain.BidStatus) error {
	err := s.db.WithContext(ctx).Model(&schema.Bid{}).
		Where("id = ?", bidID).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("failed to update bid status: %w", err)
	}
	return nil
}

// UpdateBidStatuses moves every bid on the listing from one status to another
func (s *pgStore) UpdateBidStatuses(ctx context.Context, listingID string, from domain.BidStatus, to domain.BidStatus) error {
	err := s.db.WithContext(ctx).Model(&schema.Bid{}).
		Where("listing_id = ? AND status = ?", listingID, from).
		Update("status", to).Error
	if err != nil {
		return fmt.Errorf("failed to update bid statuses: %w", err)
	}
	return nil
}

// CreateSale inserts a sale; returns false when the sale ID already exists
func (s *pgStore) CreateSale(ctx context.Context, sale *schema.Sale) (bool, error) {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(sale)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create sale: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListSales retrieves the sales recorded for a listing
func (s *pgStore) ListSales(ctx context.Context, listingID string) ([]*schema.Sale, error) {
	var sales []*schema.Sale
	err := s.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("created_at DESC").
		Find(&sales).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	return sales, nil
}

// CreateBridgeEvent inserts a bridge event; returns false when an event with
// the same message ID already exists
func (s *pgStore) CreateBridgeEvent(ctx context.Context, event *schema.BridgeEvent) (bool, error) {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoNothing: true,
	}).Create(event)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create bridge event: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// GetBridgeEventByCompletionRef retrieves the bridge event completed by the
// given completion reference
func (s *pgStore) GetBridgeEventByCompletionRef(ctx context.Context, ref string) (*schema.BridgeEvent, error) {
	var event schema.BridgeEvent
	err := s.db.WithContext(ctx).Where("completion_ref = ?", ref).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get bridge event by completion ref: %w", err)
	}
	return &event, nil
}

// LatestInFlightBridgeEvent retrieves the most recent in-flight bridge event
// for a token
func (s *pgStore) LatestInFlightBridgeEvent(ctx context.Context, tokenID int64) (*schema.BridgeEvent, error) {
	var event schema.BridgeEvent
	err := s.db.WithContext(ctx).
		Where("token_id = ? AND status = ?", tokenID, domain.BridgeStatusInFlight).
		Order("created_at DESC").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get in-flight bridge event: %w", err)
	}
	return &event, nil
}

// UpdateBridgeEvent saves changes to an existing bridge event
func (s *pgStore) UpdateBridgeEvent(ctx context.Context, event *schema.BridgeEvent) error {
	if err := s.db.WithContext(ctx).Save(event).Error; err != nil {
		return fmt.Errorf("failed to update bridge event: %w", err)
	}
	return nil
}

// SaveScheduledJob inserts or replaces the pending job for the
// (kind, listing) pair
func (s *pgStore) SaveScheduledJob(ctx context.Context, job *schema.ScheduledJob) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "listing_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"run_at", "updated_at"}),
	}).Create(job).Error
	if err != nil {
		return fmt.Errorf("failed to save scheduled job: %w", err)
	}
	return nil
}

// DeleteScheduledJob removes the pending job for the (kind, listing) pair
func (s *pgStore) DeleteScheduledJob(ctx context.Context, kind domain.JobKind, listingID string) error {
	err := s.db.WithContext(ctx).
		Where("kind = ? AND listing_id = ?", kind, listingID).
		Delete(&schema.ScheduledJob{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete scheduled job: %w", err)
	}
	return nil
}

// DeleteScheduledJobsForListing removes every pending job for a listing
func (s *pgStore) DeleteScheduledJobsForListing(ctx context.Context, listingID string) error {
	err := s.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Delete(&schema.ScheduledJob{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete scheduled jobs: %w", err)
	}
	return nil
}

// ClaimDueJobs atomically removes and returns up to limit jobs whose run time
// has passed. SKIP LOCKED lets multiple dispatchers drain the queue without
// handing the same job to two of them.
func (s *pgStore) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]*schema.ScheduledJob, error) {
	var jobs []*schema.ScheduledJob
	err := s.db.WithContext(ctx).Raw(`
		DELETE FROM scheduled_jobs
		WHERE (kind, listing_id) IN (
			SELECT kind, listing_id FROM scheduled_jobs
			WHERE run_at <= ?
			ORDER BY run_at
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`, now, limit).Scan(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}
	return jobs, nil
}

// Transaction runs fn inside a database transaction
func (s *pgStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&pgStore{db: tx})
	})
	if err != nil && isRetryableConflict(err) {
		return fmt.Errorf("%w: %v", domain.ErrConflictRetryable, err)
	}
	return err
}

// isRetryableConflict reports whether the error is a serialization failure
// or deadlock that a fresh transaction attempt can resolve
func isRetryableConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// GetCursor retrieves the last processed position for a chain
func (s *pgStore) GetCursor(ctx context.Context, chain string) (uint64, error) {
	return (&cursorStore{db: s.db}).GetCursor(ctx, chain)
}

// SetCursor stores the last processed position for a chain
func (s *pgStore) SetCursor(ctx context.Context, chain string, position uint64) error {
	return (&cursorStore{db: s.db}).SetCursor(ctx, chain, position)
}
