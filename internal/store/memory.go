package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/store/schema"
)

// MemoryStore is an in-memory Store implementation for tests. It mirrors the
// PostgreSQL store's conflict and idempotency semantics closely enough to
// exercise appliers, lifecycle handlers, and the engine without a database.
type MemoryStore struct {
	mu   sync.Mutex
	txMu sync.Mutex

	collections  map[int64]schema.Collection
	tokens       map[int64]schema.Token
	users        map[string]schema.User
	listings     map[string]schema.Listing
	bundleItems  map[string][]schema.BundleItem
	bids         map[int64]schema.Bid
	sales        map[string]schema.Sale
	bridgeEvents map[int64]schema.BridgeEvent
	jobs         map[string]schema.ScheduledJob
	cursors      map[string]uint64

	nextCollectionID int64
	nextTokenID      int64
	nextUserID       int64
	nextBidID        int64
	nextBridgeID     int64

	failRemaining int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections:  make(map[int64]schema.Collection),
		tokens:       make(map[int64]schema.Token),
		users:        make(map[string]schema.User),
		listings:     make(map[string]schema.Listing),
		bundleItems:  make(map[string][]schema.BundleItem),
		bids:         make(map[int64]schema.Bid),
		sales:        make(map[string]schema.Sale),
		bridgeEvents: make(map[int64]schema.BridgeEvent),
		jobs:         make(map[string]schema.ScheduledJob),
		cursors:      make(map[string]uint64),
	}
}

// FailTransactions makes the next n Transaction calls fail with
// domain.ErrConflictRetryable before running their function, for exercising
// retry paths.
func (s *MemoryStore) FailTransactions(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRemaining = n
}

func jobKey(kind domain.JobKind, listingID string) string {
	return string(kind) + ":" + listingID
}

// GetCollection retrieves a collection by chain and contract address
func (s *MemoryStore) GetCollection(_ context.Context, chain domain.Chain, contractAddress string) (*schema.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.collections {
		if c.Chain == chain && c.ContractAddress == contractAddress {
			out := c
			return &out, nil
		}
	}
	return nil, nil
}

// GetCollectionBySlug retrieves a collection by its slug
func (s *MemoryStore) GetCollectionBySlug(_ context.Context, slug string) (*schema.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.collections {
		if c.Slug == slug {
			out := c
			return &out, nil
		}
	}
	return nil, nil
}

// EnsureCollection inserts the collection unless one already exists for its
// (chain, contract address) pair
func (s *MemoryStore) EnsureCollection(ctx context.Context, collection *schema.Collection) (*schema.Collection, error) {
	if existing, err := s.GetCollection(ctx, collection.Chain, collection.ContractAddress); err != nil || existing != nil {
		return existing, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCollectionID++
	collection.ID = s.nextCollectionID
	if collection.CreatedAt.IsZero() {
		collection.CreatedAt = time.Now()
	}
	s.collections[collection.ID] = *collection

	out := *collection
	return &out, nil
}

// RegisterCollection upserts curated collection data onto the
// (chain, contract address) row, clearing the shadow flag
func (s *MemoryStore) RegisterCollection(ctx context.Context, collection *schema.Collection) error {
	collection.Shadow = false

	existing, err := s.GetCollection(ctx, collection.Chain, collection.ContractAddress)
	if err != nil {
		return err
	}
	if existing == nil {
		_, err := s.EnsureCollection(ctx, collection)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing.Slug = collection.Slug
	existing.Name = collection.Name
	existing.CreatorAddress = collection.CreatorAddress
	existing.Shadow = false
	existing.Metadata = collection.Metadata
	existing.UpdatedAt = time.Now()
	s.collections[existing.ID] = *existing
	collection.ID = existing.ID
	return nil
}

// GetToken retrieves a token by collection and token number
func (s *MemoryStore) GetToken(_ context.Context, collectionID int64, tokenNumber string) (*schema.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tokens {
		if t.CollectionID == collectionID && t.TokenNumber == tokenNumber {
			out := t
			return &out, nil
		}
	}
	return nil, nil
}

// GetTokenByID retrieves a token by its internal ID
func (s *MemoryStore) GetTokenByID(_ context.Context, tokenID int64) (*schema.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tokens[tokenID]; ok {
		out := t
		return &out, nil
	}
	return nil, nil
}

// EnsureToken inserts the token unless one already exists for its
// (collection, token number) pair
func (s *MemoryStore) EnsureToken(ctx context.Context, token *schema.Token) (*schema.Token, error) {
	if existing, err := s.GetToken(ctx, token.CollectionID, token.TokenNumber); err != nil || existing != nil {
		return existing, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTokenID++
	token.ID = s.nextTokenID
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}
	s.tokens[token.ID] = *token

	out := *token
	return &out, nil
}

// UpdateTokenOwner records an ownership change for a token
func (s *MemoryStore) UpdateTokenOwner(_ context.Context, tokenID int64, owner string, transferredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tokens[tokenID]; ok {
		t.OwnerAddress = owner
		at := transferredAt
		t.LastTransferredAt = &at
		t.UpdatedAt = time.Now()
		s.tokens[tokenID] = t
	}
	return nil
}

// EnsureUser inserts a user for the wallet unless one already exists
func (s *MemoryStore) EnsureUser(_ context.Context, walletAddress string, role domain.UserRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[walletAddress]; ok {
		return nil
	}

	s.nextUserID++
	s.users[walletAddress] = schema.User{
		ID:            s.nextUserID,
		WalletAddress: walletAddress,
		Role:          role,
		CreatedAt:     time.Now(),
	}
	return nil
}

// GetUser retrieves a user by wallet address; test helper not part of Store
func (s *MemoryStore) GetUser(walletAddress string) *schema.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[walletAddress]; ok {
		out := u
		return &out
	}
	return nil
}

// GetListing retrieves a listing by ID
func (s *MemoryStore) GetListing(_ context.Context, id string) (*schema.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.listings[id]; ok {
		out := l
		return &out, nil
	}
	return nil, nil
}

// GetListingForUpdate retrieves a listing; the memory store relies on
// transaction serialization instead of row locks
func (s *MemoryStore) GetListingForUpdate(ctx context.Context, id string) (*schema.Listing, error) {
	return s.GetListing(ctx, id)
}

// ListListings retrieves listings matching the filter, newest first
func (s *MemoryStore) ListListings(_ context.Context, filter ListingFilter) ([]*schema.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var listings []*schema.Listing
	for _, l := range s.listings {
		if filter.Chain != "" && l.Chain != filter.Chain {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		if filter.Seller != "" && l.SellerAddress != filter.Seller {
			continue
		}
		out := l
		listings = append(listings, &out)
	}

	sort.Slice(listings, func(i, j int) bool {
		if listings[i].CreatedAt.Equal(listings[j].CreatedAt) {
			return strings.Compare(listings[i].ID, listings[j].ID) > 0
		}
		return listings[i].CreatedAt.After(listings[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(listings) {
			return nil, nil
		}
		listings = listings[filter.Offset:]
	}
	if filter.Limit > 0 && len(listings) > filter.Limit {
		listings = listings[:filter.Limit]
	}
	return listings, nil
}

// UpsertListing inserts or updates a chain-observed listing, never touching a
// listing already in a terminal status
func (s *MemoryStore) UpsertListing(_ context.Context, listing *schema.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.listings[listing.ID]; ok && existing.Status.Terminal() {
		return nil
	}
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = time.Now()
	}
	listing.UpdatedAt = time.Now()
	s.listings[listing.ID] = *listing
	return nil
}

// UpdateListing saves changes to an existing listing
func (s *MemoryStore) UpdateListing(_ context.Context, listing *schema.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing.UpdatedAt = time.Now()
	s.listings[listing.ID] = *listing
	return nil
}

// CreateListing inserts a new listing together with its bundle items
func (s *MemoryStore) CreateListing(_ context.Context, listing *schema.Listing, items []schema.BundleItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = time.Now()
	}
	listing.UpdatedAt = listing.CreatedAt
	s.listings[listing.ID] = *listing

	for i := range items {
		items[i].ListingID = listing.ID
	}
	s.bundleItems[listing.ID] = append([]schema.BundleItem(nil), items...)
	return nil
}

// GetBundleItems retrieves the bundle items of a listing
func (s *MemoryStore) GetBundleItems(_ context.Context, listingID string) ([]*schema.BundleItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []*schema.BundleItem
	for _, item := range s.bundleItems[listingID] {
		out := item
		items = append(items, &out)
	}
	return items, nil
}

// CreateBid inserts a bid; returns false when a bid with the same
// (listing, tx hash, log index) already exists
func (s *MemoryStore) CreateBid(_ context.Context, bid *schema.Bid) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.bids {
		if b.ListingID == bid.ListingID && b.TxHash == bid.TxHash && b.LogIndex == bid.LogIndex {
			return false, nil
		}
	}

	s.nextBidID++
	bid.ID = s.nextBidID
	if bid.CreatedAt.IsZero() {
		bid.CreatedAt = time.Now()
	}
	bid.UpdatedAt = bid.CreatedAt
	s.bids[bid.ID] = *bid
	return true, nil
}

// ListBids retrieves all bids on a listing, newest first
func (s *MemoryStore) ListBids(_ context.Context, listingID string) ([]*schema.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bids []*schema.Bid
	for _, b := range s.bids {
		if b.ListingID == listingID {
			out := b
			bids = append(bids, &out)
		}
	}
	sort.Slice(bids, func(i, j int) bool {
		return bids[i].ID > bids[j].ID
	})
	return bids, nil
}

// ListBidsByBidder retrieves a bidder's bids on a listing in the given status
func (s *MemoryStore) ListBidsByBidder(_ context.Context, listingID string, bidder string, status domain.BidStatus) ([]*schema.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bids []*schema.Bid
	for _, b := range s.bids {
		if b.ListingID == listingID && b.BidderAddress == bidder && b.Status == status {
			out := b
			bids = append(bids, &out)
		}
	}
	sort.Slice(bids, func(i, j int) bool {
		return bids[i].ID < bids[j].ID
	})
	return bids, nil
}

// HighestPendingBid retrieves the highest pending bid on a listing
func (s *MemoryStore) HighestPendingBid(_ context.Context, listingID string) (*schema.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var highest *schema.Bid
	for _, b := range s.bids {
		if b.ListingID != listingID || b.Status != domain.BidStatusPending {
			continue
		}
		out := b
		if highest == nil || out.Amount.GreaterThan(highest.Amount) {
			highest = &out
		}
	}
	return highest, nil
}

// UpdateBidStatus updates the status of a single bid
func (s *MemoryStore) UpdateBidStatus(_ context.Context, bidID int64, status domain.BidStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.bids[bidID]; ok {
		b.Status = status
		b.UpdatedAt = time.Now()
		s.bids[bidID] = b
	}
	return nil
}

// UpdateBidStatuses moves every bid on the listing from one status to another
func (s *MemoryStore) UpdateBidStatuses(_ context.Context, listingID string, from domain.BidStatus, to domain.BidStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, b := range s.bids {
		if b.ListingID == listingID && b.Status == from {
			b.Status = to
			b.UpdatedAt = time.Now()
			s.bids[id] = b
		}
	}
	return nil
}

// CreateSale inserts a sale; returns false when the sale ID already exists
func (s *MemoryStore) CreateSale(_ context.Context, sale *schema.Sale) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sales[sale.ID]; ok {
		return false, nil
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now()
	}
	s.sales[sale.ID] = *sale
	return true, nil
}

// ListSales retrieves the sales recorded for a listing
func (s *MemoryStore) ListSales(_ context.Context, listingID string) ([]*schema.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sales []*schema.Sale
	for _, sale := range s.sales {
		if sale.ListingID == listingID {
			out := sale
			sales = append(sales, &out)
		}
	}
	sort.Slice(sales, func(i, j int) bool {
		return sales[i].CreatedAt.After(sales[j].CreatedAt)
	})
	return sales, nil
}

// CreateBridgeEvent inserts a bridge event; returns false when an event with
// the same message ID already exists
func (s *MemoryStore) CreateBridgeEvent(_ context.Context, event *schema.BridgeEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.MessageID != "" {
		for _, e := range s.bridgeEvents {
			if e.MessageID == event.MessageID {
				return false, nil
			}
		}
	}

	s.nextBridgeID++
	event.ID = s.nextBridgeID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.UpdatedAt = event.CreatedAt
	s.bridgeEvents[event.ID] = *event
	return true, nil
}

// GetBridgeEventByCompletionRef retrieves the bridge event completed by the
// given completion reference
func (s *MemoryStore) GetBridgeEventByCompletionRef(_ context.Context, ref string) (*schema.BridgeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.bridgeEvents {
		if e.CompletionRef != nil && *e.CompletionRef == ref {
			out := e
			return &out, nil
		}
	}
	return nil, nil
}

// LatestInFlightBridgeEvent retrieves the most recent in-flight bridge event
// for a token
func (s *MemoryStore) LatestInFlightBridgeEvent(_ context.Context, tokenID int64) (*schema.BridgeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *schema.BridgeEvent
	for _, e := range s.bridgeEvents {
		if e.TokenID != tokenID || e.Status != domain.BridgeStatusInFlight {
			continue
		}
		out := e
		if latest == nil || out.ID > latest.ID {
			latest = &out
		}
	}
	return latest, nil
}

// UpdateBridgeEvent saves changes to an existing bridge event
func (s *MemoryStore) UpdateBridgeEvent(_ context.Context, event *schema.BridgeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.UpdatedAt = time.Now()
	s.bridgeEvents[event.ID] = *event
	return nil
}

// SaveScheduledJob inserts or replaces the pending job for the
// (kind, listing) pair
func (s *MemoryStore) SaveScheduledJob(_ context.Context, job *schema.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = time.Now()
	s.jobs[jobKey(job.Kind, job.ListingID)] = *job
	return nil
}

// GetScheduledJob retrieves a pending job; test helper not part of Store
func (s *MemoryStore) GetScheduledJob(kind domain.JobKind, listingID string) *schema.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[jobKey(kind, listingID)]; ok {
		out := job
		return &out
	}
	return nil
}

// DeleteScheduledJob removes the pending job for the (kind, listing) pair
func (s *MemoryStore) DeleteScheduledJob(_ context.Context, kind domain.JobKind, listingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, jobKey(kind, listingID))
	return nil
}

// DeleteScheduledJobsForListing removes every pending job for a listing
func (s *MemoryStore) DeleteScheduledJobsForListing(_ context.Context, listingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, kind := range domain.JobKinds() {
		delete(s.jobs, jobKey(kind, listingID))
	}
	return nil
}

// ClaimDueJobs removes and returns up to limit jobs whose run time has passed
func (s *MemoryStore) ClaimDueJobs(_ context.Context, now time.Time, limit int) ([]*schema.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*schema.ScheduledJob
	for _, job := range s.jobs {
		if !job.RunAt.After(now) {
			out := job
			due = append(due, &out)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].RunAt.Before(due[j].RunAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, job := range due {
		delete(s.jobs, jobKey(job.Kind, job.ListingID))
	}
	return due, nil
}

// GetCursor retrieves the last processed position for a chain
func (s *MemoryStore) GetCursor(_ context.Context, chain string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cursors[chain], nil
}

// SetCursor stores the last processed position for a chain
func (s *MemoryStore) SetCursor(_ context.Context, chain string, position uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[chain] = position
	return nil
}

// Transaction serializes transactions and rolls the whole store back when fn
// fails, matching the all-or-nothing behavior of the PostgreSQL store
func (s *MemoryStore) Transaction(_ context.Context, fn func(tx Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	if s.failRemaining > 0 {
		s.failRemaining--
		s.mu.Unlock()
		return domain.ErrConflictRetryable
	}
	snapshot := s.snapshot()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.restore(snapshot)
		s.mu.Unlock()
		return err
	}
	return nil
}

type memorySnapshot struct {
	collections  map[int64]schema.Collection
	tokens       map[int64]schema.Token
	users        map[string]schema.User
	listings     map[string]schema.Listing
	bundleItems  map[string][]schema.BundleItem
	bids         map[int64]schema.Bid
	sales        map[string]schema.Sale
	bridgeEvents map[int64]schema.BridgeEvent
	jobs         map[string]schema.ScheduledJob
	cursors      map[string]uint64

	nextCollectionID int64
	nextTokenID      int64
	nextUserID       int64
	nextBidID        int64
	nextBridgeID     int64
}

func (s *MemoryStore) snapshot() memorySnapshot {
	snap := memorySnapshot{
		collections:      make(map[int64]schema.Collection, len(s.collections)),
		tokens:           make(map[int64]schema.Token, len(s.tokens)),
		users:            make(map[string]schema.User, len(s.users)),
		listings:         make(map[string]schema.Listing, len(s.listings)),
		bundleItems:      make(map[string][]schema.BundleItem, len(s.bundleItems)),
		bids:             make(map[int64]schema.Bid, len(s.bids)),
		sales:            make(map[string]schema.Sale, len(s.sales)),
		bridgeEvents:     make(map[int64]schema.BridgeEvent, len(s.bridgeEvents)),
		jobs:             make(map[string]schema.ScheduledJob, len(s.jobs)),
		cursors:          make(map[string]uint64, len(s.cursors)),
		nextCollectionID: s.nextCollectionID,
		nextTokenID:      s.nextTokenID,
		nextUserID:       s.nextUserID,
		nextBidID:        s.nextBidID,
		nextBridgeID:     s.nextBridgeID,
	}
	for k, v := range s.collections {
		snap.collections[k] = v
	}
	for k, v := range s.tokens {
		snap.tokens[k] = v
	}
	for k, v := range s.users {
		snap.users[k] = v
	}
	for k, v := range s.listings {
		snap.listings[k] = v
	}
	for k, v := range s.bundleItems {
		snap.bundleItems[k] = append([]schema.BundleItem(nil), v...)
	}
	for k, v := range s.bids {
		snap.bids[k] = v
	}
	for k, v := range s.sales {
		snap.sales[k] = v
	}
	for k, v := range s.bridgeEvents {
		snap.bridgeEvents[k] = v
	}
	for k, v := range s.jobs {
		snap.jobs[k] = v
	}
	for k, v := range s.cursors {
		snap.cursors[k] = v
	}
	return snap
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.collections = snap.collections
	s.tokens = snap.tokens
	s.users = snap.users
	s.listings = snap.listings
	s.bundleItems = snap.bundleItems
	s.bids = snap.bids
	s.sales = snap.sales
	s.bridgeEvents = snap.bridgeEvents
	s.jobs = snap.jobs
	s.cursors = snap.cursors
	s.nextCollectionID = snap.nextCollectionID
	s.nextTokenID = snap.nextTokenID
	s.nextUserID = snap.nextUserID
	s.nextBidID = snap.nextBidID
	s.nextBridgeID = snap.nextBridgeID
}
