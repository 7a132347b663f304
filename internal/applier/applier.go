package applier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/lifecycle"
	"github.com/omnimart/marketplace-indexer/internal/logger"
	"github.com/omnimart/marketplace-indexer/internal/retry"
	"github.com/omnimart/marketplace-indexer/internal/store"
	"github.com/omnimart/marketplace-indexer/internal/store/schema"
)

// DefaultListingDuration is applied when a chain event creates a listing
// without an end time
const DefaultListingDuration = 7 * 24 * time.Hour

// Config holds the configuration for the event applier
type Config struct {
	DefaultListingDuration time.Duration
}

// Applier maps normalized chain events onto the persistent state. Every
// mapping is an idempotent upsert keyed by the event's natural identity,
// so at-least-once delivery and window replays are safe.
type Applier struct {
	store  store.Store
	config Config
}

// NewApplier creates an event applier
func NewApplier(st store.Store, cfg Config) *Applier {
	if cfg.DefaultListingDuration == 0 {
		cfg.DefaultListingDuration = DefaultListingDuration
	}
	return &Applier{store: st, config: cfg}
}

// ApplyBatch applies events in order. A failure on one event is logged and
// does not abort the remaining events; idempotency makes reapplying the
// window safe.
func (a *Applier) ApplyBatch(ctx context.Context, events []domain.MarketEvent) {
	for i := range events {
		event := &events[i]
		if err := a.ApplyEvent(ctx, event); err != nil {
			if errors.Is(err, domain.ErrMalformedEvent) {
				logger.WarnCtx(ctx, "Skipping malformed event",
					zap.String("kind", string(event.Kind)),
					zap.String("dedupKey", event.DedupKey()),
					zap.Error(err))
				continue
			}
			logger.ErrorCtx(ctx, err,
				zap.String("message", "Failed to apply event"),
				zap.String("kind", string(event.Kind)),
				zap.String("dedupKey", event.DedupKey()))
		}
	}
}

// ApplyEvent applies a single event. Reapplying the same event has no
// effect beyond the first successful apply.
func (a *Applier) ApplyEvent(ctx context.Context, event *domain.MarketEvent) error {
	if !event.Valid() {
		return fmt.Errorf("%w: %s event %s is missing required fields", domain.ErrMalformedEvent, event.Kind, event.DedupKey())
	}

	return retry.OnConflict(ctx, func() error {
		return a.store.Transaction(ctx, func(tx store.Store) error {
			switch event.Kind {
			case domain.EventKindListingCreated:
				return a.applyListingCreated(ctx, tx, event)
			case domain.EventKindBidPlaced:
				return a.applyBidPlaced(ctx, tx, event)
			case domain.EventKindSaleSettled:
				return a.applySaleSettled(ctx, tx, event)
			case domain.EventKindListingCancelled:
				return a.applyListingCancelled(ctx, tx, event)
			case domain.EventKindAuctionExtended:
				return a.applyAuctionExtended(ctx, tx, event)
			case domain.EventKindTransfer:
				return a.applyTransfer(ctx, tx, event)
			case domain.EventKindBridgeInitiated:
				return a.applyBridgeInitiated(ctx, tx, event)
			case domain.EventKindBridgeCompleted:
				return a.applyBridgeCompleted(ctx, tx, event)
			default:
				return fmt.Errorf("%w: unknown event kind %q", domain.ErrMalformedEvent, event.Kind)
			}
		})
	})
}

// resolveCollection finds the collection for a contract, creating a shadow
// record when the contract is first seen via a marketplace event.
func resolveCollection(ctx context.Context, tx store.Store, chain domain.Chain, contractAddress string) (*schema.Collection, error) {
	contractAddress = domain.NormalizeAddress(contractAddress)

	collection, err := tx.GetCollection(ctx, chain, contractAddress)
	if err != nil {
		return nil, err
	}
	if collection != nil {
		return collection, nil
	}

	return tx.EnsureCollection(ctx, &schema.Collection{
		Chain:           chain,
		ContractAddress: contractAddress,
		Slug:            shadowSlug(contractAddress),
		Shadow:          true,
	})
}

// shadowSlug derives a slug for auto-created collections from the contract
// address
func shadowSlug(contractAddress string) string {
	addr := strings.TrimPrefix(contractAddress, "0x")
	if len(addr) > 8 {
		addr = addr[:8]
	}
	return "auto-" + strings.ToLower(addr)
}

// resolveToken finds the token within a collection, creating it with the
// given owner when first seen
func resolveToken(ctx context.Context, tx store.Store, collection *schema.Collection, tokenNumber, owner string) (*schema.Token, error) {
	token, err := tx.GetToken(ctx, collection.ID, tokenNumber)
	if err != nil {
		return nil, err
	}
	if token != nil {
		return token, nil
	}

	return tx.EnsureToken(ctx, &schema.Token{
		CollectionID: collection.ID,
		TokenNumber:  tokenNumber,
		OwnerAddress: domain.NormalizeAddress(owner),
	})
}

func (a *Applier) applyListingCreated(ctx context.Context, tx store.Store, event *domain.MarketEvent) error {
	collection, err := resolveCollection(ctx, tx, event.Chain, event.TokenContract)
	if err != nil {
		return err
	}

	token, err := resolveToken(ctx, tx, collection, event.TokenNumber, event.Seller)
	if err != nil {
		return err
	}

	seller := domain.NormalizeAddress(event.Seller)
	if err := tx.EnsureUser(ctx, seller, domain.UserRoleCreator); err != nil {
		return err
	}

	listingType := event.ListingType
	if listingType == "" {
		listingType = domain.ListingTypeFixed
	}

	endTime := event.NewEndTime
	if endTime.IsZero() {
		endTime = event.Timestamp.Add(a.config.DefaultListingDuration)
	}

	listing := &schema.Listing{
		ID:            event.ListingID,
		Chain:         event.Chain,
		Type:          listingType,
		Status:        domain.ListingStatusActive,
		SellerAddress: seller,
		TokenID:       &token.ID,
		Price:         event.Amount,
		StartPrice:    event.Amount,
		StartTime:     event.Timestamp,
		EndTime:       endTime,
		TxHash:        event.TxHash,
	}
	if err := tx.UpsertListing(ctx, listing); err != nil {
		return err
	}

	scheduler := lifecycle.NewScheduler(tx)
	if err := scheduler.ScheduleSettlement(ctx, listing.ID, endTime); err != nil {
		return err
	}

	// Dutch listings arrive active, so the price sync chain starts here
	// rather than via an activation job
	if listingType == domain.ListingTypeDutch {
		return scheduler.ScheduleDutchSync(ctx, listing.ID, event.Timestamp.Add(lifecycle.DefaultDutchSyncInterval))
	}
	return nil
}

func (a *Applier) applyBidPlaced(ctx context.Context, tx store.Store, event *domain.MarketEvent) error {
	listing, err := tx.GetListing(ctx, event.ListingID)
	if err != nil {
		return err
	}
	if listing == nil {
		// The creating event may still be in flight; redelivery heals this
		return fmt.Errorf("%w: listing %s for bid %s", domain.ErrNotFound, event.ListingID, event.DedupKey())
	}

	bidder := domain.NormalizeAddress(event.Bidder)
	if err := tx.EnsureUser(ctx, bidder, domain.UserRoleBuyer); err != nil {
		return err
	}

	bid := &schema.Bid{
		ListingID:     event.ListingID,
		BidderAddress: bidder,
		Amount:        event.Amount,
		Status:        domain.BidStatusPending,
		TxHash:        event.TxHash,
		LogIndex:      event.LogIndex,
	}
	inserted, err := tx.CreateBid(ctx, bid)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	// Supersede the previous pending bid
	existing, err := tx.ListBids(ctx, event.ListingID)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.ID == bid.ID || other.Status != domain.BidStatusPending {
			continue
		}
		if err := tx.UpdateBidStatus(ctx, other.ID, domain.BidStatusRefunded); err != nil {
			return err
		}
	}

	// The chain already enforced the minimum increment; the stored price
	// follows the event without re-validation
	if event.Amount.LessThanOrEqual(listing.Price) {
		logger.WarnCtx(ctx, "Chain bid amount does not exceed stored price",
			zap.String("listingID", listing.ID),
			zap.String("bidAmount", event.Amount.String()),
			zap.String("storedPrice", listing.Price.String()))
	}

	listing.Price = event.Amount
	return tx.UpdateListing(ctx, listing)
}

func (a *Applier) applySaleSettled(ctx context.Context, tx store.Store, event *domain.MarketEvent) error {
	listing, err := tx.GetListing(ctx, event.ListingID)
	if err != nil {
		return err
	}
	if listing == nil {
		return fmt.Errorf("%w: listing %s for settlement %s", domain.ErrNotFound, event.ListingID, event.DedupKey())
	}

	buyer := domain.NormalizeAddress(event.Buyer)
	if err := tx.EnsureUser(ctx, buyer, domain.UserRoleBuyer); err != nil {
		return err
	}

	// The settlement tx hash is the natural sale identity; replays collapse
	sale := &schema.Sale{
		ID:            event.TxHash,
		ListingID:     listing.ID,
		Chain:         event.Chain,
		BuyerAddress:  buyer,
		SellerAddress: listing.SellerAddress,
		Amount:        event.Amount,
		TxHash:        event.TxHash,
	}
	if _, err := tx.CreateSale(ctx, sale); err != nil {
		return err
	}

	if listing.Status.Terminal() {
		return nil
	}

	listing.Status = domain.ListingStatusSold
	listing.Price = event.Amount
	listing.EndTime = event.Timestamp
	if err := tx.UpdateListing(ctx, listing); err != nil {
		return err
	}

	return lifecycle.NewScheduler(tx).ClearScheduledJobs(ctx, listing.ID)
}

func (a *Applier) applyListingCancelled(ctx context.Context, tx store.Store, event *domain.MarketEvent) error {
	listing, err := tx.GetListing(ctx, event.ListingID)
	if err != nil {
		return err
	}
	if listing == nil {
		logger.WarnCtx(ctx, "Cancellation for unknown listing",
			zap.String("listingID", event.ListingID),
			zap.String("dedupKey", event.DedupKey()))
		return nil
	}
	if listing.Status.Terminal() {
		return nil
	}

	listing.Status = domain.ListingStatusCancelled
	if err := tx.UpdateListing(ctx, listing); err != nil {
		return err
	}

	if err := tx.UpdateBidStatuses(ctx, listing.ID, domain.BidStatusPending, domain.BidStatusCancelled); err != nil {
		return err
	}

	return lifecycle.NewScheduler(tx).ClearScheduledJobs(ctx, listing.ID)
}

func (a *Applier) applyAuctionExtended(ctx context.Context, tx store.Store, event *domain.MarketEvent) error {
	listing, err := tx.GetListing(ctx, event.ListingID)
	if err != nil {
		return err
	}
	if listing == nil {
		logger.WarnCtx(ctx, "Extension for unknown listing",
			zap.String("listingID", event.ListingID),
			zap.String("dedupKey", event.DedupKey()))
		return nil
	}
	if listing.Status.Terminal() || event.NewEndTime.IsZero() {
		return nil
	}

	listing.EndTime = event.NewEndTime
	if err := tx.UpdateListing(ctx, listing); err != nil {
		return err
	}

	return lifecycle.NewScheduler(tx).RescheduleSettlement(ctx, listing.ID, event.NewEndTime)
}

func (a *Applier) applyTransfer(ctx context.Context, tx store.Store, event *domain.MarketEvent) error {
	collection, err := tx.GetCollection(ctx, event.Chain, domain.NormalizeAddress(event.TokenContract))
	if err != nil {
		return err
	}
	if collection == nil {
		// Token not yet observed via a listing event
		return nil
	}

	token, err := tx.GetToken(ctx, collection.ID, event.TokenNumber)
	if err != nil {
		return err
	}
	if token == nil {
		return nil
	}

	return tx.UpdateTokenOwner(ctx, token.ID, domain.NormalizeAddress(event.ToAddress), event.Timestamp)
}

func (a *Applier) applyBridgeInitiated(ctx context.Context, tx store.Store, event *domain.MarketEvent) error {
	collection, err := resolveCollection(ctx, tx, event.Chain, event.TokenContract)
	if err != nil {
		return err
	}

	sender := domain.NormalizeAddress(event.Seller)
	token, err := resolveToken(ctx, tx, collection, event.TokenNumber, sender)
	if err != nil {
		return err
	}

	// Burn-and-mint transfers park ownership at the burn address; lock
	// transfers keep the sender as holder of record
	owner := sender
	if event.BurnMint {
		owner = domain.EVMBurnAddress
	}
	if err := tx.UpdateTokenOwner(ctx, token.ID, owner, event.Timestamp); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	initiatedAt := event.Timestamp
	bridgeEvent := &schema.BridgeEvent{
		TokenID:       token.ID,
		Protocol:      event.Protocol,
		Status:        domain.BridgeStatusInFlight,
		SrcChain:      event.SrcChain,
		DstChain:      event.DstChain,
		SenderAddress: sender,
		BurnMint:      event.BurnMint,
		MessageID:     bridgeRef(event),
		Payload:       payload,
		InitiatedAt:   &initiatedAt,
	}
	_, err = tx.CreateBridgeEvent(ctx, bridgeEvent)
	return err
}

func (a *Applier) applyBridgeCompleted(ctx context.Context, tx store.Store, event *domain.MarketEvent) error {
	ref := bridgeRef(event)

	existing, err := tx.GetBridgeEventByCompletionRef(ctx, ref)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	collection, err := resolveCollection(ctx, tx, event.Chain, event.TokenContract)
	if err != nil {
		return err
	}

	recipient := domain.NormalizeAddress(event.Recipient)
	token, err := resolveToken(ctx, tx, collection, event.TokenNumber, recipient)
	if err != nil {
		return err
	}

	if err := tx.EnsureUser(ctx, recipient, domain.UserRoleBuyer); err != nil {
		return err
	}
	if err := tx.UpdateTokenOwner(ctx, token.ID, recipient, event.Timestamp); err != nil {
		return err
	}

	completedAt := event.Timestamp
	inFlight, err := tx.LatestInFlightBridgeEvent(ctx, token.ID)
	if err != nil {
		return err
	}
	if inFlight != nil {
		inFlight.Status = domain.BridgeStatusCompleted
		inFlight.RecipientAddress = recipient
		inFlight.CompletionRef = &ref
		inFlight.CompletedAt = &completedAt
		return tx.UpdateBridgeEvent(ctx, inFlight)
	}

	// The completion leg arrived before (or without) its initiation leg.
	// Record it directly rather than blocking on ordering across chains.
	logger.WarnCtx(ctx, "Bridge completion without matching in-flight transfer",
		zap.String("dedupKey", event.DedupKey()),
		zap.Int64("tokenID", token.ID),
		zap.Bool("orphaned_completion", true))

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	orphan := &schema.BridgeEvent{
		TokenID:          token.ID,
		Protocol:         event.Protocol,
		Status:           domain.BridgeStatusCompleted,
		SrcChain:         event.SrcChain,
		DstChain:         event.DstChain,
		RecipientAddress: recipient,
		MessageID:        ref,
		CompletionRef:    &ref,
		Payload:          payload,
		CompletedAt:      &completedAt,
	}
	_, err = tx.CreateBridgeEvent(ctx, orphan)
	return err
}

// bridgeRef builds the unique reference for one leg of a bridge transfer
func bridgeRef(event *domain.MarketEvent) string {
	return fmt.Sprintf("%s:%d", event.TxHash, event.LogIndex)
}
