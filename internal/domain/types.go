package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ChainKind represents the execution model of a chain source
type ChainKind string

const (
	ChainKindEVM    ChainKind = "evm"
	ChainKindSolana ChainKind = "solana"
)

// Chain represents the blockchain network identifier using CAIP-2 format
type Chain string

const (
	ChainEthereumMainnet Chain = "eip155:1"
	ChainPolygonMainnet  Chain = "eip155:137"
	ChainArbitrumOne     Chain = "eip155:42161"
	ChainSolanaMainnet   Chain = "solana:mainnet"
)

// IsValidChain checks if a chain is valid
func IsValidChain(chain Chain) bool {
	return chain == ChainEthereumMainnet ||
		chain == ChainPolygonMainnet ||
		chain == ChainArbitrumOne ||
		chain == ChainSolanaMainnet
}

// Kind returns the execution model for a chain
func (c Chain) Kind() ChainKind {
	if strings.HasPrefix(string(c), "solana:") {
		return ChainKindSolana
	}
	return ChainKindEVM
}

// ListingType represents how a listing is sold
type ListingType string

const (
	ListingTypeFixed   ListingType = "fixed"
	ListingTypeEnglish ListingType = "auction_english"
	ListingTypeDutch   ListingType = "auction_dutch"
	ListingTypeBundle  ListingType = "bundle"
)

// ListingStatus represents the lifecycle state of a listing
type ListingStatus string

const (
	ListingStatusPending   ListingStatus = "pending"
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusExpired   ListingStatus = "expired"
	ListingStatusCancelled ListingStatus = "cancelled"
)

// Terminal reports whether a listing status admits no further transitions
func (s ListingStatus) Terminal() bool {
	return s == ListingStatusSold || s == ListingStatusExpired || s == ListingStatusCancelled
}

// BidStatus represents the state of a bid
type BidStatus string

const (
	BidStatusPending   BidStatus = "pending"
	BidStatusRefunded  BidStatus = "refunded"
	BidStatusCancelled BidStatus = "cancelled"
)

// BridgeStatus represents the state of a cross-chain transfer
type BridgeStatus string

const (
	BridgeStatusCreated   BridgeStatus = "created"
	BridgeStatusInFlight  BridgeStatus = "in_flight"
	BridgeStatusCompleted BridgeStatus = "completed"
)

// BridgeProtocol identifies the bridging protocol that carried a transfer
type BridgeProtocol string

const (
	BridgeProtocolLayerZero BridgeProtocol = "layerzero"
	BridgeProtocolWormhole  BridgeProtocol = "wormhole"
)

// EventKind represents the type of normalized marketplace event
type EventKind string

const (
	EventKindListingCreated   EventKind = "listing_created"
	EventKindBidPlaced        EventKind = "bid_placed"
	EventKindSaleSettled      EventKind = "sale_settled"
	EventKindListingCancelled EventKind = "listing_cancelled"
	EventKindAuctionExtended  EventKind = "auction_extended"
	EventKindTransfer         EventKind = "transfer"
	EventKindBridgeInitiated  EventKind = "bridge_initiated"
	EventKindBridgeCompleted  EventKind = "bridge_completed"
)

// UserRole classifies how a wallet first entered the system
type UserRole string

const (
	UserRoleCreator UserRole = "creator"
	UserRoleBuyer   UserRole = "buyer"
)

// MarketEvent represents a normalized marketplace or bridge event.
// This is the standard format published to NATS by the chain pollers.
// Kind determines which payload fields are populated; Valid reports
// whether the required fields for the kind are present.
type MarketEvent struct {
	Kind     EventKind `json:"kind"`
	Chain    Chain     `json:"chain"`
	TxHash   string    `json:"tx_hash"`
	LogIndex uint64    `json:"log_index"`
	Position uint64    `json:"position"` // block number (EVM) or slot (Solana)

	Timestamp time.Time `json:"timestamp"`

	// Marketplace payload
	ListingID     string          `json:"listing_id,omitempty"`
	ListingType   ListingType     `json:"listing_type,omitempty"`
	Seller        string          `json:"seller,omitempty"`
	Bidder        string          `json:"bidder,omitempty"`
	Buyer         string          `json:"buyer,omitempty"`
	TokenContract string          `json:"token_contract,omitempty"`
	TokenNumber   string          `json:"token_number,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	NewEndTime    time.Time       `json:"new_end_time,omitempty"`

	// Transfer payload
	FromAddress string `json:"from_address,omitempty"`
	ToAddress   string `json:"to_address,omitempty"`

	// Bridge payload
	Protocol    BridgeProtocol `json:"protocol,omitempty"`
	SrcChain    string         `json:"src_chain,omitempty"`
	DstChain    string         `json:"dst_chain,omitempty"`
	Recipient   string         `json:"recipient,omitempty"`
	BurnMint    bool           `json:"burn_mint,omitempty"`
	MetadataURI string         `json:"metadata_uri,omitempty"`
}

// DedupKey returns the natural idempotency key for the event, built from
// its on-chain provenance.
func (e *MarketEvent) DedupKey() string {
	return fmt.Sprintf("%s:%s:%d", e.Chain, e.TxHash, e.LogIndex)
}

// Valid reports whether the event carries the fields its kind requires.
func (e *MarketEvent) Valid() bool {
	if !IsValidChain(e.Chain) || e.TxHash == "" {
		return false
	}

	switch e.Kind {
	case EventKindListingCreated:
		return e.ListingID != "" && e.Seller != "" && e.TokenContract != "" && e.TokenNumber != ""
	case EventKindBidPlaced:
		return e.ListingID != "" && e.Bidder != "" && e.Amount.IsPositive()
	case EventKindSaleSettled:
		return e.ListingID != "" && e.Buyer != ""
	case EventKindListingCancelled, EventKindAuctionExtended:
		return e.ListingID != ""
	case EventKindTransfer:
		return e.TokenContract != "" && e.TokenNumber != "" && e.ToAddress != ""
	case EventKindBridgeInitiated:
		return e.TokenContract != "" && e.TokenNumber != "" && e.Seller != "" && e.Protocol != ""
	case EventKindBridgeCompleted:
		return e.TokenContract != "" && e.TokenNumber != "" && e.Recipient != "" && e.Protocol != ""
	default:
		return false
	}
}

// JobKind identifies a listing lifecycle job
type JobKind string

const (
	JobKindActivate  JobKind = "activate"
	JobKindSettle    JobKind = "settle"
	JobKindDutchSync JobKind = "dutch_sync"
)

// JobKinds lists every lifecycle job kind; used when clearing all jobs
// scheduled for a listing.
func JobKinds() []JobKind {
	return []JobKind{JobKindActivate, JobKindSettle, JobKindDutchSync}
}

// EVMBurnAddress is where burn-and-mint bridge transfers park ownership
const EVMBurnAddress = "0x0000000000000000000000000000000000000000"

// NormalizeAddress lowercases EVM addresses; Solana addresses are
// case-sensitive base58 and pass through unchanged.
func NormalizeAddress(address string) string {
	if strings.HasPrefix(address, "0x") {
		return strings.ToLower(address)
	}
	return address
}
