package schema

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/omnimart/marketplace-indexer/internal/domain"
)

// Listing represents the listings table - the primary entity for marketplace
// sale offers across all supported chains. The ID is the on-chain listing
// identifier for chain-originated listings and a UUID for API-created ones.
type Listing struct {
	// ID is the listing identifier
	ID string `gorm:"column:id;primaryKey;type:text"`
	// Chain identifies the blockchain network in CAIP-2 format
	Chain domain.Chain `gorm:"column:chain;not null;type:text"`
	// Type is how the listing is sold (fixed, auction_english, auction_dutch, bundle)
	Type domain.ListingType `gorm:"column:type;not null;type:text"`
	// Status is the lifecycle state of the listing
	Status domain.ListingStatus `gorm:"column:status;not null;type:text;index"`
	// SellerAddress is the wallet offering the listing
	SellerAddress string `gorm:"column:seller_address;not null;type:text;index"`
	// TokenID references the listed token; nil for bundle listings
	TokenID *int64 `gorm:"column:token_id;index"`
	// Price is the current price; for English auctions this tracks the
	// highest accepted bid, for Dutch auctions the last synced decayed price
	Price decimal.Decimal `gorm:"column:price;not null;type:numeric(78,18)"`
	// StartPrice is the opening price for Dutch auctions
	StartPrice decimal.Decimal `gorm:"column:start_price;type:numeric(78,18)"`
	// EndPrice is the floor price for Dutch auctions
	EndPrice decimal.Decimal `gorm:"column:end_price;type:numeric(78,18)"`
	// StartTime is when the listing becomes active
	StartTime time.Time `gorm:"column:start_time;not null"`
	// EndTime is when the listing expires or the auction settles
	EndTime time.Time `gorm:"column:end_time;not null"`
	// TxHash is the transaction that created the listing, empty for
	// API-created listings
	TxHash string `gorm:"column:tx_hash;type:text"`
	// CreatedAt is the timestamp when this record was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	// UpdatedAt is the timestamp when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`

	// Associations
	Token       *Token       `gorm:"foreignKey:TokenID"`
	BundleItems []BundleItem `gorm:"foreignKey:ListingID;constraint:OnDelete:CASCADE"`
	Bids        []Bid        `gorm:"foreignKey:ListingID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Listing model
func (Listing) TableName() string {
	return "listings"
}
