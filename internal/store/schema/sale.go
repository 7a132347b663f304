package schema

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/omnimart/marketplace-indexer/internal/domain"
)

// Sale represents the sales table - completed purchases. The ID is the
// settlement transaction hash for chain-observed sales and a ULID for
// API-driven buy-now purchases, so replayed settlement events collapse onto
// the same row.
type Sale struct {
	// ID is the sale identifier
	ID string `gorm:"column:id;primaryKey;type:text"`
	// ListingID references the listing that was sold
	ListingID string `gorm:"column:listing_id;not null;type:text;index"`
	// Chain identifies the blockchain network in CAIP-2 format
	Chain domain.Chain `gorm:"column:chain;not null;type:text"`
	// BuyerAddress is the wallet that bought the listing
	BuyerAddress string `gorm:"column:buyer_address;not null;type:text;index"`
	// SellerAddress is the wallet that sold the listing
	SellerAddress string `gorm:"column:seller_address;not null;type:text"`
	// Amount is the sale amount
	Amount decimal.Decimal `gorm:"column:amount;not null;type:numeric(78,18)"`
	// TxHash is the settlement transaction, empty for API-driven purchases
	TxHash string `gorm:"column:tx_hash;type:text"`
	// CreatedAt is the timestamp when this record was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
}

// TableName specifies the table name for the Sale model
func (Sale) TableName() string {
	return "sales"
}
