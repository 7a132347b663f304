package schema

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/omnimart/marketplace-indexer/internal/domain"
)

// Bid represents the bids table. The (listing_id, tx_hash, log_index) unique
// index is the natural idempotency key for chain-observed bids; API-placed
// bids use a synthetic tx_hash so the same index applies.
type Bid struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// ListingID references the listing being bid on
	ListingID string `gorm:"column:listing_id;not null;type:text;uniqueIndex:idx_bids_listing_tx_log,priority:1;index"`
	// BidderAddress is the wallet placing the bid
	BidderAddress string `gorm:"column:bidder_address;not null;type:text;index"`
	// Amount is the bid amount
	Amount decimal.Decimal `gorm:"column:amount;not null;type:numeric(78,18)"`
	// Status is the bid state (pending, refunded, cancelled)
	Status domain.BidStatus `gorm:"column:status;not null;type:text;index"`
	// TxHash is the transaction that carried the bid
	TxHash string `gorm:"column:tx_hash;not null;type:text;uniqueIndex:idx_bids_listing_tx_log,priority:2"`
	// LogIndex is the log position of the bid event within the transaction
	LogIndex uint64 `gorm:"column:log_index;not null;default:0;uniqueIndex:idx_bids_listing_tx_log,priority:3"`
	// CreatedAt is the timestamp when this record was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	// UpdatedAt is the timestamp when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

// TableName specifies the table name for the Bid model
func (Bid) TableName() string {
	return "bids"
}
