package schema

import (
	"time"
)

// Token represents the tokens table - one row per token within a collection
type Token struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// CollectionID references the owning collection
	CollectionID int64 `gorm:"column:collection_id;not null;uniqueIndex:idx_tokens_collection_number,priority:1"`
	// TokenNumber is the token ID within the contract (string to support very large numbers)
	TokenNumber string `gorm:"column:token_number;not null;type:text;uniqueIndex:idx_tokens_collection_number,priority:2"`
	// OwnerAddress is the current owner's wallet address; the zero address
	// after a burn-and-mint bridge leaves the token without a local owner
	OwnerAddress string `gorm:"column:owner_address;type:text;index"`
	// MetadataURI points at the token metadata document
	MetadataURI string `gorm:"column:metadata_uri;type:text"`
	// LastTransferredAt records the timestamp of the most recent ownership change
	LastTransferredAt *time.Time `gorm:"column:last_transferred_at"`
	// CreatedAt is the timestamp when this record was first indexed
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	// UpdatedAt is the timestamp when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`

	// Associations
	Collection *Collection `gorm:"foreignKey:CollectionID"`
}

// TableName specifies the table name for the Token model
func (Token) TableName() string {
	return "tokens"
}
