package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/omnimart/marketplace-indexer/internal/domain"
)

// Collection represents the collections table - one row per token contract
// per chain
type Collection struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Chain identifies the blockchain network in CAIP-2 format
	Chain domain.Chain `gorm:"column:chain;not null;type:text;uniqueIndex:idx_collections_chain_contract,priority:1"`
	// ContractAddress is the token contract address on the chain
	ContractAddress string `gorm:"column:contract_address;not null;type:text;uniqueIndex:idx_collections_chain_contract,priority:2"`
	// Slug is the URL-safe collection identifier; shadow collections get an
	// auto-derived slug until curated metadata arrives
	Slug string `gorm:"column:slug;not null;type:text;index"`
	// Name is the display name of the collection
	Name string `gorm:"column:name;type:text"`
	// CreatorAddress is the wallet that deployed or curated the collection
	CreatorAddress string `gorm:"column:creator_address;type:text"`
	// Shadow marks collections auto-created from marketplace events before
	// any curated registration
	Shadow bool `gorm:"column:shadow;not null;default:false"`
	// Metadata holds arbitrary collection metadata as JSON
	Metadata datatypes.JSON `gorm:"column:metadata"`
	// CreatedAt is the timestamp when this record was first indexed
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	// UpdatedAt is the timestamp when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`

	// Associations
	Tokens []Token `gorm:"foreignKey:CollectionID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Collection model
func (Collection) TableName() string {
	return "collections"
}
