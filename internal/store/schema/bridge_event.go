package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/omnimart/marketplace-indexer/internal/domain"
)

// BridgeEvent represents the bridge_events table - cross-chain token
// transfers observed on either end of a bridge
type BridgeEvent struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// TokenID references the bridged token
	TokenID int64 `gorm:"column:token_id;not null;index"`
	// Protocol identifies the bridging protocol (layerzero, wormhole)
	Protocol domain.BridgeProtocol `gorm:"column:protocol;not null;type:text"`
	// Status is the transfer state (created, in_flight, completed)
	Status domain.BridgeStatus `gorm:"column:status;not null;type:text;index"`
	// SrcChain is the chain the transfer departed from
	SrcChain string `gorm:"column:src_chain;type:text"`
	// DstChain is the chain the transfer is headed to
	DstChain string `gorm:"column:dst_chain;type:text"`
	// SenderAddress is the wallet that initiated the transfer
	SenderAddress string `gorm:"column:sender_address;type:text"`
	// RecipientAddress is the wallet receiving the token on the destination chain
	RecipientAddress string `gorm:"column:recipient_address;type:text"`
	// BurnMint indicates a burn-and-mint transfer rather than lock-and-release
	BurnMint bool `gorm:"column:burn_mint;not null;default:false"`
	// MessageID is the txHash:logIndex of the initiation event
	MessageID string `gorm:"column:message_id;type:text;uniqueIndex"`
	// CompletionRef is the txHash:logIndex of the completion event; the
	// unique index makes completion application idempotent under replay
	CompletionRef *string `gorm:"column:completion_ref;type:text;uniqueIndex"`
	// Payload holds the raw bridge payload as JSON
	Payload datatypes.JSON `gorm:"column:payload"`
	// InitiatedAt is when the transfer left the source chain
	InitiatedAt *time.Time `gorm:"column:initiated_at"`
	// CompletedAt is when the transfer arrived on the destination chain
	CompletedAt *time.Time `gorm:"column:completed_at"`
	// CreatedAt is the timestamp when this record was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	// UpdatedAt is the timestamp when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

// TableName specifies the table name for the BridgeEvent model
func (BridgeEvent) TableName() string {
	return "bridge_events"
}
