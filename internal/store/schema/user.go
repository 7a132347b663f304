package schema

import (
	"time"

	"github.com/omnimart/marketplace-indexer/internal/domain"
)

// User represents the users table - wallets that have interacted with the
// marketplace
type User struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// WalletAddress is the normalized wallet address
	WalletAddress string `gorm:"column:wallet_address;not null;uniqueIndex;type:text"`
	// Role records how the wallet first entered the system
	Role domain.UserRole `gorm:"column:role;not null;type:text"`
	// CreatedAt is the timestamp when this record was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
}

// TableName specifies the table name for the User model
func (User) TableName() string {
	return "users"
}
