package schema

// BundleItem represents the bundle_items table - tokens included in a bundle
// listing
type BundleItem struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// ListingID references the bundle listing
	ListingID string `gorm:"column:listing_id;not null;type:text;uniqueIndex:idx_bundle_items_listing_token,priority:1"`
	// TokenID references the bundled token
	TokenID int64 `gorm:"column:token_id;not null;uniqueIndex:idx_bundle_items_listing_token,priority:2"`

	// Associations
	Token *Token `gorm:"foreignKey:TokenID"`
}

// TableName specifies the table name for the BundleItem model
func (BundleItem) TableName() string {
	return "bundle_items"
}
