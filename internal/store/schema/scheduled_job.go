package schema

import (
	"time"

	"github.com/omnimart/marketplace-indexer/internal/domain"
)

// ScheduledJob represents the scheduled_jobs table - pending lifecycle jobs
// for listings. The composite primary key gives each (kind, listing) pair at
// most one pending job, so scheduling again replaces the run time.
type ScheduledJob struct {
	// Kind is the lifecycle job kind (activate, settle, dutch_sync)
	Kind domain.JobKind `gorm:"column:kind;primaryKey;type:text"`
	// ListingID references the listing the job acts on
	ListingID string `gorm:"column:listing_id;primaryKey;type:text"`
	// RunAt is when the job becomes due
	RunAt time.Time `gorm:"column:run_at;not null;index"`
	// CreatedAt is the timestamp when this record was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	// UpdatedAt is the timestamp when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

// TableName specifies the table name for the ScheduledJob model
func (ScheduledJob) TableName() string {
	return "scheduled_jobs"
}
