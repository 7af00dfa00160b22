package models

import (
	"time"

	"github.com/lib/pq"
)

// Contact is a WhatsApp contact owned by contact management.
// The dispatch engine only reads it, matching on Tags.
type Contact struct {
	WaID        int64          `gorm:"column:wa_id;primaryKey;autoIncrement:false" json:"wa_id"`
	ProfileName *string        `gorm:"size:255" json:"profile_name,omitempty"`
	Tags        pq.StringArray `gorm:"type:text[];index:idx_contacts_tags_gin,using:gin" json:"tags"`
	CreatedAt   time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_contacts_created_at" json:"created_at"`
}

func (Contact) TableName() string { return "contacts" }

// ContactCursor is the keyset position after the last contact of an audience page
type ContactCursor struct {
	CreatedAt time.Time
	WaID      int64
}

// ContactFilter represents filter criteria for contact queries
type ContactFilter struct {
	WaID          *int64
	AnyTags       []string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
