package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BroadcastBatchStatus is the claim marker of a batch
type BroadcastBatchStatus string

const (
	BroadcastBatchStatusPending   BroadcastBatchStatus = "pending"
	BroadcastBatchStatusClaimed   BroadcastBatchStatus = "claimed"
	BroadcastBatchStatusCompleted BroadcastBatchStatus = "completed"
)

// String returns the string representation of the status
func (s BroadcastBatchStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s BroadcastBatchStatus) Valid() bool {
	switch s {
	case BroadcastBatchStatusPending, BroadcastBatchStatusClaimed, BroadcastBatchStatusCompleted:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for BroadcastBatchStatus
func (s *BroadcastBatchStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = BroadcastBatchStatus(v)
	case []byte:
		*s = BroadcastBatchStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into BroadcastBatchStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for BroadcastBatchStatus
func (s BroadcastBatchStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid BroadcastBatchStatus: %s", s)
	}
	return string(s), nil
}

// BroadcastBatch is one page of a broadcast's audience.
// Recipient membership is fixed at creation; Status only records which worker owns the batch.
type BroadcastBatch struct {
	ID             uuid.UUID            `gorm:"type:uuid;primaryKey" json:"id"`
	BroadcastID    uint                 `gorm:"not null;index:idx_broadcast_batches_broadcast_id" json:"broadcast_id"`
	ScheduledCount int                  `gorm:"not null" json:"scheduled_count"`
	Status         BroadcastBatchStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_broadcast_batches_status" json:"status"`
	ClaimedBy      *string              `gorm:"size:64" json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time           `json:"claimed_at,omitempty"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
	CreatedAt      time.Time            `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

// TableName returns the table name for the model
func (BroadcastBatch) TableName() string {
	return "broadcast_batches"
}

// IsClaimable reports whether a worker may take the batch at now given the lease ttl
func (b *BroadcastBatch) IsClaimable(now time.Time, leaseTTL time.Duration) bool {
	switch b.Status {
	case BroadcastBatchStatusPending:
		return true
	case BroadcastBatchStatusClaimed:
		return b.ClaimedAt != nil && b.ClaimedAt.Before(now.Add(-leaseTTL))
	default:
		return false
	}
}
