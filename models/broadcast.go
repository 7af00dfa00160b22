package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// BroadcastStatus represents the lifecycle state of a broadcast
type BroadcastStatus string

const (
	BroadcastStatusImmediate  BroadcastStatus = "immediate"
	BroadcastStatusScheduled  BroadcastStatus = "scheduled"
	BroadcastStatusProcessing BroadcastStatus = "processing"
	BroadcastStatusCompleted  BroadcastStatus = "completed"
	BroadcastStatusFailed     BroadcastStatus = "failed"
	BroadcastStatusCancelled  BroadcastStatus = "cancelled"
)

// FailableBroadcastStatuses lists the states a broadcast may be failed from.
// A completed or cancelled broadcast is never clobbered.
var FailableBroadcastStatuses = []BroadcastStatus{
	BroadcastStatusImmediate,
	BroadcastStatusScheduled,
	BroadcastStatusProcessing,
}

// CompletableBroadcastStatuses lists the states a drained broadcast may complete from
var CompletableBroadcastStatuses = []BroadcastStatus{
	BroadcastStatusImmediate,
	BroadcastStatusProcessing,
}

// String returns the string representation of the status
func (s BroadcastStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s BroadcastStatus) Valid() bool {
	switch s {
	case BroadcastStatusImmediate, BroadcastStatusScheduled, BroadcastStatusProcessing,
		BroadcastStatusCompleted, BroadcastStatusFailed, BroadcastStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible
func (s BroadcastStatus) IsTerminal() bool {
	switch s {
	case BroadcastStatusCompleted, BroadcastStatusFailed, BroadcastStatusCancelled:
		return true
	default:
		return false
	}
}

// IsDispatching reports whether workers may send on behalf of a broadcast in this state
func (s BroadcastStatus) IsDispatching() bool {
	return s == BroadcastStatusImmediate || s == BroadcastStatusProcessing
}

// CanTransitionTo reports whether the state machine allows moving from s to next
func (s BroadcastStatus) CanTransitionTo(next BroadcastStatus) bool {
	switch s {
	case BroadcastStatusImmediate:
		return next == BroadcastStatusProcessing || next == BroadcastStatusCompleted || next == BroadcastStatusFailed
	case BroadcastStatusScheduled:
		return next == BroadcastStatusProcessing || next == BroadcastStatusCancelled || next == BroadcastStatusFailed
	case BroadcastStatusProcessing:
		return next == BroadcastStatusCompleted || next == BroadcastStatusFailed
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for BroadcastStatus
func (s *BroadcastStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = BroadcastStatus(v)
	case []byte:
		*s = BroadcastStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into BroadcastStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for BroadcastStatus
func (s BroadcastStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid BroadcastStatus: %s", s)
	}
	return string(s), nil
}

// Broadcast is a bulk template-message campaign sent to every contact carrying one of ContactTags.
// ScheduledAt is set iff the broadcast was created as scheduled.
// Counters only ever grow.
type Broadcast struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	UUID         uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uk_broadcasts_uuid" json:"uuid"`
	Name         string          `gorm:"size:255;not null" json:"name"`
	TemplateName string          `gorm:"size:512;not null" json:"template_name"`
	Language     string          `gorm:"size:16;not null" json:"language"`
	ContactTags  pq.StringArray  `gorm:"type:text[];not null" json:"contact_tags"`
	Status       BroadcastStatus `gorm:"type:varchar(20);not null;index:idx_broadcasts_status" json:"status"`
	ScheduledAt  *time.Time      `gorm:"index:idx_broadcasts_scheduled_at" json:"scheduled_at,omitempty"`

	ScheduledCount int64 `gorm:"not null;default:0" json:"scheduled_count"`
	SentCount      int64 `gorm:"not null;default:0" json:"sent_count"`
	DeliveredCount int64 `gorm:"not null;default:0" json:"delivered_count"`
	ReadCount      int64 `gorm:"not null;default:0" json:"read_count"`
	RepliedCount   int64 `gorm:"not null;default:0" json:"replied_count"`
	FailedCount    int64 `gorm:"not null;default:0" json:"failed_count"`

	// FailureCode and FailureReason are operator diagnostics for a failed broadcast
	FailureCode   *string `gorm:"size:64" json:"failure_code,omitempty"`
	FailureReason *string `gorm:"type:text" json:"failure_reason,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_broadcasts_created_at" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

// TableName returns the table name for the model
func (Broadcast) TableName() string {
	return "broadcasts"
}

// BeforeCreate assigns the public identifier
func (b *Broadcast) BeforeCreate(tx *gorm.DB) error {
	if b.UUID == uuid.Nil {
		b.UUID = uuid.New()
	}
	return nil
}

// BroadcastFilter represents filter criteria for broadcast queries
type BroadcastFilter struct {
	ID              *uint
	UUID            *uuid.UUID
	Name            *string
	Status          *BroadcastStatus
	Statuses        []BroadcastStatus
	IDAfter         *uint
	ScheduledBefore *time.Time
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
}

// BroadcastCounterDelta carries increments applied to a broadcast's counters.
// Negative values are rejected by the repository.
type BroadcastCounterDelta struct {
	Sent      int64
	Delivered int64
	Read      int64
	Replied   int64
	Failed    int64
}

// IsZero reports whether the delta changes nothing
func (d BroadcastCounterDelta) IsZero() bool {
	return d.Sent == 0 && d.Delivered == 0 && d.Read == 0 && d.Replied == 0 && d.Failed == 0
}
