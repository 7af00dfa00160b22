package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ScheduledMessageStatus represents the status of a single scheduled message
type ScheduledMessageStatus string

const (
	ScheduledMessageStatusPending   ScheduledMessageStatus = "pending"
	ScheduledMessageStatusSending   ScheduledMessageStatus = "sending"
	ScheduledMessageStatusSent      ScheduledMessageStatus = "sent"
	ScheduledMessageStatusFailed    ScheduledMessageStatus = "failed"
	ScheduledMessageStatusCancelled ScheduledMessageStatus = "cancelled"
)

// String returns the string representation of the status
func (s ScheduledMessageStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s ScheduledMessageStatus) Valid() bool {
	switch s {
	case ScheduledMessageStatusPending, ScheduledMessageStatusSending, ScheduledMessageStatusSent,
		ScheduledMessageStatusFailed, ScheduledMessageStatusCancelled:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ScheduledMessageStatus
func (s *ScheduledMessageStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = ScheduledMessageStatus(v)
	case []byte:
		*s = ScheduledMessageStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ScheduledMessageStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for ScheduledMessageStatus
func (s ScheduledMessageStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ScheduledMessageStatus: %s", s)
	}
	return string(s), nil
}

// ScheduledMessageType is the kind of payload a scheduled message carries
type ScheduledMessageType string

const (
	ScheduledMessageTypeText     ScheduledMessageType = "text"
	ScheduledMessageTypeTemplate ScheduledMessageType = "template"
)

// Valid checks if the type is supported
func (t ScheduledMessageType) Valid() bool {
	return t == ScheduledMessageTypeText || t == ScheduledMessageTypeTemplate
}

// ScheduledMessage is a single message to one contact, sent at ScheduledAt.
// Failed sends are retried with backoff until RetryCount reaches MaxRetries.
type ScheduledMessage struct {
	ID             uint                   `gorm:"primaryKey" json:"id"`
	UUID           uuid.UUID              `gorm:"type:uuid;not null;uniqueIndex:uk_scheduled_messages_uuid" json:"uuid"`
	To             int64                  `gorm:"column:to_wa_id;not null;index:idx_scheduled_messages_to_wa_id" json:"to"`
	MessageType    ScheduledMessageType   `gorm:"type:varchar(20);not null" json:"message_type"`
	MessageContent *string                `gorm:"type:text" json:"message_content,omitempty"`
	TemplateData   json.RawMessage        `gorm:"type:jsonb" json:"template_data,omitempty"`
	ScheduledAt    time.Time              `gorm:"not null;index:idx_scheduled_messages_scheduled_at" json:"scheduled_at"`
	NextAttemptAt  time.Time              `gorm:"not null;index:idx_scheduled_messages_next_attempt_at" json:"next_attempt_at"`
	Status         ScheduledMessageStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_scheduled_messages_status" json:"status"`
	SentAt         *time.Time             `json:"sent_at,omitempty"`
	WamID          *string                `gorm:"size:128" json:"wam_id,omitempty"`
	ErrorMessage   *string                `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount     int                    `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries     int                    `gorm:"not null;default:3" json:"max_retries"`
	CreatedAt      time.Time              `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt      time.Time              `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (ScheduledMessage) TableName() string { return "scheduled_messages" }

// BeforeCreate assigns the public identifier and the first attempt time
func (m *ScheduledMessage) BeforeCreate(tx *gorm.DB) error {
	if m.UUID == uuid.Nil {
		m.UUID = uuid.New()
	}
	if m.NextAttemptAt.IsZero() {
		m.NextAttemptAt = m.ScheduledAt
	}
	return nil
}

// ScheduledMessageFilter represents filter criteria for scheduled message queries
type ScheduledMessageFilter struct {
	ID     *uint
	UUID   *uuid.UUID
	To     *int64
	Status *ScheduledMessageStatus
}
