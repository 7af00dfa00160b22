package models

import (
	"time"

	"github.com/google/uuid"
)

// RecipientStatus is the status shown for a broadcast recipient. It is derived, never stored.
type RecipientStatus string

const (
	RecipientStatusPending   RecipientStatus = "pending"
	RecipientStatusSent      RecipientStatus = "sent"
	RecipientStatusDelivered RecipientStatus = "delivered"
	RecipientStatusRead      RecipientStatus = "read"
	RecipientStatusReplied   RecipientStatus = "replied"
	RecipientStatusFailed    RecipientStatus = "failed"
)

// DeliveryEvent names an asynchronous provider notification about a sent message
type DeliveryEvent string

const (
	DeliveryEventDelivered DeliveryEvent = "delivered"
	DeliveryEventRead      DeliveryEvent = "read"
	DeliveryEventReplied   DeliveryEvent = "replied"
	DeliveryEventFailed    DeliveryEvent = "failed"
)

// Column returns the timestamp column stamped by the event
func (e DeliveryEvent) Column() (string, bool) {
	switch e {
	case DeliveryEventDelivered:
		return "delivered_at", true
	case DeliveryEventRead:
		return "read_at", true
	case DeliveryEventReplied:
		return "replied_at", true
	case DeliveryEventFailed:
		return "failed_at", true
	default:
		return "", false
	}
}

// CounterDelta returns the broadcast counter bump for one occurrence of the event
func (e DeliveryEvent) CounterDelta() BroadcastCounterDelta {
	switch e {
	case DeliveryEventDelivered:
		return BroadcastCounterDelta{Delivered: 1}
	case DeliveryEventRead:
		return BroadcastCounterDelta{Read: 1}
	case DeliveryEventReplied:
		return BroadcastCounterDelta{Replied: 1}
	case DeliveryEventFailed:
		return BroadcastCounterDelta{Failed: 1}
	default:
		return BroadcastCounterDelta{}
	}
}

// BroadcastContact is the per-recipient record of a broadcast.
// It is created once by partitioning; afterwards timestamps are only ever added.
type BroadcastContact struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	BroadcastID       uint       `gorm:"not null;index:idx_broadcast_contacts_broadcast_id" json:"broadcast_id"`
	BatchID           uuid.UUID  `gorm:"type:uuid;not null;index:idx_broadcast_contacts_batch_id" json:"batch_id"`
	ContactID         int64      `gorm:"not null;index:idx_broadcast_contacts_contact_id" json:"contact_id"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	ReadAt            *time.Time `json:"read_at,omitempty"`
	RepliedAt         *time.Time `json:"replied_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`
	ProviderMessageID *string    `gorm:"size:128;index:idx_broadcast_contacts_provider_message_id" json:"provider_message_id,omitempty"`
	FailureReason     *string    `gorm:"type:text" json:"failure_reason,omitempty"`
	SendAttempts      int        `gorm:"not null;default:0" json:"send_attempts"`
	SendingBy         *string    `gorm:"size:64" json:"sending_by,omitempty"`
	SendingAt         *time.Time `json:"sending_at,omitempty"`
	CreatedAt         time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

// TableName returns the table name for the model
func (BroadcastContact) TableName() string {
	return "broadcast_contacts"
}

// HasOutcome reports whether a send outcome has already been recorded
func (c *BroadcastContact) HasOutcome() bool {
	return c.SentAt != nil || c.FailedAt != nil
}

// InFlight reports whether a worker took the recipient for sending without recording an outcome
func (c *BroadcastContact) InFlight() bool {
	return c.SendingAt != nil && !c.HasOutcome()
}

// DisplayStatus resolves the status shown for the recipient:
// failed > replied > read > delivered > sent > pending.
func (c *BroadcastContact) DisplayStatus() RecipientStatus {
	switch {
	case c.FailedAt != nil:
		return RecipientStatusFailed
	case c.RepliedAt != nil:
		return RecipientStatusReplied
	case c.ReadAt != nil:
		return RecipientStatusRead
	case c.DeliveredAt != nil:
		return RecipientStatusDelivered
	case c.SentAt != nil:
		return RecipientStatusSent
	default:
		return RecipientStatusPending
	}
}

// BroadcastContactFilter represents filter criteria for recipient queries
type BroadcastContactFilter struct {
	ID                *uint
	BroadcastID       *uint
	BatchID           *uuid.UUID
	ContactID         *int64
	ProviderMessageID *string
	Unresolved        *bool
}
