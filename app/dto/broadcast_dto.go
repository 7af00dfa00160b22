package dto

import (
	"time"
)

// CreateBroadcastRequest represents the request to create a broadcast.
// A nil ScheduledAt sends immediately.
type CreateBroadcastRequest struct {
	Name         string     `json:"name" validate:"required,max=255"`
	TemplateName string     `json:"template_name" validate:"required,max=512"`
	Language     string     `json:"language" validate:"required,max=16"`
	ContactTags  []string   `json:"contact_tags" validate:"required,min=1,dive,required,max=100"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
}

// CreateBroadcastResponse represents the response to create a broadcast
type CreateBroadcastResponse struct {
	Message           string     `json:"message"`
	UUID              string     `json:"uuid"`
	Status            string     `json:"status"`
	ContactsScheduled int64      `json:"contacts_scheduled"`
	Batches           int        `json:"batches"`
	WorkersStarted    int        `json:"workers_started"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt         string     `json:"created_at"`
}

// BroadcastDTO is the public view of a broadcast
type BroadcastDTO struct {
	UUID           string     `json:"uuid"`
	Name           string     `json:"name"`
	TemplateName   string     `json:"template_name"`
	Language       string     `json:"language"`
	ContactTags    []string   `json:"contact_tags"`
	Status         string     `json:"status"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	ScheduledCount int64      `json:"scheduled_count"`
	SentCount      int64      `json:"sent_count"`
	DeliveredCount int64      `json:"delivered_count"`
	ReadCount      int64      `json:"read_count"`
	RepliedCount   int64      `json:"replied_count"`
	FailedCount    int64      `json:"failed_count"`
	FailureCode    *string    `json:"failure_code,omitempty"`
	FailureReason  *string    `json:"failure_reason,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ListBroadcastsRequest represents a page of broadcasts, newest first
type ListBroadcastsRequest struct {
	Page     int     `json:"page" validate:"omitempty,min=1"`
	PageSize int     `json:"page_size" validate:"omitempty,min=1,max=100"`
	Status   *string `json:"status,omitempty" validate:"omitempty,oneof=immediate scheduled processing completed failed cancelled"`
}

// ListBroadcastsResponse represents a page of broadcasts
type ListBroadcastsResponse struct {
	Items      []BroadcastDTO `json:"items"`
	Pagination PaginationInfo `json:"pagination"`
}

// CancelBroadcastResponse represents the response to cancel a broadcast
type CancelBroadcastResponse struct {
	Message string `json:"message"`
	UUID    string `json:"uuid"`
	Status  string `json:"status"`
}

// BroadcastRecipientDTO is one recipient row with its derived status
type BroadcastRecipientDTO struct {
	ContactID         int64      `json:"contact_id"`
	BatchID           string     `json:"batch_id"`
	Status            string     `json:"status"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	ReadAt            *time.Time `json:"read_at,omitempty"`
	RepliedAt         *time.Time `json:"replied_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`
	ProviderMessageID *string    `json:"provider_message_id,omitempty"`
	FailureReason     *string    `json:"failure_reason,omitempty"`
	SendAttempts      int        `json:"send_attempts"`
}

// ListRecipientsRequest represents a page of recipients of one broadcast
type ListRecipientsRequest struct {
	UUID     string `json:"-"`
	Page     int    `json:"page" validate:"omitempty,min=1"`
	PageSize int    `json:"page_size" validate:"omitempty,min=1,max=100"`
}

// ListRecipientsResponse represents a page of recipients
type ListRecipientsResponse struct {
	Items      []BroadcastRecipientDTO `json:"items"`
	Pagination PaginationInfo          `json:"pagination"`
}

// CountRecipientsResponse represents recipient totals of a broadcast
type CountRecipientsResponse struct {
	Total      int64 `json:"total"`
	Unresolved int64 `json:"unresolved"`
}

// BroadcastBatchDTO is the public view of a batch
type BroadcastBatchDTO struct {
	ID             string     `json:"id"`
	ScheduledCount int        `json:"scheduled_count"`
	Status         string     `json:"status"`
	ClaimedBy      *string    `json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// BroadcastStatusReportItem groups a broadcast with its batches and latest recipients
type BroadcastStatusReportItem struct {
	Broadcast        BroadcastDTO            `json:"broadcast"`
	Batches          []BroadcastBatchDTO     `json:"batches"`
	LatestRecipients []BroadcastRecipientDTO `json:"latest_recipients"`
}

// BroadcastStatusReportResponse is the diagnostic view of recent broadcasts
type BroadcastStatusReportResponse struct {
	Broadcasts  []BroadcastStatusReportItem `json:"broadcasts"`
	GeneratedAt time.Time                   `json:"generated_at"`
}

// SweepResult summarises one scheduled-broadcast sweep
type SweepResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Resumed   int `json:"resumed"`
	Completed int `json:"completed"`
}

// DeliveryEventDTO is a provider notification about one sent message
type DeliveryEventDTO struct {
	ProviderMessageID string    `json:"provider_message_id" validate:"required"`
	Event             string    `json:"event" validate:"required,oneof=delivered read replied failed"`
	OccurredAt        time.Time `json:"occurred_at"`
	Reason            string    `json:"reason,omitempty"`
}

// RecordDeliveryEventsResponse summarises a delivery event batch
type RecordDeliveryEventsResponse struct {
	Received int `json:"received"`
	Applied  int `json:"applied"`
	Ignored  int `json:"ignored"`
}
