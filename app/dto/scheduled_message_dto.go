package dto

import (
	"encoding/json"
	"time"
)

// CreateScheduledMessageRequest represents the request to schedule one message.
// Text messages need MessageContent; template messages need TemplateData
// shaped as {"name": ..., "language": {"code": ...}, "components": [...]}.
type CreateScheduledMessageRequest struct {
	To             int64           `json:"to" validate:"required,gt=0"`
	MessageType    string          `json:"message_type" validate:"required,oneof=text template"`
	MessageContent *string         `json:"message_content,omitempty" validate:"omitempty,max=4096"`
	TemplateData   json.RawMessage `json:"template_data,omitempty"`
	ScheduledAt    time.Time       `json:"scheduled_at" validate:"required"`
	MaxRetries     *int            `json:"max_retries,omitempty" validate:"omitempty,min=0,max=10"`
}

// ScheduledMessageDTO is the public view of a scheduled message
type ScheduledMessageDTO struct {
	UUID           string          `json:"uuid"`
	To             int64           `json:"to"`
	MessageType    string          `json:"message_type"`
	MessageContent *string         `json:"message_content,omitempty"`
	TemplateData   json.RawMessage `json:"template_data,omitempty"`
	ScheduledAt    time.Time       `json:"scheduled_at"`
	NextAttemptAt  time.Time       `json:"next_attempt_at"`
	Status         string          `json:"status"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	WamID          *string         `json:"wam_id,omitempty"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ListScheduledMessagesRequest represents a page of scheduled messages
type ListScheduledMessagesRequest struct {
	Page     int     `json:"page" validate:"omitempty,min=1"`
	PageSize int     `json:"page_size" validate:"omitempty,min=1,max=100"`
	Status   *string `json:"status,omitempty" validate:"omitempty,oneof=pending sending sent failed cancelled"`
}

// ListScheduledMessagesResponse represents a page of scheduled messages
type ListScheduledMessagesResponse struct {
	Items      []ScheduledMessageDTO `json:"items"`
	Pagination PaginationInfo        `json:"pagination"`
}

// ProcessScheduledMessagesResult summarises one pass over due scheduled messages
type ProcessScheduledMessagesResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
	Skipped   int `json:"skipped"`
	// Recovered counts messages found stuck in sending and failed as interrupted
	Recovered int `json:"recovered"`
	// Errors counts messages whose outcome could not be stored
	Errors int `json:"errors"`
}
