package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Broadcast validation errors
	ErrBroadcastNameRequired   = errors.New("broadcast name is required")
	ErrTemplateNameRequired    = errors.New("template name is required")
	ErrLanguageRequired        = errors.New("language is required")
	ErrContactTagsRequired     = errors.New("at least one contact tag is required")
	ErrScheduledAtNotInFuture  = errors.New("scheduled time must be in the future")
	ErrInvalidBroadcastUUID    = errors.New("invalid broadcast UUID")
	ErrInvalidBroadcastStatus  = errors.New("invalid broadcast status")
	ErrBroadcastNotFound       = errors.New("broadcast not found")
	ErrBroadcastNotCancellable = errors.New("only scheduled broadcasts can be cancelled")

	// Broadcast setup errors
	ErrEmptyAudience       = errors.New("no contacts match the selected tags")
	ErrTemplateUnavailable = errors.New("message template is unavailable")
	ErrPartitionFailed     = errors.New("failed to partition audience")

	// Delivery events
	ErrUnsupportedDeliveryEvent = errors.New("unsupported delivery event")

	// Scheduled message errors
	ErrInvalidRecipient               = errors.New("recipient WhatsApp ID is invalid")
	ErrInvalidMessageType             = errors.New("message type must be text or template")
	ErrMessageContentRequired         = errors.New("message content is required for text messages")
	ErrTemplateDataRequired           = errors.New("template data is required for template messages")
	ErrInvalidTemplateData            = errors.New("template data must carry a name and a language code")
	ErrInvalidScheduledMessageUUID    = errors.New("invalid scheduled message UUID")
	ErrInvalidScheduledMessageStatus  = errors.New("invalid scheduled message status")
	ErrScheduledMessageNotFound       = errors.New("scheduled message not found")
	ErrScheduledMessageNotCancellable = errors.New("only pending scheduled messages can be cancelled")
	ErrInvalidMaxRetries              = errors.New("max retries must not be negative")

	// Filter errors
	ErrInvalidPage     = errors.New("page must be at least 1")
	ErrInvalidPageSize = errors.New("page size must be between 1 and 100")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

// IsValidationError reports whether err comes from rejecting caller input
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrBroadcastNameRequired, ErrTemplateNameRequired, ErrLanguageRequired, ErrContactTagsRequired,
		ErrScheduledAtNotInFuture, ErrInvalidBroadcastUUID, ErrInvalidBroadcastStatus,
		ErrInvalidRecipient, ErrInvalidMessageType, ErrMessageContentRequired, ErrTemplateDataRequired,
		ErrInvalidTemplateData, ErrInvalidScheduledMessageUUID, ErrInvalidScheduledMessageStatus,
		ErrInvalidMaxRetries, ErrInvalidPage, ErrInvalidPageSize, ErrUnsupportedDeliveryEvent,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func IsBroadcastNotFound(err error) bool {
	return errors.Is(err, ErrBroadcastNotFound)
}

func IsBroadcastNotCancellable(err error) bool {
	return errors.Is(err, ErrBroadcastNotCancellable)
}

func IsEmptyAudience(err error) bool {
	return errors.Is(err, ErrEmptyAudience)
}

func IsTemplateUnavailable(err error) bool {
	return errors.Is(err, ErrTemplateUnavailable)
}

func IsScheduledMessageNotFound(err error) bool {
	return errors.Is(err, ErrScheduledMessageNotFound)
}

func IsScheduledMessageNotCancellable(err error) bool {
	return errors.Is(err, ErrScheduledMessageNotCancellable)
}
