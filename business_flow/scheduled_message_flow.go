package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/whatsapp-broadcast/app/dto"
	"github.com/amirphl/whatsapp-broadcast/app/services"
	"github.com/amirphl/whatsapp-broadcast/models"
	"github.com/amirphl/whatsapp-broadcast/repository"
	"github.com/amirphl/whatsapp-broadcast/utils"
	"github.com/google/uuid"
)

const (
	maxMessageRetryDelay = time.Hour
	outcomeWriteTimeout  = 5 * time.Second

	// MessageInterruptedError is stored on a message found stuck in sending. It is not retried,
	// since the provider may already have accepted it.
	MessageInterruptedError = "interrupted: send outcome unknown"
)

// ScheduledMessageFlow handles single messages sent at a given time
type ScheduledMessageFlow interface {
	CreateScheduledMessage(ctx context.Context, req *dto.CreateScheduledMessageRequest) (*dto.ScheduledMessageDTO, error)
	GetScheduledMessage(ctx context.Context, messageUUID string) (*dto.ScheduledMessageDTO, error)
	CancelScheduledMessage(ctx context.Context, messageUUID string) (*dto.ScheduledMessageDTO, error)
	ListScheduledMessages(ctx context.Context, req *dto.ListScheduledMessagesRequest) (*dto.ListScheduledMessagesResponse, error)
	ProcessDueScheduledMessages(ctx context.Context) (*dto.ProcessScheduledMessagesResult, error)
}

// ScheduledMessageFlowConfig tunes processing of due messages
type ScheduledMessageFlowConfig struct {
	DueLimit          int
	RetryBase         time.Duration
	DefaultMaxRetries int
	// SendingTimeout is how long a message may stay in sending before it is considered abandoned.
	// It must outlast one processing run.
	SendingTimeout time.Duration
}

// ScheduledMessageFlowImpl implements the scheduled message flow
type ScheduledMessageFlowImpl struct {
	messageRepo repository.ScheduledMessageRepository
	sender      services.MessagingProvider
	cfg         ScheduledMessageFlowConfig
}

// NewScheduledMessageFlow creates a new scheduled message flow instance
func NewScheduledMessageFlow(messageRepo repository.ScheduledMessageRepository, sender services.MessagingProvider, cfg ScheduledMessageFlowConfig) ScheduledMessageFlow {
	if cfg.DueLimit <= 0 {
		cfg.DueLimit = utils.DueScheduledMessageLimit
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Minute
	}
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = utils.DefaultScheduledMessageMaxRetries
	}
	if cfg.SendingTimeout <= 0 {
		cfg.SendingTimeout = utils.ScheduledMessageSendingTimeout
	}
	return &ScheduledMessageFlowImpl{messageRepo: messageRepo, sender: sender, cfg: cfg}
}

func (f *ScheduledMessageFlowImpl) CreateScheduledMessage(ctx context.Context, req *dto.CreateScheduledMessageRequest) (*dto.ScheduledMessageDTO, error) {
	if err := validateCreateScheduledMessageRequest(req); err != nil {
		return nil, NewBusinessError("SCHEDULED_MESSAGE_VALIDATION_FAILED", "Scheduled message validation failed", err)
	}

	maxRetries := f.cfg.DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	scheduledAt := req.ScheduledAt.UTC()
	msg := &models.ScheduledMessage{
		To:            req.To,
		MessageType:   models.ScheduledMessageType(req.MessageType),
		ScheduledAt:   scheduledAt,
		NextAttemptAt: scheduledAt,
		Status:        models.ScheduledMessageStatusPending,
		MaxRetries:    maxRetries,
	}
	switch msg.MessageType {
	case models.ScheduledMessageTypeText:
		body := strings.TrimSpace(*req.MessageContent)
		msg.MessageContent = &body
	case models.ScheduledMessageTypeTemplate:
		msg.TemplateData = req.TemplateData
	}

	if err := f.messageRepo.Save(ctx, msg); err != nil {
		return nil, NewBusinessError("SCHEDULED_MESSAGE_CREATION_FAILED", "Scheduled message creation failed", err)
	}

	out := ToScheduledMessageDTO(*msg)
	return &out, nil
}

func (f *ScheduledMessageFlowImpl) GetScheduledMessage(ctx context.Context, messageUUID string) (*dto.ScheduledMessageDTO, error) {
	msg, err := f.getMessage(ctx, messageUUID)
	if err != nil {
		return nil, err
	}
	out := ToScheduledMessageDTO(*msg)
	return &out, nil
}

// CancelScheduledMessage cancels a message that has not been picked up yet
func (f *ScheduledMessageFlowImpl) CancelScheduledMessage(ctx context.Context, messageUUID string) (*dto.ScheduledMessageDTO, error) {
	msg, err := f.getMessage(ctx, messageUUID)
	if err != nil {
		return nil, err
	}

	ok, err := f.messageRepo.TransitionStatus(ctx, msg.ID, models.ScheduledMessageStatusPending, models.ScheduledMessageStatusCancelled, nil)
	if err != nil {
		return nil, NewBusinessError("SCHEDULED_MESSAGE_CANCEL_FAILED", "Failed to cancel scheduled message", err)
	}
	if !ok {
		return nil, NewBusinessError("SCHEDULED_MESSAGE_NOT_CANCELLABLE", "Scheduled message cannot be cancelled in its current status", ErrScheduledMessageNotCancellable)
	}

	msg.Status = models.ScheduledMessageStatusCancelled
	out := ToScheduledMessageDTO(*msg)
	return &out, nil
}

// ListScheduledMessages returns messages latest scheduled first
func (f *ScheduledMessageFlowImpl) ListScheduledMessages(ctx context.Context, req *dto.ListScheduledMessagesRequest) (*dto.ListScheduledMessagesResponse, error) {
	if err := validatePage(req.Page, req.PageSize); err != nil {
		return nil, NewBusinessError("SCHEDULED_MESSAGE_LIST_VALIDATION_FAILED", "Invalid list parameters", err)
	}

	var filter models.ScheduledMessageFilter
	if req.Status != nil && *req.Status != "" {
		status := models.ScheduledMessageStatus(*req.Status)
		if !status.Valid() {
			return nil, NewBusinessError("SCHEDULED_MESSAGE_LIST_VALIDATION_FAILED", "Invalid list parameters", ErrInvalidScheduledMessageStatus)
		}
		filter.Status = &status
	}

	limit, offset := utils.Paginate(req.Page, req.PageSize, utils.DefaultPageSize)
	total, err := f.messageRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("SCHEDULED_MESSAGE_LIST_FAILED", "Failed to list scheduled messages", err)
	}
	rows, err := f.messageRepo.ByFilter(ctx, filter, "scheduled_at DESC, id DESC", limit, offset)
	if err != nil {
		return nil, NewBusinessError("SCHEDULED_MESSAGE_LIST_FAILED", "Failed to list scheduled messages", err)
	}

	items := make([]dto.ScheduledMessageDTO, 0, len(rows))
	for _, m := range rows {
		items = append(items, ToScheduledMessageDTO(*m))
	}
	return &dto.ListScheduledMessagesResponse{
		Items:      items,
		Pagination: dto.NewPaginationInfo(offset/limit+1, limit, total),
	}, nil
}

// ProcessDueScheduledMessages sends the pending messages whose next attempt is due.
// Each message is claimed by moving it from pending to sending, so concurrent runs never send twice.
// Messages left in sending by an earlier run that died are failed first.
func (f *ScheduledMessageFlowImpl) ProcessDueScheduledMessages(ctx context.Context) (*dto.ProcessScheduledMessagesResult, error) {
	result := &dto.ProcessScheduledMessagesResult{}

	now := utils.UTCNow()
	stuck, err := f.messageRepo.ListStuckSending(ctx, now.Add(-f.cfg.SendingTimeout), f.cfg.DueLimit)
	if err != nil {
		return nil, NewBusinessError("STUCK_MESSAGES_LOOKUP_FAILED", "Failed to list stuck scheduled messages", err)
	}
	for _, msg := range stuck {
		ok, err := f.messageRepo.TransitionStatus(ctx, msg.ID, models.ScheduledMessageStatusSending, models.ScheduledMessageStatusFailed,
			map[string]any{"error_message": MessageInterruptedError})
		if err != nil {
			log.Printf("scheduled message id=%d: recovering from sending failed: %v", msg.ID, err)
			result.Errors++
			continue
		}
		if ok {
			log.Printf("scheduled message id=%d: stuck in sending since %s, failed as interrupted", msg.ID, msg.UpdatedAt.Format(time.RFC3339))
			result.Recovered++
		}
	}

	due, err := f.messageRepo.ListDue(ctx, now, f.cfg.DueLimit)
	if err != nil {
		return nil, NewBusinessError("DUE_MESSAGES_LOOKUP_FAILED", "Failed to list due scheduled messages", err)
	}

	for _, msg := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Processed++

		ok, err := f.messageRepo.TransitionStatus(ctx, msg.ID, models.ScheduledMessageStatusPending, models.ScheduledMessageStatusSending, nil)
		if err != nil {
			log.Printf("scheduled message id=%d: claim failed: %v", msg.ID, err)
			result.Skipped++
			continue
		}
		if !ok {
			result.Skipped++
			continue
		}

		wamID, sendErr := f.send(ctx, msg)
		if sendErr == nil {
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeWriteTimeout)
			ok, err := f.messageRepo.TransitionStatus(wctx, msg.ID, models.ScheduledMessageStatusSending, models.ScheduledMessageStatusSent,
				map[string]any{"sent_at": utils.UTCNow(), "wam_id": wamID, "error_message": nil})
			cancel()
			if err != nil {
				// left in sending; failed as interrupted once it is stuck long enough
				log.Printf("scheduled message id=%d: sent as %s but could not mark it sent: %v", msg.ID, wamID, err)
				result.Errors++
				continue
			}
			if !ok {
				log.Printf("scheduled message id=%d: sent as %s but no longer sending", msg.ID, wamID)
				result.Errors++
				continue
			}
			result.Sent++
			continue
		}

		retried, err := f.recordFailure(ctx, msg, sendErr)
		if err != nil {
			log.Printf("scheduled message id=%d: recording failure failed: %v", msg.ID, err)
			result.Errors++
			continue
		}
		if retried {
			result.Retried++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

func (f *ScheduledMessageFlowImpl) send(ctx context.Context, msg *models.ScheduledMessage) (string, error) {
	to := strconv.FormatInt(msg.To, 10)
	switch msg.MessageType {
	case models.ScheduledMessageTypeText:
		if msg.MessageContent == nil {
			return "", ErrMessageContentRequired
		}
		return f.sender.SendTextMessage(ctx, to, *msg.MessageContent)
	case models.ScheduledMessageTypeTemplate:
		tmpl, err := parseTemplateData(msg.TemplateData)
		if err != nil {
			return "", err
		}
		return f.sender.SendTemplateMessage(ctx, to, tmpl)
	default:
		return "", ErrInvalidMessageType
	}
}

// recordFailure bumps the retry count and either reschedules the message or fails it for good.
// Permanent provider errors and malformed payloads are not retried.
func (f *ScheduledMessageFlowImpl) recordFailure(ctx context.Context, msg *models.ScheduledMessage, sendErr error) (bool, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeWriteTimeout)
	defer cancel()

	retryCount := msg.RetryCount + 1
	fields := map[string]any{
		"retry_count":   retryCount,
		"error_message": sendErr.Error(),
	}

	retryable := services.IsTemporaryProviderError(sendErr) && !IsValidationError(sendErr)
	if retryCount < msg.MaxRetries && retryable {
		fields["next_attempt_at"] = utils.UTCNow().Add(messageRetryDelay(f.cfg.RetryBase, retryCount))
		_, err := f.messageRepo.TransitionStatus(ctx, msg.ID, models.ScheduledMessageStatusSending, models.ScheduledMessageStatusPending, fields)
		return true, err
	}

	_, err := f.messageRepo.TransitionStatus(ctx, msg.ID, models.ScheduledMessageStatusSending, models.ScheduledMessageStatusFailed, fields)
	return false, err
}

// messageRetryDelay returns base * 2^(retry-1), capped at one hour
func messageRetryDelay(base time.Duration, retry int) time.Duration {
	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= maxMessageRetryDelay {
			return maxMessageRetryDelay
		}
	}
	return d
}

func (f *ScheduledMessageFlowImpl) getMessage(ctx context.Context, messageUUID string) (*models.ScheduledMessage, error) {
	id, err := uuid.Parse(strings.TrimSpace(messageUUID))
	if err != nil {
		return nil, NewBusinessError("INVALID_SCHEDULED_MESSAGE_UUID", "Invalid scheduled message UUID", ErrInvalidScheduledMessageUUID)
	}
	msg, err := f.messageRepo.ByUUID(ctx, id)
	if err != nil {
		return nil, NewBusinessError("SCHEDULED_MESSAGE_LOOKUP_FAILED", "Failed to lookup scheduled message", err)
	}
	if msg == nil {
		return nil, NewBusinessError("SCHEDULED_MESSAGE_NOT_FOUND", "Scheduled message not found", ErrScheduledMessageNotFound)
	}
	return msg, nil
}

// parseTemplateData decodes the stored template payload into the send request shape
func parseTemplateData(data json.RawMessage) (services.TemplateRequest, error) {
	var tmpl services.TemplateRequest
	if len(data) == 0 {
		return tmpl, ErrTemplateDataRequired
	}
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return tmpl, errors.Join(ErrInvalidTemplateData, err)
	}
	if strings.TrimSpace(tmpl.Name) == "" || strings.TrimSpace(tmpl.Language.Code) == "" {
		return tmpl, ErrInvalidTemplateData
	}
	return tmpl, nil
}

func validateCreateScheduledMessageRequest(req *dto.CreateScheduledMessageRequest) error {
	if req.To <= 0 {
		return ErrInvalidRecipient
	}
	switch models.ScheduledMessageType(req.MessageType) {
	case models.ScheduledMessageTypeText:
		if req.MessageContent == nil || strings.TrimSpace(*req.MessageContent) == "" {
			return ErrMessageContentRequired
		}
	case models.ScheduledMessageTypeTemplate:
		if _, err := parseTemplateData(req.TemplateData); err != nil {
			return err
		}
	default:
		return ErrInvalidMessageType
	}
	if !utils.IsValid(req.ScheduledAt) {
		return ErrScheduledAtNotInFuture
	}
	if req.MaxRetries != nil && *req.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}
	return nil
}
