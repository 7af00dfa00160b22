package handlers

import (
	"context"
	"log"

	"github.com/amirphl/whatsapp-broadcast/app/dto"
	businessflow "github.com/amirphl/whatsapp-broadcast/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// ScheduledMessageHandlerInterface defines the contract for scheduled message handlers
type ScheduledMessageHandlerInterface interface {
	CreateScheduledMessage(c fiber.Ctx) error
	ListScheduledMessages(c fiber.Ctx) error
	GetScheduledMessage(c fiber.Ctx) error
	CancelScheduledMessage(c fiber.Ctx) error
	ProcessDue(c fiber.Ctx) error
}

// ScheduledMessageHandler handles single scheduled message requests
type ScheduledMessageHandler struct {
	messageFlow businessflow.ScheduledMessageFlow
	validator   *validator.Validate
}

func (h *ScheduledMessageHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *ScheduledMessageHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func NewScheduledMessageHandler(messageFlow businessflow.ScheduledMessageFlow) *ScheduledMessageHandler {
	return &ScheduledMessageHandler{
		messageFlow: messageFlow,
		validator:   validator.New(),
	}
}

// CreateScheduledMessage schedules one text or template message
// @Summary Create Scheduled Message
// @Tags Scheduled Messages
// @Accept json
// @Produce json
// @Param request body dto.CreateScheduledMessageRequest true "Scheduled message data"
// @Success 201 {object} dto.APIResponse{data=dto.ScheduledMessageDTO}
// @Failure 400 {object} dto.APIResponse "Validation error or invalid request"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/scheduled-messages [post]
func (h *ScheduledMessageHandler) CreateScheduledMessage(c fiber.Ctx) error {
	var req dto.CreateScheduledMessageRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/scheduled-messages")
	defer cancel()

	result, err := h.messageFlow.CreateScheduledMessage(ctx, &req)
	if err != nil {
		return h.handleFlowError(c, err, "Scheduled message creation failed", "SCHEDULED_MESSAGE_CREATION_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Message scheduled successfully", result)
}

// ListScheduledMessages returns a page of scheduled messages
// @Summary List Scheduled Messages
// @Tags Scheduled Messages
// @Produce json
// @Param page query int false "Page number (default 1)"
// @Param page_size query int false "Items per page (default 20, max 100)"
// @Param status query string false "pending, sending, sent, failed or cancelled"
// @Success 200 {object} dto.APIResponse{data=dto.ListScheduledMessagesResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Router /api/v1/scheduled-messages [get]
func (h *ScheduledMessageHandler) ListScheduledMessages(c fiber.Ctx) error {
	page, pageSize, err := parsePagination(c)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	req := &dto.ListScheduledMessagesRequest{Page: page, PageSize: pageSize}
	if status := c.Query("status"); status != "" {
		req.Status = &status
	}
	if err := h.validator.Struct(req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/scheduled-messages")
	defer cancel()

	result, err := h.messageFlow.ListScheduledMessages(ctx, req)
	if err != nil {
		return h.handleFlowError(c, err, "Failed to list scheduled messages", "SCHEDULED_MESSAGE_LIST_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Scheduled messages retrieved successfully", result)
}

// @Summary Get Scheduled Message
// @Tags Scheduled Messages
// @Produce json
// @Param uuid path string true "Scheduled message UUID"
// @Success 200 {object} dto.APIResponse{data=dto.ScheduledMessageDTO}
// @Failure 404 {object} dto.APIResponse "Scheduled message not found"
// @Router /api/v1/scheduled-messages/{uuid} [get]
func (h *ScheduledMessageHandler) GetScheduledMessage(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/scheduled-messages/:uuid")
	defer cancel()

	result, err := h.messageFlow.GetScheduledMessage(ctx, c.Params("uuid"))
	if err != nil {
		return h.handleFlowError(c, err, "Failed to get scheduled message", "SCHEDULED_MESSAGE_LOOKUP_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Scheduled message retrieved successfully", result)
}

// CancelScheduledMessage cancels a message that is still pending
// @Summary Cancel Scheduled Message
// @Tags Scheduled Messages
// @Produce json
// @Param uuid path string true "Scheduled message UUID"
// @Success 200 {object} dto.APIResponse{data=dto.ScheduledMessageDTO}
// @Failure 404 {object} dto.APIResponse "Scheduled message not found"
// @Failure 409 {object} dto.APIResponse "Message is no longer pending"
// @Router /api/v1/scheduled-messages/{uuid}/cancel [post]
func (h *ScheduledMessageHandler) CancelScheduledMessage(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/scheduled-messages/:uuid/cancel")
	defer cancel()

	result, err := h.messageFlow.CancelScheduledMessage(ctx, c.Params("uuid"))
	if err != nil {
		return h.handleFlowError(c, err, "Failed to cancel scheduled message", "SCHEDULED_MESSAGE_CANCEL_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Scheduled message cancelled successfully", result)
}

// ProcessDue sends the due scheduled messages on demand
// @Summary Process Due Scheduled Messages
// @Tags Scheduled Messages
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.ProcessScheduledMessagesResult}
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/scheduled-messages/process [post]
func (h *ScheduledMessageHandler) ProcessDue(c fiber.Ctx) error {
	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/scheduled-messages/process", longRequestTimeout)
	defer cancel()

	result, err := h.messageFlow.ProcessDueScheduledMessages(ctx)
	if err != nil {
		return h.handleFlowError(c, err, "Processing scheduled messages failed", "SCHEDULED_MESSAGE_PROCESS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Due scheduled messages processed", result)
}

func (h *ScheduledMessageHandler) handleFlowError(c fiber.Ctx, err error, message, fallbackCode string) error {
	switch {
	case businessflow.IsValidationError(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", businessErrorCode(err, "VALIDATION_ERROR"), rootCause(err))
	case businessflow.IsScheduledMessageNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Scheduled message not found", "SCHEDULED_MESSAGE_NOT_FOUND", nil)
	case businessflow.IsScheduledMessageNotCancellable(err):
		return h.ErrorResponse(c, fiber.StatusConflict, "Scheduled message cannot be cancelled in its current status", "SCHEDULED_MESSAGE_NOT_CANCELLABLE", nil)
	}

	log.Println(message, err)
	return h.ErrorResponse(c, fiber.StatusInternalServerError, message, businessErrorCode(err, fallbackCode), nil)
}

func (h *ScheduledMessageHandler) createRequestContext(c fiber.Ctx, endpoint string) (context.Context, context.CancelFunc) {
	return createRequestContextWithTimeout(c, endpoint, defaultRequestTimeout)
}
