package handlers

import (
	"context"
	"log"

	"github.com/amirphl/whatsapp-broadcast/app/dto"
	businessflow "github.com/amirphl/whatsapp-broadcast/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// BroadcastHandlerInterface defines the contract for broadcast handlers
type BroadcastHandlerInterface interface {
	CreateBroadcast(c fiber.Ctx) error
	ListBroadcasts(c fiber.Ctx) error
	GetBroadcast(c fiber.Ctx) error
	CancelBroadcast(c fiber.Ctx) error
	ListRecipients(c fiber.Ctx) error
	CountRecipients(c fiber.Ctx) error
	ExportRecipients(c fiber.Ctx) error
	StatusReport(c fiber.Ctx) error
	SweepScheduled(c fiber.Ctx) error
}

// BroadcastHandler handles broadcast-related HTTP requests
type BroadcastHandler struct {
	broadcastFlow businessflow.BroadcastFlow
	validator     *validator.Validate
}

func (h *BroadcastHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *BroadcastHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// NewBroadcastHandler creates a new broadcast handler
func NewBroadcastHandler(broadcastFlow businessflow.BroadcastFlow) *BroadcastHandler {
	return &BroadcastHandler{
		broadcastFlow: broadcastFlow,
		validator:     validator.New(),
	}
}

// CreateBroadcast partitions the tagged audience and either dispatches now or schedules the broadcast
// @Summary Create Broadcast
// @Tags Broadcasts
// @Accept json
// @Produce json
// @Param request body dto.CreateBroadcastRequest true "Broadcast data"
// @Success 201 {object} dto.APIResponse{data=dto.CreateBroadcastResponse}
// @Failure 400 {object} dto.APIResponse "Validation error or invalid request"
// @Failure 422 {object} dto.APIResponse "Empty audience or unavailable template"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/broadcasts [post]
func (h *BroadcastHandler) CreateBroadcast(c fiber.Ctx) error {
	var req dto.CreateBroadcastRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/broadcasts")
	defer cancel()

	result, err := h.broadcastFlow.CreateBroadcast(ctx, &req)
	if err != nil {
		return h.handleFlowError(c, err, "Broadcast creation failed", "BROADCAST_CREATION_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusCreated, result.Message, result)
}

// ListBroadcasts returns a page of broadcasts, newest first
// @Summary List Broadcasts
// @Tags Broadcasts
// @Produce json
// @Param page query int false "Page number (default 1)"
// @Param page_size query int false "Items per page (default 20, max 100)"
// @Param status query string false "immediate, scheduled, processing, completed, failed or cancelled"
// @Success 200 {object} dto.APIResponse{data=dto.ListBroadcastsResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/broadcasts [get]
func (h *BroadcastHandler) ListBroadcasts(c fiber.Ctx) error {
	page, pageSize, err := parsePagination(c)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}

	req := &dto.ListBroadcastsRequest{Page: page, PageSize: pageSize}
	if status := c.Query("status"); status != "" {
		req.Status = &status
	}
	if err := h.validator.Struct(req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/broadcasts")
	defer cancel()

	result, err := h.broadcastFlow.ListBroadcasts(ctx, req)
	if err != nil {
		return h.handleFlowError(c, err, "Failed to list broadcasts", "BROADCAST_LIST_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Broadcasts retrieved successfully", result)
}

// GetBroadcast returns one broadcast with its counters
// @Summary Get Broadcast
// @Tags Broadcasts
// @Produce json
// @Param uuid path string true "Broadcast UUID"
// @Success 200 {object} dto.APIResponse{data=dto.BroadcastDTO}
// @Failure 400 {object} dto.APIResponse "Invalid UUID"
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Router /api/v1/broadcasts/{uuid} [get]
func (h *BroadcastHandler) GetBroadcast(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/broadcasts/:uuid")
	defer cancel()

	result, err := h.broadcastFlow.GetBroadcast(ctx, c.Params("uuid"))
	if err != nil {
		return h.handleFlowError(c, err, "Failed to get broadcast", "BROADCAST_LOOKUP_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Broadcast retrieved successfully", result)
}

// CancelBroadcast cancels a broadcast that is still waiting for its scheduled time
// @Summary Cancel Broadcast
// @Tags Broadcasts
// @Produce json
// @Param uuid path string true "Broadcast UUID"
// @Success 200 {object} dto.APIResponse{data=dto.CancelBroadcastResponse}
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Failure 409 {object} dto.APIResponse "Broadcast is no longer scheduled"
// @Router /api/v1/broadcasts/{uuid}/cancel [post]
func (h *BroadcastHandler) CancelBroadcast(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/broadcasts/:uuid/cancel")
	defer cancel()

	result, err := h.broadcastFlow.CancelBroadcast(ctx, c.Params("uuid"))
	if err != nil {
		return h.handleFlowError(c, err, "Failed to cancel broadcast", "BROADCAST_CANCEL_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// ListRecipients returns a page of recipients in partition order
// @Summary List Broadcast Recipients
// @Tags Broadcasts
// @Produce json
// @Param uuid path string true "Broadcast UUID"
// @Param page query int false "Page number (default 1)"
// @Param page_size query int false "Items per page (default 50, max 100)"
// @Success 200 {object} dto.APIResponse{data=dto.ListRecipientsResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Router /api/v1/broadcasts/{uuid}/recipients [get]
func (h *BroadcastHandler) ListRecipients(c fiber.Ctx) error {
	page, pageSize, err := parsePagination(c)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	req := &dto.ListRecipientsRequest{UUID: c.Params("uuid"), Page: page, PageSize: pageSize}
	if err := h.validator.Struct(req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/broadcasts/:uuid/recipients")
	defer cancel()

	result, err := h.broadcastFlow.ListRecipients(ctx, req)
	if err != nil {
		return h.handleFlowError(c, err, "Failed to list recipients", "RECIPIENT_LIST_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Recipients retrieved successfully", result)
}

// CountRecipients returns the recipient total and how many still await an outcome
// @Summary Count Broadcast Recipients
// @Tags Broadcasts
// @Produce json
// @Param uuid path string true "Broadcast UUID"
// @Success 200 {object} dto.APIResponse{data=dto.CountRecipientsResponse}
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Router /api/v1/broadcasts/{uuid}/recipients/count [get]
func (h *BroadcastHandler) CountRecipients(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/broadcasts/:uuid/recipients/count")
	defer cancel()

	result, err := h.broadcastFlow.CountRecipients(ctx, c.Params("uuid"))
	if err != nil {
		return h.handleFlowError(c, err, "Failed to count recipients", "RECIPIENT_COUNT_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Recipients counted successfully", result)
}

// ExportRecipients downloads every recipient with its display status as an Excel workbook
// @Summary Export Broadcast Recipients
// @Tags Broadcasts
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param uuid path string true "Broadcast UUID"
// @Success 200 {string} string "Excel file"
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/broadcasts/{uuid}/recipients/export [get]
func (h *BroadcastHandler) ExportRecipients(c fiber.Ctx) error {
	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/broadcasts/:uuid/recipients/export", longRequestTimeout)
	defer cancel()

	filename, data, err := h.broadcastFlow.ExportRecipients(ctx, c.Params("uuid"))
	if err != nil {
		return h.handleFlowError(c, err, "Failed to generate Excel", "EXPORT_FAILED")
	}
	c.Set("Content-Type", xlsxContentType)
	c.Set("Content-Disposition", "attachment; filename="+filename)
	return c.Send(data)
}

// StatusReport returns the latest broadcasts with their batches and most recent recipients
// @Summary Broadcast Status Report
// @Tags Broadcasts
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.BroadcastStatusReportResponse}
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/broadcasts/status [get]
func (h *BroadcastHandler) StatusReport(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/broadcasts/status")
	defer cancel()

	result, err := h.broadcastFlow.BroadcastStatusReport(ctx)
	if err != nil {
		return h.handleFlowError(c, err, "Failed to build status report", "STATUS_REPORT_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Status report generated successfully", result)
}

// SweepScheduled runs one scheduled-broadcast sweep on demand
// @Summary Sweep Scheduled Broadcasts
// @Tags Broadcasts
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.SweepResult}
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/broadcasts/sweep [post]
func (h *BroadcastHandler) SweepScheduled(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/broadcasts/sweep")
	defer cancel()

	result, err := h.broadcastFlow.SweepScheduledBroadcasts(ctx)
	if err != nil {
		return h.handleFlowError(c, err, "Sweep failed", "SWEEP_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Sweep completed", result)
}

func (h *BroadcastHandler) handleFlowError(c fiber.Ctx, err error, message, fallbackCode string) error {
	switch {
	case businessflow.IsValidationError(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", businessErrorCode(err, "VALIDATION_ERROR"), rootCause(err))
	case businessflow.IsBroadcastNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Broadcast not found", "BROADCAST_NOT_FOUND", nil)
	case businessflow.IsBroadcastNotCancellable(err):
		return h.ErrorResponse(c, fiber.StatusConflict, "Broadcast cannot be cancelled in its current status", "BROADCAST_NOT_CANCELLABLE", nil)
	case businessflow.IsEmptyAudience(err):
		return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "No contacts match the selected tags", "EMPTY_AUDIENCE", nil)
	case businessflow.IsTemplateUnavailable(err):
		return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Message template is unavailable", "TEMPLATE_UNAVAILABLE", nil)
	}

	log.Println(message, err)
	return h.ErrorResponse(c, fiber.StatusInternalServerError, message, businessErrorCode(err, fallbackCode), nil)
}

func (h *BroadcastHandler) createRequestContext(c fiber.Ctx, endpoint string) (context.Context, context.CancelFunc) {
	return createRequestContextWithTimeout(c, endpoint, defaultRequestTimeout)
}
