package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/whatsapp-broadcast/app/dto"
	businessflow "github.com/amirphl/whatsapp-broadcast/business_flow"
	"github.com/amirphl/whatsapp-broadcast/models"
	"github.com/gofiber/fiber/v3"
)

const signatureHeader = "X-Hub-Signature-256"

// WebhookHandlerInterface defines the WhatsApp webhook endpoints
type WebhookHandlerInterface interface {
	Verify(c fiber.Ctx) error
	Receive(c fiber.Ctx) error
}

// WebhookHandler turns WhatsApp status notifications into broadcast delivery events
type WebhookHandler struct {
	broadcastFlow businessflow.BroadcastFlow
	verifyToken   string
	appSecret     string
}

func (h *WebhookHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

// NewWebhookHandler creates the webhook handler. An empty appSecret disables signature checks.
func NewWebhookHandler(broadcastFlow businessflow.BroadcastFlow, verifyToken, appSecret string) *WebhookHandler {
	return &WebhookHandler{
		broadcastFlow: broadcastFlow,
		verifyToken:   verifyToken,
		appSecret:     appSecret,
	}
}

// Verify answers the subscription handshake
// @Summary Verify WhatsApp Webhook
// @Tags Webhooks
// @Produce plain
// @Param hub.mode query string true "Must be subscribe"
// @Param hub.verify_token query string true "Configured verify token"
// @Param hub.challenge query string true "Challenge to echo"
// @Success 200 {string} string "Challenge"
// @Failure 403 {object} dto.APIResponse "Verification failed"
// @Router /api/v1/webhooks/whatsapp [get]
func (h *WebhookHandler) Verify(c fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	if mode != "subscribe" || h.verifyToken == "" || !hmac.Equal([]byte(token), []byte(h.verifyToken)) {
		return h.ErrorResponse(c, fiber.StatusForbidden, "Webhook verification failed", "WEBHOOK_VERIFICATION_FAILED", nil)
	}
	return c.Status(fiber.StatusOK).SendString(c.Query("hub.challenge"))
}

// Receive records delivered, read, failed and replied notifications against broadcast recipients
// @Summary Receive WhatsApp Webhook
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param request body dto.WhatsAppWebhookPayload true "Webhook notification"
// @Success 200 {object} dto.APIResponse{data=dto.RecordDeliveryEventsResponse}
// @Failure 400 {object} dto.APIResponse "Invalid payload"
// @Failure 401 {object} dto.APIResponse "Invalid signature"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/webhooks/whatsapp [post]
func (h *WebhookHandler) Receive(c fiber.Ctx) error {
	body := c.Body()
	if h.appSecret != "" && !validSignature(h.appSecret, body, c.Get(signatureHeader)) {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid webhook signature", "INVALID_SIGNATURE", nil)
	}

	var payload dto.WhatsAppWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid webhook payload", "INVALID_REQUEST", err.Error())
	}

	events := DeliveryEventsFromWebhook(&payload)

	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/webhooks/whatsapp", defaultRequestTimeout)
	defer cancel()

	result, err := h.record(ctx, events)
	if err != nil {
		log.Println("Recording webhook delivery events failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record delivery events", businessErrorCode(err, "DELIVERY_EVENT_FAILED"), nil)
	}
	return c.Status(fiber.StatusOK).JSON(dto.APIResponse{Success: true, Message: "Webhook processed", Data: result})
}

func (h *WebhookHandler) record(ctx context.Context, events []dto.DeliveryEventDTO) (*dto.RecordDeliveryEventsResponse, error) {
	if len(events) == 0 {
		return &dto.RecordDeliveryEventsResponse{}, nil
	}
	return h.broadcastFlow.RecordDeliveryEvents(ctx, events)
}

// DeliveryEventsFromWebhook extracts the delivery events a broadcast tracks.
// "sent" statuses are skipped since the sender already stamps sent_at.
func DeliveryEventsFromWebhook(payload *dto.WhatsAppWebhookPayload) []dto.DeliveryEventDTO {
	var events []dto.DeliveryEventDTO
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				event := models.DeliveryEvent(st.Status)
				if _, ok := event.Column(); !ok {
					continue
				}
				ev := dto.DeliveryEventDTO{
					ProviderMessageID: st.ID,
					Event:             string(event),
					OccurredAt:        parseUnixTimestamp(st.Timestamp),
				}
				if event == models.DeliveryEventFailed {
					ev.Reason = webhookErrorReason(st.Errors)
				}
				events = append(events, ev)
			}
			for _, msg := range change.Value.Messages {
				if msg.Context == nil || msg.Context.ID == "" {
					continue
				}
				events = append(events, dto.DeliveryEventDTO{
					ProviderMessageID: msg.Context.ID,
					Event:             string(models.DeliveryEventReplied),
					OccurredAt:        parseUnixTimestamp(msg.Timestamp),
				})
			}
		}
	}
	return events
}

func webhookErrorReason(errs []dto.WhatsAppWebhookAPIError) string {
	if len(errs) == 0 {
		return ""
	}
	e := errs[0]
	reason := e.Title
	if e.Message != "" && e.Message != e.Title {
		reason += ": " + e.Message
	}
	return strconv.Itoa(e.Code) + " " + reason
}

// parseUnixTimestamp returns the zero time for malformed input so the recorder stamps its own clock
func parseUnixTimestamp(s string) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func validSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
