package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amirphl/whatsapp-broadcast/app/dto"
	"github.com/amirphl/whatsapp-broadcast/models"
	"github.com/amirphl/whatsapp-broadcast/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statusPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "1029384756",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "statuses": [
          {"id": "wamid.a", "status": "sent", "timestamp": "1760000000", "recipient_id": "989120000001"},
          {"id": "wamid.a", "status": "delivered", "timestamp": "1760000010", "recipient_id": "989120000001"},
          {"id": "wamid.a", "status": "read", "timestamp": "1760000020", "recipient_id": "989120000001"},
          {"id": "wamid.b", "status": "failed", "timestamp": "1760000030", "recipient_id": "989120000002",
           "errors": [{"code": 131026, "title": "Message undeliverable"}]}
        ],
        "messages": [
          {"from": "989120000001", "id": "wamid.in1", "timestamp": "1760000040", "type": "text",
           "context": {"from": "15550001111", "id": "wamid.a"}},
          {"from": "989120000003", "id": "wamid.in2", "timestamp": "1760000050", "type": "text"}
        ]
      }
    }]
  }]
}`

func TestDeliveryEventsFromWebhook(t *testing.T) {
	var payload dto.WhatsAppWebhookPayload
	require.NoError(t, json.Unmarshal([]byte(statusPayload), &payload))

	events := DeliveryEventsFromWebhook(&payload)
	require.Len(t, events, 4)

	assert.Equal(t, dto.DeliveryEventDTO{ProviderMessageID: "wamid.a", Event: "delivered", OccurredAt: time.Unix(1760000010, 0).UTC()}, events[0])
	assert.Equal(t, "read", events[1].Event)
	assert.Equal(t, "failed", events[2].Event)
	assert.Equal(t, "131026 Message undeliverable", events[2].Reason)
	assert.Equal(t, dto.DeliveryEventDTO{ProviderMessageID: "wamid.a", Event: "replied", OccurredAt: time.Unix(1760000040, 0).UTC()}, events[3])
}

func TestParseUnixTimestamp(t *testing.T) {
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), parseUnixTimestamp(" 1700000000 "))
	assert.True(t, parseUnixTimestamp("yesterday").IsZero())
	assert.True(t, parseUnixTimestamp("").IsZero())
	assert.True(t, parseUnixTimestamp("-5").IsZero())
}

func TestWebhookVerify(t *testing.T) {
	fx := newHandlerFixture(t)

	tests := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{"valid handshake", "?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", fiber.StatusOK, "12345"},
		{"wrong token", "?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", fiber.StatusForbidden, ""},
		{"wrong mode", "?hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=12345", fiber.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := fx.app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/whatsapp"+tt.query, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.body != "" {
				body, _ := io.ReadAll(resp.Body)
				assert.Equal(t, tt.body, string(body))
			}
		})
	}
}

func TestWebhookReceive(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, fx *handlerFixture) uint {
		t.Helper()
		b := &models.Broadcast{Name: "Promo", TemplateName: "promo", Language: "en", ContactTags: []string{"vip"}, Status: models.BroadcastStatusProcessing}
		require.NoError(t, fx.store.Broadcasts().Save(ctx, b))
		require.NoError(t, fx.store.Batches().SavePartition(ctx, &models.BroadcastBatch{BroadcastID: b.ID}, []*models.BroadcastContact{
			{ContactID: 989120000001}, {ContactID: 989120000002},
		}))
		rows := fx.store.RecipientsOf(b.ID)
		_, err := fx.store.Recipients().MarkSent(ctx, &rows[0], "wamid.a", 1, utils.UTCNow())
		require.NoError(t, err)
		_, err = fx.store.Recipients().MarkSent(ctx, &rows[1], "wamid.b", 1, utils.UTCNow())
		require.NoError(t, err)
		return b.ID
	}

	t.Run("status notifications update recipients and counters", func(t *testing.T) {
		fx := newHandlerFixture(t)
		id := seed(t, fx)

		resp, env := fx.do(t, http.MethodPost, "/api/v1/webhooks/whatsapp", statusPayload)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		var result dto.RecordDeliveryEventsResponse
		require.NoError(t, json.Unmarshal(env.Data, &result))
		assert.Equal(t, 4, result.Received)
		assert.Equal(t, 4, result.Applied)

		got := fx.store.Broadcast(id)
		assert.EqualValues(t, 1, got.DeliveredCount)
		assert.EqualValues(t, 1, got.ReadCount)
		assert.EqualValues(t, 1, got.RepliedCount)
		assert.EqualValues(t, 1, got.FailedCount)

		rows := fx.store.RecipientsOf(id)
		assert.Equal(t, models.RecipientStatusReplied, rows[0].DisplayStatus())
		assert.Equal(t, models.RecipientStatusFailed, rows[1].DisplayStatus())
		require.NotNil(t, rows[1].FailureReason)
		assert.Equal(t, "131026 Message undeliverable", *rows[1].FailureReason)

		// redelivery of the same notification changes nothing
		resp, env = fx.do(t, http.MethodPost, "/api/v1/webhooks/whatsapp", statusPayload)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		require.NoError(t, json.Unmarshal(env.Data, &result))
		assert.Zero(t, result.Applied)
		assert.Equal(t, 4, result.Ignored)
		assert.EqualValues(t, 1, fx.store.Broadcast(id).ReadCount)
	})

	t.Run("payload without tracked events", func(t *testing.T) {
		fx := newHandlerFixture(t)
		resp, env := fx.do(t, http.MethodPost, "/api/v1/webhooks/whatsapp", `{"object":"whatsapp_business_account","entry":[]}`)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.True(t, env.Success)
	})

	t.Run("malformed payload", func(t *testing.T) {
		fx := newHandlerFixture(t)
		resp, env := fx.do(t, http.MethodPost, "/api/v1/webhooks/whatsapp", `{"entry": 5}`)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_REQUEST", env.Error.Code)
	})
}

func TestWebhookSignature(t *testing.T) {
	fx := newHandlerFixture(t)
	wh := NewWebhookHandler(fx.flow, "verify-me", "app-secret")
	app := fiber.New()
	app.Post("/hook", wh.Receive)

	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write(body)
	valid := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	tests := []struct {
		name      string
		signature string
		status    int
	}{
		{"valid signature", valid, fiber.StatusOK},
		{"missing signature", "", fiber.StatusUnauthorized},
		{"tampered signature", "sha256=" + hex.EncodeToString(make([]byte, 32)), fiber.StatusUnauthorized},
		{"not hex", "sha256=zz", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			if tt.signature != "" {
				req.Header.Set(signatureHeader, tt.signature)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
