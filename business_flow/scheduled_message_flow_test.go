package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/whatsapp-broadcast/app/dto"
	"github.com/amirphl/whatsapp-broadcast/app/services"
	"github.com/amirphl/whatsapp-broadcast/models"
	testingutil "github.com/amirphl/whatsapp-broadcast/testing"
	"github.com/amirphl/whatsapp-broadcast/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var welcomeTemplate = json.RawMessage(`{"name":"welcome","language":{"code":"en_US"}}`)

func newScheduledMessageFixture() (*testingutil.MemoryStore, *services.MockWhatsAppService, ScheduledMessageFlow) {
	store := testingutil.NewMemoryStore()
	mock := services.NewMockWhatsAppService()
	flow := NewScheduledMessageFlow(store.ScheduledMessages(), mock, ScheduledMessageFlowConfig{
		DueLimit:          utils.DueScheduledMessageLimit,
		RetryBase:         time.Minute,
		DefaultMaxRetries: 3,
	})
	return store, mock, flow
}

// saveDue stores a pending message whose first attempt is already due
func saveDue(t *testing.T, store *testingutil.MemoryStore, msg models.ScheduledMessage) *models.ScheduledMessage {
	t.Helper()
	if msg.ScheduledAt.IsZero() {
		msg.ScheduledAt = utils.UTCNow().Add(-time.Minute)
	}
	if msg.MaxRetries == 0 {
		msg.MaxRetries = 3
	}
	require.NoError(t, store.ScheduledMessages().Save(context.Background(), &msg))
	return &msg
}

func textMessage(to int64, body string) models.ScheduledMessage {
	return models.ScheduledMessage{To: to, MessageType: models.ScheduledMessageTypeText, MessageContent: &body}
}

func TestCreateScheduledMessage(t *testing.T) {
	ctx := context.Background()
	at := utils.UTCNow().Add(30 * time.Minute)

	t.Run("text message", func(t *testing.T) {
		store, _, flow := newScheduledMessageFixture()
		body := "  Your order has shipped  "

		got, err := flow.CreateScheduledMessage(ctx, &dto.CreateScheduledMessageRequest{
			To: 989120000001, MessageType: "text", MessageContent: &body, ScheduledAt: at,
		})
		require.NoError(t, err)
		assert.Equal(t, "pending", got.Status)
		assert.Equal(t, 3, got.MaxRetries)
		require.NotNil(t, got.MessageContent)
		assert.Equal(t, "Your order has shipped", *got.MessageContent)
		assert.True(t, got.NextAttemptAt.Equal(at))

		n, err := store.ScheduledMessages().Count(ctx, models.ScheduledMessageFilter{})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("template message with explicit retries", func(t *testing.T) {
		_, _, flow := newScheduledMessageFixture()
		retries := 5

		got, err := flow.CreateScheduledMessage(ctx, &dto.CreateScheduledMessageRequest{
			To: 989120000001, MessageType: "template", TemplateData: welcomeTemplate, ScheduledAt: at, MaxRetries: &retries,
		})
		require.NoError(t, err)
		assert.Equal(t, "template", got.MessageType)
		assert.Equal(t, 5, got.MaxRetries)
		assert.JSONEq(t, string(welcomeTemplate), string(got.TemplateData))
	})

	t.Run("validation", func(t *testing.T) {
		body := "hi"
		empty := " "
		negative := -1
		tests := []struct {
			name string
			req  dto.CreateScheduledMessageRequest
			want error
		}{
			{"missing recipient", dto.CreateScheduledMessageRequest{MessageType: "text", MessageContent: &body, ScheduledAt: at}, ErrInvalidRecipient},
			{"unknown type", dto.CreateScheduledMessageRequest{To: 1, MessageType: "image", ScheduledAt: at}, ErrInvalidMessageType},
			{"text without content", dto.CreateScheduledMessageRequest{To: 1, MessageType: "text", MessageContent: &empty, ScheduledAt: at}, ErrMessageContentRequired},
			{"template without data", dto.CreateScheduledMessageRequest{To: 1, MessageType: "template", ScheduledAt: at}, ErrTemplateDataRequired},
			{"template without language", dto.CreateScheduledMessageRequest{To: 1, MessageType: "template", TemplateData: json.RawMessage(`{"name":"welcome"}`), ScheduledAt: at}, ErrInvalidTemplateData},
			{"malformed template", dto.CreateScheduledMessageRequest{To: 1, MessageType: "template", TemplateData: json.RawMessage(`[1,2]`), ScheduledAt: at}, ErrInvalidTemplateData},
			{"past schedule", dto.CreateScheduledMessageRequest{To: 1, MessageType: "text", MessageContent: &body, ScheduledAt: utils.UTCNow().Add(-time.Second)}, ErrScheduledAtNotInFuture},
			{"negative retries", dto.CreateScheduledMessageRequest{To: 1, MessageType: "text", MessageContent: &body, ScheduledAt: at, MaxRetries: &negative}, ErrInvalidMaxRetries},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, _, flow := newScheduledMessageFixture()
				_, err := flow.CreateScheduledMessage(ctx, &tt.req)
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.want), "got %v", err)
				assert.True(t, IsValidationError(err))
			})
		}
	})
}

func TestProcessDueScheduledMessages(t *testing.T) {
	ctx := context.Background()

	t.Run("sends due text and template messages", func(t *testing.T) {
		store, mock, flow := newScheduledMessageFixture()
		text := saveDue(t, store, textMessage(111, "hello"))
		tmpl := saveDue(t, store, models.ScheduledMessage{To: 222, MessageType: models.ScheduledMessageTypeTemplate, TemplateData: welcomeTemplate})
		future := textMessage(333, "later")
		future.ScheduledAt = utils.UTCNow().Add(time.Hour)
		later := saveDue(t, store, future)

		res, err := flow.ProcessDueScheduledMessages(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Processed)
		assert.Equal(t, 2, res.Sent)

		got, err := store.ScheduledMessages().ByID(ctx, text.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ScheduledMessageStatusSent, got.Status)
		require.NotNil(t, got.WamID)
		assert.NotNil(t, got.SentAt)

		got, err = store.ScheduledMessages().ByID(ctx, tmpl.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ScheduledMessageStatusSent, got.Status)

		got, err = store.ScheduledMessages().ByID(ctx, later.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ScheduledMessageStatusPending, got.Status)

		sent := mock.GetSentMessages()
		require.Len(t, sent, 2)
		byTo := map[string]services.MockWhatsAppMessage{sent[0].To: sent[0], sent[1].To: sent[1]}
		assert.Equal(t, "text", byTo["111"].Type)
		assert.Equal(t, "hello", byTo["111"].Body)
		require.NotNil(t, byTo["222"].Template)
		assert.Equal(t, "welcome", byTo["222"].Template.Name)
		assert.Equal(t, "en_US", byTo["222"].Template.Language.Code)
	})

	t.Run("temporary failure is retried later", func(t *testing.T) {
		store, mock, flow := newScheduledMessageFixture()
		msg := saveDue(t, store, textMessage(111, "hello"))
		mock.FailNext("111", &services.ProviderError{StatusCode: http.StatusServiceUnavailable, Message: "try later"})

		before := utils.UTCNow()
		res, err := flow.ProcessDueScheduledMessages(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Retried)

		got, err := store.ScheduledMessages().ByID(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ScheduledMessageStatusPending, got.Status)
		assert.Equal(t, 1, got.RetryCount)
		require.NotNil(t, got.ErrorMessage)
		assert.Contains(t, *got.ErrorMessage, "try later")
		assert.False(t, got.NextAttemptAt.Before(before.Add(time.Minute)))

		res, err = flow.ProcessDueScheduledMessages(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Processed)
		assert.Empty(t, mock.GetSentMessages())
	})

	t.Run("permanent failure fails at once", func(t *testing.T) {
		store, mock, flow := newScheduledMessageFixture()
		msg := saveDue(t, store, textMessage(111, "hello"))
		mock.FailNext("111", &services.ProviderError{StatusCode: http.StatusBadRequest, Code: 131026, Message: "undeliverable"})

		res, err := flow.ProcessDueScheduledMessages(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)

		got, err := store.ScheduledMessages().ByID(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ScheduledMessageStatusFailed, got.Status)
		assert.Equal(t, 1, got.RetryCount)
	})

	t.Run("fails after the last retry", func(t *testing.T) {
		store, mock, flow := newScheduledMessageFixture()
		m := textMessage(111, "hello")
		m.MaxRetries = 2
		m.RetryCount = 1
		msg := saveDue(t, store, m)
		mock.FailNext("111", &services.ProviderError{StatusCode: http.StatusTooManyRequests})

		res, err := flow.ProcessDueScheduledMessages(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)

		got, err := store.ScheduledMessages().ByID(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ScheduledMessageStatusFailed, got.Status)
		assert.Equal(t, 2, got.RetryCount)
	})

	t.Run("message stuck in sending is failed, not resent", func(t *testing.T) {
		store, mock, flow := newScheduledMessageFixture()
		stuck := saveDue(t, store, textMessage(111, "hello"))
		recent := saveDue(t, store, textMessage(222, "hello"))
		for _, m := range []*models.ScheduledMessage{stuck, recent} {
			ok, err := store.ScheduledMessages().TransitionStatus(ctx, m.ID, models.ScheduledMessageStatusPending, models.ScheduledMessageStatusSending, nil)
			require.NoError(t, err)
			require.True(t, ok)
		}
		store.AgeScheduledMessage(stuck.ID, utils.ScheduledMessageSendingTimeout+time.Minute)

		res, err := flow.ProcessDueScheduledMessages(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Recovered)
		assert.Zero(t, res.Processed)
		assert.Empty(t, mock.GetSentMessages())

		got := store.ScheduledMessage(stuck.ID)
		assert.Equal(t, models.ScheduledMessageStatusFailed, got.Status)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, MessageInterruptedError, *got.ErrorMessage)
		assert.Equal(t, models.ScheduledMessageStatusSending, store.ScheduledMessage(recent.ID).Status)
	})

	t.Run("failing to mark a message sent is an error, not a send", func(t *testing.T) {
		store, mock, flow := newScheduledMessageFixture()
		msg := saveDue(t, store, textMessage(111, "hello"))
		store.FailMessageTransition = errors.New("connection reset")
		store.FailMessageTransitionTo = models.ScheduledMessageStatusSent

		res, err := flow.ProcessDueScheduledMessages(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Processed)
		assert.Zero(t, res.Sent)
		assert.Equal(t, 1, res.Errors)
		assert.Len(t, mock.GetSentMessages(), 1)
		assert.Equal(t, models.ScheduledMessageStatusSending, store.ScheduledMessage(msg.ID).Status)

		// once stuck long enough the message is closed out without a second send
		store.FailMessageTransition = nil
		store.AgeScheduledMessage(msg.ID, utils.ScheduledMessageSendingTimeout+time.Minute)
		res, err = flow.ProcessDueScheduledMessages(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Recovered)
		assert.Len(t, mock.GetSentMessages(), 1)
		assert.Equal(t, models.ScheduledMessageStatusFailed, store.ScheduledMessage(msg.ID).Status)
	})

	t.Run("concurrent runs send each message once", func(t *testing.T) {
		store, mock, flow := newScheduledMessageFixture()
		for i := 0; i < 20; i++ {
			saveDue(t, store, textMessage(int64(1000+i), "hi"))
		}

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := flow.ProcessDueScheduledMessages(ctx)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		sent := mock.GetSentMessages()
		assert.Len(t, sent, 20)
		seen := make(map[string]bool)
		for _, m := range sent {
			assert.False(t, seen[m.To], "sent twice to %s", m.To)
			seen[m.To] = true
		}
	})
}

func TestCancelAndListScheduledMessages(t *testing.T) {
	ctx := context.Background()
	store, _, flow := newScheduledMessageFixture()

	future := textMessage(111, "later")
	future.ScheduledAt = utils.UTCNow().Add(time.Hour)
	pending := saveDue(t, store, future)
	due := saveDue(t, store, textMessage(222, "now"))

	_, err := flow.ProcessDueScheduledMessages(ctx)
	require.NoError(t, err)

	resp, err := flow.CancelScheduledMessage(ctx, pending.UUID.String())
	require.NoError(t, err)
	assert.Equal(t, "cancelled", resp.Status)

	_, err = flow.CancelScheduledMessage(ctx, due.UUID.String())
	assert.True(t, IsScheduledMessageNotCancellable(err))

	_, err = flow.GetScheduledMessage(ctx, "7d8c9e61-0e6f-4a4f-bb42-16c3a1a1d2f0")
	assert.True(t, IsScheduledMessageNotFound(err))

	status := "sent"
	list, err := flow.ListScheduledMessages(ctx, &dto.ListScheduledMessagesRequest{Status: &status})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, due.UUID.String(), list.Items[0].UUID)

	all, err := flow.ListScheduledMessages(ctx, &dto.ListScheduledMessagesRequest{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, all.Pagination.Total)
	assert.Equal(t, pending.UUID.String(), all.Items[0].UUID)
}

func TestMessageRetryDelay(t *testing.T) {
	assert.Equal(t, time.Minute, messageRetryDelay(time.Minute, 1))
	assert.Equal(t, 4*time.Minute, messageRetryDelay(time.Minute, 3))
	assert.Equal(t, time.Hour, messageRetryDelay(time.Minute, 10))
}
