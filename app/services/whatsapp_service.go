// Package services provides external service integrations such as the WhatsApp Cloud API client
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/amirphl/whatsapp-broadcast/config"
)

// ErrTemplateNotFound is returned when no APPROVED template matches name and language
var ErrTemplateNotFound = errors.New("no approved message template found")

const templateStatusApproved = "APPROVED"

// MessageTemplate is a template as listed by the WhatsApp Business Account API
type MessageTemplate struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Language   string          `json:"language"`
	Status     string          `json:"status"`
	Category   string          `json:"category,omitempty"`
	Components json.RawMessage `json:"components,omitempty"`
}

// TemplateLanguage is the language block of a template message
type TemplateLanguage struct {
	Code string `json:"code"`
}

// TemplateRequest is the template block of an outbound template message
type TemplateRequest struct {
	Name       string           `json:"name"`
	Language   TemplateLanguage `json:"language"`
	Components json.RawMessage  `json:"components,omitempty"`
}

// Request builds the send payload for the template. Broadcast templates carry no per-recipient parameters.
func (t *MessageTemplate) Request() TemplateRequest {
	return TemplateRequest{
		Name:     t.Name,
		Language: TemplateLanguage{Code: t.Language},
	}
}

// TextBody is the text block of an outbound text message
type TextBody struct {
	Body string `json:"body"`
}

// OutboundMessage is the body posted to the messages endpoint
type OutboundMessage struct {
	MessagingProduct string           `json:"messaging_product"`
	RecipientType    string           `json:"recipient_type"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             *TextBody        `json:"text,omitempty"`
	Template         *TemplateRequest `json:"template,omitempty"`
}

// ProviderError is a non-2xx answer from the Graph API
type ProviderError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("whatsapp api error: status=%d code=%d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("whatsapp api error: status=%d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the same request may succeed later
func (e *ProviderError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTemporaryProviderError reports whether err is worth another attempt.
// Transport errors count as temporary; cancellation does not.
func IsTemporaryProviderError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	return !errors.Is(err, ErrTemplateNotFound)
}

// TemplateProvider resolves approved message templates
type TemplateProvider interface {
	GetTemplate(ctx context.Context, name, language string) (*MessageTemplate, error)
}

// MessagingProvider sends messages and returns the provider message id
type MessagingProvider interface {
	SendTemplateMessage(ctx context.Context, to string, template TemplateRequest) (string, error)
	SendTextMessage(ctx context.Context, to, body string) (string, error)
}

// WhatsAppService is the full Cloud API surface used by the application
type WhatsAppService interface {
	TemplateProvider
	MessagingProvider
}

// WhatsAppServiceImpl talks to the Graph API over HTTP
type WhatsAppServiceImpl struct {
	config *config.WhatsAppConfig
	client *http.Client
}

// NewWhatsAppService creates a new Graph API client
func NewWhatsAppService(cfg *config.WhatsAppConfig) WhatsAppService {
	return &WhatsAppServiceImpl{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// GetTemplate returns the approved template matching name and language exactly
func (s *WhatsAppServiceImpl) GetTemplate(ctx context.Context, name, language string) (*MessageTemplate, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/message_templates",
		strings.TrimRight(s.config.APIBaseURL, "/"), s.config.TemplateAPIVersion, s.config.BusinessAccountID)
	params := url.Values{}
	params.Set("name", name)
	params.Set("language", language)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.AccessToken)

	var out struct {
		Data []MessageTemplate `json:"data"`
	}
	if err := s.do(req, &out); err != nil {
		return nil, err
	}

	for i := range out.Data {
		t := out.Data[i]
		if t.Name == name && t.Language == language && t.Status == templateStatusApproved {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: name=%s language=%s", ErrTemplateNotFound, name, language)
}

// SendTemplateMessage sends a template message to a single recipient
func (s *WhatsAppServiceImpl) SendTemplateMessage(ctx context.Context, to string, template TemplateRequest) (string, error) {
	return s.send(ctx, OutboundMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "template",
		Template:         &template,
	})
}

// SendTextMessage sends a plain text message to a single recipient
func (s *WhatsAppServiceImpl) SendTextMessage(ctx context.Context, to, body string) (string, error) {
	return s.send(ctx, OutboundMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &TextBody{Body: body},
	})
}

func (s *WhatsAppServiceImpl) send(ctx context.Context, msg OutboundMessage) (string, error) {
	requestBody, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/messages",
		strings.TrimRight(s.config.APIBaseURL, "/"), s.config.MessagesAPIVersion, s.config.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.AccessToken)

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := s.do(req, &out); err != nil {
		return "", err
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", fmt.Errorf("whatsapp api returned no message id")
	}
	return out.Messages[0].ID, nil
}

// do executes req and decodes a 2xx JSON body into out
func (s *WhatsAppServiceImpl) do(req *http.Request, out any) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseProviderError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode whatsapp api response: %w", err)
	}
	return nil
}

func parseProviderError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	pe := &ProviderError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(bodyBytes))}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(bodyBytes, &envelope) == nil && envelope.Error.Message != "" {
		pe.Message = envelope.Error.Message
		pe.Code = envelope.Error.Code
	}
	return pe
}
