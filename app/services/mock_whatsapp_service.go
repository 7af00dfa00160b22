package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MockWhatsAppMessage is a message recorded by MockWhatsAppService
type MockWhatsAppMessage struct {
	To        string
	Type      string
	Template  *TemplateRequest
	Body      string
	MessageID string
}

// MockWhatsAppService is an in-process WhatsAppService for development and tests.
// Every configured template is returned as APPROVED.
type MockWhatsAppService struct {
	mu           sync.Mutex
	templates    map[string]*MessageTemplate
	failures     map[string][]error
	sentMessages []MockWhatsAppMessage
	templateHits int
	sendDelay    time.Duration
	seq          atomic.Int64
}

// NewMockWhatsAppService creates a mock that knows the given templates
func NewMockWhatsAppService(templates ...MessageTemplate) *MockWhatsAppService {
	m := &MockWhatsAppService{
		templates: make(map[string]*MessageTemplate),
		failures:  make(map[string][]error),
	}
	for i := range templates {
		m.AddTemplate(templates[i])
	}
	return m
}

func templateKey(name, language string) string {
	return language + "/" + name
}

// AddTemplate registers an approved template
func (m *MockWhatsAppService) AddTemplate(t MessageTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Status = templateStatusApproved
	if t.ID == "" {
		t.ID = fmt.Sprintf("tmpl-%s-%s", t.Language, t.Name)
	}
	m.templates[templateKey(t.Name, t.Language)] = &t
}

// FailNext queues errors returned by the next sends to `to`, one per attempt
func (m *MockWhatsAppService) FailNext(to string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[to] = append(m.failures[to], errs...)
}

// SetSendDelay makes every send take d, returning early when the context ends.
// A send cut off by its context is still recorded, like a request the provider already accepted.
func (m *MockWhatsAppService) SetSendDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendDelay = d
}

// GetTemplate returns a registered template
func (m *MockWhatsAppService) GetTemplate(ctx context.Context, name, language string) (*MessageTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templateHits++
	t, ok := m.templates[templateKey(name, language)]
	if !ok {
		return nil, fmt.Errorf("%w: name=%s language=%s", ErrTemplateNotFound, name, language)
	}
	cp := *t
	return &cp, nil
}

// SendTemplateMessage records a template message
func (m *MockWhatsAppService) SendTemplateMessage(ctx context.Context, to string, template TemplateRequest) (string, error) {
	return m.record(ctx, MockWhatsAppMessage{To: to, Type: "template", Template: &template})
}

// SendTextMessage records a text message
func (m *MockWhatsAppService) SendTextMessage(ctx context.Context, to, body string) (string, error) {
	return m.record(ctx, MockWhatsAppMessage{To: to, Type: "text", Body: body})
}

func (m *MockWhatsAppService) record(ctx context.Context, msg MockWhatsAppMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	delay := m.sendDelay
	m.mu.Unlock()

	var interrupted error
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			interrupted = ctx.Err()
		case <-t.C:
		}
		t.Stop()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if queued := m.failures[msg.To]; len(queued) > 0 {
		err := queued[0]
		m.failures[msg.To] = queued[1:]
		return "", err
	}

	msg.MessageID = fmt.Sprintf("wamid.mock.%d", m.seq.Add(1))
	m.sentMessages = append(m.sentMessages, msg)
	if interrupted != nil {
		return "", interrupted
	}
	return msg.MessageID, nil
}

// GetSentMessages returns a copy of all recorded messages
func (m *MockWhatsAppService) GetSentMessages() []MockWhatsAppMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockWhatsAppMessage, len(m.sentMessages))
	copy(out, m.sentMessages)
	return out
}

// ClearSentMessages clears all recorded messages
func (m *MockWhatsAppService) ClearSentMessages() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMessages = nil
}

// TemplateLookups returns how many times GetTemplate was called
func (m *MockWhatsAppService) TemplateLookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.templateHits
}
