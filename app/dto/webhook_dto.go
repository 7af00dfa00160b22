package dto

// WhatsAppWebhookPayload is the body of a WhatsApp Business webhook notification
type WhatsAppWebhookPayload struct {
	Object string                 `json:"object"`
	Entry  []WhatsAppWebhookEntry `json:"entry"`
}

type WhatsAppWebhookEntry struct {
	ID      string                  `json:"id"`
	Changes []WhatsAppWebhookChange `json:"changes"`
}

type WhatsAppWebhookChange struct {
	Field string               `json:"field"`
	Value WhatsAppWebhookValue `json:"value"`
}

type WhatsAppWebhookValue struct {
	MessagingProduct string                    `json:"messaging_product"`
	Statuses         []WhatsAppMessageStatus   `json:"statuses,omitempty"`
	Messages         []WhatsAppInboundMessage  `json:"messages,omitempty"`
	Errors           []WhatsAppWebhookAPIError `json:"errors,omitempty"`
}

// WhatsAppMessageStatus reports sent, delivered, read or failed for an outbound message
type WhatsAppMessageStatus struct {
	ID          string                    `json:"id"`
	Status      string                    `json:"status"`
	Timestamp   string                    `json:"timestamp"`
	RecipientID string                    `json:"recipient_id"`
	Errors      []WhatsAppWebhookAPIError `json:"errors,omitempty"`
}

// WhatsAppInboundMessage is a message from a contact. Context.ID names the message it replies to.
type WhatsAppInboundMessage struct {
	From      string                  `json:"from"`
	ID        string                  `json:"id"`
	Timestamp string                  `json:"timestamp"`
	Type      string                  `json:"type"`
	Context   *WhatsAppMessageContext `json:"context,omitempty"`
}

type WhatsAppMessageContext struct {
	From string `json:"from,omitempty"`
	ID   string `json:"id"`
}

type WhatsAppWebhookAPIError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}
