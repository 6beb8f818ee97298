package mtaclient

import (
	"errors"
	"strings"
)

// EventMessageReply is the webhook event fired when a subscriber texts back.
const EventMessageReply = "message-reply"

// SendMessageRequest describes an outbound SMS.
type SendMessageRequest struct {
	To         string
	Body       string
	LongcodeID string
}

func (r SendMessageRequest) validate() error {
	if strings.TrimSpace(r.To) == "" {
		return errors.New("mtaclient: recipient is required")
	}
	if strings.TrimSpace(r.Body) == "" {
		return errors.New("mtaclient: message body is required")
	}
	return nil
}

// SendMessageResponse is the acknowledgement returned by POST /send.
type SendMessageResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// Template is a saved message template on the account.
type Template struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// RegisterWebhookRequest configures the inbound-reply webhook.
type RegisterWebhookRequest struct {
	Event      string `json:"event"`
	URL        string `json:"url"`
	Secret     string `json:"secret,omitempty"`
	AlertEmail string `json:"alertEmail,omitempty"`
}

func (r RegisterWebhookRequest) validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return errors.New("mtaclient: webhook url is required")
	}
	return nil
}

// Webhook is the registered webhook record returned by the API.
type Webhook struct {
	ID     int64  `json:"id"`
	Event  string `json:"event"`
	URL    string `json:"url"`
	Active bool   `json:"active"`
}
