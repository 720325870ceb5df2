// This file wraps the Messenger Send API.

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultGraphBaseURL is the Messenger Graph API endpoint prefix.
const DefaultGraphBaseURL = "https://graph.facebook.com/v18.0"

// DefaultSendTimeout bounds each outbound send call.
const DefaultSendTimeout = 15 * time.Second

// MessengerOpts holds configuration options for the Messenger client.
type MessengerOpts struct {
	PageToken  string
	BaseURL    string
	HTTPClient *http.Client
}

// MessengerOption defines a configuration option for the Messenger client.
type MessengerOption func(*MessengerOpts)

// WithPageToken sets the page access token used for sends.
func WithPageToken(token string) MessengerOption {
	return func(o *MessengerOpts) { o.PageToken = token }
}

// WithBaseURL overrides the Graph API base URL (used in tests).
func WithBaseURL(base string) MessengerOption {
	return func(o *MessengerOpts) { o.BaseURL = base }
}

// WithHTTPClient injects a custom HTTP client.
func WithHTTPClient(c *http.Client) MessengerOption {
	return func(o *MessengerOpts) { o.HTTPClient = c }
}

// Messenger sends messages through the Messenger Send API. When no page
// token is configured, sends are logged and skipped so the bot can run
// locally without platform credentials.
type Messenger struct {
	pageToken string
	baseURL   string
	client    *http.Client
}

// NewMessenger creates a Messenger Send API client.
func NewMessenger(opts ...MessengerOption) *Messenger {
	var cfg MessengerOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGraphBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultSendTimeout}
	}
	slog.Debug("Messenger client config loaded", "pageToken_set", cfg.PageToken != "", "baseURL", cfg.BaseURL)
	return &Messenger{
		pageToken: cfg.PageToken,
		baseURL:   cfg.BaseURL,
		client:    cfg.HTTPClient,
	}
}

type sendPayload struct {
	Recipient recipient   `json:"recipient"`
	Message   interface{} `json:"message"`
}

type recipient struct {
	ID string `json:"id"`
}

type textMessage struct {
	Text string `json:"text"`
}

type attachmentMessage struct {
	Attachment attachment `json:"attachment"`
}

type attachment struct {
	Type    string         `json:"type"`
	Payload buttonTemplate `json:"payload"`
}

type buttonTemplate struct {
	TemplateType string           `json:"template_type"`
	Text         string           `json:"text"`
	Buttons      []templateButton `json:"buttons"`
}

type templateButton struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// SendText sends a plain text message.
func (m *Messenger) SendText(ctx context.Context, to string, body string) error {
	return m.post(ctx, to, sendPayload{
		Recipient: recipient{ID: to},
		Message:   textMessage{Text: body},
	})
}

// SendButtons sends a button template message.
func (m *Messenger) SendButtons(ctx context.Context, to string, body string, buttons []Button) error {
	tb := make([]templateButton, 0, len(buttons))
	for _, b := range buttons {
		tb = append(tb, templateButton{Type: "postback", Title: b.Title, Payload: b.Payload})
	}
	return m.post(ctx, to, sendPayload{
		Recipient: recipient{ID: to},
		Message: attachmentMessage{Attachment: attachment{
			Type: "template",
			Payload: buttonTemplate{
				TemplateType: "button",
				Text:         body,
				Buttons:      tb,
			},
		}},
	})
}

func (m *Messenger) post(ctx context.Context, to string, payload sendPayload) error {
	if m.pageToken == "" {
		slog.Warn("Messenger page token not set, skipping send", "to", to)
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal send payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/me/messages?access_token=%s", m.baseURL, url.QueryEscape(m.pageToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		slog.Error("Messenger send failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("Messenger send rejected", "to", to, "status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("send to %s rejected with status %d", to, resp.StatusCode)
	}

	slog.Debug("Messenger message sent", "to", to)
	return nil
}

// Compile-time check that Messenger implements Service.
var _ Service = (*Messenger)(nil)
