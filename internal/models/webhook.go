// This file defines webhook payload structures for the messaging platform.

package models

import "fmt"

// WebhookPayload is the top-level body of an inbound webhook POST.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry groups messaging events delivered in one webhook call.
type WebhookEntry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []MessagingEvent `json:"messaging"`
}

// MessagingEvent is a single inbound event: either a message or a postback.
type MessagingEvent struct {
	Sender    Principal       `json:"sender"`
	Recipient Principal       `json:"recipient"`
	Timestamp int64           `json:"timestamp"`
	Message   *InboundMessage `json:"message,omitempty"`
	Postback  *Postback       `json:"postback,omitempty"`
}

// Principal identifies a messaging participant by its opaque platform id.
type Principal struct {
	ID string `json:"id"`
}

// InboundMessage carries a user text message and its transport-level id.
type InboundMessage struct {
	MID    string `json:"mid"`
	Text   string `json:"text"`
	IsEcho bool   `json:"is_echo,omitempty"`
}

// Postback carries a button payload.
type Postback struct {
	Payload string `json:"payload"`
	Title   string `json:"title,omitempty"`
}

// Text returns the effective input text of the event: message text for
// messages, payload for postbacks. Empty for echoes and malformed events.
func (e *MessagingEvent) Text() string {
	if e.Message != nil && !e.Message.IsEcho {
		return e.Message.Text
	}
	if e.Postback != nil {
		return e.Postback.Payload
	}
	return ""
}

// MessageID returns the transport-level identifier used for deduplication.
// Postbacks carry no mid, so a synthetic id is derived from the sender and
// the delivery timestamp.
func (e *MessagingEvent) MessageID() string {
	if e.Message != nil {
		return e.Message.MID
	}
	if e.Postback != nil && e.Sender.ID != "" {
		return fmt.Sprintf("pb:%s:%d", e.Sender.ID, e.Timestamp)
	}
	return ""
}
