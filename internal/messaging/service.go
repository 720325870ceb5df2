// Package messaging provides outbound message delivery for tripbot.
package messaging

import "context"

// Button is a selectable quick-reply option rendered by the transport.
type Button struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// SendText sends a plain text message to a recipient.
	SendText(ctx context.Context, to string, body string) error

	// SendButtons sends a message with selectable buttons. Transports
	// without button support render them as numbered text options.
	SendButtons(ctx context.Context, to string, body string, buttons []Button) error
}
