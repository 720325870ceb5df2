package messaging

import (
	"context"
	"sync"
)

// SentMessage records one outbound message for test assertions.
type SentMessage struct {
	To      string
	Body    string
	Buttons []Button
}

// MockService records sent messages instead of delivering them.
type MockService struct {
	mu   sync.Mutex
	Sent []SentMessage

	// FailNext makes the next send return this error, then resets.
	FailNext error
}

// NewMockService creates an empty mock messaging service.
func NewMockService() *MockService {
	return &MockService{}
}

// SendText records a text send.
func (m *MockService) SendText(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailNext; err != nil {
		m.FailNext = nil
		return err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}

// SendButtons records a button send.
func (m *MockService) SendButtons(ctx context.Context, to string, body string, buttons []Button) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailNext; err != nil {
		m.FailNext = nil
		return err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body, Buttons: buttons})
	return nil
}

// Last returns the most recent sent message, or nil if none were sent.
func (m *MockService) Last() *SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return nil
	}
	out := m.Sent[len(m.Sent)-1]
	return &out
}

// Count returns how many messages were sent.
func (m *MockService) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// Compile-time check that MockService implements Service.
var _ Service = (*MockService)(nil)
