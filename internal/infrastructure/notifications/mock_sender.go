package notifications

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/klenai/stonecare/internal/domain/providers"
)

// SentMessage records one delivery made through the mock sender.
type SentMessage struct {
	To      string
	Message string
	Channel string
}

// MockSender logs outbound messages instead of delivering them. It is the
// default transport in development so the dispatcher can be exercised
// without a Telnyx account; tests inspect Sent to assert on deliveries.
type MockSender struct {
	mu   sync.Mutex
	sent []SentMessage

	// Err, when set, is returned from every send.
	Err error
}

var _ providers.MessageSender = (*MockSender)(nil)

func NewMockSender() *MockSender {
	return &MockSender{}
}

func (m *MockSender) SendSMS(ctx context.Context, to string, message string) error {
	return m.record(ctx, to, message, "sms")
}

func (m *MockSender) StartCall(ctx context.Context, to string, message string) error {
	return m.record(ctx, to, message, "voice")
}

func (m *MockSender) record(ctx context.Context, to, message, channel string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	m.sent = append(m.sent, SentMessage{To: to, Message: message, Channel: channel})
	m.mu.Unlock()

	log.Ctx(ctx).Info().
		Str("channel", channel).
		Str("to", to).
		Str("message", message).
		Msg("mock delivery")
	return nil
}

// Sent returns a copy of every message recorded so far.
func (m *MockSender) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
