package providers

import "context"

// MessageSender is the outbound SMS/voice transport. A returned error is
// terminal for the action being sent; retry policy belongs to the caller.
type MessageSender interface {
	// SendSMS delivers a text message to a phone number
	SendSMS(ctx context.Context, to string, message string) error

	// StartCall places an automated voice call reading the message
	StartCall(ctx context.Context, to string, message string) error
}
