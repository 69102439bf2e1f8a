package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klenai/stonecare/internal/domain/providers"
	"github.com/klenai/stonecare/pkg/config"
	apperrors "github.com/klenai/stonecare/pkg/errors"
)

// TelnyxSender sends SMS and places voice calls via the Telnyx API.
type TelnyxSender struct {
	apiKey          string
	messagingNumber string
	voiceAppID      string
	httpClient      *http.Client
	baseURL         string
}

var _ providers.MessageSender = (*TelnyxSender)(nil)

// NewTelnyxSender creates a Telnyx-backed sender.
func NewTelnyxSender(cfg *config.TelnyxConfig) (*TelnyxSender, error) {
	if cfg.APIKey == "" || cfg.MessagingNumber == "" {
		return nil, fmt.Errorf("TELNYX_API_KEY and TELNYX_MESSAGING_NUMBER must be set")
	}

	return &TelnyxSender{
		apiKey:          cfg.APIKey,
		messagingNumber: cfg.MessagingNumber,
		voiceAppID:      cfg.VoiceAppID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: "https://api.telnyx.com/v2",
	}, nil
}

type telnyxMessageRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
	Type string `json:"type"`
}

type telnyxCallRequest struct {
	ConnectionID string `json:"connection_id"`
	From         string `json:"from"`
	To           string `json:"to"`
	// Payload is read aloud by text-to-speech once the call is answered.
	Payload string `json:"payload"`
}

type telnyxResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// SendSMS delivers a text message to a phone number.
func (t *TelnyxSender) SendSMS(ctx context.Context, to string, message string) error {
	payload := telnyxMessageRequest{
		From: t.messagingNumber,
		To:   to,
		Text: message,
		Type: "SMS",
	}
	return t.post(ctx, "/messages", payload)
}

// StartCall places an automated voice call reading the message.
func (t *TelnyxSender) StartCall(ctx context.Context, to string, message string) error {
	if t.voiceAppID == "" {
		return apperrors.NewTransportFailureError("voice calls are not configured", nil)
	}
	payload := telnyxCallRequest{
		ConnectionID: t.voiceAppID,
		From:         t.messagingNumber,
		To:           to,
		Payload:      message,
	}
	return t.post(ctx, "/calls", payload)
}

func (t *TelnyxSender) post(ctx context.Context, path string, payload interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return apperrors.NewTransportFailureError("failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return apperrors.NewTransportFailureError("failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return apperrors.NewTransportFailureError("request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewTransportFailureError("failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var parsed telnyxResponse
		if json.Unmarshal(body, &parsed) == nil && len(parsed.Errors) > 0 {
			return apperrors.NewTransportFailureError(
				fmt.Sprintf("telnyx error (status %d): %s", resp.StatusCode, parsed.Errors[0].Title), nil)
		}
		return apperrors.NewTransportFailureError(
			fmt.Sprintf("telnyx error (status %d): %s", resp.StatusCode, string(body)), nil)
	}
	return nil
}
