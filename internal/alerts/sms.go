package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sentiment-trading-bot/config"
)

// WebhookSMS posts critical alerts to an SMS gateway webhook.
type WebhookSMS struct {
	cfg        config.AlertConfig
	httpClient *http.Client
}

// NewWebhookSMS creates the SMS transport.
func NewWebhookSMS(cfg config.AlertConfig) *WebhookSMS {
	return &WebhookSMS{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Configured reports whether the webhook settings are present.
func (s *WebhookSMS) Configured() bool {
	return s.cfg.SMSWebhookURL != "" && s.cfg.SMSRecipient != ""
}

// SendSMS posts one message to the gateway.
func (s *WebhookSMS) SendSMS(message string) error {
	if !s.Configured() {
		return fmt.Errorf("sms transport not configured")
	}

	body, err := json.Marshal(map[string]string{
		"to":      s.cfg.SMSRecipient,
		"message": message,
	})
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Post(s.cfg.SMSWebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sms webhook failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms webhook returned %d", resp.StatusCode)
	}
	return nil
}
