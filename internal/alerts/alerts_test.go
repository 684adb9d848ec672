package alerts

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentiment-trading-bot/config"
	"sentiment-trading-bot/internal/logging"
)

type fakeEmail struct {
	sent []string
	err  error
}

func (f *fakeEmail) SendAlert(subject, _ string) error {
	f.sent = append(f.sent, subject)
	return f.err
}

type fakeSMS struct {
	sent []string
	err  error
}

func (f *fakeSMS) SendSMS(message string) error {
	f.sent = append(f.sent, message)
	return f.err
}

func TestCooldownSuppressesDuplicates(t *testing.T) {
	s := NewService(nil, nil, time.Minute, logging.Nop())

	assert.True(t, s.Raise(LevelWarning, "price_stale", "quote is stale", nil, false))
	assert.False(t, s.Raise(LevelWarning, "price_stale", "quote is stale", nil, false))

	// A different type has its own cooldown.
	assert.True(t, s.Raise(LevelWarning, "news_empty", "no articles", nil, false))

	// After the cooldown passes, the type fires again.
	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.True(t, s.Raise(LevelWarning, "price_stale", "quote is stale", nil, false))
}

func TestForceBypassesCooldown(t *testing.T) {
	s := NewService(nil, nil, time.Hour, logging.Nop())

	assert.True(t, s.Raise(LevelError, "stop_loss", "triggered", nil, true))
	assert.True(t, s.Raise(LevelError, "stop_loss", "triggered again", nil, true))
	assert.False(t, s.Raise(LevelError, "stop_loss", "not forced", nil, false))
}

func TestTransportFanOutByLevel(t *testing.T) {
	email := &fakeEmail{}
	sms := &fakeSMS{}
	s := NewService(email, sms, time.Minute, logging.Nop())

	s.Info("startup", "system up", nil)
	s.Warning("cache_degraded", "redis down", nil)
	assert.Empty(t, email.sent, "info and warning stay off email")
	assert.Empty(t, sms.sent)

	s.Error("trade_failed", "order rejected", map[string]interface{}{"symbol": "005930"})
	assert.Len(t, email.sent, 1)
	assert.Empty(t, sms.sent, "errors do not page")

	s.Critical("emergency_stop", "trading halted", nil)
	assert.Len(t, email.sent, 2)
	require.Len(t, sms.sent, 1)
	assert.Contains(t, sms.sent[0], "CRITICAL")
}

func TestTransportFailuresNeverRaise(t *testing.T) {
	email := &fakeEmail{err: errors.New("smtp down")}
	sms := &fakeSMS{err: errors.New("gateway down")}
	s := NewService(email, sms, time.Minute, logging.Nop())

	assert.NotPanics(t, func() {
		dispatched := s.Raise(LevelCritical, "emergency_stop", "halted", nil, true)
		assert.True(t, dispatched)
	})
}

func TestHistoryIsAppendOnly(t *testing.T) {
	s := NewService(nil, nil, time.Minute, logging.Nop())

	s.Info("a", "first", nil)
	s.Critical("b", "second", map[string]interface{}{"k": 1})

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, "a", history[0].Type)
	assert.Equal(t, LevelCritical, history[1].Level)

	// Mutating the returned slice leaves internal state untouched.
	history[0].Type = "tampered"
	assert.Equal(t, "a", s.History()[0].Type)
}

func TestWebhookSMS(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sms := NewWebhookSMS(config.AlertConfig{
		SMSWebhookURL: srv.URL,
		SMSRecipient:  "+821012345678",
	})
	require.True(t, sms.Configured())
	require.NoError(t, sms.SendSMS("trading halted"))
	assert.Equal(t, "+821012345678", received["to"])
	assert.Equal(t, "trading halted", received["message"])
}

func TestWebhookSMSErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	sms := NewWebhookSMS(config.AlertConfig{SMSWebhookURL: srv.URL, SMSRecipient: "x"})
	assert.Error(t, sms.SendSMS("m"))
}

func TestSMTPMailerConfigured(t *testing.T) {
	m := NewSMTPMailer(config.AlertConfig{}, "")
	assert.False(t, m.Configured())
	assert.Error(t, m.SendAlert("s", "b"))

	m = NewSMTPMailer(config.AlertConfig{
		SMTPHost: "smtp.example.com",
		SMTPPort: "587",
		SMTPFrom: "bot@example.com",
	}, "ops@example.com")
	assert.True(t, m.Configured())
}
