// Package alerts raises operator notifications with per-type cooldown and
// level-based transport fan-out: ERROR and above go to email, CRITICAL also
// goes to SMS. Transport failures are logged, never returned.
package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level is the alert severity.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Alert is one raised notification.
type Alert struct {
	Type    string                 `json:"type"`
	Level   Level                  `json:"level"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	RaisedAt time.Time             `json:"raised_at"`
}

// EmailTransport delivers an alert by email.
type EmailTransport interface {
	SendAlert(subject, body string) error
}

// SMSTransport delivers an alert by SMS.
type SMSTransport interface {
	SendSMS(message string) error
}

// Service manages cooldowns, history, and transport fan-out.
type Service struct {
	email    EmailTransport
	sms      SMSTransport
	cooldown time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
	history  []Alert
}

// NewService creates the alert service. Either transport may be nil.
func NewService(email EmailTransport, sms SMSTransport, cooldown time.Duration, log zerolog.Logger) *Service {
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Service{
		email:    email,
		sms:      sms,
		cooldown: cooldown,
		log:      log.With().Str("component", "alerts").Logger(),
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// Raise records and dispatches an alert. Duplicates of the same type within
// the cooldown are suppressed unless force is set. Returns whether the alert
// was dispatched.
func (s *Service) Raise(level Level, alertType, message string, details map[string]interface{}, force bool) bool {
	now := s.now().UTC()

	s.mu.Lock()
	if !force {
		if last, seen := s.lastSent[alertType]; seen && now.Sub(last) < s.cooldown {
			s.mu.Unlock()
			s.log.Debug().Str("type", alertType).Msg("alert suppressed by cooldown")
			return false
		}
	}
	s.lastSent[alertType] = now
	alert := Alert{
		Type:     alertType,
		Level:    level,
		Message:  message,
		Details:  details,
		RaisedAt: now,
	}
	s.history = append(s.history, alert)
	s.mu.Unlock()

	event := s.log.WithLevel(zerologLevel(level)).
		Str("type", alertType).
		Str("alert_level", level.String())
	for k, v := range details {
		event = event.Interface(k, v)
	}
	event.Msg(message)

	s.dispatch(alert)
	return true
}

// Info raises an informational alert.
func (s *Service) Info(alertType, message string, details map[string]interface{}) {
	s.Raise(LevelInfo, alertType, message, details, false)
}

// Warning raises a warning alert.
func (s *Service) Warning(alertType, message string, details map[string]interface{}) {
	s.Raise(LevelWarning, alertType, message, details, false)
}

// Error raises an error alert.
func (s *Service) Error(alertType, message string, details map[string]interface{}) {
	s.Raise(LevelError, alertType, message, details, false)
}

// Critical raises a critical alert, bypassing the cooldown.
func (s *Service) Critical(alertType, message string, details map[string]interface{}) {
	s.Raise(LevelCritical, alertType, message, details, true)
}

// History returns a copy of the raised alerts, newest last.
func (s *Service) History() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, len(s.history))
	copy(out, s.history)
	return out
}

// dispatch fans out to the transports. Failures are logged only.
func (s *Service) dispatch(alert Alert) {
	if alert.Level >= LevelError && s.email != nil {
		subject := fmt.Sprintf("[%s] %s", alert.Level, alert.Type)
		body := alert.Message
		for k, v := range alert.Details {
			body += fmt.Sprintf("\n%s: %v", k, v)
		}
		if err := s.email.SendAlert(subject, body); err != nil {
			s.log.Warn().Err(err).Str("type", alert.Type).Msg("email alert delivery failed")
		}
	}

	if alert.Level >= LevelCritical && s.sms != nil {
		if err := s.sms.SendSMS(fmt.Sprintf("[CRITICAL] %s: %s", alert.Type, alert.Message)); err != nil {
			s.log.Warn().Err(err).Str("type", alert.Type).Msg("sms alert delivery failed")
		}
	}
}

func zerologLevel(level Level) zerolog.Level {
	switch level {
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarning:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
