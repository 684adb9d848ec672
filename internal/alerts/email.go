package alerts

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"sentiment-trading-bot/config"
)

// SMTPMailer delivers alert emails over SMTP. Port 465 uses implicit TLS;
// other ports use STARTTLS via the standard library's SendMail.
type SMTPMailer struct {
	cfg config.AlertConfig
	to  string
}

// NewSMTPMailer creates a mailer sending to the given recipient.
func NewSMTPMailer(cfg config.AlertConfig, to string) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, to: to}
}

// Configured reports whether the transport has enough settings to send.
func (m *SMTPMailer) Configured() bool {
	return m.cfg.SMTPHost != "" && m.cfg.SMTPFrom != "" && m.to != ""
}

// SendAlert sends one alert email.
func (m *SMTPMailer) SendAlert(subject, body string) error {
	if !m.Configured() {
		return fmt.Errorf("smtp transport not configured")
	}

	from := m.cfg.SMTPFrom
	fromHeader := from
	if m.cfg.SMTPFromName != "" {
		fromHeader = fmt.Sprintf("%s <%s>", m.cfg.SMTPFromName, from)
	}

	var msg strings.Builder
	msg.WriteString("From: " + fromHeader + "\r\n")
	msg.WriteString("To: " + m.to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")

	addr := m.cfg.SMTPHost + ":" + m.cfg.SMTPPort
	auth := smtp.PlainAuth("", m.cfg.SMTPUsername, m.cfg.SMTPPassword, m.cfg.SMTPHost)

	if m.cfg.SMTPPort == "465" {
		return m.sendTLS(addr, auth, from, []byte(msg.String()))
	}
	return smtp.SendMail(addr, auth, from, []string{m.to}, []byte(msg.String()))
}

// sendTLS handles SMTPS (implicit TLS), which smtp.SendMail does not.
func (m *SMTPMailer) sendTLS(addr string, auth smtp.Auth, from string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.cfg.SMTPHost})
	if err != nil {
		return fmt.Errorf("tls dial failed: %w", err)
	}

	client, err := smtp.NewClient(conn, m.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client failed: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth failed: %w", err)
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	if err := client.Rcpt(m.to); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
