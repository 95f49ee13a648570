// Package mail delivers magic-link emails.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
)

// Sender delivers a sign-in link to an address.
type Sender interface {
	SendMagicLink(ctx context.Context, to, link string, expiresInMinutes int) error
}

// LogSender writes links to the log instead of sending them. It is used when
// no SMTP host is configured.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) SendMagicLink(_ context.Context, to, link string, expiresInMinutes int) error {
	s.log.Warn().Str("to", to).Str("link", link).Int("expires_in_minutes", expiresInMinutes).
		Msg("SMTP not configured, magic link logged instead of sent")
	return nil
}

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends plain-text mail through an SMTP relay.
type SMTPSender struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, send: smtp.SendMail}
}

func (s *SMTPSender) SendMagicLink(_ context.Context, to, link string, expiresInMinutes int) error {
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	if err := s.send(addr, auth, s.cfg.From, []string{to}, s.message(to, link, expiresInMinutes)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTPSender) message(to, link string, expiresInMinutes int) []byte {
	var buf bytes.Buffer
	header := func(k, v string) {
		buf.WriteString(k + ": " + strings.NewReplacer("\r", "", "\n", "").Replace(v) + "\r\n")
	}
	header("From", s.cfg.From)
	header("To", to)
	header("Subject", "Your WildID sign-in link")
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=UTF-8")
	buf.WriteString("\r\n")
	fmt.Fprintf(&buf, "Click the link below to sign in to WildID:\r\n\r\n%s\r\n\r\n", link)
	fmt.Fprintf(&buf, "The link expires in %d minutes and can be used once.\r\n", expiresInMinutes)
	buf.WriteString("If you did not request it, you can ignore this email.\r\n")
	return buf.Bytes()
}
