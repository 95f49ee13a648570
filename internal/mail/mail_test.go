package mail

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPSender_SendMagicLink(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587, From: "noreply@wildid.app"})
	s.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		assert.Equal(t, "noreply@wildid.app", from)
		return nil
	}

	require.NoError(t, s.SendMagicLink(context.Background(), "ranger@example.com", "https://wildid.app/auth/verify?token=abc", 15))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"ranger@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Your WildID sign-in link\r\n")
	assert.Contains(t, gotMsg, "https://wildid.app/auth/verify?token=abc")
	assert.Contains(t, gotMsg, "expires in 15 minutes")
}

func TestSMTPSender_HeaderInjection(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{From: "noreply@wildid.app"})
	msg := string(s.message("victim@example.com\r\nBcc: all@example.com", "link", 15))
	assert.NotContains(t, msg, "\r\nBcc:")
}

func TestSMTPSender_PropagatesErrors(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 25})
	s.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("connection refused") }

	err := s.SendMagicLink(context.Background(), "a@b.co", "link", 15)
	assert.ErrorContains(t, err, "connection refused")
}
