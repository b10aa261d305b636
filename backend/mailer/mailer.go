// Package mailer sends plain-text mail through SMTP, or logs it when no
// SMTP server is configured.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/PhilHem/go-file-vault/backend/config"

	"gopkg.in/gomail.v2"
)

type Message struct {
	From    string // empty means the configured default sender
	To      []string
	Subject string
	Body    string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// dialer is the part of *gomail.Dialer the SMTP sender uses.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTP struct {
	dialer dialer
	from   string
}

// NewSMTP builds a gomail-backed sender. UseSSL selects implicit TLS;
// otherwise gomail upgrades with STARTTLS whenever the server offers it.
func NewSMTP(cfg config.MailConfig) *SMTP {
	d := gomail.NewDialer(cfg.Server, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.UseSSL
	d.TLSConfig = &tls.Config{ServerName: cfg.Server, MinVersion: tls.VersionTLS12}
	if !cfg.UseTLS && !cfg.UseSSL {
		slog.Warn("mail use_tls is off; STARTTLS is still used if the server offers it", "source", "mailer")
	}
	return &SMTP{dialer: d, from: cfg.DefaultSender}
}

// New returns the SMTP sender when a server is configured and a LogSender otherwise.
func New(cfg config.MailConfig) Sender {
	if cfg.Server == "" {
		slog.Warn("no mail server configured, mail will only be logged", "source", "mailer")
		return LogSender{From: cfg.DefaultSender}
	}
	return NewSMTP(cfg)
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := s.compose(msg)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (s *SMTP) compose(msg Message) *gomail.Message {
	from := msg.From
	if from == "" {
		from = s.from
	}
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	return m
}

// LogSender writes messages to the log instead of delivering them. The body
// is only logged at debug level.
type LogSender struct {
	From string
}

func (l LogSender) Send(ctx context.Context, msg Message) error {
	from := msg.From
	if from == "" {
		from = l.From
	}
	slog.WarnContext(ctx, "mail not delivered, no mail server", "source", "mailer", "from", from, "to", msg.To, "subject", msg.Subject)
	slog.DebugContext(ctx, "undelivered mail body", "source", "mailer", "to", msg.To, "body", msg.Body)
	return nil
}
