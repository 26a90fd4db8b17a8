// Package notify delivers outbound messages: approval tokens to the approver
// mailbox and one-time codes to account holders. Delivery is best-effort;
// callers log and count failures but never roll back on them.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/vaultplay/storefront-auth/internal/config"
)

// Message is a single plain-text email.
type Message struct {
	To      string
	From    string
	Subject string
	Body    string
}

// Mailer sends a Message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// ErrNoRecipient is returned when a message has no To address.
var ErrNoRecipient = errors.New("message has no recipient")

// New returns an SMTPMailer when notifications are enabled, otherwise a LogMailer.
func New(cfg *config.NotificationsConfig, logger *slog.Logger) Mailer {
	if cfg.Enabled && cfg.SMTP.Host != "" {
		return NewSMTPMailer(cfg.SMTP)
	}
	return NewLogMailer(logger)
}

// SMTPMailer delivers messages through an SMTP relay.
type SMTPMailer struct {
	cfg     config.SMTPConfig
	timeout time.Duration
}

// NewSMTPMailer creates an SMTPMailer.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, timeout: 10 * time.Second}
}

// Send composes the message headers and delivers it. The context bounds the
// whole exchange; net/smtp has no context support so the send runs in a
// goroutine and is abandoned on cancellation.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	from := msg.From
	if from == "" {
		from = m.cfg.From
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- m.deliver(from, msg.To, compose(from, msg))
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

func (m *SMTPMailer) deliver(from, to string, body []byte) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if m.cfg.UseTLS {
		return sendMailTLS(addr, m.cfg.Host, auth, from, []string{to}, body)
	}
	return smtp.SendMail(addr, auth, from, []string{to}, body)
}

func compose(from string, msg Message) []byte {
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		from, msg.To, msg.Subject,
	)
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\n", "\r\n")
	return []byte(headers + body + "\r\n")
}

// sendMailTLS connects via implicit TLS (port 465) and sends a message. If the
// TLS dial fails it falls back to smtp.SendMail, which upgrades with STARTTLS
// when the server offers it (port 587).
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}

// LogMailer writes messages to the log instead of sending them. Metadata is
// logged at info and the body at debug, so codes only appear when debug
// logging is switched on.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer. A nil logger uses slog.Default().
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// Send logs the message.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	m.logger.InfoContext(ctx, "email not sent (notifications disabled)",
		"to", msg.To, "from", msg.From, "subject", msg.Subject)
	m.logger.DebugContext(ctx, "email body", "to", msg.To, "body", msg.Body)
	return nil
}
