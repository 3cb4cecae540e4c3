// Package notify delivers alert notifications over SMTP.
//
// Delivery is bounded and best-effort: a dial timeout, a rate limiter and a
// single retry. The caller decides what a failed send means: for alerts the
// persisted state is authoritative and a failure is only logged.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/netwatch-io/presence-mon/internal/config"
)

// Mailer sends notification mail through one SMTP server.
type Mailer struct {
	host      string
	port      int
	username  string
	password  string
	startTLS  bool
	fromEmail string
	fromName  string

	limiter *rate.Limiter
	logger  *slog.Logger

	// send is swappable for tests; defaults to the real SMTP round trip.
	send func(ctx context.Context, to, subject, body string) error
}

// NewMailer creates a mailer from alerter configuration. The password must
// already be resolved (see internal/secrets).
func NewMailer(cfg config.AlerterConfig, password string, logger *slog.Logger) *Mailer {
	m := &Mailer{
		host:      cfg.SMTPHost,
		port:      cfg.SMTPPort,
		username:  cfg.SMTPUsername,
		password:  password,
		startTLS:  cfg.SMTPStartTLS,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		limiter:   rate.NewLimiter(rate.Limit(config.NotifyRateLimit), config.NotifyBurst),
		logger:    logger.With("component", "mailer"),
	}
	m.send = m.sendSMTP
	return m
}

// Send delivers one message, retrying once on failure. It blocks for the rate
// limiter, so a burst of alert transitions drains at a bounded pace.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for send slot: %w", err)
	}

	err := m.send(ctx, to, subject, body)
	if err == nil {
		return nil
	}

	m.logger.Warn("send failed, retrying once", "recipient", to, "error", err)
	if err2 := m.send(ctx, to, subject, body); err2 != nil {
		return fmt.Errorf("sending mail to %s: %w", to, err2)
	}
	return nil
}

// sendSMTP performs one SMTP round trip.
func (m *Mailer) sendSMTP(ctx context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	dialer := &net.Dialer{Timeout: config.SMTPDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if m.startTLS {
		if err := client.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if m.username != "" {
		auth := smtp.PlainAuth("", m.username, m.password, m.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(m.fromEmail); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write([]byte(m.composeMessage(to, subject, body))); err != nil {
		w.Close()
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing message: %w", err)
	}

	if err := client.Quit(); err != nil {
		return fmt.Errorf("quit: %w", err)
	}

	m.logger.Info("mail sent", "recipient", to, "subject", subject)
	return nil
}

// composeMessage builds the RFC 5322 message with headers.
func (m *Mailer) composeMessage(to, subject, body string) string {
	from := m.fromEmail
	if m.fromName != "" {
		from = fmt.Sprintf("%q <%s>", m.fromName, m.fromEmail)
	}

	var sb strings.Builder
	sb.WriteString("From: " + from + "\r\n")
	sb.WriteString("To: " + to + "\r\n")
	sb.WriteString("Subject: " + subject + "\r\n")
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	return sb.String()
}

// Noop is a mailer that drops everything. Used when SMTP is not configured.
type Noop struct{}

// Send discards the message.
func (Noop) Send(_ context.Context, _, _, _ string) error { return nil }
