package transport

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// SMTPOptions configure the email transport.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers notifications as plain-text email.
type SMTPSender struct {
	logger *zap.Logger
	opts   SMTPOptions
}

// NewSMTPSender creates the email transport.
func NewSMTPSender(logger *zap.Logger, opts SMTPOptions) *SMTPSender {
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.From == "" {
		opts.From = "pipeguard@localhost"
	}
	return &SMTPSender{logger: logger, opts: opts}
}

// Send mails the message to the given recipients. The message title is
// the subject line.
func (s *SMTPSender) Send(ctx context.Context, msg domain.NotificationMessage, recipients []string) (bool, error) {
	if len(recipients) == 0 {
		return false, fmt.Errorf("no recipients configured")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	raw := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		s.opts.From,
		strings.Join(recipients, ","),
		msg.Title,
		renderEmailBody(msg),
	)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	var auth smtp.Auth
	if s.opts.Username != "" {
		auth = smtp.PlainAuth("", s.opts.Username, s.opts.Password, s.opts.Host)
	}
	if err := smtp.SendMail(addr, auth, s.opts.From, recipients, []byte(raw)); err != nil {
		return false, fmt.Errorf("sending mail: %w", err)
	}

	s.logger.Info("email notification sent",
		zap.String("notification_id", msg.NotificationID),
		zap.Int("recipients", len(recipients)),
	)
	return true, nil
}

func renderEmailBody(msg domain.NotificationMessage) string {
	var b strings.Builder
	b.WriteString(msg.Body)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Severity: %s\n", msg.Severity)
	if msg.AlertType != "" {
		fmt.Fprintf(&b, "Type: %s\n", msg.AlertType)
	}
	if msg.Component != "" {
		fmt.Fprintf(&b, "Component: %s\n", msg.Component)
	}
	if msg.ExecutionID != "" {
		fmt.Fprintf(&b, "Execution: %s\n", msg.ExecutionID)
	}

	keys := make([]string, 0, len(msg.Fields))
	for k := range msg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, msg.Fields[k])
	}
	return b.String()
}
