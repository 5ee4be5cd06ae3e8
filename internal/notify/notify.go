// Package notify delivers run notifications: failure alerts and the
// missing-property report.
package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"catalogflat/internal/config"

	"go.uber.org/zap"
)

// Notifier sends one message.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// sendMailFunc matches smtp.SendMail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier emails a fixed recipient list.
type SMTPNotifier struct {
	Server   string // host:port
	From     string
	To       []string
	Username string
	Password string

	send sendMailFunc
	now  func() time.Time
}

// NewSMTPNotifier returns a notifier for to (comma separated addresses).
func NewSMTPNotifier(n config.Notify, to string) (*SMTPNotifier, error) {
	rcpt := splitAddresses(to)
	if len(rcpt) == 0 {
		return nil, fmt.Errorf("notify: no recipients")
	}
	if strings.TrimSpace(n.SMTPServer) == "" {
		return nil, fmt.Errorf("notify: smtp_server is required")
	}
	server := n.SMTPServer
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "25")
	}
	from := n.From
	if from == "" {
		from = "catalogflat@localhost"
	}
	return &SMTPNotifier{
		Server:   server,
		From:     from,
		To:       rcpt,
		Username: n.Username,
		Password: n.Password,
		send:     smtp.SendMail,
		now:      time.Now,
	}, nil
}

// Notify sends the message. smtp.SendMail has no context; when ctx ends first
// Notify returns ctx.Err() and the send finishes in the background.
func (s *SMTPNotifier) Notify(ctx context.Context, subject, body string) error {
	var auth smtp.Auth
	if s.Username != "" {
		host, _, _ := net.SplitHostPort(s.Server)
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}
	msg := s.message(subject, body)

	done := make(chan error, 1)
	go func() { done <- s.send(s.Server, auth, s.From, s.To, msg) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("notify: send mail via %s: %w", s.Server, err)
		}
		return nil
	}
}

func (s *SMTPNotifier) message(subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(s.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(subject))
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String())
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

func splitAddresses(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LogNotifier writes notifications to the logger. It is used when no address
// is configured.
type LogNotifier struct {
	Log *zap.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(_ context.Context, subject, body string) error {
	log := l.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("notification not sent (no address configured)", zap.String("subject", subject), zap.Int("body_bytes", len(body)))
	return nil
}

// For returns the notifier for recipients: SMTP when both an address and a
// server are configured, otherwise a LogNotifier.
func For(n config.Notify, recipients string, log *zap.Logger) Notifier {
	if strings.TrimSpace(recipients) == "" || strings.TrimSpace(n.SMTPServer) == "" {
		return LogNotifier{Log: log}
	}
	s, err := NewSMTPNotifier(n, recipients)
	if err != nil {
		return LogNotifier{Log: log}
	}
	return s
}
