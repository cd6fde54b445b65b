package channels

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/Aixtrade/LLMTrigger/internal/config"
	"github.com/Aixtrade/LLMTrigger/internal/domain"
	trigerrors "github.com/Aixtrade/LLMTrigger/internal/errors"
)

// EmailSender delivers plain-text mail over SMTP with PLAIN auth. No
// third-party transactional-email client in the retrieved corpus
// targets a generic SMTP relay rather than a specific vendor API, so
// this channel is built on the standard library's net/smtp.
type EmailSender struct {
	host string
	port int
	auth smtp.Auth
	from string
}

// NewEmailSender builds a sender from SMTP settings.
func NewEmailSender(cfg config.SMTPConfig) *EmailSender {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailSender{host: cfg.Host, port: cfg.Port, auth: auth, from: cfg.From}
}

func (s *EmailSender) Kind() domain.TargetKind { return domain.TargetEmail }

func (s *EmailSender) Send(ctx context.Context, target domain.Target, message string) error {
	if len(target.To) == 0 {
		return trigerrors.Permanent("email", fmt.Errorf("missing recipients"))
	}
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	body := buildMessage(s.from, target.To, message)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, s.auth, s.from, target.To, body)
	}()

	select {
	case <-ctx.Done():
		return trigerrors.Transient("email", ctx.Err())
	case err := <-done:
		if err == nil {
			return nil
		}
		if isPermanentSMTPErr(err) {
			return trigerrors.Permanent("email", err)
		}
		return trigerrors.Transient("email", err)
	}
}

func buildMessage(from string, to []string, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	b.WriteString("Subject: trigger notification\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// isPermanentSMTPErr treats SMTP replies 550, 551, 553 and 554 as
// permanent and everything else (network errors, 4xx, other 5xx codes)
// as worth retrying.
func isPermanentSMTPErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "550") || strings.Contains(msg, "551") ||
		strings.Contains(msg, "553") || strings.Contains(msg, "554")
}
