package mailer

import (
	"context"
	"fmt"
	"log"

	"gopkg.in/gomail.v2"

	"chat-backend/internal/config"
)

// Mailer delivers one-time login codes. Implementations must not retain the
// code after the send attempt.
type Mailer interface {
	SendLoginCode(ctx context.Context, email, code string) error
}

// New builds an SMTP mailer, or a noop mailer that logs codes when SMTP is
// unconfigured (local development).
func New(cfg config.SMTPConfig) Mailer {
	if cfg.Host == "" {
		log.Printf("smtp disabled, using noop mailer")
		return noopMailer{}
	}
	return &smtpMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

type smtpMailer struct {
	dialer *gomail.Dialer
	from   string
}

func (m *smtpMailer) SendLoginCode(ctx context.Context, email, code string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", "Your login code")
	msg.SetBody("text/html", loginCodeBody(code))

	if err := m.dialer.DialAndSend(msg); err != nil {
		log.Printf("smtp send failed: %v", err)
		return fmt.Errorf("send login code: %w", err)
	}
	return nil
}

func loginCodeBody(code string) string {
	return fmt.Sprintf(`
        <div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
          <h2>Your login code</h2>
          <p>Enter this code to sign in to your account:</p>
          <div style="font-size: 36px; font-weight: bold; letter-spacing: 8px; font-family: monospace;">%s</div>
          <p>This code expires in 5 minutes.</p>
          <p style="color: #64748b; font-size: 12px;">If you didn't request this code, ignore this email.
          Never share your login code with anyone.</p>
        </div>`, code)
}

type noopMailer struct{}

func (noopMailer) SendLoginCode(ctx context.Context, email, code string) error {
	log.Printf("noop mailer: login code for %s is %s", email, code)
	return nil
}
