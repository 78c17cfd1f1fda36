package notify

import (
	"context"
	"errors"

	"gopkg.in/gomail.v2"

	"taxline/internal/config"
	"taxline/internal/domain"
)

// MailNotifier delivers notifications over SMTP.
type MailNotifier struct {
	dialer *gomail.Dialer
	from   string
}

// NewMailNotifier returns nil when mail is not configured.
func NewMailNotifier(cfg config.MailConfig) *MailNotifier {
	if cfg.Host == "" {
		return nil
	}
	return &MailNotifier{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (n *MailNotifier) Name() string { return "mail" }

func (n *MailNotifier) Notify(ctx context.Context, recipients []domain.Profile, title, message string) error {
	var msgs []*gomail.Message
	for _, p := range recipients {
		if p.Email == "" {
			continue
		}
		m := gomail.NewMessage()
		m.SetHeader("From", n.from)
		m.SetHeader("To", p.Email)
		m.SetHeader("Subject", title)
		m.SetBody("text/plain", message)
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.dialer.DialAndSend(msgs...); err != nil {
		return errors.New("smtp send: " + err.Error())
	}
	return nil
}
