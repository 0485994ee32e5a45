package sender

import (
	"context"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/logger"
	"gopkg.in/gomail.v2"

	"prayerflow/internal/entity"
)

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSender delivers messages over SMTP.
type EmailSender struct {
	dialer mailDialer
	from   string
	log    logger.Logger
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func NewEmailSender(cfg SMTPConfig, log logger.Logger) (*EmailSender, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("sender.NewEmailSender: smtp host and from address are required")
	}

	log.LogAttrs(context.Background(), logger.InfoLevel, "email sender initialized",
		logger.String("smtp_host", cfg.Host),
		logger.Int("smtp_port", cfg.Port),
		logger.String("from", cfg.From),
	)

	return &EmailSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		log:    log,
	}, nil
}

func (s *EmailSender) Send(ctx context.Context, msg entity.OutboundMessage) (entity.SendResult, error) {
	email := gomail.NewMessage()
	email.SetHeader("From", s.from)
	email.SetHeader("To", msg.To)
	email.SetHeader("Subject", msg.Subject)
	email.SetHeader("X-Message-Id", msg.ID.String())
	email.SetBody("text/plain", msg.Content)

	s.log.LogAttrs(ctx, logger.DebugLevel, "sending email",
		logger.String("message_id", msg.ID.String()),
	)

	if err := s.dialer.DialAndSend(email); err != nil {
		return entity.SendResult{}, fmt.Errorf("smtp send: %w", err)
	}

	s.log.LogAttrs(ctx, logger.InfoLevel, "email sent",
		logger.String("message_id", msg.ID.String()),
	)

	return entity.SendResult{ProviderMessageID: msg.ID.String()}, nil
}
