package sender

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v2"
	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/entity"
)

type resendEmails interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendSender delivers email through the Resend API instead of SMTP.
type ResendSender struct {
	emails resendEmails
	from   string
	log    logger.Logger
}

func NewResendSender(apiKey, from string, log logger.Logger) (*ResendSender, error) {
	if apiKey == "" || from == "" {
		return nil, errors.New("sender.NewResendSender: api key and from address are required")
	}
	return &ResendSender{
		emails: resend.NewClient(apiKey).Emails,
		from:   from,
		log:    log,
	}, nil
}

func (s *ResendSender) Send(ctx context.Context, msg entity.OutboundMessage) (entity.SendResult, error) {
	sent, err := s.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Content,
		Headers: map[string]string{"X-Message-Id": msg.ID.String()},
	})
	if err != nil {
		return entity.SendResult{}, fmt.Errorf("resend send: %w", err)
	}

	s.log.LogAttrs(ctx, logger.InfoLevel, "email sent via resend",
		logger.String("message_id", msg.ID.String()),
		logger.String("provider_id", sent.Id),
	)
	return entity.SendResult{ProviderMessageID: sent.Id}, nil
}
