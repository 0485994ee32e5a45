package sender

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/entity"
)

const _whatsappPrefix = "whatsapp:"

type twilioMessages interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	FromNumber   string
	WhatsAppFrom string
}

// TwilioSender delivers SMS, and WhatsApp when a WhatsApp sender number is
// configured.
type TwilioSender struct {
	api          twilioMessages
	from         string
	whatsappFrom string
	log          logger.Logger
}

func NewTwilioSender(cfg TwilioConfig, log logger.Logger) (*TwilioSender, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("sender.NewTwilioSender: account sid and auth token are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSender{
		api:          client.Api,
		from:         cfg.FromNumber,
		whatsappFrom: cfg.WhatsAppFrom,
		log:          log,
	}, nil
}

func (s *TwilioSender) Send(ctx context.Context, msg entity.OutboundMessage) (entity.SendResult, error) {
	to, from := msg.To, s.from
	if msg.Channel == entity.ChannelWhatsApp {
		if s.whatsappFrom == "" {
			return entity.SendResult{}, errors.New("twilio: whatsapp sender number not configured")
		}
		to, from = withPrefix(to), withPrefix(s.whatsappFrom)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(msg.Content)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		return entity.SendResult{}, fmt.Errorf("twilio %s: %w", msg.Channel, err)
	}

	var sid string
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	s.log.LogAttrs(ctx, logger.InfoLevel, "message sent via twilio",
		logger.String("message_id", msg.ID.String()),
		logger.String("channel", string(msg.Channel)),
		logger.String("sid", sid),
	)
	return entity.SendResult{ProviderMessageID: sid}, nil
}

func withPrefix(number string) string {
	if strings.HasPrefix(number, _whatsappPrefix) {
		return number
	}
	return _whatsappPrefix + number
}
