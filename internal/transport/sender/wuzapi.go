package sender

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/entity"
)

const _wuzapiSendText = "/chat/send/text"

type wuzapiText struct {
	Phone string `json:"Phone"`
	Body  string `json:"Body"`
	ID    string `json:"Id,omitempty"`
}

type wuzapiResponse struct {
	Code    int  `json:"code"`
	Success bool `json:"success"`
	Data    struct {
		Details string `json:"Details"`
		ID      string `json:"Id"`
	} `json:"data"`
}

// WuzapiSender delivers WhatsApp messages through a self-hosted wuzapi
// gateway.
type WuzapiSender struct {
	client *resty.Client
	log    logger.Logger
}

func NewWuzapiSender(baseURL, token string, timeout time.Duration, log logger.Logger) (*WuzapiSender, error) {
	if baseURL == "" || token == "" {
		return nil, errors.New("sender.NewWuzapiSender: base url and token are required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Token", token).
		SetTimeout(timeout)

	return &WuzapiSender{client: client, log: log}, nil
}

func (s *WuzapiSender) Send(ctx context.Context, msg entity.OutboundMessage) (entity.SendResult, error) {
	var out wuzapiResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(wuzapiText{
			Phone: strings.TrimPrefix(msg.To, "+"),
			Body:  msg.Content,
			ID:    msg.ID.String(),
		}).
		SetResult(&out).
		Post(_wuzapiSendText)
	if err != nil {
		return entity.SendResult{}, fmt.Errorf("wuzapi request: %w", err)
	}
	if resp.IsError() || !out.Success {
		return entity.SendResult{}, fmt.Errorf("wuzapi: status %d: %s", resp.StatusCode(), resp.String())
	}

	s.log.LogAttrs(ctx, logger.InfoLevel, "whatsapp message sent via wuzapi",
		logger.String("message_id", msg.ID.String()),
		logger.String("provider_id", out.Data.ID),
	)
	return entity.SendResult{ProviderMessageID: out.Data.ID}, nil
}
