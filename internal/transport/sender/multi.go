// Package sender delivers queued messages to contacts over email, SMS and
// WhatsApp.
package sender

import (
	"context"
	"fmt"

	"prayerflow/internal/entity"
)

type MessageSender interface {
	Send(ctx context.Context, msg entity.OutboundMessage) (entity.SendResult, error)
}

// Router hands each message to the sender registered for its channel.
type Router struct {
	senders map[entity.Channel]MessageSender
}

func NewRouter() *Router {
	return &Router{senders: make(map[entity.Channel]MessageSender)}
}

// Register sets the sender for ch. A nil sender is ignored.
func (r *Router) Register(ch entity.Channel, s MessageSender) *Router {
	if s != nil {
		r.senders[ch] = s
	}
	return r
}

func (r *Router) Channels() []entity.Channel {
	out := make([]entity.Channel, 0, len(r.senders))
	for _, ch := range []entity.Channel{entity.ChannelEmail, entity.ChannelSMS, entity.ChannelWhatsApp} {
		if _, ok := r.senders[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}

func (r *Router) Send(ctx context.Context, msg entity.OutboundMessage) (entity.SendResult, error) {
	s, ok := r.senders[msg.Channel]
	if !ok {
		return entity.SendResult{}, fmt.Errorf("no sender configured for channel %q", msg.Channel)
	}
	return s.Send(ctx, msg)
}
