package entity

import (
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp:
		return true
	}
	return false
}

type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageScheduled MessageStatus = "scheduled"
	MessageSent      MessageStatus = "sent"
	MessageFailed    MessageStatus = "failed"
)

type QueuedMessage struct {
	ID           uuid.UUID     `json:"id"`
	TenantID     uuid.UUID     `json:"tenant_id"`
	RequestID    uuid.UUID     `json:"request_id"`
	ContactID    uuid.UUID     `json:"contact_id"`
	Channel      Channel       `json:"channel"`
	Recipient    string        `json:"recipient"`
	Content      string        `json:"content"`
	Status       MessageStatus `json:"status"`
	ScheduledAt  *time.Time    `json:"scheduled_at,omitempty"`
	SentAt       *time.Time    `json:"sent_at,omitempty"`
	RetryCount   int           `json:"retry_count"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

type EnqueueInput struct {
	RequestID   uuid.UUID
	ContactID   uuid.UUID
	Channel     Channel
	Content     string
	ScheduledAt *time.Time
}

func (in EnqueueInput) Validate() error {
	if in.RequestID == uuid.Nil {
		return NewValidationError("request_id", "is required")
	}
	if in.ContactID == uuid.Nil {
		return NewValidationError("contact_id", "is required")
	}
	if !in.Channel.IsValid() {
		return NewValidationError("channel", "must be one of email, sms, whatsapp")
	}
	if in.Content == "" {
		return NewValidationError("content", "is required")
	}
	return nil
}

// OutboundMessage is what a channel sender receives.
type OutboundMessage struct {
	ID        uuid.UUID
	Channel   Channel
	To        string
	Subject   string
	Content   string
	RequestID uuid.UUID
}

type SendResult struct {
	ProviderMessageID string
}

type ProcessingStats struct {
	Claimed  int           `json:"claimed"`
	Sent     int           `json:"sent"`
	Retried  int           `json:"retried"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}
