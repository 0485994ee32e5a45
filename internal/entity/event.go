package entity

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventRequestSubmitted EventType = "prayer.request.submitted"
	EventRequestApproved  EventType = "prayer.request.approved"
	EventRequestRejected  EventType = "prayer.request.rejected"
	EventDeliveryFailed   EventType = "prayer.delivery.failed"
)

// Event is published on the broker after the change it describes commits.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Type       EventType         `json:"type"`
	TenantID   uuid.UUID         `json:"tenant_id"`
	RequestID  uuid.UUID         `json:"request_id"`
	MessageID  *uuid.UUID        `json:"message_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
