// Package amqp publishes domain events to RabbitMQ.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/rabbitmq"

	"prayerflow/internal/entity"
)

type publisher interface {
	Publish(ctx context.Context, body []byte, routingKey string, opts ...rabbitmq.PublishOption) error
}

// EventPublisher routes each event by its type, so consumers can bind to
// e.g. "prayer.delivery.*".
type EventPublisher struct {
	pub publisher
}

func NewEventPublisher(pub publisher) *EventPublisher {
	return &EventPublisher{pub: pub}
}

func (p *EventPublisher) Publish(ctx context.Context, ev entity.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("amqp.EventPublisher.Publish: marshal: %w", err)
	}

	err = p.pub.Publish(ctx, body, string(ev.Type),
		rabbitmq.WithHeaders(amqp091.Table{
			"tenant_id":  ev.TenantID.String(),
			"request_id": ev.RequestID.String(),
		}),
		durable(ev),
	)
	if err != nil {
		return fmt.Errorf("amqp.EventPublisher.Publish: %w", err)
	}
	return nil
}

// durable marks the message persistent and stamps it with the event id so
// consumers can drop redeliveries.
func durable(ev entity.Event) rabbitmq.PublishOption {
	return func(m *amqp091.Publishing) {
		m.DeliveryMode = amqp091.Persistent
		m.MessageId = ev.ID.String()
		m.Timestamp = ev.OccurredAt
		m.Type = string(ev.Type)
	}
}
