package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
	"github.com/wb-go/wbf/dbpg/pgx-driver/transaction"
	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/entity"
)

const _maxErrorMessageLen = 1000

type DeliveryService struct {
	repos  Repositories
	tm     transaction.Manager
	sender MessageSender
	guard  SendGuard
	settings
}

// NewDeliveryService accepts a nil guard; duplicate sends after a crash are
// then left to the provider.
func NewDeliveryService(
	repos Repositories,
	tm transaction.Manager,
	sender MessageSender,
	guard SendGuard,
	opts ...Option,
) (*DeliveryService, error) {
	s, err := newSettings(opts)
	if err != nil {
		return nil, fmt.Errorf("service.NewDeliveryService: %w", err)
	}
	if sender == nil {
		return nil, errors.New("service.NewDeliveryService: invalid sender: must be non-nil")
	}
	return &DeliveryService{repos: repos, tm: tm, sender: sender, guard: guard, settings: s}, nil
}

// Enqueue queues a message for a request of the caller's tenant. The
// recipient address is taken from the contact for the chosen channel.
func (s *DeliveryService) Enqueue(
	ctx context.Context,
	tenantID uuid.UUID,
	in entity.EnqueueInput,
) (*entity.QueuedMessage, error) {
	const op = "service.DeliveryService.Enqueue"

	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var msg entity.QueuedMessage
	err := s.tm.ExecuteInTransaction(ctx, "enqueue_message", func(tx pgxdriver.QueryExecuter) error {
		req, err := s.repos.Prayers.LockByID(ctx, tx, in.RequestID)
		if err != nil {
			return err
		}
		if req.TenantID != tenantID {
			return entity.NewValidationError("request_id", "does not belong to this tenant")
		}

		contact, err := s.repos.Contacts.GetByID(ctx, tx, tenantID, in.ContactID)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				return entity.NewValidationError("contact_id", "does not belong to this tenant")
			}
			return err
		}

		recipient := contact.Address(in.Channel)
		if recipient == "" {
			return entity.NewValidationError("channel", "contact has no address for "+string(in.Channel))
		}

		now := s.now()
		msg = entity.QueuedMessage{
			ID:        uuid.New(),
			TenantID:  tenantID,
			RequestID: req.ID,
			ContactID: contact.ID,
			Channel:   in.Channel,
			Recipient: recipient,
			Content:   in.Content,
			Status:    entity.MessagePending,
			CreatedAt: now,
		}
		if in.ScheduledAt != nil {
			at := in.ScheduledAt.UTC()
			msg.ScheduledAt = &at
			msg.Status = entity.MessageScheduled
		}

		return transaction.HandleError("enqueue_message", "create", s.repos.Messages.Create(ctx, tx, msg))
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Ctx(ctx).LogAttrs(ctx, logger.InfoLevel, "message enqueued",
		logger.String("op", op),
		logger.String("message_id", msg.ID.String()),
		logger.String("channel", string(msg.Channel)),
		logger.String("status", string(msg.Status)),
	)
	return &msg, nil
}

// ProcessDue sends every due message in one batch. A failed send is
// rescheduled with exponential backoff until max retries are used up,
// then the message fails and its request is flagged for follow-up.
// Marking a row sent is the last step of each delivery.
func (s *DeliveryService) ProcessDue(ctx context.Context, now time.Time) (*entity.ProcessingStats, error) {
	const op = "service.DeliveryService.ProcessDue"

	log := s.log.Ctx(ctx)
	startTime := time.Now()
	if now.IsZero() {
		now = s.now()
	}

	stats := &entity.ProcessingStats{}
	var failed []entity.Event

	err := s.tm.ExecuteInTransaction(ctx, "process_due", func(tx pgxdriver.QueryExecuter) error {
		messages, err := s.repos.Messages.ClaimDue(ctx, tx, now, s.batchSize)
		if err != nil {
			return transaction.HandleError("process_due", "claim", err)
		}
		stats.Claimed = len(messages)

		if len(messages) == 0 {
			log.LogAttrs(ctx, logger.DebugLevel, "no messages due",
				logger.String("op", op),
			)
			return nil
		}

		for _, msg := range messages {
			ev, err := s.deliver(ctx, tx, msg, now, stats)
			if err != nil {
				return transaction.HandleError("process_due", "deliver", err)
			}
			if ev != nil {
				failed = append(failed, *ev)
			}
		}
		return nil
	})

	stats.Duration = time.Since(startTime)

	if err != nil {
		log.LogAttrs(ctx, logger.ErrorLevel, "due processing failed",
			logger.String("op", op),
			logger.Any("error", err),
			logger.Duration("duration", stats.Duration),
		)
		return stats, fmt.Errorf("%s: %w", op, err)
	}

	for _, ev := range failed {
		s.publishEvent(ctx, ev)
	}

	if stats.Claimed > 0 {
		log.LogAttrs(ctx, logger.InfoLevel, "due processing completed",
			logger.String("op", op),
			logger.Int("claimed", stats.Claimed),
			logger.Int("sent", stats.Sent),
			logger.Int("retried", stats.Retried),
			logger.Int("failed", stats.Failed),
			logger.Duration("duration", stats.Duration),
		)
	}
	return stats, nil
}

// deliver returns a delivery.failed event when msg exhausted its retries.
// Errors are storage errors and abort the batch.
func (s *DeliveryService) deliver(
	ctx context.Context,
	tx pgxdriver.QueryExecuter,
	msg entity.QueuedMessage,
	now time.Time,
	stats *entity.ProcessingStats,
) (*entity.Event, error) {
	log := s.log.Ctx(ctx)

	if s.guard != nil {
		sent, err := s.guard.WasSent(ctx, msg.ID)
		if err != nil {
			log.LogAttrs(ctx, logger.WarnLevel, "send guard unavailable",
				logger.String("message_id", msg.ID.String()),
				logger.Any("error", err),
			)
		}
		if sent {
			stats.Sent++
			return nil, s.repos.Messages.MarkSent(ctx, tx, msg.ID, now)
		}
	}

	res, sendErr := s.sender.Send(ctx, entity.OutboundMessage{
		ID:        msg.ID,
		Channel:   msg.Channel,
		To:        msg.Recipient,
		Subject:   _approvalSubject,
		Content:   msg.Content,
		RequestID: msg.RequestID,
	})

	if sendErr == nil {
		if s.guard != nil {
			if err := s.guard.MarkSent(ctx, msg.ID); err != nil {
				log.LogAttrs(ctx, logger.WarnLevel, "send guard not recorded",
					logger.String("message_id", msg.ID.String()),
					logger.Any("error", err),
				)
			}
		}
		s.metrics.DeliveryOutcome(string(msg.Channel), "sent")
		stats.Sent++
		log.LogAttrs(ctx, logger.InfoLevel, "message sent",
			logger.String("message_id", msg.ID.String()),
			logger.String("channel", string(msg.Channel)),
			logger.String("provider_message_id", res.ProviderMessageID),
		)
		return nil, s.repos.Messages.MarkSent(ctx, tx, msg.ID, now)
	}

	attempts := msg.RetryCount + 1
	errMsg := truncate(sendErr.Error(), _maxErrorMessageLen)

	if attempts >= s.maxRetries {
		if err := s.repos.Messages.MarkFailed(ctx, tx, msg.ID, attempts, errMsg); err != nil {
			return nil, err
		}
		if _, err := s.repos.Prayers.FlagFollowUp(ctx, tx, msg.TenantID, msg.RequestID, now); err != nil {
			return nil, err
		}
		s.metrics.DeliveryOutcome(string(msg.Channel), "failed")
		stats.Failed++
		log.LogAttrs(ctx, logger.ErrorLevel, "message failed, request flagged for follow-up",
			logger.String("message_id", msg.ID.String()),
			logger.Int("retry_count", attempts),
			logger.Any("error", fmt.Errorf("%w: %w", entity.ErrDelivery, sendErr)),
		)
		id := msg.ID
		return &entity.Event{
			Type:       entity.EventDeliveryFailed,
			TenantID:   msg.TenantID,
			RequestID:  msg.RequestID,
			MessageID:  &id,
			Attributes: map[string]string{"channel": string(msg.Channel), "error": errMsg},
			OccurredAt: now,
		}, nil
	}

	next := now.Add(s.retryDelay(attempts))
	if err := s.repos.Messages.MarkRetry(ctx, tx, msg.ID, attempts, errMsg, next); err != nil {
		return nil, err
	}
	s.metrics.DeliveryOutcome(string(msg.Channel), "retry")
	stats.Retried++
	log.LogAttrs(ctx, logger.WarnLevel, "message send failed, rescheduled",
		logger.String("message_id", msg.ID.String()),
		logger.Int("retry_count", attempts),
		logger.Time("next_attempt", next),
		logger.Any("error", sendErr),
	)
	return nil, nil
}

// truncate returns valid UTF-8 of at most n bytes, cut on a rune boundary.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
