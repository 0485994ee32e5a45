package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
	"github.com/wb-go/wbf/dbpg/pgx-driver/transaction"
	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/entity"
)

// NotificationService keeps the tenant notification ledger. Read state is
// tracked per recipient on deliveries and never on the notification.
type NotificationService struct {
	repos Repositories
	tm    transaction.Manager
	settings
}

func NewNotificationService(repos Repositories, tm transaction.Manager, opts ...Option) (*NotificationService, error) {
	s, err := newSettings(opts)
	if err != nil {
		return nil, fmt.Errorf("service.NewNotificationService: %w", err)
	}
	return &NotificationService{repos: repos, tm: tm, settings: s}, nil
}

type PublishResult struct {
	Notification entity.Notification `json:"notification"`
	Deliveries   int                 `json:"deliveries"`
}

// Publish stores one notification and one unread delivery per distinct
// recipient in a single transaction. With no recipients the notification
// is still stored.
func (s *NotificationService) Publish(
	ctx context.Context,
	tenantID uuid.UUID,
	in entity.NotificationInput,
	recipients []uuid.UUID,
) (*PublishResult, error) {
	const op = "service.NotificationService.Publish"

	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	recipients = uniqueIDs(recipients)
	if len(recipients) > 0 {
		found, err := s.repos.Users.FilterInTenant(ctx, nil, tenantID, recipients)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if len(found) != len(recipients) {
			return nil, fmt.Errorf("%s: %w", op,
				entity.NewValidationError("recipients", "contains users outside this tenant"))
		}
	}

	title, message := in.Title, in.Message
	if in.Variables != nil {
		title = entity.RenderVariables(title, in.Variables)
		message = entity.RenderVariables(message, in.Variables)
	}

	now := s.now()
	n := entity.Notification{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Title:      title,
		Message:    message,
		Type:       in.Type,
		IsGlobal:   in.IsGlobal,
		TargetUser: in.TargetUser,
		TargetRole: in.TargetRole,
		CreatedBy:  in.CreatedBy,
		CreatedAt:  now,
	}

	deliveries := make([]entity.NotificationDelivery, 0, len(recipients))
	for _, userID := range recipients {
		deliveries = append(deliveries, entity.NotificationDelivery{
			ID:             uuid.New(),
			NotificationID: n.ID,
			UserID:         userID,
			DeliveryMethod: entity.DeliveryMethodInApp,
			DeliveryStatus: entity.DeliveryPending,
			CreatedAt:      now,
		})
	}

	var created int64
	err := s.tm.ExecuteInTransaction(ctx, "publish_notification", func(tx pgxdriver.QueryExecuter) error {
		if err := s.repos.Notifications.Create(ctx, tx, n); err != nil {
			return transaction.HandleError("publish_notification", "create", err)
		}
		var err error
		if created, err = s.repos.Notifications.CreateDeliveries(ctx, tx, deliveries); err != nil {
			return transaction.HandleError("publish_notification", "deliveries", err)
		}
		if int(created) != len(deliveries) {
			return transaction.HandleError("publish_notification", "deliveries",
				fmt.Errorf("stored %d of %d deliveries: %w", created, len(deliveries), entity.ErrConflictingData))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Ctx(ctx).LogAttrs(ctx, logger.InfoLevel, "notification published",
		logger.String("op", op),
		logger.String("tenant_id", tenantID.String()),
		logger.String("notification_id", n.ID.String()),
		logger.Int64("deliveries", created),
	)
	return &PublishResult{Notification: n, Deliveries: int(created)}, nil
}

// ResolveRecipients expands a notification target into user ids: an
// explicit user first, then a role, then every active user of the tenant.
func (s *NotificationService) ResolveRecipients(
	ctx context.Context,
	tenantID uuid.UUID,
	in entity.NotificationInput,
) ([]uuid.UUID, error) {
	const op = "service.NotificationService.ResolveRecipients"

	switch {
	case in.TargetUser != nil:
		if _, err := s.repos.Users.GetInTenant(ctx, nil, tenantID, *in.TargetUser); err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				return nil, fmt.Errorf("%s: %w", op, entity.NewValidationError("target_user", "is not a user of this tenant"))
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return []uuid.UUID{*in.TargetUser}, nil
	case in.TargetRole != nil:
		ids, err := s.repos.Users.ListActiveIDs(ctx, nil, tenantID, in.TargetRole)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return ids, nil
	case in.IsGlobal:
		ids, err := s.repos.Users.ListActiveIDs(ctx, nil, tenantID, nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return ids, nil
	}
	return nil, fmt.Errorf("%s: %w", op,
		entity.NewValidationError("recipients", "give recipients, a target user, a target role or is_global"))
}

// MarkRead touches only the caller's own delivery.
func (s *NotificationService) MarkRead(ctx context.Context, tenantID, notificationID, userID uuid.UUID) error {
	const op = "service.NotificationService.MarkRead"

	n, err := s.repos.Notifications.MarkRead(ctx, nil, tenantID, notificationID, userID, s.now())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, entity.ErrNotFound)
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, tenantID, userID uuid.UUID) (int64, error) {
	n, err := s.repos.Notifications.MarkAllRead(ctx, nil, tenantID, userID, s.now())
	if err != nil {
		return 0, fmt.Errorf("service.NotificationService.MarkAllRead: %w", err)
	}
	return n, nil
}

func (s *NotificationService) Inbox(
	ctx context.Context,
	tenantID, userID uuid.UUID,
	unreadOnly bool,
	page entity.Page,
) (*entity.Inbox, error) {
	inbox, err := s.repos.Notifications.Inbox(ctx, nil, tenantID, userID, unreadOnly, page.Normalize())
	if err != nil {
		return nil, fmt.Errorf("service.NotificationService.Inbox: %w", err)
	}
	return inbox, nil
}
