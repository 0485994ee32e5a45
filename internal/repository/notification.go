package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"

	"prayerflow/internal/entity"
)

const inboxColumns = "n.id, n.tenant_id, n.title, n.message, n.type, n.is_global, n.target_user, " +
	"n.target_role, n.created_by, n.created_at, " +
	"d.id, d.notification_id, d.user_id, d.delivery_method, d.delivery_status, d.is_read, d.read_at, d.created_at"

type NotificationRepository struct {
	base
}

func NewNotificationRepository(db pgxdriver.QueryExecuter) *NotificationRepository {
	return &NotificationRepository{base{db: db}}
}

func (r *NotificationRepository) Create(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	n entity.Notification,
) error {
	const op = "repository.notification.Create"

	sql, args, err := psql.Insert("notifications").
		Columns("id", "tenant_id", "title", "message", "type", "is_global",
			"target_user", "target_role", "created_by", "created_at").
		Values(n.ID, n.TenantID, n.Title, n.Message, n.Type, n.IsGlobal,
			n.TargetUser, n.TargetRole, n.CreatedBy, n.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: insert query: %w", op, err)
	}

	if _, err = r.exec(qe).Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, entity.ErrConflictingData)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CreateDeliveries inserts all rows in one statement. Duplicate recipients
// are ignored by the unique key.
func (r *NotificationRepository) CreateDeliveries(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	deliveries []entity.NotificationDelivery,
) (int64, error) {
	const op = "repository.notification.CreateDeliveries"

	if len(deliveries) == 0 {
		return 0, nil
	}

	insert := psql.Insert("notification_deliveries").
		Columns("id", "notification_id", "user_id", "delivery_method", "delivery_status", "is_read", "created_at").
		Suffix("ON CONFLICT (notification_id, user_id) DO NOTHING")
	for _, d := range deliveries {
		insert = insert.Values(d.ID, d.NotificationID, d.UserID, d.DeliveryMethod, d.DeliveryStatus, d.IsRead, d.CreatedAt)
	}

	sql, args, err := insert.ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: insert query: %w", op, err)
	}

	res, err := r.exec(qe).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return res.RowsAffected(), nil
}

// tenantNotifications restricts deliveries to notifications of one tenant.
func tenantNotifications(tenantID uuid.UUID, notificationID *uuid.UUID) squirrel.Sqlizer {
	if notificationID != nil {
		return squirrel.Expr("notification_id IN (SELECT id FROM notifications WHERE tenant_id = ? AND id = ?)",
			tenantID, *notificationID)
	}
	return squirrel.Expr("notification_id IN (SELECT id FROM notifications WHERE tenant_id = ?)", tenantID)
}

func markReadQuery(tenantID, notificationID, userID uuid.UUID, at time.Time) squirrel.UpdateBuilder {
	return psql.Update("notification_deliveries").
		Set("is_read", true).
		Set("read_at", squirrel.Expr("COALESCE(read_at, ?)", at)).
		Where(squirrel.Eq{"user_id": userID}).
		Where(tenantNotifications(tenantID, &notificationID))
}

// MarkRead returns the number of deliveries matched, 0 when the user has no
// delivery for the notification. Re-reading keeps the first read_at.
func (r *NotificationRepository) MarkRead(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID, notificationID, userID uuid.UUID,
	at time.Time,
) (int64, error) {
	const op = "repository.notification.MarkRead"

	sql, args, err := markReadQuery(tenantID, notificationID, userID, at).ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: update query: %w", op, err)
	}

	res, err := r.exec(qe).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return res.RowsAffected(), nil
}

func (r *NotificationRepository) MarkAllRead(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID, userID uuid.UUID,
	at time.Time,
) (int64, error) {
	const op = "repository.notification.MarkAllRead"

	sql, args, err := psql.Update("notification_deliveries").
		Set("is_read", true).
		Set("read_at", at).
		Where(squirrel.Eq{"user_id": userID, "is_read": false}).
		Where(tenantNotifications(tenantID, nil)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: update query: %w", op, err)
	}

	res, err := r.exec(qe).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return res.RowsAffected(), nil
}

func inboxWhere(tenantID, userID uuid.UUID, unreadOnly bool) squirrel.Eq {
	where := squirrel.Eq{"n.tenant_id": tenantID, "d.user_id": userID}
	if unreadOnly {
		where["d.is_read"] = false
	}
	return where
}

// Inbox returns one page of the user's deliveries, newest first, together
// with the size of the filtered set and the user's unread count.
func (r *NotificationRepository) Inbox(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID, userID uuid.UUID,
	unreadOnly bool,
	page entity.Page,
) (*entity.Inbox, error) {
	const op = "repository.notification.Inbox"

	page = page.Normalize()
	executor := r.exec(qe)

	countSQL, countArgs, err := psql.Select(
		"COUNT(*)",
		"COUNT(*) FILTER (WHERE NOT d.is_read)",
	).
		From("notification_deliveries d").
		Join("notifications n ON n.id = d.notification_id").
		Where(inboxWhere(tenantID, userID, false)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: count query: %w", op, err)
	}

	inbox := &entity.Inbox{Items: make([]entity.InboxItem, 0, page.Limit)}
	var all int
	if err = executor.QueryRow(ctx, countSQL, countArgs...).Scan(&all, &inbox.UnreadCount); err != nil {
		return nil, fmt.Errorf("%s: count: %w", op, err)
	}
	inbox.Total = all
	if unreadOnly {
		inbox.Total = inbox.UnreadCount
	}

	sql, args, err := psql.Select(inboxColumns).
		From("notification_deliveries d").
		Join("notifications n ON n.id = d.notification_id").
		Where(inboxWhere(tenantID, userID, unreadOnly)).
		OrderBy("n.created_at DESC", "d.id").
		Limit(uint64(page.Limit)). //nolint:gosec // normalized
		Offset(page.Offset()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	rows, err := executor.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it entity.InboxItem
			n  = &it.Notification
			d  = &it.Delivery
		)
		err = rows.Scan(
			&n.ID, &n.TenantID, &n.Title, &n.Message, &n.Type, &n.IsGlobal, &n.TargetUser,
			&n.TargetRole, &n.CreatedBy, &n.CreatedAt,
			&d.ID, &d.NotificationID, &d.UserID, &d.DeliveryMethod, &d.DeliveryStatus,
			&d.IsRead, &d.ReadAt, &d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", op, err)
		}
		inbox.Items = append(inbox.Items, it)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return inbox, nil
}
