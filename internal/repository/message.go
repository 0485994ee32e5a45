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

const messageColumns = "id, tenant_id, request_id, contact_id, channel, recipient, content, status, " +
	"scheduled_at, sent_at, retry_count, error_message, created_at"

type MessageRepository struct {
	base
}

func NewMessageRepository(db pgxdriver.QueryExecuter) *MessageRepository {
	return &MessageRepository{base{db: db}}
}

func messageFields(m *entity.QueuedMessage) []any {
	return []any{
		&m.ID,
		&m.TenantID,
		&m.RequestID,
		&m.ContactID,
		&m.Channel,
		&m.Recipient,
		&m.Content,
		&m.Status,
		&m.ScheduledAt,
		&m.SentAt,
		&m.RetryCount,
		&m.ErrorMessage,
		&m.CreatedAt,
	}
}

func (r *MessageRepository) Create(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	m entity.QueuedMessage,
) error {
	const op = "repository.message.Create"

	sql, args, err := psql.Insert("queued_messages").
		Columns("id", "tenant_id", "request_id", "contact_id", "channel", "recipient", "content",
			"status", "scheduled_at", "retry_count", "created_at").
		Values(m.ID, m.TenantID, m.RequestID, m.ContactID, m.Channel, m.Recipient, m.Content,
			m.Status, m.ScheduledAt, m.RetryCount, m.CreatedAt).
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

func claimDueQuery(now time.Time, limit uint64) squirrel.SelectBuilder {
	return psql.Select(messageColumns).
		From("queued_messages").
		Where(squirrel.Eq{"status": []entity.MessageStatus{entity.MessagePending, entity.MessageScheduled}}).
		Where(squirrel.Or{
			squirrel.Eq{"scheduled_at": nil},
			squirrel.LtOrEq{"scheduled_at": now},
		}).
		OrderBy("scheduled_at ASC NULLS FIRST", "created_at ASC").
		Limit(limit).
		Suffix("FOR UPDATE SKIP LOCKED")
}

// ClaimDue locks up to limit due messages. Rows locked by a concurrent
// worker are skipped, so two workers never claim the same message.
func (r *MessageRepository) ClaimDue(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	now time.Time,
	limit uint64,
) ([]entity.QueuedMessage, error) {
	const op = "repository.message.ClaimDue"

	if limit == 0 {
		return nil, fmt.Errorf("%s: limit must be > 0", op)
	}

	sql, args, err := claimDueQuery(now, limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	rows, err := r.exec(qe).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var messages []entity.QueuedMessage
	for rows.Next() {
		var m entity.QueuedMessage
		if err = rows.Scan(messageFields(&m)...); err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", op, err)
		}
		messages = append(messages, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return messages, nil
}

func (r *MessageRepository) MarkSent(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	id uuid.UUID,
	sentAt time.Time,
) error {
	return r.update(ctx, qe, "repository.message.MarkSent",
		psql.Update("queued_messages").
			Set("status", entity.MessageSent).
			Set("sent_at", sentAt).
			Set("error_message", nil).
			Where(squirrel.Eq{"id": id}))
}

// MarkRetry puts the message back in the queue for a later attempt.
func (r *MessageRepository) MarkRetry(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	id uuid.UUID,
	retryCount int,
	errMsg string,
	nextAttempt time.Time,
) error {
	return r.update(ctx, qe, "repository.message.MarkRetry",
		psql.Update("queued_messages").
			Set("status", entity.MessagePending).
			Set("retry_count", retryCount).
			Set("error_message", errMsg).
			Set("scheduled_at", nextAttempt).
			Where(squirrel.Eq{"id": id}))
}

func (r *MessageRepository) MarkFailed(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	id uuid.UUID,
	retryCount int,
	errMsg string,
) error {
	return r.update(ctx, qe, "repository.message.MarkFailed",
		psql.Update("queued_messages").
			Set("status", entity.MessageFailed).
			Set("retry_count", retryCount).
			Set("error_message", errMsg).
			Where(squirrel.Eq{"id": id}))
}

func (r *MessageRepository) update(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	op string,
	q squirrel.UpdateBuilder,
) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("%s: update query: %w", op, err)
	}

	res, err := r.exec(qe).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if res.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, entity.ErrNotFound)
	}
	return nil
}
