package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"

	"prayerflow/internal/entity"
)

const approvalColumns = "a.id, a.request_id, a.tenant_id, a.status, a.approver_id, a.approved_at, a.notes, a.created_at"

type ApprovalRepository struct {
	base
}

func NewApprovalRepository(db pgxdriver.QueryExecuter) *ApprovalRepository {
	return &ApprovalRepository{base{db: db}}
}

func approvalFields(a *entity.Approval) []any {
	return []any{
		&a.ID,
		&a.RequestID,
		&a.TenantID,
		&a.Status,
		&a.ApproverID,
		&a.ApprovedAt,
		&a.Notes,
		&a.CreatedAt,
	}
}

func (r *ApprovalRepository) Create(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	a entity.Approval,
) error {
	const op = "repository.approval.Create"

	sql, args, err := psql.Insert("prayer_approvals").
		Columns("id", "request_id", "tenant_id", "status", "approver_id", "approved_at", "notes", "created_at").
		Values(a.ID, a.RequestID, a.TenantID, a.Status, a.ApproverID, a.ApprovedAt, a.Notes, a.CreatedAt).
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

func (r *ApprovalRepository) GetByRequestID(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID, requestID uuid.UUID,
) (*entity.Approval, error) {
	const op = "repository.approval.GetByRequestID"

	sql, args, err := psql.Select(approvalColumns).
		From("prayer_approvals a").
		Where(squirrel.Eq{"a.request_id": requestID, "a.tenant_id": tenantID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	var a entity.Approval
	if err = r.exec(qe).QueryRow(ctx, sql, args...).Scan(approvalFields(&a)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &a, nil
}

func lockApprovalsQuery(tenantID uuid.UUID, ids []uuid.UUID) squirrel.SelectBuilder {
	return psql.Select(approvalColumns).
		From("prayer_approvals a").
		Where(squirrel.Eq{"a.tenant_id": tenantID, "a.id": ids}).
		OrderBy("a.id").
		Suffix("FOR UPDATE")
}

// LockByIDs returns the approvals of the tenant among ids, locked for the
// rest of the transaction. Ids owned by another tenant are simply absent.
func (r *ApprovalRepository) LockByIDs(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID uuid.UUID,
	ids []uuid.UUID,
) ([]entity.Approval, error) {
	const op = "repository.approval.LockByIDs"

	sql, args, err := lockApprovalsQuery(tenantID, ids).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	rows, err := r.exec(qe).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	approvals := make([]entity.Approval, 0, len(ids))
	for rows.Next() {
		var a entity.Approval
		if err = rows.Scan(approvalFields(&a)...); err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", op, err)
		}
		approvals = append(approvals, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return approvals, nil
}

// Decide moves pending approvals to status. Approvals already decided are
// left untouched and not counted.
func (r *ApprovalRepository) Decide(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID uuid.UUID,
	ids []uuid.UUID,
	status entity.ModerationStatus,
	approverID *uuid.UUID,
	notes *string,
	at time.Time,
) (int64, error) {
	const op = "repository.approval.Decide"

	sql, args, err := psql.Update("prayer_approvals").
		Set("status", status).
		Set("approver_id", approverID).
		Set("approved_at", at).
		Set("notes", notes).
		Where(squirrel.Eq{"tenant_id": tenantID, "id": ids, "status": entity.StatusPending}).
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

func pendingWhere(tenantID uuid.UUID, filter entity.PendingFilter) squirrel.And {
	where := squirrel.And{
		squirrel.Eq{"a.tenant_id": tenantID, "a.status": entity.StatusPending},
	}
	if filter.CategoryID != nil {
		where = append(where, squirrel.Eq{"r.category_id": *filter.CategoryID})
	}
	if filter.Priority != nil {
		where = append(where, squirrel.Eq{"r.priority": *filter.Priority})
	}
	return where
}

func pendingQuery(tenantID uuid.UUID, filter entity.PendingFilter, page entity.Page) squirrel.SelectBuilder {
	return psql.Select(approvalColumns, requestColumns,
		"c.id, c.tenant_id, c.full_name, c.phone, c.email, c.preferred_channel, c.created_at, c.updated_at",
		"cat.id, cat.tenant_id, cat.name, cat.icon, cat.color, cat.is_active").
		From("prayer_approvals a").
		Join("prayer_requests r ON r.id = a.request_id AND r.tenant_id = a.tenant_id").
		Join("contacts c ON c.id = r.contact_id").
		Join("prayer_categories cat ON cat.id = r.category_id").
		Where(pendingWhere(tenantID, filter)).
		OrderBy(priorityRankExpr+" DESC", "r.created_at DESC").
		Limit(uint64(page.Limit)). //nolint:gosec // normalized
		Offset(page.Offset())
}

func pendingCountQuery(tenantID uuid.UUID, filter entity.PendingFilter) squirrel.SelectBuilder {
	return psql.Select("COUNT(*)").
		From("prayer_approvals a").
		Join("prayer_requests r ON r.id = a.request_id AND r.tenant_id = a.tenant_id").
		Where(pendingWhere(tenantID, filter))
}

// ListPending returns one page of the moderation queue, most urgent first,
// newest first within a priority, and the total size of the queue.
func (r *ApprovalRepository) ListPending(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID uuid.UUID,
	filter entity.PendingFilter,
	page entity.Page,
) ([]entity.PendingItem, int, error) {
	const op = "repository.approval.ListPending"

	page = page.Normalize()
	executor := r.exec(qe)

	countSQL, countArgs, err := pendingCountQuery(tenantID, filter).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("%s: count query: %w", op, err)
	}

	var total int
	if err = executor.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s: count: %w", op, err)
	}

	sql, args, err := pendingQuery(tenantID, filter, page).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("%s: select query: %w", op, err)
	}

	rows, err := executor.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]entity.PendingItem, 0, page.Limit)
	for rows.Next() {
		var it entity.PendingItem
		dest := approvalFields(&it.Approval)
		dest = append(dest, requestFields(&it.Request)...)
		dest = append(dest,
			&it.Contact.ID, &it.Contact.TenantID, &it.Contact.FullName, &it.Contact.Phone,
			&it.Contact.Email, &it.Contact.PreferredChannel, &it.Contact.CreatedAt, &it.Contact.UpdatedAt,
			&it.Category.ID, &it.Category.TenantID, &it.Category.Name, &it.Category.Icon,
			&it.Category.Color, &it.Category.IsActive,
		)
		if err = rows.Scan(dest...); err != nil {
			return nil, 0, fmt.Errorf("%s: scan row: %w", op, err)
		}
		items = append(items, it)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return items, total, nil
}
