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

const requestColumns = "r.id, r.tenant_id, r.contact_id, r.category_id, r.message, r.is_anonymous, " +
	"r.priority, r.status, r.source, r.needs_follow_up, r.created_at, r.updated_at"

type PrayerRepository struct {
	base
}

func NewPrayerRepository(db pgxdriver.QueryExecuter) *PrayerRepository {
	return &PrayerRepository{base{db: db}}
}

func requestFields(p *entity.PrayerRequest) []any {
	return []any{
		&p.ID,
		&p.TenantID,
		&p.ContactID,
		&p.CategoryID,
		&p.Message,
		&p.IsAnonymous,
		&p.Priority,
		&p.Status,
		&p.Source,
		&p.NeedsFollowUp,
		&p.CreatedAt,
		&p.UpdatedAt,
	}
}

func (r *PrayerRepository) Create(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	p entity.PrayerRequest,
) error {
	const op = "repository.prayer.Create"

	sql, args, err := psql.Insert("prayer_requests").
		Columns("id", "tenant_id", "contact_id", "category_id", "message", "is_anonymous",
			"priority", "status", "source", "needs_follow_up", "created_at", "updated_at").
		Values(p.ID, p.TenantID, p.ContactID, p.CategoryID, p.Message, p.IsAnonymous,
			p.Priority, p.Status, p.Source, p.NeedsFollowUp, p.CreatedAt, p.UpdatedAt).
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

func (r *PrayerRepository) GetByID(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID, id uuid.UUID,
) (*entity.PrayerRequest, error) {
	return r.get(ctx, qe, "repository.prayer.GetByID",
		psql.Select(requestColumns).
			From("prayer_requests r").
			Where(squirrel.Eq{"r.id": id, "r.tenant_id": tenantID}))
}

// LockByID loads a request by id alone and holds its row lock until the
// surrounding transaction ends.
func (r *PrayerRepository) LockByID(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	id uuid.UUID,
) (*entity.PrayerRequest, error) {
	return r.get(ctx, qe, "repository.prayer.LockByID",
		psql.Select(requestColumns).
			From("prayer_requests r").
			Where(squirrel.Eq{"r.id": id}).
			Suffix("FOR UPDATE"))
}

func (r *PrayerRepository) get(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	op string,
	q squirrel.SelectBuilder,
) (*entity.PrayerRequest, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	var p entity.PrayerRequest
	if err = r.exec(qe).QueryRow(ctx, sql, args...).Scan(requestFields(&p)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}

func (r *PrayerRepository) UpdateStatus(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID uuid.UUID,
	ids []uuid.UUID,
	status entity.ModerationStatus,
	now time.Time,
) (int64, error) {
	return r.update(ctx, qe, "repository.prayer.UpdateStatus",
		psql.Update("prayer_requests").
			Set("status", status).
			Set("updated_at", now).
			Where(squirrel.Eq{"tenant_id": tenantID, "id": ids}))
}

func (r *PrayerRepository) UpdatePriority(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID, id uuid.UUID,
	priority entity.Priority,
	now time.Time,
) (int64, error) {
	return r.update(ctx, qe, "repository.prayer.UpdatePriority",
		psql.Update("prayer_requests").
			Set("priority", priority).
			Set("updated_at", now).
			Where(squirrel.Eq{"tenant_id": tenantID, "id": id}))
}

func (r *PrayerRepository) FlagFollowUp(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID, id uuid.UUID,
	now time.Time,
) (int64, error) {
	return r.update(ctx, qe, "repository.prayer.FlagFollowUp",
		psql.Update("prayer_requests").
			Set("needs_follow_up", true).
			Set("updated_at", now).
			Where(squirrel.Eq{"tenant_id": tenantID, "id": id}))
}

func (r *PrayerRepository) update(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	op string,
	q squirrel.UpdateBuilder,
) (int64, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: update query: %w", op, err)
	}

	res, err := r.exec(qe).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return res.RowsAffected(), nil
}

func followUpsQuery(tenantID uuid.UUID) squirrel.SelectBuilder {
	return psql.Select(requestColumns).
		From("prayer_requests r").
		Where(squirrel.Eq{"r.tenant_id": tenantID, "r.needs_follow_up": true})
}

func (r *PrayerRepository) ListFollowUps(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID uuid.UUID,
	page entity.Page,
) ([]entity.PrayerRequest, int, error) {
	const op = "repository.prayer.ListFollowUps"

	page = page.Normalize()
	executor := r.exec(qe)

	countSQL, countArgs, err := psql.Select("COUNT(*)").
		From("prayer_requests r").
		Where(squirrel.Eq{"r.tenant_id": tenantID, "r.needs_follow_up": true}).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("%s: count query: %w", op, err)
	}

	var total int
	if err = executor.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s: count: %w", op, err)
	}

	sql, args, err := followUpsQuery(tenantID).
		OrderBy("r.updated_at DESC").
		Limit(uint64(page.Limit)). //nolint:gosec // normalized
		Offset(page.Offset()).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("%s: select query: %w", op, err)
	}

	rows, err := executor.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	requests := make([]entity.PrayerRequest, 0, page.Limit)
	for rows.Next() {
		var p entity.PrayerRequest
		if err = rows.Scan(requestFields(&p)...); err != nil {
			return nil, 0, fmt.Errorf("%s: scan row: %w", op, err)
		}
		requests = append(requests, p)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return requests, total, nil
}
