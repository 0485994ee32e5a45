package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"

	"prayerflow/internal/entity"
)

type UserRepository struct {
	base
}

func NewUserRepository(db pgxdriver.QueryExecuter) *UserRepository {
	return &UserRepository{base{db: db}}
}

func (r *UserRepository) GetInTenant(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID, userID uuid.UUID,
) (*entity.User, error) {
	const op = "repository.user.GetInTenant"

	sql, args, err := psql.Select("id", "tenant_id", "name", "email", "role", "is_active").
		From("users").
		Where(squirrel.Eq{"id": userID, "tenant_id": tenantID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	var u entity.User
	err = r.exec(qe).QueryRow(ctx, sql, args...).Scan(
		&u.ID, &u.TenantID, &u.Name, &u.Email, &u.Role, &u.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &u, nil
}

func activeUsersQuery(tenantID uuid.UUID, role *entity.Role) squirrel.SelectBuilder {
	q := psql.Select("id").
		From("users").
		Where(squirrel.Eq{"tenant_id": tenantID, "is_active": true}).
		OrderBy("created_at ASC")
	if role != nil {
		q = q.Where(squirrel.Eq{"role": *role})
	}
	return q
}

// ListActiveIDs returns active users of the tenant, optionally by role.
func (r *UserRepository) ListActiveIDs(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID uuid.UUID,
	role *entity.Role,
) ([]uuid.UUID, error) {
	const op = "repository.user.ListActiveIDs"

	sql, args, err := activeUsersQuery(tenantID, role).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	rows, err := r.exec(qe).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("%s: collect rows: %w", op, err)
	}
	return ids, nil
}

// FilterInTenant returns the subset of ids that are users of the tenant.
func (r *UserRepository) FilterInTenant(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID uuid.UUID,
	ids []uuid.UUID,
) ([]uuid.UUID, error) {
	const op = "repository.user.FilterInTenant"

	if len(ids) == 0 {
		return nil, nil
	}

	sql, args, err := psql.Select("id").
		From("users").
		Where(squirrel.Eq{"tenant_id": tenantID, "id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	rows, err := r.exec(qe).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	found, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("%s: collect rows: %w", op, err)
	}
	return found, nil
}
