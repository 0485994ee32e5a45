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

type TenantRepository struct {
	base
}

func NewTenantRepository(db pgxdriver.QueryExecuter) *TenantRepository {
	return &TenantRepository{base{db: db}}
}

// GetActive returns ErrNotFound both for unknown and for inactive tenants.
func (r *TenantRepository) GetActive(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID uuid.UUID,
) (*entity.Tenant, error) {
	const op = "repository.tenant.GetActive"

	sql, args, err := psql.Select("id", "name", "is_active").
		From("tenants").
		Where(squirrel.Eq{"id": tenantID, "is_active": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	var t entity.Tenant
	if err = r.exec(qe).QueryRow(ctx, sql, args...).Scan(&t.ID, &t.Name, &t.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &t, nil
}
