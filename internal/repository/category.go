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

const categoryColumns = "id, tenant_id, name, icon, color, is_active"

type CategoryRepository struct {
	base
}

func NewCategoryRepository(db pgxdriver.QueryExecuter) *CategoryRepository {
	return &CategoryRepository{base{db: db}}
}

func scanCategory(s rowScanner) (*entity.Category, error) {
	var c entity.Category
	if err := s.Scan(&c.ID, &c.TenantID, &c.Name, &c.Icon, &c.Color, &c.IsActive); err != nil {
		return nil, err
	}
	return &c, nil
}

// Get returns the category regardless of its active flag.
func (r *CategoryRepository) Get(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID, id uuid.UUID,
) (*entity.Category, error) {
	return r.get(ctx, qe, "repository.category.Get", squirrel.Eq{"id": id, "tenant_id": tenantID})
}

// GetActive treats inactive categories as missing.
func (r *CategoryRepository) GetActive(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID, id uuid.UUID,
) (*entity.Category, error) {
	return r.get(ctx, qe, "repository.category.GetActive",
		squirrel.Eq{"id": id, "tenant_id": tenantID, "is_active": true})
}

func (r *CategoryRepository) get(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	op string,
	where squirrel.Eq,
) (*entity.Category, error) {
	sql, args, err := psql.Select(categoryColumns).
		From("prayer_categories").
		Where(where).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	c, err := scanCategory(r.exec(qe).QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func (r *CategoryRepository) ListActive(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID uuid.UUID,
) ([]entity.Category, error) {
	const op = "repository.category.ListActive"

	sql, args, err := psql.Select(categoryColumns).
		From("prayer_categories").
		Where(squirrel.Eq{"tenant_id": tenantID, "is_active": true}).
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	rows, err := r.exec(qe).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	categories := make([]entity.Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", op, err)
		}
		categories = append(categories, *c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return categories, nil
}
