package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/entity"
)

type CategoryCatalog struct {
	tenants    TenantRepository
	categories CategoryRepository
	cache      CategoryCache
	settings
}

// NewCategoryCatalog accepts a nil cache.
func NewCategoryCatalog(
	tenants TenantRepository,
	categories CategoryRepository,
	cache CategoryCache,
	opts ...Option,
) (*CategoryCatalog, error) {
	s, err := newSettings(opts)
	if err != nil {
		return nil, fmt.Errorf("service.NewCategoryCatalog: %w", err)
	}
	return &CategoryCatalog{tenants: tenants, categories: categories, cache: cache, settings: s}, nil
}

// ListActive returns the active categories of an active tenant. Unknown and
// inactive tenants both yield ErrNotFound.
func (c *CategoryCatalog) ListActive(ctx context.Context, tenantID uuid.UUID) ([]entity.Category, error) {
	const op = "service.CategoryCatalog.ListActive"

	log := c.log.Ctx(ctx)

	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, tenantID)
		if err != nil {
			log.LogAttrs(ctx, logger.WarnLevel, "category cache read failed",
				logger.String("op", op),
				logger.Any("error", err),
			)
		}
		if ok {
			return cached, nil
		}
	}

	if _, err := c.tenants.GetActive(ctx, nil, tenantID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	categories, err := c.categories.ListActive(ctx, nil, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if c.cache != nil {
		if err = c.cache.Set(ctx, tenantID, categories); err != nil {
			log.LogAttrs(ctx, logger.WarnLevel, "category cache write failed",
				logger.String("op", op),
				logger.Any("error", err),
			)
		}
	}

	return categories, nil
}

// Require checks that both the tenant and the category are active and the
// category belongs to the tenant.
func (c *CategoryCatalog) Require(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID, categoryID uuid.UUID,
) (*entity.Tenant, *entity.Category, error) {
	const op = "service.CategoryCatalog.Require"

	tenant, err := c.tenants.GetActive(ctx, qe, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	category, err := c.categories.GetActive(ctx, qe, tenantID, categoryID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return tenant, category, nil
}
