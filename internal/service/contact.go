package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/entity"
)

// ContactRegistry de-duplicates people who send prayer requests.
type ContactRegistry struct {
	repo ContactRepository
	settings
}

func NewContactRegistry(repo ContactRepository, opts ...Option) (*ContactRegistry, error) {
	s, err := newSettings(opts)
	if err != nil {
		return nil, fmt.Errorf("service.NewContactRegistry: %w", err)
	}
	return &ContactRegistry{repo: repo, settings: s}, nil
}

// Resolve returns the tenant's contact for (phone, email), creating it or
// refreshing its name and preferred channel. It runs as a single upsert so
// concurrent calls with the same key end on the same row.
func (r *ContactRegistry) Resolve(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID uuid.UUID,
	in entity.ContactInput,
) (*entity.Contact, error) {
	const op = "service.ContactRegistry.Resolve"

	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	contact, err := r.repo.Upsert(ctx, qe, tenantID, in, r.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r.log.Ctx(ctx).LogAttrs(ctx, logger.DebugLevel, "contact resolved",
		logger.String("op", op),
		logger.String("tenant_id", tenantID.String()),
		logger.String("contact_id", contact.ID.String()),
	)
	return contact, nil
}
