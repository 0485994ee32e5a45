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

const contactColumns = "id, tenant_id, full_name, phone, email, preferred_channel, created_at, updated_at"

type ContactRepository struct {
	base
}

func NewContactRepository(db pgxdriver.QueryExecuter) *ContactRepository {
	return &ContactRepository{base{db: db}}
}

func scanContact(s rowScanner) (*entity.Contact, error) {
	var c entity.Contact
	err := s.Scan(
		&c.ID,
		&c.TenantID,
		&c.FullName,
		&c.Phone,
		&c.Email,
		&c.PreferredChannel,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// upsertContactQuery relies on the (tenant_id, phone, email) unique key so
// concurrent submissions with the same identity converge on one row.
func upsertContactQuery(id, tenantID uuid.UUID, in entity.ContactInput, now time.Time) squirrel.InsertBuilder {
	return psql.Insert("contacts").
		Columns("id", "tenant_id", "full_name", "phone", "email", "preferred_channel", "created_at", "updated_at").
		Values(id, tenantID, in.FullName, in.Phone, in.Email, in.PreferredChannel, now, now).
		Suffix("ON CONFLICT (tenant_id, phone, email) DO UPDATE SET " +
			"full_name = EXCLUDED.full_name, " +
			"preferred_channel = EXCLUDED.preferred_channel, " +
			"updated_at = EXCLUDED.updated_at " +
			"RETURNING " + contactColumns)
}

// Upsert expects a normalized and validated input.
func (r *ContactRepository) Upsert(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID uuid.UUID,
	in entity.ContactInput,
	now time.Time,
) (*entity.Contact, error) {
	const op = "repository.contact.Upsert"

	sql, args, err := upsertContactQuery(uuid.New(), tenantID, in, now).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: insert query: %w", op, err)
	}

	c, err := scanContact(r.exec(qe).QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func (r *ContactRepository) GetByID(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID, id uuid.UUID,
) (*entity.Contact, error) {
	const op = "repository.contact.GetByID"

	sql, args, err := psql.Select(contactColumns).
		From("contacts").
		Where(squirrel.Eq{"id": id, "tenant_id": tenantID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	c, err := scanContact(r.exec(qe).QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}
