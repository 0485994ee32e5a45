package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/entity"
)

// approvalMessenger turns an approved request into its one scheduled reply.
type approvalMessenger struct {
	repos Repositories
	s     *settings
}

// queue schedules the reply at now + uniform(min, max). It returns nil when
// the contact cannot be reached on any channel.
func (m approvalMessenger) queue(
	ctx context.Context,
	tx pgxdriver.QueryExecuter,
	req entity.PrayerRequest,
	opts entity.AutoApprove,
) (*entity.QueuedMessage, error) {
	const op = "service.approvalMessenger.queue"

	contact, err := m.repos.Contacts.GetByID(ctx, tx, req.TenantID, req.ContactID)
	if err != nil {
		return nil, fmt.Errorf("%s: contact: %w", op, err)
	}

	channel := opts.Channel
	if channel == "" || contact.Address(channel) == "" {
		var ok bool
		if channel, ok = contact.ReachableChannel(); !ok {
			m.s.log.Ctx(ctx).LogAttrs(ctx, logger.WarnLevel, "approved request has no reachable contact",
				logger.String("op", op),
				logger.String("request_id", req.ID.String()),
			)
			return nil, nil
		}
	}

	vars := map[string]string{"name": contact.FullName, "church": ""}
	if tenant, tErr := m.repos.Tenants.GetActive(ctx, tx, req.TenantID); tErr == nil {
		vars["church"] = tenant.Name
	} else if !errors.Is(tErr, entity.ErrNotFound) {
		return nil, fmt.Errorf("%s: tenant: %w", op, tErr)
	}
	if category, cErr := m.repos.Categories.Get(ctx, tx, req.TenantID, req.CategoryID); cErr == nil {
		vars["category"] = category.Name
	}

	template := opts.Template
	if template == "" {
		template = m.s.defaultTemplate
	}

	now := m.s.now()
	scheduledAt := now.Add(m.s.approvalDelay())
	msg := entity.QueuedMessage{
		ID:          uuid.New(),
		TenantID:    req.TenantID,
		RequestID:   req.ID,
		ContactID:   contact.ID,
		Channel:     channel,
		Recipient:   contact.Address(channel),
		Content:     entity.RenderVariables(template, vars),
		Status:      entity.MessageScheduled,
		ScheduledAt: &scheduledAt,
		CreatedAt:   now,
	}
	if err = m.repos.Messages.Create(ctx, tx, msg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &msg, nil
}
