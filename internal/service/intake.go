package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
	"github.com/wb-go/wbf/dbpg/pgx-driver/transaction"
	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/entity"
)

// Evaluator runs automation against a freshly submitted request.
type Evaluator interface {
	Evaluate(ctx context.Context, requestID uuid.UUID) error
}

type IntakeService struct {
	repos     Repositories
	tm        transaction.Manager
	catalog   *CategoryCatalog
	contacts  *ContactRegistry
	automator Evaluator
	settings
}

func NewIntakeService(
	repos Repositories,
	tm transaction.Manager,
	catalog *CategoryCatalog,
	contacts *ContactRegistry,
	automator Evaluator,
	opts ...Option,
) (*IntakeService, error) {
	s, err := newSettings(opts)
	if err != nil {
		return nil, fmt.Errorf("service.NewIntakeService: %w", err)
	}
	return &IntakeService{
		repos:     repos,
		tm:        tm,
		catalog:   catalog,
		contacts:  contacts,
		automator: automator,
		settings:  s,
	}, nil
}

// Submit stores a new prayer request in pending state, runs automation on
// it and returns the request as automation left it. An automation failure
// never fails the submission. Events go out only after automation has
// committed; consumers order them by occurred_at.
func (s *IntakeService) Submit(ctx context.Context, in entity.SubmitInput) (*entity.PrayerRequest, error) {
	const op = "service.IntakeService.Submit"

	log := s.log.Ctx(ctx)
	startTime := time.Now()
	defer logSlowOperation(ctx, s.log, op, startTime, logger.String("tenant_id", in.TenantID.String()))

	in = in.Normalize()
	if err := in.Validate(); err != nil {
		s.metrics.IntakeOutcome("invalid")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if _, _, err := s.catalog.Require(ctx, nil, in.TenantID, in.CategoryID); err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			s.metrics.IntakeOutcome("not_found")
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	request := entity.PrayerRequest{
		ID:          uuid.New(),
		TenantID:    in.TenantID,
		CategoryID:  in.CategoryID,
		Message:     in.Message,
		IsAnonymous: in.IsAnonymous,
		Priority:    in.Priority,
		Status:      entity.StatusPending,
		Source:      in.Source,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.tm.ExecuteInTransaction(ctx, "submit_prayer_request", func(tx pgxdriver.QueryExecuter) error {
		contact, err := s.contacts.Resolve(ctx, tx, in.TenantID, in.Contact)
		if err != nil {
			return transaction.HandleError("submit_prayer_request", "resolve_contact", err)
		}
		request.ContactID = contact.ID

		if err = s.repos.Prayers.Create(ctx, tx, request); err != nil {
			return transaction.HandleError("submit_prayer_request", "create_request", err)
		}

		approval := entity.Approval{
			ID:        uuid.New(),
			RequestID: request.ID,
			TenantID:  request.TenantID,
			Status:    entity.StatusPending,
			CreatedAt: now,
		}
		if err = s.repos.Approvals.Create(ctx, tx, approval); err != nil {
			return transaction.HandleError("submit_prayer_request", "create_approval", err)
		}
		return nil
	})
	if err != nil {
		log.LogAttrs(ctx, logger.ErrorLevel, "submit failed",
			logger.String("op", op),
			logger.Any("error", err),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.automator != nil {
		if evalErr := s.automator.Evaluate(ctx, request.ID); evalErr != nil {
			log.LogAttrs(ctx, logger.ErrorLevel, "automation failed, request left for manual review",
				logger.String("op", op),
				logger.String("request_id", request.ID.String()),
				logger.Any("error", fmt.Errorf("%w: %w", entity.ErrAutomation, evalErr)),
			)
		}
	}

	current, err := s.repos.Prayers.GetByID(ctx, nil, request.TenantID, request.ID)
	if err != nil {
		log.LogAttrs(ctx, logger.WarnLevel, "re-read after automation failed",
			logger.String("op", op),
			logger.String("request_id", request.ID.String()),
			logger.Any("error", err),
		)
		current = &request
	}

	s.publishEvent(ctx, entity.Event{
		Type:       entity.EventRequestSubmitted,
		TenantID:   request.TenantID,
		RequestID:  request.ID,
		Attributes: map[string]string{"priority": string(request.Priority), "source": request.Source},
		OccurredAt: now,
	})

	s.metrics.IntakeOutcome(string(current.Status))
	log.LogAttrs(ctx, logger.InfoLevel, "prayer request submitted",
		logger.String("op", op),
		logger.String("request_id", current.ID.String()),
		logger.String("status", string(current.Status)),
		logger.String("priority", string(current.Priority)),
	)

	return current, nil
}
