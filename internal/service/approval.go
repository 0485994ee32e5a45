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

type ApprovalService struct {
	repos     Repositories
	tm        transaction.Manager
	messenger approvalMessenger
	settings
}

func NewApprovalService(repos Repositories, tm transaction.Manager, opts ...Option) (*ApprovalService, error) {
	s, err := newSettings(opts)
	if err != nil {
		return nil, fmt.Errorf("service.NewApprovalService: %w", err)
	}
	svc := &ApprovalService{repos: repos, tm: tm, settings: s}
	svc.messenger = approvalMessenger{repos: repos, s: &svc.settings}
	return svc, nil
}

type PendingPage struct {
	Items []entity.PendingItem `json:"items"`
	Total int                  `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

func (s *ApprovalService) ListPending(
	ctx context.Context,
	tenantID uuid.UUID,
	filter entity.PendingFilter,
	page entity.Page,
) (*PendingPage, error) {
	const op = "service.ApprovalService.ListPending"

	if filter.Priority != nil && !filter.Priority.IsValid() {
		return nil, fmt.Errorf("%s: %w", op, entity.NewValidationError("priority", "must be one of low, normal, high, urgent"))
	}

	page = page.Normalize()
	items, total, err := s.repos.Approvals.ListPending(ctx, nil, tenantID, filter, page)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &PendingPage{Items: items, Total: total, Page: page.Page, Limit: page.Limit}, nil
}

type DecideInput struct {
	ApprovalIDs []uuid.UUID
	Decision    entity.Decision
	ApproverID  uuid.UUID
	Notes       *string
}

func (in DecideInput) Validate() error {
	if len(in.ApprovalIDs) == 0 {
		return entity.NewValidationError("approval_ids", "must not be empty")
	}
	if !in.Decision.IsValid() {
		return entity.NewValidationError("action", "must be approve or reject")
	}
	if in.ApproverID == uuid.Nil {
		return entity.NewValidationError("approver_id", "is required")
	}
	return nil
}

// BulkDecide approves or rejects a batch of pending approvals of one tenant.
// The batch is all-or-nothing: if any id is unknown, belongs to another
// tenant or is already decided, nothing changes and a ValidationError is
// returned. Approval queues one delayed reply per request.
func (s *ApprovalService) BulkDecide(ctx context.Context, tenantID uuid.UUID, in DecideInput) (int, error) {
	const op = "service.ApprovalService.BulkDecide"

	log := s.log.Ctx(ctx)
	startTime := time.Now()
	defer logSlowOperation(ctx, s.log, op, startTime, logger.Int("batch", len(in.ApprovalIDs)))

	if err := in.Validate(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	ids := uniqueIDs(in.ApprovalIDs)

	if _, err := s.repos.Users.GetInTenant(ctx, nil, tenantID, in.ApproverID); err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return 0, fmt.Errorf("%s: %w", op, entity.NewValidationError("approver_id", "is not a user of this tenant"))
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	status := in.Decision.Status()
	approver := in.ApproverID
	now := s.now()
	var events []entity.Event

	err := s.tm.ExecuteInTransaction(ctx, "bulk_decide", func(tx pgxdriver.QueryExecuter) error {
		approvals, err := s.repos.Approvals.LockByIDs(ctx, tx, tenantID, ids)
		if err != nil {
			return transaction.HandleError("bulk_decide", "lock", err)
		}
		if len(approvals) != len(ids) {
			return entity.NewValidationError("approval_ids", "contains unknown approvals")
		}
		requestIDs := make([]uuid.UUID, 0, len(approvals))
		for _, a := range approvals {
			if a.Status != entity.StatusPending {
				return entity.NewValidationError("approval_ids", fmt.Sprintf("approval %s is already %s", a.ID, a.Status))
			}
			requestIDs = append(requestIDs, a.RequestID)
		}

		n, err := s.repos.Approvals.Decide(ctx, tx, tenantID, ids, status, &approver, in.Notes, now)
		if err != nil {
			return transaction.HandleError("bulk_decide", "decide", err)
		}
		if int(n) != len(ids) {
			return transaction.HandleError("bulk_decide", "decide",
				fmt.Errorf("decided %d of %d: %w", n, len(ids), entity.ErrConflictingData))
		}

		if _, err = s.repos.Prayers.UpdateStatus(ctx, tx, tenantID, requestIDs, status, now); err != nil {
			return transaction.HandleError("bulk_decide", "update_requests", err)
		}

		evType := entity.EventRequestRejected
		if status == entity.StatusApproved {
			evType = entity.EventRequestApproved
		}

		for _, requestID := range requestIDs {
			if status == entity.StatusApproved {
				req, err := s.repos.Prayers.GetByID(ctx, tx, tenantID, requestID)
				if err != nil {
					return transaction.HandleError("bulk_decide", "load_request", err)
				}
				if _, err = s.messenger.queue(ctx, tx, *req, entity.AutoApprove{}); err != nil {
					return transaction.HandleError("bulk_decide", "queue_message", err)
				}
			}
			events = append(events, entity.Event{
				Type:       evType,
				TenantID:   tenantID,
				RequestID:  requestID,
				Attributes: map[string]string{"decided_by": approver.String()},
				OccurredAt: now,
			})
		}
		return nil
	})
	if err != nil {
		log.LogAttrs(ctx, logger.WarnLevel, "bulk decide rejected",
			logger.String("op", op),
			logger.String("tenant_id", tenantID.String()),
			logger.Any("error", err),
		)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	for _, ev := range events {
		s.publishEvent(ctx, ev)
	}

	log.LogAttrs(ctx, logger.InfoLevel, "bulk decide applied",
		logger.String("op", op),
		logger.String("tenant_id", tenantID.String()),
		logger.String("decision", string(in.Decision)),
		logger.Int("count", len(ids)),
	)
	return len(ids), nil
}

type FollowUpPage struct {
	Items []entity.PrayerRequest `json:"items"`
	Total int                    `json:"total"`
	Page  int                    `json:"page"`
	Limit int                    `json:"limit"`
}

// ListFollowUps returns requests whose reply could not be delivered.
func (s *ApprovalService) ListFollowUps(ctx context.Context, tenantID uuid.UUID, page entity.Page) (*FollowUpPage, error) {
	page = page.Normalize()
	items, total, err := s.repos.Prayers.ListFollowUps(ctx, nil, tenantID, page)
	if err != nil {
		return nil, fmt.Errorf("service.ApprovalService.ListFollowUps: %w", err)
	}
	return &FollowUpPage{Items: items, Total: total, Page: page.Page, Limit: page.Limit}, nil
}
