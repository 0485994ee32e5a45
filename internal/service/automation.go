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

// Plan is the outcome of running a tenant's rules against one request.
type Plan struct {
	Priority entity.Priority
	// Escalated lists the rules whose escalation raised the priority.
	Escalated []uuid.UUID
	// Terminal is the action of the first matching approve/reject rule.
	Terminal entity.RuleAction
	RuleID   uuid.UUID
	RuleName string
}

// PlanRules evaluates rules in order. Every matching escalation applies and
// is visible to later conditions; the first matching terminal rule wins.
func PlanRules(rules []entity.Rule, subject entity.RuleSubject) Plan {
	plan := Plan{Priority: subject.Priority}

	for _, rule := range rules {
		if !rule.IsActive || rule.Action == nil || !rule.Matches(subject) {
			continue
		}

		switch action := rule.Action.(type) {
		case entity.EscalatePriority:
			raised := subject.Priority.Max(action.To)
			if raised != subject.Priority {
				subject.Priority = raised
				plan.Priority = raised
				plan.Escalated = append(plan.Escalated, rule.ID)
			}
		default:
			if action.Terminal() && plan.Terminal == nil {
				plan.Terminal = action
				plan.RuleID = rule.ID
				plan.RuleName = rule.Name
			}
		}
	}
	return plan
}

type AutomationService struct {
	repos     Repositories
	tm        transaction.Manager
	messenger approvalMessenger
	settings
}

func NewAutomationService(repos Repositories, tm transaction.Manager, opts ...Option) (*AutomationService, error) {
	s, err := newSettings(opts)
	if err != nil {
		return nil, fmt.Errorf("service.NewAutomationService: %w", err)
	}
	svc := &AutomationService{repos: repos, tm: tm, settings: s}
	svc.messenger = approvalMessenger{repos: repos, s: &svc.settings}
	return svc, nil
}

// Evaluate applies the tenant's automation rules to a pending request.
// Requests that are already decided are left alone.
func (s *AutomationService) Evaluate(ctx context.Context, requestID uuid.UUID) error {
	const op = "service.AutomationService.Evaluate"

	log := s.log.Ctx(ctx)
	startTime := time.Now()
	defer logSlowOperation(ctx, s.log, op, startTime, logger.String("request_id", requestID.String()))

	var (
		decided *entity.Event
		plan    Plan
	)

	err := s.tm.ExecuteInTransaction(ctx, "evaluate_automation", func(tx pgxdriver.QueryExecuter) error {
		req, err := s.repos.Prayers.LockByID(ctx, tx, requestID)
		if err != nil {
			return transaction.HandleError("evaluate_automation", "load_request", err)
		}
		if req.Status != entity.StatusPending {
			log.LogAttrs(ctx, logger.DebugLevel, "request already decided",
				logger.String("op", op),
				logger.String("request_id", requestID.String()),
				logger.String("status", string(req.Status)),
			)
			return nil
		}

		category, err := s.repos.Categories.Get(ctx, tx, req.TenantID, req.CategoryID)
		if err != nil {
			return transaction.HandleError("evaluate_automation", "load_category", err)
		}

		rules, err := s.repos.Rules.List(ctx, tx, req.TenantID, true)
		if err != nil {
			return transaction.HandleError("evaluate_automation", "load_rules", err)
		}

		plan = PlanRules(rules, entity.RuleSubject{
			CategoryID:  req.CategoryID,
			Category:    category.Name,
			Priority:    req.Priority,
			Source:      req.Source,
			IsAnonymous: req.IsAnonymous,
			Message:     req.Message,
		})

		now := s.now()
		if plan.Priority != req.Priority {
			if _, err = s.repos.Prayers.UpdatePriority(ctx, tx, req.TenantID, req.ID, plan.Priority, now); err != nil {
				return transaction.HandleError("evaluate_automation", "escalate", err)
			}
			req.Priority = plan.Priority
		}

		if plan.Terminal == nil {
			return nil
		}

		status := entity.StatusRejected
		notes := "auto-rejected by rule " + plan.RuleName
		if approve, ok := plan.Terminal.(entity.AutoApprove); ok {
			status = entity.StatusApproved
			notes = "auto-approved by rule " + plan.RuleName
			if _, err = s.messenger.queue(ctx, tx, *req, approve); err != nil {
				return transaction.HandleError("evaluate_automation", "queue_message", err)
			}
		} else if reject, ok := plan.Terminal.(entity.AutoReject); ok && reject.Reason != "" {
			notes = reject.Reason
		}

		if err = s.decideApproval(ctx, tx, *req, status, notes, now); err != nil {
			return transaction.HandleError("evaluate_automation", "decide", err)
		}
		if _, err = s.repos.Prayers.UpdateStatus(ctx, tx, req.TenantID, []uuid.UUID{req.ID}, status, now); err != nil {
			return transaction.HandleError("evaluate_automation", "update_request", err)
		}

		decided = &entity.Event{
			Type:       entity.EventRequestApproved,
			TenantID:   req.TenantID,
			RequestID:  req.ID,
			Attributes: map[string]string{"rule_id": plan.RuleID.String(), "decided_by": "automation"},
			OccurredAt: now,
		}
		if status == entity.StatusRejected {
			decided.Type = entity.EventRequestRejected
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if decided != nil {
		s.publishEvent(ctx, *decided)
	}

	log.LogAttrs(ctx, logger.InfoLevel, "automation evaluated",
		logger.String("op", op),
		logger.String("request_id", requestID.String()),
		logger.String("priority", string(plan.Priority)),
		logger.Int("escalations", len(plan.Escalated)),
		logger.Bool("decided", decided != nil),
	)
	return nil
}

// decideApproval moves the request's approval row to status, creating it
// when intake did not.
func (s *AutomationService) decideApproval(
	ctx context.Context,
	tx pgxdriver.QueryExecuter,
	req entity.PrayerRequest,
	status entity.ModerationStatus,
	notes string,
	now time.Time,
) error {
	approval, err := s.repos.Approvals.GetByRequestID(ctx, tx, req.TenantID, req.ID)
	if errors.Is(err, entity.ErrNotFound) {
		return s.repos.Approvals.Create(ctx, tx, entity.Approval{
			ID:         uuid.New(),
			RequestID:  req.ID,
			TenantID:   req.TenantID,
			Status:     status,
			ApprovedAt: &now,
			Notes:      &notes,
			CreatedAt:  now,
		})
	}
	if err != nil {
		return err
	}

	n, err := s.repos.Approvals.Decide(ctx, tx, req.TenantID, []uuid.UUID{approval.ID}, status, nil, &notes, now)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("approval %s is no longer pending: %w", approval.ID, entity.ErrConflictingData)
	}
	return nil
}

// CreateRule validates and stores a tenant rule.
func (s *AutomationService) CreateRule(ctx context.Context, tenantID uuid.UUID, rule entity.Rule) (*entity.Rule, error) {
	const op = "service.AutomationService.CreateRule"

	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rule.ID = uuid.New()
	rule.TenantID = tenantID
	rule.CreatedAt = s.now()

	if err := s.repos.Rules.Create(ctx, nil, rule); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Ctx(ctx).LogAttrs(ctx, logger.InfoLevel, "automation rule created",
		logger.String("op", op),
		logger.String("tenant_id", tenantID.String()),
		logger.String("rule_id", rule.ID.String()),
		logger.String("kind", string(rule.Action.Kind())),
	)
	return &rule, nil
}

func (s *AutomationService) ListRules(ctx context.Context, tenantID uuid.UUID) ([]entity.Rule, error) {
	rules, err := s.repos.Rules.List(ctx, nil, tenantID, false)
	if err != nil {
		return nil, fmt.Errorf("service.AutomationService.ListRules: %w", err)
	}
	return rules, nil
}
