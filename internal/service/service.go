package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/entity"
)

const (
	_slowOperationThreshold = 200 * time.Millisecond
	_defaultBatchSize       = 50
	_maxBatchSize           = 1000
	_maxRetryDelay          = 7 * 24 * time.Hour
	_defaultEventTimeout    = 2 * time.Second
	_defaultMaxRetries      = 3
	_defaultBaseRetryDelay  = 5 * time.Minute
	_defaultApprovalDelayLo = time.Hour
	_defaultApprovalDelayHi = 4 * time.Hour

	// DefaultApprovalTemplate is sent when an approving rule or moderator
	// does not supply one.
	DefaultApprovalTemplate = "Hola {{name}}, recibimos tu petición de oración. " +
		"Estaremos orando por ti. - {{church}}"
	_approvalSubject = "Tu petición de oración"
)

type (
	// Repositories groups the persistence ports; a service uses only the
	// ones it needs.
	Repositories struct {
		Tenants       TenantRepository
		Users         UserRepository
		Categories    CategoryRepository
		Contacts      ContactRepository
		Prayers       PrayerRepository
		Approvals     ApprovalRepository
		Messages      MessageRepository
		Rules         RuleRepository
		Notifications NotificationRepository
	}

	TenantRepository interface {
		GetActive(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID uuid.UUID) (*entity.Tenant, error)
	}

	UserRepository interface {
		GetInTenant(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID, userID uuid.UUID) (*entity.User, error)
		ListActiveIDs(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID uuid.UUID, role *entity.Role) ([]uuid.UUID, error)
		FilterInTenant(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error)
	}

	CategoryRepository interface {
		Get(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID, id uuid.UUID) (*entity.Category, error)
		GetActive(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID, id uuid.UUID) (*entity.Category, error)
		ListActive(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID uuid.UUID) ([]entity.Category, error)
	}

	CategoryCache interface {
		Get(ctx context.Context, tenantID uuid.UUID) ([]entity.Category, bool, error)
		Set(ctx context.Context, tenantID uuid.UUID, categories []entity.Category) error
	}

	ContactRepository interface {
		Upsert(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID uuid.UUID, in entity.ContactInput, now time.Time) (*entity.Contact, error)
		GetByID(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID, id uuid.UUID) (*entity.Contact, error)
	}

	PrayerRepository interface {
		Create(ctx context.Context, qe pgxdriver.QueryExecuter, p entity.PrayerRequest) error
		GetByID(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID, id uuid.UUID) (*entity.PrayerRequest, error)
		LockByID(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID) (*entity.PrayerRequest, error)
		UpdateStatus(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID uuid.UUID, ids []uuid.UUID, status entity.ModerationStatus, now time.Time) (int64, error)
		UpdatePriority(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID, id uuid.UUID, priority entity.Priority, now time.Time) (int64, error)
		FlagFollowUp(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID, id uuid.UUID, now time.Time) (int64, error)
		ListFollowUps(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID uuid.UUID, page entity.Page) ([]entity.PrayerRequest, int, error)
	}

	ApprovalRepository interface {
		Create(ctx context.Context, qe pgxdriver.QueryExecuter, a entity.Approval) error
		GetByRequestID(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID, requestID uuid.UUID) (*entity.Approval, error)
		LockByIDs(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID uuid.UUID, ids []uuid.UUID) ([]entity.Approval, error)
		Decide(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID uuid.UUID, ids []uuid.UUID, status entity.ModerationStatus, approverID *uuid.UUID, notes *string, at time.Time) (int64, error)
		ListPending(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID uuid.UUID, filter entity.PendingFilter, page entity.Page) ([]entity.PendingItem, int, error)
	}

	MessageRepository interface {
		Create(ctx context.Context, qe pgxdriver.QueryExecuter, m entity.QueuedMessage) error
		ClaimDue(ctx context.Context, qe pgxdriver.QueryExecuter, now time.Time, limit uint64) ([]entity.QueuedMessage, error)
		MarkSent(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID, sentAt time.Time) error
		MarkRetry(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID, retryCount int, errMsg string, nextAttempt time.Time) error
		MarkFailed(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID, retryCount int, errMsg string) error
	}

	RuleRepository interface {
		Create(ctx context.Context, qe pgxdriver.QueryExecuter, rule entity.Rule) error
		List(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID uuid.UUID, activeOnly bool) ([]entity.Rule, error)
	}

	NotificationRepository interface {
		Create(ctx context.Context, qe pgxdriver.QueryExecuter, n entity.Notification) error
		CreateDeliveries(ctx context.Context, qe pgxdriver.QueryExecuter, deliveries []entity.NotificationDelivery) (int64, error)
		MarkRead(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID, notificationID, userID uuid.UUID, at time.Time) (int64, error)
		MarkAllRead(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID, userID uuid.UUID, at time.Time) (int64, error)
		Inbox(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID, userID uuid.UUID, unreadOnly bool, page entity.Page) (*entity.Inbox, error)
	}

	// SendGuard is an idempotency marker kept outside the database.
	SendGuard interface {
		WasSent(ctx context.Context, messageID uuid.UUID) (bool, error)
		MarkSent(ctx context.Context, messageID uuid.UUID) error
	}

	MessageSender interface {
		Send(ctx context.Context, msg entity.OutboundMessage) (entity.SendResult, error)
	}

	EventPublisher interface {
		Publish(ctx context.Context, event entity.Event) error
	}
)

func logSlowOperation(ctx context.Context, log logger.Logger, op string, startTime time.Time, attrs ...logger.Attr) {
	duration := time.Since(startTime)
	if duration > _slowOperationThreshold {
		attrs = append(attrs,
			logger.String("op", op),
			logger.Duration("duration", duration),
		)
		log.Ctx(ctx).LogAttrs(ctx, logger.WarnLevel, "slow operation detected", attrs...)
	}
}

// publishEvent never fails the caller: events describe changes that have
// already committed. It ignores the caller's deadline and uses its own, so
// an unreachable broker cannot starve work the caller does afterwards.
func (s *settings) publishEvent(ctx context.Context, ev entity.Event) {
	if s.events == nil {
		return
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.eventTimeout)
	defer cancel()

	if err := s.events.Publish(pubCtx, ev); err != nil {
		s.log.Ctx(ctx).LogAttrs(ctx, logger.WarnLevel, "event publish failed",
			logger.String("type", string(ev.Type)),
			logger.String("request_id", ev.RequestID.String()),
			logger.Any("error", err),
		)
	}
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
