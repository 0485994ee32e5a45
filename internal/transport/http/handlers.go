package httpt

import (
	"context"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/entity"
	"prayerflow/internal/service"
	"prayerflow/pkg/metric"
	"prayerflow/pkg/ratelimit"
)

const (
	_defaultContextTimeout = 5 * time.Second
)

type Catalog interface {
	ListActive(ctx context.Context, tenantID uuid.UUID) ([]entity.Category, error)
}

type Intake interface {
	Submit(ctx context.Context, in entity.SubmitInput) (*entity.PrayerRequest, error)
}

type Approvals interface {
	ListPending(ctx context.Context, tenantID uuid.UUID, filter entity.PendingFilter, page entity.Page) (*service.PendingPage, error)
	BulkDecide(ctx context.Context, tenantID uuid.UUID, in service.DecideInput) (int, error)
	ListFollowUps(ctx context.Context, tenantID uuid.UUID, page entity.Page) (*service.FollowUpPage, error)
}

type Automation interface {
	CreateRule(ctx context.Context, tenantID uuid.UUID, rule entity.Rule) (*entity.Rule, error)
	ListRules(ctx context.Context, tenantID uuid.UUID) ([]entity.Rule, error)
}

type Delivery interface {
	Enqueue(ctx context.Context, tenantID uuid.UUID, in entity.EnqueueInput) (*entity.QueuedMessage, error)
	ProcessDue(ctx context.Context, now time.Time) (*entity.ProcessingStats, error)
}

type Notifications interface {
	Publish(ctx context.Context, tenantID uuid.UUID, in entity.NotificationInput, recipients []uuid.UUID) (*service.PublishResult, error)
	ResolveRecipients(ctx context.Context, tenantID uuid.UUID, in entity.NotificationInput) ([]uuid.UUID, error)
	MarkRead(ctx context.Context, tenantID, notificationID, userID uuid.UUID) error
	MarkAllRead(ctx context.Context, tenantID, userID uuid.UUID) (int64, error)
	Inbox(ctx context.Context, tenantID, userID uuid.UUID, unreadOnly bool, page entity.Page) (*entity.Inbox, error)
}

type Services struct {
	Catalog       Catalog
	Intake        Intake
	Approvals     Approvals
	Automation    Automation
	Delivery      Delivery
	Notifications Notifications
}

type Verifier interface {
	Verify(raw string) (entity.Principal, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

type Handler struct {
	svc         Services
	auth        Verifier
	limiter     RateLimiter
	log         logger.Logger
	metrics     metric.HTTP
	corsOrigins []string
	now         func() time.Time
	router      *gin.Engine
}

type HandlerOption func(*Handler)

// WithRateLimiter limits the public routes.
func WithRateLimiter(l RateLimiter) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.limiter = l
		}
	}
}

func WithMetrics(m metric.HTTP) HandlerOption {
	return func(h *Handler) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithCORSOrigins restricts CORS to origins; without it any origin is allowed.
func WithCORSOrigins(origins []string) HandlerOption {
	return func(h *Handler) { h.corsOrigins = origins }
}

func WithNow(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

var _registerTagNames sync.Once

func NewHandler(svc Services, auth Verifier, log logger.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		svc:     svc,
		auth:    auth,
		log:     log,
		metrics: metric.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	_registerTagNames.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(jsonFieldName)
		}
	})

	router := gin.New()
	router.Use(h.requestIDMiddleware())
	router.Use(h.loggingMiddleware())
	router.Use(gin.Recovery())
	router.Use(h.corsMiddleware())

	h.router = router
	h.setupRoutes()

	return h
}

func (h *Handler) Engine() *gin.Engine {
	return h.router
}

func (h *Handler) corsMiddleware() gin.HandlerFunc {
	if len(h.corsOrigins) == 0 {
		return cors.Default()
	}
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = h.corsOrigins
	cfg.AddAllowHeaders("Authorization", "X-Request-ID")
	cfg.AddExposeHeaders("X-Request-ID", "Retry-After")
	return cors.New(cfg)
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listCategories(c *gin.Context) {
	const op = "transport.listCategories"

	tenantIDStr := c.Param("tenant_id")
	tenantID, err := uuid.Parse(tenantIDStr)
	if err != nil {
		h.handleInvalidUUID(c, op, "tenant_id", tenantIDStr)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	categories, err := h.svc.Catalog.ListActive(ctx, tenantID)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": categories})
}

func (h *Handler) submitPrayerRequest(c *gin.Context) {
	const op = "transport.submitPrayerRequest"

	var req SubmitPrayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleBindError(c, op, err)
		return
	}
	// binding already checked both ids
	tenantID := uuid.MustParse(req.TenantID)
	categoryID := uuid.MustParse(req.CategoryID)

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	pr, err := h.svc.Intake.Submit(ctx, entity.SubmitInput{
		TenantID: tenantID,
		Contact: entity.ContactInput{
			FullName:         req.FullName,
			Phone:            req.Phone,
			Email:            req.Email,
			PreferredChannel: entity.Channel(req.PreferredChannel),
		},
		CategoryID:  categoryID,
		Message:     req.Message,
		IsAnonymous: req.IsAnonymous,
		Priority:    entity.Priority(req.Priority),
		Source:      req.Source,
	})
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}

	h.log.Ctx(ctx).LogAttrs(ctx, logger.InfoLevel, "prayer request submitted",
		logger.String("request_id", pr.ID.String()),
		logger.String("status", string(pr.Status)),
	)

	c.JSON(http.StatusCreated, SubmitPrayerResponse{
		ID:       pr.ID.String(),
		Status:   pr.Status,
		Priority: pr.Priority,
		Message:  "Prayer request received",
	})
}

func (h *Handler) listPending(c *gin.Context) {
	const op = "transport.listPending"

	p, _ := principal(c)
	page, ok := h.parsePage(c, op)
	if !ok {
		return
	}

	var filter entity.PendingFilter
	if raw := c.Query("category_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.handleInvalidUUID(c, op, "category_id", raw)
			return
		}
		filter.CategoryID = &id
	}
	if raw := c.Query("priority"); raw != "" {
		pr := entity.Priority(raw)
		filter.Priority = &pr
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	res, err := h.svc.Approvals.ListPending(ctx, p.TenantID, filter, page)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) decide(c *gin.Context) {
	const op = "transport.decide"

	p, _ := principal(c)
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleBindError(c, op, err)
		return
	}
	ids := make([]uuid.UUID, 0, len(req.ApprovalIDs))
	for _, raw := range req.ApprovalIDs {
		ids = append(ids, uuid.MustParse(raw))
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	n, err := h.svc.Approvals.BulkDecide(ctx, p.TenantID, service.DecideInput{
		ApprovalIDs: ids,
		Decision:    entity.Decision(req.Action),
		ApproverID:  p.UserID,
		Notes:       req.Notes,
	})
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}

	h.log.Ctx(ctx).LogAttrs(ctx, logger.InfoLevel, "approvals decided",
		logger.String("action", req.Action),
		logger.Int("count", n),
		logger.String("approver_id", p.UserID.String()),
	)
	c.JSON(http.StatusOK, DecideResponse{Decided: n, Action: req.Action})
}

func (h *Handler) listFollowUps(c *gin.Context) {
	const op = "transport.listFollowUps"

	p, _ := principal(c)
	page, ok := h.parsePage(c, op)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	res, err := h.svc.Approvals.ListFollowUps(ctx, p.TenantID, page)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) listRules(c *gin.Context) {
	const op = "transport.listRules"

	p, _ := principal(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	rules, err := h.svc.Automation.ListRules(ctx, p.TenantID)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rules})
}

func (h *Handler) createRule(c *gin.Context) {
	const op = "transport.createRule"

	p, _ := principal(c)
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleBindError(c, op, err)
		return
	}
	action, err := entity.DecodeAction(req.Kind, req.Config)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	rule, err := h.svc.Automation.CreateRule(ctx, p.TenantID, entity.Rule{
		Name:       req.Name,
		Position:   req.Position,
		IsActive:   active,
		Conditions: req.Conditions,
		Action:     action,
	})
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *Handler) enqueueMessage(c *gin.Context) {
	const op = "transport.enqueueMessage"

	p, _ := principal(c)
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleBindError(c, op, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	msg, err := h.svc.Delivery.Enqueue(ctx, p.TenantID, entity.EnqueueInput{
		RequestID:   uuid.MustParse(req.RequestID),
		ContactID:   uuid.MustParse(req.ContactID),
		Channel:     entity.Channel(req.Channel),
		Content:     req.Content,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) processDue(c *gin.Context) {
	const op = "transport.processDue"

	// a full batch may take several provider round trips
	ctx, cancel := context.WithTimeout(c.Request.Context(), 6*_defaultContextTimeout)
	defer cancel()

	stats, err := h.svc.Delivery.ProcessDue(ctx, h.now())
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) parsePage(c *gin.Context, op string) (entity.Page, bool) {
	var page entity.Page
	for _, q := range []struct {
		name string
		dst  *int
	}{{"page", &page.Page}, {"limit", &page.Limit}} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			h.handleServiceError(c, op, entity.NewValidationError(q.name, "must be a positive integer"))
			return entity.Page{}, false
		}
		*q.dst = v
	}
	return page, true
}
