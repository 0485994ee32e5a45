package httpt

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/entity"
)

// publishNotification fans out to the given recipients, or to the
// target user, role or whole tenant when none are given.
func (h *Handler) publishNotification(c *gin.Context) {
	const op = "transport.publishNotification"

	p, _ := principal(c)
	var req PublishNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleBindError(c, op, err)
		return
	}

	in := entity.NotificationInput{
		Title:     req.Title,
		Message:   req.Message,
		Type:      entity.NotificationType(req.Type),
		IsGlobal:  req.IsGlobal,
		Variables: req.Variables,
		CreatedBy: &p.UserID,
	}
	if in.Type == "" {
		in.Type = entity.NotificationInfo
	}
	if req.TargetUser != nil {
		id := uuid.MustParse(*req.TargetUser)
		in.TargetUser = &id
	}
	if req.TargetRole != nil {
		role := entity.Role(*req.TargetRole)
		in.TargetRole = &role
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	recipients := make([]uuid.UUID, 0, len(req.Recipients))
	for _, raw := range req.Recipients {
		recipients = append(recipients, uuid.MustParse(raw))
	}
	if len(recipients) == 0 {
		var err error
		if recipients, err = h.svc.Notifications.ResolveRecipients(ctx, p.TenantID, in); err != nil {
			h.handleServiceError(c, op, err)
			return
		}
	}

	res, err := h.svc.Notifications.Publish(ctx, p.TenantID, in, recipients)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}

	h.log.Ctx(ctx).LogAttrs(ctx, logger.InfoLevel, "notification published",
		logger.String("notification_id", res.Notification.ID.String()),
		logger.Int("deliveries", res.Deliveries),
	)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) inbox(c *gin.Context) {
	const op = "transport.inbox"

	p, _ := principal(c)
	page, ok := h.parsePage(c, op)
	if !ok {
		return
	}
	var unreadOnly bool
	if raw := c.Query("unread_only"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.handleServiceError(c, op, entity.NewValidationError("unread_only", "must be a boolean"))
			return
		}
		unreadOnly = v
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	inbox, err := h.svc.Notifications.Inbox(ctx, p.TenantID, p.UserID, unreadOnly, page)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, inbox)
}

func (h *Handler) markRead(c *gin.Context) {
	const op = "transport.markRead"

	p, _ := principal(c)
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.handleInvalidUUID(c, op, "id", idStr)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	if err = h.svc.Notifications.MarkRead(ctx, p.TenantID, id, p.UserID); err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Notification marked as read"})
}

func (h *Handler) markAllRead(c *gin.Context) {
	const op = "transport.markAllRead"

	p, _ := principal(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	n, err := h.svc.Notifications.MarkAllRead(ctx, p.TenantID, p.UserID)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: n})
}
