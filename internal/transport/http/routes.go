package httpt

import "prayerflow/internal/entity"

func (h *Handler) setupRoutes() {
	h.router.GET("/health", h.health)

	api := h.router.Group("/api/v1")

	public := api.Group("/public", h.rateLimitMiddleware())
	public.GET("/tenants/:tenant_id/categories", h.listCategories)
	public.POST("/prayer-requests", h.submitPrayerRequest)

	authed := api.Group("", h.authMiddleware())

	pastors := authed.Group("", h.requireRoles(entity.PastorOrAbove...))
	pastors.GET("/approvals/pending", h.listPending)
	pastors.POST("/approvals/decisions", h.decide)
	pastors.GET("/prayer-requests/follow-ups", h.listFollowUps)
	pastors.POST("/notifications", h.publishNotification)

	admins := authed.Group("/automation-rules", h.requireRoles(entity.Admins...))
	admins.GET("", h.listRules)
	admins.POST("", h.createRule)

	messages := authed.Group("/messages")
	messages.POST("", h.requireRoles(append([]entity.Role{entity.RoleService}, entity.Admins...)...), h.enqueueMessage)
	messages.POST("/process-due", h.requireRoles(entity.RoleService), h.processDue)

	authed.GET("/notifications", h.inbox)
	authed.PUT("/notifications/read-all", h.markAllRead)
	authed.PUT("/notifications/:id/read", h.markRead)
}
