package httpt

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/entity"
)

const _principalKey = "principal"

func (h *Handler) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = logger.GenerateRequestID()
		}
		ctx := logger.SetRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (h *Handler) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		statusCode := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		h.metrics.ObserveRequest(c.Request.Method, route, statusCode, latency)
		h.log.LogAttrs(c.Request.Context(), logger.InfoLevel, "HTTP request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", statusCode),
			logger.Duration("duration", latency),
			logger.String("client_ip", c.ClientIP()),
			logger.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// authMiddleware requires a valid bearer token and stores the principal.
func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		const op = "transport.authMiddleware"

		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			h.handleServiceError(c, op, entity.ErrUnauthorized)
			return
		}
		p, err := h.auth.Verify(raw)
		if err != nil {
			h.handleServiceError(c, op, err)
			return
		}
		c.Set(_principalKey, p)
		c.Next()
	}
}

func (h *Handler) requireRoles(roles ...entity.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			h.handleServiceError(c, "transport.requireRoles", entity.ErrUnauthorized)
			return
		}
		if !p.Role.In(roles...) {
			h.handleServiceError(c, "transport.requireRoles", entity.ErrForbidden)
			return
		}
		c.Next()
	}
}

func principal(c *gin.Context) (entity.Principal, bool) {
	v, ok := c.Get(_principalKey)
	if !ok {
		return entity.Principal{}, false
	}
	p, ok := v.(entity.Principal)
	return p, ok
}

// rateLimitMiddleware counts requests per client IP. When the counter store
// is unavailable requests are let through.
func (h *Handler) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		d, err := h.limiter.Allow(ctx, c.ClientIP())
		if err != nil {
			h.log.Ctx(ctx).LogAttrs(ctx, logger.WarnLevel, "rate limiter unavailable",
				logger.String("client_ip", c.ClientIP()),
				logger.Any("error", err),
			)
			c.Next()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		if !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(d.RetryAfter.Round(time.Second).Seconds())))
			h.respondError(c, http.StatusTooManyRequests, "rate_limited", "Too many requests", "")
			return
		}
		c.Next()
	}
}
