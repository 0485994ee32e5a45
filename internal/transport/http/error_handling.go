package httpt

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/entity"
)

func (h *Handler) handleServiceError(c *gin.Context, op string, err error) {
	ctx := c.Request.Context()
	log := h.log.Ctx(ctx)

	var ve *entity.ValidationError
	switch {
	case errors.As(err, &ve):
		log.LogAttrs(ctx, logger.WarnLevel, "invalid data",
			logger.String("op", op),
			logger.String("field", ve.Field),
			logger.Any("error", err),
		)
		h.respondError(c, http.StatusBadRequest, "invalid_data", ve.Error(), ve.Field)

	case errors.Is(err, entity.ErrValidation):
		log.LogAttrs(ctx, logger.WarnLevel, "invalid data",
			logger.String("op", op),
			logger.Any("error", err),
		)
		h.respondError(c, http.StatusBadRequest, "invalid_data", "Invalid input data", "")

	case errors.Is(err, entity.ErrNotFound):
		log.LogAttrs(ctx, logger.WarnLevel, "not found",
			logger.String("op", op),
			logger.Any("error", err),
		)
		h.respondError(c, http.StatusNotFound, "not_found", "Resource not found", "")

	case errors.Is(err, entity.ErrUnauthorized):
		log.LogAttrs(ctx, logger.WarnLevel, "unauthorized",
			logger.String("op", op),
			logger.Any("error", err),
		)
		h.respondError(c, http.StatusUnauthorized, "unauthorized", "Authentication required", "")

	case errors.Is(err, entity.ErrForbidden):
		log.LogAttrs(ctx, logger.WarnLevel, "forbidden",
			logger.String("op", op),
			logger.Any("error", err),
		)
		h.respondError(c, http.StatusForbidden, "forbidden", "Not allowed", "")

	case errors.Is(err, entity.ErrConflictingData):
		log.LogAttrs(ctx, logger.WarnLevel, "conflicting data",
			logger.String("op", op),
			logger.Any("error", err),
		)
		h.respondError(c, http.StatusConflict, "conflict", "Data conflict occurred", "")

	default:
		log.LogAttrs(ctx, logger.ErrorLevel, "internal server error",
			logger.String("op", op),
			logger.Any("error", err),
		)
		h.respondError(c, http.StatusInternalServerError, "internal_error", "Internal server error occurred", "")
	}
}

func (h *Handler) respondError(c *gin.Context, status int, code, message, field string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message, Code: code, Field: field})
}

// handleBindError reports the first failing field of a request body.
func (h *Handler) handleBindError(c *gin.Context, op string, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		h.handleServiceError(c, op, entity.NewValidationError(fe.Field(), "must satisfy "+fe.Tag()))
		return
	}
	h.handleServiceError(c, op, entity.NewValidationError("", "malformed request body"))
}

func (h *Handler) handleInvalidUUID(c *gin.Context, op, field, value string) {
	h.handleServiceError(c, op, entity.NewValidationError(field, "is not a valid id: "+value))
}
