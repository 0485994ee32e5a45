package httpt

import (
	"encoding/json"
	"time"

	"prayerflow/internal/entity"
)

type SubmitPrayerRequest struct {
	TenantID         string `json:"tenant_id"         binding:"required,uuid"`
	CategoryID       string `json:"category_id"       binding:"required,uuid"`
	FullName         string `json:"full_name"         binding:"required,max=200"`
	Phone            string `json:"phone"             binding:"omitempty,max=32"`
	Email            string `json:"email"             binding:"omitempty,email"`
	PreferredChannel string `json:"preferred_channel" binding:"omitempty,oneof=email sms whatsapp"`
	Message          string `json:"message"           binding:"max=5000"`
	IsAnonymous      bool   `json:"is_anonymous"`
	Priority         string `json:"priority"          binding:"omitempty,oneof=low normal high urgent"`
	Source           string `json:"source"            binding:"omitempty,max=50"`
}

type SubmitPrayerResponse struct {
	ID       string                  `json:"id"`
	Status   entity.ModerationStatus `json:"status"`
	Priority entity.Priority         `json:"priority"`
	Message  string                  `json:"message"`
}

type DecideRequest struct {
	ApprovalIDs []string `json:"approval_ids" binding:"required,min=1,max=500,dive,uuid"`
	Action      string   `json:"action"       binding:"required,oneof=approve reject"`
	Notes       *string  `json:"notes"        binding:"omitempty,max=1000"`
}

type DecideResponse struct {
	Decided int    `json:"decided"`
	Action  string `json:"action"`
}

type CreateRuleRequest struct {
	Name       string             `json:"name"       binding:"required,max=120"`
	Position   int                `json:"position"   binding:"gte=0"`
	IsActive   *bool              `json:"is_active"`
	Kind       entity.RuleKind    `json:"kind"       binding:"required"`
	Conditions []entity.Condition `json:"conditions"`
	Config     json.RawMessage    `json:"config"`
}

type EnqueueRequest struct {
	RequestID   string     `json:"request_id"   binding:"required,uuid"`
	ContactID   string     `json:"contact_id"   binding:"required,uuid"`
	Channel     string     `json:"channel"      binding:"required,oneof=email sms whatsapp"`
	Content     string     `json:"content"      binding:"required,max=5000"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

type PublishNotificationRequest struct {
	Title      string            `json:"title"       binding:"required,max=200"`
	Message    string            `json:"message"     binding:"required,max=5000"`
	Type       string            `json:"type"        binding:"omitempty,oneof=INFO WARNING SUCCESS ERROR"`
	IsGlobal   bool              `json:"is_global"`
	TargetUser *string           `json:"target_user" binding:"omitempty,uuid"`
	TargetRole *string           `json:"target_role"`
	Recipients []string          `json:"recipients"  binding:"omitempty,dive,uuid"`
	Variables  map[string]string `json:"variables"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}
