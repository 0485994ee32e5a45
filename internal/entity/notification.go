package entity

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationInfo    NotificationType = "INFO"
	NotificationWarning NotificationType = "WARNING"
	NotificationSuccess NotificationType = "SUCCESS"
	NotificationError   NotificationType = "ERROR"
)

func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationInfo, NotificationWarning, NotificationSuccess, NotificationError:
		return true
	}
	return false
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"

	DeliveryMethodInApp = "in-app"
)

// Notification is one shared event. It deliberately has no read state:
// that lives on NotificationDelivery, one row per recipient.
type Notification struct {
	ID         uuid.UUID        `json:"id"`
	TenantID   uuid.UUID        `json:"tenant_id"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	Type       NotificationType `json:"type"`
	IsGlobal   bool             `json:"is_global"`
	TargetUser *uuid.UUID       `json:"target_user,omitempty"`
	TargetRole *Role            `json:"target_role,omitempty"`
	CreatedBy  *uuid.UUID       `json:"created_by,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

type NotificationDelivery struct {
	ID             uuid.UUID      `json:"id"`
	NotificationID uuid.UUID      `json:"notification_id"`
	UserID         uuid.UUID      `json:"user_id"`
	DeliveryMethod string         `json:"delivery_method"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	IsRead         bool           `json:"is_read"`
	ReadAt         *time.Time     `json:"read_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

type NotificationInput struct {
	Title      string
	Message    string
	Type       NotificationType
	IsGlobal   bool
	TargetUser *uuid.UUID
	TargetRole *Role
	Variables  map[string]string
	CreatedBy  *uuid.UUID
}

func (in NotificationInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return NewValidationError("title", "is required")
	}
	if strings.TrimSpace(in.Message) == "" {
		return NewValidationError("message", "is required")
	}
	if !in.Type.IsValid() {
		return NewValidationError("type", "must be one of INFO, WARNING, SUCCESS, ERROR")
	}
	if in.TargetRole != nil && !in.TargetRole.IsValid() {
		return NewValidationError("target_role", "is not a known role")
	}
	return nil
}

const UndefinedVariable = "[undefined]"

var _placeholder = regexp.MustCompile(`{{\s*([A-Za-z0-9_]+)\s*}}`)

// RenderVariables replaces {{name}} placeholders; unknown names render as
// UndefinedVariable. Lookup is case-insensitive.
func RenderVariables(text string, vars map[string]string) string {
	lowered := make(map[string]string, len(vars))
	for k, v := range vars {
		lowered[strings.ToLower(k)] = v
	}
	return _placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := strings.ToLower(_placeholder.FindStringSubmatch(m)[1])
		if v, ok := lowered[name]; ok {
			return v
		}
		return UndefinedVariable
	})
}

// InboxItem is a delivery joined with the notification it refers to.
type InboxItem struct {
	Notification Notification         `json:"notification"`
	Delivery     NotificationDelivery `json:"delivery"`
}

type Inbox struct {
	Items       []InboxItem `json:"items"`
	Total       int         `json:"total"`
	UnreadCount int         `json:"unread_count"`
}
