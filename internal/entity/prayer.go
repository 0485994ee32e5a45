package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities; unknown values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityNormal:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

func (p Priority) IsValid() bool { return p.Rank() > 0 }

// Max returns the higher of the two priorities.
func (p Priority) Max(other Priority) Priority {
	if other.Rank() > p.Rank() {
		return other
	}
	return p
}

// ModerationStatus is shared by prayer requests and their approvals so the
// two can only ever hold the same set of values.
type ModerationStatus string

const (
	StatusPending  ModerationStatus = "pending"
	StatusApproved ModerationStatus = "approved"
	StatusRejected ModerationStatus = "rejected"
)

func (s ModerationStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

const (
	SourceDirect = "direct"

	MaxMessageLength = 5000
)

type PrayerRequest struct {
	ID            uuid.UUID        `json:"id"`
	TenantID      uuid.UUID        `json:"tenant_id"`
	ContactID     uuid.UUID        `json:"contact_id"`
	CategoryID    uuid.UUID        `json:"category_id"`
	Message       string           `json:"message"`
	IsAnonymous   bool             `json:"is_anonymous"`
	Priority      Priority         `json:"priority"`
	Status        ModerationStatus `json:"status"`
	Source        string           `json:"source"`
	NeedsFollowUp bool             `json:"needs_follow_up"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type Approval struct {
	ID         uuid.UUID        `json:"id"`
	RequestID  uuid.UUID        `json:"request_id"`
	TenantID   uuid.UUID        `json:"tenant_id"`
	Status     ModerationStatus `json:"status"`
	ApproverID *uuid.UUID       `json:"approver_id,omitempty"`
	ApprovedAt *time.Time       `json:"approved_at,omitempty"`
	Notes      *string          `json:"notes,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

type SubmitInput struct {
	TenantID    uuid.UUID
	Contact     ContactInput
	CategoryID  uuid.UUID
	Message     string
	IsAnonymous bool
	Priority    Priority
	Source      string
}

func (in SubmitInput) Normalize() SubmitInput {
	in.Contact = in.Contact.Normalize()
	in.Message = strings.TrimSpace(in.Message)
	in.Source = strings.TrimSpace(in.Source)
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	if in.Source == "" {
		in.Source = SourceDirect
	}
	return in
}

func (in SubmitInput) Validate() error {
	if in.TenantID == uuid.Nil {
		return NewValidationError("tenant_id", "is required")
	}
	if in.CategoryID == uuid.Nil {
		return NewValidationError("category_id", "is required")
	}
	if len(in.Message) > MaxMessageLength {
		return NewValidationError("message", "is too long")
	}
	if !in.Priority.IsValid() {
		return NewValidationError("priority", "must be one of low, normal, high, urgent")
	}
	return in.Contact.Validate()
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

func (d Decision) Status() ModerationStatus {
	if d == DecisionApprove {
		return StatusApproved
	}
	return StatusRejected
}

type PendingFilter struct {
	CategoryID *uuid.UUID
	Priority   *Priority
}

type Page struct {
	Page  int
	Limit int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize clamps the page into sane bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

func (p Page) Offset() uint64 {
	return uint64((p.Page - 1) * p.Limit) //nolint:gosec // normalized
}

// PendingItem is one row of the approval queue.
type PendingItem struct {
	Approval Approval      `json:"approval"`
	Request  PrayerRequest `json:"request"`
	Contact  Contact       `json:"contact"`
	Category Category      `json:"category"`
}
