package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type RuleKind string

const (
	RuleAutoApprove      RuleKind = "auto_approve"
	RuleAutoReject       RuleKind = "auto_reject"
	RuleEscalatePriority RuleKind = "escalate_priority"
)

// RuleAction is the closed set of things a rule can do. The concrete type
// is selected by RuleKind when decoding.
type RuleAction interface {
	Kind() RuleKind
	Terminal() bool
	Validate() error
}

type AutoApprove struct {
	// Template is rendered into the outgoing message; empty uses the default.
	Template string `json:"template,omitempty"`
	// Channel overrides the contact's preferred channel.
	Channel Channel `json:"channel,omitempty"`
}

func (AutoApprove) Kind() RuleKind { return RuleAutoApprove }
func (AutoApprove) Terminal() bool { return true }
func (a AutoApprove) Validate() error {
	if a.Channel != "" && !a.Channel.IsValid() {
		return NewValidationError("config.channel", "must be one of email, sms, whatsapp")
	}
	return nil
}

type AutoReject struct {
	Reason string `json:"reason,omitempty"`
}

func (AutoReject) Kind() RuleKind  { return RuleAutoReject }
func (AutoReject) Terminal() bool  { return true }
func (AutoReject) Validate() error { return nil }

type EscalatePriority struct {
	To Priority `json:"to"`
}

func (EscalatePriority) Kind() RuleKind { return RuleEscalatePriority }
func (EscalatePriority) Terminal() bool { return false }
func (e EscalatePriority) Validate() error {
	if !e.To.IsValid() {
		return NewValidationError("config.to", "must be one of low, normal, high, urgent")
	}
	return nil
}

// DecodeAction picks the variant for kind and strictly decodes raw into it.
func DecodeAction(kind RuleKind, raw json.RawMessage) (RuleAction, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}

	var action RuleAction
	switch kind {
	case RuleAutoApprove:
		var a AutoApprove
		if err := decodeStrict(raw, &a); err != nil {
			return nil, err
		}
		action = a
	case RuleAutoReject:
		var a AutoReject
		if err := decodeStrict(raw, &a); err != nil {
			return nil, err
		}
		action = a
	case RuleEscalatePriority:
		var a EscalatePriority
		if err := decodeStrict(raw, &a); err != nil {
			return nil, err
		}
		action = a
	default:
		return nil, NewValidationError("kind", fmt.Sprintf("unknown rule kind %q", kind))
	}

	if err := action.Validate(); err != nil {
		return nil, err
	}
	return action, nil
}

func decodeStrict(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return NewValidationError("config", err.Error())
	}
	return nil
}

type ConditionField string

const (
	FieldCategory    ConditionField = "category"
	FieldCategoryID  ConditionField = "category_id"
	FieldPriority    ConditionField = "priority"
	FieldSource      ConditionField = "source"
	FieldIsAnonymous ConditionField = "is_anonymous"
	FieldMessage     ConditionField = "message"
)

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpIn          Operator = "in"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIsTrue      Operator = "is_true"
	OpIsFalse     Operator = "is_false"
)

type Condition struct {
	Field    ConditionField `json:"field"`
	Operator Operator       `json:"operator"`
	Value    string         `json:"value,omitempty"`
}

func (c Condition) Validate() error {
	switch c.Field {
	case FieldCategory, FieldCategoryID, FieldPriority, FieldSource, FieldIsAnonymous, FieldMessage:
	default:
		return NewValidationError("conditions.field", fmt.Sprintf("unknown field %q", c.Field))
	}

	switch c.Operator {
	case OpIsTrue, OpIsFalse:
		return nil
	case OpEquals, OpNotEquals, OpContains, OpIn, OpGreaterThan, OpLessThan:
	default:
		return NewValidationError("conditions.operator", fmt.Sprintf("unknown operator %q", c.Operator))
	}

	if strings.TrimSpace(c.Value) == "" {
		return NewValidationError("conditions.value", "is required for "+string(c.Operator))
	}
	if c.Field == FieldPriority && c.Operator != OpIn && c.Operator != OpContains &&
		!Priority(strings.ToLower(c.Value)).IsValid() {
		return NewValidationError("conditions.value", "must be a priority")
	}
	return nil
}

// RuleSubject is the view of a prayer request that conditions see.
type RuleSubject struct {
	CategoryID  uuid.UUID
	Category    string
	Priority    Priority
	Source      string
	IsAnonymous bool
	Message     string
}

func (s RuleSubject) value(f ConditionField) string {
	switch f {
	case FieldCategory:
		return s.Category
	case FieldCategoryID:
		return s.CategoryID.String()
	case FieldPriority:
		return string(s.Priority)
	case FieldSource:
		return s.Source
	case FieldIsAnonymous:
		return strconv.FormatBool(s.IsAnonymous)
	case FieldMessage:
		return s.Message
	}
	return ""
}

// Matches applies the condition. String comparisons ignore case; ordering
// on priority compares ranks, on anything else parses numbers.
func (c Condition) Matches(s RuleSubject) bool {
	got := s.value(c.Field)

	switch c.Operator {
	case OpEquals:
		return strings.EqualFold(got, c.Value)
	case OpNotEquals:
		return !strings.EqualFold(got, c.Value)
	case OpContains:
		return strings.Contains(strings.ToLower(got), strings.ToLower(c.Value))
	case OpIn:
		for _, v := range strings.Split(c.Value, ",") {
			if strings.EqualFold(got, strings.TrimSpace(v)) {
				return true
			}
		}
		return false
	case OpGreaterThan, OpLessThan:
		var left, right float64
		if c.Field == FieldPriority {
			left = float64(s.Priority.Rank())
			right = float64(Priority(strings.ToLower(c.Value)).Rank())
		} else {
			var err1, err2 error
			left, err1 = strconv.ParseFloat(got, 64)
			right, err2 = strconv.ParseFloat(c.Value, 64)
			if err1 != nil || err2 != nil {
				return false
			}
		}
		if c.Operator == OpGreaterThan {
			return left > right
		}
		return left < right
	case OpIsTrue:
		return truthy(got)
	case OpIsFalse:
		return !truthy(got)
	}
	return false
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(v)
	if err == nil {
		return b
	}
	return v != ""
}

type Rule struct {
	ID         uuid.UUID   `json:"id"`
	TenantID   uuid.UUID   `json:"tenant_id"`
	Name       string      `json:"name"`
	Position   int         `json:"position"`
	IsActive   bool        `json:"is_active"`
	Conditions []Condition `json:"conditions"`
	Action     RuleAction  `json:"-"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Matches reports whether every condition holds; no conditions always match.
func (r Rule) Matches(s RuleSubject) bool {
	for _, c := range r.Conditions {
		if !c.Matches(s) {
			return false
		}
	}
	return true
}

func (r Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return NewValidationError("name", "is required")
	}
	if r.Action == nil {
		return NewValidationError("kind", "is required")
	}
	for _, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return r.Action.Validate()
}

type ruleJSON struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   uuid.UUID       `json:"tenant_id"`
	Name       string          `json:"name"`
	Position   int             `json:"position"`
	IsActive   bool            `json:"is_active"`
	Conditions []Condition     `json:"conditions"`
	Kind       RuleKind        `json:"kind"`
	Config     json.RawMessage `json:"config"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (r Rule) MarshalJSON() ([]byte, error) {
	out := ruleJSON{
		ID:         r.ID,
		TenantID:   r.TenantID,
		Name:       r.Name,
		Position:   r.Position,
		IsActive:   r.IsActive,
		Conditions: r.Conditions,
		CreatedAt:  r.CreatedAt,
	}
	if out.Conditions == nil {
		out.Conditions = []Condition{}
	}
	if r.Action != nil {
		cfg, err := json.Marshal(r.Action)
		if err != nil {
			return nil, err
		}
		out.Kind = r.Action.Kind()
		out.Config = cfg
	}
	return json.Marshal(out)
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var in ruleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	action, err := DecodeAction(in.Kind, in.Config)
	if err != nil {
		return err
	}
	*r = Rule{
		ID:         in.ID,
		TenantID:   in.TenantID,
		Name:       in.Name,
		Position:   in.Position,
		IsActive:   in.IsActive,
		Conditions: in.Conditions,
		Action:     action,
		CreatedAt:  in.CreatedAt,
	}
	return nil
}
