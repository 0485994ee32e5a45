package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Contact struct {
	ID               uuid.UUID `json:"id"`
	TenantID         uuid.UUID `json:"tenant_id"`
	FullName         string    `json:"full_name"`
	Phone            string    `json:"phone,omitempty"`
	Email            string    `json:"email,omitempty"`
	PreferredChannel Channel   `json:"preferred_channel"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Address returns where a message on ch should go, or "" if the contact
// has no address for it.
func (c Contact) Address(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return c.Email
	case ChannelSMS, ChannelWhatsApp:
		return c.Phone
	}
	return ""
}

// ReachableChannel picks the preferred channel when the contact has an
// address for it, otherwise the first channel that does.
func (c Contact) ReachableChannel() (Channel, bool) {
	if c.PreferredChannel.IsValid() && c.Address(c.PreferredChannel) != "" {
		return c.PreferredChannel, true
	}
	for _, ch := range []Channel{ChannelSMS, ChannelEmail, ChannelWhatsApp} {
		if c.Address(ch) != "" {
			return ch, true
		}
	}
	return "", false
}

type ContactInput struct {
	FullName         string
	Phone            string
	Email            string
	PreferredChannel Channel
}

// Normalize trims the match keys and lowercases the email. Absent values
// become the empty string, which is itself a valid match key.
func (in ContactInput) Normalize() ContactInput {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.PreferredChannel == "" {
		in.PreferredChannel = ChannelSMS
	}
	return in
}

func (in ContactInput) Validate() error {
	if in.FullName == "" {
		return NewValidationError("full_name", "is required")
	}
	if len(in.FullName) > 200 {
		return NewValidationError("full_name", "must be at most 200 characters")
	}
	if in.Phone == "" && in.Email == "" {
		return NewValidationError("phone", "phone or email is required")
	}
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		return NewValidationError("email", "is not a valid address")
	}
	if !in.PreferredChannel.IsValid() {
		return NewValidationError("preferred_channel", "must be one of email, sms, whatsapp")
	}
	return nil
}
