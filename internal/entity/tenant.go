package entity

import (
	"slices"

	"github.com/google/uuid"
)

type Tenant struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	IsActive bool      `json:"is_active"`
}

type Role string

const (
	RoleSuperAdmin  Role = "SUPER_ADMIN"
	RoleChurchAdmin Role = "ADMIN_IGLESIA"
	RolePastor      Role = "PASTOR"
	RoleLeader      Role = "LIDER"
	RoleMember      Role = "MIEMBRO"
	RoleService     Role = "SERVICE"
)

var (
	// PastorOrAbove may moderate prayer requests and publish notifications.
	PastorOrAbove = []Role{RoleSuperAdmin, RoleChurchAdmin, RolePastor}
	// Admins may configure automation.
	Admins = []Role{RoleSuperAdmin, RoleChurchAdmin}
)

func (r Role) IsValid() bool {
	switch r {
	case RoleSuperAdmin, RoleChurchAdmin, RolePastor, RoleLeader, RoleMember, RoleService:
		return true
	}
	return false
}

func (r Role) In(roles ...Role) bool {
	return slices.Contains(roles, r)
}

type User struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Role     Role      `json:"role"`
	IsActive bool      `json:"is_active"`
}

// Principal is the authenticated caller as asserted by the auth provider.
type Principal struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     Role
}
