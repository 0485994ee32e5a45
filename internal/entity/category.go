package entity

import "github.com/google/uuid"

type Category struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Name     string    `json:"name"`
	Icon     string    `json:"icon"`
	Color    string    `json:"color"`
	IsActive bool      `json:"is_active"`
}
