// Package staff manages a tenant's roles and employees and authenticates
// staff members. A staff profile is the identity tasks are assigned to.
package staff

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("staff: not found")
	ErrDuplicate = errors.New("staff: duplicate")
	ErrRoleInUse = errors.New("staff: role still assigned")
)

type Role struct {
	ID                 uuid.UUID `json:"id"`
	TenantID           uuid.UUID `json:"tenant_id"`
	Name               string    `json:"name"`
	MonthlySalaryCents int64     `json:"monthly_salary_cents"`
	CreatedAt          time.Time `json:"created_at"`
}

type Profile struct {
	ID           uuid.UUID  `json:"id"`
	TenantID     uuid.UUID  `json:"tenant_id"`
	LocationID   *uuid.UUID `json:"location_id,omitempty"`
	RoleID       uuid.UUID  `json:"role_id"`
	FullName     string     `json:"full_name"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone"`
	PasswordHash string     `json:"-"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
