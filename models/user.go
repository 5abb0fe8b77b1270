package models

import (
	"strings"
	"time"
)

type Role string

const (
	RolePending Role = "pending"
	RolePlayer  Role = "player"
	RoleCoach   Role = "coach"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePending, RolePlayer, RoleCoach, RoleAdmin:
		return true
	}
	return false
}

// UserRole is the authorization record of a login email.
type UserRole struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Role       Role       `json:"role"`
	ApprovedBy *string    `json:"approved_by"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at"`
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	Email      string
	Role       Role
	UserRoleID string
}

// NormalizeEmail is the canonical form used as lookup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (p Principal) IsApproved() bool {
	return p.Role == RolePlayer || p.Role == RoleCoach || p.Role == RoleAdmin
}

func (p Principal) IsStaff() bool {
	return p.Role == RoleCoach || p.Role == RoleAdmin
}
