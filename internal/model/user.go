package model

import (
	"errors"
	"time"
)

// User represents an authentication user: lab staff or a student borrower.
// Students carry a registration number; staff roles gate the admin and
// stockroom endpoints.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	RegNo        string     `json:"reg_no,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Roles.
const (
	RoleAdmin    = "admin"
	RoleIncharge = "incharge"
	RoleStudent  = "student"
)

// ValidatePassword enforces the minimum password policy.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}

// RoleAtLeast checks if role meets or exceeds the minimum required role.
func RoleAtLeast(role, minimum string) bool {
	levels := map[string]int{
		RoleAdmin:    3,
		RoleIncharge: 2,
		RoleStudent:  1,
	}
	return levels[role] >= levels[minimum]
}
