package entity

import (
	"strings"
	"time"
)

// Roles permitted to authenticate through the campus portal.
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
	RoleFaculty = "faculty"
	RoleCanteen = "canteen"
)

// WhitelistEntry is the authoritative email -> identity mapping. Only entries
// present here may authenticate; the row is seeded by operators, never by the
// login flow itself.
type WhitelistEntry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Email      string    `gorm:"size:100;not null;uniqueIndex" json:"email"`
	Role       string    `gorm:"size:20;not null" json:"role"`
	CampusID   string    `gorm:"size:20;not null" json:"campus_id"`
	FullName   string    `gorm:"size:100;not null" json:"full_name"`
	Department string    `gorm:"size:100;not null;default:''" json:"department"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (WhitelistEntry) TableName() string {
	return "whitelist_entries"
}

// NormalizeEmail lowercases and trims an email for case-insensitive lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidRole reports whether role is one of the portal roles.
func ValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleAdmin, RoleFaculty, RoleCanteen:
		return true
	}
	return false
}
