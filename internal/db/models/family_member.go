// Package models - family_member.go defines models for user-to-family membership,
// including the member's role and activity status, plus an enriched view joining
// user details for display.
package models

import "time"

// Membership roles
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Membership statuses
const (
	MemberStatusActive  = "active"
	MemberStatusRemoved = "removed"
)

// FamilyMember represents a user's membership in a family
type FamilyMember struct {
	FamilyID  string    `json:"family_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`   // "admin" or "member"
	Status    string    `json:"status"` // "active" or "removed"
	CreatedAt time.Time `json:"created_at"`
}

// IsActiveAdmin reports whether the membership is an active admin seat
func (m *FamilyMember) IsActiveAdmin() bool {
	return m.Role == RoleAdmin && m.Status == MemberStatusActive
}

// FamilyMemberWithUser includes user details for display
type FamilyMemberWithUser struct {
	FamilyID  string    `json:"family_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UserName  string    `json:"user_name"`
	UserEmail string    `json:"user_email"`
}
