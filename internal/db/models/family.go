// Package models - family.go defines the Family model, the shared space a group of
// relatives keeps their memories in. A family with no active admin is "orphaned" and
// becomes eligible for the admin-claim workflow.
package models

import "time"

// Family represents a family space
type Family struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"` // User who created the family
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
