// Package models - notification.go defines the Notification model for in-app messages
// informing members about admin-claim activity in their family.
package models

import "time"

// Notification types emitted by the claim workflow
const (
	NotificationClaimCreated  = "claim_created"
	NotificationClaimApproved = "claim_approved"
	NotificationClaimDenied   = "claim_denied"
	NotificationClaimExpired  = "claim_expired"
	NotificationClaimGranted  = "claim_granted"
)

// Notification represents an in-app notification for a user
type Notification struct {
	ID               string     `db:"id" json:"id"`
	RecipientID      string     `db:"recipient_id" json:"recipient_id"`
	ClaimID          *string    `db:"claim_id" json:"claim_id,omitempty"`
	NotificationType string     `db:"notification_type" json:"notification_type"`
	Title            string     `db:"title" json:"title"`
	Message          string     `db:"message" json:"message"`
	ReadAt           *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}
