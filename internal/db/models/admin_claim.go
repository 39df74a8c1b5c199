// Package models - admin_claim.go defines the AdminClaim model, the core record of the
// admin-claim workflow: a member of an orphaned family requesting admin rights either by
// collecting endorsements from other members or by proving control of the original
// owner's email address. Claims move pending -> approved -> granted (or to denied/expired)
// and once terminal never change again.
package models

import "time"

// Claim types
const (
	ClaimTypeEndorsement    = "endorsement"
	ClaimTypeEmailChallenge = "email_challenge"
)

// Claim statuses. Approved claims carry a cooling-off deadline; granted is the
// terminal state stamped when admin rights actually transfer.
const (
	ClaimStatusPending  = "pending"
	ClaimStatusApproved = "approved"
	ClaimStatusDenied   = "denied"
	ClaimStatusExpired  = "expired"
	ClaimStatusGranted  = "granted"
)

// AdminClaim represents a request for admin rights over an orphaned family
type AdminClaim struct {
	ID                      string     `db:"id" json:"id"`
	FamilyID                string     `db:"family_id" json:"family_id"`
	ClaimantID              string     `db:"claimant_id" json:"claimant_id"`
	ClaimType               string     `db:"claim_type" json:"claim_type"`
	Status                  string     `db:"status" json:"status"`
	Reason                  *string    `db:"reason" json:"reason,omitempty"`
	OriginalOwnerEmail      *string    `db:"original_owner_email" json:"original_owner_email,omitempty"`
	EmailChallengeTokenHash *string    `db:"email_challenge_token_hash" json:"-"`
	EmailChallengeSentAt    *time.Time `db:"email_challenge_sent_at" json:"email_challenge_sent_at,omitempty"`
	EmailChallengeExpiresAt *time.Time `db:"email_challenge_expires_at" json:"email_challenge_expires_at,omitempty"`
	EmailVerifiedAt         *time.Time `db:"email_verified_at" json:"email_verified_at,omitempty"`
	CoolingOffUntil         *time.Time `db:"cooling_off_until" json:"cooling_off_until,omitempty"`
	GrantedAt               *time.Time `db:"granted_at" json:"granted_at,omitempty"`
	Metadata                []byte     `db:"metadata" json:"-"`
	CreatedAt               time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time  `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the claim has reached a state it can never leave
func (c *AdminClaim) IsTerminal() bool {
	switch c.Status {
	case ClaimStatusDenied, ClaimStatusExpired, ClaimStatusGranted:
		return true
	}
	return false
}

// EmailChallengeExpired reports whether the claim's email token window has lapsed.
// Expiry is a wall-clock fact evaluated lazily; nothing fires when the deadline passes.
func (c *AdminClaim) EmailChallengeExpired(now time.Time) bool {
	return c.EmailChallengeExpiresAt != nil && now.After(*c.EmailChallengeExpiresAt)
}

// CoolingOffElapsed reports whether the post-approval waiting period has passed
func (c *AdminClaim) CoolingOffElapsed(now time.Time) bool {
	return c.CoolingOffUntil != nil && !now.Before(*c.CoolingOffUntil)
}
