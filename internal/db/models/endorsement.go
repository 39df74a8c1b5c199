// Package models - endorsement.go defines the Endorsement model, one member's vote on
// another member's admin claim. A member gets one vote per claim; voting again replaces
// the earlier vote.
package models

import "time"

// Endorsement types
const (
	EndorsementSupport = "support"
	EndorsementOppose  = "oppose"
)

// Endorsement represents a member's vote on an admin claim
type Endorsement struct {
	ID              string    `db:"id" json:"id"`
	ClaimID         string    `db:"claim_id" json:"claim_id"`
	EndorserID      string    `db:"endorser_id" json:"endorser_id"`
	EndorsementType string    `db:"endorsement_type" json:"endorsement_type"`
	Reason          *string   `db:"reason" json:"reason,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// VoteTally summarizes the votes on a claim against the eligible electorate
type VoteTally struct {
	Support  int `db:"support"`
	Oppose   int `db:"oppose"`
	Eligible int `db:"eligible"` // Active members excluding the claimant
}

// Majority evaluation. A strict majority of the eligible voters decides; with zero
// eligible voters neither side can ever win.
func (t VoteTally) SupportHasMajority() bool {
	return t.Eligible > 0 && t.Support*2 > t.Eligible
}

func (t VoteTally) OpposeHasMajority() bool {
	return t.Eligible > 0 && t.Oppose*2 > t.Eligible
}
