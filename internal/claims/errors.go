// Package claims - errors.go defines the error taxonomy of the admin-claim workflow.
// Handlers map these onto HTTP statuses; everything else stays a wrapped internal error.
package claims

import (
	"errors"
	"fmt"
)

var (
	// ErrFamilyNotFound is returned when the referenced family does not exist
	ErrFamilyNotFound = errors.New("family not found")

	// ErrClaimNotFound is returned when the referenced claim does not exist
	ErrClaimNotFound = errors.New("claim not found")

	// ErrNotFamilyMember is returned when the actor has no active membership in
	// the family the operation targets
	ErrNotFamilyMember = errors.New("not an active member of this family")

	// ErrFamilyNotOrphaned is returned when the family still has an active admin
	ErrFamilyNotOrphaned = errors.New("family still has an active admin")

	// ErrClaimNotPending is returned when an operation requires a pending claim
	ErrClaimNotPending = errors.New("claim is not pending")

	// ErrClaimNotApproved is returned when a grant is attempted on a claim that
	// never reached approval
	ErrClaimNotApproved = errors.New("claim is not approved")

	// ErrClaimTerminal is returned when the claim has already been granted,
	// denied, or expired
	ErrClaimTerminal = errors.New("claim has reached a terminal state")

	// ErrSelfEndorsement is returned when a claimant votes on their own claim
	ErrSelfEndorsement = errors.New("claimants cannot endorse their own claim")

	// ErrInvalidEndorsementType is returned for votes other than support or oppose
	ErrInvalidEndorsementType = errors.New("endorsement type must be support or oppose")

	// ErrOwnerEmailRequired is returned when an email-challenge claim omits the
	// original owner's address
	ErrOwnerEmailRequired = errors.New("original owner email is required for an email challenge")

	// ErrTokenInvalid is returned when no claim matches the presented token
	ErrTokenInvalid = errors.New("verification token is invalid")

	// ErrTokenExpired is returned when the token's 24-hour window has lapsed
	ErrTokenExpired = errors.New("verification token has expired")

	// ErrCoolingOffActive is returned when a grant is attempted before the
	// cooling-off deadline
	ErrCoolingOffActive = errors.New("cooling-off period has not elapsed")
)

// DuplicateClaimError is returned when the claimant already has a live claim on
// the family. It carries the existing claim's ID so clients can link to it.
type DuplicateClaimError struct {
	ExistingClaimID string
}

func (e *DuplicateClaimError) Error() string {
	return fmt.Sprintf("an active claim already exists: %s", e.ExistingClaimID)
}
