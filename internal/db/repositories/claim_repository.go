// claim_repository.go implements ClaimRepository, providing database queries for the
// admin-claim lifecycle. The two decision points of the workflow, ProcessClaim and
// GrantAfterCoolingOff, each run as a single transaction holding a row lock on the
// claim so concurrent evaluations serialize and every decision sees a consistent
// vote tally and membership state.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/heirloom-app/heirloom/internal/db/models"
)

// ErrDuplicateActiveClaim is returned by Create when the claimant already has a
// pending or approved claim on the family. The partial unique index is the
// authority here, so concurrent creates cannot race past the check.
var ErrDuplicateActiveClaim = errors.New("an active claim already exists for this claimant and family")

const uniqueViolation = "23505"

const claimColumns = `id, family_id, claimant_id, claim_type, status, reason,
	original_owner_email, email_challenge_token_hash, email_challenge_sent_at,
	email_challenge_expires_at, email_verified_at, cooling_off_until, granted_at,
	metadata, created_at, updated_at`

// ClaimRepository handles database operations for admin claims
type ClaimRepository struct {
	db *sqlx.DB
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(db *sqlx.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

// ProcessResult reports the outcome of one processor evaluation
type ProcessResult struct {
	Claim    *models.AdminClaim
	Previous string
	Changed  bool
	Tally    *models.VoteTally // populated for endorsement claims only
}

// GrantOutcome classifies why a grant attempt did or did not promote the claimant
type GrantOutcome string

const (
	GrantGranted           GrantOutcome = "granted"
	GrantClaimNotApproved  GrantOutcome = "claim_not_approved"
	GrantCoolingOffActive  GrantOutcome = "cooling_off_active"
	GrantFamilyNotOrphaned GrantOutcome = "family_not_orphaned"
)

// GrantResult reports the outcome of a grant attempt
type GrantResult struct {
	Outcome GrantOutcome
	Claim   *models.AdminClaim
}

// Create inserts a new claim. The caller populates type-specific fields (email
// challenge token hash and expiry); Create assigns ID and timestamps.
func (r *ClaimRepository) Create(ctx context.Context, claim *models.AdminClaim) error {
	claim.Status = models.ClaimStatusPending
	claim.CreatedAt = time.Now()
	claim.UpdatedAt = claim.CreatedAt
	if claim.Metadata == nil {
		claim.Metadata = []byte(`{}`)
	}

	query := `
		INSERT INTO admin_claims (
			id, family_id, claimant_id, claim_type, status, reason,
			original_owner_email, email_challenge_token_hash, email_challenge_sent_at,
			email_challenge_expires_at, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		claim.ID,
		claim.FamilyID,
		claim.ClaimantID,
		claim.ClaimType,
		claim.Status,
		claim.Reason,
		claim.OriginalOwnerEmail,
		claim.EmailChallengeTokenHash,
		claim.EmailChallengeSentAt,
		claim.EmailChallengeExpiresAt,
		claim.Metadata,
		claim.CreatedAt,
		claim.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateActiveClaim
		}
		return fmt.Errorf("failed to create claim: %w", err)
	}

	return nil
}

// GetByID retrieves a claim by ID
func (r *ClaimRepository) GetByID(ctx context.Context, id string) (*models.AdminClaim, error) {
	claim := &models.AdminClaim{}
	err := r.db.GetContext(ctx, claim,
		`SELECT `+claimColumns+` FROM admin_claims WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return claim, nil
}

// GetActiveClaim retrieves the claimant's live (pending or approved) claim on a
// family, if any
func (r *ClaimRepository) GetActiveClaim(ctx context.Context, familyID, claimantID string) (*models.AdminClaim, error) {
	claim := &models.AdminClaim{}
	err := r.db.GetContext(ctx, claim, `
		SELECT `+claimColumns+`
		FROM admin_claims
		WHERE family_id = $1 AND claimant_id = $2 AND status IN ('pending', 'approved')
	`, familyID, claimantID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active claim: %w", err)
	}
	return claim, nil
}

// GetByTokenHash retrieves a claim by the SHA-256 digest of its email challenge
// token. Only the digest is ever stored, so a stolen database dump cannot be
// replayed against the verification endpoint.
func (r *ClaimRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.AdminClaim, error) {
	claim := &models.AdminClaim{}
	err := r.db.GetContext(ctx, claim, `
		SELECT `+claimColumns+`
		FROM admin_claims
		WHERE email_challenge_token_hash = $1
	`, tokenHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim by token: %w", err)
	}
	return claim, nil
}

// ListByFamily retrieves all claims on a family, newest first
func (r *ClaimRepository) ListByFamily(ctx context.Context, familyID string) ([]*models.AdminClaim, error) {
	claims := make([]*models.AdminClaim, 0)
	err := r.db.SelectContext(ctx, &claims, `
		SELECT `+claimColumns+`
		FROM admin_claims
		WHERE family_id = $1
		ORDER BY created_at DESC
	`, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	return claims, nil
}

// MarkEmailVerified stamps the verification time on a pending email challenge
func (r *ClaimRepository) MarkEmailVerified(ctx context.Context, claimID string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE admin_claims
		SET email_verified_at = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending' AND email_verified_at IS NULL
	`, at, claimID)
	if err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check verification result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("claim not pending or already verified: %s", claimID)
	}
	return nil
}

// ProcessClaim re-evaluates a claim's status inside one transaction. The claim
// row is locked for the duration so two concurrent evaluations (an endorsement
// arriving while the sweeper runs, say) serialize rather than double-decide.
//
// Terminal claims are left untouched and reported unchanged, which makes the
// processor safe to invoke any number of times.
//
// Decision rules:
//   - email_challenge: approve once the owner's email is verified; expire once
//     the token window lapses unverified.
//   - endorsement: approve when supporters form a strict majority of the
//     eligible voters (active members other than the claimant); deny when
//     opposers do. A family with no eligible voters can never auto-approve.
//
// Approval stamps cooling_off_until = now + coolingOff.
func (r *ClaimRepository) ProcessClaim(ctx context.Context, claimID string, coolingOff time.Duration) (*ProcessResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	claim := &models.AdminClaim{}
	err = tx.GetContext(ctx, claim,
		`SELECT `+claimColumns+` FROM admin_claims WHERE id = $1 FOR UPDATE`, claimID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock claim: %w", err)
	}

	result := &ProcessResult{Claim: claim, Previous: claim.Status}
	if claim.IsTerminal() {
		return result, nil
	}

	now := time.Now()
	newStatus := claim.Status
	var coolingOffUntil *time.Time

	switch claim.ClaimType {
	case models.ClaimTypeEmailChallenge:
		if claim.EmailVerifiedAt != nil {
			newStatus = models.ClaimStatusApproved
		} else if claim.EmailChallengeExpired(now) {
			newStatus = models.ClaimStatusExpired
		}

	case models.ClaimTypeEndorsement:
		tally := &models.VoteTally{}
		err = tx.GetContext(ctx, tally, `
			SELECT
				COUNT(*) FILTER (WHERE e.endorsement_type = 'support') AS support,
				COUNT(*) FILTER (WHERE e.endorsement_type = 'oppose')  AS oppose,
				(SELECT COUNT(*) FROM family_members fm
				 WHERE fm.family_id = $1 AND fm.status = 'active' AND fm.user_id <> $2) AS eligible
			FROM claim_endorsements e
			WHERE e.claim_id = $3
		`, claim.FamilyID, claim.ClaimantID, claim.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to tally endorsements: %w", err)
		}
		result.Tally = tally

		if tally.SupportHasMajority() {
			newStatus = models.ClaimStatusApproved
		} else if tally.OpposeHasMajority() {
			newStatus = models.ClaimStatusDenied
		}

	default:
		return nil, fmt.Errorf("unknown claim type: %s", claim.ClaimType)
	}

	if newStatus == claim.Status {
		return result, nil
	}

	if newStatus == models.ClaimStatusApproved {
		until := now.Add(coolingOff)
		coolingOffUntil = &until
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE admin_claims
		SET status = $1, cooling_off_until = $2, updated_at = $3
		WHERE id = $4
	`, newStatus, coolingOffUntil, now, claim.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update claim status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim transition: %w", err)
	}

	claim.Status = newStatus
	claim.CoolingOffUntil = coolingOffUntil
	claim.UpdatedAt = now
	result.Changed = true
	return result, nil
}

// GrantAfterCoolingOff promotes the claimant to admin if and only if the claim
// is approved, its cooling-off period has elapsed, and the family is still
// orphaned. All checks and both writes happen in one transaction with the claim
// and family rows locked, so the grant executes exactly once: a second attempt
// finds the claim already granted and returns without side effects.
func (r *ClaimRepository) GrantAfterCoolingOff(ctx context.Context, claimID string) (*GrantResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	claim := &models.AdminClaim{}
	err = tx.GetContext(ctx, claim,
		`SELECT `+claimColumns+` FROM admin_claims WHERE id = $1 FOR UPDATE`, claimID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock claim: %w", err)
	}

	result := &GrantResult{Claim: claim}
	if claim.Status != models.ClaimStatusApproved {
		result.Outcome = GrantClaimNotApproved
		return result, nil
	}

	now := time.Now()
	if !claim.CoolingOffElapsed(now) {
		result.Outcome = GrantCoolingOffActive
		return result, nil
	}

	// Lock the family row so a concurrent grant on a sibling claim cannot
	// slip in between the orphan check and the promotion.
	var familyID string
	err = tx.GetContext(ctx, &familyID,
		`SELECT id FROM families WHERE id = $1 FOR UPDATE`, claim.FamilyID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock family: %w", err)
	}

	var admins int
	err = tx.GetContext(ctx, &admins, `
		SELECT COUNT(*) FROM family_members
		WHERE family_id = $1 AND role = 'admin' AND status = 'active'
	`, claim.FamilyID)
	if err != nil {
		return nil, fmt.Errorf("failed to count active admins: %w", err)
	}
	if admins > 0 {
		result.Outcome = GrantFamilyNotOrphaned
		return result, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO family_members (family_id, user_id, role, status, created_at)
		VALUES ($1, $2, 'admin', 'active', $3)
		ON CONFLICT (family_id, user_id)
		DO UPDATE SET role = 'admin', status = 'active'
	`, claim.FamilyID, claim.ClaimantID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to promote claimant: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE admin_claims
		SET status = 'granted', granted_at = $1, updated_at = $1
		WHERE id = $2
	`, now, claim.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to stamp grant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit grant: %w", err)
	}

	claim.Status = models.ClaimStatusGranted
	claim.GrantedAt = &now
	claim.UpdatedAt = now
	result.Outcome = GrantGranted
	return result, nil
}

// ListGrantable retrieves the IDs of approved claims whose cooling-off period
// has elapsed. Used by the sweeper; each ID is then passed through
// GrantAfterCoolingOff, which re-checks everything under lock.
func (r *ClaimRepository) ListGrantable(ctx context.Context) ([]string, error) {
	ids := make([]string, 0)
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM admin_claims
		WHERE status = 'approved' AND cooling_off_until <= NOW()
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list grantable claims: %w", err)
	}
	return ids, nil
}

// ListStaleEmailChallenges retrieves the IDs of pending email-challenge claims
// whose token window has lapsed without verification. The sweeper runs each
// through ProcessClaim to flip it to expired.
func (r *ClaimRepository) ListStaleEmailChallenges(ctx context.Context) ([]string, error) {
	ids := make([]string, 0)
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM admin_claims
		WHERE status = 'pending'
		  AND claim_type = 'email_challenge'
		  AND email_verified_at IS NULL
		  AND email_challenge_expires_at < NOW()
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale email challenges: %w", err)
	}
	return ids, nil
}
