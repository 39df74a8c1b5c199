// Package claims implements the admin-claim workflow: the multi-step, multi-party
// approval process by which a member of an orphaned family acquires admin rights,
// either by collecting a majority of member endorsements or by proving control of
// the original owner's email address. Approval starts a cooling-off period; only
// after it elapses does a grant actually promote the claimant.
//
// The service holds no state machine of its own. Status is data in the claims
// table, and the two decision points (ProcessClaim, GrantAfterCoolingOff) run as
// store transactions, so every instance of the service can evaluate any claim at
// any time and concurrent evaluations serialize on the row lock.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heirloom-app/heirloom/internal/db/models"
	"github.com/heirloom-app/heirloom/internal/db/repositories"
	"github.com/heirloom-app/heirloom/internal/safego"
	"github.com/heirloom-app/heirloom/internal/telemetry"
)

// FamilyStore is the slice of the family repository the service needs
type FamilyStore interface {
	GetByID(ctx context.Context, id string) (*models.Family, error)
	GetMember(ctx context.Context, familyID, userID string) (*models.FamilyMember, error)
	IsOrphaned(ctx context.Context, familyID string) (bool, error)
	ListActiveMemberIDs(ctx context.Context, familyID, excludeUserID string) ([]string, error)
}

// ClaimStore is the slice of the claim repository the service needs
type ClaimStore interface {
	Create(ctx context.Context, claim *models.AdminClaim) error
	GetByID(ctx context.Context, id string) (*models.AdminClaim, error)
	GetActiveClaim(ctx context.Context, familyID, claimantID string) (*models.AdminClaim, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.AdminClaim, error)
	ListByFamily(ctx context.Context, familyID string) ([]*models.AdminClaim, error)
	MarkEmailVerified(ctx context.Context, claimID string, at time.Time) error
	ProcessClaim(ctx context.Context, claimID string, coolingOff time.Duration) (*repositories.ProcessResult, error)
	GrantAfterCoolingOff(ctx context.Context, claimID string) (*repositories.GrantResult, error)
	ListGrantable(ctx context.Context) ([]string, error)
	ListStaleEmailChallenges(ctx context.Context) ([]string, error)
}

// EndorsementStore is the slice of the endorsement repository the service needs
type EndorsementStore interface {
	Upsert(ctx context.Context, claimID, endorserID, endorsementType string, reason *string) (*models.Endorsement, error)
	ListByClaim(ctx context.Context, claimID string) ([]*models.Endorsement, error)
}

// UserStore is the slice of the user repository the service needs: resolving
// the claimant's address for the decision notice
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Notifier fans out in-app notifications. Implementations must be best-effort:
// a failed notification never fails the operation that triggered it.
type Notifier interface {
	ClaimCreated(claim *models.AdminClaim, familyName string, recipients []string)
	ClaimTransition(claim *models.AdminClaim, previous, familyName string, recipients []string)
}

// Mailer sends the email-challenge verification message and the decision
// notice that tells the claimant a claim reached its final state
type Mailer interface {
	SendClaimChallenge(ctx context.Context, to, familyName, claimantName, rawToken string) error
	SendDecisionNotice(ctx context.Context, to, familyName, status string) error
}

// AuditStore records domain-level audit entries
type AuditStore interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Service orchestrates the admin-claim workflow. All collaborators are injected;
// the service owns no connections or package-level state.
type Service struct {
	families     FamilyStore
	claimsRepo   ClaimStore
	endorsements EndorsementStore
	users        UserStore
	notifier     Notifier
	mailer       Mailer
	audit        AuditStore

	coolingOff    time.Duration
	emailTokenTTL time.Duration
}

// NewService creates a claim service
func NewService(
	families FamilyStore,
	claimsRepo ClaimStore,
	endorsements EndorsementStore,
	users UserStore,
	notifier Notifier,
	mailer Mailer,
	audit AuditStore,
	coolingOff, emailTokenTTL time.Duration,
) *Service {
	return &Service{
		families:      families,
		claimsRepo:    claimsRepo,
		endorsements:  endorsements,
		users:         users,
		notifier:      notifier,
		mailer:        mailer,
		audit:         audit,
		coolingOff:    coolingOff,
		emailTokenTTL: emailTokenTTL,
	}
}

// CreateInput carries the parameters of a new claim
type CreateInput struct {
	FamilyID           string
	ClaimantID         string
	ClaimantName       string
	ClaimType          string
	Reason             *string
	OriginalOwnerEmail *string
}

// Create opens a new claim on an orphaned family. For email challenges it
// generates the verification token, stores only its digest, and emails the raw
// token to the purported original owner. The verification email and the member
// notifications are fire-and-forget.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.AdminClaim, error) {
	if in.ClaimType != models.ClaimTypeEndorsement && in.ClaimType != models.ClaimTypeEmailChallenge {
		return nil, fmt.Errorf("unknown claim type: %s", in.ClaimType)
	}

	family, err := s.families.GetByID(ctx, in.FamilyID)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, ErrFamilyNotFound
	}

	member, err := s.families.GetMember(ctx, in.FamilyID, in.ClaimantID)
	if err != nil {
		return nil, err
	}
	if member == nil || member.Status != models.MemberStatusActive {
		return nil, ErrNotFamilyMember
	}

	orphaned, err := s.families.IsOrphaned(ctx, in.FamilyID)
	if err != nil {
		return nil, err
	}
	if !orphaned {
		return nil, ErrFamilyNotOrphaned
	}

	claim := &models.AdminClaim{
		ID:         uuid.New().String(),
		FamilyID:   in.FamilyID,
		ClaimantID: in.ClaimantID,
		ClaimType:  in.ClaimType,
		Reason:     in.Reason,
	}

	var rawToken string
	if in.ClaimType == models.ClaimTypeEmailChallenge {
		if in.OriginalOwnerEmail == nil || *in.OriginalOwnerEmail == "" {
			return nil, ErrOwnerEmailRequired
		}
		raw, digest, err := NewChallengeToken()
		if err != nil {
			return nil, err
		}
		rawToken = raw
		now := time.Now()
		expires := now.Add(s.emailTokenTTL)
		claim.OriginalOwnerEmail = in.OriginalOwnerEmail
		claim.EmailChallengeTokenHash = &digest
		claim.EmailChallengeSentAt = &now
		claim.EmailChallengeExpiresAt = &expires
	}

	if err := s.claimsRepo.Create(ctx, claim); err != nil {
		if errors.Is(err, repositories.ErrDuplicateActiveClaim) {
			existing, lookupErr := s.claimsRepo.GetActiveClaim(ctx, in.FamilyID, in.ClaimantID)
			if lookupErr != nil || existing == nil {
				return nil, &DuplicateClaimError{}
			}
			return nil, &DuplicateClaimError{ExistingClaimID: existing.ID}
		}
		return nil, err
	}

	telemetry.ClaimsCreatedTotal.WithLabelValues(claim.ClaimType).Inc()

	if rawToken != "" {
		to := *in.OriginalOwnerEmail
		safego.Go(func() {
			if err := s.mailer.SendClaimChallenge(context.Background(), to, family.Name, in.ClaimantName, rawToken); err != nil {
				slog.Error("failed to send challenge email", "claim_id", claim.ID, "error", err)
			}
		})
	}

	s.fanOutCreated(claim, family.Name)
	s.recordAudit(ctx, &in.ClaimantID, claim, "claim.create", map[string]interface{}{
		"claim_type": claim.ClaimType,
	})

	return claim, nil
}

// Endorse records a member's vote on a pending claim and immediately re-runs
// the processor, so a decisive vote transitions the claim in the same call.
// Voting again replaces the earlier vote.
func (s *Service) Endorse(ctx context.Context, claimID, endorserID, endorsementType string, reason *string) (*models.Endorsement, *models.AdminClaim, error) {
	if endorsementType != models.EndorsementSupport && endorsementType != models.EndorsementOppose {
		return nil, nil, ErrInvalidEndorsementType
	}

	claim, err := s.claimsRepo.GetByID(ctx, claimID)
	if err != nil {
		return nil, nil, err
	}
	if claim == nil {
		return nil, nil, ErrClaimNotFound
	}
	if claim.Status != models.ClaimStatusPending {
		return nil, nil, ErrClaimNotPending
	}
	if endorserID == claim.ClaimantID {
		return nil, nil, ErrSelfEndorsement
	}

	member, err := s.families.GetMember(ctx, claim.FamilyID, endorserID)
	if err != nil {
		return nil, nil, err
	}
	if member == nil || member.Status != models.MemberStatusActive {
		return nil, nil, ErrNotFamilyMember
	}

	endorsement, err := s.endorsements.Upsert(ctx, claimID, endorserID, endorsementType, reason)
	if err != nil {
		return nil, nil, err
	}
	telemetry.EndorsementsRecordedTotal.WithLabelValues(endorsementType).Inc()

	processed, err := s.Process(ctx, claimID)
	if err != nil {
		return nil, nil, err
	}

	s.recordAudit(ctx, &endorserID, processed, "claim.endorse", map[string]interface{}{
		"endorsement_type": endorsementType,
	})

	return endorsement, processed, nil
}

// VerifyEmail resolves a raw challenge token to its claim and, if the token is
// still live, stamps the verification and re-runs the processor. A token past
// its window flips the claim to expired and reports ErrTokenExpired; an unknown
// token is indistinguishable from a consumed one and reports ErrTokenInvalid.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string) (*models.AdminClaim, error) {
	if rawToken == "" {
		return nil, ErrTokenInvalid
	}

	claim, err := s.claimsRepo.GetByTokenHash(ctx, HashToken(rawToken))
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, ErrTokenInvalid
	}

	if claim.Status != models.ClaimStatusPending {
		if claim.Status == models.ClaimStatusExpired {
			return nil, ErrTokenExpired
		}
		return nil, ErrClaimNotPending
	}

	if claim.EmailChallengeExpired(time.Now()) {
		// Flip the claim to expired on the way out
		if _, procErr := s.Process(ctx, claim.ID); procErr != nil {
			slog.Error("failed to expire stale challenge", "claim_id", claim.ID, "error", procErr)
		}
		return nil, ErrTokenExpired
	}

	if err := s.claimsRepo.MarkEmailVerified(ctx, claim.ID, time.Now()); err != nil {
		return nil, err
	}

	processed, err := s.Process(ctx, claim.ID)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, nil, processed, "claim.verify_email", nil)
	return processed, nil
}

// VerifyEmailForClaim is VerifyEmail scoped to one claim: the token must
// resolve to claimID or it is treated as invalid, so a token belonging to
// another claim can never be consumed through this claim's endpoint.
func (s *Service) VerifyEmailForClaim(ctx context.Context, claimID, rawToken string) (*models.AdminClaim, error) {
	if rawToken == "" {
		return nil, ErrTokenInvalid
	}

	claim, err := s.claimsRepo.GetByTokenHash(ctx, HashToken(rawToken))
	if err != nil {
		return nil, err
	}
	if claim == nil || claim.ID != claimID {
		return nil, ErrTokenInvalid
	}

	return s.VerifyEmail(ctx, rawToken)
}

// Process re-evaluates a claim and fans out notifications if it transitioned.
// Safe to call any number of times on any claim.
func (s *Service) Process(ctx context.Context, claimID string) (*models.AdminClaim, error) {
	result, err := s.claimsRepo.ProcessClaim(ctx, claimID, s.coolingOff)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrClaimNotFound
	}

	if result.Changed {
		telemetry.ClaimTransitionsTotal.WithLabelValues(result.Previous, result.Claim.Status).Inc()
		s.fanOutTransition(result.Claim, result.Previous)
	}

	return result.Claim, nil
}

// Grant executes the final promotion for an approved claim whose cooling-off
// period has elapsed. The store transaction re-checks every precondition under
// lock, so a duplicate invocation or a family that regained an admin in the
// meantime produces a typed error and no writes.
func (s *Service) Grant(ctx context.Context, claimID string) (*models.AdminClaim, error) {
	result, err := s.claimsRepo.GrantAfterCoolingOff(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrClaimNotFound
	}

	switch result.Outcome {
	case repositories.GrantGranted:
		telemetry.ClaimTransitionsTotal.WithLabelValues(models.ClaimStatusApproved, models.ClaimStatusGranted).Inc()
		s.fanOutTransition(result.Claim, models.ClaimStatusApproved)
		s.recordAudit(ctx, nil, result.Claim, "claim.grant", map[string]interface{}{
			"claimant_id": result.Claim.ClaimantID,
		})
		return result.Claim, nil

	case repositories.GrantCoolingOffActive:
		return nil, ErrCoolingOffActive

	case repositories.GrantFamilyNotOrphaned:
		return nil, ErrFamilyNotOrphaned

	default: // GrantClaimNotApproved
		if result.Claim.IsTerminal() {
			return nil, ErrClaimTerminal
		}
		return nil, ErrClaimNotApproved
	}
}

// GetClaim retrieves a claim, restricted to members of its family
func (s *Service) GetClaim(ctx context.Context, claimID, viewerID string) (*models.AdminClaim, error) {
	claim, err := s.claimsRepo.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, ErrClaimNotFound
	}

	member, err := s.families.GetMember(ctx, claim.FamilyID, viewerID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotFamilyMember
	}

	return claim, nil
}

// ListFamilyClaims retrieves a family's claims, restricted to its members
func (s *Service) ListFamilyClaims(ctx context.Context, familyID, viewerID string) ([]*models.AdminClaim, error) {
	family, err := s.families.GetByID(ctx, familyID)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, ErrFamilyNotFound
	}

	member, err := s.families.GetMember(ctx, familyID, viewerID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotFamilyMember
	}

	return s.claimsRepo.ListByFamily(ctx, familyID)
}

// ListEndorsements retrieves the votes on a claim, restricted to family members
func (s *Service) ListEndorsements(ctx context.Context, claimID, viewerID string) ([]*models.Endorsement, error) {
	if _, err := s.GetClaim(ctx, claimID, viewerID); err != nil {
		return nil, err
	}
	return s.endorsements.ListByClaim(ctx, claimID)
}

// SweepResult reports what one sweep pass did
type SweepResult struct {
	Expired int
	Granted int
}

// Sweep performs one maintenance pass: expire pending email challenges whose
// token window has lapsed, then grant approved claims whose cooling-off period
// has elapsed. Every candidate is re-validated under lock by the store, so
// running sweeps concurrently with user traffic is safe.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	stale, err := s.claimsRepo.ListStaleEmailChallenges(ctx)
	if err != nil {
		return result, err
	}
	for _, id := range stale {
		claim, err := s.Process(ctx, id)
		if err != nil {
			slog.Error("sweep: failed to expire challenge", "claim_id", id, "error", err)
			continue
		}
		if claim.Status == models.ClaimStatusExpired {
			result.Expired++
		}
	}

	grantable, err := s.claimsRepo.ListGrantable(ctx)
	if err != nil {
		return result, err
	}
	for _, id := range grantable {
		if _, err := s.Grant(ctx, id); err != nil {
			// Another grant or a returning admin can race the sweep; both
			// surface as typed errors and are expected.
			slog.Warn("sweep: grant skipped", "claim_id", id, "error", err)
			continue
		}
		result.Granted++
	}

	return result, nil
}

// fanOutCreated notifies the family's other active members about a new claim
func (s *Service) fanOutCreated(claim *models.AdminClaim, familyName string) {
	safego.Go(func() {
		recipients, err := s.families.ListActiveMemberIDs(context.Background(), claim.FamilyID, claim.ClaimantID)
		if err != nil {
			slog.Error("failed to resolve notification recipients", "claim_id", claim.ID, "error", err)
			return
		}
		s.notifier.ClaimCreated(claim, familyName, recipients)
	})
}

// fanOutTransition notifies all active members, claimant included, about a
// status change, and emails the claimant the outcome once the claim reaches a
// terminal state
func (s *Service) fanOutTransition(claim *models.AdminClaim, previous string) {
	safego.Go(func() {
		ctx := context.Background()

		familyName := ""
		if family, err := s.families.GetByID(ctx, claim.FamilyID); err != nil {
			slog.Error("failed to resolve family for notification", "claim_id", claim.ID, "error", err)
		} else if family != nil {
			familyName = family.Name
		}

		recipients, err := s.families.ListActiveMemberIDs(ctx, claim.FamilyID, "")
		if err != nil {
			slog.Error("failed to resolve notification recipients", "claim_id", claim.ID, "error", err)
			return
		}
		s.notifier.ClaimTransition(claim, previous, familyName, recipients)

		if claim.IsTerminal() {
			s.mailDecision(ctx, claim, familyName)
		}
	})
}

// mailDecision emails the claimant the final outcome of their claim.
// Best-effort like the rest of the fan-out.
func (s *Service) mailDecision(ctx context.Context, claim *models.AdminClaim, familyName string) {
	claimant, err := s.users.GetByID(ctx, claim.ClaimantID)
	if err != nil || claimant == nil {
		slog.Error("failed to resolve claimant for decision notice", "claim_id", claim.ID, "error", err)
		return
	}
	if err := s.mailer.SendDecisionNotice(ctx, claimant.Email, familyName, claim.Status); err != nil {
		slog.Error("failed to send decision notice", "claim_id", claim.ID, "to", claimant.Email, "error", err)
	}
}

// recordAudit writes a domain audit row; failures are logged, never propagated
func (s *Service) recordAudit(ctx context.Context, userID *string, claim *models.AdminClaim, action string, metadata map[string]interface{}) {
	resourceType := "claim"
	entry := &models.AuditLog{
		UserID:       userID,
		FamilyID:     &claim.FamilyID,
		Action:       action,
		ResourceType: &resourceType,
		ResourceID:   &claim.ID,
		Metadata:     metadata,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		slog.Error("failed to write audit entry", "action", action, "claim_id", claim.ID, "error", err)
	}
}
