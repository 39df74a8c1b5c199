package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/heirloom-app/heirloom/internal/db/models"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newClaimRepo(t *testing.T) (*ClaimRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewClaimRepository(sqlx.NewDb(db, "sqlmock")), mock
}

var claimCols = []string{
	"id", "family_id", "claimant_id", "claim_type", "status", "reason",
	"original_owner_email", "email_challenge_token_hash", "email_challenge_sent_at",
	"email_challenge_expires_at", "email_verified_at", "cooling_off_until", "granted_at",
	"metadata", "created_at", "updated_at",
}

var tallyCols = []string{"support", "oppose", "eligible"}

// claimRow builds a claim-1 row; the nilable timestamps drive the state machine.
func claimRow(claimType, status string, verifiedAt, expiresAt, coolingOffUntil *time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(claimCols).AddRow(
		"claim-1", "family-1", "user-1", claimType, status, nil,
		nil, nil, nil,
		expiresAt, verifiedAt, coolingOffUntil, nil,
		[]byte(`{}`), time.Now(), time.Now(),
	)
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestClaimCreate_Success(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectExec("INSERT INTO admin_claims").
		WillReturnResult(sqlmock.NewResult(1, 1))

	claim := &models.AdminClaim{
		ID:         "claim-1",
		FamilyID:   "family-1",
		ClaimantID: "user-1",
		ClaimType:  models.ClaimTypeEndorsement,
	}
	if err := repo.Create(context.Background(), claim); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claim.Status != models.ClaimStatusPending {
		t.Errorf("Status = %q, want pending", claim.Status)
	}
}

func TestClaimCreate_DuplicateActiveClaim(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectExec("INSERT INTO admin_claims").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "idx_admin_claims_one_active"})

	claim := &models.AdminClaim{
		ID:         "claim-2",
		FamilyID:   "family-1",
		ClaimantID: "user-1",
		ClaimType:  models.ClaimTypeEndorsement,
	}
	err := repo.Create(context.Background(), claim)
	if !errors.Is(err, ErrDuplicateActiveClaim) {
		t.Errorf("err = %v, want ErrDuplicateActiveClaim", err)
	}
}

func TestClaimCreate_OtherDBError(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectExec("INSERT INTO admin_claims").
		WillReturnError(errDB)

	err := repo.Create(context.Background(), &models.AdminClaim{ID: "claim-1"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if errors.Is(err, ErrDuplicateActiveClaim) {
		t.Error("plain DB error should not map to ErrDuplicateActiveClaim")
	}
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

func TestClaimGetByID_Found(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectQuery("SELECT.*FROM admin_claims WHERE id").
		WithArgs("claim-1").
		WillReturnRows(claimRow(models.ClaimTypeEndorsement, models.ClaimStatusPending, nil, nil, nil))

	claim, err := repo.GetByID(context.Background(), "claim-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claim == nil {
		t.Fatal("expected claim, got nil")
	}
	if claim.ClaimType != models.ClaimTypeEndorsement {
		t.Errorf("ClaimType = %q", claim.ClaimType)
	}
}

func TestClaimGetByID_NotFound(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectQuery("SELECT.*FROM admin_claims WHERE id").
		WillReturnRows(sqlmock.NewRows(claimCols))

	claim, err := repo.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claim != nil {
		t.Error("expected nil, got non-nil")
	}
}

func TestGetByTokenHash_Found(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectQuery("SELECT.*FROM admin_claims.*WHERE email_challenge_token_hash").
		WithArgs("abc123").
		WillReturnRows(claimRow(models.ClaimTypeEmailChallenge, models.ClaimStatusPending, nil, nil, nil))

	claim, err := repo.GetByTokenHash(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claim == nil {
		t.Fatal("expected claim, got nil")
	}
}

func TestGetByTokenHash_NotFound(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectQuery("SELECT.*FROM admin_claims.*WHERE email_challenge_token_hash").
		WillReturnRows(sqlmock.NewRows(claimCols))

	claim, err := repo.GetByTokenHash(context.Background(), "bogus")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claim != nil {
		t.Error("expected nil for unknown token hash")
	}
}

// ---------------------------------------------------------------------------
// MarkEmailVerified
// ---------------------------------------------------------------------------

func TestMarkEmailVerified_Success(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectExec("UPDATE admin_claims.*SET email_verified_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkEmailVerified(context.Background(), "claim-1", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMarkEmailVerified_AlreadyVerified(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectExec("UPDATE admin_claims.*SET email_verified_at").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.MarkEmailVerified(context.Background(), "claim-1", time.Now()); err == nil {
		t.Error("expected error when no pending unverified row matches")
	}
}

// ---------------------------------------------------------------------------
// ProcessClaim
// ---------------------------------------------------------------------------

func TestProcessClaim_TerminalIsNoOp(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT.*FROM admin_claims WHERE id.*FOR UPDATE").
		WithArgs("claim-1").
		WillReturnRows(claimRow(models.ClaimTypeEndorsement, models.ClaimStatusDenied, nil, nil, nil))
	mock.ExpectRollback()

	result, err := repo.ProcessClaim(context.Background(), "claim-1", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Changed {
		t.Error("terminal claim must not change")
	}
	if result.Claim.Status != models.ClaimStatusDenied {
		t.Errorf("Status = %q, want denied", result.Claim.Status)
	}
}

func TestProcessClaim_EmailVerifiedApproves(t *testing.T) {
	repo, mock := newClaimRepo(t)
	verified := time.Now().Add(-time.Minute)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT.*FROM admin_claims WHERE id.*FOR UPDATE").
		WillReturnRows(claimRow(models.ClaimTypeEmailChallenge, models.ClaimStatusPending, &verified, nil, nil))
	mock.ExpectExec("UPDATE admin_claims.*SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.ProcessClaim(context.Background(), "claim-1", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Changed {
		t.Fatal("expected a transition")
	}
	if result.Claim.Status != models.ClaimStatusApproved {
		t.Errorf("Status = %q, want approved", result.Claim.Status)
	}
	if result.Claim.CoolingOffUntil == nil {
		t.Error("approval must stamp a cooling-off deadline")
	}
}

func TestProcessClaim_ExpiredChallengeExpires(t *testing.T) {
	repo, mock := newClaimRepo(t)
	expired := time.Now().Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT.*FROM admin_claims WHERE id.*FOR UPDATE").
		WillReturnRows(claimRow(models.ClaimTypeEmailChallenge, models.ClaimStatusPending, nil, &expired, nil))
	mock.ExpectExec("UPDATE admin_claims.*SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.ProcessClaim(context.Background(), "claim-1", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Claim.Status != models.ClaimStatusExpired {
		t.Errorf("Status = %q, want expired", result.Claim.Status)
	}
	if result.Claim.CoolingOffUntil != nil {
		t.Error("expiry must not stamp a cooling-off deadline")
	}
}

func TestProcessClaim_UnexpiredUnverifiedStaysPending(t *testing.T) {
	repo, mock := newClaimRepo(t)
	future := time.Now().Add(time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT.*FROM admin_claims WHERE id.*FOR UPDATE").
		WillReturnRows(claimRow(models.ClaimTypeEmailChallenge, models.ClaimStatusPending, nil, &future, nil))
	mock.ExpectRollback()

	result, err := repo.ProcessClaim(context.Background(), "claim-1", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Changed {
		t.Error("pending challenge inside its window must not change")
	}
}

func TestProcessClaim_SupportMajorityApproves(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT.*FROM admin_claims WHERE id.*FOR UPDATE").
		WillReturnRows(claimRow(models.ClaimTypeEndorsement, models.ClaimStatusPending, nil, nil, nil))
	mock.ExpectQuery("SELECT.*FILTER.*FROM claim_endorsements").
		WillReturnRows(sqlmock.NewRows(tallyCols).AddRow(3, 1, 4))
	mock.ExpectExec("UPDATE admin_claims.*SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.ProcessClaim(context.Background(), "claim-1", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Claim.Status != models.ClaimStatusApproved {
		t.Errorf("Status = %q, want approved", result.Claim.Status)
	}
	if result.Tally == nil || result.Tally.Support != 3 {
		t.Errorf("Tally = %+v", result.Tally)
	}
}

func TestProcessClaim_OpposeMajorityDenies(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT.*FROM admin_claims WHERE id.*FOR UPDATE").
		WillReturnRows(claimRow(models.ClaimTypeEndorsement, models.ClaimStatusPending, nil, nil, nil))
	mock.ExpectQuery("SELECT.*FILTER.*FROM claim_endorsements").
		WillReturnRows(sqlmock.NewRows(tallyCols).AddRow(1, 3, 4))
	mock.ExpectExec("UPDATE admin_claims.*SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.ProcessClaim(context.Background(), "claim-1", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Claim.Status != models.ClaimStatusDenied {
		t.Errorf("Status = %q, want denied", result.Claim.Status)
	}
}

func TestProcessClaim_NoMajorityStaysPending(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT.*FROM admin_claims WHERE id.*FOR UPDATE").
		WillReturnRows(claimRow(models.ClaimTypeEndorsement, models.ClaimStatusPending, nil, nil, nil))
	mock.ExpectQuery("SELECT.*FILTER.*FROM claim_endorsements").
		WillReturnRows(sqlmock.NewRows(tallyCols).AddRow(2, 2, 5))
	mock.ExpectRollback()

	result, err := repo.ProcessClaim(context.Background(), "claim-1", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Changed {
		t.Error("split vote must leave the claim pending")
	}
}

func TestProcessClaim_ZeroEligibleNeverApproves(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT.*FROM admin_claims WHERE id.*FOR UPDATE").
		WillReturnRows(claimRow(models.ClaimTypeEndorsement, models.ClaimStatusPending, nil, nil, nil))
	mock.ExpectQuery("SELECT.*FILTER.*FROM claim_endorsements").
		WillReturnRows(sqlmock.NewRows(tallyCols).AddRow(0, 0, 0))
	mock.ExpectRollback()

	result, err := repo.ProcessClaim(context.Background(), "claim-1", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Claim.Status != models.ClaimStatusPending {
		t.Errorf("Status = %q, want pending", result.Claim.Status)
	}
}

func TestProcessClaim_NotFound(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT.*FROM admin_claims WHERE id.*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(claimCols))
	mock.ExpectRollback()

	result, err := repo.ProcessClaim(context.Background(), "missing", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Error("expected nil result for missing claim")
	}
}

// ---------------------------------------------------------------------------
// GrantAfterCoolingOff
// ---------------------------------------------------------------------------

func TestGrant_Success(t *testing.T) {
	repo, mock := newClaimRepo(t)
	elapsed := time.Now().Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT.*FROM admin_claims WHERE id.*FOR UPDATE").
		WillReturnRows(claimRow(models.ClaimTypeEndorsement, models.ClaimStatusApproved, nil, nil, &elapsed))
	mock.ExpectQuery("SELECT id FROM families WHERE id.*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("family-1"))
	mock.ExpectQuery("SELECT COUNT.*FROM family_members").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO family_members.*ON CONFLICT").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE admin_claims.*SET status = 'granted'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.GrantAfterCoolingOff(context.Background(), "claim-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != GrantGranted {
		t.Errorf("Outcome = %q, want granted", result.Outcome)
	}
	if result.Claim.GrantedAt == nil {
		t.Error("grant must stamp granted_at")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGrant_BeforeDeadlineRefuses(t *testing.T) {
	repo, mock := newClaimRepo(t)
	future := time.Now().Add(24 * time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT.*FROM admin_claims WHERE id.*FOR UPDATE").
		WillReturnRows(claimRow(models.ClaimTypeEndorsement, models.ClaimStatusApproved, nil, nil, &future))
	mock.ExpectRollback()

	result, err := repo.GrantAfterCoolingOff(context.Background(), "claim-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != GrantCoolingOffActive {
		t.Errorf("Outcome = %q, want cooling_off_active", result.Outcome)
	}
}

func TestGrant_AlreadyGrantedIsNoOp(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT.*FROM admin_claims WHERE id.*FOR UPDATE").
		WillReturnRows(claimRow(models.ClaimTypeEndorsement, models.ClaimStatusGranted, nil, nil, nil))
	mock.ExpectRollback()

	result, err := repo.GrantAfterCoolingOff(context.Background(), "claim-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != GrantClaimNotApproved {
		t.Errorf("Outcome = %q, want claim_not_approved", result.Outcome)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("second grant attempt must not write: %v", err)
	}
}

func TestGrant_FamilyNoLongerOrphaned(t *testing.T) {
	repo, mock := newClaimRepo(t)
	elapsed := time.Now().Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT.*FROM admin_claims WHERE id.*FOR UPDATE").
		WillReturnRows(claimRow(models.ClaimTypeEndorsement, models.ClaimStatusApproved, nil, nil, &elapsed))
	mock.ExpectQuery("SELECT id FROM families WHERE id.*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("family-1"))
	mock.ExpectQuery("SELECT COUNT.*FROM family_members").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	result, err := repo.GrantAfterCoolingOff(context.Background(), "claim-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != GrantFamilyNotOrphaned {
		t.Errorf("Outcome = %q, want family_not_orphaned", result.Outcome)
	}
}

// ---------------------------------------------------------------------------
// Sweep queries
// ---------------------------------------------------------------------------

func TestListGrantable(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectQuery("SELECT id FROM admin_claims.*WHERE status = 'approved'").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("claim-1").AddRow("claim-2"))

	ids, err := repo.ListGrantable(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("len(ids) = %d, want 2", len(ids))
	}
}

func TestListStaleEmailChallenges(t *testing.T) {
	repo, mock := newClaimRepo(t)
	mock.ExpectQuery("SELECT id FROM admin_claims.*claim_type = 'email_challenge'").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("claim-9"))

	ids, err := repo.ListStaleEmailChallenges(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("len(ids) = %d, want 1", len(ids))
	}
}
