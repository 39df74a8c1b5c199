package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

// ---------------------------------------------------------------------------
// Column definitions / row builders
// ---------------------------------------------------------------------------

var familyCols = []string{"id", "name", "created_by", "created_at", "updated_at"}
var memberCols = []string{"family_id", "user_id", "role", "status", "created_at"}
var memberWithUserCols = []string{
	"family_id", "user_id", "role", "status", "created_at",
	"user_name", "user_email",
}

func sampleFamilyRow() *sqlmock.Rows {
	return sqlmock.NewRows(familyCols).
		AddRow("family-1", "The Morettis", "user-1", time.Now(), time.Now())
}

func sampleMemberRow(role, status string) *sqlmock.Rows {
	return sqlmock.NewRows(memberCols).
		AddRow("family-1", "user-1", role, status, time.Now())
}

func newFamilyRepo(t *testing.T) (*FamilyRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewFamilyRepository(db), mock
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestFamilyCreate_Success(t *testing.T) {
	repo, mock := newFamilyRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO families").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO family_members").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	family, err := repo.Create(context.Background(), "The Morettis", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if family.ID == "" {
		t.Error("expected generated ID")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFamilyCreate_MembershipFailureRollsBack(t *testing.T) {
	repo, mock := newFamilyRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO families").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO family_members").
		WillReturnError(errDB)
	mock.ExpectRollback()

	if _, err := repo.Create(context.Background(), "The Morettis", "user-1"); err == nil {
		t.Error("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// GetByID
// ---------------------------------------------------------------------------

func TestFamilyGetByID_Found(t *testing.T) {
	repo, mock := newFamilyRepo(t)
	mock.ExpectQuery("SELECT.*FROM families.*WHERE id").
		WithArgs("family-1").
		WillReturnRows(sampleFamilyRow())

	family, err := repo.GetByID(context.Background(), "family-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if family == nil {
		t.Fatal("expected family, got nil")
	}
	if family.Name != "The Morettis" {
		t.Errorf("Name = %q", family.Name)
	}
}

func TestFamilyGetByID_NotFound(t *testing.T) {
	repo, mock := newFamilyRepo(t)
	mock.ExpectQuery("SELECT.*FROM families.*WHERE id").
		WillReturnRows(sqlmock.NewRows(familyCols))

	family, err := repo.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if family != nil {
		t.Error("expected nil, got non-nil")
	}
}

// ---------------------------------------------------------------------------
// IsOrphaned
// ---------------------------------------------------------------------------

func TestIsOrphaned_NoActiveAdmins(t *testing.T) {
	repo, mock := newFamilyRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM family_members").
		WithArgs("family-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	orphaned, err := repo.IsOrphaned(context.Background(), "family-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !orphaned {
		t.Error("expected orphaned = true with zero active admins")
	}
}

func TestIsOrphaned_HasActiveAdmin(t *testing.T) {
	repo, mock := newFamilyRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM family_members").
		WithArgs("family-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	orphaned, err := repo.IsOrphaned(context.Background(), "family-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orphaned {
		t.Error("expected orphaned = false with an active admin")
	}
}

func TestIsOrphaned_DBError(t *testing.T) {
	repo, mock := newFamilyRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM family_members").
		WillReturnError(errDB)

	if _, err := repo.IsOrphaned(context.Background(), "family-1"); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// Membership operations
// ---------------------------------------------------------------------------

func TestGetMember_Found(t *testing.T) {
	repo, mock := newFamilyRepo(t)
	mock.ExpectQuery("SELECT.*FROM family_members.*WHERE family_id").
		WithArgs("family-1", "user-1").
		WillReturnRows(sampleMemberRow("member", "active"))

	member, err := repo.GetMember(context.Background(), "family-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if member == nil {
		t.Fatal("expected member, got nil")
	}
	if member.Role != "member" {
		t.Errorf("Role = %q", member.Role)
	}
}

func TestGetMember_NotFound(t *testing.T) {
	repo, mock := newFamilyRepo(t)
	mock.ExpectQuery("SELECT.*FROM family_members.*WHERE family_id").
		WillReturnRows(sqlmock.NewRows(memberCols))

	member, err := repo.GetMember(context.Background(), "family-1", "stranger")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if member != nil {
		t.Error("expected nil, got non-nil")
	}
}

func TestAddMember_Upsert(t *testing.T) {
	repo, mock := newFamilyRepo(t)
	mock.ExpectExec("INSERT INTO family_members.*ON CONFLICT").
		WithArgs("family-1", "user-2", "member").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.AddMember(context.Background(), "family-1", "user-2", "member"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRemoveMember_Success(t *testing.T) {
	repo, mock := newFamilyRepo(t)
	mock.ExpectExec("UPDATE family_members.*SET status = 'removed'").
		WithArgs("family-1", "user-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.RemoveMember(context.Background(), "family-1", "user-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRemoveMember_NotActive(t *testing.T) {
	repo, mock := newFamilyRepo(t)
	mock.ExpectExec("UPDATE family_members.*SET status = 'removed'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.RemoveMember(context.Background(), "family-1", "gone"); err == nil {
		t.Error("expected error for missing active membership")
	}
}

func TestListMembers(t *testing.T) {
	repo, mock := newFamilyRepo(t)
	rows := sqlmock.NewRows(memberWithUserCols).
		AddRow("family-1", "user-1", "admin", "active", time.Now(), "Rosa", "rosa@example.com").
		AddRow("family-1", "user-2", "member", "active", time.Now(), "Marco", "marco@example.com")
	mock.ExpectQuery("SELECT.*FROM family_members fm.*JOIN users").
		WithArgs("family-1").
		WillReturnRows(rows)

	members, err := repo.ListMembers(context.Background(), "family-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("len(members) = %d, want 2", len(members))
	}
	if members[1].UserName != "Marco" {
		t.Errorf("UserName = %q", members[1].UserName)
	}
}

func TestListActiveMemberIDs_ExcludesUser(t *testing.T) {
	repo, mock := newFamilyRepo(t)
	rows := sqlmock.NewRows([]string{"user_id"}).
		AddRow("user-2").
		AddRow("user-3")
	mock.ExpectQuery("SELECT user_id.*FROM family_members").
		WithArgs("family-1", "user-1").
		WillReturnRows(rows)

	ids, err := repo.ListActiveMemberIDs(context.Background(), "family-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("len(ids) = %d, want 2", len(ids))
	}
}
