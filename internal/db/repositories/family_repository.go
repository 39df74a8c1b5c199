// family_repository.go implements FamilyRepository, providing database queries for family
// CRUD, membership management, and the orphaned-family check that gates the admin-claim
// workflow.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/heirloom-app/heirloom/internal/db/models"
)

// FamilyRepository handles database operations for families and memberships
type FamilyRepository struct {
	db *sql.DB
}

// NewFamilyRepository creates a new family repository
func NewFamilyRepository(db *sql.DB) *FamilyRepository {
	return &FamilyRepository{db: db}
}

// Create inserts a new family and enrolls the creator as its first active admin.
// Both rows are written in one transaction so a family can never exist without
// its founding membership.
func (r *FamilyRepository) Create(ctx context.Context, name, createdBy string) (*models.Family, error) {
	family := &models.Family{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO families (id, name, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, family.ID, family.Name, family.CreatedBy, family.CreatedAt, family.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create family: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO family_members (family_id, user_id, role, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, family.ID, createdBy, models.RoleAdmin, models.MemberStatusActive, family.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create founding membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit family creation: %w", err)
	}

	return family, nil
}

// GetByID retrieves a family by ID
func (r *FamilyRepository) GetByID(ctx context.Context, id string) (*models.Family, error) {
	query := `
		SELECT id, name, created_by, created_at, updated_at
		FROM families
		WHERE id = $1
	`

	family := &models.Family{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&family.ID,
		&family.Name,
		&family.CreatedBy,
		&family.CreatedAt,
		&family.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get family: %w", err)
	}

	return family, nil
}

// ListForUser retrieves every family the user is an active member of
func (r *FamilyRepository) ListForUser(ctx context.Context, userID string) ([]*models.Family, error) {
	query := `
		SELECT f.id, f.name, f.created_by, f.created_at, f.updated_at
		FROM families f
		JOIN family_members fm ON fm.family_id = f.id
		WHERE fm.user_id = $1 AND fm.status = 'active'
		ORDER BY f.created_at
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list families: %w", err)
	}
	defer rows.Close()

	families := make([]*models.Family, 0)
	for rows.Next() {
		family := &models.Family{}
		if err := rows.Scan(
			&family.ID,
			&family.Name,
			&family.CreatedBy,
			&family.CreatedAt,
			&family.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan family: %w", err)
		}
		families = append(families, family)
	}

	return families, rows.Err()
}

// IsOrphaned reports whether the family has no active admin. Only orphaned
// families are eligible for the admin-claim workflow.
func (r *FamilyRepository) IsOrphaned(ctx context.Context, familyID string) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM family_members
		WHERE family_id = $1 AND role = 'admin' AND status = 'active'
	`

	var admins int
	if err := r.db.QueryRowContext(ctx, query, familyID).Scan(&admins); err != nil {
		return false, fmt.Errorf("failed to count active admins: %w", err)
	}

	return admins == 0, nil
}

// GetMember retrieves a single membership record
func (r *FamilyRepository) GetMember(ctx context.Context, familyID, userID string) (*models.FamilyMember, error) {
	query := `
		SELECT family_id, user_id, role, status, created_at
		FROM family_members
		WHERE family_id = $1 AND user_id = $2
	`

	member := &models.FamilyMember{}
	err := r.db.QueryRowContext(ctx, query, familyID, userID).Scan(
		&member.FamilyID,
		&member.UserID,
		&member.Role,
		&member.Status,
		&member.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	return member, nil
}

// AddMember enrolls a user in a family, reactivating a previously removed
// membership if one exists
func (r *FamilyRepository) AddMember(ctx context.Context, familyID, userID, role string) error {
	query := `
		INSERT INTO family_members (family_id, user_id, role, status, created_at)
		VALUES ($1, $2, $3, 'active', NOW())
		ON CONFLICT (family_id, user_id)
		DO UPDATE SET role = EXCLUDED.role, status = 'active'
	`

	if _, err := r.db.ExecContext(ctx, query, familyID, userID, role); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}

	return nil
}

// RemoveMember marks a membership as removed. The row is kept so the member's
// history (endorsements, audit entries) stays attributable.
func (r *FamilyRepository) RemoveMember(ctx context.Context, familyID, userID string) error {
	query := `
		UPDATE family_members
		SET status = 'removed'
		WHERE family_id = $1 AND user_id = $2 AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query, familyID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check removal result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("active membership not found: %s in %s", userID, familyID)
	}

	return nil
}

// ListMembers retrieves a family's memberships with user details for display
func (r *FamilyRepository) ListMembers(ctx context.Context, familyID string) ([]*models.FamilyMemberWithUser, error) {
	query := `
		SELECT fm.family_id, fm.user_id, fm.role, fm.status, fm.created_at,
		       u.name AS user_name, u.email AS user_email
		FROM family_members fm
		JOIN users u ON u.id = fm.user_id
		WHERE fm.family_id = $1
		ORDER BY fm.created_at
	`

	rows, err := r.db.QueryContext(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := make([]*models.FamilyMemberWithUser, 0)
	for rows.Next() {
		m := &models.FamilyMemberWithUser{}
		if err := rows.Scan(
			&m.FamilyID,
			&m.UserID,
			&m.Role,
			&m.Status,
			&m.CreatedAt,
			&m.UserName,
			&m.UserEmail,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

// ListActiveMemberIDs retrieves the user IDs of every active member, optionally
// excluding one user. Used for notification fan-out and vote-eligibility checks.
func (r *FamilyRepository) ListActiveMemberIDs(ctx context.Context, familyID, excludeUserID string) ([]string, error) {
	query := `
		SELECT user_id
		FROM family_members
		WHERE family_id = $1 AND status = 'active' AND user_id <> $2
	`

	rows, err := r.db.QueryContext(ctx, query, familyID, excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active members: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
