// endorsement_repository.go implements EndorsementRepository, providing database queries
// for recording and listing votes on admin claims. One vote per member per claim; a
// repeat vote replaces the earlier one via upsert.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/heirloom-app/heirloom/internal/db/models"
)

// EndorsementRepository handles database operations for claim endorsements
type EndorsementRepository struct {
	db *sqlx.DB
}

// NewEndorsementRepository creates a new endorsement repository
func NewEndorsementRepository(db *sqlx.DB) *EndorsementRepository {
	return &EndorsementRepository{db: db}
}

// Upsert records a vote, replacing any earlier vote by the same endorser on the
// same claim. Returns the stored endorsement row, which keeps its original id
// and created_at when a vote is changed.
func (r *EndorsementRepository) Upsert(ctx context.Context, claimID, endorserID, endorsementType string, reason *string) (*models.Endorsement, error) {
	query := `
		INSERT INTO claim_endorsements (id, claim_id, endorser_id, endorsement_type, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (claim_id, endorser_id)
		DO UPDATE SET endorsement_type = EXCLUDED.endorsement_type,
		              reason = EXCLUDED.reason,
		              updated_at = EXCLUDED.updated_at
		RETURNING id, claim_id, endorser_id, endorsement_type, reason, created_at, updated_at
	`

	endorsement := &models.Endorsement{}
	err := r.db.GetContext(ctx, endorsement, query,
		uuid.New().String(), claimID, endorserID, endorsementType, reason, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to record endorsement: %w", err)
	}

	return endorsement, nil
}

// ListByClaim retrieves all votes on a claim, oldest first
func (r *EndorsementRepository) ListByClaim(ctx context.Context, claimID string) ([]*models.Endorsement, error) {
	endorsements := make([]*models.Endorsement, 0)
	err := r.db.SelectContext(ctx, &endorsements, `
		SELECT id, claim_id, endorser_id, endorsement_type, reason, created_at, updated_at
		FROM claim_endorsements
		WHERE claim_id = $1
		ORDER BY created_at
	`, claimID)
	if err != nil {
		return nil, fmt.Errorf("failed to list endorsements: %w", err)
	}
	return endorsements, nil
}
