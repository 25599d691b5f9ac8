package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type agreementRepository struct {
	db *pgxpool.Pool
}

// NewAgreementRepository creates a new agreement repository
func NewAgreementRepository(db *pgxpool.Pool) AgreementRepository {
	return &agreementRepository{db: db}
}

func (r *agreementRepository) SaveAgreement(ctx context.Context, params SaveAgreementParams) (Agreement, error) {
	query := `
		INSERT INTO agreements (id, user_id, institution_id, access_scope, max_historical_days, access_valid_for_days)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
		RETURNING id, user_id, institution_id, access_scope, max_historical_days, access_valid_for_days, created_at`

	var agreement Agreement
	err := r.db.QueryRow(ctx, query,
		params.ID,
		params.UserID,
		params.InstitutionID,
		params.AccessScope,
		params.MaxHistoricalDays,
		params.AccessValidForDays,
	).Scan(
		&agreement.ID,
		&agreement.UserID,
		&agreement.InstitutionID,
		&agreement.AccessScope,
		&agreement.MaxHistoricalDays,
		&agreement.AccessValidForDays,
		&agreement.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already saved by an earlier attempt; agreements are immutable.
		return r.GetAgreement(ctx, params.ID)
	}
	if err != nil {
		return Agreement{}, fmt.Errorf("failed to save agreement: %w", err)
	}

	return agreement, nil
}

func (r *agreementRepository) GetAgreement(ctx context.Context, id string) (Agreement, error) {
	query := `
		SELECT id, user_id, institution_id, access_scope, max_historical_days, access_valid_for_days, created_at
		FROM agreements
		WHERE id = $1`

	var agreement Agreement
	err := r.db.QueryRow(ctx, query, id).Scan(
		&agreement.ID,
		&agreement.UserID,
		&agreement.InstitutionID,
		&agreement.AccessScope,
		&agreement.MaxHistoricalDays,
		&agreement.AccessValidForDays,
		&agreement.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agreement{}, ErrNotFound
	}
	if err != nil {
		return Agreement{}, fmt.Errorf("failed to get agreement: %w", err)
	}

	return agreement, nil
}

func (r *agreementRepository) GetLatestAgreement(ctx context.Context, userID uuid.UUID, institutionID string) (Agreement, error) {
	query := `
		SELECT id, user_id, institution_id, access_scope, max_historical_days, access_valid_for_days, created_at
		FROM agreements
		WHERE user_id = $1 AND institution_id = $2
		ORDER BY created_at DESC
		LIMIT 1`

	var agreement Agreement
	err := r.db.QueryRow(ctx, query, userID, institutionID).Scan(
		&agreement.ID,
		&agreement.UserID,
		&agreement.InstitutionID,
		&agreement.AccessScope,
		&agreement.MaxHistoricalDays,
		&agreement.AccessValidForDays,
		&agreement.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agreement{}, ErrNotFound
	}
	if err != nil {
		return Agreement{}, fmt.Errorf("failed to get latest agreement: %w", err)
	}

	return agreement, nil
}
