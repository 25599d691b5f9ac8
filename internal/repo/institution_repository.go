package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type institutionRepository struct {
	db *pgxpool.Pool
}

// NewInstitutionRepository creates a new institution repository
func NewInstitutionRepository(db *pgxpool.Pool) InstitutionRepository {
	return &institutionRepository{db: db}
}

func (r *institutionRepository) UpsertInstitution(ctx context.Context, params UpsertInstitutionParams) (Institution, error) {
	query := `
		INSERT INTO institutions (id, name, bic, logo_url, countries, transaction_total_days, max_access_valid_for_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			bic = EXCLUDED.bic,
			logo_url = EXCLUDED.logo_url,
			countries = EXCLUDED.countries,
			transaction_total_days = EXCLUDED.transaction_total_days,
			max_access_valid_for_days = EXCLUDED.max_access_valid_for_days,
			updated_at = NOW()
		RETURNING id, name, bic, logo_url, countries, transaction_total_days, max_access_valid_for_days, created_at, updated_at`

	var institution Institution
	err := r.db.QueryRow(ctx, query,
		params.ID,
		params.Name,
		params.Bic,
		params.LogoURL,
		params.Countries,
		params.TransactionTotalDays,
		params.MaxAccessValidForDays,
	).Scan(
		&institution.ID,
		&institution.Name,
		&institution.Bic,
		&institution.LogoURL,
		&institution.Countries,
		&institution.TransactionTotalDays,
		&institution.MaxAccessValidForDays,
		&institution.CreatedAt,
		&institution.UpdatedAt,
	)
	if err != nil {
		return Institution{}, fmt.Errorf("failed to upsert institution: %w", err)
	}

	return institution, nil
}

func (r *institutionRepository) GetInstitution(ctx context.Context, id string) (Institution, error) {
	query := `
		SELECT id, name, bic, logo_url, countries, transaction_total_days, max_access_valid_for_days, created_at, updated_at
		FROM institutions
		WHERE id = $1`

	var institution Institution
	err := r.db.QueryRow(ctx, query, id).Scan(
		&institution.ID,
		&institution.Name,
		&institution.Bic,
		&institution.LogoURL,
		&institution.Countries,
		&institution.TransactionTotalDays,
		&institution.MaxAccessValidForDays,
		&institution.CreatedAt,
		&institution.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Institution{}, ErrNotFound
	}
	if err != nil {
		return Institution{}, fmt.Errorf("failed to get institution: %w", err)
	}

	return institution, nil
}

func (r *institutionRepository) ListInstitutionsByCountry(ctx context.Context, country string) ([]Institution, error) {
	query := `
		SELECT id, name, bic, logo_url, countries, transaction_total_days, max_access_valid_for_days, created_at, updated_at
		FROM institutions
		WHERE $1 = ANY(countries)
		ORDER BY name`

	rows, err := r.db.Query(ctx, query, country)
	if err != nil {
		return nil, fmt.Errorf("failed to list institutions: %w", err)
	}
	defer rows.Close()

	var institutions []Institution
	for rows.Next() {
		var institution Institution
		err := rows.Scan(
			&institution.ID,
			&institution.Name,
			&institution.Bic,
			&institution.LogoURL,
			&institution.Countries,
			&institution.TransactionTotalDays,
			&institution.MaxAccessValidForDays,
			&institution.CreatedAt,
			&institution.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan institution: %w", err)
		}
		institutions = append(institutions, institution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return institutions, nil
}
