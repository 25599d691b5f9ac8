package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TomSB1423/networth/internal/events"
)

type requisitionRepository struct {
	db *pgxpool.Pool
}

// NewRequisitionRepository creates a new requisition repository
func NewRequisitionRepository(db *pgxpool.Pool) RequisitionRepository {
	return &requisitionRepository{db: db}
}

const requisitionColumns = `id, user_id, agreement_id, institution_id, status, authorization_link, reference, account_ids, created_at, updated_at`

func scanRequisition(row pgx.Row) (Requisition, error) {
	var requisition Requisition
	err := row.Scan(
		&requisition.ID,
		&requisition.UserID,
		&requisition.AgreementID,
		&requisition.InstitutionID,
		&requisition.Status,
		&requisition.AuthorizationLink,
		&requisition.Reference,
		&requisition.AccountIDs,
		&requisition.CreatedAt,
		&requisition.UpdatedAt,
	)
	return requisition, err
}

func (r *requisitionRepository) SaveRequisition(ctx context.Context, params SaveRequisitionParams) (Requisition, error) {
	query := `
		INSERT INTO requisitions (id, user_id, agreement_id, institution_id, status, authorization_link, reference, account_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '{}')
		RETURNING ` + requisitionColumns

	requisition, err := scanRequisition(r.db.QueryRow(ctx, query,
		params.ID,
		params.UserID,
		params.AgreementID,
		params.InstitutionID,
		params.Status,
		params.AuthorizationLink,
		params.Reference,
	))
	if err != nil {
		return Requisition{}, fmt.Errorf("failed to save requisition: %w", err)
	}

	return requisition, nil
}

func (r *requisitionRepository) GetRequisition(ctx context.Context, id string) (Requisition, error) {
	query := `SELECT ` + requisitionColumns + ` FROM requisitions WHERE id = $1`

	requisition, err := scanRequisition(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Requisition{}, ErrNotFound
	}
	if err != nil {
		return Requisition{}, fmt.Errorf("failed to get requisition: %w", err)
	}

	return requisition, nil
}

func (r *requisitionRepository) FindCurrentRequisition(ctx context.Context, userID uuid.UUID, institutionID string) (Requisition, error) {
	query := `
		SELECT ` + requisitionColumns + `
		FROM requisitions
		WHERE user_id = $1 AND institution_id = $2 AND status IN ($3, $4)
		ORDER BY created_at DESC
		LIMIT 1`

	requisition, err := scanRequisition(r.db.QueryRow(ctx, query, userID, institutionID, events.LinkStatusPending, events.LinkStatusLinked))
	if errors.Is(err, pgx.ErrNoRows) {
		return Requisition{}, ErrNotFound
	}
	if err != nil {
		return Requisition{}, fmt.Errorf("failed to find current requisition: %w", err)
	}

	return requisition, nil
}

func (r *requisitionRepository) FindRequisitionByAgreement(ctx context.Context, agreementID string) (Requisition, error) {
	query := `
		SELECT ` + requisitionColumns + `
		FROM requisitions
		WHERE agreement_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	requisition, err := scanRequisition(r.db.QueryRow(ctx, query, agreementID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Requisition{}, ErrNotFound
	}
	if err != nil {
		return Requisition{}, fmt.Errorf("failed to find requisition by agreement: %w", err)
	}

	return requisition, nil
}

func (r *requisitionRepository) UpdateRequisitionStatus(ctx context.Context, params UpdateRequisitionStatusParams) error {
	// COALESCE because pgx encodes a nil slice as SQL NULL and account_ids
	// is NOT NULL.
	query := `
		UPDATE requisitions
		SET status = $2, account_ids = COALESCE($3, '{}'), updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, params.ID, params.Status, params.AccountIDs)
	if err != nil {
		return fmt.Errorf("failed to update requisition status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
