package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/TomSB1423/networth/internal/events"
)

type accountRepository struct {
	db *pgxpool.Pool
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *pgxpool.Pool) AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `id, user_id, requisition_id, institution_id, name, iban, currency, product, last_synced, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var account Account
	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.RequisitionID,
		&account.InstitutionID,
		&account.Name,
		&account.Iban,
		&account.Currency,
		&account.Product,
		&account.LastSynced,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	return account, err
}

func (r *accountRepository) UpsertAccount(ctx context.Context, params UpsertAccountParams) (Account, error) {
	query := `
		INSERT INTO accounts (id, user_id, requisition_id, institution_id, name, iban, currency, product)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = COALESCE(EXCLUDED.name, accounts.name),
			iban = COALESCE(EXCLUDED.iban, accounts.iban),
			currency = COALESCE(EXCLUDED.currency, accounts.currency),
			product = COALESCE(EXCLUDED.product, accounts.product),
			updated_at = NOW()
		RETURNING ` + accountColumns

	account, err := scanAccount(r.db.QueryRow(ctx, query,
		params.ID,
		params.UserID,
		params.RequisitionID,
		params.InstitutionID,
		params.Name,
		params.Iban,
		params.Currency,
		params.Product,
	))
	if err != nil {
		return Account{}, fmt.Errorf("failed to upsert account: %w", err)
	}

	return account, nil
}

func (r *accountRepository) GetAccount(ctx context.Context, id string) (Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

func (r *accountRepository) ListAccountsByUser(ctx context.Context, userID uuid.UUID) ([]Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return accounts, nil
}

func (r *accountRepository) AdvanceLastSynced(ctx context.Context, accountID string, syncedAt time.Time) (bool, error) {
	// Compare-and-swap so a stale sync job can never move the watermark back.
	query := `
		UPDATE accounts
		SET last_synced = $2, updated_at = NOW()
		WHERE id = $1 AND (last_synced IS NULL OR last_synced < $2)`

	result, err := r.db.Exec(ctx, query, accountID, syncedAt)
	if err != nil {
		return false, fmt.Errorf("failed to advance last_synced: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

func (r *accountRepository) UpsertBalanceSnapshot(ctx context.Context, params UpsertBalanceSnapshotParams) error {
	query := `
		INSERT INTO account_balances (account_id, balance_type, amount, currency, reference_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, balance_type, reference_date) DO UPDATE SET
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency`

	_, err := r.db.Exec(ctx, query,
		params.AccountID,
		params.BalanceType,
		params.Amount.String(),
		params.Currency,
		params.ReferenceDate,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert balance snapshot: %w", err)
	}

	return nil
}

func (r *accountRepository) GetOldestBalanceSnapshot(ctx context.Context, accountID string) (BalanceSnapshot, error) {
	// Booked balance types outrank expected ones reported for the same day,
	// since expected balances still include pending transactions.
	query := `
		SELECT account_id, balance_type, amount::text, currency, reference_date, created_at
		FROM account_balances
		WHERE account_id = $1
		ORDER BY reference_date,
			CASE balance_type
				WHEN $2 THEN 0
				WHEN $3 THEN 1
				WHEN $4 THEN 2
				WHEN $5 THEN 3
				ELSE 4
			END,
			created_at
		LIMIT 1`

	var snapshot BalanceSnapshot
	var amount string
	err := r.db.QueryRow(ctx, query, accountID,
		events.BalanceTypeOpeningBooked,
		events.BalanceTypeClosingBooked,
		events.BalanceTypeInterimBooked,
		events.BalanceTypeExpected,
	).Scan(
		&snapshot.AccountID,
		&snapshot.BalanceType,
		&amount,
		&snapshot.Currency,
		&snapshot.ReferenceDate,
		&snapshot.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return BalanceSnapshot{}, ErrNotFound
	}
	if err != nil {
		return BalanceSnapshot{}, fmt.Errorf("failed to get oldest balance snapshot: %w", err)
	}

	snapshot.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return BalanceSnapshot{}, fmt.Errorf("failed to parse balance amount: %w", err)
	}

	return snapshot, nil
}
