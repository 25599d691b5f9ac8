package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type transactionRepository struct {
	db *pgxpool.Pool
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *pgxpool.Pool) TransactionRepository {
	return &transactionRepository{db: db}
}

const transactionColumns = `id, external_id, user_id, account_id, amount::text, currency, booking_date, value_date, pending, creditor_name, debtor_name, remittance_info, running_balance::text, created_at, updated_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var transaction Transaction
	var amount string
	var runningBalance *string
	err := row.Scan(
		&transaction.ID,
		&transaction.ExternalID,
		&transaction.UserID,
		&transaction.AccountID,
		&amount,
		&transaction.Currency,
		&transaction.BookingDate,
		&transaction.ValueDate,
		&transaction.Pending,
		&transaction.CreditorName,
		&transaction.DebtorName,
		&transaction.RemittanceInfo,
		&runningBalance,
		&transaction.CreatedAt,
		&transaction.UpdatedAt,
	)
	if err != nil {
		return Transaction{}, err
	}

	transaction.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to parse amount: %w", err)
	}
	if runningBalance != nil {
		value, err := decimal.NewFromString(*runningBalance)
		if err != nil {
			return Transaction{}, fmt.Errorf("failed to parse running balance: %w", err)
		}
		transaction.RunningBalance = decimal.NullDecimal{Decimal: value, Valid: true}
	}

	return transaction, nil
}

func (r *transactionRepository) UpsertTransactions(ctx context.Context, transactions []UpsertTransactionParams) (int, error) {
	// Existing rows keep their amount and dates; the only permitted change
	// is a pending transaction becoming booked.
	query := `
		INSERT INTO transactions (id, external_id, user_id, account_id, amount, currency, booking_date, value_date, pending, creditor_name, debtor_name, remittance_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			pending = EXCLUDED.pending,
			booking_date = EXCLUDED.booking_date,
			updated_at = NOW()
		WHERE transactions.pending AND NOT EXCLUDED.pending`

	affected := 0
	for _, params := range transactions {
		result, err := r.db.Exec(ctx, query,
			params.ID,
			params.ExternalID,
			params.UserID,
			params.AccountID,
			params.Amount.String(),
			params.Currency,
			params.BookingDate,
			params.ValueDate,
			params.Pending,
			params.CreditorName,
			params.DebtorName,
			params.RemittanceInfo,
		)
		if err != nil {
			return affected, fmt.Errorf("failed to upsert transaction %s: %w", params.ID, err)
		}
		affected += int(result.RowsAffected())
	}

	return affected, nil
}

func (r *transactionRepository) ListTransactionsByAccount(ctx context.Context, accountID string) ([]Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1
		ORDER BY COALESCE(booking_date, value_date, created_at), id`

	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []Transaction
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, transaction)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return transactions, nil
}

func (r *transactionRepository) ListTransactionsPage(ctx context.Context, params ListTransactionsPageParams) ([]Transaction, int64, error) {
	var total int64
	countQuery := `SELECT COUNT(*) FROM transactions WHERE account_id = $1 AND user_id = $2`
	if err := r.db.QueryRow(ctx, countQuery, params.AccountID, params.UserID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1 AND user_id = $2
		ORDER BY COALESCE(booking_date, value_date, created_at) DESC, id DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.Query(ctx, query, params.AccountID, params.UserID, params.Limit, params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions page: %w", err)
	}
	defer rows.Close()

	var transactions []Transaction
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, transaction)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return transactions, total, nil
}

func (r *transactionRepository) UpdateRunningBalances(ctx context.Context, updates []RunningBalanceUpdate) error {
	query := `UPDATE transactions SET running_balance = $2, updated_at = NOW() WHERE id = $1`

	for _, update := range updates {
		if _, err := r.db.Exec(ctx, query, update.TransactionID, update.RunningBalance.String()); err != nil {
			return fmt.Errorf("failed to update running balance for %s: %w", update.TransactionID, err)
		}
	}

	return nil
}
