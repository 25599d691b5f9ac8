package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/TomSB1423/networth/internal/repo"
)

// BalanceService recomputes the running balance column for an account. The
// computation is a full replay over the account's transactions in
// chronological order, so a backdated transaction discovered by a later sync
// corrects every balance after it.
type BalanceService struct {
	accounts repo.AccountRepository
	txns     repo.TransactionRepository
	logger   *zap.Logger
}

// NewBalanceService creates a new balance service
func NewBalanceService(accounts repo.AccountRepository, txns repo.TransactionRepository, logger *zap.Logger) *BalanceService {
	return &BalanceService{
		accounts: accounts,
		txns:     txns,
		logger:   logger.Named("balance_service"),
	}
}

// RecalculateRunningBalance replays the account's transactions and writes a
// running balance to every row. The prefix sum starts from the oldest known
// balance snapshot, or from zero when no snapshot exists yet.
func (s *BalanceService) RecalculateRunningBalance(ctx context.Context, accountID string) error {
	if accountID == "" {
		return &ValidationError{Msg: "account id is required"}
	}

	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return &NotFoundError{Resource: "account", ID: accountID}
		}
		return fmt.Errorf("failed to get account: %w", err)
	}

	transactions, err := s.txns.ListTransactionsByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to list transactions: %w", err)
	}
	if len(transactions) == 0 {
		return nil
	}

	anchor, err := s.anchorBalance(ctx, accountID)
	if err != nil {
		return err
	}

	updates := make([]repo.RunningBalanceUpdate, 0, len(transactions))
	balance := anchor
	for _, txn := range transactions {
		balance = balance.Add(txn.Amount)
		updates = append(updates, repo.RunningBalanceUpdate{
			TransactionID:  txn.ID,
			RunningBalance: balance,
		})
	}

	if err := s.txns.UpdateRunningBalances(ctx, updates); err != nil {
		return fmt.Errorf("failed to write running balances: %w", err)
	}

	s.logger.Info("Running balances recalculated",
		zap.String("account_id", accountID),
		zap.Int("transactions", len(updates)),
		zap.String("final_balance", balance.String()))

	return nil
}

// anchorBalance is the balance the replay starts from, taken from the oldest
// stored snapshot for the account.
func (s *BalanceService) anchorBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	snapshot, err := s.accounts.GetOldestBalanceSnapshot(ctx, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to get balance snapshot: %w", err)
	}
	return snapshot.Amount, nil
}
