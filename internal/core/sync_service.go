package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TomSB1423/networth/internal/provider"
	"github.com/TomSB1423/networth/internal/repo"
)

// SyncService pulls account metadata, balances and transactions from the
// aggregator into local storage. SyncAccount is the unit of work executed by
// the queue consumer and is safe to redeliver.
type SyncService struct {
	provider    provider.Provider
	accounts    repo.AccountRepository
	txns        repo.TransactionRepository
	dispatcher  Dispatcher
	historyDays int
	now         func() time.Time
	logger      *zap.Logger
}

// NewSyncService creates a new sync service
func NewSyncService(
	p provider.Provider,
	accounts repo.AccountRepository,
	txns repo.TransactionRepository,
	dispatcher Dispatcher,
	historyDays int,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		provider:    p,
		accounts:    accounts,
		txns:        txns,
		dispatcher:  dispatcher,
		historyDays: historyDays,
		now:         time.Now,
		logger:      logger.Named("sync_service"),
	}
}

// SyncAccount refreshes one account end to end: metadata, balance snapshots
// and transactions since the last watermark. The watermark is captured
// before any provider call so data arriving during the sync is picked up
// again next time; it only advances after every write succeeded.
func (s *SyncService) SyncAccount(ctx context.Context, accountID string) error {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return &NotFoundError{Resource: "account", ID: accountID}
		}
		return fmt.Errorf("failed to get account: %w", err)
	}

	syncStart := s.now().UTC()

	if err := s.refreshMetadata(ctx, account); err != nil {
		return err
	}
	if err := s.refreshBalances(ctx, accountID); err != nil {
		return err
	}
	inserted, err := s.refreshTransactions(ctx, account)
	if err != nil {
		return err
	}

	advanced, err := s.accounts.AdvanceLastSynced(ctx, accountID, syncStart)
	if err != nil {
		return fmt.Errorf("failed to advance sync watermark: %w", err)
	}

	if err := s.dispatcher.EnqueueRunningBalanceRecalc(ctx, accountID); err != nil {
		return fmt.Errorf("failed to enqueue running balance recalc: %w", err)
	}

	s.logger.Info("Account synced",
		zap.String("account_id", accountID),
		zap.Int("new_transactions", inserted),
		zap.Bool("watermark_advanced", advanced))

	return nil
}

func (s *SyncService) refreshMetadata(ctx context.Context, account repo.Account) error {
	fetched, err := s.provider.GetAccount(ctx, account.ID)
	if err != nil {
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) && apiErr.NotFound() {
			return &NotFoundError{Resource: "account", ID: account.ID}
		}
		return fmt.Errorf("failed to fetch account metadata: %w", err)
	}

	if _, err := s.accounts.UpsertAccount(ctx, repo.UpsertAccountParams{
		ID:            account.ID,
		UserID:        account.UserID,
		RequisitionID: account.RequisitionID,
		InstitutionID: account.InstitutionID,
		Name:          nullString(fetched.Name),
		Iban:          nullString(fetched.Iban),
		Currency:      nullString(fetched.Currency),
		Product:       nullString(fetched.Product),
	}); err != nil {
		return fmt.Errorf("failed to persist account metadata: %w", err)
	}
	return nil
}

func (s *SyncService) refreshBalances(ctx context.Context, accountID string) error {
	balances, err := s.provider.GetAccountBalances(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to fetch balances: %w", err)
	}
	for _, balance := range balances {
		if err := s.accounts.UpsertBalanceSnapshot(ctx, repo.UpsertBalanceSnapshotParams{
			AccountID:     accountID,
			BalanceType:   balance.Type,
			Amount:        balance.Amount,
			Currency:      balance.Currency,
			ReferenceDate: balance.ReferenceDate,
		}); err != nil {
			return fmt.Errorf("failed to persist balance snapshot: %w", err)
		}
	}
	return nil
}

func (s *SyncService) refreshTransactions(ctx context.Context, account repo.Account) (int, error) {
	var dateFrom *time.Time
	if account.LastSynced.Valid {
		from := account.LastSynced.Time
		dateFrom = &from
	} else if s.historyDays > 0 {
		from := s.now().UTC().AddDate(0, 0, -s.historyDays)
		dateFrom = &from
	}

	transactions, err := s.provider.GetAccountTransactions(ctx, account.ID, dateFrom)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	if len(transactions) == 0 {
		return 0, nil
	}

	params := make([]repo.UpsertTransactionParams, 0, len(transactions))
	for _, txn := range transactions {
		currency := txn.Currency
		if currency == "" {
			currency = account.Currency.String
		}
		params = append(params, repo.UpsertTransactionParams{
			ID:             transactionID(account.ID, txn.ExternalID),
			ExternalID:     nullString(txn.ExternalID),
			UserID:         account.UserID,
			AccountID:      account.ID,
			Amount:         txn.Amount,
			Currency:       currency,
			BookingDate:    nullTime(txn.BookingDate),
			ValueDate:      nullTime(txn.ValueDate),
			Pending:        txn.Pending,
			CreditorName:   nullString(txn.CreditorName),
			DebtorName:     nullString(txn.DebtorName),
			RemittanceInfo: nullString(txn.RemittanceInfo),
		})
	}

	inserted, err := s.txns.UpsertTransactions(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("failed to persist transactions: %w", err)
	}
	return inserted, nil
}

// transactionID is the stable local identity for a provider transaction. The
// provider id is only unique within an account, so the account id is part of
// the key.
func transactionID(accountID, externalID string) string {
	return accountID + "_" + externalID
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}
