package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Entities

type Institution struct {
	ID                    string         `json:"id"`
	Name                  string         `json:"name"`
	Bic                   sql.NullString `json:"bic"`
	LogoURL               sql.NullString `json:"logo_url"`
	Countries             []string       `json:"countries"`
	TransactionTotalDays  int32          `json:"transaction_total_days"`
	MaxAccessValidForDays int32          `json:"max_access_valid_for_days"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

type Agreement struct {
	ID                 string    `json:"id"`
	UserID             uuid.UUID `json:"user_id"`
	InstitutionID      string    `json:"institution_id"`
	AccessScope        []string  `json:"access_scope"`
	MaxHistoricalDays  int32     `json:"max_historical_days"`
	AccessValidForDays int32     `json:"access_valid_for_days"`
	CreatedAt          time.Time `json:"created_at"`
}

type Requisition struct {
	ID                string    `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	AgreementID       string    `json:"agreement_id"`
	InstitutionID     string    `json:"institution_id"`
	Status            string    `json:"status"`
	AuthorizationLink string    `json:"authorization_link"`
	Reference         string    `json:"reference"`
	AccountIDs        []string  `json:"account_ids"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type Account struct {
	ID            string         `json:"id"`
	UserID        uuid.UUID      `json:"user_id"`
	RequisitionID string         `json:"requisition_id"`
	InstitutionID string         `json:"institution_id"`
	Name          sql.NullString `json:"name"`
	Iban          sql.NullString `json:"iban"`
	Currency      sql.NullString `json:"currency"`
	Product       sql.NullString `json:"product"`
	LastSynced    sql.NullTime   `json:"last_synced"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type Transaction struct {
	ID             string              `json:"id"`
	ExternalID     sql.NullString      `json:"external_id"`
	UserID         uuid.UUID           `json:"user_id"`
	AccountID      string              `json:"account_id"`
	Amount         decimal.Decimal     `json:"amount"`
	Currency       string              `json:"currency"`
	BookingDate    sql.NullTime        `json:"booking_date"`
	ValueDate      sql.NullTime        `json:"value_date"`
	Pending        bool                `json:"pending"`
	CreditorName   sql.NullString      `json:"creditor_name"`
	DebtorName     sql.NullString      `json:"debtor_name"`
	RemittanceInfo sql.NullString      `json:"remittance_info"`
	RunningBalance decimal.NullDecimal `json:"running_balance"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

type BalanceSnapshot struct {
	AccountID     string          `json:"account_id"`
	BalanceType   string          `json:"balance_type"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	ReferenceDate time.Time       `json:"reference_date"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Repository parameter types

type UpsertInstitutionParams struct {
	ID                    string
	Name                  string
	Bic                   sql.NullString
	LogoURL               sql.NullString
	Countries             []string
	TransactionTotalDays  int32
	MaxAccessValidForDays int32
}

type SaveAgreementParams struct {
	ID                 string
	UserID             uuid.UUID
	InstitutionID      string
	AccessScope        []string
	MaxHistoricalDays  int32
	AccessValidForDays int32
}

type SaveRequisitionParams struct {
	ID                string
	UserID            uuid.UUID
	AgreementID       string
	InstitutionID     string
	Status            string
	AuthorizationLink string
	Reference         string
}

type UpdateRequisitionStatusParams struct {
	ID         string
	Status     string
	AccountIDs []string
}

type UpsertAccountParams struct {
	ID            string
	UserID        uuid.UUID
	RequisitionID string
	InstitutionID string
	Name          sql.NullString
	Iban          sql.NullString
	Currency      sql.NullString
	Product       sql.NullString
}

type UpsertBalanceSnapshotParams struct {
	AccountID     string
	BalanceType   string
	Amount        decimal.Decimal
	Currency      string
	ReferenceDate time.Time
}

type UpsertTransactionParams struct {
	ID             string
	ExternalID     sql.NullString
	UserID         uuid.UUID
	AccountID      string
	Amount         decimal.Decimal
	Currency       string
	BookingDate    sql.NullTime
	ValueDate      sql.NullTime
	Pending        bool
	CreditorName   sql.NullString
	DebtorName     sql.NullString
	RemittanceInfo sql.NullString
}

type ListTransactionsPageParams struct {
	AccountID string
	UserID    uuid.UUID
	Limit     int32
	Offset    int32
}

type RunningBalanceUpdate struct {
	TransactionID  string
	RunningBalance decimal.Decimal
}

// Repository interfaces

type InstitutionRepository interface {
	UpsertInstitution(ctx context.Context, params UpsertInstitutionParams) (Institution, error)
	GetInstitution(ctx context.Context, id string) (Institution, error)
	ListInstitutionsByCountry(ctx context.Context, country string) ([]Institution, error)
}

type AgreementRepository interface {
	SaveAgreement(ctx context.Context, params SaveAgreementParams) (Agreement, error)
	GetAgreement(ctx context.Context, id string) (Agreement, error)
	GetLatestAgreement(ctx context.Context, userID uuid.UUID, institutionID string) (Agreement, error)
}

type RequisitionRepository interface {
	SaveRequisition(ctx context.Context, params SaveRequisitionParams) (Requisition, error)
	GetRequisition(ctx context.Context, id string) (Requisition, error)
	// FindCurrentRequisition returns the newest requisition for the user and
	// institution that is still pending or already linked.
	FindCurrentRequisition(ctx context.Context, userID uuid.UUID, institutionID string) (Requisition, error)
	FindRequisitionByAgreement(ctx context.Context, agreementID string) (Requisition, error)
	UpdateRequisitionStatus(ctx context.Context, params UpdateRequisitionStatusParams) error
}

type AccountRepository interface {
	UpsertAccount(ctx context.Context, params UpsertAccountParams) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	ListAccountsByUser(ctx context.Context, userID uuid.UUID) ([]Account, error)
	// AdvanceLastSynced moves the sync watermark forward. The update only
	// applies when syncedAt is newer than the stored watermark; it reports
	// whether the watermark actually advanced.
	AdvanceLastSynced(ctx context.Context, accountID string, syncedAt time.Time) (bool, error)
	UpsertBalanceSnapshot(ctx context.Context, params UpsertBalanceSnapshotParams) error
	// GetOldestBalanceSnapshot returns the snapshot with the earliest
	// reference date, preferring booked balance types over expected ones
	// reported for the same day.
	GetOldestBalanceSnapshot(ctx context.Context, accountID string) (BalanceSnapshot, error)
}

type TransactionRepository interface {
	// UpsertTransactions inserts unseen transactions and flips previously
	// pending rows to booked. Amounts and identity of existing rows are
	// never modified.
	UpsertTransactions(ctx context.Context, transactions []UpsertTransactionParams) (int, error)
	// ListTransactionsByAccount returns all transactions for the account in
	// chronological order (booking date ascending, id as tie-break).
	ListTransactionsByAccount(ctx context.Context, accountID string) ([]Transaction, error)
	ListTransactionsPage(ctx context.Context, params ListTransactionsPageParams) ([]Transaction, int64, error)
	UpdateRunningBalances(ctx context.Context, updates []RunningBalanceUpdate) error
}
