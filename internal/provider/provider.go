// Package provider implements the GoCardless Bank Account Data client:
// token management, typed endpoint operations and rate-limit handling.
package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SandboxInstitutionID is the GoCardless sandbox bank used in non-production
// environments.
const SandboxInstitutionID = "SANDBOXFINANCE_SFIN0000"

// Institution is a catalog entry as reported by the aggregator.
type Institution struct {
	ID                    string
	Name                  string
	Bic                   string
	LogoURL               string
	Countries             []string
	TransactionTotalDays  int
	MaxAccessValidForDays int
}

// Agreement is an end-user agreement created at the aggregator.
type Agreement struct {
	ID                 string
	InstitutionID      string
	AccessScope        []string
	MaxHistoricalDays  int
	AccessValidForDays int
	Created            time.Time
}

// Requisition is an account link attempt tracked at the aggregator. Status
// is already mapped to the local link status values.
type Requisition struct {
	ID                string
	InstitutionID     string
	AgreementID       string
	Reference         string
	Status            string
	AuthorizationLink string
	AccountIDs        []string
}

// Account is bank account metadata exposed once a requisition is linked.
type Account struct {
	ID            string
	InstitutionID string
	Name          string
	Iban          string
	Currency      string
	Product       string
	OwnerName     string
}

// Balance is a single balance figure reported for an account.
type Balance struct {
	Type          string
	Amount        decimal.Decimal
	Currency      string
	ReferenceDate time.Time
}

// Transaction is a booked or pending movement on an account.
type Transaction struct {
	ExternalID     string
	Amount         decimal.Decimal
	Currency       string
	BookingDate    *time.Time
	ValueDate      *time.Time
	Pending        bool
	CreditorName   string
	DebtorName     string
	RemittanceInfo string
}

// Provider is the aggregator capability set consumed by the core services.
// The HTTP client implements it; tests substitute a sandbox fake.
type Provider interface {
	ListInstitutions(ctx context.Context, country string) ([]Institution, error)
	GetInstitution(ctx context.Context, institutionID string) (Institution, error)
	CreateAgreement(ctx context.Context, institutionID string, scopes []string, maxHistoricalDays, accessValidForDays int) (Agreement, error)
	CreateRequisition(ctx context.Context, agreementID, institutionID, redirectURL, reference string) (Requisition, error)
	GetRequisition(ctx context.Context, requisitionID string) (Requisition, error)
	GetAccount(ctx context.Context, accountID string) (Account, error)
	GetAccountBalances(ctx context.Context, accountID string) ([]Balance, error)
	GetAccountTransactions(ctx context.Context, accountID string, dateFrom *time.Time) ([]Transaction, error)
}
