// Package events defines queue subjects, status constants and message
// payloads shared between the core services and the queue layer.
package events

// Link status values for requisitions and accounts
const (
	LinkStatusPending = "pending"
	LinkStatusLinked  = "linked"
	LinkStatusFailed  = "failed"
	LinkStatusExpired = "expired"
)

// Access scopes requested when creating an end-user agreement
const (
	ScopeBalances     = "balances"
	ScopeDetails      = "details"
	ScopeTransactions = "transactions"
)

// DefaultScopes is the scope set granted to every new agreement.
var DefaultScopes = []string{ScopeBalances, ScopeDetails, ScopeTransactions}

// Queue streams and subjects
const (
	StreamAccountSync    = "ACCOUNT_SYNC"
	StreamRunningBalance = "RUNNING_BALANCE"

	SubjectAccountSync             = "account-sync"
	SubjectCalculateRunningBalance = "calculate-running-balance"
)

// Balance snapshot types as reported by the aggregator
const (
	BalanceTypeClosingBooked = "closingBooked"
	BalanceTypeExpected      = "expected"
	BalanceTypeInterimBooked = "interimBooked"
	BalanceTypeOpeningBooked = "openingBooked"
)

// AccountSyncPayload is the message carried on the account-sync queue.
type AccountSyncPayload struct {
	AccountID string `json:"account_id"`
}

// RunningBalancePayload is the message carried on the calculate-running-balance queue.
type RunningBalancePayload struct {
	AccountID string `json:"account_id"`
}
