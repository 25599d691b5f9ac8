package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TomSB1423/networth/internal/events"
	"github.com/TomSB1423/networth/internal/provider"
	"github.com/TomSB1423/networth/internal/repo"
)

// In-memory repositories and a scriptable provider used across the service
// tests.

type fakeStore struct {
	mu           sync.Mutex
	institutions map[string]repo.Institution
	agreements   map[string]repo.Agreement
	requisitions map[string]repo.Requisition
	accounts     map[string]repo.Account
	transactions map[string]repo.Transaction
	snapshots    []repo.BalanceSnapshot
	seq          int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		institutions: make(map[string]repo.Institution),
		agreements:   make(map[string]repo.Agreement),
		requisitions: make(map[string]repo.Requisition),
		accounts:     make(map[string]repo.Account),
		transactions: make(map[string]repo.Transaction),
	}
}

func (s *fakeStore) nextSeq() int {
	s.seq++
	return s.seq
}

// InstitutionRepository

func (s *fakeStore) UpsertInstitution(ctx context.Context, params repo.UpsertInstitutionParams) (repo.Institution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	institution := repo.Institution{
		ID:                    params.ID,
		Name:                  params.Name,
		Bic:                   params.Bic,
		LogoURL:               params.LogoURL,
		Countries:             params.Countries,
		TransactionTotalDays:  params.TransactionTotalDays,
		MaxAccessValidForDays: params.MaxAccessValidForDays,
	}
	s.institutions[params.ID] = institution
	return institution, nil
}

func (s *fakeStore) GetInstitution(ctx context.Context, id string) (repo.Institution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	institution, ok := s.institutions[id]
	if !ok {
		return repo.Institution{}, repo.ErrNotFound
	}
	return institution, nil
}

func (s *fakeStore) ListInstitutionsByCountry(ctx context.Context, country string) ([]repo.Institution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []repo.Institution
	for _, institution := range s.institutions {
		for _, c := range institution.Countries {
			if c == country {
				result = append(result, institution)
				break
			}
		}
	}
	return result, nil
}

// AgreementRepository

func (s *fakeStore) SaveAgreement(ctx context.Context, params repo.SaveAgreementParams) (repo.Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.agreements[params.ID]; ok {
		return existing, nil
	}
	agreement := repo.Agreement{
		ID:                 params.ID,
		UserID:             params.UserID,
		InstitutionID:      params.InstitutionID,
		AccessScope:        params.AccessScope,
		MaxHistoricalDays:  params.MaxHistoricalDays,
		AccessValidForDays: params.AccessValidForDays,
		CreatedAt:          time.Now().Add(time.Duration(s.nextSeq()) * time.Millisecond),
	}
	s.agreements[params.ID] = agreement
	return agreement, nil
}

func (s *fakeStore) GetAgreement(ctx context.Context, id string) (repo.Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agreement, ok := s.agreements[id]
	if !ok {
		return repo.Agreement{}, repo.ErrNotFound
	}
	return agreement, nil
}

func (s *fakeStore) GetLatestAgreement(ctx context.Context, userID uuid.UUID, institutionID string) (repo.Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest repo.Agreement
	found := false
	for _, agreement := range s.agreements {
		if agreement.UserID != userID || agreement.InstitutionID != institutionID {
			continue
		}
		if !found || agreement.CreatedAt.After(latest.CreatedAt) {
			latest = agreement
			found = true
		}
	}
	if !found {
		return repo.Agreement{}, repo.ErrNotFound
	}
	return latest, nil
}

// RequisitionRepository

func (s *fakeStore) SaveRequisition(ctx context.Context, params repo.SaveRequisitionParams) (repo.Requisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	requisition := repo.Requisition{
		ID:                params.ID,
		UserID:            params.UserID,
		AgreementID:       params.AgreementID,
		InstitutionID:     params.InstitutionID,
		Status:            params.Status,
		AuthorizationLink: params.AuthorizationLink,
		Reference:         params.Reference,
		CreatedAt:         time.Now().Add(time.Duration(s.nextSeq()) * time.Millisecond),
	}
	s.requisitions[params.ID] = requisition
	return requisition, nil
}

func (s *fakeStore) GetRequisition(ctx context.Context, id string) (repo.Requisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	requisition, ok := s.requisitions[id]
	if !ok {
		return repo.Requisition{}, repo.ErrNotFound
	}
	return requisition, nil
}

func (s *fakeStore) FindCurrentRequisition(ctx context.Context, userID uuid.UUID, institutionID string) (repo.Requisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current repo.Requisition
	found := false
	for _, requisition := range s.requisitions {
		if requisition.UserID != userID || requisition.InstitutionID != institutionID {
			continue
		}
		if requisition.Status != "pending" && requisition.Status != "linked" {
			continue
		}
		if !found || requisition.CreatedAt.After(current.CreatedAt) {
			current = requisition
			found = true
		}
	}
	if !found {
		return repo.Requisition{}, repo.ErrNotFound
	}
	return current, nil
}

func (s *fakeStore) FindRequisitionByAgreement(ctx context.Context, agreementID string) (repo.Requisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, requisition := range s.requisitions {
		if requisition.AgreementID == agreementID {
			return requisition, nil
		}
	}
	return repo.Requisition{}, repo.ErrNotFound
}

func (s *fakeStore) UpdateRequisitionStatus(ctx context.Context, params repo.UpdateRequisitionStatusParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	requisition, ok := s.requisitions[params.ID]
	if !ok {
		return repo.ErrNotFound
	}
	accountIDs := params.AccountIDs
	if accountIDs == nil {
		accountIDs = []string{}
	}
	requisition.Status = params.Status
	requisition.AccountIDs = accountIDs
	s.requisitions[params.ID] = requisition
	return nil
}

// AccountRepository

func (s *fakeStore) UpsertAccount(ctx context.Context, params repo.UpsertAccountParams) (repo.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[params.ID]
	if !ok {
		account = repo.Account{ID: params.ID}
	}
	account.UserID = params.UserID
	account.RequisitionID = params.RequisitionID
	account.InstitutionID = params.InstitutionID
	if params.Name.Valid {
		account.Name = params.Name
	}
	if params.Iban.Valid {
		account.Iban = params.Iban
	}
	if params.Currency.Valid {
		account.Currency = params.Currency
	}
	if params.Product.Valid {
		account.Product = params.Product
	}
	s.accounts[params.ID] = account
	return account, nil
}

func (s *fakeStore) GetAccount(ctx context.Context, id string) (repo.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return repo.Account{}, repo.ErrNotFound
	}
	return account, nil
}

func (s *fakeStore) ListAccountsByUser(ctx context.Context, userID uuid.UUID) ([]repo.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []repo.Account
	for _, account := range s.accounts {
		if account.UserID == userID {
			result = append(result, account)
		}
	}
	return result, nil
}

func (s *fakeStore) AdvanceLastSynced(ctx context.Context, accountID string, syncedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return false, repo.ErrNotFound
	}
	if account.LastSynced.Valid && !account.LastSynced.Time.Before(syncedAt) {
		return false, nil
	}
	account.LastSynced.Time = syncedAt
	account.LastSynced.Valid = true
	s.accounts[accountID] = account
	return true, nil
}

func (s *fakeStore) UpsertBalanceSnapshot(ctx context.Context, params repo.UpsertBalanceSnapshotParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, snapshot := range s.snapshots {
		if snapshot.AccountID == params.AccountID &&
			snapshot.BalanceType == params.BalanceType &&
			snapshot.ReferenceDate.Equal(params.ReferenceDate) {
			s.snapshots[i].Amount = params.Amount
			s.snapshots[i].Currency = params.Currency
			return nil
		}
	}
	s.snapshots = append(s.snapshots, repo.BalanceSnapshot{
		AccountID:     params.AccountID,
		BalanceType:   params.BalanceType,
		Amount:        params.Amount,
		Currency:      params.Currency,
		ReferenceDate: params.ReferenceDate,
	})
	return nil
}

func (s *fakeStore) GetOldestBalanceSnapshot(ctx context.Context, accountID string) (repo.BalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest repo.BalanceSnapshot
	found := false
	for _, snapshot := range s.snapshots {
		if snapshot.AccountID != accountID {
			continue
		}
		if !found ||
			snapshot.ReferenceDate.Before(oldest.ReferenceDate) ||
			(snapshot.ReferenceDate.Equal(oldest.ReferenceDate) &&
				balanceTypeRank(snapshot.BalanceType) < balanceTypeRank(oldest.BalanceType)) {
			oldest = snapshot
			found = true
		}
	}
	if !found {
		return repo.BalanceSnapshot{}, repo.ErrNotFound
	}
	return oldest, nil
}

func balanceTypeRank(balanceType string) int {
	switch balanceType {
	case events.BalanceTypeOpeningBooked:
		return 0
	case events.BalanceTypeClosingBooked:
		return 1
	case events.BalanceTypeInterimBooked:
		return 2
	case events.BalanceTypeExpected:
		return 3
	default:
		return 4
	}
}

// TransactionRepository

func (s *fakeStore) UpsertTransactions(ctx context.Context, transactions []repo.UpsertTransactionParams) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, params := range transactions {
		if existing, ok := s.transactions[params.ID]; ok {
			if existing.Pending && !params.Pending {
				existing.Pending = false
				existing.BookingDate = params.BookingDate
				s.transactions[params.ID] = existing
			}
			continue
		}
		s.transactions[params.ID] = repo.Transaction{
			ID:             params.ID,
			ExternalID:     params.ExternalID,
			UserID:         params.UserID,
			AccountID:      params.AccountID,
			Amount:         params.Amount,
			Currency:       params.Currency,
			BookingDate:    params.BookingDate,
			ValueDate:      params.ValueDate,
			Pending:        params.Pending,
			CreditorName:   params.CreditorName,
			DebtorName:     params.DebtorName,
			RemittanceInfo: params.RemittanceInfo,
			CreatedAt:      time.Now().Add(time.Duration(s.nextSeq()) * time.Millisecond),
		}
		inserted++
	}
	return inserted, nil
}

func (s *fakeStore) ListTransactionsByAccount(ctx context.Context, accountID string) ([]repo.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []repo.Transaction
	for _, txn := range s.transactions {
		if txn.AccountID == accountID {
			result = append(result, txn)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		ti := chronoKey(result[i])
		tj := chronoKey(result[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func chronoKey(txn repo.Transaction) time.Time {
	if txn.BookingDate.Valid {
		return txn.BookingDate.Time
	}
	if txn.ValueDate.Valid {
		return txn.ValueDate.Time
	}
	return txn.CreatedAt
}

func (s *fakeStore) ListTransactionsPage(ctx context.Context, params repo.ListTransactionsPageParams) ([]repo.Transaction, int64, error) {
	all, err := s.ListTransactionsByAccount(ctx, params.AccountID)
	if err != nil {
		return nil, 0, err
	}
	var owned []repo.Transaction
	for _, txn := range all {
		if txn.UserID == params.UserID {
			owned = append(owned, txn)
		}
	}
	total := int64(len(owned))
	start := int(params.Offset)
	if start > len(owned) {
		start = len(owned)
	}
	end := start + int(params.Limit)
	if end > len(owned) {
		end = len(owned)
	}
	return owned[start:end], total, nil
}

func (s *fakeStore) UpdateRunningBalances(ctx context.Context, updates []repo.RunningBalanceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, update := range updates {
		txn, ok := s.transactions[update.TransactionID]
		if !ok {
			return repo.ErrNotFound
		}
		txn.RunningBalance.Decimal = update.RunningBalance
		txn.RunningBalance.Valid = true
		s.transactions[update.TransactionID] = txn
	}
	return nil
}

// fakeProvider is a scriptable aggregator. Each field can be overridden per
// test; unset calls fall back to a benign default.
type fakeProvider struct {
	mu sync.Mutex

	institutions map[string]provider.Institution
	requisitions map[string]provider.Requisition
	accounts     map[string]provider.Account
	balances     map[string][]provider.Balance
	transactions map[string][]provider.Transaction

	listErr         error
	transactionsErr error

	listCalls        int
	agreementCalls   int
	requisitionCalls int
	transactionCalls int
	lastDateFrom     *time.Time
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		institutions: make(map[string]provider.Institution),
		requisitions: make(map[string]provider.Requisition),
		accounts:     make(map[string]provider.Account),
		balances:     make(map[string][]provider.Balance),
		transactions: make(map[string][]provider.Transaction),
	}
}

func (p *fakeProvider) ListInstitutions(ctx context.Context, country string) ([]provider.Institution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls++
	if p.listErr != nil {
		return nil, p.listErr
	}
	var result []provider.Institution
	for _, institution := range p.institutions {
		result = append(result, institution)
	}
	return result, nil
}

func (p *fakeProvider) GetInstitution(ctx context.Context, institutionID string) (provider.Institution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	institution, ok := p.institutions[institutionID]
	if !ok {
		return provider.Institution{}, &provider.APIError{StatusCode: 404, Body: "not found"}
	}
	return institution, nil
}

func (p *fakeProvider) CreateAgreement(ctx context.Context, institutionID string, scopes []string, maxHistoricalDays, accessValidForDays int) (provider.Agreement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agreementCalls++
	return provider.Agreement{
		ID:                 uuid.New().String(),
		InstitutionID:      institutionID,
		AccessScope:        scopes,
		MaxHistoricalDays:  maxHistoricalDays,
		AccessValidForDays: accessValidForDays,
	}, nil
}

func (p *fakeProvider) CreateRequisition(ctx context.Context, agreementID, institutionID, redirectURL, reference string) (provider.Requisition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requisitionCalls++
	requisition := provider.Requisition{
		ID:                uuid.New().String(),
		InstitutionID:     institutionID,
		AgreementID:       agreementID,
		Reference:         reference,
		Status:            "pending",
		AuthorizationLink: "https://auth.example.com/" + reference,
	}
	p.requisitions[requisition.ID] = requisition
	return requisition, nil
}

func (p *fakeProvider) GetRequisition(ctx context.Context, requisitionID string) (provider.Requisition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	requisition, ok := p.requisitions[requisitionID]
	if !ok {
		return provider.Requisition{}, &provider.APIError{StatusCode: 404, Body: "not found"}
	}
	return requisition, nil
}

func (p *fakeProvider) setRequisitionStatus(requisitionID, status string, accountIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	requisition := p.requisitions[requisitionID]
	requisition.ID = requisitionID
	requisition.Status = status
	requisition.AccountIDs = accountIDs
	p.requisitions[requisitionID] = requisition
}

func (p *fakeProvider) GetAccount(ctx context.Context, accountID string) (provider.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	account, ok := p.accounts[accountID]
	if !ok {
		return provider.Account{}, &provider.APIError{StatusCode: 404, Body: "not found"}
	}
	return account, nil
}

func (p *fakeProvider) GetAccountBalances(ctx context.Context, accountID string) ([]provider.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[accountID], nil
}

func (p *fakeProvider) GetAccountTransactions(ctx context.Context, accountID string, dateFrom *time.Time) ([]provider.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transactionCalls++
	p.lastDateFrom = dateFrom
	if p.transactionsErr != nil {
		return nil, p.transactionsErr
	}
	return p.transactions[accountID], nil
}

// fakeDispatcher records enqueued jobs.
type fakeDispatcher struct {
	mu         sync.Mutex
	syncs      []string
	recalcs    []string
	enqueueErr error
}

func (d *fakeDispatcher) EnqueueAccountSync(ctx context.Context, accountID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enqueueErr != nil {
		return d.enqueueErr
	}
	d.syncs = append(d.syncs, accountID)
	return nil
}

func (d *fakeDispatcher) EnqueueRunningBalanceRecalc(ctx context.Context, accountID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enqueueErr != nil {
		return d.enqueueErr
	}
	d.recalcs = append(d.recalcs, accountID)
	return nil
}
