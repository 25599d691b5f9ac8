package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TomSB1423/networth/internal/events"
	"github.com/TomSB1423/networth/internal/provider"
	"github.com/TomSB1423/networth/internal/repo"
)

const defaultAccessWindowDays = 90

// LinkResult is the outcome of a link request. AlreadyLinked is set when an
// existing pending or linked requisition was returned instead of creating a
// new one.
type LinkResult struct {
	RequisitionID     string `json:"requisition_id"`
	AuthorizationLink string `json:"authorization_link"`
	Status            string `json:"status"`
	AlreadyLinked     bool   `json:"already_linked"`
}

// LinkingService drives the account linking flow: agreement creation,
// requisition creation, status polling and account discovery.
type LinkingService struct {
	provider     provider.Provider
	institutions *InstitutionService
	agreements   repo.AgreementRepository
	requisitions repo.RequisitionRepository
	accounts     repo.AccountRepository
	dispatcher   Dispatcher
	redirectURL  string
	logger       *zap.Logger
}

// NewLinkingService creates a new linking service
func NewLinkingService(
	p provider.Provider,
	institutions *InstitutionService,
	agreements repo.AgreementRepository,
	requisitions repo.RequisitionRepository,
	accounts repo.AccountRepository,
	dispatcher Dispatcher,
	redirectURL string,
	logger *zap.Logger,
) *LinkingService {
	return &LinkingService{
		provider:     p,
		institutions: institutions,
		agreements:   agreements,
		requisitions: requisitions,
		accounts:     accounts,
		dispatcher:   dispatcher,
		redirectURL:  redirectURL,
		logger:       logger.Named("linking_service"),
	}
}

// RequestLink starts (or resumes) linking the user to an institution. The
// operation is idempotent: a live requisition for the same user and
// institution is returned as-is, and an agreement left over from a failed
// attempt is reused if no requisition ever consumed it.
func (s *LinkingService) RequestLink(ctx context.Context, userID uuid.UUID, institutionID string) (LinkResult, error) {
	if institutionID == "" {
		return LinkResult{}, &ValidationError{Msg: "institution id is required"}
	}

	institution, err := s.institutions.GetInstitution(ctx, institutionID)
	if err != nil {
		return LinkResult{}, err
	}

	existing, err := s.requisitions.FindCurrentRequisition(ctx, userID, institutionID)
	if err == nil {
		s.logger.Info("Reusing existing requisition",
			zap.String("requisition_id", existing.ID),
			zap.String("status", existing.Status))
		return LinkResult{
			RequisitionID:     existing.ID,
			AuthorizationLink: existing.AuthorizationLink,
			Status:            existing.Status,
			AlreadyLinked:     true,
		}, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return LinkResult{}, fmt.Errorf("failed to look up current requisition: %w", err)
	}

	agreement, err := s.resolveAgreement(ctx, userID, institution)
	if err != nil {
		return LinkResult{}, err
	}

	reference := uuid.New().String()
	created, err := s.provider.CreateRequisition(ctx, agreement.ID, institutionID, s.redirectURL, reference)
	if err != nil {
		return LinkResult{}, fmt.Errorf("failed to create requisition: %w", err)
	}

	requisition, err := s.requisitions.SaveRequisition(ctx, repo.SaveRequisitionParams{
		ID:                created.ID,
		UserID:            userID,
		AgreementID:       agreement.ID,
		InstitutionID:     institutionID,
		Status:            events.LinkStatusPending,
		AuthorizationLink: created.AuthorizationLink,
		Reference:         reference,
	})
	if err != nil {
		return LinkResult{}, fmt.Errorf("failed to persist requisition: %w", err)
	}

	s.logger.Info("Requisition created",
		zap.String("requisition_id", requisition.ID),
		zap.String("institution_id", institutionID),
		zap.String("user_id", userID.String()))

	return LinkResult{
		RequisitionID:     requisition.ID,
		AuthorizationLink: requisition.AuthorizationLink,
		Status:            requisition.Status,
	}, nil
}

// resolveAgreement reuses the user's latest agreement for the institution
// when no requisition has consumed it yet, otherwise it creates a fresh one
// at the aggregator.
func (s *LinkingService) resolveAgreement(ctx context.Context, userID uuid.UUID, institution repo.Institution) (repo.Agreement, error) {
	latest, err := s.agreements.GetLatestAgreement(ctx, userID, institution.ID)
	if err == nil {
		_, reqErr := s.requisitions.FindRequisitionByAgreement(ctx, latest.ID)
		if errors.Is(reqErr, repo.ErrNotFound) {
			return latest, nil
		}
		if reqErr != nil {
			return repo.Agreement{}, fmt.Errorf("failed to look up requisition for agreement: %w", reqErr)
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return repo.Agreement{}, fmt.Errorf("failed to look up latest agreement: %w", err)
	}

	maxHistoricalDays := int(institution.TransactionTotalDays)
	if maxHistoricalDays <= 0 {
		maxHistoricalDays = defaultAccessWindowDays
	}
	accessValidForDays := int(institution.MaxAccessValidForDays)
	if accessValidForDays <= 0 {
		accessValidForDays = defaultAccessWindowDays
	}

	created, err := s.provider.CreateAgreement(ctx, institution.ID, events.DefaultScopes, maxHistoricalDays, accessValidForDays)
	if err != nil {
		return repo.Agreement{}, fmt.Errorf("failed to create agreement: %w", err)
	}

	agreement, err := s.agreements.SaveAgreement(ctx, repo.SaveAgreementParams{
		ID:                 created.ID,
		UserID:             userID,
		InstitutionID:      institution.ID,
		AccessScope:        created.AccessScope,
		MaxHistoricalDays:  int32(created.MaxHistoricalDays),
		AccessValidForDays: int32(created.AccessValidForDays),
	})
	if err != nil {
		return repo.Agreement{}, fmt.Errorf("failed to persist agreement: %w", err)
	}

	return agreement, nil
}

// RefreshLinkStatus polls the aggregator for a requisition's status and
// applies the state transition. When the requisition first reaches linked,
// the accounts it exposes are persisted and a sync job is enqueued for each
// newly discovered one.
func (s *LinkingService) RefreshLinkStatus(ctx context.Context, userID uuid.UUID, requisitionID string) (repo.Requisition, error) {
	requisition, err := s.getUserRequisition(ctx, userID, requisitionID)
	if err != nil {
		return repo.Requisition{}, err
	}

	if isTerminalStatus(requisition.Status) {
		return requisition, nil
	}

	reported, err := s.provider.GetRequisition(ctx, requisition.ID)
	if err != nil {
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) && apiErr.NotFound() {
			return repo.Requisition{}, &NotFoundError{Resource: "requisition", ID: requisitionID}
		}
		return repo.Requisition{}, fmt.Errorf("failed to poll requisition: %w", err)
	}

	next := nextLinkStatus(requisition.Status, reported.Status)
	if next == requisition.Status && next != events.LinkStatusLinked {
		return requisition, nil
	}

	accountIDs := []string{}
	if next == events.LinkStatusLinked && reported.AccountIDs != nil {
		accountIDs = reported.AccountIDs
	}
	if err := s.requisitions.UpdateRequisitionStatus(ctx, repo.UpdateRequisitionStatusParams{
		ID:         requisition.ID,
		Status:     next,
		AccountIDs: accountIDs,
	}); err != nil {
		return repo.Requisition{}, fmt.Errorf("failed to update requisition status: %w", err)
	}

	if next == events.LinkStatusLinked {
		if err := s.discoverAccounts(ctx, requisition, reported.AccountIDs); err != nil {
			return repo.Requisition{}, err
		}
	}

	s.logger.Info("Requisition status updated",
		zap.String("requisition_id", requisition.ID),
		zap.String("from", requisition.Status),
		zap.String("to", next))

	requisition.Status = next
	requisition.AccountIDs = accountIDs
	return requisition, nil
}

// GetLinkStatus returns the locally stored requisition without polling the
// aggregator.
func (s *LinkingService) GetLinkStatus(ctx context.Context, userID uuid.UUID, requisitionID string) (repo.Requisition, error) {
	return s.getUserRequisition(ctx, userID, requisitionID)
}

func (s *LinkingService) getUserRequisition(ctx context.Context, userID uuid.UUID, requisitionID string) (repo.Requisition, error) {
	if requisitionID == "" {
		return repo.Requisition{}, &ValidationError{Msg: "requisition id is required"}
	}
	requisition, err := s.requisitions.GetRequisition(ctx, requisitionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return repo.Requisition{}, &NotFoundError{Resource: "requisition", ID: requisitionID}
		}
		return repo.Requisition{}, fmt.Errorf("failed to get requisition: %w", err)
	}
	if requisition.UserID != userID {
		return repo.Requisition{}, &NotFoundError{Resource: "requisition", ID: requisitionID}
	}
	return requisition, nil
}

// discoverAccounts persists each account the linked requisition exposes and
// enqueues an initial sync for the ones not seen before. Accounts already
// known (from a re-link) are upserted but not re-enqueued here.
func (s *LinkingService) discoverAccounts(ctx context.Context, requisition repo.Requisition, accountIDs []string) error {
	for _, accountID := range accountIDs {
		_, err := s.accounts.GetAccount(ctx, accountID)
		known := err == nil
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("failed to look up account %s: %w", accountID, err)
		}

		if _, err := s.accounts.UpsertAccount(ctx, repo.UpsertAccountParams{
			ID:            accountID,
			UserID:        requisition.UserID,
			RequisitionID: requisition.ID,
			InstitutionID: requisition.InstitutionID,
		}); err != nil {
			return fmt.Errorf("failed to persist account %s: %w", accountID, err)
		}

		if known {
			continue
		}
		if err := s.dispatcher.EnqueueAccountSync(ctx, accountID); err != nil {
			return fmt.Errorf("failed to enqueue sync for account %s: %w", accountID, err)
		}
		s.logger.Info("Account discovered",
			zap.String("account_id", accountID),
			zap.String("requisition_id", requisition.ID))
	}
	return nil
}
