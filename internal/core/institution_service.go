package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/TomSB1423/networth/internal/provider"
	"github.com/TomSB1423/networth/internal/repo"
)

const catalogCacheTTL = time.Hour

// InstitutionService serves the institution catalog. Entries come from the
// aggregator, are persisted for joins and served from a TTL cache; in
// sandbox mode the catalog is the single sandbox bank and no provider calls
// are made.
type InstitutionService struct {
	provider     provider.Provider
	institutions repo.InstitutionRepository
	cache        *gocache.Cache
	sandbox      bool
	logger       *zap.Logger
}

// NewInstitutionService creates a new institution service
func NewInstitutionService(p provider.Provider, institutions repo.InstitutionRepository, sandbox bool, logger *zap.Logger) *InstitutionService {
	return &InstitutionService{
		provider:     p,
		institutions: institutions,
		cache:        gocache.New(catalogCacheTTL, 2*catalogCacheTTL),
		sandbox:      sandbox,
		logger:       logger.Named("institution_service"),
	}
}

// ListInstitutions returns the catalog for one country. When the aggregator
// is unavailable the previously persisted catalog is served instead.
func (s *InstitutionService) ListInstitutions(ctx context.Context, country string) ([]repo.Institution, error) {
	if country == "" {
		return nil, &ValidationError{Msg: "country code is required"}
	}

	if s.sandbox {
		institution, err := s.sandboxInstitution(ctx)
		if err != nil {
			return nil, err
		}
		return []repo.Institution{institution}, nil
	}

	cacheKey := "country:" + country
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached.([]repo.Institution), nil
	}

	listed, err := s.provider.ListInstitutions(ctx, country)
	if err != nil {
		stored, storedErr := s.institutions.ListInstitutionsByCountry(ctx, country)
		if storedErr == nil && len(stored) > 0 {
			s.logger.Warn("Serving stored institution catalog",
				zap.String("country", country),
				zap.Error(err))
			return stored, nil
		}
		return nil, fmt.Errorf("failed to list institutions: %w", err)
	}

	institutions := make([]repo.Institution, 0, len(listed))
	for _, entry := range listed {
		institution, err := s.institutions.UpsertInstitution(ctx, upsertInstitutionParams(entry))
		if err != nil {
			return nil, fmt.Errorf("failed to persist institution %s: %w", entry.ID, err)
		}
		institutions = append(institutions, institution)
	}

	s.cache.Set(cacheKey, institutions, gocache.DefaultExpiration)
	s.logger.Debug("Institution catalog refreshed",
		zap.String("country", country),
		zap.Int("count", len(institutions)))

	return institutions, nil
}

// GetInstitution returns one catalog entry, fetching it from the aggregator
// on cache miss.
func (s *InstitutionService) GetInstitution(ctx context.Context, institutionID string) (repo.Institution, error) {
	if institutionID == "" {
		return repo.Institution{}, &ValidationError{Msg: "institution id is required"}
	}

	if s.sandbox {
		if institutionID != provider.SandboxInstitutionID {
			return repo.Institution{}, &NotFoundError{Resource: "institution", ID: institutionID}
		}
		return s.sandboxInstitution(ctx)
	}

	cacheKey := "institution:" + institutionID
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached.(repo.Institution), nil
	}

	entry, err := s.provider.GetInstitution(ctx, institutionID)
	if err != nil {
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) && apiErr.NotFound() {
			return repo.Institution{}, &NotFoundError{Resource: "institution", ID: institutionID}
		}
		return repo.Institution{}, fmt.Errorf("failed to get institution: %w", err)
	}

	institution, err := s.institutions.UpsertInstitution(ctx, upsertInstitutionParams(entry))
	if err != nil {
		return repo.Institution{}, fmt.Errorf("failed to persist institution: %w", err)
	}

	s.cache.Set(cacheKey, institution, gocache.DefaultExpiration)
	return institution, nil
}

func (s *InstitutionService) sandboxInstitution(ctx context.Context) (repo.Institution, error) {
	institution, err := s.institutions.UpsertInstitution(ctx, repo.UpsertInstitutionParams{
		ID:                    provider.SandboxInstitutionID,
		Name:                  "Sandbox Finance",
		Countries:             []string{"GB"},
		TransactionTotalDays:  90,
		MaxAccessValidForDays: 90,
	})
	if err != nil {
		return repo.Institution{}, fmt.Errorf("failed to persist sandbox institution: %w", err)
	}
	return institution, nil
}

func upsertInstitutionParams(entry provider.Institution) repo.UpsertInstitutionParams {
	// countries is a NOT NULL column and pgx writes a nil slice as NULL.
	countries := entry.Countries
	if countries == nil {
		countries = []string{}
	}
	return repo.UpsertInstitutionParams{
		ID:                    entry.ID,
		Name:                  entry.Name,
		Bic:                   nullString(entry.Bic),
		LogoURL:               nullString(entry.LogoURL),
		Countries:             countries,
		TransactionTotalDays:  int32(entry.TransactionTotalDays),
		MaxAccessValidForDays: int32(entry.MaxAccessValidForDays),
	}
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
