package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TomSB1423/networth/internal/provider"
	"github.com/TomSB1423/networth/internal/repo"
)

func TestListInstitutionsCachesCatalog(t *testing.T) {
	store := newFakeStore()
	prov := newFakeProvider()
	prov.institutions["BANK_A"] = provider.Institution{ID: "BANK_A", Name: "Bank A", Countries: []string{"GB"}}

	service := NewInstitutionService(prov, store, false, zap.NewNop())
	ctx := context.Background()

	first, err := service.ListInstitutions(ctx, "GB")
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := service.ListInstitutions(ctx, "GB")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, prov.listCalls)

	// The catalog entry was persisted for later joins.
	stored, err := store.GetInstitution(ctx, "BANK_A")
	require.NoError(t, err)
	assert.Equal(t, "Bank A", stored.Name)
}

func TestListInstitutionsServesStoredCatalogWhenProviderDown(t *testing.T) {
	store := newFakeStore()
	_, err := store.UpsertInstitution(context.Background(), repo.UpsertInstitutionParams{
		ID:        "BANK_A",
		Name:      "Bank A",
		Countries: []string{"GB"},
	})
	require.NoError(t, err)

	prov := newFakeProvider()
	prov.listErr = &provider.APIError{StatusCode: 503, Body: "unavailable"}

	service := NewInstitutionService(prov, store, false, zap.NewNop())
	institutions, err := service.ListInstitutions(context.Background(), "GB")
	require.NoError(t, err)
	require.Len(t, institutions, 1)
	assert.Equal(t, "BANK_A", institutions[0].ID)
}

func TestListInstitutionsProviderErrorWithEmptyCatalog(t *testing.T) {
	prov := newFakeProvider()
	prov.listErr = &provider.APIError{StatusCode: 503, Body: "unavailable"}

	service := NewInstitutionService(prov, newFakeStore(), false, zap.NewNop())
	_, err := service.ListInstitutions(context.Background(), "GB")
	assert.Error(t, err)
}

func TestGetInstitutionCoalescesMissingCountries(t *testing.T) {
	store := newFakeStore()
	prov := newFakeProvider()
	prov.institutions["BANK_B"] = provider.Institution{ID: "BANK_B", Name: "Bank B"}

	service := NewInstitutionService(prov, store, false, zap.NewNop())
	_, err := service.GetInstitution(context.Background(), "BANK_B")
	require.NoError(t, err)

	// countries is NOT NULL in the schema, so the persisted slice must not
	// be nil.
	stored, err := store.GetInstitution(context.Background(), "BANK_B")
	require.NoError(t, err)
	assert.NotNil(t, stored.Countries)
	assert.Empty(t, stored.Countries)
}

func TestListInstitutionsRequiresCountry(t *testing.T) {
	service := NewInstitutionService(newFakeProvider(), newFakeStore(), false, zap.NewNop())

	_, err := service.ListInstitutions(context.Background(), "")
	var invalid *ValidationError
	assert.ErrorAs(t, err, &invalid)
}

func TestGetInstitutionSandboxMode(t *testing.T) {
	service := NewInstitutionService(newFakeProvider(), newFakeStore(), true, zap.NewNop())
	ctx := context.Background()

	institution, err := service.GetInstitution(ctx, provider.SandboxInstitutionID)
	require.NoError(t, err)
	assert.Equal(t, provider.SandboxInstitutionID, institution.ID)

	// Anything else does not exist in the sandbox catalog.
	_, err = service.GetInstitution(ctx, "REAL_BANK")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestGetInstitutionUnknown(t *testing.T) {
	service := NewInstitutionService(newFakeProvider(), newFakeStore(), false, zap.NewNop())

	_, err := service.GetInstitution(context.Background(), "NO_SUCH_BANK")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
