package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/domain"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/catalog"
	"shopfiscal/internal/infrastructure/storage/memory"
)

// countingRepo counts the single-entry reads that reach storage.
type countingRepo struct {
	domain.CatalogRepository[*catalog.TaxType]
	gets int
}

func (r *countingRepo) GetByID(ctx context.Context, entryID id.ID) (*catalog.TaxType, error) {
	r.gets++
	return r.CatalogRepository.GetByID(ctx, entryID)
}

func (r *countingRepo) GetByCode(ctx context.Context, code string) (*catalog.TaxType, error) {
	r.gets++
	return r.CatalogRepository.GetByCode(ctx, code)
}

func setup(t *testing.T) (*memory.Store, *countingRepo, *Catalog, *Repo[*catalog.TaxType]) {
	t.Helper()
	store := memory.NewStore()
	inner := &countingRepo{CatalogRepository: store.CatalogRepositories().TaxTypes}
	c := NewCatalog(store)
	return store, inner, c, NewRepo[*catalog.TaxType](inner, c, audit.TableTaxTypes, shallow[catalog.TaxType])
}

func TestRepo_CachesReadsAndReturnsCopies(t *testing.T) {
	ctx := context.Background()
	_, inner, c, repo := setup(t)

	icms := catalog.NewTaxType("ICMS", "ICMS")
	require.NoError(t, repo.Create(ctx, icms))

	first, err := repo.GetByID(ctx, icms.ID)
	require.NoError(t, err)
	first.Name = "mutated"

	second, err := repo.GetByCode(ctx, "icms")
	require.NoError(t, err)
	assert.Equal(t, "ICMS", second.Name)
	assert.Equal(t, 1, inner.gets)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestRepo_InvalidateDropsTable(t *testing.T) {
	ctx := context.Background()
	_, inner, c, repo := setup(t)

	iss := catalog.NewTaxType("ISS", "ISS")
	require.NoError(t, repo.Create(ctx, iss))
	_, err := repo.GetByID(ctx, iss.ID)
	require.NoError(t, err)

	c.Invalidate(audit.TableRegimes)
	_, err = repo.GetByID(ctx, iss.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.gets)

	c.Invalidate("")
	_, err = repo.GetByID(ctx, iss.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.gets)
}

func TestRepo_BypassedInsideTransaction(t *testing.T) {
	store, inner, c, repo := setup(t)

	pis := catalog.NewTaxType("PIS", "PIS")
	err := store.RunInTransaction(context.Background(), func(ctx context.Context) error {
		require.NoError(t, repo.Create(ctx, pis))
		_, err := repo.GetByID(ctx, pis.ID)
		require.NoError(t, err)
		return apperror.NewValidation("abort")
	})
	require.Error(t, err)

	assert.Zero(t, c.GetStats().Entries)
	_, err = repo.GetByID(context.Background(), pis.ID)
	assert.True(t, apperror.IsNotFound(err))
	assert.Equal(t, 2, inner.gets)
}

func TestRepo_NotFoundIsNotCached(t *testing.T) {
	_, inner, _, repo := setup(t)

	_, err := repo.GetByCode(context.Background(), "none")
	assert.True(t, apperror.IsNotFound(err))
	_, err = repo.GetByCode(context.Background(), "none")
	assert.True(t, apperror.IsNotFound(err))
	assert.Equal(t, 2, inner.gets)
}

func TestWrapRepositories_AllCatalogs(t *testing.T) {
	store := memory.NewStore()
	wrapped := WrapRepositories(store.CatalogRepositories(), NewCatalog(store))

	ctx := context.Background()
	kind := catalog.NewObligationKind("EFD", "EFD", catalog.Monthly)
	require.NoError(t, wrapped.ObligationKinds.Create(ctx, kind))
	got, err := wrapped.ObligationKinds.GetByCode(ctx, "efd")
	require.NoError(t, err)
	assert.Equal(t, catalog.Monthly, got.Periodicity)

	assert.IsType(t, &Repo[*catalog.Regime]{}, wrapped.Regimes)
	assert.IsType(t, &Repo[*catalog.Classification]{}, wrapped.Classifications)
}
