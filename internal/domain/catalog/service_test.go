package catalog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/domain"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/catalog"
	"shopfiscal/internal/infrastructure/storage/memory"
)

func newCatalog(t *testing.T) (*catalog.Catalog, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return catalog.New(store.CatalogRepositories(), store, audit.NewService(store.Audit(), nil)), store
}

func TestCreate_UniqueCodesAndAudit(t *testing.T) {
	cat, store := newCatalog(t)
	ctx := context.Background()

	icms := catalog.NewTaxType("ICMS", "Imposto sobre Circulacao de Mercadorias")
	require.NoError(t, cat.TaxTypes.Create(ctx, icms))

	err := cat.TaxTypes.Create(ctx, catalog.NewTaxType("icms", "Duplicate"))
	assert.True(t, apperror.Is(err, apperror.CodeDuplicate))

	err = cat.TaxTypes.Create(ctx, catalog.NewTaxType("", "No code"))
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	got, err := cat.TaxTypes.GetByCode(ctx, "ICMS")
	require.NoError(t, err)
	assert.Equal(t, icms.ID, got.ID)

	_, total, err := store.Audit().Query(ctx, audit.Filter{TableName: audit.TableTaxTypes})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	ok, err := cat.TaxTypeExists(ctx, icms.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = cat.RegimeExists(ctx, icms.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreate_HooksAndValidation(t *testing.T) {
	cat, _ := newCatalog(t)
	ctx := context.Background()

	var created []string
	cat.Classifications.Hooks().On(domain.AfterCreate, func(_ context.Context, c *catalog.Classification) error {
		created = append(created, c.Code)
		return nil
	})
	cat.Classifications.Hooks().On(domain.BeforeCreate, func(_ context.Context, c *catalog.Classification) error {
		if c.Code == "0000" {
			return errors.New("reserved code")
		}
		return nil
	})

	require.NoError(t, cat.Classifications.Create(ctx, catalog.NewClassification(catalog.ClassificationService, "1.07", "Software licensing")))
	assert.Error(t, cat.Classifications.Create(ctx, catalog.NewClassification(catalog.ClassificationProduct, "0000", "Reserved")))
	err := cat.Classifications.Create(ctx, catalog.NewClassification("commodity", "9999", "Bad kind"))
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	assert.Equal(t, []string{"1.07"}, created)
}

func TestList_SearchAndPaging(t *testing.T) {
	cat, _ := newCatalog(t)
	ctx := context.Background()
	for _, code := range []string{"SIMPLES", "PRESUMIDO", "REAL"} {
		require.NoError(t, cat.Regimes.Create(ctx, catalog.NewRegime(code, "Lucro "+code)))
	}

	res, err := cat.Regimes.List(ctx, domain.ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.TotalCount)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "PRESUMIDO", res.Items[0].Code)

	res, err = cat.Regimes.List(ctx, domain.ListFilter{Search: "simp"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "SIMPLES", res.Items[0].Code)

	_, err = cat.Regimes.GetByCode(ctx, "MEI")
	assert.True(t, apperror.IsNotFound(err))
}

func TestObligationKind_Periods(t *testing.T) {
	q := catalog.NewObligationKind("DCTF", "Quarterly", catalog.Quarterly)
	assert.True(t, q.AcceptsPeriod(period.Period{Month: 6, Year: 2025}))
	assert.False(t, q.AcceptsPeriod(period.Period{Month: 5, Year: 2025}))
	assert.Equal(t, []period.Period{
		{Month: 4, Year: 2025}, {Month: 5, Year: 2025}, {Month: 6, Year: 2025},
	}, q.CoveredPeriods(period.Period{Month: 6, Year: 2025}))

	a := catalog.NewObligationKind("ECF", "Annual", catalog.Annual)
	covered := a.CoveredPeriods(period.Period{Month: 12, Year: 2024})
	require.Len(t, covered, 12)
	assert.Equal(t, period.Period{Month: 1, Year: 2024}, covered[0])

	m := catalog.NewObligationKind("EFD", "Monthly", "MONTHLY")
	assert.Equal(t, catalog.Monthly, m.Periodicity)
	assert.NoError(t, m.Validate(context.Background()))
	assert.Error(t, catalog.NewObligationKind("X", "Weekly", "weekly").Validate(context.Background()))
}
