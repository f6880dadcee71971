package app_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfiscal/internal/app"
	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/calculator"
	"shopfiscal/internal/domain/catalog"
	"shopfiscal/internal/domain/ledger"
	"shopfiscal/internal/domain/obligation"
	"shopfiscal/internal/domain/rule"
	"shopfiscal/internal/domain/setting"
	"shopfiscal/internal/infrastructure/metrics"
)

var orgID = id.MustParse("0190e000-0000-7000-8000-000000000001")

func TestMemoryEngine_FullCycle(t *testing.T) {
	ctx := context.Background()
	e := app.NewMemoryEngine(app.Options{Metrics: metrics.New(prometheus.NewRegistry())})
	e.Start(ctx)
	defer e.Close()
	require.NoError(t, e.Ready(ctx))

	regime := catalog.NewRegime("SIMPLES", "Simples Nacional")
	icms := catalog.NewTaxType("ICMS", "ICMS")
	efd := catalog.NewObligationKind("EFD", "EFD ICMS/IPI", catalog.Monthly)
	require.NoError(t, e.Catalog.Regimes.Create(ctx, regime))
	require.NoError(t, e.Catalog.TaxTypes.Create(ctx, icms))
	require.NoError(t, e.Catalog.ObligationKinds.Create(ctx, efd))

	_, err := e.Settings.Create(ctx, orgID, setting.Input{
		OrgName:       "Loja Centro",
		State:         types.Some("SP"),
		RegimeID:      regime.ID,
		EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	rate := decimal.RequireFromString("18")
	_, err = e.Rules.Create(ctx, orgID, rule.CreateInput{
		RegimeID:  regime.ID,
		TaxTypeID: icms.ID,
		Operation: rule.OpSale,
		Columns:   rule.Columns{CalcMethod: rule.MethodPercentage, Rate: &rate},
		ValidFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	res, err := e.Calculator.Calculate(ctx, orgID, calculator.Request{
		Operation:     rule.OpSale,
		Amount:        decimal.RequireFromString("1000.00"),
		EffectiveDate: &at,
	})
	require.NoError(t, err)
	require.Len(t, res.Taxes, 1)
	assert.Equal(t, regime.ID, res.RegimeID)
	assert.True(t, res.TotalTax.Equal(decimal.RequireFromString("180")), res.TotalTax.String())

	mar := period.Period{Month: 3, Year: 2025}
	posted, err := e.Ledgers.Post(ctx, orgID, res, mar)
	require.NoError(t, err)
	require.Len(t, posted.Ledgers, 1)
	assert.True(t, posted.Ledgers[0].TotalDebits.Equal(decimal.RequireFromString("180")))

	ob, created, err := e.Obligations.Create(ctx, orgID, obligation.CreateInput{KindID: efd.ID, Period: mar})
	require.NoError(t, err)
	require.True(t, created)

	// Generating needs the covered period closed.
	_, err = e.Obligations.Advance(ctx, orgID, ob.ID, obligation.AdvanceInput{Target: obligation.StatusGenerated})
	require.Error(t, err)

	closed, err := e.Ledgers.ClosePeriod(ctx, orgID, mar)
	require.NoError(t, err)
	require.True(t, closed.Success)
	for _, l := range closed.Ledgers {
		assert.Equal(t, ledger.StatusClosed, l.Status)
	}

	_, err = e.Ledgers.Post(ctx, orgID, res, mar)
	assert.True(t, apperror.Is(err, apperror.CodeLedgerClosed))

	ob, err = e.Obligations.Advance(ctx, orgID, ob.ID, obligation.AdvanceInput{Target: obligation.StatusGenerated})
	require.NoError(t, err)
	assert.Equal(t, obligation.StatusGenerated, ob.Status)

	trail, err := e.Audit.Query(ctx, audit.Filter{OrgID: &orgID})
	require.NoError(t, err)
	assert.NotZero(t, trail.TotalCount)
}

func TestMemoryEngine_CatalogReadsAreCached(t *testing.T) {
	ctx := context.Background()
	e := app.NewMemoryEngine(app.Options{})

	tt := catalog.NewTaxType("ISS", "ISS")
	require.NoError(t, e.Catalog.TaxTypes.Create(ctx, tt))

	_, err := e.Catalog.TaxTypes.GetByID(ctx, tt.ID)
	require.NoError(t, err)
	_, err = e.Catalog.TaxTypes.GetByID(ctx, tt.ID)
	require.NoError(t, err)

	stats := e.CatalogCache.GetStats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
}

func TestMemoryEngine_CountsCommittedCatalogEntries(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	e := app.NewMemoryEngine(app.Options{Metrics: metrics.New(reg)})

	require.NoError(t, e.Catalog.Regimes.Create(ctx, catalog.NewRegime("MEI", "MEI")))
	require.NoError(t, e.Catalog.TaxTypes.Create(ctx, catalog.NewTaxType("ICMS", "ICMS")))
	require.NoError(t, e.Catalog.TaxTypes.Create(ctx, catalog.NewTaxType("ISS", "ISS")))
	err := e.Catalog.TaxTypes.Create(ctx, catalog.NewTaxType("ISS", "ISS again"))
	require.True(t, apperror.Is(err, apperror.CodeDuplicate), err)

	expected := `
# HELP fiscal_catalog_entries_created_total Committed catalog entries by table.
# TYPE fiscal_catalog_entries_created_total counter
fiscal_catalog_entries_created_total{table="fiscal_tax_regimes"} 1
fiscal_catalog_entries_created_total{table="fiscal_tax_types"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "fiscal_catalog_entries_created_total"))
}
