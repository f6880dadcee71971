package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfiscal/internal/app"
	"shopfiscal/internal/domain"
)

func TestSeedCatalog_IsRepeatable(t *testing.T) {
	ctx := context.Background()
	e := app.NewMemoryEngine(app.Options{})

	require.NoError(t, seedCatalog(ctx, e))
	require.NoError(t, seedCatalog(ctx, e))

	regimes, err := e.Catalog.Regimes.List(ctx, domain.ListFilter{Limit: 100})
	require.NoError(t, err)
	assert.EqualValues(t, 4, regimes.TotalCount)

	icms, err := e.Catalog.TaxTypes.GetByCode(ctx, "ICMS")
	require.NoError(t, err)
	assert.Equal(t, "ICMS", icms.Code)
}
