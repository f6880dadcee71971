package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfiscal/internal/domain/catalog"
)

func TestExtractDBColumns_FollowsEmbeddedCatalog(t *testing.T) {
	cols := ExtractDBColumns[catalog.ObligationKind]()

	assert.Equal(t, []string{
		"id", "version", "created_at", "updated_at", "code", "name", "periodicity",
	}, cols)
}

func TestStructToMap_CatalogEntry(t *testing.T) {
	c := catalog.NewClassification(catalog.ClassificationProduct, "7208.10.00", "Laminados planos")

	m := StructToMap(c)

	require.Len(t, m, 7)
	assert.Equal(t, c.ID, m["id"])
	assert.Equal(t, 1, m["version"])
	assert.Equal(t, "7208.10.00", m["code"])
	assert.Equal(t, "Laminados planos", m["name"])
	assert.Equal(t, catalog.ClassificationProduct, m["kind"])

	var nilKind *catalog.ObligationKind
	assert.Nil(t, StructToMap(nilKind))
	assert.Nil(t, StructToMap(42))
}
