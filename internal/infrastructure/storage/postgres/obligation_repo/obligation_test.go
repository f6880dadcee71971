package obligation_repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain/obligation"
)

func TestInsertQuery_IsIdempotentPerKindAndPeriod(t *testing.T) {
	repo := NewObligationRepo(nil)
	o := obligation.New(id.New(), id.New(), period.Period{Month: 6, Year: 2025})

	sql, _, err := repo.insertQuery(o).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "INSERT INTO fiscal_obligations")
	assert.Contains(t, sql, "ON CONFLICT (org_id, obligation_kind_id, period_year, period_month) DO NOTHING")
}

func TestRowRoundTrip(t *testing.T) {
	o := obligation.New(id.New(), id.New(), period.Period{Month: 1, Year: 2026})
	o.ErrorMessage = types.Some("schema rejected")

	row := toRow(o)
	assert.Nil(t, row.Protocol)
	assert.Equal(t, "rascunho", row.Status)

	back := row.toDomain()
	assert.Equal(t, o.Period, back.Period)
	assert.Equal(t, o.ErrorMessage, back.ErrorMessage)
	assert.False(t, back.Protocol.IsSet())
}

func TestListQuery_Filters(t *testing.T) {
	repo := NewObligationRepo(nil)
	orgID, kindID := id.New(), id.New()

	sql, args, err := repo.listQuery(orgID, obligation.ListFilter{KindID: &kindID, Status: obligation.StatusSent}).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE org_id = $1 AND obligation_kind_id = $2 AND status = $3")
	assert.Equal(t, []any{orgID.String(), kindID.String(), "enviado"}, args)
}
