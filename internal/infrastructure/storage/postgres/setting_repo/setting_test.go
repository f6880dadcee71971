package setting_repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain/setting"
)

func TestRowRoundTrip_KeepsOptionalColumns(t *testing.T) {
	to := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	s := &setting.Setting{
		BaseEntity:    entity.NewBaseEntity(),
		OrgID:         id.New(),
		OrgName:       "Loja Centro",
		TaxID:         types.Some("12.345.678/0001-90"),
		State:         types.Some("SP"),
		RegimeID:      id.New(),
		EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EffectiveTo:   &to,
	}

	row := toRow(s)
	assert.Nil(t, row.MunicipalityCode)
	require.NotNil(t, row.State)
	assert.Equal(t, "SP", *row.State)

	back := row.toDomain()
	assert.Equal(t, s.TaxID, back.TaxID)
	assert.False(t, back.MunicipalityCode.IsSet())
	assert.Equal(t, s.EffectiveTo, back.EffectiveTo)
	assert.Equal(t, s.ID, back.ID)
}

func TestUpdateQuery_ChecksVersionAndOrg(t *testing.T) {
	repo := NewSettingRepo(nil)
	s := &setting.Setting{BaseEntity: entity.NewBaseEntity(), OrgID: id.New(), OrgName: "X", RegimeID: id.New()}
	s.Touch()

	sql, args, err := repo.updateQuery(s).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "UPDATE fiscal_company_settings SET ")
	assert.Contains(t, sql, "WHERE id = $")
	assert.NotContains(t, sql, "created_at =")
	assert.Contains(t, args, 1)
	assert.Contains(t, args, 2)
}
