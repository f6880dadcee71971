// Package setting_repo provides the PostgreSQL repository of company fiscal settings.
package setting_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/setting"
	"shopfiscal/internal/infrastructure/storage/postgres"
)

const settingsTable = audit.TableSettings

var _ setting.Repository = (*SettingRepo)(nil)

type settingRow struct {
	ID               id.ID      `db:"id"`
	OrgID            id.ID      `db:"org_id"`
	OrgName          string     `db:"org_name"`
	TaxID            *string    `db:"tax_id"`
	State            *string    `db:"state"`
	MunicipalityCode *string    `db:"municipality_code"`
	RegimeID         id.ID      `db:"regime_id"`
	EffectiveFrom    time.Time  `db:"effective_from"`
	EffectiveTo      *time.Time `db:"effective_to"`
	Version          int        `db:"version"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

var settingColumns = postgres.ExtractDBColumns[settingRow]()

func toRow(s *setting.Setting) settingRow {
	return settingRow{
		ID:               s.ID,
		OrgID:            s.OrgID,
		OrgName:          s.OrgName,
		TaxID:            s.TaxID.Ptr(),
		State:            s.State.Ptr(),
		MunicipalityCode: s.MunicipalityCode.Ptr(),
		RegimeID:         s.RegimeID,
		EffectiveFrom:    s.EffectiveFrom,
		EffectiveTo:      s.EffectiveTo,
		Version:          s.Version,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func (row settingRow) toDomain() *setting.Setting {
	s := &setting.Setting{
		BaseEntity: entity.BaseEntity{
			ID: row.ID, Version: row.Version,
			CreatedAt: row.CreatedAt.UTC(), UpdatedAt: row.UpdatedAt.UTC(),
		},
		OrgID:            row.OrgID,
		OrgName:          row.OrgName,
		TaxID:            types.FromPtr(row.TaxID),
		State:            types.FromPtr(row.State),
		MunicipalityCode: types.FromPtr(row.MunicipalityCode),
		RegimeID:         row.RegimeID,
		EffectiveFrom:    row.EffectiveFrom.UTC(),
	}
	if row.EffectiveTo != nil {
		to := row.EffectiveTo.UTC()
		s.EffectiveTo = &to
	}
	return s
}

// SettingRepo stores settings in fiscal_company_settings.
type SettingRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewSettingRepo creates the repository.
func NewSettingRepo(txManager *postgres.TxManager) *SettingRepo {
	return &SettingRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create implements setting.Repository.
func (r *SettingRepo) Create(ctx context.Context, s *setting.Setting) error {
	sql, args, err := r.builder.Insert(settingsTable).
		SetMap(postgres.StructToMap(toRow(s))).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert setting: %w", err)
	}
	return nil
}

func (r *SettingRepo) updateQuery(s *setting.Setting) squirrel.UpdateBuilder {
	data := postgres.StructToMap(toRow(s))
	delete(data, "id")
	delete(data, "org_id")
	delete(data, "created_at")
	return r.builder.Update(settingsTable).
		SetMap(data).
		Where(squirrel.Eq{"id": s.ID, "org_id": s.OrgID, "version": s.Version - 1})
}

// Update implements setting.Repository.
func (r *SettingRepo) Update(ctx context.Context, s *setting.Setting) error {
	sql, args, err := r.updateQuery(s).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update setting: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("CompanyFiscalSetting", s.ID)
	}
	return nil
}

// GetByID implements setting.Repository.
func (r *SettingRepo) GetByID(ctx context.Context, orgID, settingID id.ID) (*setting.Setting, error) {
	sql, args, err := r.builder.Select(settingColumns...).
		From(settingsTable).
		Where(squirrel.Eq{"id": settingID, "org_id": orgID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row settingRow
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("CompanyFiscalSetting", settingID.String())
		}
		return nil, fmt.Errorf("get setting: %w", err)
	}
	return row.toDomain(), nil
}

// ListByOrg implements setting.Repository.
func (r *SettingRepo) ListByOrg(ctx context.Context, orgID id.ID) ([]*setting.Setting, error) {
	sql, args, err := r.builder.Select(settingColumns...).
		From(settingsTable).
		Where(squirrel.Eq{"org_id": orgID}).
		OrderBy("effective_from", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []settingRow
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	out := make([]*setting.Setting, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// LockOrg implements setting.Repository with a transaction-scoped advisory lock.
func (r *SettingRepo) LockOrg(ctx context.Context, orgID id.ID) error {
	tx := r.txManager.GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("lock settings: no transaction in context")
	}
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", "settings:"+orgID.String()); err != nil {
		return postgres.MapLockError(err, "settings "+orgID.String())
	}
	return nil
}
