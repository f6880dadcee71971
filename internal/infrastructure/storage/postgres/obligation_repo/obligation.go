// Package obligation_repo provides the PostgreSQL repository of accessory obligations.
package obligation_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/obligation"
	"shopfiscal/internal/infrastructure/storage/postgres"
)

const obligationsTable = audit.TableObligations

var _ obligation.Repository = (*ObligationRepo)(nil)

type obligationRow struct {
	ID           id.ID      `db:"id"`
	OrgID        id.ID      `db:"org_id"`
	KindID       id.ID      `db:"obligation_kind_id"`
	PeriodYear   int        `db:"period_year"`
	PeriodMonth  int        `db:"period_month"`
	Status       string     `db:"status"`
	Protocol     *string    `db:"protocol"`
	ErrorMessage *string    `db:"error_message"`
	SubmittedAt  *time.Time `db:"submitted_at"`
	Version      int        `db:"version"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

var obligationColumns = postgres.ExtractDBColumns[obligationRow]()

func toRow(o *obligation.Obligation) obligationRow {
	return obligationRow{
		ID:           o.ID,
		OrgID:        o.OrgID,
		KindID:       o.KindID,
		PeriodYear:   o.Period.Year,
		PeriodMonth:  o.Period.Month,
		Status:       string(o.Status),
		Protocol:     o.Protocol.Ptr(),
		ErrorMessage: o.ErrorMessage.Ptr(),
		SubmittedAt:  o.SubmittedAt,
		Version:      o.Version,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func (row obligationRow) toDomain() *obligation.Obligation {
	o := &obligation.Obligation{
		BaseEntity: entity.BaseEntity{
			ID: row.ID, Version: row.Version,
			CreatedAt: row.CreatedAt.UTC(), UpdatedAt: row.UpdatedAt.UTC(),
		},
		OrgID:        row.OrgID,
		KindID:       row.KindID,
		Period:       period.Period{Month: row.PeriodMonth, Year: row.PeriodYear},
		Status:       obligation.Status(row.Status),
		Protocol:     types.FromPtr(row.Protocol),
		ErrorMessage: types.FromPtr(row.ErrorMessage),
	}
	if row.SubmittedAt != nil {
		at := row.SubmittedAt.UTC()
		o.SubmittedAt = &at
	}
	return o
}

// ObligationRepo stores obligations in fiscal_obligations.
type ObligationRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewObligationRepo creates the repository.
func NewObligationRepo(txManager *postgres.TxManager) *ObligationRepo {
	return &ObligationRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *ObligationRepo) insertQuery(o *obligation.Obligation) squirrel.InsertBuilder {
	return r.builder.Insert(obligationsTable).
		SetMap(postgres.StructToMap(toRow(o))).
		Suffix("ON CONFLICT (org_id, obligation_kind_id, period_year, period_month) DO NOTHING")
}

// Insert implements obligation.Repository.
func (r *ObligationRepo) Insert(ctx context.Context, o *obligation.Obligation) (*obligation.Obligation, bool, error) {
	sql, args, err := r.insertQuery(o).ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build insert: %w", err)
	}
	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return nil, false, fmt.Errorf("insert obligation: %w", err)
	}
	if result.RowsAffected() > 0 {
		return o, true, nil
	}

	existing, err := r.getOne(ctx, r.selectBase().Where(squirrel.Eq{
		"org_id":             o.OrgID,
		"obligation_kind_id": o.KindID,
		"period_year":        o.Period.Year,
		"period_month":       o.Period.Month,
	}), o.Period.String())
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *ObligationRepo) selectBase() squirrel.SelectBuilder {
	return r.builder.Select(obligationColumns...).From(obligationsTable)
}

func (r *ObligationRepo) getOne(ctx context.Context, q squirrel.SelectBuilder, key string) (*obligation.Obligation, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var row obligationRow
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("FiscalObligation", key)
		}
		return nil, postgres.MapLockError(fmt.Errorf("get obligation: %w", err), "obligation "+key)
	}
	return row.toDomain(), nil
}

// GetByID implements obligation.Repository.
func (r *ObligationRepo) GetByID(ctx context.Context, orgID, obligationID id.ID) (*obligation.Obligation, error) {
	return r.getOne(ctx, r.selectBase().Where(squirrel.Eq{"id": obligationID, "org_id": orgID}), obligationID.String())
}

// GetForUpdate implements obligation.Repository.
func (r *ObligationRepo) GetForUpdate(ctx context.Context, orgID, obligationID id.ID) (*obligation.Obligation, error) {
	return r.getOne(ctx,
		r.selectBase().Where(squirrel.Eq{"id": obligationID, "org_id": orgID}).Suffix("FOR UPDATE"),
		obligationID.String())
}

// Update implements obligation.Repository.
func (r *ObligationRepo) Update(ctx context.Context, o *obligation.Obligation) error {
	sql, args, err := r.builder.Update(obligationsTable).
		Set("status", string(o.Status)).
		Set("protocol", o.Protocol.Ptr()).
		Set("error_message", o.ErrorMessage.Ptr()).
		Set("submitted_at", o.SubmittedAt).
		Set("version", o.Version).
		Set("updated_at", o.UpdatedAt).
		Where(squirrel.Eq{"id": o.ID, "org_id": o.OrgID, "version": o.Version - 1}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update obligation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("FiscalObligation", o.ID)
	}
	return nil
}

func (r *ObligationRepo) listQuery(orgID id.ID, f obligation.ListFilter) squirrel.SelectBuilder {
	q := r.selectBase().Where(squirrel.Eq{"org_id": orgID})
	if f.Period != nil {
		q = q.Where(squirrel.Eq{"period_year": f.Period.Year, "period_month": f.Period.Month})
	}
	if f.KindID != nil {
		q = q.Where(squirrel.Eq{"obligation_kind_id": *f.KindID})
	}
	if f.Status != "" {
		q = q.Where(squirrel.Eq{"status": string(f.Status)})
	}
	return q
}

// List implements obligation.Repository.
func (r *ObligationRepo) List(ctx context.Context, orgID id.ID, filter obligation.ListFilter) (domain.ListResult[*obligation.Obligation], error) {
	result := domain.ListResult[*obligation.Obligation]{
		Items: []*obligation.Obligation{}, Limit: filter.Limit, Offset: filter.Offset,
	}
	q := r.listQuery(orgID, filter)
	querier := r.txManager.GetQuerier(ctx)

	countSQL, countArgs, err := r.builder.Select("COUNT(*)").FromSelect(q, "sub").ToSql()
	if err != nil {
		return result, fmt.Errorf("build count query: %w", err)
	}
	if err := querier.QueryRow(ctx, countSQL, countArgs...).Scan(&result.TotalCount); err != nil {
		return result, fmt.Errorf("count obligations: %w", err)
	}

	q = q.OrderBy("period_year DESC", "period_month DESC", "created_at")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return result, fmt.Errorf("build query: %w", err)
	}

	var rows []obligationRow
	if err := pgxscan.Select(ctx, querier, &rows, sql, args...); err != nil {
		return result, fmt.Errorf("list obligations: %w", err)
	}
	for _, row := range rows {
		result.Items = append(result.Items, row.toDomain())
	}
	return result, nil
}
