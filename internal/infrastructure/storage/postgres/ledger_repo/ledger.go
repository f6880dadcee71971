// Package ledger_repo provides the PostgreSQL repository of tax ledgers,
// calculation records and their postings.
package ledger_repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/shopspring/decimal"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/domain"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/calculator"
	"shopfiscal/internal/domain/ledger"
	"shopfiscal/internal/domain/rule"
	"shopfiscal/internal/infrastructure/storage/postgres"
)

const (
	ledgersTable      = audit.TableLedgers
	calculationsTable = audit.TableCalculations
	postingsTable     = "fiscal_ledger_postings"
)

var _ ledger.Repository = (*LedgerRepo)(nil)

type ledgerRow struct {
	ID           id.ID           `db:"id"`
	OrgID        id.ID           `db:"org_id"`
	TaxTypeID    id.ID           `db:"tax_type_id"`
	RegimeID     id.ID           `db:"regime_id"`
	PeriodYear   int             `db:"period_year"`
	PeriodMonth  int             `db:"period_month"`
	TotalDebits  decimal.Decimal `db:"total_debits"`
	TotalCredits decimal.Decimal `db:"total_credits"`
	BalanceDue   decimal.Decimal `db:"balance_due"`
	Status       string          `db:"status"`
	ClosedAt     *time.Time      `db:"closed_at"`
	ClosedBy     *string         `db:"closed_by"`
	Version      int             `db:"version"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

var ledgerColumns = postgres.ExtractDBColumns[ledgerRow]()

func toLedgerRow(l *ledger.Ledger) ledgerRow {
	var closedBy *string
	if l.ClosedBy != "" {
		by := l.ClosedBy
		closedBy = &by
	}
	return ledgerRow{
		ID:           l.ID,
		OrgID:        l.OrgID,
		TaxTypeID:    l.TaxTypeID,
		RegimeID:     l.RegimeID,
		PeriodYear:   l.Period.Year,
		PeriodMonth:  l.Period.Month,
		TotalDebits:  l.TotalDebits,
		TotalCredits: l.TotalCredits,
		BalanceDue:   l.BalanceDue,
		Status:       string(l.Status),
		ClosedAt:     l.ClosedAt,
		ClosedBy:     closedBy,
		Version:      l.Version,
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	}
}

func (row ledgerRow) toDomain() *ledger.Ledger {
	l := &ledger.Ledger{
		BaseEntity: entity.BaseEntity{
			ID: row.ID, Version: row.Version,
			CreatedAt: row.CreatedAt.UTC(), UpdatedAt: row.UpdatedAt.UTC(),
		},
		OrgID:        row.OrgID,
		TaxTypeID:    row.TaxTypeID,
		RegimeID:     row.RegimeID,
		Period:       period.Period{Month: row.PeriodMonth, Year: row.PeriodYear},
		TotalDebits:  row.TotalDebits,
		TotalCredits: row.TotalCredits,
		BalanceDue:   row.BalanceDue,
		Status:       ledger.Status(row.Status),
	}
	if row.ClosedAt != nil {
		at := row.ClosedAt.UTC()
		l.ClosedAt = &at
	}
	if row.ClosedBy != nil {
		l.ClosedBy = *row.ClosedBy
	}
	return l
}

type calculationRow struct {
	ID            id.ID             `db:"id"`
	OrgID         id.ID             `db:"org_id"`
	RegimeID      id.ID             `db:"regime_id"`
	Operation     string            `db:"operation"`
	PeriodYear    int               `db:"period_year"`
	PeriodMonth   int               `db:"period_month"`
	EffectiveDate time.Time         `db:"effective_date"`
	TotalAmount   decimal.Decimal   `db:"total_amount"`
	TotalTax      decimal.Decimal   `db:"total_tax"`
	NetAmount     decimal.Decimal   `db:"net_amount"`
	Taxes         []calculator.Line `db:"taxes"`
	Notes         string            `db:"notes"`
	CreatedBy     string            `db:"created_by"`
	CreatedAt     time.Time         `db:"created_at"`
}

var calculationColumns = postgres.ExtractDBColumns[calculationRow]()

var postingColumns = []string{
	"id", "org_id", "calculation_id", "ledger_id", "tax_type_id", "rule_id",
	"direction", "base", "rate", "amount", "calc_method", "created_at",
}

// LedgerRepo stores ledgers, calculations and postings.
type LedgerRepo struct {
	txManager *postgres.TxManager
	inserter  *postgres.BatchInserter
	builder   squirrel.StatementBuilderType
}

// NewLedgerRepo creates the repository.
func NewLedgerRepo(txManager *postgres.TxManager) *LedgerRepo {
	return &LedgerRepo{
		txManager: txManager,
		inserter:  postgres.NewBatchInserter(txManager),
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func keyEq(k ledger.Key) squirrel.Eq {
	return squirrel.Eq{
		"org_id":       k.OrgID,
		"tax_type_id":  k.TaxTypeID,
		"regime_id":    k.RegimeID,
		"period_year":  k.Period.Year,
		"period_month": k.Period.Month,
	}
}

func periodEq(orgID id.ID, p period.Period) squirrel.Eq {
	return squirrel.Eq{"org_id": orgID, "period_year": p.Year, "period_month": p.Month}
}

func (r *LedgerRepo) getForUpdateQuery(k ledger.Key) squirrel.SelectBuilder {
	return r.builder.Select(ledgerColumns...).
		From(ledgersTable).
		Where(keyEq(k)).
		Suffix("FOR UPDATE")
}

// GetForUpdate implements ledger.Repository.
func (r *LedgerRepo) GetForUpdate(ctx context.Context, k ledger.Key) (*ledger.Ledger, error) {
	sql, args, err := r.getForUpdateQuery(k).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row ledgerRow
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("TaxLedger", k.Period.String())
		}
		return nil, postgres.MapLockError(fmt.Errorf("get ledger for update: %w", err), "ledger "+k.Period.String())
	}
	return row.toDomain(), nil
}

func (r *LedgerRepo) insertQuery(l *ledger.Ledger) squirrel.InsertBuilder {
	return r.builder.Insert(ledgersTable).
		SetMap(postgres.StructToMap(toLedgerRow(l))).
		Suffix("ON CONFLICT (org_id, tax_type_id, regime_id, period_year, period_month) DO NOTHING")
}

// Insert implements ledger.Repository.
func (r *LedgerRepo) Insert(ctx context.Context, l *ledger.Ledger) (*ledger.Ledger, error) {
	sql, args, err := r.insertQuery(l).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}

	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("insert ledger: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Lost the race: another transaction created the row first.
		return r.GetForUpdate(ctx, l.Key())
	}
	return l, nil
}

// Update implements ledger.Repository.
func (r *LedgerRepo) Update(ctx context.Context, l *ledger.Ledger) error {
	data := postgres.StructToMap(toLedgerRow(l))
	for _, col := range []string{"id", "org_id", "tax_type_id", "regime_id", "period_year", "period_month", "created_at"} {
		delete(data, col)
	}

	sql, args, err := r.builder.Update(ledgersTable).
		SetMap(data).
		Where(squirrel.Eq{"id": l.ID, "version": l.Version - 1}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update ledger: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("TaxLedger", l.ID)
	}
	return nil
}

func (r *LedgerRepo) selectLedgers(ctx context.Context, q squirrel.SelectBuilder) ([]*ledger.Ledger, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []ledgerRow
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select ledgers: %w", err)
	}
	out := make([]*ledger.Ledger, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// ListPeriodForUpdate implements ledger.Repository.
func (r *LedgerRepo) ListPeriodForUpdate(ctx context.Context, orgID id.ID, p period.Period) ([]*ledger.Ledger, error) {
	q := r.builder.Select(ledgerColumns...).
		From(ledgersTable).
		Where(periodEq(orgID, p)).
		OrderBy("tax_type_id", "regime_id").
		Suffix("FOR UPDATE")
	out, err := r.selectLedgers(ctx, q)
	if err != nil {
		return nil, postgres.MapLockError(err, "period "+p.String())
	}
	return out, nil
}

func (r *LedgerRepo) listQuery(orgID id.ID, f ledger.ListFilter) squirrel.SelectBuilder {
	q := r.builder.Select(ledgerColumns...).
		From(ledgersTable).
		Where(squirrel.Eq{"org_id": orgID})
	if f.Period != nil {
		q = q.Where(squirrel.Eq{"period_year": f.Period.Year, "period_month": f.Period.Month})
	}
	if f.TaxTypeID != nil {
		q = q.Where(squirrel.Eq{"tax_type_id": *f.TaxTypeID})
	}
	if f.RegimeID != nil {
		q = q.Where(squirrel.Eq{"regime_id": *f.RegimeID})
	}
	if f.Status != "" {
		q = q.Where(squirrel.Eq{"status": string(f.Status)})
	}
	return q
}

// List implements ledger.Repository.
func (r *LedgerRepo) List(ctx context.Context, orgID id.ID, filter ledger.ListFilter) (domain.ListResult[*ledger.Ledger], error) {
	result := domain.ListResult[*ledger.Ledger]{Limit: filter.Limit, Offset: filter.Offset}
	q := r.listQuery(orgID, filter)

	countSQL, countArgs, err := r.builder.Select("COUNT(*)").FromSelect(q, "sub").ToSql()
	if err != nil {
		return result, fmt.Errorf("build count query: %w", err)
	}
	if err := r.txManager.GetQuerier(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&result.TotalCount); err != nil {
		return result, fmt.Errorf("count ledgers: %w", err)
	}

	q = q.OrderBy("period_year DESC", "period_month DESC", "tax_type_id", "regime_id")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	result.Items, err = r.selectLedgers(ctx, q)
	return result, err
}

// StatusCounts implements ledger.Repository.
func (r *LedgerRepo) StatusCounts(ctx context.Context, orgID id.ID, p period.Period) (map[ledger.Status]int, error) {
	sql, args, err := r.builder.Select("status", "COUNT(*) AS n").
		From(ledgersTable).
		Where(periodEq(orgID, p)).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("count ledger statuses: %w", err)
	}
	out := make(map[ledger.Status]int, len(rows))
	for _, row := range rows {
		out[ledger.Status(row.Status)] = row.N
	}
	return out, nil
}

// InsertCalculation implements ledger.Repository. Postings are copied in bulk.
func (r *LedgerRepo) InsertCalculation(ctx context.Context, rec *ledger.CalculationRecord, postings []ledger.Posting) error {
	taxes, err := json.Marshal(rec.Taxes)
	if err != nil {
		return fmt.Errorf("marshal calculation lines: %w", err)
	}

	sql, args, err := r.builder.Insert(calculationsTable).
		Columns(calculationColumns...).
		Values(
			rec.ID, rec.OrgID, rec.RegimeID, string(rec.Operation),
			rec.Period.Year, rec.Period.Month, rec.EffectiveDate,
			rec.TotalAmount, rec.TotalTax, rec.NetAmount, string(taxes),
			rec.Notes, rec.CreatedBy, rec.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert calculation: %w", err)
	}

	rows := make([][]any, len(postings))
	for i, p := range postings {
		rows[i] = []any{
			p.ID, p.OrgID, p.CalculationID, p.LedgerID, p.TaxTypeID, p.RuleID,
			string(p.Direction), p.Base, p.Rate, p.Amount, string(p.CalcMethod), p.CreatedAt,
		}
	}
	if _, err := r.inserter.CopyFromSlice(ctx, postingsTable, postingColumns, rows); err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return apperror.NewConflict("posting references a missing rule or ledger").WithCause(err)
		}
		return fmt.Errorf("copy postings: %w", err)
	}
	return nil
}

// CalculationsInPeriod implements ledger.Repository.
func (r *LedgerRepo) CalculationsInPeriod(ctx context.Context, orgID id.ID, p period.Period) ([]*ledger.CalculationRecord, error) {
	sql, args, err := r.builder.Select(calculationColumns...).
		From(calculationsTable).
		Where(periodEq(orgID, p)).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []calculationRow
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select calculations: %w", err)
	}
	out := make([]*ledger.CalculationRecord, len(rows))
	for i, row := range rows {
		out[i] = &ledger.CalculationRecord{
			ID:            row.ID,
			OrgID:         row.OrgID,
			RegimeID:      row.RegimeID,
			Operation:     rule.Operation(row.Operation),
			Period:        period.Period{Month: row.PeriodMonth, Year: row.PeriodYear},
			EffectiveDate: row.EffectiveDate.UTC(),
			TotalAmount:   row.TotalAmount,
			TotalTax:      row.TotalTax,
			NetAmount:     row.NetAmount,
			Taxes:         row.Taxes,
			Notes:         row.Notes,
			CreatedBy:     row.CreatedBy,
			CreatedAt:     row.CreatedAt.UTC(),
		}
	}
	return out, nil
}
