// Package rule_repo provides the PostgreSQL repository of tax rules.
package rule_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/shopspring/decimal"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/domain"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/rule"
	"shopfiscal/internal/infrastructure/storage/postgres"
)

const (
	rulesTable    = audit.TableRules
	postingsTable = "fiscal_ledger_postings"
)

var _ rule.Repository = (*RuleRepo)(nil)

// ruleRow mirrors fiscal_tax_rules. NULL match columns are wildcards.
type ruleRow struct {
	ID               id.ID            `db:"id"`
	OrgID            id.ID            `db:"org_id"`
	RegimeID         id.ID            `db:"regime_id"`
	TaxTypeID        id.ID            `db:"tax_type_id"`
	Operation        string           `db:"operation"`
	OriginUF         *string          `db:"origin_uf"`
	DestinationUF    *string          `db:"destination_uf"`
	ClassificationID *id.ID           `db:"classification_id"`
	CalcMethod       string           `db:"calc_method"`
	Rate             *decimal.Decimal `db:"rate"`
	BaseReduction    *decimal.Decimal `db:"base_reduction"`
	FixedValue       *decimal.Decimal `db:"fixed_value"`
	Formula          *string          `db:"formula"`
	IsActive         bool             `db:"is_active"`
	Priority         int              `db:"priority"`
	ValidFrom        time.Time        `db:"valid_from"`
	ValidTo          *time.Time       `db:"valid_to"`
	Version          int              `db:"version"`
	CreatedAt        time.Time        `db:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at"`
}

var ruleColumns = postgres.ExtractDBColumns[ruleRow]()

func toRow(r *rule.Rule) ruleRow {
	s := r.Snapshot()
	return ruleRow{
		ID:               s.ID,
		OrgID:            s.OrgID,
		RegimeID:         s.RegimeID,
		TaxTypeID:        s.TaxTypeID,
		Operation:        string(s.Operation),
		OriginUF:         s.OriginUF,
		DestinationUF:    s.DestinationUF,
		ClassificationID: s.ClassificationID,
		CalcMethod:       string(s.CalcMethod),
		Rate:             s.Rate,
		BaseReduction:    s.BaseReduction,
		FixedValue:       s.FixedValue,
		Formula:          s.Formula,
		IsActive:         s.IsActive,
		Priority:         s.Priority,
		ValidFrom:        s.ValidFrom,
		ValidTo:          s.ValidTo,
		Version:          s.Version,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func (row ruleRow) toDomain() (*rule.Rule, error) {
	utc := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		u := t.UTC()
		return &u
	}
	r, err := rule.FromSnapshot(rule.Snapshot{
		ID:               row.ID,
		OrgID:            row.OrgID,
		RegimeID:         row.RegimeID,
		TaxTypeID:        row.TaxTypeID,
		Operation:        rule.Operation(row.Operation),
		OriginUF:         row.OriginUF,
		DestinationUF:    row.DestinationUF,
		ClassificationID: row.ClassificationID,
		IsActive:         row.IsActive,
		Priority:         row.Priority,
		ValidFrom:        row.ValidFrom.UTC(),
		ValidTo:          utc(row.ValidTo),
		Version:          row.Version,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
		Columns: rule.Columns{
			CalcMethod:    rule.CalcMethod(row.CalcMethod),
			Rate:          row.Rate,
			BaseReduction: row.BaseReduction,
			FixedValue:    row.FixedValue,
			Formula:       row.Formula,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("stored rule %s is invalid: %w", row.ID, err)
	}
	return r, nil
}

func toDomainAll(rows []ruleRow) ([]*rule.Rule, error) {
	out := make([]*rule.Rule, 0, len(rows))
	for _, row := range rows {
		r, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// RuleRepo stores rules in fiscal_tax_rules.
type RuleRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewRuleRepo creates the repository.
func NewRuleRepo(txManager *postgres.TxManager) *RuleRepo {
	return &RuleRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create implements rule.Repository.
func (r *RuleRepo) Create(ctx context.Context, item *rule.Rule) error {
	sql, args, err := r.builder.Insert(rulesTable).
		SetMap(postgres.StructToMap(toRow(item))).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// Update implements rule.Repository.
func (r *RuleRepo) Update(ctx context.Context, item *rule.Rule) error {
	data := postgres.StructToMap(toRow(item))
	delete(data, "id")
	delete(data, "org_id")
	delete(data, "created_at")

	sql, args, err := r.builder.Update(rulesTable).
		SetMap(data).
		Where(squirrel.Eq{"id": item.ID, "org_id": item.OrgID, "version": item.Version - 1}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("TaxRule", item.ID)
	}
	return nil
}

// Delete implements rule.Repository. The postings foreign key is ON DELETE RESTRICT,
// so a rule referenced by a concurrent posting still cannot disappear.
func (r *RuleRepo) Delete(ctx context.Context, orgID, ruleID id.ID) error {
	sql, args, err := r.builder.Delete(rulesTable).
		Where(squirrel.Eq{"id": ruleID, "org_id": orgID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return apperror.NewConflict("rule is referenced by ledger postings; deactivate it instead").
				WithDetail("id", ruleID.String()).
				WithCause(err)
		}
		return fmt.Errorf("delete rule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewNotFound("TaxRule", ruleID.String())
	}
	return nil
}

// GetByID implements rule.Repository.
func (r *RuleRepo) GetByID(ctx context.Context, orgID, ruleID id.ID) (*rule.Rule, error) {
	sql, args, err := r.builder.Select(ruleColumns...).
		From(rulesTable).
		Where(squirrel.Eq{"id": ruleID, "org_id": orgID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row ruleRow
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("TaxRule", ruleID.String())
		}
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return row.toDomain()
}

func (r *RuleRepo) listQuery(orgID id.ID, f rule.ListFilter) squirrel.SelectBuilder {
	q := r.builder.Select(ruleColumns...).
		From(rulesTable).
		Where(squirrel.Eq{"org_id": orgID})
	if f.RegimeID != nil {
		q = q.Where(squirrel.Eq{"regime_id": *f.RegimeID})
	}
	if f.TaxTypeID != nil {
		q = q.Where(squirrel.Eq{"tax_type_id": *f.TaxTypeID})
	}
	if f.Operation != "" {
		q = q.Where(squirrel.Eq{"operation": string(f.Operation)})
	}
	if f.IsActive != nil {
		q = q.Where(squirrel.Eq{"is_active": *f.IsActive})
	}
	if f.ValidAt != nil {
		q = validAt(q, *f.ValidAt)
	}
	return q
}

// validAt keeps rules whose [valid_from, valid_to) window contains at.
func validAt(q squirrel.SelectBuilder, at time.Time) squirrel.SelectBuilder {
	return q.Where(squirrel.LtOrEq{"valid_from": at}).
		Where(squirrel.Or{squirrel.Eq{"valid_to": nil}, squirrel.Gt{"valid_to": at}})
}

// List implements rule.Repository.
func (r *RuleRepo) List(ctx context.Context, orgID id.ID, filter rule.ListFilter) (domain.ListResult[*rule.Rule], error) {
	result := domain.ListResult[*rule.Rule]{Items: []*rule.Rule{}, Limit: filter.Limit, Offset: filter.Offset}
	q := r.listQuery(orgID, filter)
	querier := r.txManager.GetQuerier(ctx)

	countSQL, countArgs, err := r.builder.Select("COUNT(*)").FromSelect(q, "sub").ToSql()
	if err != nil {
		return result, fmt.Errorf("build count query: %w", err)
	}
	if err := querier.QueryRow(ctx, countSQL, countArgs...).Scan(&result.TotalCount); err != nil {
		return result, fmt.Errorf("count rules: %w", err)
	}

	q = q.OrderBy("tax_type_id", "priority", "id")
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

	var rows []ruleRow
	if err := pgxscan.Select(ctx, querier, &rows, sql, args...); err != nil {
		return result, fmt.Errorf("list rules: %w", err)
	}
	result.Items, err = toDomainAll(rows)
	return result, err
}

func (r *RuleRepo) candidatesQuery(orgID id.ID, q rule.Query) squirrel.SelectBuilder {
	return validAt(r.builder.Select(ruleColumns...).
		From(rulesTable).
		Where(squirrel.Eq{
			"org_id":    orgID,
			"regime_id": q.RegimeID,
			"operation": string(q.Operation),
			"is_active": true,
		}), q.At)
}

// Candidates implements rule.Repository. A single statement reads one snapshot.
func (r *RuleRepo) Candidates(ctx context.Context, orgID id.ID, q rule.Query) ([]*rule.Rule, error) {
	sql, args, err := r.candidatesQuery(orgID, q).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []ruleRow
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select candidate rules: %w", err)
	}
	return toDomainAll(rows)
}

// IsReferenced implements rule.Repository.
func (r *RuleRepo) IsReferenced(ctx context.Context, ruleID id.ID) (bool, error) {
	var found bool
	err := r.txManager.GetQuerier(ctx).QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM "+postingsTable+" WHERE rule_id = $1)", ruleID,
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check rule references: %w", err)
	}
	return found, nil
}
