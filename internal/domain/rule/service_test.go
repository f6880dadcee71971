package rule_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/calculator"
	"shopfiscal/internal/domain/catalog"
	"shopfiscal/internal/domain/ledger"
	"shopfiscal/internal/domain/rule"
	"shopfiscal/internal/infrastructure/storage/memory"
)

var orgID = id.MustParse("0190f000-0000-7000-8000-000000000001")

type conflicts int

func (c *conflicts) ObserveRuleConflict() { *c++ }

type fixture struct {
	store     *memory.Store
	rec       *audit.Service
	svc       *rule.Service
	conflicts *conflicts
	simples   *catalog.Regime
	icms      *catalog.TaxType
	raw       *catalog.Classification
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	rec := audit.NewService(store.Audit(), nil)
	cat := catalog.New(store.CatalogRepositories(), store, rec)

	f := &fixture{
		store:     store,
		rec:       rec,
		conflicts: new(conflicts),
		simples:   catalog.NewRegime("SIMPLES", "Simples Nacional"),
		icms:      catalog.NewTaxType("ICMS", "ICMS"),
		raw:       catalog.NewClassification(catalog.ClassificationProduct, "7208.10.00", "Raw material"),
	}
	require.NoError(t, cat.Regimes.Create(ctx, f.simples))
	require.NoError(t, cat.TaxTypes.Create(ctx, f.icms))
	require.NoError(t, cat.Classifications.Create(ctx, f.raw))
	f.svc = rule.NewService(store.Rules(), cat, store, rec, nil, f.conflicts)
	return f
}

func ptr[T any](v T) *T { return &v }

func (f *fixture) percentage(rate string) rule.CreateInput {
	return rule.CreateInput{
		RegimeID:  f.simples.ID,
		TaxTypeID: f.icms.ID,
		Operation: rule.OpSale,
		Columns: rule.Columns{
			CalcMethod: rule.MethodPercentage,
			Rate:       ptr(decimal.RequireFromString(rate)),
		},
		ValidFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) auditOps(t *testing.T, ruleID id.ID) []audit.Operation {
	t.Helper()
	entries, _, err := f.store.Audit().Query(context.Background(), audit.Filter{RecordID: &ruleID})
	require.NoError(t, err)
	ops := make([]audit.Operation, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		ops = append(ops, entries[i].Operation)
	}
	return ops
}

// post books one calculation produced by r so that r becomes referenced.
func (f *fixture) post(t *testing.T, r *rule.Rule) {
	t.Helper()
	svc := ledger.NewService(f.store.Ledgers(), f.store, f.store, f.rec, f.store.Rules(), nil, nil)
	res := &calculator.Result{
		RegimeID:    r.RegimeID,
		Operation:   r.Operation,
		TotalAmount: types.MustMoney("100"),
		TotalTax:    types.MustMoney("4.00"),
		NetAmount:   types.MustMoney("96.00"),
		Taxes: []calculator.Line{{
			TaxTypeID: r.TaxTypeID, RuleID: r.ID, Base: types.MustMoney("100"),
			Amount: types.MustMoney("4.00"), CalcMethod: r.Recipe.Method(),
		}},
	}
	_, err := svc.Post(context.Background(), orgID, res, period.Period{Month: 3, Year: 2025})
	require.NoError(t, err)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(in *rule.CreateInput)
		field  string
	}{
		{"percentual without rate", func(in *rule.CreateInput) { in.Columns.Rate = nil }, "rate"},
		{"valor_fixo without value", func(in *rule.CreateInput) {
			in.Columns = rule.Columns{CalcMethod: rule.MethodFixedValue}
		}, "fixedValue"},
		{"unknown method", func(in *rule.CreateInput) { in.Columns.CalcMethod = "progressivo" }, "calcMethod"},
		{"bad formula", func(in *rule.CreateInput) { in.Columns.Formula = ptr("amount * now()") }, "formula"},
		{"unknown regime", func(in *rule.CreateInput) { in.RegimeID = id.New() }, "regimeId"},
		{"unknown classification", func(in *rule.CreateInput) {
			in.Criteria.ClassificationID = types.Some(id.New())
		}, "classificationId"},
		{"unknown operation", func(in *rule.CreateInput) { in.Operation = "doacao" }, "operation"},
		{"reduction over 100", func(in *rule.CreateInput) {
			in.Columns.BaseReduction = ptr(decimal.NewFromInt(101))
		}, "baseReduction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := f.percentage("4")
			tt.mutate(&in)
			_, err := f.svc.Create(ctx, orgID, in)
			require.Error(t, err)
			appErr, ok := apperror.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, apperror.CodeValidation, appErr.Code)
			assert.Equal(t, tt.field, appErr.Details["field"])
		})
	}

	_, total, err := f.store.Audit().Query(ctx, audit.Filter{TableName: audit.TableRules})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCreateUpdateDelete_AuditsEachMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.percentage("4")
	in.Criteria = rule.Criteria{OriginUF: types.Some(" sp "), ClassificationID: types.Some(f.raw.ID)}
	r, err := f.svc.Create(ctx, orgID, in)
	require.NoError(t, err)
	assert.Equal(t, types.Some("SP"), r.Criteria.OriginUF)
	assert.True(t, r.IsActive)

	r, err = f.svc.Update(ctx, orgID, r.ID, rule.PatchInput{
		Version:  ptr(1),
		Rate:     types.Patch[decimal.Decimal]{Present: true, Value: types.Some(decimal.NewFromInt(7))},
		OriginUF: types.Patch[string]{Present: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Version)
	assert.False(t, r.Criteria.OriginUF.IsSet())
	assert.True(t, r.Recipe.(rule.Percentage).Rate.Equal(decimal.NewFromInt(7)))

	require.NoError(t, f.svc.Delete(ctx, orgID, r.ID))
	_, err = f.svc.Get(ctx, orgID, r.ID)
	assert.True(t, apperror.IsNotFound(err))

	assert.Equal(t, []audit.Operation{audit.OpInsert, audit.OpUpdate, audit.OpDelete}, f.auditOps(t, r.ID))

	entries, _, err := f.store.Audit().Query(ctx, audit.Filter{RecordID: &r.ID, Operation: audit.OpDelete})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].OldValues)
	assert.JSONEq(t, `{"id":"`+r.ID.String()+`","deleted":true}`, string(entries[0].NewValues))
}

func TestReferencedRule_CanOnlyBeDeactivated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Create(ctx, orgID, f.percentage("4"))
	require.NoError(t, err)
	f.post(t, r)

	err = f.svc.Delete(ctx, orgID, r.ID)
	assert.True(t, apperror.Is(err, apperror.CodeConflict))

	_, err = f.svc.Update(ctx, orgID, r.ID, rule.PatchInput{
		Rate: types.Patch[decimal.Decimal]{Present: true, Value: types.Some(decimal.NewFromInt(5))},
	})
	assert.True(t, apperror.Is(err, apperror.CodeConflict))

	r, err = f.svc.Update(ctx, orgID, r.ID, rule.PatchInput{Priority: ptr(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Priority)

	r, err = f.svc.Deactivate(ctx, orgID, r.ID)
	require.NoError(t, err)
	assert.False(t, r.IsActive)

	got, err := f.svc.Get(ctx, orgID, r.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestResolve_ThroughService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wildcard, err := f.svc.Create(ctx, orgID, f.percentage("18"))
	require.NoError(t, err)
	in := f.percentage("12")
	in.Priority = 50
	in.Criteria.DestinationUF = types.Some("RJ")
	specific, err := f.svc.Create(ctx, orgID, in)
	require.NoError(t, err)

	q := rule.Query{
		RegimeID:  f.simples.ID,
		Operation: rule.OpSale,
		Subject:   rule.Subject{DestinationUF: types.Some("rj")},
		At:        time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	got, err := f.svc.Resolve(ctx, orgID, q)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, specific.ID, got[0].Rule.ID)

	q.Subject = rule.Subject{DestinationUF: types.Some("MG")}
	got, err = f.svc.Resolve(ctx, orgID, q)
	require.NoError(t, err)
	assert.Equal(t, wildcard.ID, got[0].Rule.ID)

	// Rules of other organizations never leak in.
	got, err = f.svc.Resolve(ctx, id.New(), q)
	require.NoError(t, err)
	assert.Empty(t, got)

	// A second wildcard with equal priority and start makes resolution ambiguous.
	_, err = f.svc.Create(ctx, orgID, f.percentage("17"))
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, orgID, q)
	assert.True(t, apperror.Is(err, apperror.CodeRuleConflict))
	assert.Equal(t, conflicts(1), *f.conflicts)
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, orgID, f.percentage("4"))
	require.NoError(t, err)
	in := f.percentage("2")
	in.Operation = rule.OpPurchase
	in.IsActive = ptr(false)
	_, err = f.svc.Create(ctx, orgID, in)
	require.NoError(t, err)

	res, err := f.svc.List(ctx, orgID, rule.ListFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.TotalCount)

	res, err = f.svc.List(ctx, orgID, rule.ListFilter{Operation: rule.OpPurchase})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.TotalCount)

	res, err = f.svc.List(ctx, orgID, rule.ListFilter{IsActive: ptr(true)})
	require.NoError(t, err)
	require.EqualValues(t, 1, res.TotalCount)
	assert.Equal(t, rule.OpSale, res.Items[0].Operation)

	_, err = f.svc.List(ctx, orgID, rule.ListFilter{Operation: "x"})
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}
