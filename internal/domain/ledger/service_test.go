package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/calculator"
	"shopfiscal/internal/domain/ledger"
	"shopfiscal/internal/domain/rule"
	"shopfiscal/internal/infrastructure/storage/memory"
)

var (
	orgID   = id.MustParse("0190c000-0000-7000-8000-000000000001")
	simples = id.MustParse("0190c000-0000-7000-8000-000000000010")
	icms    = id.MustParse("0190c000-0000-7000-8000-0000000000a1")
	iss     = id.MustParse("0190c000-0000-7000-8000-0000000000a2")
	mar2025 = period.Period{Month: 3, Year: 2025}
)

type events struct {
	mu       sync.Mutex
	postings map[string]int
	periods  map[string]int
}

func (e *events) ObservePosting(direction string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.postings[direction]++
}

func (e *events) ObservePeriodTransition(action, outcome string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.periods[action+":"+outcome]++
}

type fixture struct {
	store  *memory.Store
	svc    *ledger.Service
	events *events
	rules  map[ruleKey]*rule.Rule
}

type ruleKey struct {
	taxType id.ID
	op      rule.Operation
}

func newFixture(t *testing.T, rec audit.Recorder) *fixture {
	t.Helper()
	store := memory.NewStore()
	if rec == nil {
		rec = audit.NewService(store.Audit(), nil)
	}
	ev := &events{postings: map[string]int{}, periods: map[string]int{}}
	f := &fixture{
		store:  store,
		svc:    ledger.NewService(store.Ledgers(), store, store, rec, store.Rules(), nil, ev),
		events: ev,
		rules:  map[ruleKey]*rule.Rule{},
	}
	for _, tt := range []id.ID{icms, iss} {
		for _, op := range []rule.Operation{rule.OpSale, rule.OpPurchase, rule.OpService} {
			r := &rule.Rule{
				BaseEntity: entity.NewBaseEntity(),
				OrgID:      orgID,
				RegimeID:   simples,
				TaxTypeID:  tt,
				Operation:  op,
				Recipe:     rule.Percentage{Rate: types.MustMoney("4")},
				IsActive:   true,
				ValidFrom:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			}
			require.NoError(t, store.Rules().Create(context.Background(), r))
			f.rules[ruleKey{tt, op}] = r
		}
	}
	return f
}

func (f *fixture) rule(taxType id.ID, op rule.Operation) *rule.Rule {
	return f.rules[ruleKey{taxType, op}]
}

// result builds a consistent calculation result with one line per tax amount.
func (f *fixture) result(op rule.Operation, total string, taxes map[id.ID]string) *calculator.Result {
	res := &calculator.Result{
		RegimeID:      simples,
		Operation:     op,
		EffectiveDate: mar2025.Start(),
		TotalAmount:   types.MustMoney(total),
		TotalTax:      types.Zero(),
	}
	for tt, amount := range taxes {
		line := calculator.Line{
			TaxTypeID:  tt,
			RuleID:     f.rule(tt, op).ID,
			Base:       res.TotalAmount,
			Amount:     types.MustMoney(amount),
			CalcMethod: rule.MethodPercentage,
		}
		res.Taxes = append(res.Taxes, line)
		res.TotalTax = res.TotalTax.Add(line.Amount)
	}
	res.NetAmount = res.TotalAmount.Sub(res.TotalTax)
	return res
}

func (f *fixture) ledger(t *testing.T, taxType id.ID) *ledger.Ledger {
	t.Helper()
	l, err := f.store.Ledgers().GetForUpdate(context.Background(),
		ledger.Key{OrgID: orgID, TaxTypeID: taxType, RegimeID: simples, Period: mar2025})
	require.NoError(t, err)
	return l
}

func (f *fixture) auditCount(t *testing.T, filter audit.Filter) int64 {
	t.Helper()
	_, total, err := f.store.Audit().Query(context.Background(), filter)
	require.NoError(t, err)
	return total
}

func TestPost_DebitsCreditsAndBalance(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	posted, err := f.svc.Post(ctx, orgID, f.result(rule.OpSale, "1000.00", map[id.ID]string{icms: "40.00"}), mar2025)
	require.NoError(t, err)
	require.Len(t, posted.Postings, 1)
	assert.Equal(t, ledger.Debit, posted.Postings[0].Direction)
	assert.Equal(t, f.rule(icms, rule.OpSale).ID, posted.Postings[0].RuleID)

	_, err = f.svc.Post(ctx, orgID, f.result(rule.OpPurchase, "500.00", map[id.ID]string{icms: "15.50"}), mar2025)
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, orgID, f.result(rule.OpService, "100.00", map[id.ID]string{icms: "2.00"}), mar2025)
	require.NoError(t, err)

	l := f.ledger(t, icms)
	assert.Equal(t, "42", l.TotalDebits.String())
	assert.Equal(t, "15.5", l.TotalCredits.String())
	assert.Equal(t, "26.5", l.BalanceDue.String())
	assert.Equal(t, ledger.StatusOpen, l.Status)

	assert.EqualValues(t, 3, f.auditCount(t, audit.Filter{TableName: audit.TableCalculations}))
	assert.EqualValues(t, 3, f.auditCount(t, audit.Filter{}))
	assert.Equal(t, 2, f.events.postings["debit"])
	assert.Equal(t, 1, f.events.postings["credit"])

	referenced, err := f.store.Rules().IsReferenced(ctx, f.rule(icms, rule.OpSale).ID)
	require.NoError(t, err)
	assert.True(t, referenced)
}

func TestPost_RejectsInconsistentResult(t *testing.T) {
	f := newFixture(t, nil)
	res := f.result(rule.OpSale, "100", map[id.ID]string{icms: "4.00"})
	res.TotalTax = types.MustMoney("5.00")

	_, err := f.svc.Post(context.Background(), orgID, res, mar2025)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	_, err = f.svc.Post(context.Background(), orgID, f.result(rule.OpSale, "100", nil), period.Period{Month: 13, Year: 2025})
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestPost_LinesMustCiteTheOrgsMatchingRule(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	otherOrg := id.MustParse("0190c000-0000-7000-8000-000000000002")
	foreign := &rule.Rule{
		BaseEntity: entity.NewBaseEntity(),
		OrgID:      otherOrg,
		RegimeID:   simples,
		TaxTypeID:  icms,
		Operation:  rule.OpSale,
		Recipe:     rule.Exempt{},
		IsActive:   true,
		ValidFrom:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.store.Rules().Create(ctx, foreign))

	tests := []struct {
		name   string
		mutate func(res *calculator.Result)
	}{
		{"rule of another org", func(res *calculator.Result) {
			res.Taxes[0].RuleID = foreign.ID
			res.Taxes[0].CalcMethod = rule.MethodExempt
		}},
		{"unknown rule", func(res *calculator.Result) { res.Taxes[0].RuleID = id.New() }},
		{"tax type differs", func(res *calculator.Result) { res.Taxes[0].RuleID = f.rule(iss, rule.OpSale).ID }},
		{"operation differs", func(res *calculator.Result) { res.Taxes[0].RuleID = f.rule(icms, rule.OpPurchase).ID }},
		{"regime differs", func(res *calculator.Result) { res.RegimeID = id.New() }},
		{"method differs", func(res *calculator.Result) { res.Taxes[0].CalcMethod = rule.MethodFixedValue }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.result(rule.OpSale, "1000", map[id.ID]string{icms: "99.00"})
			tt.mutate(res)

			_, err := f.svc.Post(ctx, orgID, res, mar2025)
			require.Error(t, err)
			assert.True(t, apperror.Is(err, apperror.CodeValidation), err.Error())
		})
	}

	referenced, err := f.store.Rules().IsReferenced(ctx, foreign.ID)
	require.NoError(t, err)
	assert.False(t, referenced)

	ledgers, err := f.svc.List(ctx, orgID, ledger.ListFilter{Period: &mar2025})
	require.NoError(t, err)
	assert.Zero(t, ledgers.TotalCount)
}

func TestPost_IntoClosedLedgerLeavesTotalsUnchanged(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Post(ctx, orgID, f.result(rule.OpSale, "1000", map[id.ID]string{icms: "40.00", iss: "20.00"}), mar2025)
	require.NoError(t, err)
	_, err = f.svc.CloseLedger(ctx, ledger.Key{OrgID: orgID, TaxTypeID: iss, RegimeID: simples, Period: mar2025})
	require.NoError(t, err)
	auditBefore := f.auditCount(t, audit.Filter{})

	_, err = f.svc.Post(ctx, orgID, f.result(rule.OpSale, "500", map[id.ID]string{icms: "20.00", iss: "10.00"}), mar2025)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeLedgerClosed))

	// The open ICMS ledger is untouched too: the post is all or nothing.
	assert.Equal(t, "40", f.ledger(t, icms).TotalDebits.String())
	assert.Equal(t, "20", f.ledger(t, iss).TotalDebits.String())
	assert.Equal(t, auditBefore, f.auditCount(t, audit.Filter{}))

	summary, err := f.svc.Summary(ctx, orgID, mar2025)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalOperations)
}

func TestPost_NewLedgerInFrozenPeriod(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Post(ctx, orgID, f.result(rule.OpSale, "100", map[id.ID]string{icms: "4.00"}), mar2025)
	require.NoError(t, err)
	res, err := f.svc.ClosePeriod(ctx, orgID, mar2025)
	require.NoError(t, err)
	require.True(t, res.Success)

	_, err = f.svc.Post(ctx, orgID, f.result(rule.OpSale, "100", map[id.ID]string{iss: "2.00"}), mar2025)
	assert.True(t, apperror.Is(err, apperror.CodeLedgerClosed))

	ledgers, err := f.svc.List(ctx, orgID, ledger.ListFilter{Period: &mar2025})
	require.NoError(t, err)
	assert.EqualValues(t, 1, ledgers.TotalCount)
}

func TestClosePeriod_AllOrNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Post(ctx, orgID, f.result(rule.OpSale, "1000", map[id.ID]string{icms: "40.00", iss: "20.00"}), mar2025)
	require.NoError(t, err)
	_, err = f.svc.CloseLedger(ctx, ledger.Key{OrgID: orgID, TaxTypeID: iss, RegimeID: simples, Period: mar2025})
	require.NoError(t, err)
	auditBefore := f.auditCount(t, audit.Filter{})

	res, err := f.svc.ClosePeriod(ctx, orgID, mar2025)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, apperror.Is(res.Error, apperror.CodeLedgerClosed))

	assert.Equal(t, ledger.StatusOpen, f.ledger(t, icms).Status)
	assert.Equal(t, ledger.StatusClosed, f.ledger(t, iss).Status)
	assert.Equal(t, auditBefore, f.auditCount(t, audit.Filter{}))
	assert.Equal(t, 1, f.events.periods["close:refused"])
}

func TestClosePeriod_EmptyAndReopenNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.ClosePeriod(ctx, orgID, mar2025)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, apperror.IsNotFound(res.Error))

	_, err = f.svc.Post(ctx, orgID, f.result(rule.OpSale, "100", map[id.ID]string{icms: "4.00"}), mar2025)
	require.NoError(t, err)

	res, err = f.svc.ReopenPeriod(ctx, orgID, mar2025)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, apperror.Is(res.Error, apperror.CodeBusinessRule))
	assert.EqualValues(t, 0, f.auditCount(t, audit.Filter{TableName: audit.TableLedgers}))
}

func TestReopenPostReclose(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	periodKey := id.ForPeriod(orgID, mar2025.Year, mar2025.Month)

	_, err := f.svc.Post(ctx, orgID, f.result(rule.OpSale, "1000", map[id.ID]string{icms: "40.00"}), mar2025)
	require.NoError(t, err)
	res, err := f.svc.ClosePeriod(ctx, orgID, mar2025)
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = f.svc.ReopenPeriod(ctx, orgID, mar2025)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, res.Ledgers, 1)
	assert.Equal(t, ledger.StatusOpen, res.Ledgers[0].Status)

	_, err = f.svc.Post(ctx, orgID, f.result(rule.OpSale, "250", map[id.ID]string{icms: "10.00"}), mar2025)
	require.NoError(t, err)
	res, err = f.svc.ClosePeriod(ctx, orgID, mar2025)
	require.NoError(t, err)
	require.True(t, res.Success)

	l := f.ledger(t, icms)
	assert.Equal(t, ledger.StatusClosed, l.Status)
	assert.Equal(t, "50", l.BalanceDue.String())

	entries, total, err := f.store.Audit().Query(ctx, audit.Filter{RecordID: &periodKey})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	// Newest first: close, reopen, close.
	assert.Contains(t, string(entries[0].NewValues), `"status":"fechado"`)
	assert.Contains(t, string(entries[1].NewValues), `"status":"aberto"`)
	assert.Contains(t, string(entries[2].NewValues), `"status":"fechado"`)
	for _, e := range entries {
		assert.Equal(t, audit.TableLedgers, e.TableName)
		assert.Equal(t, audit.OpUpdate, e.Operation)
		assert.NotEmpty(t, e.NewValues)
	}
	assert.Equal(t, 2, f.events.periods["close:ok"])
	assert.Equal(t, 1, f.events.periods["reopen:ok"])
}

func TestPost_ConcurrentPostsDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t, nil)
	const n = 25

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Post(context.Background(), orgID,
				f.result(rule.OpSale, "25.00", map[id.ID]string{icms: "1.00"}), mar2025)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	l := f.ledger(t, icms)
	assert.Equal(t, "25", l.TotalDebits.String())
	assert.Equal(t, n+1, l.Version)
	assert.EqualValues(t, n, f.auditCount(t, audit.Filter{}))
}

func TestPost_AuditFailureRollsBack(t *testing.T) {
	boom := errors.New("audit store unavailable")
	f := newFixture(t, audit.RecorderFunc(func(context.Context, audit.Change) error { return boom }))
	ctx := context.Background()

	_, err := f.svc.Post(ctx, orgID, f.result(rule.OpSale, "100", map[id.ID]string{icms: "4.00"}), mar2025)
	require.ErrorIs(t, err, boom)

	_, err = f.store.Ledgers().GetForUpdate(ctx, ledger.Key{OrgID: orgID, TaxTypeID: icms, RegimeID: simples, Period: mar2025})
	assert.True(t, apperror.IsNotFound(err))
	summary, err := f.svc.Summary(ctx, orgID, mar2025)
	require.NoError(t, err)
	assert.Zero(t, summary.TotalOperations)

	referenced, err := f.store.Rules().IsReferenced(ctx, f.rule(icms, rule.OpSale).ID)
	require.NoError(t, err)
	assert.False(t, referenced)
	assert.Zero(t, f.events.postings["debit"])
}

func TestSummary(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, taxes := range []map[id.ID]string{
		{icms: "40.00", iss: "5.00"},
		{icms: "4.00"},
	} {
		res := f.result(rule.OpSale, "100", taxes)
		for i := range res.Taxes {
			if res.Taxes[i].TaxTypeID == icms {
				res.Taxes[i].TaxTypeCode = "ICMS"
			} else {
				res.Taxes[i].TaxTypeCode = "ISS"
			}
		}
		_, err := f.svc.Post(ctx, orgID, res, mar2025)
		require.NoError(t, err)
	}

	s, err := f.svc.Summary(ctx, orgID, mar2025)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalOperations)
	assert.Equal(t, "200", s.TotalAmount.String())
	assert.Equal(t, "49", s.TotalTaxes.String())
	assert.Equal(t, 2, s.TaxBreakdown["ICMS"].Operations)
	assert.Equal(t, "44", s.TaxBreakdown["ICMS"].Total.String())
	assert.Equal(t, 1, s.TaxBreakdown["ISS"].Operations)
}

func TestOpenLedgers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Post(ctx, orgID, f.result(rule.OpSale, "100", map[id.ID]string{icms: "4.00", iss: "1.00"}), mar2025)
	require.NoError(t, err)

	open, err := f.svc.OpenLedgers(ctx, orgID, mar2025.Prev(), mar2025)
	require.NoError(t, err)
	assert.Equal(t, 2, open)

	res, err := f.svc.ClosePeriod(ctx, orgID, mar2025)
	require.NoError(t, err)
	require.True(t, res.Success)

	open, err = f.svc.OpenLedgers(ctx, orgID, mar2025)
	require.NoError(t, err)
	assert.Zero(t, open)
}

func TestReopenLedger_RequiresClosed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := ledger.Key{OrgID: orgID, TaxTypeID: icms, RegimeID: simples, Period: mar2025}

	_, err := f.svc.ReopenLedger(ctx, key)
	assert.True(t, apperror.IsNotFound(err))

	_, err = f.svc.Post(ctx, orgID, f.result(rule.OpSale, "100", map[id.ID]string{icms: "4.00"}), mar2025)
	require.NoError(t, err)
	_, err = f.svc.ReopenLedger(ctx, key)
	assert.True(t, apperror.Is(err, apperror.CodeBusinessRule))

	closed, err := f.svc.CloseLedger(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusClosed, closed.Status)
	assert.NotNil(t, closed.ClosedAt)

	_, err = f.svc.CloseLedger(ctx, key)
	assert.True(t, apperror.Is(err, apperror.CodeLedgerClosed))

	reopened, err := f.svc.ReopenLedger(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOpen, reopened.Status)
	assert.Nil(t, reopened.ClosedAt)
}
