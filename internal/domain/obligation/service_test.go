package obligation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/catalog"
	"shopfiscal/internal/domain/obligation"
	"shopfiscal/internal/infrastructure/storage/memory"
)

var orgID = id.MustParse("0190d000-0000-7000-8000-000000000001")

// openPeriods fakes the ledger manager: listed periods have one open ledger each.
type openPeriods map[period.Period]bool

func (o openPeriods) OpenLedgers(_ context.Context, _ id.ID, periods ...period.Period) (int, error) {
	n := 0
	for _, p := range periods {
		if o[p] {
			n++
		}
	}
	return n, nil
}

type moves []string

func (m *moves) ObserveObligationTransition(from, to string) { *m = append(*m, from+">"+to) }

type fixture struct {
	store     *memory.Store
	svc       *obligation.Service
	open      openPeriods
	moves     *moves
	monthly   *catalog.ObligationKind
	quarterly *catalog.ObligationKind
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	rec := audit.NewService(store.Audit(), nil)
	cat := catalog.New(store.CatalogRepositories(), store, rec)

	monthly := catalog.NewObligationKind("EFD-ICMS", "EFD ICMS/IPI", catalog.Monthly)
	quarterly := catalog.NewObligationKind("DCTF-Q", "Quarterly declaration", catalog.Quarterly)
	require.NoError(t, cat.ObligationKinds.Create(ctx, monthly))
	require.NoError(t, cat.ObligationKinds.Create(ctx, quarterly))

	open := openPeriods{}
	mv := &moves{}
	return &fixture{
		store:     store,
		svc:       obligation.NewService(store.Obligations(), cat.ObligationKinds, open, store, rec, nil, mv),
		open:      open,
		moves:     mv,
		monthly:   monthly,
		quarterly: quarterly,
	}
}

func (f *fixture) auditCount(t *testing.T, table string) int64 {
	t.Helper()
	_, total, err := f.store.Audit().Query(context.Background(), audit.Filter{TableName: table})
	require.NoError(t, err)
	return total
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to obligation.Status
		want     bool
	}{
		{obligation.StatusDraft, obligation.StatusGenerated, true},
		{obligation.StatusGenerated, obligation.StatusValidated, true},
		{obligation.StatusValidated, obligation.StatusSent, true},
		{obligation.StatusDraft, obligation.StatusError, true},
		{obligation.StatusGenerated, obligation.StatusError, true},
		{obligation.StatusValidated, obligation.StatusError, true},
		{obligation.StatusError, obligation.StatusDraft, true},
		{obligation.StatusDraft, obligation.StatusValidated, false},
		{obligation.StatusGenerated, obligation.StatusDraft, false},
		{obligation.StatusSent, obligation.StatusError, false},
		{obligation.StatusSent, obligation.StatusDraft, false},
		{obligation.StatusError, obligation.StatusGenerated, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, obligation.CanTransition(tt.from, tt.to))
		})
	}
}

func TestCreate_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := obligation.CreateInput{KindID: f.monthly.ID, Period: period.Period{Month: 3, Year: 2025}}

	first, created, err := f.svc.Create(ctx, orgID, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, obligation.StatusDraft, first.Status)

	second, created, err := f.svc.Create(ctx, orgID, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	assert.EqualValues(t, 1, f.auditCount(t, audit.TableObligations))

	other := id.MustParse("0190d000-0000-7000-8000-000000000002")
	third, created, err := f.svc.Create(ctx, other, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)

	list, err := f.svc.List(ctx, orgID, obligation.ListFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, list.TotalCount)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Create(ctx, orgID, obligation.CreateInput{KindID: id.New(), Period: period.Period{Month: 3, Year: 2025}})
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	_, _, err = f.svc.Create(ctx, orgID, obligation.CreateInput{KindID: f.monthly.ID, Period: period.Period{Month: 0, Year: 2025}})
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	_, _, err = f.svc.Create(ctx, orgID, obligation.CreateInput{KindID: f.quarterly.ID, Period: period.Period{Month: 2, Year: 2025}})
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestAdvance_FullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, _, err := f.svc.Create(ctx, orgID, obligation.CreateInput{KindID: f.monthly.ID, Period: period.Period{Month: 3, Year: 2025}})
	require.NoError(t, err)

	o, err = f.svc.Advance(ctx, orgID, o.ID, obligation.AdvanceInput{Target: obligation.StatusGenerated})
	require.NoError(t, err)
	o, err = f.svc.Advance(ctx, orgID, o.ID, obligation.AdvanceInput{Target: obligation.StatusValidated})
	require.NoError(t, err)

	_, err = f.svc.Advance(ctx, orgID, o.ID, obligation.AdvanceInput{Target: obligation.StatusSent})
	assert.True(t, apperror.Is(err, apperror.CodeValidation), "protocol is required")

	o, err = f.svc.Advance(ctx, orgID, o.ID, obligation.AdvanceInput{
		Target:   obligation.StatusSent,
		Protocol: types.Some(" 2025.03.000123 "),
	})
	require.NoError(t, err)
	assert.Equal(t, obligation.StatusSent, o.Status)
	assert.Equal(t, types.Some("2025.03.000123"), o.Protocol)
	assert.NotNil(t, o.SubmittedAt)
	assert.Equal(t, 4, o.Version)

	_, err = f.svc.Advance(ctx, orgID, o.ID, obligation.AdvanceInput{Target: obligation.StatusError})
	assert.True(t, apperror.Is(err, apperror.CodeInvalidTransition))

	assert.Equal(t, moves{"rascunho>gerado", "gerado>validado", "validado>enviado"}, *f.moves)
	assert.EqualValues(t, 4, f.auditCount(t, audit.TableObligations))
}

func TestAdvance_ErrorAndRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, _, err := f.svc.Create(ctx, orgID, obligation.CreateInput{KindID: f.monthly.ID, Period: period.Period{Month: 3, Year: 2025}})
	require.NoError(t, err)

	o, err = f.svc.Advance(ctx, orgID, o.ID, obligation.AdvanceInput{Target: obligation.StatusGenerated})
	require.NoError(t, err)
	o, err = f.svc.Advance(ctx, orgID, o.ID, obligation.AdvanceInput{
		Target:       obligation.StatusError,
		ErrorMessage: types.Some("schema validation failed"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.Some("schema validation failed"), o.ErrorMessage)

	_, err = f.svc.Advance(ctx, orgID, o.ID, obligation.AdvanceInput{Target: obligation.StatusGenerated})
	assert.True(t, apperror.Is(err, apperror.CodeInvalidTransition))

	o, err = f.svc.Retry(ctx, orgID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, obligation.StatusDraft, o.Status)
	assert.False(t, o.ErrorMessage.IsSet())

	_, err = f.svc.Retry(ctx, orgID, o.ID)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidTransition))
}

func TestAdvance_GenerationWaitsForClosedPeriods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q1 := period.Period{Month: 3, Year: 2025}
	o, _, err := f.svc.Create(ctx, orgID, obligation.CreateInput{KindID: f.quarterly.ID, Period: q1})
	require.NoError(t, err)

	f.open[period.Period{Month: 1, Year: 2025}] = true
	_, err = f.svc.Advance(ctx, orgID, o.ID, obligation.AdvanceInput{Target: obligation.StatusGenerated})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeBusinessRule))

	stored, err := f.svc.Get(ctx, orgID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, obligation.StatusDraft, stored.Status)

	// December of the previous year is outside the quarter.
	delete(f.open, period.Period{Month: 1, Year: 2025})
	f.open[period.Period{Month: 12, Year: 2024}] = true
	_, err = f.svc.Advance(ctx, orgID, o.ID, obligation.AdvanceInput{Target: obligation.StatusGenerated})
	require.NoError(t, err)
}

func TestAdvance_StaleVersionAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, _, err := f.svc.Create(ctx, orgID, obligation.CreateInput{KindID: f.monthly.ID, Period: period.Period{Month: 3, Year: 2025}})
	require.NoError(t, err)

	stale := o.Version + 1
	_, err = f.svc.Advance(ctx, orgID, o.ID, obligation.AdvanceInput{Target: obligation.StatusGenerated, Version: &stale})
	assert.True(t, apperror.Is(err, apperror.CodeConcurrentModification))

	_, err = f.svc.Advance(ctx, orgID, id.New(), obligation.AdvanceInput{Target: obligation.StatusGenerated})
	assert.True(t, apperror.IsNotFound(err))

	_, err = f.svc.Advance(ctx, orgID, o.ID, obligation.AdvanceInput{Target: "arquivado"})
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	// Another org cannot see it.
	_, err = f.svc.Get(ctx, id.New(), o.ID)
	assert.True(t, apperror.IsNotFound(err))
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for m := 1; m <= 3; m++ {
		_, _, err := f.svc.Create(ctx, orgID, obligation.CreateInput{KindID: f.monthly.ID, Period: period.Period{Month: m, Year: 2025}})
		require.NoError(t, err)
	}
	_, _, err := f.svc.Create(ctx, orgID, obligation.CreateInput{KindID: f.quarterly.ID, Period: period.Period{Month: 3, Year: 2025}})
	require.NoError(t, err)

	mar := period.Period{Month: 3, Year: 2025}
	res, err := f.svc.List(ctx, orgID, obligation.ListFilter{Period: &mar})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.TotalCount)

	res, err = f.svc.List(ctx, orgID, obligation.ListFilter{KindID: &f.monthly.ID, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.TotalCount)
	require.Len(t, res.Items, 2)
	assert.Equal(t, 3, res.Items[0].Period.Month)

	res, err = f.svc.List(ctx, orgID, obligation.ListFilter{Status: obligation.StatusSent})
	require.NoError(t, err)
	assert.Zero(t, res.TotalCount)

	_, err = f.svc.List(ctx, orgID, obligation.ListFilter{Status: "bogus"})
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}
