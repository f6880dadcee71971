package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfiscal/internal/core/apperror"
	appctx "shopfiscal/internal/core/context"
	"shopfiscal/internal/core/id"
)

type sliceRepo struct {
	entries []Entry
	fail    error
	last    Filter
}

func (r *sliceRepo) Append(_ context.Context, e *Entry) error {
	if r.fail != nil {
		return r.fail
	}
	r.entries = append(r.entries, *e)
	return nil
}

func (r *sliceRepo) Query(_ context.Context, f Filter) ([]Entry, int64, error) {
	r.last = f
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out, int64(len(out)), nil
}

type pages struct{ def, max int }

func (p pages) PageSizes() (int, int) { return p.def, p.max }

func newTestService(repo Repository) *Service {
	s := NewService(repo, pages{def: 20, max: 100})
	s.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC) }
	return s
}

func TestRecord_CopiesActorAndChecksums(t *testing.T) {
	repo := &sliceRepo{}
	s := newTestService(repo)
	org := id.New()
	rec := id.New()

	ctx := appctx.WithActor(context.Background(), &appctx.Actor{
		UserID: "u-42", IPAddress: "10.0.0.7", UserAgent: "fiscalctl/1.0",
	})
	err := s.Record(ctx, Change{
		OrgID:     &org,
		TableName: TableRules,
		RecordID:  rec,
		Operation: OpUpdate,
		Old:       map[string]any{"priority": 1},
		New:       map[string]any{"priority": 2},
	})
	require.NoError(t, err)
	require.Len(t, repo.entries, 1)

	e := repo.entries[0]
	assert.Equal(t, "u-42", e.UserID)
	assert.Equal(t, "10.0.0.7", e.IPAddress)
	assert.Equal(t, "fiscalctl/1.0", e.UserAgent)
	assert.JSONEq(t, `{"priority":2}`, string(e.NewValues))
	assert.Equal(t, 123456000, e.CreatedAt.Nanosecond())
	assert.True(t, Verify(&e))

	e.NewValues = []byte(`{"priority":3}`)
	assert.False(t, Verify(&e))
}

func TestRecord_SystemActorAndErrors(t *testing.T) {
	repo := &sliceRepo{}
	s := newTestService(repo)

	require.NoError(t, s.Record(context.Background(), Change{TableName: TableRegimes, RecordID: id.New(), Operation: OpInsert, New: "x"}))
	assert.Equal(t, appctx.SystemUserID, repo.entries[0].UserID)
	assert.Nil(t, repo.entries[0].OldValues)

	assert.Error(t, s.Record(context.Background(), Change{TableName: TableRegimes, Operation: OpInsert}))
	assert.Error(t, s.Record(context.Background(), Change{TableName: TableRegimes, RecordID: id.New(), Operation: "UPSERT"}))

	boom := errors.New("disk full")
	repo.fail = boom
	err := s.Record(context.Background(), Change{TableName: TableRegimes, RecordID: id.New(), Operation: OpInsert})
	assert.ErrorIs(t, err, boom)
}

func TestQuery_PaginatesAndVerifies(t *testing.T) {
	repo := &sliceRepo{}
	s := newTestService(repo)
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Record(context.Background(), Change{TableName: TableRules, RecordID: id.New(), Operation: OpInsert, New: i}))
	}
	repo.entries[1].UserID = "mallory"

	res, err := s.Query(context.Background(), Filter{Limit: 1000, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, 100, repo.last.Limit)
	assert.Equal(t, 0, repo.last.Offset)
	assert.EqualValues(t, 2, res.TotalCount)
	assert.True(t, res.Items[0].Verified)
	assert.False(t, res.Items[1].Verified)

	_, err = s.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 20, repo.last.Limit)
}

func TestQuery_RejectsBadFilters(t *testing.T) {
	s := newTestService(&sliceRepo{})
	from := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)

	_, err := s.Query(context.Background(), Filter{From: &from, To: &to})
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	_, err = s.Query(context.Background(), Filter{Operation: "TRUNCATE"})
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}
