// Package memory is a process-local storage backend.
// Transactions are fully serialized; a failed transaction restores the state it started from.
package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/tx"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/ledger"
	"shopfiscal/internal/domain/obligation"
	"shopfiscal/internal/domain/rule"
	"shopfiscal/internal/domain/setting"
	"shopfiscal/pkg/logger"
)

var (
	_ tx.Manager      = (*Store)(nil)
	_ tx.PeriodLocker = (*Store)(nil)
)

var errNoTx = errors.New("memory: lock requires a transaction")

// state holds immutable row values; writers replace rows, never mutate them.
// That makes a shallow copy of the maps a complete snapshot.
type state struct {
	catalogs     map[string]map[id.ID]any
	settings     map[id.ID]*setting.Setting
	rules        map[id.ID]*rule.Rule
	ledgers      map[id.ID]*ledger.Ledger
	calculations map[id.ID]*ledger.CalculationRecord
	postings     []ledger.Posting
	obligations  map[id.ID]*obligation.Obligation
	audit        []audit.Entry
}

func newState() *state {
	return &state{
		catalogs:     make(map[string]map[id.ID]any),
		settings:     make(map[id.ID]*setting.Setting),
		rules:        make(map[id.ID]*rule.Rule),
		ledgers:      make(map[id.ID]*ledger.Ledger),
		calculations: make(map[id.ID]*ledger.CalculationRecord),
		obligations:  make(map[id.ID]*obligation.Obligation),
	}
}

func (s *state) snapshot() *state {
	catalogs := make(map[string]map[id.ID]any, len(s.catalogs))
	for table, rows := range s.catalogs {
		catalogs[table] = maps.Clone(rows)
	}
	return &state{
		catalogs:     catalogs,
		settings:     maps.Clone(s.settings),
		rules:        maps.Clone(s.rules),
		ledgers:      maps.Clone(s.ledgers),
		calculations: maps.Clone(s.calculations),
		postings:     slices.Clone(s.postings),
		obligations:  maps.Clone(s.obligations),
		audit:        slices.Clone(s.audit),
	}
}

// Store is the whole in-memory database plus its transaction manager.
type Store struct {
	mu sync.Mutex
	st *state
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{st: newState()}
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// InTransaction reports whether ctx carries a transaction of this store.
func (s *Store) InTransaction(ctx context.Context) bool {
	return s.inTx(ctx)
}

// RunInTransaction runs fn with exclusive access to the store.
// Nested calls reuse the outer transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.st.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.st = snap
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = snap
		return err
	}
	if err := ctx.Err(); err != nil {
		logger.Warn(ctx, "transaction abandoned by caller", "error", err)
		s.st = snap
		return err
	}
	return nil
}

// LockPeriod implements tx.PeriodLocker. Transactions already exclude each other,
// so holding the transaction is the lock.
func (s *Store) LockPeriod(ctx context.Context, _ string, _, _ int, _ tx.LockMode) error {
	if !s.inTx(ctx) {
		return errNoTx
	}
	return nil
}

// do runs fn against the current state, joining the caller's transaction when there is one.
func (s *Store) do(ctx context.Context, fn func(st *state) error) error {
	if !s.inTx(ctx) {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.st)
}

// page applies limit/offset; limit <= 0 returns everything after offset.
func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func clonePtr[E any](v *E) *E {
	c := *v
	return &c
}
