// Package cache keeps fiscal reference data in process memory.
// Entries are dropped when the database announces a catalog change.
package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/domain"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/catalog"
	"shopfiscal/pkg/logger"
)

// TxDetector tells whether a context runs inside a storage transaction.
type TxDetector interface {
	InTransaction(ctx context.Context) bool
}

type tableEntries struct {
	byID   map[id.ID]any
	byCode map[string]id.ID
}

// Catalog is the shared entry store behind every cached catalog repository.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]*tableEntries
	txs    TxDetector

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCatalog creates an empty cache. Reads inside a transaction bypass it,
// so rows that may still roll back never get cached.
func NewCatalog(txs TxDetector) *Catalog {
	return &Catalog{tables: make(map[string]*tableEntries), txs: txs}
}

// Invalidate drops the entries of table, or of every table when table is empty.
func (c *Catalog) Invalidate(table string) {
	table = strings.TrimSpace(table)
	c.mu.Lock()
	if table == "" {
		c.tables = make(map[string]*tableEntries)
	} else {
		delete(c.tables, table)
	}
	c.mu.Unlock()
	logger.Debug(context.Background(), "catalog cache invalidated", "table", table)
}

// Stats reports cache effectiveness.
type Stats struct {
	Tables  int
	Entries int
	Hits    int64
	Misses  int64
}

// GetStats returns current cache statistics.
func (c *Catalog) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{Tables: len(c.tables), Hits: c.hits.Load(), Misses: c.misses.Load()}
	for _, t := range c.tables {
		s.Entries += len(t.byID)
	}
	return s
}

func (c *Catalog) bypass(ctx context.Context) bool {
	return c.txs != nil && c.txs.InTransaction(ctx)
}

func (c *Catalog) lookupID(table string, entryID id.ID) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[table]
	if !ok {
		return nil, false
	}
	v, ok := t.byID[entryID]
	return v, ok
}

func (c *Catalog) lookupCode(table, code string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[table]
	if !ok {
		return nil, false
	}
	entryID, ok := t.byCode[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return nil, false
	}
	v, ok := t.byID[entryID]
	return v, ok
}

func (c *Catalog) store(table string, entryID id.ID, code string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[table]
	if !ok {
		t = &tableEntries{byID: make(map[id.ID]any), byCode: make(map[string]id.ID)}
		c.tables[table] = t
	}
	t.byID[entryID] = v
	t.byCode[strings.ToLower(code)] = entryID
}

// Repo caches single-entry reads of one catalog. Listings and writes go to the wrapped repository.
type Repo[T entity.CatalogEntry] struct {
	next  domain.CatalogRepository[T]
	cache *Catalog
	table string
	clone func(T) T
}

var _ domain.CatalogRepository[*catalog.Regime] = (*Repo[*catalog.Regime])(nil)

// NewRepo wraps next. clone must return an independent copy of an entry.
func NewRepo[T entity.CatalogEntry](next domain.CatalogRepository[T], c *Catalog, table string, clone func(T) T) *Repo[T] {
	return &Repo[T]{next: next, cache: c, table: table, clone: clone}
}

// Create implements domain.CatalogRepository.
func (r *Repo[T]) Create(ctx context.Context, item T) error {
	if err := r.next.Create(ctx, item); err != nil {
		return err
	}
	r.cache.Invalidate(r.table)
	return nil
}

// Update implements domain.CatalogRepository.
func (r *Repo[T]) Update(ctx context.Context, item T) error {
	if err := r.next.Update(ctx, item); err != nil {
		return err
	}
	r.cache.Invalidate(r.table)
	return nil
}

// GetByID implements domain.CatalogRepository.
func (r *Repo[T]) GetByID(ctx context.Context, entryID id.ID) (T, error) {
	if r.cache.bypass(ctx) {
		return r.next.GetByID(ctx, entryID)
	}
	if v, ok := r.cache.lookupID(r.table, entryID); ok {
		r.cache.hits.Add(1)
		return r.clone(v.(T)), nil
	}
	r.cache.misses.Add(1)
	item, err := r.next.GetByID(ctx, entryID)
	if err != nil {
		return item, err
	}
	r.remember(item)
	return item, nil
}

// GetByCode implements domain.CatalogRepository.
func (r *Repo[T]) GetByCode(ctx context.Context, code string) (T, error) {
	if r.cache.bypass(ctx) {
		return r.next.GetByCode(ctx, code)
	}
	if v, ok := r.cache.lookupCode(r.table, code); ok {
		r.cache.hits.Add(1)
		return r.clone(v.(T)), nil
	}
	r.cache.misses.Add(1)
	item, err := r.next.GetByCode(ctx, code)
	if err != nil {
		return item, err
	}
	r.remember(item)
	return item, nil
}

func (r *Repo[T]) remember(item T) {
	r.cache.store(r.table, item.GetID(), item.GetCode(), r.clone(item))
}

// List implements domain.CatalogRepository.
func (r *Repo[T]) List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[T], error) {
	return r.next.List(ctx, filter)
}

// ExistsByCode implements domain.CatalogRepository.
func (r *Repo[T]) ExistsByCode(ctx context.Context, code string) (bool, error) {
	return r.next.ExistsByCode(ctx, code)
}

func shallow[E any](v *E) *E {
	cp := *v
	return &cp
}

// WrapRepositories puts every catalog of repos behind c.
func WrapRepositories(repos catalog.Repositories, c *Catalog) catalog.Repositories {
	return catalog.Repositories{
		Regimes:         NewRepo(repos.Regimes, c, audit.TableRegimes, shallow[catalog.Regime]),
		TaxTypes:        NewRepo(repos.TaxTypes, c, audit.TableTaxTypes, shallow[catalog.TaxType]),
		Classifications: NewRepo(repos.Classifications, c, audit.TableClassifications, shallow[catalog.Classification]),
		ObligationKinds: NewRepo(repos.ObligationKinds, c, audit.TableObligationKinds, shallow[catalog.ObligationKind]),
	}
}
