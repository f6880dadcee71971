package memory

import (
	"context"
	"sort"
	"strings"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/domain"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/catalog"
)

// CatalogRepo stores one catalog table.
type CatalogRepo[T entity.CatalogEntry] struct {
	store  *Store
	table  string
	entity string
	clone  func(T) T
	name   func(T) string
}

var _ domain.CatalogRepository[*catalog.Regime] = (*CatalogRepo[*catalog.Regime])(nil)

// CatalogRepositories returns the four catalog repositories backed by s.
func (s *Store) CatalogRepositories() catalog.Repositories {
	return catalog.Repositories{
		Regimes: &CatalogRepo[*catalog.Regime]{
			store: s, table: audit.TableRegimes, entity: "TaxRegime",
			clone: clonePtr[catalog.Regime],
			name:  func(r *catalog.Regime) string { return r.Name },
		},
		TaxTypes: &CatalogRepo[*catalog.TaxType]{
			store: s, table: audit.TableTaxTypes, entity: "TaxType",
			clone: clonePtr[catalog.TaxType],
			name:  func(t *catalog.TaxType) string { return t.Name },
		},
		Classifications: &CatalogRepo[*catalog.Classification]{
			store: s, table: audit.TableClassifications, entity: "FiscalClassification",
			clone: clonePtr[catalog.Classification],
			name:  func(c *catalog.Classification) string { return c.Name },
		},
		ObligationKinds: &CatalogRepo[*catalog.ObligationKind]{
			store: s, table: audit.TableObligationKinds, entity: "ObligationKind",
			clone: clonePtr[catalog.ObligationKind],
			name:  func(k *catalog.ObligationKind) string { return k.Name },
		},
	}
}

func (r *CatalogRepo[T]) rows(st *state) map[id.ID]any {
	rows, ok := st.catalogs[r.table]
	if !ok {
		rows = make(map[id.ID]any)
		st.catalogs[r.table] = rows
	}
	return rows
}

func (r *CatalogRepo[T]) findCode(st *state, code string) (T, bool) {
	for _, v := range r.rows(st) {
		item := v.(T)
		if strings.EqualFold(item.GetCode(), code) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Create implements domain.CatalogRepository.
func (r *CatalogRepo[T]) Create(ctx context.Context, item T) error {
	return r.store.do(ctx, func(st *state) error {
		if _, dup := r.findCode(st, item.GetCode()); dup {
			return apperror.NewDuplicate(r.entity, "code", item.GetCode())
		}
		r.rows(st)[item.GetID()] = r.clone(item)
		return nil
	})
}

// GetByID implements domain.CatalogRepository.
func (r *CatalogRepo[T]) GetByID(ctx context.Context, entryID id.ID) (T, error) {
	var out T
	err := r.store.do(ctx, func(st *state) error {
		v, ok := r.rows(st)[entryID]
		if !ok {
			return apperror.NewNotFound(r.entity, entryID.String())
		}
		out = r.clone(v.(T))
		return nil
	})
	return out, err
}

// GetByCode implements domain.CatalogRepository.
func (r *CatalogRepo[T]) GetByCode(ctx context.Context, code string) (T, error) {
	var out T
	err := r.store.do(ctx, func(st *state) error {
		v, ok := r.findCode(st, code)
		if !ok {
			return apperror.NewNotFound(r.entity, code)
		}
		out = r.clone(v)
		return nil
	})
	return out, err
}

// Update implements domain.CatalogRepository.
func (r *CatalogRepo[T]) Update(ctx context.Context, item T) error {
	return r.store.do(ctx, func(st *state) error {
		rows := r.rows(st)
		if _, ok := rows[item.GetID()]; !ok {
			return apperror.NewNotFound(r.entity, item.GetID().String())
		}
		if other, dup := r.findCode(st, item.GetCode()); dup && other.GetID() != item.GetID() {
			return apperror.NewDuplicate(r.entity, "code", item.GetCode())
		}
		rows[item.GetID()] = r.clone(item)
		return nil
	})
}

// List implements domain.CatalogRepository.
func (r *CatalogRepo[T]) List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[T], error) {
	var res domain.ListResult[T]
	err := r.store.do(ctx, func(st *state) error {
		var ids map[id.ID]bool
		if len(filter.IDs) > 0 {
			ids = make(map[id.ID]bool, len(filter.IDs))
			for _, v := range filter.IDs {
				ids[v] = true
			}
		}
		search := strings.ToLower(strings.TrimSpace(filter.Search))

		var items []T
		for _, v := range r.rows(st) {
			item := v.(T)
			if ids != nil && !ids[item.GetID()] {
				continue
			}
			if search != "" &&
				!strings.Contains(strings.ToLower(item.GetCode()), search) &&
				!strings.Contains(strings.ToLower(r.name(item)), search) {
				continue
			}
			items = append(items, r.clone(item))
		}

		desc := strings.HasPrefix(filter.OrderBy, "-")
		byName := strings.TrimPrefix(filter.OrderBy, "-") == "name"
		sort.Slice(items, func(i, j int) bool {
			a, b := items[i].GetCode(), items[j].GetCode()
			if byName {
				a, b = r.name(items[i]), r.name(items[j])
			}
			if desc {
				return a > b
			}
			return a < b
		})

		res = domain.ListResult[T]{
			Items:      page(items, filter.Limit, filter.Offset),
			TotalCount: int64(len(items)),
			Limit:      filter.Limit,
			Offset:     filter.Offset,
		}
		return nil
	})
	return res, err
}

// ExistsByCode implements domain.CatalogRepository.
func (r *CatalogRepo[T]) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var found bool
	err := r.store.do(ctx, func(st *state) error {
		_, found = r.findCode(st, code)
		return nil
	})
	return found, err
}
