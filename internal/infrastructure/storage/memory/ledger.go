package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/domain"
	"shopfiscal/internal/domain/ledger"
)

// LedgerRepo implements ledger.Repository.
type LedgerRepo struct{ store *Store }

var _ ledger.Repository = (*LedgerRepo)(nil)

// Ledgers returns the ledger repository.
func (s *Store) Ledgers() *LedgerRepo { return &LedgerRepo{store: s} }

func cloneLedger(v *ledger.Ledger) *ledger.Ledger {
	c := *v
	if v.ClosedAt != nil {
		at := *v.ClosedAt
		c.ClosedAt = &at
	}
	return &c
}

func findLedger(st *state, k ledger.Key) *ledger.Ledger {
	for _, v := range st.ledgers {
		if v.Key() == k {
			return v
		}
	}
	return nil
}

func (r *LedgerRepo) GetForUpdate(ctx context.Context, k ledger.Key) (*ledger.Ledger, error) {
	var out *ledger.Ledger
	err := r.store.do(ctx, func(st *state) error {
		v := findLedger(st, k)
		if v == nil {
			return apperror.NewNotFound("TaxLedger", k.TaxTypeID.String())
		}
		out = cloneLedger(v)
		return nil
	})
	return out, err
}

func (r *LedgerRepo) Insert(ctx context.Context, l *ledger.Ledger) (*ledger.Ledger, error) {
	var out *ledger.Ledger
	err := r.store.do(ctx, func(st *state) error {
		if v := findLedger(st, l.Key()); v != nil {
			out = cloneLedger(v)
			return nil
		}
		st.ledgers[l.ID] = cloneLedger(l)
		out = cloneLedger(l)
		return nil
	})
	return out, err
}

func (r *LedgerRepo) Update(ctx context.Context, l *ledger.Ledger) error {
	return r.store.do(ctx, func(st *state) error {
		cur, ok := st.ledgers[l.ID]
		if !ok {
			return apperror.NewNotFound("TaxLedger", l.ID.String())
		}
		if cur.Version != l.Version-1 {
			return apperror.NewConcurrentModification("TaxLedger", l.ID.String())
		}
		st.ledgers[l.ID] = cloneLedger(l)
		return nil
	})
}

func (r *LedgerRepo) ListPeriodForUpdate(ctx context.Context, orgID id.ID, p period.Period) ([]*ledger.Ledger, error) {
	var out []*ledger.Ledger
	err := r.store.do(ctx, func(st *state) error {
		for _, v := range st.ledgers {
			if v.OrgID == orgID && v.Period == p {
				out = append(out, cloneLedger(v))
			}
		}
		return nil
	})
	sortLedgers(out)
	return out, err
}

func sortLedgers(items []*ledger.Ledger) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Period != b.Period {
			if a.Period.Year != b.Period.Year {
				return a.Period.Year > b.Period.Year
			}
			return a.Period.Month > b.Period.Month
		}
		if a.TaxTypeID != b.TaxTypeID {
			return a.TaxTypeID.String() < b.TaxTypeID.String()
		}
		return a.RegimeID.String() < b.RegimeID.String()
	})
}

func (r *LedgerRepo) List(ctx context.Context, orgID id.ID, f ledger.ListFilter) (domain.ListResult[*ledger.Ledger], error) {
	var items []*ledger.Ledger
	err := r.store.do(ctx, func(st *state) error {
		for _, v := range st.ledgers {
			switch {
			case v.OrgID != orgID:
			case f.Period != nil && v.Period != *f.Period:
			case f.TaxTypeID != nil && v.TaxTypeID != *f.TaxTypeID:
			case f.RegimeID != nil && v.RegimeID != *f.RegimeID:
			case f.Status != "" && v.Status != f.Status:
			default:
				items = append(items, cloneLedger(v))
			}
		}
		return nil
	})
	if err != nil {
		return domain.ListResult[*ledger.Ledger]{}, err
	}
	sortLedgers(items)
	return domain.ListResult[*ledger.Ledger]{
		Items:      page(items, f.Limit, f.Offset),
		TotalCount: int64(len(items)),
		Limit:      f.Limit,
		Offset:     f.Offset,
	}, nil
}

func (r *LedgerRepo) StatusCounts(ctx context.Context, orgID id.ID, p period.Period) (map[ledger.Status]int, error) {
	counts := make(map[ledger.Status]int, 2)
	err := r.store.do(ctx, func(st *state) error {
		for _, v := range st.ledgers {
			if v.OrgID == orgID && v.Period == p {
				counts[v.Status]++
			}
		}
		return nil
	})
	return counts, err
}

// InsertCalculation enforces that postings point at rules and ledgers of the posting org.
func (r *LedgerRepo) InsertCalculation(ctx context.Context, rec *ledger.CalculationRecord, postings []ledger.Posting) error {
	return r.store.do(ctx, func(st *state) error {
		if _, ok := st.calculations[rec.ID]; ok {
			return apperror.NewDuplicate("TaxCalculation", "id", rec.ID.String())
		}
		for _, p := range postings {
			if ru, ok := st.rules[p.RuleID]; !ok || ru.OrgID != rec.OrgID {
				return fmt.Errorf("posting %s references unknown rule %s", p.ID, p.RuleID)
			}
			if l, ok := st.ledgers[p.LedgerID]; !ok || l.OrgID != rec.OrgID {
				return fmt.Errorf("posting %s references unknown ledger %s", p.ID, p.LedgerID)
			}
		}
		c := *rec
		c.Taxes = slices.Clone(rec.Taxes)
		st.calculations[rec.ID] = &c
		st.postings = append(st.postings, postings...)
		return nil
	})
}

func (r *LedgerRepo) CalculationsInPeriod(ctx context.Context, orgID id.ID, p period.Period) ([]*ledger.CalculationRecord, error) {
	var out []*ledger.CalculationRecord
	err := r.store.do(ctx, func(st *state) error {
		for _, v := range st.calculations {
			if v.OrgID == orgID && v.Period == p {
				c := *v
				c.Taxes = slices.Clone(v.Taxes)
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

// Postings returns the postings of one calculation.
func (r *LedgerRepo) Postings(ctx context.Context, calculationID id.ID) ([]ledger.Posting, error) {
	var out []ledger.Posting
	err := r.store.do(ctx, func(st *state) error {
		for _, p := range st.postings {
			if p.CalculationID == calculationID {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}
