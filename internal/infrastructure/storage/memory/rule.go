package memory

import (
	"context"
	"sort"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/domain"
	"shopfiscal/internal/domain/rule"
)

// RuleRepo implements rule.Repository.
type RuleRepo struct{ store *Store }

var _ rule.Repository = (*RuleRepo)(nil)

// Rules returns the tax rule repository.
func (s *Store) Rules() *RuleRepo { return &RuleRepo{store: s} }

func cloneRule(v *rule.Rule) *rule.Rule {
	c := *v
	if v.ValidTo != nil {
		to := *v.ValidTo
		c.ValidTo = &to
	}
	return &c
}

func (r *RuleRepo) Create(ctx context.Context, item *rule.Rule) error {
	return r.store.do(ctx, func(st *state) error {
		if _, ok := st.rules[item.ID]; ok {
			return apperror.NewDuplicate("TaxRule", "id", item.ID.String())
		}
		st.rules[item.ID] = cloneRule(item)
		return nil
	})
}

func (r *RuleRepo) Update(ctx context.Context, item *rule.Rule) error {
	return r.store.do(ctx, func(st *state) error {
		cur, ok := st.rules[item.ID]
		if !ok || cur.OrgID != item.OrgID {
			return apperror.NewNotFound("TaxRule", item.ID.String())
		}
		if cur.Version != item.Version-1 {
			return apperror.NewConcurrentModification("TaxRule", item.ID.String())
		}
		st.rules[item.ID] = cloneRule(item)
		return nil
	})
}

// Delete refuses rules referenced by postings, like the foreign key does in Postgres.
func (r *RuleRepo) Delete(ctx context.Context, orgID, ruleID id.ID) error {
	return r.store.do(ctx, func(st *state) error {
		cur, ok := st.rules[ruleID]
		if !ok || cur.OrgID != orgID {
			return apperror.NewNotFound("TaxRule", ruleID.String())
		}
		if referenced(st, ruleID) {
			return apperror.NewConflict("tax rule is referenced by ledger postings")
		}
		delete(st.rules, ruleID)
		return nil
	})
}

func (r *RuleRepo) GetByID(ctx context.Context, orgID, ruleID id.ID) (*rule.Rule, error) {
	var out *rule.Rule
	err := r.store.do(ctx, func(st *state) error {
		cur, ok := st.rules[ruleID]
		if !ok || cur.OrgID != orgID {
			return apperror.NewNotFound("TaxRule", ruleID.String())
		}
		out = cloneRule(cur)
		return nil
	})
	return out, err
}

func (r *RuleRepo) List(ctx context.Context, orgID id.ID, filter rule.ListFilter) (domain.ListResult[*rule.Rule], error) {
	var items []*rule.Rule
	err := r.store.do(ctx, func(st *state) error {
		for _, v := range st.rules {
			if v.OrgID != orgID || !matchesFilter(v, filter) {
				continue
			}
			items = append(items, cloneRule(v))
		}
		return nil
	})
	if err != nil {
		return domain.ListResult[*rule.Rule]{}, err
	}

	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.TaxTypeID != b.TaxTypeID {
			return a.TaxTypeID.String() < b.TaxTypeID.String()
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID.String() < b.ID.String()
	})
	return domain.ListResult[*rule.Rule]{
		Items:      page(items, filter.Limit, filter.Offset),
		TotalCount: int64(len(items)),
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}, nil
}

func matchesFilter(v *rule.Rule, f rule.ListFilter) bool {
	switch {
	case f.RegimeID != nil && v.RegimeID != *f.RegimeID:
		return false
	case f.TaxTypeID != nil && v.TaxTypeID != *f.TaxTypeID:
		return false
	case f.Operation != "" && v.Operation != f.Operation:
		return false
	case f.IsActive != nil && v.IsActive != *f.IsActive:
		return false
	case f.ValidAt != nil && !v.ValidAt(*f.ValidAt):
		return false
	}
	return true
}

func (r *RuleRepo) Candidates(ctx context.Context, orgID id.ID, q rule.Query) ([]*rule.Rule, error) {
	var out []*rule.Rule
	err := r.store.do(ctx, func(st *state) error {
		for _, v := range st.rules {
			if v.OrgID == orgID && v.IsActive && v.RegimeID == q.RegimeID &&
				v.Operation == q.Operation && v.ValidAt(q.At) {
				out = append(out, cloneRule(v))
			}
		}
		return nil
	})
	return out, err
}

func (r *RuleRepo) IsReferenced(ctx context.Context, ruleID id.ID) (bool, error) {
	var found bool
	err := r.store.do(ctx, func(st *state) error {
		found = referenced(st, ruleID)
		return nil
	})
	return found, err
}

func referenced(st *state, ruleID id.ID) bool {
	for _, p := range st.postings {
		if p.RuleID == ruleID {
			return true
		}
	}
	return false
}
