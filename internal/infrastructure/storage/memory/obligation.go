package memory

import (
	"context"
	"sort"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/domain"
	"shopfiscal/internal/domain/obligation"
)

// ObligationRepo implements obligation.Repository.
type ObligationRepo struct{ store *Store }

var _ obligation.Repository = (*ObligationRepo)(nil)

// Obligations returns the obligation repository.
func (s *Store) Obligations() *ObligationRepo { return &ObligationRepo{store: s} }

func cloneObligation(v *obligation.Obligation) *obligation.Obligation {
	c := *v
	if v.SubmittedAt != nil {
		at := *v.SubmittedAt
		c.SubmittedAt = &at
	}
	return &c
}

func (r *ObligationRepo) Insert(ctx context.Context, o *obligation.Obligation) (*obligation.Obligation, bool, error) {
	var (
		out     *obligation.Obligation
		created bool
	)
	err := r.store.do(ctx, func(st *state) error {
		for _, v := range st.obligations {
			if v.OrgID == o.OrgID && v.KindID == o.KindID && v.Period == o.Period {
				out = cloneObligation(v)
				return nil
			}
		}
		st.obligations[o.ID] = cloneObligation(o)
		out, created = cloneObligation(o), true
		return nil
	})
	return out, created, err
}

func (r *ObligationRepo) GetByID(ctx context.Context, orgID, obligationID id.ID) (*obligation.Obligation, error) {
	var out *obligation.Obligation
	err := r.store.do(ctx, func(st *state) error {
		v, ok := st.obligations[obligationID]
		if !ok || v.OrgID != orgID {
			return apperror.NewNotFound("Obligation", obligationID.String())
		}
		out = cloneObligation(v)
		return nil
	})
	return out, err
}

func (r *ObligationRepo) GetForUpdate(ctx context.Context, orgID, obligationID id.ID) (*obligation.Obligation, error) {
	return r.GetByID(ctx, orgID, obligationID)
}

func (r *ObligationRepo) Update(ctx context.Context, o *obligation.Obligation) error {
	return r.store.do(ctx, func(st *state) error {
		cur, ok := st.obligations[o.ID]
		if !ok || cur.OrgID != o.OrgID {
			return apperror.NewNotFound("Obligation", o.ID.String())
		}
		if cur.Version != o.Version-1 {
			return apperror.NewConcurrentModification("Obligation", o.ID.String())
		}
		st.obligations[o.ID] = cloneObligation(o)
		return nil
	})
}

func (r *ObligationRepo) List(ctx context.Context, orgID id.ID, f obligation.ListFilter) (domain.ListResult[*obligation.Obligation], error) {
	var items []*obligation.Obligation
	err := r.store.do(ctx, func(st *state) error {
		for _, v := range st.obligations {
			switch {
			case v.OrgID != orgID:
			case f.Period != nil && v.Period != *f.Period:
			case f.KindID != nil && v.KindID != *f.KindID:
			case f.Status != "" && v.Status != f.Status:
			default:
				items = append(items, cloneObligation(v))
			}
		}
		return nil
	})
	if err != nil {
		return domain.ListResult[*obligation.Obligation]{}, err
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Period.Year != b.Period.Year {
			return a.Period.Year > b.Period.Year
		}
		if a.Period.Month != b.Period.Month {
			return a.Period.Month > b.Period.Month
		}
		return a.ID.String() < b.ID.String()
	})
	return domain.ListResult[*obligation.Obligation]{
		Items:      page(items, f.Limit, f.Offset),
		TotalCount: int64(len(items)),
		Limit:      f.Limit,
		Offset:     f.Offset,
	}, nil
}
