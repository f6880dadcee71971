package rule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/tx"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/formula"
	"shopfiscal/pkg/logger"
)

// CatalogChecker confirms catalog references.
type CatalogChecker interface {
	RegimeExists(ctx context.Context, regimeID id.ID) (bool, error)
	TaxTypeExists(ctx context.Context, taxTypeID id.ID) (bool, error)
	ClassificationExists(ctx context.Context, classificationID id.ID) (bool, error)
}

// Limits supplies tunable bounds.
type Limits interface {
	MaxFormulaLength() int
	PageSizes() (def, maxSize int)
}

// Observer is notified of resolution conflicts.
type Observer interface {
	ObserveRuleConflict()
}

// CreateInput is the payload for a new rule.
type CreateInput struct {
	RegimeID  id.ID
	TaxTypeID id.ID
	Operation Operation
	Criteria  Criteria
	Columns   Columns
	IsActive  *bool
	Priority  int
	ValidFrom time.Time
	ValidTo   *time.Time
}

// PatchInput is a partial update. Absent fields stay untouched.
type PatchInput struct {
	Version          *int
	RegimeID         *id.ID
	TaxTypeID        *id.ID
	Operation        *Operation
	OriginUF         types.Patch[string]
	DestinationUF    types.Patch[string]
	ClassificationID types.Patch[id.ID]
	CalcMethod       *CalcMethod
	Rate             types.Patch[decimal.Decimal]
	BaseReduction    types.Patch[decimal.Decimal]
	FixedValue       types.Patch[decimal.Decimal]
	Formula          types.Patch[string]
	IsActive         *bool
	Priority         *int
	ValidFrom        *time.Time
	ValidTo          types.Patch[time.Time]
}

// touchesCalculation reports whether the patch changes what a rule computes or matches.
func (p PatchInput) touchesCalculation() bool {
	return p.RegimeID != nil || p.TaxTypeID != nil || p.Operation != nil ||
		p.OriginUF.Present || p.DestinationUF.Present || p.ClassificationID.Present ||
		p.CalcMethod != nil || p.Rate.Present || p.BaseReduction.Present ||
		p.FixedValue.Present || p.Formula.Present || p.ValidFrom != nil
}

func (p PatchInput) apply(s *Snapshot) {
	if p.RegimeID != nil {
		s.RegimeID = *p.RegimeID
	}
	if p.TaxTypeID != nil {
		s.TaxTypeID = *p.TaxTypeID
	}
	if p.Operation != nil {
		s.Operation = *p.Operation
	}
	s.OriginUF = p.OriginUF.Apply(types.FromPtr(s.OriginUF)).Ptr()
	s.DestinationUF = p.DestinationUF.Apply(types.FromPtr(s.DestinationUF)).Ptr()
	s.ClassificationID = p.ClassificationID.Apply(types.FromPtr(s.ClassificationID)).Ptr()
	if p.CalcMethod != nil {
		s.CalcMethod = *p.CalcMethod
	}
	s.Rate = p.Rate.Apply(types.FromPtr(s.Rate)).Ptr()
	s.BaseReduction = p.BaseReduction.Apply(types.FromPtr(s.BaseReduction)).Ptr()
	s.FixedValue = p.FixedValue.Apply(types.FromPtr(s.FixedValue)).Ptr()
	s.Formula = p.Formula.Apply(types.FromPtr(s.Formula)).Ptr()
	if p.IsActive != nil {
		s.IsActive = *p.IsActive
	}
	if p.Priority != nil {
		s.Priority = *p.Priority
	}
	if p.ValidFrom != nil {
		s.ValidFrom = p.ValidFrom.UTC()
	}
	if p.ValidTo.Present {
		s.ValidTo = nil
		if to, ok := p.ValidTo.Value.Get(); ok {
			to = to.UTC()
			s.ValidTo = &to
		}
	}
}

// Service is the rule repository and resolver facade.
type Service struct {
	repo      Repository
	catalog   CatalogChecker
	txManager tx.Manager
	audit     audit.Recorder
	limits    Limits
	observer  Observer
}

// NewService creates the rule service. limits and observer may be nil.
func NewService(repo Repository, catalog CatalogChecker, txm tx.Manager, rec audit.Recorder, limits Limits, observer Observer) *Service {
	return &Service{
		repo:      repo,
		catalog:   catalog,
		txManager: txm,
		audit:     rec,
		limits:    limits,
		observer:  observer,
	}
}

// List returns a page of the org's rules.
func (s *Service) List(ctx context.Context, orgID id.ID, filter ListFilter) (domain.ListResult[*Rule], error) {
	def, maxSize := 50, 500
	if s.limits != nil {
		def, maxSize = s.limits.PageSizes()
	}
	filter.Limit, filter.Offset = domain.NormalizePage(filter.Limit, filter.Offset, def, maxSize)
	if filter.Operation != "" && !filter.Operation.Valid() {
		return domain.ListResult[*Rule]{}, apperror.NewValidation("unknown operation").
			WithDetail("operation", string(filter.Operation))
	}
	return s.repo.List(ctx, orgID, filter)
}

// Get returns one rule.
func (s *Service) Get(ctx context.Context, orgID, ruleID id.ID) (*Rule, error) {
	r, err := s.repo.GetByID(ctx, orgID, ruleID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewNotFound("TaxRule", ruleID.String())
		}
		return nil, err
	}
	return r, nil
}

// Create validates and stores a new rule.
func (s *Service) Create(ctx context.Context, orgID id.ID, in CreateInput) (*Rule, error) {
	recipe, err := in.Columns.Recipe()
	if err != nil {
		return nil, err
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	r := &Rule{
		BaseEntity: entity.NewBaseEntity(),
		OrgID:      orgID,
		RegimeID:   in.RegimeID,
		TaxTypeID:  in.TaxTypeID,
		Operation:  in.Operation,
		Criteria:   in.Criteria.Normalize(),
		Recipe:     recipe,
		IsActive:   active,
		Priority:   in.Priority,
		ValidFrom:  in.ValidFrom.UTC(),
	}
	if in.ValidTo != nil {
		to := in.ValidTo.UTC()
		r.ValidTo = &to
	}

	if err := s.validate(ctx, r); err != nil {
		return nil, err
	}

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, r); err != nil {
			return fmt.Errorf("create tax rule: %w", err)
		}
		return s.audit.Record(ctx, audit.Change{
			OrgID:     &orgID,
			TableName: audit.TableRules,
			RecordID:  r.ID,
			Operation: audit.OpInsert,
			New:       r.Snapshot(),
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "tax rule created",
		"org_id", orgID, "rule_id", r.ID, "tax_type_id", r.TaxTypeID, "calc_method", r.Recipe.Method())
	return r, nil
}

// Update applies a partial change.
// Rules already referenced by ledger postings only accept changes to
// is_active, priority and valid_to; anything else must go into a new rule.
func (s *Service) Update(ctx context.Context, orgID, ruleID id.ID, patch PatchInput) (*Rule, error) {
	var updated *Rule
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		current, err := s.Get(ctx, orgID, ruleID)
		if err != nil {
			return err
		}
		if patch.Version != nil && *patch.Version != current.Version {
			return apperror.NewConcurrentModification("TaxRule", ruleID.String())
		}

		if patch.touchesCalculation() {
			referenced, err := s.repo.IsReferenced(ctx, ruleID)
			if err != nil {
				return fmt.Errorf("check rule references: %w", err)
			}
			if referenced {
				return apperror.NewConflict("tax rule is referenced by posted calculations; deactivate it and create a new rule").
					WithDetail("rule_id", ruleID.String())
			}
		}

		before := current.Snapshot()
		snap := before
		patch.apply(&snap)
		next, err := FromSnapshot(snap)
		if err != nil {
			return err
		}
		next.Criteria = next.Criteria.Normalize()
		if err := s.validate(ctx, next); err != nil {
			return err
		}

		next.Touch()
		if err := s.repo.Update(ctx, next); err != nil {
			return fmt.Errorf("update tax rule: %w", err)
		}
		updated = next
		return s.audit.Record(ctx, audit.Change{
			OrgID:     &orgID,
			TableName: audit.TableRules,
			RecordID:  ruleID,
			Operation: audit.OpUpdate,
			Old:       before,
			New:       next.Snapshot(),
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "tax rule updated", "org_id", orgID, "rule_id", ruleID, "version", updated.Version)
	return updated, nil
}

// Deactivate sets is_active=false, the only way to retire a referenced rule.
func (s *Service) Deactivate(ctx context.Context, orgID, ruleID id.ID) (*Rule, error) {
	inactive := false
	return s.Update(ctx, orgID, ruleID, PatchInput{IsActive: &inactive})
}

// Delete physically removes a rule that no posting references.
func (s *Service) Delete(ctx context.Context, orgID, ruleID id.ID) error {
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		current, err := s.Get(ctx, orgID, ruleID)
		if err != nil {
			return err
		}
		referenced, err := s.repo.IsReferenced(ctx, ruleID)
		if err != nil {
			return fmt.Errorf("check rule references: %w", err)
		}
		if referenced {
			return apperror.NewConflict("tax rule is referenced by posted calculations; deactivate it instead").
				WithDetail("rule_id", ruleID.String())
		}
		if err := s.repo.Delete(ctx, orgID, ruleID); err != nil {
			return fmt.Errorf("delete tax rule: %w", err)
		}
		return s.audit.Record(ctx, audit.Change{
			OrgID:     &orgID,
			TableName: audit.TableRules,
			RecordID:  ruleID,
			Operation: audit.OpDelete,
			Old:       current.Snapshot(),
			New:       map[string]any{"id": ruleID, "deleted": true},
		})
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "tax rule deleted", "org_id", orgID, "rule_id", ruleID)
	return nil
}

// Resolve returns the rule to apply per tax type for q.
func (s *Service) Resolve(ctx context.Context, orgID id.ID, q Query) ([]Resolved, error) {
	if !q.Operation.Valid() {
		return nil, apperror.NewValidation("operation must be venda, compra or prestacao_servico").
			WithDetail("field", "operation")
	}
	q.Subject = Subject{
		OriginUF:         normalizeUF(q.Subject.OriginUF),
		DestinationUF:    normalizeUF(q.Subject.DestinationUF),
		ClassificationID: q.Subject.ClassificationID,
	}

	candidates, err := s.repo.Candidates(ctx, orgID, q)
	if err != nil {
		return nil, fmt.Errorf("load rule candidates: %w", err)
	}
	resolved, err := Resolve(candidates, q)
	if err != nil {
		if apperror.Is(err, apperror.CodeRuleConflict) && s.observer != nil {
			s.observer.ObserveRuleConflict()
		}
		return nil, err
	}
	return resolved, nil
}

type refCheck struct {
	field string
	id    id.ID
	fn    func(context.Context, id.ID) (bool, error)
}

func (s *Service) validate(ctx context.Context, r *Rule) error {
	if err := r.Validate(ctx); err != nil {
		return err
	}
	if f, ok := r.Recipe.(Formula); ok && s.limits != nil {
		if _, err := formula.Compile(f.Expression, s.limits.MaxFormulaLength()); err != nil {
			return apperror.NewValidation("invalid formula: " + err.Error()).WithDetail("field", "formula")
		}
	}

	checks := []refCheck{
		{"regimeId", r.RegimeID, s.catalog.RegimeExists},
		{"taxTypeId", r.TaxTypeID, s.catalog.TaxTypeExists},
	}
	if cls, ok := r.Criteria.ClassificationID.Get(); ok {
		checks = append(checks, refCheck{"classificationId", cls, s.catalog.ClassificationExists})
	}
	for _, c := range checks {
		ok, err := c.fn(ctx, c.id)
		if err != nil {
			return fmt.Errorf("check %s: %w", c.field, err)
		}
		if !ok {
			return apperror.NewValidation("unknown "+strings.TrimSuffix(c.field, "Id")).
				WithDetail("field", c.field).WithDetail("value", c.id.String())
		}
	}
	return nil
}
