package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"shopfiscal/internal/core/apperror"
	appctx "shopfiscal/internal/core/context"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/core/tx"
	"shopfiscal/internal/domain"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/calculator"
	"shopfiscal/internal/domain/rule"
	"shopfiscal/pkg/logger"
)

// Period actions reported to the Observer.
const (
	ActionClose  = "close"
	ActionReopen = "reopen"
)

// Observer receives ledger events after commit.
type Observer interface {
	ObservePosting(direction string)
	ObservePeriodTransition(action, outcome string)
}

// RuleLookup loads a rule of one organization.
type RuleLookup interface {
	GetByID(ctx context.Context, orgID, ruleID id.ID) (*rule.Rule, error)
}

// PageLimits bounds list pagination.
type PageLimits interface {
	PageSizes() (def, maxSize int)
}

// Service is the period ledger manager.
type Service struct {
	repo      Repository
	txManager tx.Manager
	locker    tx.PeriodLocker
	audit     audit.Recorder
	rules     RuleLookup
	limits    PageLimits
	observer  Observer
	now       func() time.Time
}

// NewService creates the ledger service. limits and observer may be nil.
func NewService(repo Repository, txm tx.Manager, locker tx.PeriodLocker, rec audit.Recorder, rules RuleLookup, limits PageLimits, observer Observer) *Service {
	return &Service{
		repo:      repo,
		txManager: txm,
		locker:    locker,
		audit:     rec,
		rules:     rules,
		limits:    limits,
		observer:  observer,
		now:       time.Now,
	}
}

// Post books every line of result into the ledgers of period p.
// The calculation record, its postings, the ledger totals and one audit entry commit together.
func (s *Service) Post(ctx context.Context, orgID id.ID, result *calculator.Result, p period.Period) (*Posted, error) {
	if result == nil {
		return nil, apperror.NewValidation("calculation result is required")
	}
	if err := result.Verify(); err != nil {
		return nil, apperror.NewValidation("inconsistent calculation result: " + err.Error())
	}
	if err := p.Validate(); err != nil {
		return nil, apperror.NewValidation(err.Error()).WithDetail("field", "period")
	}

	dir := DirectionOf(result.Operation)
	lines := append([]calculator.Line(nil), result.Taxes...)
	// Fixed lock order across concurrent posts.
	sort.Slice(lines, func(i, j int) bool { return lines[i].TaxTypeID.String() < lines[j].TaxTypeID.String() })

	actor := appctx.ActorOrSystem(ctx)
	now := s.now().UTC()
	rec := &CalculationRecord{
		ID:            id.New(),
		OrgID:         orgID,
		RegimeID:      result.RegimeID,
		Operation:     result.Operation,
		Period:        p,
		EffectiveDate: result.EffectiveDate,
		TotalAmount:   result.TotalAmount,
		TotalTax:      result.TotalTax,
		NetAmount:     result.NetAmount,
		Taxes:         result.Taxes,
		Notes:         result.Notes,
		CreatedBy:     actor.UserID,
		CreatedAt:     now,
	}

	var posted *Posted
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.locker.LockPeriod(ctx, orgID.String(), p.Year, p.Month, tx.LockShared); err != nil {
			return err
		}
		if err := s.checkRules(ctx, orgID, result); err != nil {
			return err
		}
		periodFrozen, err := s.periodFrozen(ctx, orgID, p)
		if err != nil {
			return err
		}

		out := &Posted{Calculation: rec}
		for _, line := range lines {
			l, err := s.acquire(ctx, Key{OrgID: orgID, TaxTypeID: line.TaxTypeID, RegimeID: result.RegimeID, Period: p}, periodFrozen)
			if err != nil {
				return err
			}
			if l.IsClosed() {
				return apperror.NewLedgerClosed(p.String(), line.TaxTypeID.String(), string(l.Status))
			}

			l.apply(dir, line.Amount)
			l.Touch()
			if err := s.repo.Update(ctx, l); err != nil {
				return fmt.Errorf("update ledger: %w", err)
			}

			out.Ledgers = append(out.Ledgers, l)
			out.Postings = append(out.Postings, Posting{
				ID:            id.New(),
				OrgID:         orgID,
				CalculationID: rec.ID,
				LedgerID:      l.ID,
				TaxTypeID:     line.TaxTypeID,
				RuleID:        line.RuleID,
				Direction:     dir,
				Base:          line.Base,
				Rate:          line.Rate,
				Amount:        line.Amount,
				CalcMethod:    line.CalcMethod,
				CreatedAt:     now,
			})
		}

		if err := s.repo.InsertCalculation(ctx, rec, out.Postings); err != nil {
			return fmt.Errorf("insert calculation: %w", err)
		}
		posted = out
		return s.audit.Record(ctx, audit.Change{
			OrgID:     &orgID,
			TableName: audit.TableCalculations,
			RecordID:  rec.ID,
			Operation: audit.OpInsert,
			New:       out,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.observer != nil {
		for range posted.Postings {
			s.observer.ObservePosting(string(dir))
		}
	}
	logger.Info(ctx, "calculation posted",
		"org_id", orgID, "calculation_id", rec.ID, "period", p.String(),
		"direction", dir, "lines", len(posted.Postings), "total_tax", rec.TotalTax.String())
	return posted, nil
}

// periodFrozen reports whether the period has ledgers and all of them are closed.
func (s *Service) periodFrozen(ctx context.Context, orgID id.ID, p period.Period) (bool, error) {
	counts, err := s.repo.StatusCounts(ctx, orgID, p)
	if err != nil {
		return false, fmt.Errorf("count period ledgers: %w", err)
	}
	return counts[StatusClosed] > 0 && counts[StatusOpen] == 0, nil
}

// acquire returns the locked ledger for k, creating it lazily.
func (s *Service) acquire(ctx context.Context, k Key, periodFrozen bool) (*Ledger, error) {
	l, err := s.repo.GetForUpdate(ctx, k)
	if err == nil {
		return l, nil
	}
	if !apperror.IsNotFound(err) {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if periodFrozen {
		return nil, apperror.NewLedgerClosed(k.Period.String(), k.TaxTypeID.String(), string(StatusClosed))
	}
	l, err = s.repo.Insert(ctx, NewLedger(k))
	if err != nil {
		return nil, fmt.Errorf("create ledger: %w", err)
	}
	return l, nil
}

// checkRules ties every line to a rule of orgID that produced it: same tax type,
// regime, operation and method.
func (s *Service) checkRules(ctx context.Context, orgID id.ID, result *calculator.Result) error {
	for i, line := range result.Taxes {
		r, err := s.rules.GetByID(ctx, orgID, line.RuleID)
		if err != nil {
			if apperror.IsNotFound(err) {
				return apperror.NewValidation(fmt.Sprintf("tax line %d: rule %s not found", i, line.RuleID)).
					WithDetail("rule_id", line.RuleID.String())
			}
			return fmt.Errorf("load tax rule: %w", err)
		}
		var mismatch string
		switch {
		case r.TaxTypeID != line.TaxTypeID:
			mismatch = "tax type"
		case r.RegimeID != result.RegimeID:
			mismatch = "regime"
		case r.Operation != result.Operation:
			mismatch = "operation"
		case r.Recipe == nil || r.Recipe.Method() != line.CalcMethod:
			mismatch = "calculation method"
		}
		if mismatch != "" {
			return apperror.NewValidation(fmt.Sprintf("tax line %d: %s does not match rule %s", i, mismatch, line.RuleID)).
				WithDetail("rule_id", line.RuleID.String())
		}
	}
	return nil
}

// ClosePeriod freezes every ledger of the period, or none of them.
// Business refusals come back in the result; err is reserved for faults.
func (s *Service) ClosePeriod(ctx context.Context, orgID id.ID, p period.Period) (*PeriodActionResult, error) {
	if err := p.Validate(); err != nil {
		return nil, apperror.NewValidation(err.Error()).WithDetail("field", "period")
	}

	var changed []*Ledger
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.locker.LockPeriod(ctx, orgID.String(), p.Year, p.Month, tx.LockExclusive); err != nil {
			return err
		}
		ledgers, err := s.repo.ListPeriodForUpdate(ctx, orgID, p)
		if err != nil {
			return fmt.Errorf("list period ledgers: %w", err)
		}
		if len(ledgers) == 0 {
			return apperror.NewNotFound("TaxLedger", p.String()).WithDetail("period", p.String())
		}
		for _, l := range ledgers {
			if l.IsClosed() {
				return apperror.NewLedgerClosed(p.String(), l.TaxTypeID.String(), string(l.Status))
			}
		}

		actor := appctx.ActorOrSystem(ctx)
		at := s.now().UTC()
		before := make([]*Ledger, 0, len(ledgers))
		for _, l := range ledgers {
			before = append(before, l.clone())
			l.close(actor.UserID, at)
			l.Touch()
			if err := s.repo.Update(ctx, l); err != nil {
				return fmt.Errorf("close ledger: %w", err)
			}
		}
		changed = ledgers
		return s.recordPeriod(ctx, orgID, p, before, ledgers)
	})
	return s.periodOutcome(ctx, ActionClose, orgID, p, changed, err)
}

// ReopenPeriod unfreezes the closed ledgers of the period. Always audited.
func (s *Service) ReopenPeriod(ctx context.Context, orgID id.ID, p period.Period) (*PeriodActionResult, error) {
	if err := p.Validate(); err != nil {
		return nil, apperror.NewValidation(err.Error()).WithDetail("field", "period")
	}

	var changed []*Ledger
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.locker.LockPeriod(ctx, orgID.String(), p.Year, p.Month, tx.LockExclusive); err != nil {
			return err
		}
		ledgers, err := s.repo.ListPeriodForUpdate(ctx, orgID, p)
		if err != nil {
			return fmt.Errorf("list period ledgers: %w", err)
		}

		var before, after []*Ledger
		for _, l := range ledgers {
			if !l.IsClosed() {
				continue
			}
			before = append(before, l.clone())
			l.reopen()
			l.Touch()
			if err := s.repo.Update(ctx, l); err != nil {
				return fmt.Errorf("reopen ledger: %w", err)
			}
			after = append(after, l)
		}
		if len(after) == 0 {
			return apperror.NewBusinessRule(apperror.CodeBusinessRule,
				fmt.Sprintf("period %s has no closed ledgers", p.String())).WithDetail("period", p.String())
		}
		changed = after
		return s.recordPeriod(ctx, orgID, p, before, after)
	})
	return s.periodOutcome(ctx, ActionReopen, orgID, p, changed, err)
}

func (s *Service) recordPeriod(ctx context.Context, orgID id.ID, p period.Period, before, after []*Ledger) error {
	return s.audit.Record(ctx, audit.Change{
		OrgID:     &orgID,
		TableName: audit.TableLedgers,
		RecordID:  id.ForPeriod(orgID, p.Year, p.Month),
		Operation: audit.OpUpdate,
		Old:       before,
		New:       after,
	})
}

// periodOutcome turns client-facing refusals into an unsuccessful result.
func (s *Service) periodOutcome(ctx context.Context, action string, orgID id.ID, p period.Period, changed []*Ledger, err error) (*PeriodActionResult, error) {
	if err != nil {
		appErr, ok := apperror.AsAppError(err)
		if !ok || appErr.HTTPStatus >= http.StatusInternalServerError {
			s.observePeriod(action, "error")
			return nil, err
		}
		s.observePeriod(action, "refused")
		logger.Warn(ctx, "period "+action+" refused", "org_id", orgID, "period", p.String(), "code", appErr.Code)
		return &PeriodActionResult{Success: false, Error: appErr}, nil
	}

	s.observePeriod(action, "ok")
	logger.Info(ctx, "period "+action+" done", "org_id", orgID, "period", p.String(), "ledgers", len(changed))
	return &PeriodActionResult{Success: true, Ledgers: changed}, nil
}

func (s *Service) observePeriod(action, outcome string) {
	if s.observer != nil {
		s.observer.ObservePeriodTransition(action, outcome)
	}
}

// CloseLedger freezes a single ledger row.
func (s *Service) CloseLedger(ctx context.Context, k Key) (*Ledger, error) {
	return s.transitionLedger(ctx, ActionClose, k, func(l *Ledger) error {
		if l.IsClosed() {
			return apperror.NewLedgerClosed(k.Period.String(), k.TaxTypeID.String(), string(l.Status))
		}
		l.close(appctx.ActorOrSystem(ctx).UserID, s.now().UTC())
		return nil
	})
}

// ReopenLedger unfreezes a single ledger row.
func (s *Service) ReopenLedger(ctx context.Context, k Key) (*Ledger, error) {
	return s.transitionLedger(ctx, ActionReopen, k, func(l *Ledger) error {
		if !l.IsClosed() {
			return apperror.NewBusinessRule(apperror.CodeBusinessRule, "ledger is not closed").
				WithDetail("period", k.Period.String()).WithDetail("tax_type_id", k.TaxTypeID.String())
		}
		l.reopen()
		return nil
	})
}

func (s *Service) transitionLedger(ctx context.Context, action string, k Key, mutate func(*Ledger) error) (*Ledger, error) {
	if err := k.Period.Validate(); err != nil {
		return nil, apperror.NewValidation(err.Error()).WithDetail("field", "period")
	}

	var out *Ledger
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.locker.LockPeriod(ctx, k.OrgID.String(), k.Period.Year, k.Period.Month, tx.LockExclusive); err != nil {
			return err
		}
		l, err := s.repo.GetForUpdate(ctx, k)
		if err != nil {
			if apperror.IsNotFound(err) {
				return apperror.NewNotFound("TaxLedger", k.TaxTypeID.String()).WithDetail("period", k.Period.String())
			}
			return fmt.Errorf("load ledger: %w", err)
		}
		before := l.clone()
		if err := mutate(l); err != nil {
			return err
		}
		l.Touch()
		if err := s.repo.Update(ctx, l); err != nil {
			return fmt.Errorf("update ledger: %w", err)
		}
		out = l
		return s.audit.Record(ctx, audit.Change{
			OrgID:     &k.OrgID,
			TableName: audit.TableLedgers,
			RecordID:  l.ID,
			Operation: audit.OpUpdate,
			Old:       before,
			New:       l,
		})
	})
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && appErr.HTTPStatus < http.StatusInternalServerError {
			s.observePeriod(action, "refused")
		} else {
			s.observePeriod(action, "error")
		}
		return nil, err
	}

	s.observePeriod(action, "ok")
	logger.Info(ctx, "ledger "+action, "org_id", k.OrgID, "ledger_id", out.ID, "period", k.Period.String())
	return out, nil
}

// List returns the org's ledgers matching filter.
func (s *Service) List(ctx context.Context, orgID id.ID, filter ListFilter) (domain.ListResult[*Ledger], error) {
	if filter.Period != nil {
		if err := filter.Period.Validate(); err != nil {
			return domain.ListResult[*Ledger]{}, apperror.NewValidation(err.Error()).WithDetail("field", "period")
		}
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return domain.ListResult[*Ledger]{}, apperror.NewValidation("status must be aberto or fechado").
			WithDetail("field", "status")
	}
	def, maxSize := 50, 500
	if s.limits != nil {
		def, maxSize = s.limits.PageSizes()
	}
	filter.Limit, filter.Offset = domain.NormalizePage(filter.Limit, filter.Offset, def, maxSize)

	res, err := s.repo.List(ctx, orgID, filter)
	if err != nil {
		return domain.ListResult[*Ledger]{}, fmt.Errorf("list ledgers: %w", err)
	}
	return res, nil
}

// Summary aggregates the calculations posted to p.
func (s *Service) Summary(ctx context.Context, orgID id.ID, p period.Period) (Summary, error) {
	if err := p.Validate(); err != nil {
		return Summary{}, apperror.NewValidation(err.Error()).WithDetail("field", "period")
	}
	records, err := s.repo.CalculationsInPeriod(ctx, orgID, p)
	if err != nil {
		return Summary{}, fmt.Errorf("load period calculations: %w", err)
	}
	return Summarize(p, records), nil
}

// OpenLedgers counts the org's ledgers still open in any of periods.
func (s *Service) OpenLedgers(ctx context.Context, orgID id.ID, periods ...period.Period) (int, error) {
	total := 0
	for _, p := range periods {
		counts, err := s.repo.StatusCounts(ctx, orgID, p)
		if err != nil {
			return 0, fmt.Errorf("count period ledgers: %w", err)
		}
		total += counts[StatusOpen]
	}
	return total, nil
}
