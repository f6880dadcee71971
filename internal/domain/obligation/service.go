package obligation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/core/tx"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/catalog"
	"shopfiscal/pkg/logger"
)

// KindLookup loads obligation kinds from the catalog.
type KindLookup interface {
	GetByID(ctx context.Context, kindID id.ID) (*catalog.ObligationKind, error)
}

// LedgerStatus tells whether the periods an obligation reports on are still open.
type LedgerStatus interface {
	OpenLedgers(ctx context.Context, orgID id.ID, periods ...period.Period) (int, error)
}

// PageLimits bounds list pagination.
type PageLimits interface {
	PageSizes() (def, maxSize int)
}

// Observer receives committed status changes.
type Observer interface {
	ObserveObligationTransition(from, to string)
}

// CreateInput requests an obligation for a kind and period.
type CreateInput struct {
	KindID id.ID
	Period period.Period
}

// AdvanceInput moves an obligation to Target.
type AdvanceInput struct {
	Target       Status
	Protocol     types.Optional[string]
	ErrorMessage types.Optional[string]
	// Version, when set, must equal the stored version.
	Version *int
}

// Service is the obligation tracker.
type Service struct {
	repo      Repository
	kinds     KindLookup
	ledgers   LedgerStatus
	txManager tx.Manager
	audit     audit.Recorder
	limits    PageLimits
	observer  Observer
	now       func() time.Time
}

// NewService creates the obligation tracker. limits and observer may be nil.
func NewService(repo Repository, kinds KindLookup, ledgers LedgerStatus, txm tx.Manager, rec audit.Recorder, limits PageLimits, observer Observer) *Service {
	return &Service{
		repo:      repo,
		kinds:     kinds,
		ledgers:   ledgers,
		txManager: txm,
		audit:     rec,
		limits:    limits,
		observer:  observer,
		now:       time.Now,
	}
}

// Create returns the org's obligation for (kind, period), creating a draft if none exists.
// Only an actual creation is audited.
func (s *Service) Create(ctx context.Context, orgID id.ID, in CreateInput) (*Obligation, bool, error) {
	kind, err := s.kind(ctx, in.KindID)
	if err != nil {
		return nil, false, err
	}
	o := New(orgID, in.KindID, in.Period)
	if err := o.Validate(ctx); err != nil {
		return nil, false, err
	}
	if !kind.AcceptsPeriod(in.Period) {
		return nil, false, apperror.NewValidation(
			fmt.Sprintf("%s obligations are not due for %s", kind.Periodicity, in.Period)).
			WithDetail("field", "period")
	}

	var (
		stored  *Obligation
		created bool
	)
	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		stored, created, err = s.repo.Insert(ctx, o)
		if err != nil {
			return fmt.Errorf("insert obligation: %w", err)
		}
		if !created {
			return nil
		}
		return s.audit.Record(ctx, audit.Change{
			OrgID:     &orgID,
			TableName: audit.TableObligations,
			RecordID:  stored.ID,
			Operation: audit.OpInsert,
			New:       stored,
		})
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		logger.Info(ctx, "obligation created",
			"org_id", orgID, "obligation_id", stored.ID, "kind", kind.Code, "period", in.Period.String())
	}
	return stored, created, nil
}

// Get returns one obligation.
func (s *Service) Get(ctx context.Context, orgID, obligationID id.ID) (*Obligation, error) {
	o, err := s.repo.GetByID(ctx, orgID, obligationID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewNotFound("Obligation", obligationID.String())
		}
		return nil, err
	}
	return o, nil
}

// List returns the org's obligations matching filter.
func (s *Service) List(ctx context.Context, orgID id.ID, filter ListFilter) (domain.ListResult[*Obligation], error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return domain.ListResult[*Obligation]{}, apperror.NewValidation("unknown obligation status").
			WithDetail("field", "status")
	}
	if filter.Period != nil {
		if err := filter.Period.Validate(); err != nil {
			return domain.ListResult[*Obligation]{}, apperror.NewValidation(err.Error()).WithDetail("field", "period")
		}
	}
	def, maxSize := 50, 500
	if s.limits != nil {
		def, maxSize = s.limits.PageSizes()
	}
	filter.Limit, filter.Offset = domain.NormalizePage(filter.Limit, filter.Offset, def, maxSize)

	res, err := s.repo.List(ctx, orgID, filter)
	if err != nil {
		return domain.ListResult[*Obligation]{}, fmt.Errorf("list obligations: %w", err)
	}
	return res, nil
}

// Advance moves an obligation along its lifecycle.
// Generating a filing requires every ledger in the periods it covers to be closed.
func (s *Service) Advance(ctx context.Context, orgID, obligationID id.ID, in AdvanceInput) (*Obligation, error) {
	if !in.Target.Valid() {
		return nil, apperror.NewValidation("unknown obligation status").WithDetail("field", "status")
	}
	if p, ok := in.Protocol.Get(); ok {
		in.Protocol = types.Some(strings.TrimSpace(p))
	}

	var (
		updated *Obligation
		from    Status
	)
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetForUpdate(ctx, orgID, obligationID)
		if err != nil {
			if apperror.IsNotFound(err) {
				return apperror.NewNotFound("Obligation", obligationID.String())
			}
			return fmt.Errorf("load obligation: %w", err)
		}
		if in.Version != nil && *in.Version != current.Version {
			return apperror.NewConcurrentModification("Obligation", obligationID.String())
		}

		if current.Status == StatusDraft && in.Target == StatusGenerated {
			if err := s.checkPeriodsClosed(ctx, current); err != nil {
				return err
			}
		}

		before := *current
		next := *current
		if err := next.transition(in.Target, in.Protocol, in.ErrorMessage, s.now().UTC()); err != nil {
			return err
		}
		next.Touch()
		if err := s.repo.Update(ctx, &next); err != nil {
			return fmt.Errorf("update obligation: %w", err)
		}
		updated, from = &next, before.Status
		return s.audit.Record(ctx, audit.Change{
			OrgID:     &orgID,
			TableName: audit.TableObligations,
			RecordID:  next.ID,
			Operation: audit.OpUpdate,
			Old:       &before,
			New:       &next,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.observer != nil {
		s.observer.ObserveObligationTransition(string(from), string(updated.Status))
	}
	logger.Info(ctx, "obligation status changed",
		"org_id", orgID, "obligation_id", obligationID, "from", from, "to", updated.Status)
	return updated, nil
}

// Retry returns a failed obligation to draft.
func (s *Service) Retry(ctx context.Context, orgID, obligationID id.ID) (*Obligation, error) {
	return s.Advance(ctx, orgID, obligationID, AdvanceInput{Target: StatusDraft})
}

func (s *Service) checkPeriodsClosed(ctx context.Context, o *Obligation) error {
	kind, err := s.kind(ctx, o.KindID)
	if err != nil {
		return err
	}
	covered := kind.CoveredPeriods(o.Period)
	open, err := s.ledgers.OpenLedgers(ctx, o.OrgID, covered...)
	if err != nil {
		return err
	}
	if open > 0 {
		return apperror.NewBusinessRule(apperror.CodeBusinessRule,
			fmt.Sprintf("%d ledger(s) still open in the periods covered by this obligation", open)).
			WithDetail("from", covered[0].String()).
			WithDetail("to", covered[len(covered)-1].String())
	}
	return nil
}

func (s *Service) kind(ctx context.Context, kindID id.ID) (*catalog.ObligationKind, error) {
	if id.IsNil(kindID) {
		return nil, apperror.NewValidation("obligation kind is required").WithDetail("field", "obligationKindId")
	}
	kind, err := s.kinds.GetByID(ctx, kindID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewValidation("unknown obligation kind").
				WithDetail("field", "obligationKindId").WithDetail("value", kindID.String())
		}
		return nil, err
	}
	return kind, nil
}
