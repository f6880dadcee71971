package setting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/tx"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/pkg/logger"
)

const dateLayout = "2006-01-02"

// RegimeChecker confirms that a regime exists in the catalog.
type RegimeChecker interface {
	RegimeExists(ctx context.Context, regimeID id.ID) (bool, error)
}

// Service manages company fiscal settings.
type Service struct {
	repo      Repository
	regimes   RegimeChecker
	txManager tx.Manager
	audit     audit.Recorder
}

// NewService creates the settings service.
func NewService(repo Repository, regimes RegimeChecker, txm tx.Manager, rec audit.Recorder) *Service {
	return &Service{repo: repo, regimes: regimes, txManager: txm, audit: rec}
}

// List returns all settings of an organization, oldest first.
func (s *Service) List(ctx context.Context, orgID id.ID) ([]*Setting, error) {
	items, err := s.repo.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list fiscal settings: %w", err)
	}
	return items, nil
}

// Get returns one setting.
func (s *Service) Get(ctx context.Context, orgID, settingID id.ID) (*Setting, error) {
	item, err := s.repo.GetByID(ctx, orgID, settingID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewNotFound("CompanyFiscalSetting", settingID.String())
		}
		return nil, err
	}
	return item, nil
}

// Effective returns the setting in force at the given instant.
func (s *Service) Effective(ctx context.Context, orgID id.ID, at time.Time) (*Setting, error) {
	items, err := s.repo.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list fiscal settings: %w", err)
	}
	for _, item := range items {
		if item.Window().Contains(at) {
			return item, nil
		}
	}
	return nil, apperror.NewNotFound("CompanyFiscalSetting", at.UTC().Format(dateLayout)).
		WithDetail("org_id", orgID.String())
}

// Create appends a new setting after checking that its window overlaps no other.
func (s *Service) Create(ctx context.Context, orgID id.ID, in Input) (*Setting, error) {
	item := &Setting{
		BaseEntity:       entity.NewBaseEntity(),
		OrgID:            orgID,
		OrgName:          strings.TrimSpace(in.OrgName),
		TaxID:            in.TaxID,
		State:            normalizeState(in.State),
		MunicipalityCode: in.MunicipalityCode,
		RegimeID:         in.RegimeID,
		EffectiveFrom:    truncateDay(in.EffectiveFrom),
	}
	if in.EffectiveTo != nil {
		to := truncateDay(*in.EffectiveTo)
		item.EffectiveTo = &to
	}

	if err := s.validate(ctx, item); err != nil {
		return nil, err
	}

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.checkOverlap(ctx, item); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, item); err != nil {
			return fmt.Errorf("create fiscal setting: %w", err)
		}
		return s.audit.Record(ctx, audit.Change{
			OrgID:     &orgID,
			TableName: audit.TableSettings,
			RecordID:  item.ID,
			Operation: audit.OpInsert,
			New:       item,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "fiscal setting created",
		"org_id", orgID, "setting_id", item.ID, "regime_id", item.RegimeID,
		"effective_from", item.EffectiveFrom.Format(dateLayout))
	return item, nil
}

// Update applies a partial change, re-checking overlap against the other settings.
func (s *Service) Update(ctx context.Context, orgID, settingID id.ID, patch PatchInput) (*Setting, error) {
	var updated *Setting
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.LockOrg(ctx, orgID); err != nil {
			return fmt.Errorf("lock fiscal settings: %w", err)
		}
		current, err := s.Get(ctx, orgID, settingID)
		if err != nil {
			return err
		}
		if patch.Version != nil && *patch.Version != current.Version {
			return apperror.NewConcurrentModification("CompanyFiscalSetting", settingID.String())
		}

		before := *current
		next := *current
		patch.apply(&next)
		if err := s.validate(ctx, &next); err != nil {
			return err
		}
		if err := s.checkOverlap(ctx, &next); err != nil {
			return err
		}

		next.Touch()
		if err := s.repo.Update(ctx, &next); err != nil {
			return fmt.Errorf("update fiscal setting: %w", err)
		}
		updated = &next
		return s.audit.Record(ctx, audit.Change{
			OrgID:     &orgID,
			TableName: audit.TableSettings,
			RecordID:  next.ID,
			Operation: audit.OpUpdate,
			Old:       &before,
			New:       &next,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "fiscal setting updated", "org_id", orgID, "setting_id", settingID, "version", updated.Version)
	return updated, nil
}

func (s *Service) validate(ctx context.Context, item *Setting) error {
	if err := item.Validate(ctx); err != nil {
		return err
	}
	ok, err := s.regimes.RegimeExists(ctx, item.RegimeID)
	if err != nil {
		return fmt.Errorf("check regime: %w", err)
	}
	if !ok {
		return apperror.NewValidation("unknown regime").WithDetail("regime_id", item.RegimeID.String())
	}
	return nil
}

// checkOverlap must run inside the write transaction.
func (s *Service) checkOverlap(ctx context.Context, item *Setting) error {
	if err := s.repo.LockOrg(ctx, item.OrgID); err != nil {
		return fmt.Errorf("lock fiscal settings: %w", err)
	}
	existing, err := s.repo.ListByOrg(ctx, item.OrgID)
	if err != nil {
		return fmt.Errorf("list fiscal settings: %w", err)
	}
	conflict := FindOverlap(existing, item.Window(), func(other *Setting) bool {
		return other.ID == item.ID
	})
	if conflict == nil {
		return nil
	}
	to := ""
	if conflict.EffectiveTo != nil {
		to = conflict.EffectiveTo.Format(dateLayout)
	}
	return apperror.NewOverlap(conflict.ID.String(), conflict.EffectiveFrom.Format(dateLayout), to)
}
