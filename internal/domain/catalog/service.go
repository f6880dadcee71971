package catalog

import (
	"context"
	"fmt"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/tx"
	"shopfiscal/internal/domain"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/pkg/logger"
)

// Service provides create/read access to one catalog.
// Catalog rows are append-only: historical rules and ledgers reference them.
type Service[T entity.CatalogEntry] struct {
	repo      domain.CatalogRepository[T]
	txManager tx.Manager
	audit     audit.Recorder
	hooks     *domain.HookRegistry[T]

	// entityName for error messages, table for audit entries
	entityName string
	table      string
}

// ServiceConfig configures a catalog service.
type ServiceConfig[T entity.CatalogEntry] struct {
	Repo       domain.CatalogRepository[T]
	TxManager  tx.Manager
	Audit      audit.Recorder
	EntityName string
	Table      string
}

// NewService creates a new catalog service.
func NewService[T entity.CatalogEntry](cfg ServiceConfig[T]) *Service[T] {
	return &Service[T]{
		repo:       cfg.Repo,
		txManager:  cfg.TxManager,
		audit:      cfg.Audit,
		hooks:      domain.NewHookRegistry[T](),
		entityName: cfg.EntityName,
		table:      cfg.Table,
	}
}

// Hooks returns the hook registry for external registration.
func (s *Service[T]) Hooks() *domain.HookRegistry[T] {
	return s.hooks
}

func (s *Service[T]) normalizeGetErr(err error, idOrCode any) error {
	if err == nil {
		return nil
	}
	if apperror.IsNotFound(err) {
		return apperror.NewNotFound(s.entityName, idOrCode)
	}
	if _, ok := apperror.AsAppError(err); ok {
		return err
	}
	return apperror.NewInternal(err).WithDetail("entity", s.entityName).WithDetail("id", idOrCode)
}

// Create validates and stores a new catalog entry.
func (s *Service[T]) Create(ctx context.Context, item T) error {
	if err := item.Validate(ctx); err != nil {
		if _, ok := apperror.AsAppError(err); ok {
			return err
		}
		return apperror.NewValidation(err.Error())
	}

	if err := s.hooks.Run(ctx, domain.BeforeCreate, item); err != nil {
		return err
	}

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		exists, err := s.repo.ExistsByCode(ctx, item.GetCode())
		if err != nil {
			return fmt.Errorf("check %s code: %w", s.entityName, err)
		}
		if exists {
			return apperror.NewDuplicate(s.entityName, "code", item.GetCode())
		}
		if err := s.repo.Create(ctx, item); err != nil {
			return fmt.Errorf("create %s: %w", s.entityName, err)
		}
		return s.audit.Record(ctx, audit.Change{
			TableName: s.table,
			RecordID:  item.GetID(),
			Operation: audit.OpInsert,
			New:       item,
		})
	})
	if err != nil {
		return err
	}

	if err := s.hooks.Run(ctx, domain.AfterCreate, item); err != nil {
		logger.Warn(ctx, "after-create hook failed", "entity", s.entityName, "error", err)
	}

	logger.Info(ctx, "catalog entry created", "entity", s.entityName, "id", item.GetID(), "code", item.GetCode())
	return nil
}

// GetByID retrieves an entry by ID.
func (s *Service[T]) GetByID(ctx context.Context, entryID id.ID) (T, error) {
	item, err := s.repo.GetByID(ctx, entryID)
	if err != nil {
		return item, s.normalizeGetErr(err, entryID.String())
	}
	return item, nil
}

// GetByCode retrieves an entry by code.
func (s *Service[T]) GetByCode(ctx context.Context, code string) (T, error) {
	item, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return item, s.normalizeGetErr(err, code)
	}
	return item, nil
}

// List returns a page of entries.
func (s *Service[T]) List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[T], error) {
	filter.Limit, filter.Offset = domain.NormalizePage(filter.Limit, filter.Offset, 50, 500)
	return s.repo.List(ctx, filter)
}
