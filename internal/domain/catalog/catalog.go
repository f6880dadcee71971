package catalog

import (
	"context"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/tx"
	"shopfiscal/internal/domain"
	"shopfiscal/internal/domain/audit"
)

// Repositories groups the storage of all four catalogs.
type Repositories struct {
	Regimes         domain.CatalogRepository[*Regime]
	TaxTypes        domain.CatalogRepository[*TaxType]
	Classifications domain.CatalogRepository[*Classification]
	ObligationKinds domain.CatalogRepository[*ObligationKind]
}

// Catalog is the read-mostly reference data used by resolution and tracking.
type Catalog struct {
	Regimes         *Service[*Regime]
	TaxTypes        *Service[*TaxType]
	Classifications *Service[*Classification]
	ObligationKinds *Service[*ObligationKind]
}

// New wires one service per catalog.
func New(repos Repositories, txm tx.Manager, rec audit.Recorder) *Catalog {
	return &Catalog{
		Regimes: NewService(ServiceConfig[*Regime]{
			Repo: repos.Regimes, TxManager: txm, Audit: rec,
			EntityName: "TaxRegime", Table: audit.TableRegimes,
		}),
		TaxTypes: NewService(ServiceConfig[*TaxType]{
			Repo: repos.TaxTypes, TxManager: txm, Audit: rec,
			EntityName: "TaxType", Table: audit.TableTaxTypes,
		}),
		Classifications: NewService(ServiceConfig[*Classification]{
			Repo: repos.Classifications, TxManager: txm, Audit: rec,
			EntityName: "FiscalClassification", Table: audit.TableClassifications,
		}),
		ObligationKinds: NewService(ServiceConfig[*ObligationKind]{
			Repo: repos.ObligationKinds, TxManager: txm, Audit: rec,
			EntityName: "ObligationKind", Table: audit.TableObligationKinds,
		}),
	}
}

// CreateObserver is told about every committed catalog entry.
type CreateObserver interface {
	ObserveCatalogCreate(table string)
}

// ObserveCreates reports the creations of every catalog to o.
func (c *Catalog) ObserveCreates(o CreateObserver) {
	observeCreates(c.Regimes, o)
	observeCreates(c.TaxTypes, o)
	observeCreates(c.Classifications, o)
	observeCreates(c.ObligationKinds, o)
}

func observeCreates[T entity.CatalogEntry](svc *Service[T], o CreateObserver) {
	table := svc.table
	svc.hooks.On(domain.AfterCreate, func(context.Context, T) error {
		o.ObserveCatalogCreate(table)
		return nil
	})
}

// RegimeExists reports whether regimeID names a known regime.
func (c *Catalog) RegimeExists(ctx context.Context, regimeID id.ID) (bool, error) {
	return exists(ctx, c.Regimes, regimeID)
}

// TaxTypeExists reports whether taxTypeID names a known tax type.
func (c *Catalog) TaxTypeExists(ctx context.Context, taxTypeID id.ID) (bool, error) {
	return exists(ctx, c.TaxTypes, taxTypeID)
}

// ClassificationExists reports whether classificationID names a known classification.
func (c *Catalog) ClassificationExists(ctx context.Context, classificationID id.ID) (bool, error) {
	return exists(ctx, c.Classifications, classificationID)
}

func exists[T entity.CatalogEntry](ctx context.Context, svc *Service[T], entryID id.ID) (bool, error) {
	_, err := svc.GetByID(ctx, entryID)
	if err == nil {
		return true, nil
	}
	if apperror.IsNotFound(err) {
		return false, nil
	}
	return false, err
}
