package catalog_repo

import (
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/catalog"
	"shopfiscal/internal/infrastructure/storage/postgres"
)

// NewRepositories returns the four catalog repositories.
// Table names match the audit table names.
func NewRepositories(txManager *postgres.TxManager) catalog.Repositories {
	return catalog.Repositories{
		Regimes: NewBaseCatalogRepo(txManager, audit.TableRegimes, "TaxRegime",
			postgres.ExtractDBColumns[catalog.Regime](),
			func() *catalog.Regime { return new(catalog.Regime) }),
		TaxTypes: NewBaseCatalogRepo(txManager, audit.TableTaxTypes, "TaxType",
			postgres.ExtractDBColumns[catalog.TaxType](),
			func() *catalog.TaxType { return new(catalog.TaxType) }),
		Classifications: NewBaseCatalogRepo(txManager, audit.TableClassifications, "FiscalClassification",
			postgres.ExtractDBColumns[catalog.Classification](),
			func() *catalog.Classification { return new(catalog.Classification) }),
		ObligationKinds: NewBaseCatalogRepo(txManager, audit.TableObligationKinds, "ObligationKind",
			postgres.ExtractDBColumns[catalog.ObligationKind](),
			func() *catalog.ObligationKind { return new(catalog.ObligationKind) }),
	}
}
