package dto

import (
	"shopfiscal/internal/domain/catalog"
)

// CreateCatalogRequest creates a regime or a tax type.
type CreateCatalogRequest struct {
	Code string `json:"code" binding:"required"`
	Name string `json:"name" binding:"required"`
}

// ToRegime converts the request into a regime.
func (r CreateCatalogRequest) ToRegime() *catalog.Regime {
	return catalog.NewRegime(r.Code, r.Name)
}

// ToTaxType converts the request into a tax type.
func (r CreateCatalogRequest) ToTaxType() *catalog.TaxType {
	return catalog.NewTaxType(r.Code, r.Name)
}

// CreateClassificationRequest creates a product or service code.
type CreateClassificationRequest struct {
	Type        catalog.ClassificationKind `json:"type" binding:"required"`
	Code        string                     `json:"code" binding:"required"`
	Description string                     `json:"description" binding:"required"`
}

// ToEntity converts DTO to domain entity.
func (r CreateClassificationRequest) ToEntity() *catalog.Classification {
	return catalog.NewClassification(r.Type, r.Code, r.Description)
}

// CreateObligationKindRequest creates an obligation kind.
type CreateObligationKindRequest struct {
	Code        string              `json:"code" binding:"required"`
	Name        string              `json:"name" binding:"required"`
	Periodicity catalog.Periodicity `json:"periodicity" binding:"required"`
}

// ToEntity converts DTO to domain entity.
func (r CreateObligationKindRequest) ToEntity() *catalog.ObligationKind {
	return catalog.NewObligationKind(r.Code, r.Name, r.Periodicity)
}
