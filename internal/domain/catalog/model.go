// Package catalog holds fiscal reference data: regimes, tax types,
// fiscal classifications and accessory obligation kinds.
package catalog

import (
	"context"
	"strings"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/period"
)

// Regime is the tax framework a company operates under.
type Regime struct {
	entity.Catalog
}

// NewRegime creates a regime.
func NewRegime(code, name string) *Regime {
	return &Regime{Catalog: entity.NewCatalog(code, name)}
}

// TaxType is one tax levied on operations (a VAT-like tax, a services tax...).
type TaxType struct {
	entity.Catalog
}

// NewTaxType creates a tax type.
func NewTaxType(code, name string) *TaxType {
	return &TaxType{Catalog: entity.NewCatalog(code, name)}
}

// ClassificationKind tells product codes from service codes.
type ClassificationKind string

const (
	ClassificationProduct ClassificationKind = "product"
	ClassificationService ClassificationKind = "service"
)

// Classification is a product (NCM-like) or service code.
// Name carries the description.
type Classification struct {
	entity.Catalog
	Kind ClassificationKind `db:"kind" json:"type"`
}

// NewClassification creates a classification.
func NewClassification(kind ClassificationKind, code, description string) *Classification {
	return &Classification{Catalog: entity.NewCatalog(code, description), Kind: kind}
}

// Validate implements entity.Validatable.
func (c *Classification) Validate(ctx context.Context) error {
	if err := c.Catalog.Validate(ctx); err != nil {
		return err
	}
	switch c.Kind {
	case ClassificationProduct, ClassificationService:
		return nil
	}
	return apperror.NewValidation("classification type must be product or service").
		WithDetail("field", "type")
}

// Periodicity of an accessory obligation.
type Periodicity string

const (
	Monthly   Periodicity = "monthly"
	Quarterly Periodicity = "quarterly"
	Annual    Periodicity = "annual"
)

// ObligationKind describes a recurring filing.
type ObligationKind struct {
	entity.Catalog
	Periodicity Periodicity `db:"periodicity" json:"periodicity"`
}

// NewObligationKind creates an obligation kind.
func NewObligationKind(code, name string, p Periodicity) *ObligationKind {
	return &ObligationKind{Catalog: entity.NewCatalog(code, name), Periodicity: Periodicity(strings.ToLower(string(p)))}
}

// Validate implements entity.Validatable.
func (k *ObligationKind) Validate(ctx context.Context) error {
	if err := k.Catalog.Validate(ctx); err != nil {
		return err
	}
	switch k.Periodicity {
	case Monthly, Quarterly, Annual:
		return nil
	}
	return apperror.NewValidation("periodicity must be monthly, quarterly or annual").
		WithDetail("field", "periodicity")
}

// AcceptsPeriod reports whether p can close a filing of this kind.
// Quarterly filings are keyed by the quarter's last month, annual ones by December.
func (k *ObligationKind) AcceptsPeriod(p period.Period) bool {
	switch k.Periodicity {
	case Quarterly:
		return p.Month%3 == 0
	case Annual:
		return p.Month == 12
	default:
		return true
	}
}

// CoveredPeriods lists the months a filing for p reports on, oldest first.
func (k *ObligationKind) CoveredPeriods(p period.Period) []period.Period {
	n := 1
	switch k.Periodicity {
	case Quarterly:
		n = 3
	case Annual:
		n = 12
	}
	out := make([]period.Period, n)
	cur := p
	for i := n - 1; i >= 0; i-- {
		out[i] = cur
		cur = cur.Prev()
	}
	return out
}
