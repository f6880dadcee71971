package entity

import (
	"context"
	"strings"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/id"
)

// Catalog is the base type for fiscal reference data (regimes, tax types...).
type Catalog struct {
	BaseEntity

	// Code is a human-readable identifier, unique per catalog
	Code string `db:"code" json:"code"`

	// Name is the display name
	Name string `db:"name" json:"name"`
}

// CatalogEntry is implemented by every catalog record type.
type CatalogEntry interface {
	Validatable
	GetID() id.ID
	GetCode() string
}

// NewCatalog creates a new Catalog with generated ID.
func NewCatalog(code, name string) Catalog {
	return Catalog{
		BaseEntity: NewBaseEntity(),
		Code:       strings.TrimSpace(code),
		Name:       strings.TrimSpace(name),
	}
}

// GetCode returns the catalog code.
func (c *Catalog) GetCode() string {
	return c.Code
}

// Validate implements Validatable interface.
func (c *Catalog) Validate(ctx context.Context) error {
	if strings.TrimSpace(c.Code) == "" {
		return apperror.NewValidation("code is required").
			WithDetail("field", "code")
	}
	if strings.TrimSpace(c.Name) == "" {
		return apperror.NewValidation("name is required").
			WithDetail("field", "name")
	}
	return nil
}
