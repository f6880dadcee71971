// Package rule stores tax rules and resolves which rule applies to an operation.
package rule

import (
	"context"
	"strings"
	"time"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/types"
)

// Operation is the commercial transaction kind.
type Operation string

const (
	OpSale     Operation = "venda"
	OpPurchase Operation = "compra"
	OpService  Operation = "prestacao_servico"
)

// Valid reports whether op is known.
func (op Operation) Valid() bool {
	switch op {
	case OpSale, OpPurchase, OpService:
		return true
	}
	return false
}

// IsDebit reports whether tax on op is owed (debit) rather than recoverable (credit).
func (op Operation) IsDebit() bool {
	return op == OpSale || op == OpService
}

// Criteria are the wildcard-capable match fields of a rule. Unset means "any".
type Criteria struct {
	OriginUF         types.Optional[string] `json:"originUf"`
	DestinationUF    types.Optional[string] `json:"destinationUf"`
	ClassificationID types.Optional[id.ID]  `json:"classificationId"`
}

// Normalize upper-cases jurisdiction codes.
func (c Criteria) Normalize() Criteria {
	c.OriginUF = normalizeUF(c.OriginUF)
	c.DestinationUF = normalizeUF(c.DestinationUF)
	return c
}

func normalizeUF(o types.Optional[string]) types.Optional[string] {
	v, ok := o.Get()
	if !ok {
		return o
	}
	v = strings.ToUpper(strings.TrimSpace(v))
	if v == "" {
		return types.None[string]()
	}
	return types.Some(v)
}

// Rule is a condition set plus a calculation recipe for one tax type.
type Rule struct {
	entity.BaseEntity

	OrgID     id.ID     `json:"orgId"`
	RegimeID  id.ID     `json:"regimeId"`
	TaxTypeID id.ID     `json:"taxTypeId"`
	Operation Operation `json:"operation"`
	Criteria  Criteria  `json:"criteria"`
	Recipe    Recipe    `json:"-"`
	IsActive  bool      `json:"isActive"`

	// Priority breaks ties between equally specific rules; lower wins.
	Priority int `json:"priority"`

	ValidFrom time.Time  `json:"validFrom"`
	ValidTo   *time.Time `json:"validTo,omitempty"`
}

// ValidAt reports whether at lies in [ValidFrom, ValidTo).
func (r *Rule) ValidAt(at time.Time) bool {
	if at.Before(r.ValidFrom) {
		return false
	}
	return r.ValidTo == nil || at.Before(*r.ValidTo)
}

// Validate implements entity.Validatable.
func (r *Rule) Validate(ctx context.Context) error {
	if id.IsNil(r.OrgID) {
		return apperror.NewValidation("org id is required").WithDetail("field", "orgId")
	}
	if id.IsNil(r.RegimeID) {
		return apperror.NewValidation("regime is required").WithDetail("field", "regimeId")
	}
	if id.IsNil(r.TaxTypeID) {
		return apperror.NewValidation("tax type is required").WithDetail("field", "taxTypeId")
	}
	if !r.Operation.Valid() {
		return apperror.NewValidation("operation must be venda, compra or prestacao_servico").
			WithDetail("field", "operation")
	}
	if r.Recipe == nil {
		return apperror.NewValidation("calc method is required").WithDetail("field", "calcMethod")
	}
	if err := r.Recipe.validate(); err != nil {
		return err
	}
	if r.ValidFrom.IsZero() {
		return apperror.NewValidation("valid_from is required").WithDetail("field", "validFrom")
	}
	if r.ValidTo != nil && !r.ValidTo.After(r.ValidFrom) {
		return apperror.NewValidation("valid_to must be after valid_from").WithDetail("field", "validTo")
	}
	if r.Priority < 0 {
		return apperror.NewValidation("priority must not be negative").WithDetail("field", "priority")
	}
	if v, ok := r.Criteria.OriginUF.Get(); ok && len(v) != 2 {
		return apperror.NewValidation("jurisdiction code must have two letters").WithDetail("field", "originUf")
	}
	if v, ok := r.Criteria.DestinationUF.Get(); ok && len(v) != 2 {
		return apperror.NewValidation("jurisdiction code must have two letters").WithDetail("field", "destinationUf")
	}
	return nil
}

// Snapshot is the flat, persisted shape of a rule.
// Storage rows, API payloads and audit values are all built from it.
type Snapshot struct {
	ID               id.ID      `json:"id"`
	OrgID            id.ID      `json:"orgId"`
	RegimeID         id.ID      `json:"regimeId"`
	TaxTypeID        id.ID      `json:"taxTypeId"`
	Operation        Operation  `json:"operation"`
	OriginUF         *string    `json:"originUf"`
	DestinationUF    *string    `json:"destinationUf"`
	ClassificationID *id.ID     `json:"classificationId"`
	IsActive         bool       `json:"isActive"`
	Priority         int        `json:"priority"`
	ValidFrom        time.Time  `json:"validFrom"`
	ValidTo          *time.Time `json:"validTo"`
	Version          int        `json:"version"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`

	Columns
}

// Snapshot flattens the rule.
func (r *Rule) Snapshot() Snapshot {
	return Snapshot{
		ID:               r.ID,
		OrgID:            r.OrgID,
		RegimeID:         r.RegimeID,
		TaxTypeID:        r.TaxTypeID,
		Operation:        r.Operation,
		OriginUF:         r.Criteria.OriginUF.Ptr(),
		DestinationUF:    r.Criteria.DestinationUF.Ptr(),
		ClassificationID: r.Criteria.ClassificationID.Ptr(),
		Columns:          ColumnsOf(r.Recipe),
		IsActive:         r.IsActive,
		Priority:         r.Priority,
		ValidFrom:        r.ValidFrom,
		ValidTo:          r.ValidTo,
		Version:          r.Version,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

// FromSnapshot rebuilds a rule, validating the recipe columns.
func FromSnapshot(s Snapshot) (*Rule, error) {
	recipe, err := s.Columns.Recipe()
	if err != nil {
		return nil, err
	}
	return &Rule{
		BaseEntity: entity.BaseEntity{ID: s.ID, Version: s.Version, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt},
		OrgID:      s.OrgID,
		RegimeID:   s.RegimeID,
		TaxTypeID:  s.TaxTypeID,
		Operation:  s.Operation,
		Criteria: Criteria{
			OriginUF:         types.FromPtr(s.OriginUF),
			DestinationUF:    types.FromPtr(s.DestinationUF),
			ClassificationID: types.FromPtr(s.ClassificationID),
		},
		Recipe:    recipe,
		IsActive:  s.IsActive,
		Priority:  s.Priority,
		ValidFrom: s.ValidFrom,
		ValidTo:   s.ValidTo,
	}, nil
}
