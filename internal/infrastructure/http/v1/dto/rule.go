package dto

import (
	"github.com/shopspring/decimal"

	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain/rule"
)

// CreateRuleRequest is the request body for a tax rule.
// Unset originUf, destinationUf and classificationId match anything.
type CreateRuleRequest struct {
	RegimeID         id.ID                  `json:"regimeId"`
	TaxTypeID        id.ID                  `json:"taxTypeId"`
	Operation        rule.Operation         `json:"operation" binding:"required"`
	OriginUF         types.Optional[string] `json:"originUf"`
	DestinationUF    types.Optional[string] `json:"destinationUf"`
	ClassificationID types.Optional[id.ID]  `json:"classificationId"`
	CalcMethod       rule.CalcMethod        `json:"calcMethod" binding:"required"`
	Rate             *decimal.Decimal       `json:"rate"`
	BaseReduction    *decimal.Decimal       `json:"baseReduction"`
	FixedValue       *decimal.Decimal       `json:"fixedValue"`
	Formula          *string                `json:"formula"`
	IsActive         *bool                  `json:"isActive"`
	Priority         int                    `json:"priority"`
	ValidFrom        Date                   `json:"validFrom"`
	ValidTo          *Date                  `json:"validTo"`
}

// ToInput converts the request into a service input.
func (r CreateRuleRequest) ToInput() rule.CreateInput {
	return rule.CreateInput{
		RegimeID:  r.RegimeID,
		TaxTypeID: r.TaxTypeID,
		Operation: r.Operation,
		Criteria: rule.Criteria{
			OriginUF:         r.OriginUF,
			DestinationUF:    r.DestinationUF,
			ClassificationID: r.ClassificationID,
		},
		Columns: rule.Columns{
			CalcMethod:    r.CalcMethod,
			Rate:          r.Rate,
			BaseReduction: r.BaseReduction,
			FixedValue:    r.FixedValue,
			Formula:       r.Formula,
		},
		IsActive:  r.IsActive,
		Priority:  r.Priority,
		ValidFrom: r.ValidFrom.Time,
		ValidTo:   DatePtr(r.ValidTo),
	}
}

// UpdateRuleRequest is a partial update. Keys left out stay untouched; null clears.
type UpdateRuleRequest struct {
	Version          *int                         `json:"version"`
	RegimeID         *id.ID                       `json:"regimeId"`
	TaxTypeID        *id.ID                       `json:"taxTypeId"`
	Operation        *rule.Operation              `json:"operation"`
	OriginUF         types.Patch[string]          `json:"originUf"`
	DestinationUF    types.Patch[string]          `json:"destinationUf"`
	ClassificationID types.Patch[id.ID]           `json:"classificationId"`
	CalcMethod       *rule.CalcMethod             `json:"calcMethod"`
	Rate             types.Patch[decimal.Decimal] `json:"rate"`
	BaseReduction    types.Patch[decimal.Decimal] `json:"baseReduction"`
	FixedValue       types.Patch[decimal.Decimal] `json:"fixedValue"`
	Formula          types.Patch[string]          `json:"formula"`
	IsActive         *bool                        `json:"isActive"`
	Priority         *int                         `json:"priority"`
	ValidFrom        *Date                        `json:"validFrom"`
	ValidTo          types.Patch[Date]            `json:"validTo"`
}

// ToPatch converts the request into a service patch.
func (r UpdateRuleRequest) ToPatch() rule.PatchInput {
	return rule.PatchInput{
		Version:          r.Version,
		RegimeID:         r.RegimeID,
		TaxTypeID:        r.TaxTypeID,
		Operation:        r.Operation,
		OriginUF:         r.OriginUF,
		DestinationUF:    r.DestinationUF,
		ClassificationID: r.ClassificationID,
		CalcMethod:       r.CalcMethod,
		Rate:             r.Rate,
		BaseReduction:    r.BaseReduction,
		FixedValue:       r.FixedValue,
		Formula:          r.Formula,
		IsActive:         r.IsActive,
		Priority:         r.Priority,
		ValidFrom:        DatePtr(r.ValidFrom),
		ValidTo:          DatePatch(r.ValidTo),
	}
}

// RulesResponse lists rules in their flat form.
type RulesResponse struct {
	Items      []rule.Snapshot `json:"items"`
	TotalCount int64           `json:"totalCount"`
	Limit      int             `json:"limit"`
	Offset     int             `json:"offset"`
}

// FromRules flattens rules for the response.
func FromRules(items []*rule.Rule, total int64, limit, offset int) RulesResponse {
	out := make([]rule.Snapshot, len(items))
	for i, r := range items {
		out[i] = r.Snapshot()
	}
	return RulesResponse{Items: out, TotalCount: total, Limit: limit, Offset: offset}
}
