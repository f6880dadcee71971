package dto

import (
	"github.com/shopspring/decimal"

	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain/calculator"
	"shopfiscal/internal/domain/rule"
)

// CalculateRequest is the request body of a tax calculation.
// Without regimeId the regime of the setting effective on effectiveDate applies.
type CalculateRequest struct {
	RegimeID         types.Optional[id.ID]  `json:"regimeId"`
	Operation        rule.Operation         `json:"operation" binding:"required"`
	ClassificationID types.Optional[id.ID]  `json:"classificationId"`
	Amount           decimal.Decimal        `json:"amount"`
	OriginUF         types.Optional[string] `json:"originUf"`
	DestinationUF    types.Optional[string] `json:"destinationUf"`
	Notes            string                 `json:"notes"`
	EffectiveDate    *Date                  `json:"effectiveDate"`
}

// ToRequest converts DTO to a calculator request.
func (r CalculateRequest) ToRequest() calculator.Request {
	return calculator.Request{
		RegimeID:         r.RegimeID,
		Operation:        r.Operation,
		ClassificationID: r.ClassificationID,
		Amount:           r.Amount,
		OriginUF:         r.OriginUF,
		DestinationUF:    r.DestinationUF,
		Notes:            r.Notes,
		EffectiveDate:    DatePtr(r.EffectiveDate),
	}
}

// PostCalculationRequest books a calculation result into a period.
type PostCalculationRequest struct {
	Result *calculator.Result `json:"result" binding:"required"`
	Period PeriodRequest      `json:"period"`
}
