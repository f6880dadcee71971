package dto

import (
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/domain/ledger"
)

// LedgerActionRequest addresses one ledger row.
type LedgerActionRequest struct {
	TaxTypeID id.ID `json:"taxTypeId"`
	RegimeID  id.ID `json:"regimeId"`
	PeriodRequest
}

// PeriodActionResponse reports a period-wide close or reopen.
// A business refusal still answers 200 with success=false.
type PeriodActionResponse struct {
	Success bool             `json:"success"`
	Error   *ErrorBody       `json:"error,omitempty"`
	Ledgers []*ledger.Ledger `json:"ledgers,omitempty"`
}

// FromPeriodAction converts a service result.
func FromPeriodAction(r *ledger.PeriodActionResult) PeriodActionResponse {
	return PeriodActionResponse{
		Success: r.Success,
		Error:   FromError(r.Error),
		Ledgers: r.Ledgers,
	}
}
