package dto

import (
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain/obligation"
)

// CreateObligationRequest asks for the obligation of a kind and period.
type CreateObligationRequest struct {
	ObligationKindID id.ID `json:"obligationKindId"`
	PeriodRequest
}

// TransitionRequest moves an obligation to another status.
type TransitionRequest struct {
	Status       obligation.Status      `json:"status" binding:"required"`
	Protocol     types.Optional[string] `json:"protocol"`
	ErrorMessage types.Optional[string] `json:"errorMessage"`
	Version      *int                   `json:"version"`
}

// ToInput converts DTO to a service input.
func (r TransitionRequest) ToInput() obligation.AdvanceInput {
	return obligation.AdvanceInput{
		Target:       r.Status,
		Protocol:     r.Protocol,
		ErrorMessage: r.ErrorMessage,
		Version:      r.Version,
	}
}
