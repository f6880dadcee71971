package dto

import (
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain/setting"
)

// CreateSettingRequest is the request body for a company fiscal setting.
type CreateSettingRequest struct {
	OrgName          string                 `json:"orgName" binding:"required"`
	TaxID            types.Optional[string] `json:"taxId"`
	State            types.Optional[string] `json:"state"`
	MunicipalityCode types.Optional[string] `json:"municipalityCode"`
	RegimeID         id.ID                  `json:"regimeId"`
	EffectiveFrom    Date                   `json:"effectiveFrom"`
	EffectiveTo      *Date                  `json:"effectiveTo"`
}

// ToInput converts the request into a service input.
func (r CreateSettingRequest) ToInput() setting.Input {
	return setting.Input{
		OrgName:          r.OrgName,
		TaxID:            r.TaxID,
		State:            r.State,
		MunicipalityCode: r.MunicipalityCode,
		RegimeID:         r.RegimeID,
		EffectiveFrom:    r.EffectiveFrom.Time,
		EffectiveTo:      DatePtr(r.EffectiveTo),
	}
}

// UpdateSettingRequest is a partial update. Keys left out stay untouched; null clears.
type UpdateSettingRequest struct {
	Version          *int                `json:"version"`
	OrgName          *string             `json:"orgName"`
	TaxID            types.Patch[string] `json:"taxId"`
	State            types.Patch[string] `json:"state"`
	MunicipalityCode types.Patch[string] `json:"municipalityCode"`
	RegimeID         *id.ID              `json:"regimeId"`
	EffectiveFrom    *Date               `json:"effectiveFrom"`
	EffectiveTo      types.Patch[Date]   `json:"effectiveTo"`
}

// ToPatch converts the request into a service patch.
func (r UpdateSettingRequest) ToPatch() setting.PatchInput {
	return setting.PatchInput{
		Version:          r.Version,
		OrgName:          r.OrgName,
		TaxID:            r.TaxID,
		State:            r.State,
		MunicipalityCode: r.MunicipalityCode,
		RegimeID:         r.RegimeID,
		EffectiveFrom:    DatePtr(r.EffectiveFrom),
		EffectiveTo:      DatePatch(r.EffectiveTo),
	}
}
