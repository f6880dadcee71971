// Package setting stores each organization's time-bounded fiscal settings.
package setting

import (
	"context"
	"strings"
	"time"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/types"
)

// Setting records which regime applies to an organization over [EffectiveFrom, EffectiveTo).
type Setting struct {
	entity.BaseEntity

	OrgID            id.ID                  `json:"orgId"`
	OrgName          string                 `json:"orgName"`
	TaxID            types.Optional[string] `json:"taxId"`
	State            types.Optional[string] `json:"state"`
	MunicipalityCode types.Optional[string] `json:"municipalityCode"`
	RegimeID         id.ID                  `json:"regimeId"`
	EffectiveFrom    time.Time              `json:"effectiveFrom"`
	EffectiveTo      *time.Time             `json:"effectiveTo,omitempty"`
}

// Window returns the setting's validity interval.
func (s *Setting) Window() Window {
	return Window{From: s.EffectiveFrom, To: s.EffectiveTo}
}

// Validate implements entity.Validatable.
func (s *Setting) Validate(ctx context.Context) error {
	if id.IsNil(s.OrgID) {
		return apperror.NewValidation("org id is required").WithDetail("field", "orgId")
	}
	if strings.TrimSpace(s.OrgName) == "" {
		return apperror.NewValidation("org name is required").WithDetail("field", "orgName")
	}
	if id.IsNil(s.RegimeID) {
		return apperror.NewValidation("regime is required").WithDetail("field", "regimeId")
	}
	if s.EffectiveFrom.IsZero() {
		return apperror.NewValidation("effective_from is required").WithDetail("field", "effectiveFrom")
	}
	if s.EffectiveTo != nil && !s.EffectiveTo.After(s.EffectiveFrom) {
		return apperror.NewValidation("effective_to must be after effective_from").
			WithDetail("field", "effectiveTo")
	}
	if st, ok := s.State.Get(); ok && len(st) != 2 {
		return apperror.NewValidation("state must be a two-letter code").WithDetail("field", "state")
	}
	return nil
}

// Input is the payload for creating a setting.
type Input struct {
	OrgName          string
	TaxID            types.Optional[string]
	State            types.Optional[string]
	MunicipalityCode types.Optional[string]
	RegimeID         id.ID
	EffectiveFrom    time.Time
	EffectiveTo      *time.Time
}

// PatchInput is a partial update. Absent fields stay untouched.
type PatchInput struct {
	Version          *int
	OrgName          *string
	TaxID            types.Patch[string]
	State            types.Patch[string]
	MunicipalityCode types.Patch[string]
	RegimeID         *id.ID
	EffectiveFrom    *time.Time
	EffectiveTo      types.Patch[time.Time]
}

func (p PatchInput) apply(s *Setting) {
	if p.OrgName != nil {
		s.OrgName = strings.TrimSpace(*p.OrgName)
	}
	s.TaxID = p.TaxID.Apply(s.TaxID)
	s.State = normalizeState(p.State.Apply(s.State))
	s.MunicipalityCode = p.MunicipalityCode.Apply(s.MunicipalityCode)
	if p.RegimeID != nil {
		s.RegimeID = *p.RegimeID
	}
	if p.EffectiveFrom != nil {
		s.EffectiveFrom = truncateDay(*p.EffectiveFrom)
	}
	if p.EffectiveTo.Present {
		s.EffectiveTo = nil
		if to, ok := p.EffectiveTo.Value.Get(); ok {
			to = truncateDay(to)
			s.EffectiveTo = &to
		}
	}
}

func normalizeState(o types.Optional[string]) types.Optional[string] {
	if v, ok := o.Get(); ok {
		return types.Some(strings.ToUpper(strings.TrimSpace(v)))
	}
	return o
}

// truncateDay keeps the calendar date in UTC.
func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
