// Package obligation tracks accessory filings through their lifecycle.
package obligation

import (
	"context"
	"time"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/core/types"
)

// Status of an obligation.
type Status string

const (
	StatusDraft     Status = "rascunho"
	StatusGenerated Status = "gerado"
	StatusValidated Status = "validado"
	StatusSent      Status = "enviado"
	StatusError     Status = "erro"
)

// transitions lists the allowed forward moves. enviado is terminal.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusGenerated, StatusError},
	StatusGenerated: {StatusValidated, StatusError},
	StatusValidated: {StatusSent, StatusError},
	StatusError:     {StatusDraft},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusGenerated, StatusValidated, StatusSent, StatusError:
		return true
	}
	return false
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Obligation is one filing of one kind for one period of an organization.
type Obligation struct {
	entity.BaseEntity

	OrgID        id.ID                  `json:"orgId"`
	KindID       id.ID                  `json:"obligationKindId"`
	Period       period.Period          `json:"period"`
	Status       Status                 `json:"status"`
	Protocol     types.Optional[string] `json:"protocol"`
	ErrorMessage types.Optional[string] `json:"errorMessage"`
	SubmittedAt  *time.Time             `json:"submittedAt,omitempty"`
}

// New creates a draft obligation.
func New(orgID, kindID id.ID, p period.Period) *Obligation {
	return &Obligation{
		BaseEntity: entity.NewBaseEntity(),
		OrgID:      orgID,
		KindID:     kindID,
		Period:     p,
		Status:     StatusDraft,
	}
}

// Validate implements entity.Validatable.
func (o *Obligation) Validate(ctx context.Context) error {
	if id.IsNil(o.OrgID) {
		return apperror.NewValidation("org id is required").WithDetail("field", "orgId")
	}
	if id.IsNil(o.KindID) {
		return apperror.NewValidation("obligation kind is required").WithDetail("field", "obligationKindId")
	}
	if err := o.Period.Validate(); err != nil {
		return apperror.NewValidation(err.Error()).WithDetail("field", "period")
	}
	if !o.Status.Valid() {
		return apperror.NewValidation("unknown obligation status").WithDetail("field", "status")
	}
	if o.Status == StatusSent && !o.Protocol.IsSet() {
		return apperror.NewValidation("protocol is required once sent").WithDetail("field", "protocol")
	}
	return nil
}

// transition moves o to target after checking the state machine.
func (o *Obligation) transition(target Status, protocol, errMsg types.Optional[string], at time.Time) error {
	if !CanTransition(o.Status, target) {
		return apperror.NewInvalidTransition("Obligation", string(o.Status), string(target))
	}
	switch target {
	case StatusSent:
		p, ok := protocol.Get()
		if !ok || p == "" {
			return apperror.NewValidation("protocol is required to mark an obligation as sent").
				WithDetail("field", "protocol")
		}
		o.Protocol = protocol
		o.SubmittedAt = &at
	case StatusError:
		o.ErrorMessage = errMsg
	case StatusDraft:
		o.ErrorMessage = types.None[string]()
	}
	o.Status = target
	return nil
}
