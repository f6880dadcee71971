package obligation

import (
	"context"

	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/domain"
)

// ListFilter narrows an obligation listing. Nil fields mean "any".
type ListFilter struct {
	Period *period.Period
	KindID *id.ID
	Status Status

	Limit  int
	Offset int
}

// Repository persists obligations.
type Repository interface {
	// Insert stores o unless the org already has one for the same kind and period,
	// in which case the existing one is returned with created=false.
	Insert(ctx context.Context, o *Obligation) (stored *Obligation, created bool, err error)
	GetByID(ctx context.Context, orgID, obligationID id.ID) (*Obligation, error)
	// GetForUpdate locks the row until the transaction ends.
	GetForUpdate(ctx context.Context, orgID, obligationID id.ID) (*Obligation, error)
	// Update stores o if its stored version equals o.Version-1.
	Update(ctx context.Context, o *Obligation) error
	List(ctx context.Context, orgID id.ID, filter ListFilter) (domain.ListResult[*Obligation], error)
}
