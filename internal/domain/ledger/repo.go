package ledger

import (
	"context"

	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/domain"
)

// ListFilter narrows a ledger listing. Nil fields mean "any".
type ListFilter struct {
	Period    *period.Period
	TaxTypeID *id.ID
	RegimeID  *id.ID
	Status    Status

	Limit  int
	Offset int
}

// Repository persists ledgers, calculation records and postings.
// Methods ending in ForUpdate lock the returned rows until the transaction ends.
type Repository interface {
	// GetForUpdate returns NOT_FOUND when the row does not exist.
	GetForUpdate(ctx context.Context, k Key) (*Ledger, error)
	// Insert creates l. If a concurrent transaction created the same key first,
	// the existing row is returned locked instead.
	Insert(ctx context.Context, l *Ledger) (*Ledger, error)
	// Update stores l if its stored version equals l.Version-1.
	Update(ctx context.Context, l *Ledger) error
	// ListPeriodForUpdate returns every ledger of the org's period, ordered by tax type and regime.
	ListPeriodForUpdate(ctx context.Context, orgID id.ID, p period.Period) ([]*Ledger, error)
	List(ctx context.Context, orgID id.ID, filter ListFilter) (domain.ListResult[*Ledger], error)
	// StatusCounts counts the org's ledgers of p per status.
	StatusCounts(ctx context.Context, orgID id.ID, p period.Period) (map[Status]int, error)

	InsertCalculation(ctx context.Context, rec *CalculationRecord, postings []Posting) error
	// CalculationsInPeriod returns the org's calculation records posted to p.
	CalculationsInPeriod(ctx context.Context, orgID id.ID, p period.Period) ([]*CalculationRecord, error)
}
