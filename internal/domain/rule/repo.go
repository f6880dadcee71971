package rule

import (
	"context"
	"time"

	"shopfiscal/internal/core/id"
	"shopfiscal/internal/domain"
)

// ListFilter narrows a rule listing. Nil fields mean "any".
type ListFilter struct {
	RegimeID  *id.ID
	TaxTypeID *id.ID
	Operation Operation
	IsActive  *bool
	ValidAt   *time.Time

	Limit  int
	Offset int
}

// Repository persists rules of all organizations.
type Repository interface {
	Create(ctx context.Context, r *Rule) error
	// Update stores r if its stored version equals r.Version-1.
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, orgID, ruleID id.ID) error
	GetByID(ctx context.Context, orgID, ruleID id.ID) (*Rule, error)
	List(ctx context.Context, orgID id.ID, filter ListFilter) (domain.ListResult[*Rule], error)

	// Candidates returns the org's active rules for q's regime and operation valid at q.At,
	// read from one consistent snapshot.
	Candidates(ctx context.Context, orgID id.ID, q Query) ([]*Rule, error)

	// IsReferenced reports whether any ledger posting was produced by the rule.
	IsReferenced(ctx context.Context, ruleID id.ID) (bool, error)
}
