package setting

import (
	"context"

	"shopfiscal/internal/core/id"
)

// Repository persists fiscal settings. Settings are never deleted.
type Repository interface {
	Create(ctx context.Context, s *Setting) error
	// Update stores s if its stored version equals s.Version-1.
	Update(ctx context.Context, s *Setting) error
	GetByID(ctx context.Context, orgID, settingID id.ID) (*Setting, error)
	// ListByOrg returns every setting of orgID ordered by EffectiveFrom.
	ListByOrg(ctx context.Context, orgID id.ID) ([]*Setting, error)
	// LockOrg serializes setting writes of one organization until the transaction ends.
	LockOrg(ctx context.Context, orgID id.ID) error
}
