package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"shopfiscal/internal/core/apperror"
	appctx "shopfiscal/internal/core/context"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/domain"
)

// Change describes one mutation to be recorded.
// Old and New are marshalled to JSON; nil means absent.
type Change struct {
	OrgID     *id.ID
	TableName string
	RecordID  id.ID
	Operation Operation
	Old       any
	New       any
}

// PageLimits bounds audit query pagination.
type PageLimits interface {
	PageSizes() (def, maxSize int)
}

// Service writes and reads the audit trail.
type Service struct {
	repo   Repository
	limits PageLimits
	now    func() time.Time
}

// NewService creates the audit service.
func NewService(repo Repository, limits PageLimits) *Service {
	return &Service{
		repo:   repo,
		limits: limits,
		now:    time.Now,
	}
}

// Record appends an entry for change using the actor in ctx.
// It must run inside the mutation's transaction: an error aborts the mutation.
func (s *Service) Record(ctx context.Context, change Change) error {
	if change.TableName == "" || id.IsNil(change.RecordID) {
		return fmt.Errorf("audit: table and record id are required")
	}
	if !change.Operation.Valid() {
		return fmt.Errorf("audit: invalid operation %q", change.Operation)
	}

	oldJSON, err := marshalValues(change.Old)
	if err != nil {
		return fmt.Errorf("audit: marshal old values: %w", err)
	}
	newJSON, err := marshalValues(change.New)
	if err != nil {
		return fmt.Errorf("audit: marshal new values: %w", err)
	}

	actor := appctx.ActorOrSystem(ctx)
	entry := &Entry{
		ID:        id.New(),
		OrgID:     change.OrgID,
		TableName: change.TableName,
		RecordID:  change.RecordID,
		Operation: change.Operation,
		OldValues: oldJSON,
		NewValues: newJSON,
		UserID:    actor.UserID,
		IPAddress: actor.IPAddress,
		UserAgent: actor.UserAgent,
		// Postgres keeps microseconds; the checksum must survive a round trip.
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	entry.Checksum = Checksum(entry)

	if err := s.repo.Append(ctx, entry); err != nil {
		return fmt.Errorf("audit: append entry: %w", err)
	}
	return nil
}

// Query returns a page of entries, newest first, each with its checksum verified.
func (s *Service) Query(ctx context.Context, filter Filter) (domain.ListResult[Entry], error) {
	if filter.Operation != "" && !filter.Operation.Valid() {
		return domain.ListResult[Entry]{}, apperror.NewValidation("unknown audit operation").
			WithDetail("operation", filter.Operation)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return domain.ListResult[Entry]{}, apperror.NewValidation("'to' must not precede 'from'")
	}

	def, maxSize := 50, 500
	if s.limits != nil {
		def, maxSize = s.limits.PageSizes()
	}
	filter.Limit, filter.Offset = domain.NormalizePage(filter.Limit, filter.Offset, def, maxSize)

	items, total, err := s.repo.Query(ctx, filter)
	if err != nil {
		return domain.ListResult[Entry]{}, fmt.Errorf("query audit log: %w", err)
	}
	for i := range items {
		items[i].Verified = Verify(&items[i])
	}

	return domain.ListResult[Entry]{
		Items:      items,
		TotalCount: total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}, nil
}

func marshalValues(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
