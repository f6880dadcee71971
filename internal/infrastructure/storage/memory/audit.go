package memory

import (
	"context"
	"slices"
	"sort"

	"shopfiscal/internal/domain/audit"
)

// AuditRepo implements audit.Repository. Entries are never changed once appended.
type AuditRepo struct{ store *Store }

var _ audit.Repository = (*AuditRepo)(nil)

// Audit returns the audit log repository.
func (s *Store) Audit() *AuditRepo { return &AuditRepo{store: s} }

func (r *AuditRepo) Append(ctx context.Context, e *audit.Entry) error {
	return r.store.do(ctx, func(st *state) error {
		c := *e
		c.OldValues = slices.Clone(e.OldValues)
		c.NewValues = slices.Clone(e.NewValues)
		c.Checksum = slices.Clone(e.Checksum)
		st.audit = append(st.audit, c)
		return nil
	})
}

func (r *AuditRepo) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, int64, error) {
	var items []audit.Entry
	err := r.store.do(ctx, func(st *state) error {
		for _, e := range st.audit {
			switch {
			case f.OrgID != nil && (e.OrgID == nil || *e.OrgID != *f.OrgID):
			case f.TableName != "" && e.TableName != f.TableName:
			case f.RecordID != nil && e.RecordID != *f.RecordID:
			case f.Operation != "" && e.Operation != f.Operation:
			case f.UserID != "" && e.UserID != f.UserID:
			case f.From != nil && e.CreatedAt.Before(*f.From):
			case f.To != nil && !e.CreatedAt.Before(*f.To):
			default:
				items = append(items, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	// Appends are chronological; newest first.
	slices.Reverse(items)
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return page(items, f.Limit, f.Offset), int64(len(items)), nil
}
