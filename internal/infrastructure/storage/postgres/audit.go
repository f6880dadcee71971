package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	"shopfiscal/internal/core/id"
	"shopfiscal/internal/domain/audit"
)

const auditTable = "fiscal_audit_log"

var _ audit.Repository = (*AuditRepo)(nil)

// CompressThresholds supplies the payload size above which values are compressed.
type CompressThresholds interface {
	CompressThreshold() int
}

// auditRow is the stored form of an audit entry. A payload larger than the
// threshold goes to the *_zstd column and the plain json column stays NULL.
type auditRow struct {
	ID            id.ID           `db:"id"`
	OrgID         *id.ID          `db:"org_id"`
	TableName     string          `db:"table_name"`
	RecordID      id.ID           `db:"record_id"`
	Operation     string          `db:"operation"`
	OldValues     json.RawMessage `db:"old_values"`
	NewValues     json.RawMessage `db:"new_values"`
	OldValuesZstd []byte          `db:"old_values_zstd"`
	NewValuesZstd []byte          `db:"new_values_zstd"`
	UserID        string          `db:"user_id"`
	IPAddress     string          `db:"ip_address"`
	UserAgent     string          `db:"user_agent"`
	CreatedAt     time.Time       `db:"created_at"`
	Checksum      []byte          `db:"checksum"`
}

var auditColumns = []string{
	"id", "org_id", "table_name", "record_id", "operation",
	"old_values", "new_values", "old_values_zstd", "new_values_zstd",
	"user_id", "ip_address", "user_agent", "created_at", "checksum",
}

// AuditRepo stores the audit trail in an append-only table.
type AuditRepo struct {
	txManager  *TxManager
	thresholds CompressThresholds
	encoder    *zstd.Encoder
	decoder    *zstd.Decoder
	builder    squirrel.StatementBuilderType
}

// NewAuditRepo creates the audit repository.
func NewAuditRepo(txManager *TxManager, thresholds CompressThresholds) (*AuditRepo, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &AuditRepo{
		txManager:  txManager,
		thresholds: thresholds,
		encoder:    encoder,
		decoder:    decoder,
		builder:    squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

func (r *AuditRepo) threshold() int {
	if r.thresholds == nil {
		return 10 * 1024
	}
	return r.thresholds.CompressThreshold()
}

// pack splits a payload into its plain or compressed column.
func (r *AuditRepo) pack(v json.RawMessage) (plain json.RawMessage, compressed []byte) {
	if len(v) > r.threshold() {
		return nil, r.encoder.EncodeAll(v, nil)
	}
	return v, nil
}

func (r *AuditRepo) unpack(plain json.RawMessage, compressed []byte) (json.RawMessage, error) {
	if len(compressed) == 0 {
		return plain, nil
	}
	out, err := r.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress audit values: %w", err)
	}
	return out, nil
}

// Append implements audit.Repository.
func (r *AuditRepo) Append(ctx context.Context, e *audit.Entry) error {
	oldPlain, oldZstd := r.pack(e.OldValues)
	newPlain, newZstd := r.pack(e.NewValues)

	sql, args, err := r.builder.Insert(auditTable).
		Columns(auditColumns...).
		Values(
			e.ID, e.OrgID, e.TableName, e.RecordID, string(e.Operation),
			nullJSON(oldPlain), nullJSON(newPlain), oldZstd, newZstd,
			e.UserID, e.IPAddress, e.UserAgent, e.CreatedAt, e.Checksum,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// filtered applies f to a select over the audit table.
func (r *AuditRepo) filtered(q squirrel.SelectBuilder, f audit.Filter) squirrel.SelectBuilder {
	if f.OrgID != nil {
		q = q.Where(squirrel.Eq{"org_id": *f.OrgID})
	}
	if f.TableName != "" {
		q = q.Where(squirrel.Eq{"table_name": f.TableName})
	}
	if f.RecordID != nil {
		q = q.Where(squirrel.Eq{"record_id": *f.RecordID})
	}
	if f.Operation != "" {
		q = q.Where(squirrel.Eq{"operation": string(f.Operation)})
	}
	if f.UserID != "" {
		q = q.Where(squirrel.Eq{"user_id": f.UserID})
	}
	if f.From != nil {
		q = q.Where(squirrel.GtOrEq{"created_at": *f.From})
	}
	if f.To != nil {
		q = q.Where(squirrel.LtOrEq{"created_at": *f.To})
	}
	return q
}

func (r *AuditRepo) queryBuilders(f audit.Filter) (items, count squirrel.SelectBuilder) {
	items = r.filtered(r.builder.Select(auditColumns...).From(auditTable), f).
		OrderBy("created_at DESC", "id DESC")
	if f.Limit > 0 {
		items = items.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		items = items.Offset(uint64(f.Offset))
	}
	count = r.filtered(r.builder.Select("COUNT(*)").From(auditTable), f)
	return items, count
}

// Query implements audit.Repository.
func (r *AuditRepo) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, int64, error) {
	itemsQ, countQ := r.queryBuilders(f)
	querier := r.txManager.GetQuerier(ctx)

	sql, args, err := countQ.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count: %w", err)
	}
	var total int64
	if err := querier.QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	sql, args, err = itemsQ.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build query: %w", err)
	}
	var rows []auditRow
	if err := pgxscan.Select(ctx, querier, &rows, sql, args...); err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}

	out := make([]audit.Entry, 0, len(rows))
	for _, row := range rows {
		oldValues, err := r.unpack(row.OldValues, row.OldValuesZstd)
		if err != nil {
			return nil, 0, err
		}
		newValues, err := r.unpack(row.NewValues, row.NewValuesZstd)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, audit.Entry{
			ID:        row.ID,
			OrgID:     row.OrgID,
			TableName: row.TableName,
			RecordID:  row.RecordID,
			Operation: audit.Operation(row.Operation),
			OldValues: oldValues,
			NewValues: newValues,
			UserID:    row.UserID,
			IPAddress: row.IPAddress,
			UserAgent: row.UserAgent,
			CreatedAt: row.CreatedAt.UTC(),
			Checksum:  row.Checksum,
		})
	}
	return out, total, nil
}

// nullJSON keeps an absent payload NULL instead of an empty json value.
func nullJSON(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}
