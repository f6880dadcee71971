// Package audit records and queries the append-only fiscal audit trail.
package audit

import (
	"encoding/json"
	"time"

	"shopfiscal/internal/core/id"
)

// Operation is the kind of change an entry describes.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Audited table names.
const (
	TableRegimes         = "fiscal_tax_regimes"
	TableTaxTypes        = "fiscal_tax_types"
	TableClassifications = "fiscal_classifications"
	TableObligationKinds = "fiscal_obligation_kinds"
	TableSettings        = "fiscal_company_settings"
	TableRules           = "fiscal_tax_rules"
	TableLedgers         = "fiscal_tax_ledgers"
	TableCalculations    = "fiscal_tax_calculations"
	TableObligations     = "fiscal_obligations"
)

// Entry is one immutable audit record.
type Entry struct {
	ID        id.ID           `db:"id" json:"id"`
	OrgID     *id.ID          `db:"org_id" json:"orgId,omitempty"`
	TableName string          `db:"table_name" json:"tableName"`
	RecordID  id.ID           `db:"record_id" json:"recordId"`
	Operation Operation       `db:"operation" json:"operation"`
	OldValues json.RawMessage `db:"old_values" json:"oldValues,omitempty"`
	NewValues json.RawMessage `db:"new_values" json:"newValues,omitempty"`
	UserID    string          `db:"user_id" json:"userId"`
	IPAddress string          `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent string          `db:"user_agent" json:"userAgent,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"timestamp"`
	Checksum  []byte          `db:"checksum" json:"-"`

	// Verified is computed on read.
	Verified bool `db:"-" json:"verified"`
}

// Filter narrows an audit query. Zero values mean "any".
type Filter struct {
	OrgID     *id.ID
	TableName string
	RecordID  *id.ID
	Operation Operation
	UserID    string
	From      *time.Time
	To        *time.Time

	Limit  int
	Offset int
}
