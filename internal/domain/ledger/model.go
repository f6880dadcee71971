// Package ledger accumulates calculation postings into per-period tax ledgers
// and controls period close and reopen.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/domain/calculator"
	"shopfiscal/internal/domain/rule"
)

// Status of a ledger row.
type Status string

const (
	StatusOpen   Status = "aberto"
	StatusClosed Status = "fechado"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusOpen || s == StatusClosed
}

// Direction tells which side of the ledger a posting hits.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// DirectionOf maps an operation to its ledger side: sales and services are debits, purchases credits.
func DirectionOf(op rule.Operation) Direction {
	if op.IsDebit() {
		return Debit
	}
	return Credit
}

// Key identifies one ledger row.
type Key struct {
	OrgID     id.ID
	TaxTypeID id.ID
	RegimeID  id.ID
	Period    period.Period
}

// Ledger is the running total of one tax type under one regime for one period.
type Ledger struct {
	entity.BaseEntity

	OrgID        id.ID           `json:"orgId"`
	TaxTypeID    id.ID           `json:"taxTypeId"`
	RegimeID     id.ID           `json:"regimeId"`
	Period       period.Period   `json:"period"`
	TotalDebits  decimal.Decimal `json:"totalDebits"`
	TotalCredits decimal.Decimal `json:"totalCredits"`
	BalanceDue   decimal.Decimal `json:"balanceDue"`
	Status       Status          `json:"status"`
	ClosedAt     *time.Time      `json:"closedAt,omitempty"`
	ClosedBy     string          `json:"closedBy,omitempty"`
}

// NewLedger creates an empty open ledger for k.
func NewLedger(k Key) *Ledger {
	return &Ledger{
		BaseEntity:   entity.NewBaseEntity(),
		OrgID:        k.OrgID,
		TaxTypeID:    k.TaxTypeID,
		RegimeID:     k.RegimeID,
		Period:       k.Period,
		TotalDebits:  decimal.Zero,
		TotalCredits: decimal.Zero,
		BalanceDue:   decimal.Zero,
		Status:       StatusOpen,
	}
}

// Key returns the ledger's identity.
func (l *Ledger) Key() Key {
	return Key{OrgID: l.OrgID, TaxTypeID: l.TaxTypeID, RegimeID: l.RegimeID, Period: l.Period}
}

// IsClosed reports whether the ledger is frozen.
func (l *Ledger) IsClosed() bool {
	return l.Status == StatusClosed
}

// apply adds amount to one side and recomputes the balance.
func (l *Ledger) apply(dir Direction, amount decimal.Decimal) {
	if dir == Debit {
		l.TotalDebits = l.TotalDebits.Add(amount)
	} else {
		l.TotalCredits = l.TotalCredits.Add(amount)
	}
	l.BalanceDue = l.TotalDebits.Sub(l.TotalCredits)
}

func (l *Ledger) close(by string, at time.Time) {
	l.Status = StatusClosed
	l.ClosedAt = &at
	l.ClosedBy = by
}

func (l *Ledger) reopen() {
	l.Status = StatusOpen
	l.ClosedAt = nil
	l.ClosedBy = ""
}

// clone returns a copy safe to mutate.
func (l *Ledger) clone() *Ledger {
	c := *l
	if l.ClosedAt != nil {
		at := *l.ClosedAt
		c.ClosedAt = &at
	}
	return &c
}

// CalculationRecord is a persisted, posted calculation result.
type CalculationRecord struct {
	ID            id.ID             `json:"id"`
	OrgID         id.ID             `json:"orgId"`
	RegimeID      id.ID             `json:"regimeId"`
	Operation     rule.Operation    `json:"operation"`
	Period        period.Period     `json:"period"`
	EffectiveDate time.Time         `json:"effectiveDate"`
	TotalAmount   decimal.Decimal   `json:"totalAmount"`
	TotalTax      decimal.Decimal   `json:"totalTax"`
	NetAmount     decimal.Decimal   `json:"netAmount"`
	Taxes         []calculator.Line `json:"taxes"`
	Notes         string            `json:"notes,omitempty"`
	CreatedBy     string            `json:"createdBy"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// Posting is one tax line booked into one ledger.
type Posting struct {
	ID            id.ID            `json:"id"`
	OrgID         id.ID            `json:"orgId"`
	CalculationID id.ID            `json:"calculationId"`
	LedgerID      id.ID            `json:"ledgerId"`
	TaxTypeID     id.ID            `json:"taxTypeId"`
	RuleID        id.ID            `json:"ruleId"`
	Direction     Direction        `json:"direction"`
	Base          decimal.Decimal  `json:"base"`
	Rate          *decimal.Decimal `json:"rate,omitempty"`
	Amount        decimal.Decimal  `json:"amount"`
	CalcMethod    rule.CalcMethod  `json:"calcMethod"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// Posted is what a successful post returns and what its audit entry stores.
type Posted struct {
	Calculation *CalculationRecord `json:"calculation"`
	Postings    []Posting          `json:"postings"`
	Ledgers     []*Ledger          `json:"ledgers"`
}

// PeriodActionResult reports a period-wide close or reopen.
// Business refusals set Success=false and Error; nothing changes in that case.
type PeriodActionResult struct {
	Success bool      `json:"success"`
	Error   error     `json:"-"`
	Ledgers []*Ledger `json:"ledgers,omitempty"`
}

// TaxBreakdown is one tax type's share of a period summary.
type TaxBreakdown struct {
	Operations int             `json:"operations"`
	Total      decimal.Decimal `json:"total"`
}

// Summary aggregates the calculations posted to a period.
type Summary struct {
	Period          period.Period           `json:"period"`
	TotalOperations int                     `json:"totalOperations"`
	TotalAmount     decimal.Decimal         `json:"totalAmount"`
	TotalTaxes      decimal.Decimal         `json:"totalTaxes"`
	TaxBreakdown    map[string]TaxBreakdown `json:"taxBreakdown"`
}

// Summarize folds records into a Summary keyed by tax type code.
func Summarize(p period.Period, records []*CalculationRecord) Summary {
	s := Summary{
		Period:       p,
		TotalAmount:  decimal.Zero,
		TotalTaxes:   decimal.Zero,
		TaxBreakdown: make(map[string]TaxBreakdown),
	}
	for _, r := range records {
		s.TotalOperations++
		s.TotalAmount = s.TotalAmount.Add(r.TotalAmount)
		s.TotalTaxes = s.TotalTaxes.Add(r.TotalTax)
		for _, line := range r.Taxes {
			key := line.TaxTypeCode
			if key == "" {
				key = line.TaxTypeID.String()
			}
			b := s.TaxBreakdown[key]
			b.Operations++
			b.Total = b.Total.Add(line.Amount)
			s.TaxBreakdown[key] = b
		}
	}
	return s
}
