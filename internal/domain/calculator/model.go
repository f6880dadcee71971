// Package calculator turns resolved tax rules into a tax calculation result.
package calculator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain/rule"
)

// Request is an ephemeral calculation request.
type Request struct {
	// RegimeID defaults to the regime of the setting effective on EffectiveDate.
	RegimeID         types.Optional[id.ID]
	Operation        rule.Operation
	ClassificationID types.Optional[id.ID]
	Amount           decimal.Decimal
	OriginUF         types.Optional[string]
	DestinationUF    types.Optional[string]
	Notes            string

	// EffectiveDate selects rule validity; defaults to now.
	EffectiveDate *time.Time
}

// Line is the tax owed for one tax type.
type Line struct {
	TaxTypeID   id.ID            `json:"taxTypeId"`
	TaxTypeCode string           `json:"taxType"`
	TaxTypeName string           `json:"taxTypeName"`
	RuleID      id.ID            `json:"ruleId"`
	Base        decimal.Decimal  `json:"base"`
	Rate        *decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal  `json:"amount"`
	CalcMethod  rule.CalcMethod  `json:"calcMethod"`
}

// Result aggregates the lines of one calculation.
type Result struct {
	RegimeID      id.ID           `json:"regimeId"`
	Operation     rule.Operation  `json:"operation"`
	EffectiveDate time.Time       `json:"effectiveDate"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	TotalTax      decimal.Decimal `json:"totalTax"`
	NetAmount     decimal.Decimal `json:"netAmount"`
	Taxes         []Line          `json:"taxes"`
	Notes         string          `json:"notes,omitempty"`
}

// Verify checks that a (possibly client-supplied) result is internally consistent:
// two-decimal line amounts, total_tax equal to their sum and net equal to total minus tax.
func (r *Result) Verify() error {
	if !r.Operation.Valid() {
		return fmt.Errorf("unknown operation %q", r.Operation)
	}
	if id.IsNil(r.RegimeID) {
		return fmt.Errorf("regime is required")
	}
	if !r.TotalAmount.IsPositive() {
		return fmt.Errorf("total amount must be positive")
	}
	sum := decimal.Zero
	seen := make(map[id.ID]struct{}, len(r.Taxes))
	for i, l := range r.Taxes {
		if id.IsNil(l.TaxTypeID) || id.IsNil(l.RuleID) {
			return fmt.Errorf("tax line %d: tax type and rule are required", i)
		}
		if _, dup := seen[l.TaxTypeID]; dup {
			return fmt.Errorf("tax line %d: duplicate tax type %s", i, l.TaxTypeID)
		}
		seen[l.TaxTypeID] = struct{}{}
		if l.Amount.IsNegative() {
			return fmt.Errorf("tax line %d: negative amount", i)
		}
		if !l.Amount.Equal(types.RoundMoney(l.Amount)) {
			return fmt.Errorf("tax line %d: amount must have at most two decimals", i)
		}
		sum = sum.Add(l.Amount)
	}
	if !sum.Equal(r.TotalTax) {
		return fmt.Errorf("total tax %s does not equal the sum of lines %s", r.TotalTax, sum)
	}
	if !r.TotalAmount.Sub(r.TotalTax).Equal(r.NetAmount) {
		return fmt.Errorf("net amount %s does not equal total minus tax", r.NetAmount)
	}
	return nil
}
