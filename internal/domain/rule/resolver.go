package rule

import (
	"sort"
	"time"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/id"
)

// Query selects candidate rules for one calculation.
type Query struct {
	RegimeID  id.ID
	Operation Operation
	Subject   Subject
	At        time.Time
}

// Resolved is the rule picked for one tax type.
type Resolved struct {
	Rule        *Rule
	Specificity int
}

type ranked struct {
	rule        *Rule
	specificity int
}

// outranks orders by specificity, then lower priority, then later valid_from.
func (a ranked) outranks(b ranked) bool {
	if a.specificity != b.specificity {
		return a.specificity > b.specificity
	}
	if a.rule.Priority != b.rule.Priority {
		return a.rule.Priority < b.rule.Priority
	}
	return a.rule.ValidFrom.After(b.rule.ValidFrom)
}

func (a ranked) ties(b ranked) bool {
	return !a.outranks(b) && !b.outranks(a)
}

// Resolve picks at most one rule per tax type from candidates.
// Candidates failing the active/regime/operation/validity filter are ignored,
// so callers may pass a superset. Results are ordered by tax type id.
// Two top-ranked rules that tie on every criterion yield a RULE_CONFLICT error.
func Resolve(candidates []*Rule, q Query) ([]Resolved, error) {
	groups := make(map[id.ID][]ranked)
	for _, r := range candidates {
		if !r.IsActive || r.RegimeID != q.RegimeID || r.Operation != q.Operation || !r.ValidAt(q.At) {
			continue
		}
		ok, score := Match(r.Criteria, q.Subject)
		if !ok {
			continue
		}
		groups[r.TaxTypeID] = append(groups[r.TaxTypeID], ranked{rule: r, specificity: score})
	}

	taxTypes := make([]id.ID, 0, len(groups))
	for tt := range groups {
		taxTypes = append(taxTypes, tt)
	}
	sort.Slice(taxTypes, func(i, j int) bool { return taxTypes[i].String() < taxTypes[j].String() })

	out := make([]Resolved, 0, len(taxTypes))
	for _, tt := range taxTypes {
		group := groups[tt]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].outranks(group[j]) {
				return true
			}
			if group[j].outranks(group[i]) {
				return false
			}
			return group[i].rule.ID.String() < group[j].rule.ID.String()
		})

		top := group[0]
		if len(group) > 1 && top.ties(group[1]) {
			var tied []string
			for _, c := range group {
				if top.ties(c) {
					tied = append(tied, c.rule.ID.String())
				}
			}
			return nil, apperror.NewRuleConflict(tt.String(), tied)
		}
		out = append(out, Resolved{Rule: top.rule, Specificity: top.specificity})
	}
	return out, nil
}
