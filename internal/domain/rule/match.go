package rule

import (
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/types"
)

// Subject is the part of a calculation request that rule criteria are matched against.
type Subject struct {
	OriginUF         types.Optional[string]
	DestinationUF    types.Optional[string]
	ClassificationID types.Optional[id.ID]
}

// Match reports whether criteria accept subject, and how many fields matched exactly.
// An unset criterion accepts anything. A set criterion requires the subject to
// carry the same value.
func Match(c Criteria, s Subject) (ok bool, specificity int) {
	if !matchField(c.OriginUF, s.OriginUF, &specificity) {
		return false, 0
	}
	if !matchField(c.DestinationUF, s.DestinationUF, &specificity) {
		return false, 0
	}
	if !matchField(c.ClassificationID, s.ClassificationID, &specificity) {
		return false, 0
	}
	return true, specificity
}

func matchField[T comparable](want, got types.Optional[T], specificity *int) bool {
	w, set := want.Get()
	if !set {
		return true
	}
	g, present := got.Get()
	if !present || g != w {
		return false
	}
	*specificity++
	return true
}
