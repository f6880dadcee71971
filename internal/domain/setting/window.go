package setting

import "time"

// Window is a half-open validity interval [From, To); a nil To is open-ended.
type Window struct {
	From time.Time
	To   *time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.From) {
		return false
	}
	return w.To == nil || t.Before(*w.To)
}

// Overlaps reports whether two windows share at least one instant.
func (w Window) Overlaps(other Window) bool {
	// a.From < b.To && b.From < a.To, with nil To meaning +inf
	if w.To != nil && !other.From.Before(*w.To) {
		return false
	}
	if other.To != nil && !w.From.Before(*other.To) {
		return false
	}
	return true
}

// FindOverlap returns the first setting whose window overlaps w. Settings for which skip returns true are ignored.
func FindOverlap(existing []*Setting, w Window, skip func(*Setting) bool) *Setting {
	for _, s := range existing {
		if skip != nil && skip(s) {
			continue
		}
		if s.Window().Overlaps(w) {
			return s
		}
	}
	return nil
}
