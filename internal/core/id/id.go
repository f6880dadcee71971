// Package id provides UUIDv7 generation for all fiscal entities.
// UUIDv7 is time-ordered, allowing natural sorting by creation time.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is a type alias for UUID, used across all entities.
type ID = uuid.UUID

// periodNamespace scopes deterministic period keys.
var periodNamespace = uuid.MustParse("6f1d3c2a-8b47-4e0f-9a51-2d7c4b9e8a10")

// New generates a new UUIDv7 (time-ordered UUID).
func New() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to V4 if V7 fails (should never happen)
		return uuid.New()
	}
	return id
}

// ForPeriod derives a stable identifier for an org's accounting period.
// Period-wide actions (close, reopen) are audited under this id.
func ForPeriod(orgID ID, year, month int) ID {
	return uuid.NewSHA1(periodNamespace, []byte(fmt.Sprintf("%s:%04d-%02d", orgID, year, month)))
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// MustParse converts string to ID, panics on error.
// Use only for constants and tests.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// IsNil checks if ID is zero-value.
func IsNil(id ID) bool {
	return id == uuid.Nil
}
