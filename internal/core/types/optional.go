package types

import (
	"bytes"
	"encoding/json"
)

// Optional holds a value that may be deliberately absent.
// On a tax rule an absent match field is a wildcard.
type Optional[T comparable] struct {
	value T
	set   bool
}

// Some wraps v.
func Some[T comparable](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// None returns an absent value.
func None[T comparable]() Optional[T] {
	return Optional[T]{}
}

// FromPtr converts a nullable pointer.
func FromPtr[T comparable](p *T) Optional[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}

// IsSet reports whether a value is present.
func (o Optional[T]) IsSet() bool { return o.set }

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) { return o.value, o.set }

// ValueOr returns the value or def when absent.
func (o Optional[T]) ValueOr(def T) T {
	if o.set {
		return o.value
	}
	return def
}

// Ptr returns a pointer to a copy of the value, nil when absent.
func (o Optional[T]) Ptr() *T {
	if !o.set {
		return nil
	}
	v := o.value
	return &v
}

// Equal reports whether both are absent or both hold equal values.
func (o Optional[T]) Equal(other Optional[T]) bool {
	if o.set != other.set {
		return false
	}
	return !o.set || o.value == other.value
}

// MarshalJSON encodes an absent value as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON decodes null as absent.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = None[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// Patch is a tri-state field of a partial update: untouched, cleared, or set.
type Patch[T comparable] struct {
	Present bool
	Value   Optional[T]
}

// Set builds a patch that assigns v.
func Set[T comparable](v T) Patch[T] {
	return Patch[T]{Present: true, Value: Some(v)}
}

// Clear builds a patch that removes the value.
func Clear[T comparable]() Patch[T] {
	return Patch[T]{Present: true}
}

// Apply returns the patched value of cur.
func (p Patch[T]) Apply(cur Optional[T]) Optional[T] {
	if !p.Present {
		return cur
	}
	return p.Value
}

// UnmarshalJSON marks the field present; null clears it.
// A key missing from the JSON object leaves Present false.
func (p *Patch[T]) UnmarshalJSON(data []byte) error {
	p.Present = true
	return p.Value.UnmarshalJSON(data)
}
