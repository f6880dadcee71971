package audit

import (
	"context"
)

// Repository persists audit entries. Append must join the caller's transaction.
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, filter Filter) ([]Entry, int64, error)
}

// Recorder is what mutating services depend on.
type Recorder interface {
	Record(ctx context.Context, change Change) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, change Change) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, change Change) error {
	return f(ctx, change)
}
