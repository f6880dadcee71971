package context

import (
	"context"
)

// TraceContext identifies one request in logs and error bodies.
type TraceContext struct {
	TraceID   string
	RequestID string
	// OrgID is set once the request is scoped to an organization.
	OrgID string
}

type traceContextKey struct{}

// WithTrace adds TraceContext to context.
func WithTrace(ctx context.Context, trace *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}

// GetTrace returns TraceContext from context.
func GetTrace(ctx context.Context) *TraceContext {
	if v, ok := ctx.Value(traceContextKey{}).(*TraceContext); ok {
		return v
	}
	return nil
}

// WithOrg returns a context whose trace carries orgID. The parent trace is copied, not mutated.
func WithOrg(ctx context.Context, orgID string) context.Context {
	scoped := TraceContext{OrgID: orgID}
	if t := GetTrace(ctx); t != nil {
		scoped = *t
		scoped.OrgID = orgID
	}
	return WithTrace(ctx, &scoped)
}
