// Package context provides request-scoped values extraction.
package context

import (
	"context"
)

// Actor identifies who performs a fiscal mutation and from where.
// Every audit entry copies these fields.
type Actor struct {
	UserID    string
	Email     string
	IPAddress string
	UserAgent string
	Roles     []string
}

// SystemUserID is recorded when a mutation happens outside a request (CLI, migrations).
const SystemUserID = "system"

type actorContextKey struct{}

// WithActor adds Actor to context.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// GetActor returns Actor from context.
func GetActor(ctx context.Context) *Actor {
	if v, ok := ctx.Value(actorContextKey{}).(*Actor); ok {
		return v
	}
	return nil
}

// ActorOrSystem returns the request actor, or the system actor when none is set.
func ActorOrSystem(ctx context.Context) Actor {
	if a := GetActor(ctx); a != nil && a.UserID != "" {
		return *a
	}
	return Actor{UserID: SystemUserID}
}

// GetUserID returns user ID from context or empty string.
func GetUserID(ctx context.Context) string {
	if a := GetActor(ctx); a != nil {
		return a.UserID
	}
	return ""
}

// HasRole checks if the actor has a specific role.
func HasRole(ctx context.Context, role string) bool {
	a := GetActor(ctx)
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}
