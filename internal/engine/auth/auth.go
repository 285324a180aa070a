// Package auth carries the acting principal through a request context so
// the orchestrator can stamp run log entries with it.
package auth

import (
	"context"
	"strings"
)

// Anonymous is recorded when no principal was established.
const Anonymous = "anonymous"

// Principal is an authenticated caller.
type Principal struct {
	ActorID string
	Source  string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	p.ActorID = strings.TrimSpace(p.ActorID)
	return context.WithValue(ctx, principalKey{}, p)
}

// WithActor is WithPrincipal for callers that only know an id.
func WithActor(ctx context.Context, actorID, source string) context.Context {
	return WithPrincipal(ctx, Principal{ActorID: actorID, Source: source})
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.ActorID != ""
}

// ActorID returns the principal's id or Anonymous.
func ActorID(ctx context.Context) string {
	if p, ok := FromContext(ctx); ok {
		return p.ActorID
	}
	return Anonymous
}
