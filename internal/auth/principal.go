package auth

import (
	"context"

	"github.com/google/uuid"
)

// Method records how a principal authenticated.
type Method string

const (
	MethodBearer  Method = "bearer"
	MethodSession Method = "session"
)

// Principal is the authenticated actor of a request.
type Principal struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	Method    Method
}

type contextKey int

const (
	principalContextKey contextKey = iota
)

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext extracts the authenticated principal from the request context.
// Returns nil if no principal is present (unauthenticated request).
func PrincipalFromContext(ctx context.Context) *Principal {
	principal, _ := ctx.Value(principalContextKey).(*Principal)
	return principal
}

// ActorFromContext returns the authenticated user id, or nil.
func ActorFromContext(ctx context.Context) *uuid.UUID {
	p := PrincipalFromContext(ctx)
	if p == nil {
		return nil
	}
	id := p.UserID
	return &id
}
