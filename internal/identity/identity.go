// Package identity carries the authenticated user through a request context.
package identity

import "context"

type ctxKey struct{}

// WithUser returns a context carrying user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// User returns the user stored in ctx, or "" when there is none.
func User(ctx context.Context) string {
	u, _ := ctx.Value(ctxKey{}).(string)
	return u
}
