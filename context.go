package oauthlink

import "context"

type userContextKey struct{}

// WithUser returns a context carrying the loaded user
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

// UserFromContext returns the user loaded for this request, or nil
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userContextKey{}).(*User)
	return u
}
