package session

import (
	"context"
	"net/http"

	"passgate/cmd/identity"
)

type ctxKey struct{}

// WithCurrent returns ctx carrying cur.
func WithCurrent(ctx context.Context, cur Current) context.Context {
	return context.WithValue(ctx, ctxKey{}, cur)
}

// FromContext returns the session resolved by Middleware.
func FromContext(ctx context.Context) (Current, bool) {
	cur, ok := ctx.Value(ctxKey{}).(Current)
	return cur, ok
}

// UserFromContext returns the signed-in user, if any.
func UserFromContext(ctx context.Context) (identity.User, bool) {
	cur, ok := FromContext(ctx)
	if !ok {
		return identity.User{}, false
	}
	return cur.User, true
}

// Middleware resolves the session cookie once per request. Requests without a
// valid session pass through unauthenticated; callers decide whether that is
// an error.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cur, ok := m.Resolve(r); ok {
			r = r.WithContext(WithCurrent(r.Context(), cur))
		}
		next.ServeHTTP(w, r)
	})
}
