package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/jamoveo/rehearsal-backend/internal/rehearsal"
)

// Authenticator resolves a bearer token to the principal behind it.
type Authenticator interface {
	Authenticate(token string) (rehearsal.Principal, error)
}

type principalKey struct{}

// RequireAuth rejects requests without a valid bearer token and attaches the
// resolved principal to the request context. Role enforcement stays in the
// coordinator; this only establishes identity.
func RequireAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			principal, err := auth.Authenticate(token)
			if err != nil {
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFrom extracts the authenticated principal set by RequireAuth.
func PrincipalFrom(ctx context.Context) (rehearsal.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(rehearsal.Principal)
	return p, ok
}
