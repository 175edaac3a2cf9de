package middleware

import (
	"context"
	"net/http"
	"strings"

	"credit_pool/internal/auth"
	"credit_pool/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

// PrincipalKey is the context key for the authenticated principal
const PrincipalKey ContextKey = "principal"

// Authenticate validates the bearer token and puts its principal in the
// request context.
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing authentication token")
				return
			}
			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || tokenString == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Authorization header must be a bearer token")
				return
			}

			principal, err := auth.ParsePrincipal(tokenString, secret)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireAdmin rejects principals without the admin flag. It must run
// after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := GetPrincipal(r.Context())
		if !ok {
			utils.RespondWithError(w, http.StatusUnauthorized, "Missing authentication token")
			return
		}
		if !principal.IsAdmin {
			utils.RespondWithError(w, http.StatusForbidden, "Insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithPrincipal returns ctx carrying p
func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// GetPrincipal retrieves the principal from the request context
func GetPrincipal(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(auth.Principal)
	return p, ok
}
