package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/sessionrelay/sessionrelay/internal/auth"
)

type contextKey string

const authContextKey contextKey = "auth_context"

// Auth resolves the bearer token to an auth context and stores it in
// the request context. Requests without a valid session are rejected
// with a 401 up front; handlers can then rely on GetAuth being non-nil.
type Auth struct {
	service *auth.Service
}

// NewAuth creates the auth middleware over the auth service.
func NewAuth(service *auth.Service) *Auth {
	return &Auth{service: service}
}

// Handler returns the middleware function.
func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ac, err := a.service.GetSession(r.Context(), r.Header)
		if err != nil {
			log.Error().Err(err).Str("path", r.URL.Path).Msg("auth lookup failed")
			writeUnauthorized(w, "authentication backend unavailable")
			return
		}
		if ac == nil {
			writeUnauthorized(w, "This endpoint requires authentication. Set Authorization: Bearer <token>.")
			return
		}

		next.ServeHTTP(w, r.WithContext(SetAuth(r.Context(), ac)))
	})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="sessionrelay"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// SetAuth stores the auth context in ctx.
func SetAuth(ctx context.Context, ac *auth.Context) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// GetAuth retrieves the auth context, or nil for unauthenticated
// requests on public paths.
func GetAuth(ctx context.Context) *auth.Context {
	if ac, ok := ctx.Value(authContextKey).(*auth.Context); ok {
		return ac
	}
	return nil
}

// isPublicPath returns true for paths that skip authentication.
func isPublicPath(path string) bool {
	switch path {
	case "/health", "/version":
		return true
	}
	return false
}
