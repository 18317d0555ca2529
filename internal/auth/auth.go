// Package auth validates bearer tokens against the token store and
// produces the per-request auth context. Token issuance belongs to the
// external login flow; the relay only verifies.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sessionrelay/sessionrelay/internal/store"
)

// Context identifies the authenticated caller. Passed explicitly down
// the call chain rather than derived ambiently per call.
type Context struct {
	UserID string
}

// Service resolves request headers to an auth context.
type Service struct {
	tokens store.TokenStore
}

// NewService creates an auth service over the token store.
func NewService(tokens store.TokenStore) *Service {
	return &Service{tokens: tokens}
}

// GetSession returns the auth context for the request headers, or nil
// when no valid session exists. Only store failures are errors; an
// absent or unknown token is a normal nil result.
func (s *Service) GetSession(ctx context.Context, h http.Header) (*Context, error) {
	token := bearerToken(h)
	if token == "" {
		return nil, nil
	}

	userID, err := s.tokens.GetUserIDByToken(ctx, token)
	if err != nil {
		var nf *store.ErrNotFound
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, err
	}
	return &Context{UserID: userID}, nil
}

func bearerToken(h http.Header) string {
	raw := h.Get("Authorization")
	if raw == "" {
		return ""
	}
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
