package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sessionrelay/sessionrelay/internal/api/middleware"
	"github.com/sessionrelay/sessionrelay/internal/auth"
	"github.com/sessionrelay/sessionrelay/internal/store"
)

type fakeTokens struct {
	byToken map[string]string
}

func (f *fakeTokens) CreateToken(_ context.Context, token, userID string) error {
	f.byToken[token] = userID
	return nil
}

func (f *fakeTokens) GetUserIDByToken(_ context.Context, token string) (string, error) {
	userID, ok := f.byToken[token]
	if !ok {
		return "", &store.ErrNotFound{Entity: "token", Key: "<redacted>"}
	}
	return userID, nil
}

func newAuthHandler(next http.Handler) http.Handler {
	svc := auth.NewService(&fakeTokens{byToken: map[string]string{"tok-1": "user-1"}})
	return middleware.NewAuth(svc).Handler(next)
}

func TestAuth_ValidToken(t *testing.T) {
	var gotUserID string
	handler := newAuthHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ac := middleware.GetAuth(r.Context()); ac != nil {
			gotUserID = ac.UserID
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotUserID != "user-1" {
		t.Errorf("auth context user = %q, want user-1", gotUserID)
	}
}

func TestAuth_MissingToken(t *testing.T) {
	handler := newAuthHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without authentication")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("WWW-Authenticate header missing")
	}
}

func TestAuth_UnknownToken(t *testing.T) {
	handler := newAuthHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with unknown token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer tok-unknown")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuth_PublicPathSkipsAuth(t *testing.T) {
	handler := newAuthHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for public path", w.Code)
	}
}
