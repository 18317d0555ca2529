// Package handlers implements the HTTP handlers for the relay. Every
// session endpoint first resolves the caller's provider context; debug
// mode defers archive and event listing fully to the upstream service,
// all other modes serve from the local store.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sessionrelay/sessionrelay/internal/api/middleware"
	"github.com/sessionrelay/sessionrelay/internal/auth"
	"github.com/sessionrelay/sessionrelay/internal/pagination"
	"github.com/sessionrelay/sessionrelay/internal/provider"
	"github.com/sessionrelay/sessionrelay/internal/proxy"
	"github.com/sessionrelay/sessionrelay/internal/store"
	"github.com/sessionrelay/sessionrelay/internal/vault"
	"github.com/sessionrelay/sessionrelay/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store store.Store
	Vault *vault.Vault
	Proxy *proxy.Proxy
}

// New creates a Handlers instance with all dependencies.
func New(s store.Store, v *vault.Vault, p *proxy.Proxy) *Handlers {
	return &Handlers{Store: s, Vault: v, Proxy: p}
}

// ── Provider resolution ──────────────────────────────────────

// resolveProvider produces the auth context and provider context for
// the request, writing the error response itself on failure.
func (h *Handlers) resolveProvider(w http.ResponseWriter, r *http.Request) (*auth.Context, provider.Context, bool) {
	ac := middleware.GetAuth(r.Context())
	if ac == nil {
		respondError(w, http.StatusUnauthorized, "unauthenticated")
		return nil, nil, false
	}

	user, err := h.Store.GetUser(r.Context(), ac.UserID)
	if err != nil {
		var nf *store.ErrNotFound
		if errors.As(err, &nf) {
			// Token outlived its user record.
			respondError(w, http.StatusUnauthorized, "unauthenticated")
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, nil, false
	}

	pc, err := provider.Resolve(user, h.Vault)
	if err != nil {
		var mc *provider.MisconfiguredError
		if errors.As(err, &mc) {
			respondError(w, http.StatusBadRequest, mc.Reason)
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, nil, false
	}
	return ac, pc, true
}

// ownedSession loads the session and enforces ownership: 404 for an
// unknown id, 403 when it belongs to another user.
func (h *Handlers) ownedSession(w http.ResponseWriter, r *http.Request, ac *auth.Context, internalID string) (*models.Session, bool) {
	sess, err := h.Store.GetSession(r.Context(), internalID)
	if err != nil {
		h.respondStoreError(w, err)
		return nil, false
	}
	if sess.UserID != ac.UserID {
		respondError(w, http.StatusForbidden, "session belongs to another user")
		return nil, false
	}
	return sess, true
}

// ── Session Handlers ─────────────────────────────────────────

func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	ac, _, ok := h.resolveProvider(w, r)
	if !ok {
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	now := time.Now().UTC()
	sess := &models.Session{
		ID:        uuid.New().String(),
		UserID:    ac.UserID,
		Title:     req.Title,
		Status:    models.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Store.CreateSession(r.Context(), sess); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("session", sess.ID).Str("user", ac.UserID).Msg("session created")
	respondJSON(w, http.StatusCreated, sess.Projection())
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	ac, _, ok := h.resolveProvider(w, r)
	if !ok {
		return
	}

	sessions, err := h.Store.ListSessions(r.Context(), ac.UserID, 0)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	projections := make([]models.SessionProjection, 0, len(sessions))
	for i := range sessions {
		projections = append(projections, sessions[i].Projection())
	}
	respondJSON(w, http.StatusOK, projections)
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	ac, _, ok := h.resolveProvider(w, r)
	if !ok {
		return
	}

	internalID, ok := h.decodeSessionID(w, r)
	if !ok {
		return
	}
	sess, ok := h.ownedSession(w, r, ac, internalID)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sess.Projection())
}

// ArchiveSession transitions the session to archived. Debug mode defers
// the whole operation to the upstream service.
func (h *Handlers) ArchiveSession(w http.ResponseWriter, r *http.Request) {
	ac, pc, ok := h.resolveProvider(w, r)
	if !ok {
		return
	}

	internalID, ok := h.decodeSessionID(w, r)
	if !ok {
		return
	}

	if dbg, isDebug := pc.(provider.Debug); isDebug {
		h.Proxy.Forward(w, r, "v1/sessions/"+internalID+"/archive", dbg)
		return
	}

	if _, ok := h.ownedSession(w, r, ac, internalID); !ok {
		return
	}

	archived, err := h.Store.ArchiveSession(r.Context(), internalID)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}

	log.Info().Str("session", internalID).Msg("session archived")
	respondJSON(w, http.StatusOK, archived.Projection())
}

// ── Event Handlers ───────────────────────────────────────────

// ListEvents serves the cursor-paginated event listing. Debug mode
// forwards the original query to the upstream service untouched.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	ac, pc, ok := h.resolveProvider(w, r)
	if !ok {
		return
	}

	internalID, ok := h.decodeSessionID(w, r)
	if !ok {
		return
	}

	if dbg, isDebug := pc.(provider.Debug); isDebug {
		h.Proxy.Forward(w, r, "v1/sessions/"+internalID+"/events", dbg)
		return
	}

	if _, ok := h.ownedSession(w, r, ac, internalID); !ok {
		return
	}

	descriptor, err := pagination.ParseQuery(r.URL.Query(), models.InternalEventID)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.Store.ListEvents(r.Context(), internalID, descriptor)
	if err != nil {
		var nf *store.ErrNotFound
		if errors.As(err, &nf) && nf.Entity == "event" {
			// Cursor decodes but references no event in this session.
			respondError(w, http.StatusBadRequest, "invalid pagination cursor")
			return
		}
		h.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, pagination.Page(rows, descriptor.Limit))
}

func (h *Handlers) AppendEvent(w http.ResponseWriter, r *http.Request) {
	ac, _, ok := h.resolveProvider(w, r)
	if !ok {
		return
	}

	internalID, ok := h.decodeSessionID(w, r)
	if !ok {
		return
	}
	if _, ok := h.ownedSession(w, r, ac, internalID); !ok {
		return
	}

	var req struct {
		Role    string `json:"role"`
		Content string `json:"content"`
		LocalID string `json:"local_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Role == "" {
		respondError(w, http.StatusBadRequest, "role is required")
		return
	}

	event := &models.Event{
		ID:        uuid.New().String(),
		SessionID: internalID,
		Role:      req.Role,
		Content:   req.Content,
		LocalID:   req.LocalID,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.AppendEvent(r.Context(), event); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, event.Projection())
}

// ── Credential Handlers ──────────────────────────────────────

// UpdateCredentials switches the caller's provider mode and re-encrypts
// whatever secrets the new mode needs. Plaintext secrets exist only for
// the lifetime of this request.
func (h *Handlers) UpdateCredentials(w http.ResponseWriter, r *http.Request) {
	ac := middleware.GetAuth(r.Context())
	if ac == nil {
		respondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req struct {
		Provider   string `json:"provider"`
		APIKey     string `json:"api_key"`
		SessionKey string `json:"session_key"`
		OrgUUID    string `json:"org_uuid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.Store.GetUser(r.Context(), ac.UserID)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}

	user.Provider = models.ParseProviderMode(req.Provider)
	user.APIKeyEnc = nil
	user.SessionKeyEnc = nil
	user.OrgUUID = nil

	if req.APIKey != "" {
		enc, err := h.Vault.Encrypt(req.APIKey)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to encrypt API key")
			return
		}
		user.APIKeyEnc = &enc
	}
	if req.SessionKey != "" {
		enc, err := h.Vault.Encrypt(req.SessionKey)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to encrypt session key")
			return
		}
		user.SessionKeyEnc = &enc
	}
	if req.OrgUUID != "" {
		user.OrgUUID = &req.OrgUUID
	}

	if err := h.Store.UpdateUserCredentials(r.Context(), user); err != nil {
		h.respondStoreError(w, err)
		return
	}

	log.Info().Str("user", user.ID).Str("provider", string(user.Provider)).Msg("credentials updated")
	respondJSON(w, http.StatusOK, map[string]string{"provider": string(user.Provider)})
}

// ── Helpers ──────────────────────────────────────────────────

func (h *Handlers) decodeSessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	internalID, err := models.InternalSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return internalID, true
}

func (h *Handlers) respondStoreError(w http.ResponseWriter, err error) {
	var nf *store.ErrNotFound
	var cf *store.ErrConflict
	switch {
	case errors.As(err, &nf):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &cf):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
