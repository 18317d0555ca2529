// Package models defines the domain types shared across the relay:
// users with their provider mode, sessions, sequence-numbered events,
// pending messages, and the page projection returned by event listings.
package models

import "time"

// ── Provider Mode ────────────────────────────────────────────

// ProviderMode selects how upstream credentials are sourced for a user.
type ProviderMode string

const (
	// ModeHosted uses the relay's own upstream credentials.
	ModeHosted ProviderMode = "hosted"
	// ModeBYOK uses an API key the user supplied.
	ModeBYOK ProviderMode = "byok"
	// ModeDebug uses a raw upstream session key plus organization UUID
	// and defers archive/list-events fully to the upstream service.
	ModeDebug ProviderMode = "debug"
)

// ParseProviderMode maps a stored mode string to a ProviderMode.
// Unknown values behave as hosted.
func ParseProviderMode(s string) ProviderMode {
	switch ProviderMode(s) {
	case ModeBYOK:
		return ModeBYOK
	case ModeDebug:
		return ModeDebug
	default:
		return ModeHosted
	}
}

// ── User ─────────────────────────────────────────────────────

// User holds the provider mode and encrypted credential fields.
// BYOK requires APIKeyEnc; debug requires SessionKeyEnc and OrgUUID.
// A violation is a configuration error surfaced at resolve time, not a crash.
type User struct {
	ID            string       `json:"id" db:"id"`
	Provider      ProviderMode `json:"provider" db:"provider"`
	APIKeyEnc     *string      `json:"-" db:"api_key_enc"`
	SessionKeyEnc *string      `json:"-" db:"session_key_enc"`
	OrgUUID       *string      `json:"-" db:"org_uuid"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}

// ── Session ──────────────────────────────────────────────────

// SessionStatus tracks the one-way active → archived lifecycle.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionArchived SessionStatus = "archived"
)

// Session is an agent session owned by exactly one user.
type Session struct {
	ID        string        `json:"-" db:"id"`
	UserID    string        `json:"-" db:"user_id"`
	Title     string        `json:"title,omitempty" db:"title"`
	Status    SessionStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// SessionProjection is the external shape of a session: the internal
// UUID is replaced by the opaque external id.
type SessionProjection struct {
	ID        string        `json:"id"`
	Title     string        `json:"title,omitempty"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Projection converts a session to its external representation.
func (s *Session) Projection() SessionProjection {
	return SessionProjection{
		ID:        ExternalSessionID(s.ID),
		Title:     s.Title,
		Status:    s.Status,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// ── Event ────────────────────────────────────────────────────

// Event is an append-only record within a session. SequenceNum is
// monotonically increasing per session and totally orders its events.
// LocalID carries the client-generated identifier used to reconcile
// pending messages; it is empty for events the client did not originate.
type Event struct {
	ID          string    `json:"-" db:"id"`
	SessionID   string    `json:"-" db:"session_id"`
	SequenceNum int64     `json:"sequence_num" db:"sequence_num"`
	Role        string    `json:"role" db:"role"`
	Content     string    `json:"content" db:"content"`
	LocalID     string    `json:"local_id,omitempty" db:"local_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// EventProjection is the external shape of an event.
type EventProjection struct {
	ID          string    `json:"id"`
	SequenceNum int64     `json:"sequence_num"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	LocalID     string    `json:"local_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Projection converts an event to its external representation.
func (e *Event) Projection() EventProjection {
	return EventProjection{
		ID:          ExternalEventID(e.ID),
		SequenceNum: e.SequenceNum,
		Role:        e.Role,
		Content:     e.Content,
		LocalID:     e.LocalID,
		CreatedAt:   e.CreatedAt,
	}
}

// EventPage is the paginated listing response. FirstID and LastID are
// present only when Data is non-empty.
type EventPage struct {
	Data    []EventProjection `json:"data"`
	HasMore bool              `json:"has_more"`
	FirstID string            `json:"first_id,omitempty"`
	LastID  string            `json:"last_id,omitempty"`
}

// ── Pending Message ──────────────────────────────────────────

// PendingMessage is a client-local outbound message awaiting a matching
// confirmed event. LocalID is assigned by the client before any network
// confirmation and keys the reconciliation.
type PendingMessage struct {
	LocalID   string    `json:"local_id"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
