// Package store provides the storage interface and implementations for
// the relay. SQLite is the default backend; PostgreSQL is selected when
// DATABASE_URL is set.
package store

import (
	"context"

	"github.com/sessionrelay/sessionrelay/internal/pagination"
	"github.com/sessionrelay/sessionrelay/pkg/models"
)

// Store is the durable storage surface the relay depends on. Handlers
// depend on this interface so the SQLite and Postgres implementations
// stay interchangeable.
type Store interface {
	UserStore
	SessionStore
	EventStore
	TokenStore

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── User Store ──────────────────────────────────────────────

type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error

	// UpdateUserCredentials replaces the provider mode and encrypted
	// credential fields in one write.
	UpdateUserCredentials(ctx context.Context, user *models.User) error
}

// ── Session Store ───────────────────────────────────────────

type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]models.Session, error)

	// ArchiveSession transitions a session to archived with a
	// compare-and-set on the current status. Returns ErrConflict when
	// the session is already archived and ErrNotFound when it does not
	// exist; the two are never conflated.
	ArchiveSession(ctx context.Context, id string) (*models.Session, error)
}

// ── Event Store ─────────────────────────────────────────────

// EventStore is the ordered, sequence-numbered event access contract.
// ListEvents performs a keyset-paginated range scan: events ordered by
// sequence_num, the cursor row excluded via the descriptor's Skip, scan
// direction determined by the sign of Take, and rows returned in the
// requested direction. It deliberately returns both pending and
// confirmed events; UI-facing reads want everything.
type EventStore interface {
	AppendEvent(ctx context.Context, event *models.Event) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	ListEvents(ctx context.Context, sessionID string, d pagination.Descriptor) ([]models.Event, error)
}

// ── Token Store ─────────────────────────────────────────────

// TokenStore maps opaque bearer tokens to user ids. Token issuance
// itself belongs to the external login flow; the relay only validates.
type TokenStore interface {
	CreateToken(ctx context.Context, token, userID string) error
	GetUserIDByToken(ctx context.Context, token string) (string, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrConflict is returned on an invalid state transition, e.g. archiving
// an already-archived session.
type ErrConflict struct {
	Entity string
	Key    string
	Reason string
}

func (e *ErrConflict) Error() string {
	return e.Entity + " " + e.Key + ": " + e.Reason
}
