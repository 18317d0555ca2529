package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/sessionrelay/sessionrelay/internal/pagination"
	"github.com/sessionrelay/sessionrelay/pkg/models"
)

// PostgresStore implements Store on PostgreSQL via pgxpool. Selected
// when DATABASE_URL is set; schema is applied on connect.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to connURL and applies the schema.
func OpenPostgres(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("postgres store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS users (
			id              TEXT PRIMARY KEY,
			provider        TEXT NOT NULL DEFAULT 'hosted',
			api_key_enc     TEXT,
			session_key_enc TEXT,
			org_uuid        TEXT,
			created_at      TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS tokens (
			token      TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id),
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id),
			title      TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at);

		CREATE TABLE IF NOT EXISTS events (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL REFERENCES sessions(id),
			sequence_num BIGINT NOT NULL,
			role         TEXT NOT NULL DEFAULT '',
			content      TEXT NOT NULL DEFAULT '',
			local_id     TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL,
			UNIQUE (session_id, sequence_num)
		);

		CREATE INDEX IF NOT EXISTS idx_events_session_seq ON events(session_id, sequence_num);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// Ping checks the pool is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ── User Store ──────────────────────────────────────────────

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, provider, api_key_enc, session_key_enc, org_uuid, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, string(user.Provider), user.APIKeyEnc, user.SessionKeyEnc, user.OrgUUID, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	var provider string
	err := s.pool.QueryRow(ctx, `
		SELECT id, provider, api_key_enc, session_key_enc, org_uuid, created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &provider, &u.APIKeyEnc, &u.SessionKeyEnc, &u.OrgUUID, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "user", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.Provider = models.ParseProviderMode(provider)
	return &u, nil
}

func (s *PostgresStore) UpdateUserCredentials(ctx context.Context, user *models.User) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET provider = $1, api_key_enc = $2, session_key_enc = $3, org_uuid = $4
		WHERE id = $5
	`, string(user.Provider), user.APIKeyEnc, user.SessionKeyEnc, user.OrgUUID, user.ID)
	if err != nil {
		return fmt.Errorf("update user credentials: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "user", Key: user.ID}
	}
	return nil
}

// ── Token Store ─────────────────────────────────────────────

func (s *PostgresStore) CreateToken(ctx context.Context, token, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tokens (token, user_id, created_at) VALUES ($1, $2, $3)
	`, token, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserIDByToken(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.pool.QueryRow(ctx, `SELECT user_id FROM tokens WHERE token = $1`, token).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", &ErrNotFound{Entity: "token", Key: "<redacted>"}
	}
	if err != nil {
		return "", fmt.Errorf("query token: %w", err)
	}
	return userID, nil
}

// ── Session Store ───────────────────────────────────────────

func (s *PostgresStore) CreateSession(ctx context.Context, session *models.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, title, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, session.ID, session.UserID, session.Title, string(session.Status), session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, title, status, created_at, updated_at
		FROM sessions WHERE id = $1
	`, id).Scan(&sess.ID, &sess.UserID, &sess.Title, &status, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	sess.Status = models.SessionStatus(status)
	return &sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, userID string, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, status, created_at, updated_at
		FROM sessions WHERE user_id = $1
		ORDER BY created_at DESC, id ASC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.Session{}
	for rows.Next() {
		var sess models.Session
		var status string
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &status, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Status = models.SessionStatus(status)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ArchiveSession uses the same compare-and-set as the SQLite store.
func (s *PostgresStore) ArchiveSession(ctx context.Context, id string) (*models.Session, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET status = $1, updated_at = $2
		WHERE id = $3 AND status != $1
	`, string(models.SessionArchived), time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("archive session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &ErrConflict{Entity: "session", Key: sess.ID, Reason: "already archived"}
	}
	return s.GetSession(ctx, id)
}

// ── Event Store ─────────────────────────────────────────────

func (s *PostgresStore) AppendEvent(ctx context.Context, event *models.Event) error {
	// Single statement keeps the MAX+insert atomic without an explicit
	// transaction; the unique constraint rejects a lost race.
	err := s.pool.QueryRow(ctx, `
		INSERT INTO events (id, session_id, sequence_num, role, content, local_id, created_at)
		SELECT $1, $2, COALESCE(MAX(sequence_num), 0) + 1, $3, $4, $5, $6
		FROM events WHERE session_id = $2
		RETURNING sequence_num
	`, event.ID, event.SessionID, event.Role, event.Content, event.LocalID, event.CreatedAt).Scan(&event.SequenceNum)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	err := s.pool.QueryRow(ctx, `
		SELECT id, session_id, sequence_num, role, content, local_id, created_at
		FROM events WHERE id = $1
	`, id).Scan(&e.ID, &e.SessionID, &e.SequenceNum, &e.Role, &e.Content, &e.LocalID, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "event", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, sessionID string, d pagination.Descriptor) ([]models.Event, error) {
	forward := d.Take >= 0
	take := d.Take
	if !forward {
		take = -take
	}

	var (
		query string
		args  []any
	)
	switch {
	case d.Cursor == "" && forward:
		query = `SELECT id, session_id, sequence_num, role, content, local_id, created_at
			FROM events WHERE session_id = $1
			ORDER BY sequence_num ASC LIMIT $2 OFFSET $3`
		args = []any{sessionID, take, d.Skip}
	case d.Cursor == "" && !forward:
		query = `SELECT id, session_id, sequence_num, role, content, local_id, created_at
			FROM events WHERE session_id = $1
			ORDER BY sequence_num DESC LIMIT $2 OFFSET $3`
		args = []any{sessionID, take, d.Skip}
	default:
		anchor, err := s.GetEvent(ctx, d.Cursor)
		if err != nil {
			return nil, err
		}
		if anchor.SessionID != sessionID {
			return nil, &ErrNotFound{Entity: "event", Key: d.Cursor}
		}
		if forward {
			query = `SELECT id, session_id, sequence_num, role, content, local_id, created_at
				FROM events WHERE session_id = $1 AND sequence_num >= $2
				ORDER BY sequence_num ASC LIMIT $3 OFFSET $4`
		} else {
			query = `SELECT id, session_id, sequence_num, role, content, local_id, created_at
				FROM events WHERE session_id = $1 AND sequence_num <= $2
				ORDER BY sequence_num DESC LIMIT $3 OFFSET $4`
		}
		args = []any{sessionID, anchor.SequenceNum, take, d.Skip}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.SessionID, &e.SequenceNum, &e.Role, &e.Content, &e.LocalID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
