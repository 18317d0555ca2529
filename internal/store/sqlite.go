package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sessionrelay/sessionrelay/internal/pagination"
	"github.com/sessionrelay/sessionrelay/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore implements Store on SQLite. WAL mode allows concurrent
// reads during writes; the pool is capped at one connection because
// SQLite supports a single writer.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path and applies pragmas
// and the schema. Idempotent.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ── User Store ──────────────────────────────────────────────

func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, provider, api_key_enc, session_key_enc, org_uuid, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, user.ID, string(user.Provider), user.APIKeyEnc, user.SessionKeyEnc, user.OrgUUID, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider, api_key_enc, session_key_enc, org_uuid, created_at
		FROM users WHERE id = ?
	`, id)

	var u models.User
	var provider string
	err := row.Scan(&u.ID, &provider, &u.APIKeyEnc, &u.SessionKeyEnc, &u.OrgUUID, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "user", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.Provider = models.ParseProviderMode(provider)
	return &u, nil
}

func (s *SQLiteStore) UpdateUserCredentials(ctx context.Context, user *models.User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET provider = ?, api_key_enc = ?, session_key_enc = ?, org_uuid = ?
		WHERE id = ?
	`, string(user.Provider), user.APIKeyEnc, user.SessionKeyEnc, user.OrgUUID, user.ID)
	if err != nil {
		return fmt.Errorf("update user credentials: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "user", Key: user.ID}
	}
	return nil
}

// ── Token Store ─────────────────────────────────────────────

func (s *SQLiteStore) CreateToken(ctx context.Context, token, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (token, user_id, created_at) VALUES (?, ?, ?)
	`, token, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUserIDByToken(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM tokens WHERE token = ?`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &ErrNotFound{Entity: "token", Key: "<redacted>"}
	}
	if err != nil {
		return "", fmt.Errorf("query token: %w", err)
	}
	return userID, nil
}

// ── Session Store ───────────────────────────────────────────

func (s *SQLiteStore) CreateSession(ctx context.Context, session *models.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, title, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, session.ID, session.UserID, session.Title, string(session.Status), session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, status, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id), id)
}

func (s *SQLiteStore) ListSessions(ctx context.Context, userID string, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, status, created_at, updated_at
		FROM sessions WHERE user_id = ?
		ORDER BY created_at DESC, id ASC
		LIMIT ?
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

// ArchiveSession flips status to archived guarded by a compare-and-set:
// the UPDATE matches only non-archived rows, so a concurrent
// double-archive loses the race and surfaces as a conflict.
func (s *SQLiteStore) ArchiveSession(ctx context.Context, id string) (*models.Session, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, updated_at = ?
		WHERE id = ? AND status != ?
	`, string(models.SessionArchived), time.Now().UTC(), id, string(models.SessionArchived))
	if err != nil {
		return nil, fmt.Errorf("archive session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("archive session: %w", err)
	}
	if n == 0 {
		// Distinguish missing from already archived.
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &ErrConflict{Entity: "session", Key: sess.ID, Reason: "already archived"}
	}
	return s.GetSession(ctx, id)
}

func scanSession(row *sql.Row, id string) (*models.Session, error) {
	var sess models.Session
	var status string
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &status, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	sess.Status = models.SessionStatus(status)
	return &sess, nil
}

// ── Event Store ─────────────────────────────────────────────

// AppendEvent assigns the next sequence number and inserts in one
// transaction. The single-connection pool serializes writers, and the
// UNIQUE (session_id, sequence_num) constraint backstops the invariant.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *models.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM events WHERE session_id = ?
	`, event.SessionID).Scan(&event.SequenceNum)
	if err != nil {
		return fmt.Errorf("next sequence_num: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, session_id, sequence_num, role, content, local_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.SessionID, event.SequenceNum, event.Role, event.Content, event.LocalID, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, sequence_num, role, content, local_id, created_at
		FROM events WHERE id = ?
	`, id)

	var e models.Event
	err := row.Scan(&e.ID, &e.SessionID, &e.SequenceNum, &e.Role, &e.Content, &e.LocalID, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "event", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}
	return &e, nil
}

// ListEvents performs the keyset range scan described by the descriptor.
// The cursor row anchors the scan and is excluded via OFFSET when
// d.Skip is 1; rows come back in the requested direction (ascending for
// a positive Take, descending from the cursor for a negative one).
func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID string, d pagination.Descriptor) ([]models.Event, error) {
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
			FROM events WHERE session_id = ?
			ORDER BY sequence_num ASC LIMIT ? OFFSET ?`
		args = []any{sessionID, take, d.Skip}
	case d.Cursor == "" && !forward:
		query = `SELECT id, session_id, sequence_num, role, content, local_id, created_at
			FROM events WHERE session_id = ?
			ORDER BY sequence_num DESC LIMIT ? OFFSET ?`
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
				FROM events WHERE session_id = ? AND sequence_num >= ?
				ORDER BY sequence_num ASC LIMIT ? OFFSET ?`
		} else {
			query = `SELECT id, session_id, sequence_num, role, content, local_id, created_at
				FROM events WHERE session_id = ? AND sequence_num <= ?
				ORDER BY sequence_num DESC LIMIT ? OFFSET ?`
		}
		args = []any{sessionID, anchor.SequenceNum, take, d.Skip}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
