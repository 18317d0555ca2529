// Package reconcile merges the client-local queue of not-yet-confirmed
// outbound messages with the live stream of confirmed events.
//
// The two containers have deliberately different lifecycles: pending
// messages survive restarts (a draft submitted before a crash must
// still be there after reload), while live events are ephemeral and
// re-derived from the authoritative event stream on reconnect.
package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sessionrelay/sessionrelay/pkg/models"
)

// snapshot is the JSON shape written to disk. Only pending messages are
// persisted; the live buffer is intentionally absent.
type snapshot struct {
	Pending map[string][]models.PendingMessage `json:"pending"`
}

// Store holds per-session pending messages and live-event buffers.
// Every mutation runs under one mutex so each state transition computes
// its next state from a single consistent view.
type Store struct {
	mu      sync.Mutex
	path    string // empty = no persistence
	pending map[string][]models.PendingMessage
	live    map[string][]models.Event
}

// New creates a store, reloading any persisted pending messages from
// path. An empty path disables persistence (tests, throwaway clients).
func New(path string) *Store {
	s := &Store{
		path:    path,
		pending: make(map[string][]models.PendingMessage),
		live:    make(map[string][]models.Event),
	}
	if path != "" {
		s.load()
	}
	return s
}

// AddPending queues a locally-submitted message. The local id must be
// assigned by the caller before any network confirmation.
func (s *Store) AddPending(m models.PendingMessage) error {
	if m.LocalID == "" {
		return fmt.Errorf("pending message requires a local id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[m.SessionID] = append(s.pending[m.SessionID], m)
	s.save()
	return nil
}

// AppendLive buffers a confirmed event and retires the pending message
// it confirms. Appending an event whose identifier is already buffered
// is a no-op: duplicates are expected from streaming delivery, not an
// error condition.
func (s *Store) AppendLive(sessionID string, e models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key := eventKey(e); key != "" {
		for _, buffered := range s.live[sessionID] {
			if eventKey(buffered) == key {
				return
			}
		}
	}
	s.live[sessionID] = append(s.live[sessionID], e)

	if e.LocalID != "" {
		s.confirmLocked(sessionID, e.LocalID)
	}
}

// confirmLocked removes the pending message matching localID, if any.
// Caller holds the mutex.
func (s *Store) confirmLocked(sessionID, localID string) {
	queue := s.pending[sessionID]
	for i, m := range queue {
		if m.LocalID == localID {
			s.pending[sessionID] = append(queue[:i:i], queue[i+1:]...)
			s.save()
			return
		}
	}
}

// ClearPending drops all pending messages for a session without
// confirmation, e.g. on session reset. Live events are untouched.
func (s *Store) ClearPending(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, sessionID)
	s.save()
}

// ClearLive drops the live buffer for a session. Pending messages are
// untouched.
func (s *Store) ClearLive(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.live, sessionID)
}

// Pending returns a copy of the pending queue for a session.
func (s *Store) Pending(sessionID string) []models.PendingMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.PendingMessage(nil), s.pending[sessionID]...)
}

// Live returns a copy of the live buffer for a session.
func (s *Store) Live(sessionID string) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.Event(nil), s.live[sessionID]...)
}

// View is a consistent observation of one session's reconciliation
// state, taken under a single lock acquisition.
type View struct {
	Pending []models.PendingMessage
	Live    []models.Event
}

// Snapshot returns the pending queue and live buffer for a session as
// one consistent view, so a renderer never sees a confirmed event and
// its still-pending draft at the same time.
func (s *Store) Snapshot(sessionID string) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	return View{
		Pending: append([]models.PendingMessage(nil), s.pending[sessionID]...),
		Live:    append([]models.Event(nil), s.live[sessionID]...),
	}
}

// eventKey is the dedup identity of a live event: the client-local id
// when the event carries one, otherwise the event id.
func eventKey(e models.Event) string {
	if e.LocalID != "" {
		return e.LocalID
	}
	return e.ID
}

// save writes the pending snapshot via temp-file rename. Caller holds
// the mutex. Persistence failures are logged, not fatal: the in-memory
// state remains correct for this process.
func (s *Store) save() {
	if s.path == "" {
		return
	}
	data, err := json.MarshalIndent(snapshot{Pending: s.pending}, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("marshal pending snapshot failed")
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("write pending snapshot failed")
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("rename pending snapshot failed")
	}
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", s.path).Msg("read pending snapshot failed")
		}
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("parse pending snapshot failed")
		return
	}
	if snap.Pending != nil {
		s.pending = snap.Pending
	}
}
