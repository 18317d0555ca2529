package client_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionrelay/sessionrelay/internal/api"
	"github.com/sessionrelay/sessionrelay/internal/api/handlers"
	"github.com/sessionrelay/sessionrelay/internal/api/middleware"
	"github.com/sessionrelay/sessionrelay/internal/auth"
	"github.com/sessionrelay/sessionrelay/internal/config"
	"github.com/sessionrelay/sessionrelay/internal/proxy"
	"github.com/sessionrelay/sessionrelay/internal/store"
	"github.com/sessionrelay/sessionrelay/internal/vault"
	"github.com/sessionrelay/sessionrelay/pkg/client"
	"github.com/sessionrelay/sessionrelay/pkg/models"
)

// newRelay spins a full relay over SQLite and returns its URL plus a
// seeded session's external id and the owner's token.
func newRelay(t *testing.T) (relayURL, externalSessionID, token string) {
	t.Helper()
	ctx := context.Background()

	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	v, err := vault.New("client-test-secret")
	require.NoError(t, err)

	u := &models.User{ID: uuid.New().String(), Provider: models.ModeHosted, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateUser(ctx, u))
	token = "tok-" + uuid.New().String()
	require.NoError(t, s.CreateToken(ctx, token, u.ID))

	now := time.Now().UTC()
	sess := &models.Session{
		ID: uuid.New().String(), UserID: u.ID,
		Status: models.SessionActive, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	h := handlers.New(s, v, proxy.New("http://unused.invalid"))
	authmw := middleware.NewAuth(auth.NewService(s))
	srv := httptest.NewServer(api.NewRouter(&config.Config{Version: "test"}, h, authmw))
	t.Cleanup(srv.Close)

	return srv.URL, models.ExternalSessionID(sess.ID), token
}

func TestSendMessage_ConfirmationRetiresPending(t *testing.T) {
	relayURL, sessionID, token := newRelay(t)
	c := client.New(relayURL, token, "")

	localID, err := c.SendMessage(context.Background(), sessionID, "hello agent")
	require.NoError(t, err)
	require.NotEmpty(t, localID)

	// Confirmed: no pending entries remain, one live event buffered.
	assert.Empty(t, c.Pending(sessionID))
	live := c.Live(sessionID)
	require.Len(t, live, 1)
	assert.Equal(t, localID, live[0].LocalID)
}

func TestSendMessage_FailureKeepsPending(t *testing.T) {
	relayURL, _, token := newRelay(t)
	c := client.New(relayURL, token, "")

	// Unknown session: the relay rejects, the draft stays queued.
	unknown := models.ExternalSessionID(uuid.New().String())
	_, err := c.SendMessage(context.Background(), unknown, "lost message")

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
	assert.Len(t, c.Pending(unknown), 1)
}

func TestEvents_PagesForward(t *testing.T) {
	relayURL, sessionID, token := newRelay(t)
	c := client.New(relayURL, token, "")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.SendMessage(ctx, sessionID, "msg")
		require.NoError(t, err)
	}

	first, err := c.Events(ctx, sessionID, 2, "")
	require.NoError(t, err)
	assert.True(t, first.HasMore)
	require.Len(t, first.Data, 2)

	second, err := c.Events(ctx, sessionID, 2, first.LastID)
	require.NoError(t, err)
	require.Len(t, second.Data, 2)
	assert.Equal(t, first.Data[1].SequenceNum+1, second.Data[0].SequenceNum)
}

func TestIngestLive_DuplicateDeliveryIsNoOp(t *testing.T) {
	relayURL, sessionID, token := newRelay(t)
	c := client.New(relayURL, token, "")

	e := models.EventProjection{
		ID: "evt_stream1", SequenceNum: 1, Role: "assistant",
		Content: "streamed", CreatedAt: time.Now().UTC(),
	}
	c.IngestLive(sessionID, e)
	c.IngestLive(sessionID, e)

	assert.Len(t, c.Live(sessionID), 1)
}

func TestPendingDraftSurvivesRestart(t *testing.T) {
	relayURL, _, token := newRelay(t)
	statePath := filepath.Join(t.TempDir(), "pending.json")

	c := client.New(relayURL, token, statePath)
	unknown := models.ExternalSessionID(uuid.New().String())
	c.SendMessage(context.Background(), unknown, "draft") // fails, stays pending

	reloaded := client.New(relayURL, token, statePath)
	pending := reloaded.Pending(unknown)
	require.Len(t, pending, 1)
	assert.Equal(t, "draft", pending[0].Content)
	assert.Empty(t, reloaded.Live(unknown), "live buffer must not survive restart")
}

func TestReset_ClearsBothContainers(t *testing.T) {
	relayURL, sessionID, token := newRelay(t)
	c := client.New(relayURL, token, "")

	_, err := c.SendMessage(context.Background(), sessionID, "one")
	require.NoError(t, err)
	c.Reset(sessionID)

	assert.Empty(t, c.Pending(sessionID))
	assert.Empty(t, c.Live(sessionID))
}
