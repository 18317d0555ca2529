// Package client is the relay's Go client. It wraps the HTTP API and
// owns the reconciliation state: locally-submitted messages are queued
// as pending before any network confirmation, and confirmed events
// streaming back retire them by local id.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sessionrelay/sessionrelay/internal/reconcile"
	"github.com/sessionrelay/sessionrelay/pkg/models"
)

// Client talks to a relay server on behalf of one authenticated user.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	state   *reconcile.Store
}

// New creates a client. statePath is the pending-message snapshot file;
// pass "" for a throwaway client with no durable drafts.
func New(baseURL, token, statePath string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		state:   reconcile.New(statePath),
	}
}

// SendMessage queues the message as pending, submits it, and on
// confirmation ingests the created event (which retires the pending
// entry). On submit failure the message stays pending for retry by a
// later call; the error is returned either way.
func (c *Client) SendMessage(ctx context.Context, sessionID, content string) (string, error) {
	localID := uuid.New().String()
	pending := models.PendingMessage{
		LocalID:   localID,
		SessionID: sessionID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.state.AddPending(pending); err != nil {
		return "", err
	}

	body, err := json.Marshal(map[string]string{
		"role":     "user",
		"content":  content,
		"local_id": localID,
	})
	if err != nil {
		return localID, err
	}

	var created models.EventProjection
	if err := c.post(ctx, "/v1/sessions/"+sessionID+"/events", body, &created); err != nil {
		return localID, err
	}

	c.IngestLive(sessionID, created)
	return localID, nil
}

// Events fetches one page of confirmed events. afterID pages forward
// from a previous page's last_id; pass "" for the first page.
func (c *Client) Events(ctx context.Context, sessionID string, limit int, afterID string) (models.EventPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if afterID != "" {
		q.Set("after_id", afterID)
	}

	path := "/v1/sessions/" + sessionID + "/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page models.EventPage
	if err := c.get(ctx, path, &page); err != nil {
		return models.EventPage{}, err
	}
	return page, nil
}

// IngestLive buffers an out-of-band event (e.g. from a streaming
// connection) and retires the pending message it confirms. Duplicate
// deliveries are no-ops.
func (c *Client) IngestLive(sessionID string, e models.EventProjection) {
	c.state.AppendLive(sessionID, models.Event{
		ID:          e.ID,
		SessionID:   sessionID,
		SequenceNum: e.SequenceNum,
		Role:        e.Role,
		Content:     e.Content,
		LocalID:     e.LocalID,
		CreatedAt:   e.CreatedAt,
	})
}

// Pending returns the messages still awaiting confirmation.
func (c *Client) Pending(sessionID string) []models.PendingMessage {
	return c.state.Pending(sessionID)
}

// Live returns the buffered live events for a session.
func (c *Client) Live(sessionID string) []models.Event {
	return c.state.Live(sessionID)
}

// Reset clears both containers for a session, e.g. on session switch.
// Live events are re-derived from the event stream on reconnect.
func (c *Client) Reset(sessionID string) {
	c.state.ClearPending(sessionID)
	c.state.ClearLive(sessionID)
}

// ── HTTP plumbing ────────────────────────────────────────────

// APIError is a non-2xx relay response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay responded %d: %s", e.Status, e.Message)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.roundTrip(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	return c.roundTrip(ctx, http.MethodPost, path, body, out)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
