package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/famulus-ai/famulus/pkg/models"
)

// CreateSession posts a new session and returns it.
func (app *TestApp) CreateSession(t *testing.T, channel string) *models.Session {
	t.Helper()
	var sess models.Session
	app.doJSON(t, http.MethodPost, "/api/v1/sessions",
		map[string]any{"channel": channel}, http.StatusCreated, &sess)
	return &sess
}

// PostMessage sends one user turn and returns the reply.
func (app *TestApp) PostMessage(t *testing.T, sessionID, text string) *models.Reply {
	t.Helper()
	return app.postMessage(t, sessionID, map[string]any{"text": text})
}

// PostMessageForced sends one user turn with the force_web_search flag set.
func (app *TestApp) PostMessageForced(t *testing.T, sessionID, text string) *models.Reply {
	t.Helper()
	return app.postMessage(t, sessionID, map[string]any{"text": text, "force_web_search": true})
}

func (app *TestApp) postMessage(t *testing.T, sessionID string, body map[string]any) *models.Reply {
	t.Helper()
	var reply models.Reply
	app.doJSON(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/messages",
		body, http.StatusOK, &reply)
	return &reply
}

// GetSession retrieves one session by id.
func (app *TestApp) GetSession(t *testing.T, sessionID string) *models.Session {
	t.Helper()
	var sess models.Session
	app.doJSON(t, http.MethodGet, "/api/v1/sessions/"+sessionID, nil, http.StatusOK, &sess)
	return &sess
}

// ListSessions retrieves the session list with optional query parameters.
func (app *TestApp) ListSessions(t *testing.T, queryParams string) *models.SessionListResponse {
	t.Helper()
	path := "/api/v1/sessions"
	if queryParams != "" {
		path += "?" + queryParams
	}
	var result models.SessionListResponse
	app.doJSON(t, http.MethodGet, path, nil, http.StatusOK, &result)
	return &result
}

// ArchiveSession archives one session.
func (app *TestApp) ArchiveSession(t *testing.T, sessionID string) {
	t.Helper()
	app.doJSON(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/archive",
		nil, http.StatusOK, nil)
}

// ListMessages retrieves session messages with optional query parameters.
func (app *TestApp) ListMessages(t *testing.T, sessionID, queryParams string) []*models.Message {
	t.Helper()
	path := "/api/v1/sessions/" + sessionID + "/messages"
	if queryParams != "" {
		path += "?" + queryParams
	}
	var msgs []*models.Message
	app.doJSON(t, http.MethodGet, path, nil, http.StatusOK, &msgs)
	return msgs
}

// ListNotifications retrieves notifications with optional query parameters.
func (app *TestApp) ListNotifications(t *testing.T, queryParams string) []*models.Notification {
	t.Helper()
	path := "/api/v1/notifications"
	if queryParams != "" {
		path += "?" + queryParams
	}
	var items []*models.Notification
	app.doJSON(t, http.MethodGet, path, nil, http.StatusOK, &items)
	return items
}

// MarkRead marks the given notification ids read and returns the updated count.
func (app *TestApp) MarkRead(t *testing.T, ids ...string) int64 {
	t.Helper()
	var result struct {
		Updated int64 `json:"updated"`
	}
	app.doJSON(t, http.MethodPost, "/api/v1/notifications/read",
		map[string]any{"ids": ids}, http.StatusOK, &result)
	return result.Updated
}

// ResolveNotification applies one resolution verdict.
func (app *TestApp) ResolveNotification(t *testing.T, id, resolution string) {
	t.Helper()
	app.doJSON(t, http.MethodPost, "/api/v1/notifications/"+id+"/resolve",
		map[string]any{"resolution": resolution}, http.StatusOK, nil)
}

// Healthz fetches /healthz without identity headers and returns the response
// status code and decoded body.
func (app *TestApp) Healthz(t *testing.T) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+"/healthz", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

// Do issues one request with identity headers and returns the raw response.
// Callers own the body.
func (app *TestApp) Do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Tenant-ID", app.TenantID)
	req.Header.Set("X-User-ID", app.UserID)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// doJSON issues one request, requires the expected status, and decodes the
// response into out when out is non-nil.
func (app *TestApp) doJSON(t *testing.T, method, path string, body any, expectedStatus int, out any) {
	t.Helper()
	resp := app.Do(t, method, path, body)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, expectedStatus, resp.StatusCode,
		"%s %s: unexpected status, body: %s", method, path, string(raw))

	if out != nil {
		require.NoError(t, json.Unmarshal(raw, out), "%s %s: undecodable body: %s", method, path, string(raw))
	}
}
