package e2e

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famulus-ai/famulus/pkg/llm"
	"github.com/famulus-ai/famulus/pkg/models"
)

// scriptChatTurns loads one plain chat exchange per reply: no plan, nothing
// learned, a fixed answer.
func scriptChatTurns(app *TestApp, replies ...string) {
	for _, reply := range replies {
		app.LLM.AddRouted(llm.PurposePlanner, llm.ScriptEntry{Text: `{"needs_plan": false}`})
		app.LLM.AddRouted(llm.PurposeKnowledge, llm.ScriptEntry{Text: `{"items": []}`})
		app.LLM.AddRouted(llm.PurposeMainAgent, llm.ScriptEntry{Text: reply})
	}
}

func TestSessionLifecycle(t *testing.T) {
	app := NewTestApp(t)
	scriptChatTurns(app, "Hello to you too.")

	sess := app.CreateSession(t, "web")
	assert.Equal(t, models.SessionActive, sess.Status)
	assert.Equal(t, "web", sess.Channel)
	assert.Equal(t, app.TenantID, sess.TenantID)
	assert.Equal(t, app.UserID, sess.UserID)

	reply := app.PostMessage(t, sess.ID, "Hello there, how are you?")
	assert.Equal(t, sess.ID, reply.SessionID)
	assert.Equal(t, "Hello to you too.", reply.Text)

	// The first user message becomes the title.
	stored := app.GetSession(t, sess.ID)
	assert.Equal(t, "Hello there, how are you?", stored.Title)

	list := app.ListSessions(t, "")
	require.Equal(t, 1, list.TotalCount)
	assert.Equal(t, sess.ID, list.Sessions[0].ID)

	app.ArchiveSession(t, sess.ID)

	// Archived sessions stay readable but reject new messages.
	stored = app.GetSession(t, sess.ID)
	assert.Equal(t, models.SessionArchived, stored.Status)

	resp := app.Do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/messages",
		map[string]any{"text": "anyone home?"})
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// History survives the archive.
	msgs := app.ListMessages(t, sess.ID, "")
	assert.Len(t, msgs, 2)

	// Default listing hides archived sessions; include_archived shows them.
	list = app.ListSessions(t, "")
	assert.Equal(t, 0, list.TotalCount)
	list = app.ListSessions(t, "include_archived=true")
	assert.Equal(t, 1, list.TotalCount)
	list = app.ListSessions(t, "status=archived")
	assert.Equal(t, 1, list.TotalCount)
}

func TestMessagePagination(t *testing.T) {
	app := NewTestApp(t)
	scriptChatTurns(app, "First answer.", "Second answer.", "Third answer.")

	sess := app.CreateSession(t, "web")
	for i := 1; i <= 3; i++ {
		app.PostMessage(t, sess.ID, fmt.Sprintf("question %d", i))
	}

	all := app.ListMessages(t, sess.ID, "")
	require.Len(t, all, 6)
	assert.Equal(t, "question 1", all[0].Content)
	assert.Equal(t, "Third answer.", all[5].Content)

	// after_id resumes where the client left off.
	tail := app.ListMessages(t, sess.ID, fmt.Sprintf("after_id=%d", all[3].ID))
	require.Len(t, tail, 2)
	assert.Equal(t, "question 3", tail[0].Content)

	limited := app.ListMessages(t, sess.ID, "limit=2")
	require.Len(t, limited, 2)
	assert.Equal(t, all[0].ID, limited[0].ID)
}

func TestNotificationReadFlow(t *testing.T) {
	app := NewTestApp(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		n, err := app.Notifier.Publish(ctx, &models.Notification{
			TenantID:    app.TenantID,
			UserID:      app.UserID,
			Type:        models.NotifyNewEmail,
			Priority:    models.PriorityMedium,
			Title:       fmt.Sprintf("New email %d", i),
			ReferenceID: fmt.Sprintf("msg-%d", i),
		})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}

	unread := app.ListNotifications(t, "unread=true")
	require.Len(t, unread, 3)

	assert.Equal(t, int64(2), app.MarkRead(t, ids[0], ids[1]))
	unread = app.ListNotifications(t, "unread=true")
	require.Len(t, unread, 1)
	assert.Equal(t, ids[2], unread[0].ID)

	// Marking an already-read row again changes nothing.
	assert.Equal(t, int64(0), app.MarkRead(t, ids[0]))

	var result struct {
		Updated int64 `json:"updated"`
	}
	app.doJSON(t, http.MethodPost, "/api/v1/notifications/read_all", map[string]any{}, http.StatusOK, &result)
	assert.Equal(t, int64(1), result.Updated)
	assert.Empty(t, app.ListNotifications(t, "unread=true"))
}

func TestFileLifecycle(t *testing.T) {
	app := NewTestApp(t)

	sess := app.CreateSession(t, "web")

	var file models.File
	app.doJSON(t, http.MethodPost, "/api/v1/files", map[string]any{
		"session_id":   sess.ID,
		"name":         "q2-report.pdf",
		"content_type": "application/pdf",
		"size_bytes":   4096,
		"storage_path": "/blobs/" + app.UserID + "/q2-report.pdf",
	}, http.StatusCreated, &file)
	assert.NotEmpty(t, file.ID)
	assert.Equal(t, app.TenantID, file.TenantID)
	assert.Equal(t, app.UserID, file.UserID)
	assert.Equal(t, sess.ID, file.SessionID)

	var listed []*models.File
	app.doJSON(t, http.MethodGet, "/api/v1/files", nil, http.StatusOK, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, "q2-report.pdf", listed[0].Name)

	var got models.File
	app.doJSON(t, http.MethodGet, "/api/v1/files/"+file.ID, nil, http.StatusOK, &got)
	assert.Equal(t, int64(4096), got.SizeBytes)

	// Pinning to a session nobody owns reads as missing, not as a server
	// error.
	resp := app.Do(t, http.MethodPost, "/api/v1/files", map[string]any{
		"name":         "stray.txt",
		"storage_path": "/blobs/stray.txt",
		"session_id":   "e2c9c1f6-0000-0000-0000-000000000000",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	app.doJSON(t, http.MethodDelete, "/api/v1/files/"+file.ID, nil, http.StatusOK, nil)

	resp = app.Do(t, http.MethodGet, "/api/v1/files/"+file.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPIErrorMapping(t *testing.T) {
	app := NewTestApp(t)
	ctx := context.Background()

	// Unknown session.
	resp := app.Do(t, http.MethodGet, "/api/v1/sessions/0b5fd02e-8e71-4ef2-a760-12b57e0ffe77", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	// Malformed body.
	resp = app.Do(t, http.MethodPost, "/api/v1/sessions", "not-json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	// A resolution outside the offered options is rejected and the prompt
	// stays open.
	n, err := app.Notifier.Publish(ctx, &models.Notification{
		TenantID:    app.TenantID,
		UserID:      app.UserID,
		Type:        models.NotifyContradiction,
		Priority:    models.PriorityCritical,
		Title:       "Conflicting information detected",
		ReferenceID: "mem-x",
		Metadata:    map[string]any{"existing_memory_id": ""},
	})
	require.NoError(t, err)

	resp = app.Do(t, http.MethodPost, "/api/v1/notifications/"+n.ID+"/resolve",
		map[string]any{"resolution": "flip_a_coin"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	items := app.ListNotifications(t, "")
	require.Len(t, items, 1)
	assert.Nil(t, items[0].ResolvedAt)

	// Resolving someone else's notification reads as missing.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		app.BaseURL+"/api/v1/notifications/"+n.ID+"/resolve",
		strings.NewReader(`{"resolution": "choose_new"}`))
	require.NoError(t, err)
	req.Header.Set("X-Tenant-ID", app.TenantID)
	req.Header.Set("X-User-ID", "someone-else")
	req.Header.Set("Content-Type", "application/json")
	other, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = other.Body.Close()
	assert.Equal(t, http.StatusNotFound, other.StatusCode)
}
