// Package session owns per-session conversation state: the request slot
// that serialises concurrent messages on one session, the append path for
// persisted messages, the pending plan parked in session metadata, and the
// archive soft delete. Everything durable lives in the stores; the manager
// keeps only small per-session runtime records that a restart can drop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/store"
)

// ErrArchived rejects new messages on a soft-deleted session.
var ErrArchived = errors.New("session is archived")

// maxTitleRunes caps the auto-derived session title.
const maxTitleRunes = 80

// MessageRecorder keeps the in-memory short-term window in step with
// appended messages. Satisfied by memory.Manager.
type MessageRecorder interface {
	RecordMessage(sessionID string, msg *models.Message)
	DropSession(sessionID string)
}

// slot is the per-session request lock. Capacity one: the holder is the one
// request currently being processed for that session.
type slot struct {
	ch   chan struct{}
	refs int
}

// Manager is the session state service.
type Manager struct {
	sessions *store.SessionStore
	messages *store.MessageStore
	memory   MessageRecorder
	logger   *slog.Logger

	mu      sync.Mutex
	slots   map[string]*slot
	cursors map[string]int64 // session ID -> newest message id appended here
}

// NewManager creates the session manager. memory is optional; without it
// appended messages are not mirrored into the short-term window.
func NewManager(sessions *store.SessionStore, messages *store.MessageStore, memory MessageRecorder) *Manager {
	return &Manager{
		sessions: sessions,
		messages: messages,
		memory:   memory,
		logger:   slog.Default().With("component", "session"),
		slots:    make(map[string]*slot),
		cursors:  make(map[string]int64),
	}
}

// Start opens a new active session.
func (m *Manager) Start(ctx context.Context, tenantID, userID, channel string) (*models.Session, error) {
	session, err := m.sessions.Create(ctx, tenantID, userID, channel)
	if err != nil {
		return nil, err
	}
	m.logger.Info("session started",
		"session_id", session.ID, "tenant_id", tenantID, "user_id", userID, "channel", channel)
	return session, nil
}

// Get returns one session, archived or not.
func (m *Manager) Get(ctx context.Context, tenantID, sessionID string) (*models.Session, error) {
	return m.sessions.Get(ctx, tenantID, sessionID)
}

// List returns a user's sessions, most recently active first.
func (m *Manager) List(ctx context.Context, tenantID, userID string, filters models.SessionFilters) (*models.SessionListResponse, error) {
	return m.sessions.List(ctx, tenantID, userID, filters)
}

// ActiveSession loads a session and rejects archived ones. The message path
// goes through here so nothing is ever appended to a soft-deleted session.
func (m *Manager) ActiveSession(ctx context.Context, tenantID, sessionID string) (*models.Session, error) {
	session, err := m.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionArchived {
		return nil, ErrArchived
	}
	return session, nil
}

// Acquire takes the session's request slot, blocking while another request
// holds it. The returned release is idempotent. A context cancelled while
// waiting gives up the spot without disturbing the holder.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (release func(), err error) {
	m.mu.Lock()
	s, ok := m.slots[sessionID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[sessionID] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(sessionID, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			m.unref(sessionID, s)
		})
	}, nil
}

// unref drops one reference and removes the slot when nobody holds or waits.
// refs is only touched under m.mu, so an empty entry can be deleted without
// racing a newcomer: the newcomer simply creates a fresh one.
func (m *Manager) unref(sessionID string, s *slot) {
	m.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, sessionID)
	}
	m.mu.Unlock()
}

// AppendUser persists a user message. The first user message also titles
// the session. Appends bump last_active_at and feed the short-term window.
func (m *Manager) AppendUser(ctx context.Context, session *models.Session, text string) (*models.Message, error) {
	if session == nil {
		return nil, fmt.Errorf("append user message: nil session")
	}
	msg, err := m.append(ctx, session, models.RoleUserMsg, text, nil)
	if err != nil {
		return nil, err
	}
	if title := deriveTitle(text); title != "" {
		if err := m.sessions.SetTitleIfEmpty(ctx, session.TenantID, session.ID, title); err != nil {
			m.logger.Warn("failed to set session title", "session_id", session.ID, "error", err)
		}
	}
	return msg, nil
}

// AppendAssistant persists an assistant reply.
func (m *Manager) AppendAssistant(ctx context.Context, session *models.Session, text string, metadata map[string]any) (*models.Message, error) {
	if session == nil {
		return nil, fmt.Errorf("append assistant message: nil session")
	}
	return m.append(ctx, session, models.RoleAssistant, text, metadata)
}

func (m *Manager) append(ctx context.Context, session *models.Session, role models.MessageRole, text string, metadata map[string]any) (*models.Message, error) {
	msg, err := m.messages.Append(ctx, models.CreateMessageRequest{
		SessionID: session.ID,
		TenantID:  session.TenantID,
		Role:      role,
		Content:   text,
		Metadata:  metadata,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if msg.ID > m.cursors[session.ID] {
		m.cursors[session.ID] = msg.ID
	}
	m.mu.Unlock()

	if m.memory != nil {
		m.memory.RecordMessage(session.ID, msg)
	}
	if err := m.sessions.Touch(ctx, session.TenantID, session.ID); err != nil {
		m.logger.Warn("failed to touch session", "session_id", session.ID, "error", err)
	}
	return msg, nil
}

// MessagesSince returns messages after the cursor in commit order. Cursor 0
// reads the whole conversation.
func (m *Manager) MessagesSince(ctx context.Context, tenantID, sessionID string, afterID int64, limit int) ([]*models.Message, error) {
	return m.messages.ListBySession(ctx, tenantID, sessionID, afterID, limit)
}

// Cursor returns the id of the newest message appended through this replica,
// 0 when none was. Clients resuming a stream pass it as the afterID.
func (m *Manager) Cursor(sessionID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[sessionID]
}

// SavePendingPlan parks a plan in session metadata so a WaitUser suspension
// survives across requests and process restarts. Callers hold the session's
// request slot, which keeps the read-modify-write single-writer.
func (m *Manager) SavePendingPlan(ctx context.Context, tenantID, sessionID string, plan *models.Plan) error {
	session, err := m.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}
	encoded, err := models.EncodePendingPlan(plan)
	if err != nil {
		return fmt.Errorf("encode pending plan: %w", err)
	}
	metadata := session.Metadata
	if metadata == nil {
		metadata = make(map[string]any, 1)
	}
	metadata[models.MetadataPendingPlan] = encoded
	return m.sessions.UpdateMetadata(ctx, tenantID, sessionID, metadata)
}

// ClearPendingPlan removes the parked plan. Clearing a session without one
// is a no-op.
func (m *Manager) ClearPendingPlan(ctx context.Context, tenantID, sessionID string) error {
	session, err := m.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}
	if _, ok := session.Metadata[models.MetadataPendingPlan]; !ok {
		return nil
	}
	delete(session.Metadata, models.MetadataPendingPlan)
	return m.sessions.UpdateMetadata(ctx, tenantID, sessionID, session.Metadata)
}

// Archive soft-deletes a session: the status flips, messages stay, and the
// session's runtime state (cursor, short-term window) is dropped. Medium
// memories are left to age out by TTL.
func (m *Manager) Archive(ctx context.Context, tenantID, sessionID string) error {
	if err := m.sessions.Archive(ctx, tenantID, sessionID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.cursors, sessionID)
	m.mu.Unlock()
	if m.memory != nil {
		m.memory.DropSession(sessionID)
	}
	m.logger.Info("session archived", "session_id", sessionID, "tenant_id", tenantID)
	return nil
}

// PurgeArchived hard-deletes sessions archived before cutoff, messages
// included. Retention sweeps call this; active sessions are never touched.
func (m *Manager) PurgeArchived(ctx context.Context, cutoff time.Time) (int64, error) {
	return m.sessions.DeleteArchivedBefore(ctx, cutoff)
}

// deriveTitle squeezes the first user message into a one-line title.
func deriveTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes])
	}
	return title
}
