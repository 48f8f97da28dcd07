package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/famulus-ai/famulus/pkg/models"
)

// SessionStore manages conversation session rows.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a new SessionStore
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `id, tenant_id, user_id, channel, status, title, metadata, created_at, last_active_at`

// Create inserts a new active session.
func (s *SessionStore) Create(ctx context.Context, tenantID, userID, channel string) (*models.Session, error) {
	if tenantID == "" {
		return nil, NewValidationError("tenant_id", "required")
	}
	if userID == "" {
		return nil, NewValidationError("user_id", "required")
	}
	if channel == "" {
		channel = "web"
	}

	now := time.Now()
	session := &models.Session{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		UserID:       userID,
		Channel:      channel,
		Status:       models.SessionActive,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, tenant_id, user_id, channel, status, title, created_at, last_active_at)
		 VALUES ($1, $2, $3, $4, $5, '', $6, $7)`,
		session.ID, session.TenantID, session.UserID, session.Channel, session.Status,
		session.CreatedAt, session.LastActiveAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// Get returns one session scoped by tenant.
func (s *SessionStore) Get(ctx context.Context, tenantID, sessionID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE tenant_id = $1 AND id = $2`,
		tenantID, sessionID)
	return scanSession(row)
}

// List returns sessions for a user, most recently active first.
func (s *SessionStore) List(ctx context.Context, tenantID, userID string, filters models.SessionFilters) (*models.SessionListResponse, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE tenant_id = $1 AND user_id = $2`
	countQuery := `SELECT COUNT(*) FROM sessions WHERE tenant_id = $1 AND user_id = $2`
	args := []any{tenantID, userID}

	if filters.Status != "" {
		args = append(args, filters.Status)
		cond := fmt.Sprintf(" AND status = $%d", len(args))
		query += cond
		countQuery += cond
	} else if !filters.IncludeArchived {
		query += ` AND status != 'archived'`
		countQuery += ` AND status != 'archived'`
	}
	if filters.Channel != "" {
		args = append(args, filters.Channel)
		cond := fmt.Sprintf(" AND channel = $%d", len(args))
		query += cond
		countQuery += cond
	}

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	args = append(args, limit, filters.Offset)
	query += fmt.Sprintf(" ORDER BY last_active_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}

	return &models.SessionListResponse{
		Sessions:   sessions,
		TotalCount: total,
		Limit:      limit,
		Offset:     filters.Offset,
	}, nil
}

// Touch bumps last_active_at.
func (s *SessionStore) Touch(ctx context.Context, tenantID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = now() WHERE tenant_id = $1 AND id = $2`,
		tenantID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// SetTitleIfEmpty sets the session title once, from the first user message.
func (s *SessionStore) SetTitleIfEmpty(ctx context.Context, tenantID, sessionID, title string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = $3 WHERE tenant_id = $1 AND id = $2 AND title = ''`,
		tenantID, sessionID, title)
	if err != nil {
		return fmt.Errorf("failed to set session title: %w", err)
	}
	return nil
}

// UpdateMetadata replaces session metadata (pending plan lives here).
func (s *SessionStore) UpdateMetadata(ctx context.Context, tenantID, sessionID string, metadata map[string]any) error {
	value, err := jsonbValue(metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET metadata = $3 WHERE tenant_id = $1 AND id = $2`,
		tenantID, sessionID, value)
	if err != nil {
		return fmt.Errorf("failed to update session metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Archive soft-deletes a session: messages are kept, status flips.
func (s *SessionStore) Archive(ctx context.Context, tenantID, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'archived' WHERE tenant_id = $1 AND id = $2`,
		tenantID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteArchivedBefore hard-deletes sessions archived longer than the
// retention window. Messages cascade.
func (s *SessionStore) DeleteArchivedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE status = 'archived' AND last_active_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete archived sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var session models.Session
	var metadata []byte
	err := row.Scan(&session.ID, &session.TenantID, &session.UserID, &session.Channel,
		&session.Status, &session.Title, &metadata, &session.CreatedAt, &session.LastActiveAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	session.Metadata, err = scanJSONB(metadata)
	if err != nil {
		return nil, err
	}
	return &session, nil
}
