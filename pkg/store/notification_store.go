package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/famulus-ai/famulus/pkg/models"
)

// NotificationStore persists user-facing notifications. The notification
// center owns dedupe and channel routing; this store only speaks rows.
type NotificationStore struct {
	db *sql.DB
}

// NewNotificationStore creates a new NotificationStore
func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// Create inserts a notification.
func (s *NotificationStore) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		return NewValidationError("id", "required")
	}
	if n.UserID == "" {
		return NewValidationError("user_id", "required")
	}
	if n.Type == "" {
		return NewValidationError("type", "required")
	}
	if n.Title == "" {
		return NewValidationError("title", "required")
	}

	metadata, err := jsonbValue(n.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, tenant_id, user_id, session_id, type, priority, channel, title, body, reference_id, count, read, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		n.ID, n.TenantID, n.UserID, nullIfEmpty(n.SessionID), n.Type, n.Priority, n.Channel,
		n.Title, n.Body, n.ReferenceID, n.Count, n.Read, metadata, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// FindRecentDuplicate returns the newest unread notification with the same
// (type, user, reference) created at or after since, or ErrNotFound.
func (s *NotificationStore) FindRecentDuplicate(ctx context.Context, tenantID, notifType, userID, referenceID string, since time.Time) (*models.Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, user_id, session_id, type, priority, channel, title, body, reference_id, count, read, metadata, created_at, resolved_at, resolution
		 FROM notifications
		 WHERE tenant_id = $1 AND type = $2 AND user_id = $3 AND reference_id = $4
		   AND NOT read AND created_at >= $5
		 ORDER BY created_at DESC
		 LIMIT 1`,
		tenantID, notifType, userID, referenceID, since)
	return scanNotification(row)
}

// IncrementCount coalesces a duplicate publish into an existing row and
// returns the new count.
func (s *NotificationStore) IncrementCount(ctx context.Context, tenantID, id string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`UPDATE notifications SET count = count + 1
		 WHERE tenant_id = $1 AND id = $2
		 RETURNING count`,
		tenantID, id).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to increment notification count: %w", err)
	}
	return count, nil
}

// Get returns a notification by ID.
func (s *NotificationStore) Get(ctx context.Context, tenantID, id string) (*models.Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, user_id, session_id, type, priority, channel, title, body, reference_id, count, read, metadata, created_at, resolved_at, resolution
		 FROM notifications WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	return scanNotification(row)
}

// List returns a user's notifications, newest first, applying filters.
func (s *NotificationStore) List(ctx context.Context, tenantID, userID string, filters models.NotificationFilters) ([]*models.Notification, error) {
	query := `SELECT id, tenant_id, user_id, session_id, type, priority, channel, title, body, reference_id, count, read, metadata, created_at, resolved_at, resolution
		 FROM notifications WHERE tenant_id = $1 AND user_id = $2`
	args := []any{tenantID, userID}

	if filters.SessionID != "" {
		args = append(args, filters.SessionID)
		query += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	if filters.Priority != "" {
		args = append(args, filters.Priority)
		query += fmt.Sprintf(" AND priority = $%d", len(args))
	}
	if filters.Unread {
		query += " AND NOT read"
	}
	query += " ORDER BY created_at DESC"
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan notifications: %w", err)
	}
	return notifications, nil
}

// MarkRead marks the given notifications read, scoped to the owning user,
// and returns how many rows changed. Already-read and unknown IDs are
// skipped silently.
func (s *NotificationStore) MarkRead(ctx context.Context, tenantID, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE
		 WHERE tenant_id = $1 AND user_id = $2 AND id = ANY($3) AND NOT read`,
		tenantID, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MarkAllRead marks all of a user's notifications read and returns how many
// changed.
func (s *NotificationStore) MarkAllRead(ctx context.Context, tenantID, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE tenant_id = $1 AND user_id = $2 AND NOT read`,
		tenantID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Resolve records the outcome of a blocking notification and marks it read.
func (s *NotificationStore) Resolve(ctx context.Context, tenantID, id, resolution string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET resolved_at = $3, resolution = $4, read = TRUE
		 WHERE tenant_id = $1 AND id = $2 AND resolved_at IS NULL`,
		tenantID, id, time.Now().UTC(), resolution)
	if err != nil {
		return fmt.Errorf("failed to resolve notification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes notifications by ID, scoped to the owning user, and
// returns how many rows were deleted. Unknown IDs are skipped silently.
func (s *NotificationStore) Delete(ctx context.Context, tenantID, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE tenant_id = $1 AND user_id = $2 AND id = ANY($3)`,
		tenantID, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notifications: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UnreadCount returns the number of unread notifications for a user.
func (s *NotificationStore) UnreadCount(ctx context.Context, tenantID, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE tenant_id = $1 AND user_id = $2 AND NOT read`,
		tenantID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// CountUnresolvedBlocking returns how many blocking notifications await a
// user decision.
func (s *NotificationStore) CountUnresolvedBlocking(ctx context.Context, tenantID, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications
		 WHERE tenant_id = $1 AND user_id = $2 AND channel = $3 AND resolved_at IS NULL`,
		tenantID, userID, models.ChannelBlocking).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count blocking notifications: %w", err)
	}
	return count, nil
}

// DeleteReadOlderThan removes read notifications created before the cutoff
// and returns how many were deleted. Unread rows are never retention-swept.
func (s *NotificationStore) DeleteReadOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE read AND created_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var n models.Notification
	var sessionID sql.NullString
	var metadata []byte
	var resolvedAt sql.NullTime
	err := row.Scan(&n.ID, &n.TenantID, &n.UserID, &sessionID, &n.Type, &n.Priority,
		&n.Channel, &n.Title, &n.Body, &n.ReferenceID, &n.Count, &n.Read,
		&metadata, &n.CreatedAt, &resolvedAt, &n.Resolution)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}
	n.SessionID = sessionID.String
	if resolvedAt.Valid {
		n.ResolvedAt = &resolvedAt.Time
	}
	if n.Metadata, err = scanJSONB(metadata); err != nil {
		return nil, err
	}
	return &n, nil
}
