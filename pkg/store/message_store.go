package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/famulus-ai/famulus/pkg/models"
)

// MessageStore manages session messages. The BIGSERIAL id is the ordering
// key: ORDER BY id reconstructs the conversation in commit order.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates a new MessageStore
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Append inserts a message and returns it with its assigned id.
func (s *MessageStore) Append(ctx context.Context, req models.CreateMessageRequest) (*models.Message, error) {
	if req.SessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if req.Role == "" {
		return nil, NewValidationError("role", "required")
	}

	metadata, err := jsonbValue(req.Metadata)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		SessionID: req.SessionID,
		TenantID:  req.TenantID,
		Role:      req.Role,
		Content:   req.Content,
		Metadata:  req.Metadata,
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO messages (session_id, tenant_id, role, content, metadata)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		req.SessionID, req.TenantID, req.Role, req.Content, metadata).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	return msg, nil
}

// ListBySession returns messages after the given cursor in commit order.
// afterID 0 reads from the beginning; limit 0 means no limit.
func (s *MessageStore) ListBySession(ctx context.Context, tenantID, sessionID string, afterID int64, limit int) ([]*models.Message, error) {
	query := `SELECT id, session_id, tenant_id, role, content, metadata, created_at
		 FROM messages WHERE tenant_id = $1 AND session_id = $2 AND id > $3 ORDER BY id`
	args := []any{tenantID, sessionID, afterID}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		var metadata []byte
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.TenantID, &msg.Role,
			&msg.Content, &metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if msg.Metadata, err = scanJSONB(metadata); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan messages: %w", err)
	}

	return messages, nil
}

// Tail returns the most recent n messages in commit order.
func (s *MessageStore) Tail(ctx context.Context, tenantID, sessionID string, n int) ([]*models.Message, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, tenant_id, role, content, metadata, created_at FROM (
			SELECT id, session_id, tenant_id, role, content, metadata, created_at
			FROM messages WHERE tenant_id = $1 AND session_id = $2
			ORDER BY id DESC LIMIT $3
		 ) recent ORDER BY id`,
		tenantID, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read message tail: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		var metadata []byte
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.TenantID, &msg.Role,
			&msg.Content, &metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if msg.Metadata, err = scanJSONB(metadata); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan messages: %w", err)
	}

	return messages, nil
}

// CountBySession returns how many messages a session holds.
func (s *MessageStore) CountBySession(ctx context.Context, tenantID, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE tenant_id = $1 AND session_id = $2`,
		tenantID, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}
