package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/famulus-ai/famulus/pkg/models"
)

// MemoryStore manages the persisted memory tiers: medium (per-session,
// TTL-bound) and long (per-user, fingerprint-deduplicated). Embeddings live
// in the vector store under the same IDs; keeping both sides aligned is the
// memory manager's job, not this store's.
type MemoryStore struct {
	db *sql.DB
}

// NewMemoryStore creates a new MemoryStore
func NewMemoryStore(db *sql.DB) *MemoryStore {
	return &MemoryStore{db: db}
}

// InsertMedium inserts a medium-tier entry.
func (s *MemoryStore) InsertMedium(ctx context.Context, entry *models.MemoryEntry) error {
	if entry.ID == "" {
		return NewValidationError("id", "required")
	}
	if entry.SessionID == "" {
		return NewValidationError("session_id", "required")
	}
	if entry.ExpiresAt == nil {
		return NewValidationError("expires_at", "required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories_medium (id, tenant_id, user_id, session_id, kind, content, importance, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.TenantID, entry.UserID, entry.SessionID, entry.Kind,
		entry.Content, entry.Importance, entry.CreatedAt, *entry.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert medium memory: %w", err)
	}
	return nil
}

// ListMediumBySession returns live medium-tier entries for a session.
func (s *MemoryStore) ListMediumBySession(ctx context.Context, tenantID, sessionID string) ([]*models.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, user_id, session_id, kind, content, importance, created_at, expires_at
		 FROM memories_medium
		 WHERE tenant_id = $1 AND session_id = $2 AND expires_at > now()
		 ORDER BY created_at`,
		tenantID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list medium memories: %w", err)
	}
	defer rows.Close()
	return scanMediumRows(rows)
}

// GetMediumByIDs returns live medium entries matching the given IDs.
func (s *MemoryStore) GetMediumByIDs(ctx context.Context, tenantID string, ids []string) ([]*models.MemoryEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, user_id, session_id, kind, content, importance, created_at, expires_at
		 FROM memories_medium
		 WHERE tenant_id = $1 AND id = ANY($2) AND expires_at > now()`,
		tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get medium memories: %w", err)
	}
	defer rows.Close()
	return scanMediumRows(rows)
}

// DeletedMemory identifies a removed row so the caller can drop the
// matching embedding from the right collection.
type DeletedMemory struct {
	ID        string
	TenantID  string
	UserID    string
	SessionID string
}

// DeleteExpiredMedium removes entries past their TTL and returns references
// to what was deleted.
func (s *MemoryStore) DeleteExpiredMedium(ctx context.Context, now time.Time) ([]DeletedMemory, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM memories_medium WHERE expires_at <= $1 RETURNING id, tenant_id, user_id, session_id`,
		now)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired medium memories: %w", err)
	}
	defer rows.Close()

	var deleted []DeletedMemory
	for rows.Next() {
		var d DeletedMemory
		if err := rows.Scan(&d.ID, &d.TenantID, &d.UserID, &d.SessionID); err != nil {
			return nil, fmt.Errorf("failed to scan deleted memory: %w", err)
		}
		deleted = append(deleted, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan deleted memories: %w", err)
	}
	return deleted, nil
}

// GetLongByFingerprint returns the long-term entry with the given content
// fingerprint, or ErrNotFound.
func (s *MemoryStore) GetLongByFingerprint(ctx context.Context, tenantID, userID, fingerprint string) (*models.MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, user_id, kind, content, importance, fingerprint, source_sessions, created_at
		 FROM memories_long
		 WHERE tenant_id = $1 AND user_id = $2 AND fingerprint = $3`,
		tenantID, userID, fingerprint)
	return scanLong(row)
}

// InsertLong inserts a long-term entry. A fingerprint collision returns
// ErrAlreadyExists; the caller merges instead.
func (s *MemoryStore) InsertLong(ctx context.Context, entry *models.MemoryEntry) error {
	if entry.ID == "" {
		return NewValidationError("id", "required")
	}
	if entry.Fingerprint == "" {
		return NewValidationError("fingerprint", "required")
	}

	sources, err := jsonbStrings(entry.SourceSessions)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memories_long (id, tenant_id, user_id, kind, content, importance, fingerprint, source_sessions, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (tenant_id, user_id, fingerprint) DO NOTHING`,
		entry.ID, entry.TenantID, entry.UserID, entry.Kind, entry.Content,
		entry.Importance, entry.Fingerprint, sources, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert long memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// UpdateLong updates importance and source sessions on an existing entry.
func (s *MemoryStore) UpdateLong(ctx context.Context, tenantID, id string, importance float64, sourceSessions []string) error {
	sources, err := jsonbStrings(sourceSessions)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories_long SET importance = $3, source_sessions = $4
		 WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, importance, sources)
	if err != nil {
		return fmt.Errorf("failed to update long memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLong removes a long-term entry row.
func (s *MemoryStore) DeleteLong(ctx context.Context, tenantID, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories_long WHERE tenant_id = $1 AND user_id = $2 AND id = $3`,
		tenantID, userID, id)
	if err != nil {
		return fmt.Errorf("failed to delete long memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetLong returns one long-term entry by ID.
func (s *MemoryStore) GetLong(ctx context.Context, tenantID, id string) (*models.MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, user_id, kind, content, importance, fingerprint, source_sessions, created_at
		 FROM memories_long WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	return scanLong(row)
}

// GetLongByIDs returns long-term entries matching the given IDs.
func (s *MemoryStore) GetLongByIDs(ctx context.Context, tenantID string, ids []string) ([]*models.MemoryEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, user_id, kind, content, importance, fingerprint, source_sessions, created_at
		 FROM memories_long WHERE tenant_id = $1 AND id = ANY($2)`,
		tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get long memories: %w", err)
	}
	defer rows.Close()
	return scanLongRows(rows)
}

// ListAllLong returns every long-term entry. The startup reindex walks this
// to rebuild embeddings for an in-memory vector store.
func (s *MemoryStore) ListAllLong(ctx context.Context) ([]*models.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, user_id, kind, content, importance, fingerprint, source_sessions, created_at
		 FROM memories_long ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list long memories: %w", err)
	}
	defer rows.Close()
	return scanLongRows(rows)
}

// ListAllMediumLive returns every unexpired medium-term entry, for the same
// startup reindex.
func (s *MemoryStore) ListAllMediumLive(ctx context.Context) ([]*models.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, user_id, session_id, kind, content, importance, created_at, expires_at
		 FROM memories_medium WHERE expires_at > now() ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list medium memories: %w", err)
	}
	defer rows.Close()
	return scanMediumRows(rows)
}

// ListLongByUser returns a user's long-term entries, most important first.
func (s *MemoryStore) ListLongByUser(ctx context.Context, tenantID, userID string, minImportance float64) ([]*models.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, user_id, kind, content, importance, fingerprint, source_sessions, created_at
		 FROM memories_long
		 WHERE tenant_id = $1 AND user_id = $2 AND importance >= $3
		 ORDER BY importance DESC, created_at DESC`,
		tenantID, userID, minImportance)
	if err != nil {
		return nil, fmt.Errorf("failed to list long memories: %w", err)
	}
	defer rows.Close()
	return scanLongRows(rows)
}

func scanMediumRows(rows *sql.Rows) ([]*models.MemoryEntry, error) {
	var entries []*models.MemoryEntry
	for rows.Next() {
		var entry models.MemoryEntry
		var expires time.Time
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.UserID, &entry.SessionID,
			&entry.Kind, &entry.Content, &entry.Importance, &entry.CreatedAt, &expires); err != nil {
			return nil, fmt.Errorf("failed to scan medium memory: %w", err)
		}
		entry.Tier = models.TierMedium
		entry.ExpiresAt = &expires
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan medium memories: %w", err)
	}
	return entries, nil
}

func scanLong(row rowScanner) (*models.MemoryEntry, error) {
	var entry models.MemoryEntry
	var sources []byte
	err := row.Scan(&entry.ID, &entry.TenantID, &entry.UserID, &entry.Kind, &entry.Content,
		&entry.Importance, &entry.Fingerprint, &sources, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan long memory: %w", err)
	}
	entry.Tier = models.TierLong
	if entry.SourceSessions, err = scanJSONBStrings(sources); err != nil {
		return nil, err
	}
	return &entry, nil
}

func scanLongRows(rows *sql.Rows) ([]*models.MemoryEntry, error) {
	var entries []*models.MemoryEntry
	for rows.Next() {
		var entry models.MemoryEntry
		var sources []byte
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.UserID, &entry.Kind, &entry.Content,
			&entry.Importance, &entry.Fingerprint, &sources, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan long memory: %w", err)
		}
		entry.Tier = models.TierLong
		var err error
		if entry.SourceSessions, err = scanJSONBStrings(sources); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan long memories: %w", err)
	}
	return entries, nil
}
