package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/famulus-ai/famulus/pkg/models"
)

// FileStore manages uploaded file metadata. Bytes live on disk under the
// storage path; rows here are the index.
type FileStore struct {
	db *sql.DB
}

// NewFileStore creates a new FileStore
func NewFileStore(db *sql.DB) *FileStore {
	return &FileStore{db: db}
}

// Create inserts a file record.
func (s *FileStore) Create(ctx context.Context, file *models.File) error {
	if file.ID == "" {
		return NewValidationError("id", "required")
	}
	if file.UserID == "" {
		return NewValidationError("user_id", "required")
	}
	if file.Name == "" {
		return NewValidationError("name", "required")
	}
	if file.StoragePath == "" {
		return NewValidationError("storage_path", "required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (id, tenant_id, user_id, session_id, name, content_type, size_bytes, storage_path, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		file.ID, file.TenantID, file.UserID, nullIfEmpty(file.SessionID),
		file.Name, file.ContentType, file.SizeBytes, file.StoragePath, file.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	return nil
}

// Get returns a file record by ID.
func (s *FileStore) Get(ctx context.Context, tenantID, id string) (*models.File, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, user_id, session_id, name, content_type, size_bytes, storage_path, created_at
		 FROM files WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	return scanFile(row)
}

// ListByUser returns a user's files, newest first.
func (s *FileStore) ListByUser(ctx context.Context, tenantID, userID string) ([]*models.File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, user_id, session_id, name, content_type, size_bytes, storage_path, created_at
		 FROM files WHERE tenant_id = $1 AND user_id = $2 ORDER BY created_at DESC`,
		tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan files: %w", err)
	}
	return files, nil
}

// Delete removes a file record.
func (s *FileStore) Delete(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM files WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanFile(row rowScanner) (*models.File, error) {
	var file models.File
	var sessionID sql.NullString
	err := row.Scan(&file.ID, &file.TenantID, &file.UserID, &sessionID, &file.Name,
		&file.ContentType, &file.SizeBytes, &file.StoragePath, &file.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan file: %w", err)
	}
	file.SessionID = sessionID.String
	return &file, nil
}
