package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/famulus-ai/famulus/pkg/models"
)

// IntegrationStore manages external service integrations (email, calendar,
// and tool servers discovered at startup).
type IntegrationStore struct {
	db *sql.DB
}

// NewIntegrationStore creates a new IntegrationStore
func NewIntegrationStore(db *sql.DB) *IntegrationStore {
	return &IntegrationStore{db: db}
}

// Create inserts an integration.
func (s *IntegrationStore) Create(ctx context.Context, integration *models.Integration) error {
	if integration.ID == "" {
		return NewValidationError("id", "required")
	}
	if integration.UserID == "" {
		return NewValidationError("user_id", "required")
	}
	if integration.Provider == "" {
		return NewValidationError("provider", "required")
	}

	metadata, err := jsonbValue(integration.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO integrations (id, tenant_id, user_id, provider, endpoint_url, status, encrypted_credentials, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		integration.ID, integration.TenantID, integration.UserID, integration.Provider,
		integration.EndpointURL, integration.Status, integration.EncryptedCredentials,
		metadata, integration.CreatedAt, integration.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create integration: %w", err)
	}
	return nil
}

// Get returns an integration by ID.
func (s *IntegrationStore) Get(ctx context.Context, tenantID, id string) (*models.Integration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, user_id, provider, endpoint_url, status, encrypted_credentials, metadata, created_at, updated_at
		 FROM integrations WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	return scanIntegration(row)
}

// InsertEndpoint inserts an integration keyed by its normalized endpoint
// URL. A (user, endpoint) collision returns ErrAlreadyExists; startup
// registration treats that as already registered.
func (s *IntegrationStore) InsertEndpoint(ctx context.Context, integration *models.Integration) error {
	if integration.ID == "" {
		return NewValidationError("id", "required")
	}
	if integration.UserID == "" {
		return NewValidationError("user_id", "required")
	}
	if integration.Provider == "" {
		return NewValidationError("provider", "required")
	}
	if integration.EndpointURL == "" {
		return NewValidationError("endpoint_url", "required")
	}

	metadata, err := jsonbValue(integration.Metadata)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO integrations (id, tenant_id, user_id, provider, endpoint_url, status, encrypted_credentials, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (tenant_id, user_id, endpoint_url) WHERE endpoint_url <> '' DO NOTHING`,
		integration.ID, integration.TenantID, integration.UserID, integration.Provider,
		integration.EndpointURL, integration.Status, integration.EncryptedCredentials,
		metadata, integration.CreatedAt, integration.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert integration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// GetByUserAndEndpoint returns the integration a user already has for a
// normalized endpoint URL, or ErrNotFound. Startup auto-registration uses
// this to avoid duplicate rows for the same server.
func (s *IntegrationStore) GetByUserAndEndpoint(ctx context.Context, tenantID, userID, endpointURL string) (*models.Integration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, user_id, provider, endpoint_url, status, encrypted_credentials, metadata, created_at, updated_at
		 FROM integrations WHERE tenant_id = $1 AND user_id = $2 AND endpoint_url = $3`,
		tenantID, userID, endpointURL)
	return scanIntegration(row)
}

// ListByProvider returns enabled integrations for one provider across users.
// Pollers use this to find the accounts they watch.
func (s *IntegrationStore) ListByProvider(ctx context.Context, tenantID, provider string) ([]*models.Integration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, user_id, provider, endpoint_url, status, encrypted_credentials, metadata, created_at, updated_at
		 FROM integrations
		 WHERE tenant_id = $1 AND provider = $2 AND status = $3
		 ORDER BY created_at`,
		tenantID, provider, models.IntegrationEnabled)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	var integrations []*models.Integration
	for rows.Next() {
		integration, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		integrations = append(integrations, integration)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan integrations: %w", err)
	}
	return integrations, nil
}

// ListEnabledByProvider returns every enabled integration for one provider
// across all tenants. Background pollers sweep the whole fleet with this.
func (s *IntegrationStore) ListEnabledByProvider(ctx context.Context, provider string) ([]*models.Integration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, user_id, provider, endpoint_url, status, encrypted_credentials, metadata, created_at, updated_at
		 FROM integrations
		 WHERE provider = $1 AND status = $2
		 ORDER BY tenant_id, created_at`,
		provider, models.IntegrationEnabled)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	var integrations []*models.Integration
	for rows.Next() {
		integration, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		integrations = append(integrations, integration)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan integrations: %w", err)
	}
	return integrations, nil
}

// SetStatus transitions an integration's status, stamping updated_at.
func (s *IntegrationStore) SetStatus(ctx context.Context, tenantID, id string, status models.IntegrationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE integrations SET status = $3, updated_at = $4 WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update integration status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCredentials replaces the sealed credential blob.
func (s *IntegrationStore) SetCredentials(ctx context.Context, tenantID, id string, encrypted []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE integrations SET encrypted_credentials = $3, updated_at = $4 WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, encrypted, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update integration credentials: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanIntegration(row rowScanner) (*models.Integration, error) {
	var integration models.Integration
	var metadata []byte
	err := row.Scan(&integration.ID, &integration.TenantID, &integration.UserID,
		&integration.Provider, &integration.EndpointURL, &integration.Status,
		&integration.EncryptedCredentials, &metadata, &integration.CreatedAt, &integration.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan integration: %w", err)
	}
	if integration.Metadata, err = scanJSONB(metadata); err != nil {
		return nil, err
	}
	return &integration, nil
}
