package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/famulus-ai/famulus/pkg/models"
)

// TenantStore manages tenants and their users.
type TenantStore struct {
	db *sql.DB
}

// NewTenantStore creates a new TenantStore
func NewTenantStore(db *sql.DB) *TenantStore {
	return &TenantStore{db: db}
}

// CreateTenant inserts a tenant.
func (s *TenantStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == "" {
		return NewValidationError("id", "required")
	}
	if tenant.Name == "" {
		return NewValidationError("name", "required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, created_at) VALUES ($1, $2, $3)`,
		tenant.ID, tenant.Name, tenant.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// GetTenant returns a tenant by ID.
func (s *TenantStore) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM tenants WHERE id = $1`, id).
		Scan(&tenant.ID, &tenant.Name, &tenant.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &tenant, nil
}

// CreateUser inserts a user under a tenant.
func (s *TenantStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		return NewValidationError("id", "required")
	}
	if user.TenantID == "" {
		return NewValidationError("tenant_id", "required")
	}
	if user.Email == "" {
		return NewValidationError("email", "required")
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}

	prefs, err := jsonbValue(user.Preferences)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, tenant_id, email, display_name, role, preferences, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.TenantID, user.Email, user.DisplayName, user.Role, prefs, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser returns a user by ID within a tenant.
func (s *TenantStore) GetUser(ctx context.Context, tenantID, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, email, display_name, role, preferences, created_at
		 FROM users WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	return scanUser(row)
}

// GetUserByEmail returns the user registered under an email address.
func (s *TenantStore) GetUserByEmail(ctx context.Context, tenantID, email string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, email, display_name, role, preferences, created_at
		 FROM users WHERE tenant_id = $1 AND email = $2`,
		tenantID, email)
	return scanUser(row)
}

// ListUsers returns all users of a tenant.
func (s *TenantStore) ListUsers(ctx context.Context, tenantID string) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, email, display_name, role, preferences, created_at
		 FROM users WHERE tenant_id = $1 ORDER BY created_at`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan users: %w", err)
	}
	return users, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var prefs []byte
	err := row.Scan(&user.ID, &user.TenantID, &user.Email, &user.DisplayName,
		&user.Role, &prefs, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if user.Preferences, err = scanJSONB(prefs); err != nil {
		return nil, err
	}
	return &user, nil
}
