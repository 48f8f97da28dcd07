package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// seedTenantUser creates a tenant and one user so rows with foreign keys can
// be inserted. Returns their IDs.
func seedTenantUser(t *testing.T, db *sql.DB) (tenantID, userID string) {
	t.Helper()
	ctx := context.Background()
	tenants := NewTenantStore(db)

	tenantID = uuid.New().String()
	require.NoError(t, tenants.CreateTenant(ctx, &models.Tenant{
		ID:        tenantID,
		Name:      "test-tenant",
		CreatedAt: time.Now().UTC(),
	}))

	userID = uuid.New().String()
	require.NoError(t, tenants.CreateUser(ctx, &models.User{
		ID:        userID,
		TenantID:  tenantID,
		Email:     userID + "@example.com",
		Role:      models.RoleUser,
		CreatedAt: time.Now().UTC(),
	}))
	return tenantID, userID
}

// seedSession creates an active session for the given user.
func seedSession(t *testing.T, db *sql.DB, tenantID, userID string) *models.Session {
	t.Helper()
	session, err := NewSessionStore(db).Create(context.Background(), tenantID, userID, "web")
	require.NoError(t, err)
	return session
}
