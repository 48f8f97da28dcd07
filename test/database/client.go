package database

import (
	"testing"

	"github.com/famulus-ai/famulus/pkg/storage"
	"github.com/famulus-ai/famulus/test/util"
)

// NewTestClient creates a test database client.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: spins up a testcontainer with PostgreSQL.
// The container/connection is automatically cleaned up when the test ends.
func NewTestClient(t *testing.T) *storage.Client {
	db, connStr := util.SetupTestDatabase(t)
	return storage.NewClientFromDB(db, connStr)
}
