// Package e2e boots complete famulus instances, real database and HTTP
// server included, and drives them through the public API with a scripted
// model. Only the LLM transport and the web search provider are faked.
package e2e

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/famulus-ai/famulus/pkg/api"
	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/integrity"
	"github.com/famulus-ai/famulus/pkg/kernel"
	"github.com/famulus-ai/famulus/pkg/llm"
	"github.com/famulus-ai/famulus/pkg/masking"
	"github.com/famulus-ai/famulus/pkg/memory"
	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/notify"
	"github.com/famulus-ai/famulus/pkg/pollers"
	"github.com/famulus-ai/famulus/pkg/session"
	"github.com/famulus-ai/famulus/pkg/storage"
	"github.com/famulus-ai/famulus/pkg/store"
	"github.com/famulus-ai/famulus/pkg/tools"
	"github.com/famulus-ai/famulus/pkg/vector"
	testdb "github.com/famulus-ai/famulus/test/database"
	"github.com/famulus-ai/famulus/test/util"
)

// TestApp is one booted famulus instance: a per-test database schema, the
// kernel with its queue and pool running, and the HTTP server on a random
// port. One tenant and one user are pre-seeded; the HTTP helpers send their
// identity headers.
type TestApp struct {
	Config *config.Config
	DB     *storage.Client

	// Test wiring
	LLM    *llm.Scripted
	Search *FakeSearch

	// Real infrastructure
	Kernel   *kernel.Kernel
	Sessions *session.Manager
	Notifier *notify.Center
	Memory   *memory.Manager
	Server   *api.Server

	// Direct store handles for assertions HTTP does not expose.
	Messages      *store.MessageStore
	Memories      *store.MemoryStore
	Notifications *store.NotificationStore

	// Seeded identity
	TenantID string
	UserID   string

	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321/api/v1/ws"

	t *testing.T
}

// testAppConfig holds options accumulated before boot.
type testAppConfig struct {
	cfg       *config.Config
	llmClient *llm.Scripted
	probes    []pollers.Probe
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config. The config must carry every section the
// kernel requires; start from testConfig() and adjust.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithLLMClient sets a pre-scripted model client.
func WithLLMClient(client *llm.Scripted) TestAppOption {
	return func(c *testAppConfig) { c.llmClient = client }
}

// WithProbes registers health probes on the kernel's scheduler.
func WithProbes(probes ...pollers.Probe) TestAppOption {
	return func(c *testAppConfig) { c.probes = append(c.probes, probes...) }
}

// FakeSearch is a canned web search provider. Results returns the same slice
// for every query; calls are recorded for assertions.
type FakeSearch struct {
	mu      sync.Mutex
	results []models.SearchResult
	err     error
	queries []string
}

// SetResults replaces the canned result set.
func (f *FakeSearch) SetResults(results []models.SearchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = results
}

// SetError makes every search fail with err until cleared.
func (f *FakeSearch) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Queries returns a copy of every query seen so far.
func (f *FakeSearch) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.queries))
	copy(out, f.queries)
	return out
}

// Search implements tools.SearchProvider.
func (f *FakeSearch) Search(_ context.Context, query string, limit int) ([]models.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.results) {
		return f.results[:limit], nil
	}
	return f.results, nil
}

// NewTestApp boots a full famulus instance. Shutdown is registered via
// t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()
	ctx := context.Background()

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	cfg := tc.cfg
	if cfg == nil {
		cfg = testConfig()
	}
	scripted := tc.llmClient
	if scripted == nil {
		scripted = llm.NewScripted()
	}

	// 1. Database: per-test schema, migrated.
	dbClient := testdb.NewTestClient(t)
	db := dbClient.DB()
	tenantID, userID := seedTenantUser(t, db)

	// 2. Stores and the memory manager over an in-process vector store.
	messages := store.NewMessageStore(db)
	memories := store.NewMemoryStore(db)
	notifications := store.NewNotificationStore(db)
	integrations := store.NewIntegrationStore(db)

	vectors, err := vector.NewChromemStore("", vector.HashEmbedder(256))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })
	mem := memory.NewManager(cfg.Memory, memories, vectors)

	sessions := session.NewManager(store.NewSessionStore(db), messages, mem)

	// 3. Notification center with the real LISTEN/NOTIFY fanout. The listener
	// dials the same schema-scoped connection string the pool uses; NOTIFY is
	// database-level, so replicas sharing the database would hear each other.
	hub := notify.NewHub()
	center := notify.NewCenter(cfg.Notifications, notifications, hub)
	fanout := notify.NewPGFanout(db, util.GetBaseConnectionString(t), notifications, hub)
	require.NoError(t, fanout.Start(ctx))
	center.SetFanout(fanout)

	// 4. Tool surface: real registry, real invoker, canned search provider.
	search := &FakeSearch{}
	search.SetResults([]models.SearchResult{
		{Title: "Result one", URL: "https://example.com/1", Snippet: "First canned result."},
	})
	registry := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(registry, tools.BuiltinDeps{
		Memory:       mem,
		MemCfg:       cfg.Memory,
		Search:       search,
		Integrations: integrations,
		Pollers:      cfg.Pollers,
	}))
	invoker := tools.NewInvoker(registry, cfg.Defaults, cfg.Memory, mem, masking.NewService(), center)

	// 5. Kernel, started: the pool runs knowledge extraction for real.
	k, err := kernel.New(kernel.Deps{
		Config:        cfg,
		LLM:           scripted,
		Sessions:      sessions,
		Messages:      messages,
		Memory:        mem,
		Memories:      memories,
		Integrations:  integrations,
		Notifications: notifications,
		Notifier:      center,
		Registry:      registry,
		Invoker:       invoker,
		Checker:       integrity.NewChecker(mem, scripted, cfg),
		Probes:        tc.probes,
	})
	require.NoError(t, err)
	k.Start(ctx)

	// 6. HTTP server on a random port.
	server := api.NewServer(cfg, k, sessions, center, store.NewFileStore(db), dbClient)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = server.StartWithListener(ln)
	}()

	addr := ln.Addr().String()

	app := &TestApp{
		Config:        cfg,
		DB:            dbClient,
		LLM:           scripted,
		Search:        search,
		Kernel:        k,
		Sessions:      sessions,
		Notifier:      center,
		Memory:        mem,
		Server:        server,
		Messages:      messages,
		Memories:      memories,
		Notifications: notifications,
		TenantID:      tenantID,
		UserID:        userID,
		BaseURL:       fmt.Sprintf("http://%s", addr),
		WSURL:         fmt.Sprintf("ws://%s/api/v1/ws", addr),
		t:             t,
	}

	// Reverse-creation order; the server drains first because its handlers
	// run through the kernel.
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		k.Stop()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		fanout.Stop(stopCtx)
	})

	return app
}

// testConfig is the default app config: production defaults with a small
// worker pool and short shutdown budget.
func testConfig() *config.Config {
	runtime := config.DefaultRuntimeConfig()
	runtime.WorkerPoolSize = 4
	runtime.DispatcherCount = 2
	runtime.RequestTimeout = 30 * time.Second
	runtime.GracefulShutdownTimeout = 2 * time.Second

	return &config.Config{
		Defaults: &config.Defaults{
			LLMProvider:     "test",
			ToolTimeout:     10 * time.Second,
			ToolMaxAttempts: 3,
		},
		Runtime:       runtime,
		Memory:        config.DefaultMemoryConfig(),
		Pollers:       config.DefaultPollersConfig(),
		Retention:     config.DefaultRetentionConfig(),
		Notifications: config.DefaultNotificationsConfig(),
		System:        &config.SystemConfig{APIAddr: "127.0.0.1:0"},
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test": {Type: config.LLMProviderTypeAnthropic, Model: "test-model"},
		}),
	}
}

func seedTenantUser(t *testing.T, db *sql.DB) (tenantID, userID string) {
	t.Helper()
	ctx := context.Background()
	tenants := store.NewTenantStore(db)

	tenantID = uuid.New().String()
	require.NoError(t, tenants.CreateTenant(ctx, &models.Tenant{
		ID:        tenantID,
		Name:      "e2e-test",
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
