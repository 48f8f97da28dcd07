package kernel

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/integrity"
	"github.com/famulus-ai/famulus/pkg/llm"
	"github.com/famulus-ai/famulus/pkg/memory"
	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/notify"
	"github.com/famulus-ai/famulus/pkg/session"
	"github.com/famulus-ai/famulus/pkg/store"
	"github.com/famulus-ai/famulus/pkg/tools"
	"github.com/famulus-ai/famulus/pkg/vector"
	testdb "github.com/famulus-ai/famulus/test/database"
)

func testConfig() *config.Config {
	runtime := config.DefaultRuntimeConfig()
	runtime.WorkerPoolSize = 4
	runtime.DispatcherCount = 2
	runtime.RequestTimeout = 30 * time.Second
	runtime.GracefulShutdownTimeout = 2 * time.Second

	return &config.Config{
		Defaults:      &config.Defaults{LLMProvider: "test"},
		Runtime:       runtime,
		Memory:        config.DefaultMemoryConfig(),
		Pollers:       config.DefaultPollersConfig(),
		Retention:     config.DefaultRetentionConfig(),
		Notifications: config.DefaultNotificationsConfig(),
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
		Name:      "kernel-test",
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

// stubInvoker satisfies the tool loop without any tool servers.
type stubInvoker struct {
	calls []tools.Call
}

func (s *stubInvoker) Invoke(_ context.Context, call tools.Call) *models.ToolResult {
	s.calls = append(s.calls, call)
	return &models.ToolResult{
		Tool:     call.Tool,
		Status:   models.ToolOK,
		Output:   "output of " + call.Tool,
		Attempts: 1,
	}
}

type kernelFixture struct {
	kernel  *Kernel
	cfg     *config.Config
	llm     *llm.Scripted
	invoker *stubInvoker

	db            *sql.DB
	sessions      *session.Manager
	mem           *memory.Manager
	messages      *store.MessageStore
	memories      *store.MemoryStore
	integrations  *store.IntegrationStore
	notifications *store.NotificationStore
	notifier      *notify.Center

	tenantID string
	userID   string
	session  *models.Session
}

// newKernelFixture assembles a kernel over a throwaway database, an
// in-process vector store, and a scripted LLM. The kernel is not started;
// tests drive handlers directly unless they test the lifecycle itself.
func newKernelFixture(t *testing.T, opts ...func(*Deps)) *kernelFixture {
	t.Helper()
	ctx := context.Background()

	client := testdb.NewTestClient(t)
	db := client.DB()
	tenantID, userID := seedTenantUser(t, db)

	vectors, err := vector.NewChromemStore("", vector.HashEmbedder(256))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	cfg := testConfig()
	memories := store.NewMemoryStore(db)
	messages := store.NewMessageStore(db)
	integrations := store.NewIntegrationStore(db)
	notifications := store.NewNotificationStore(db)
	mem := memory.NewManager(cfg.Memory, memories, vectors)
	sessions := session.NewManager(store.NewSessionStore(db), messages, mem)
	notifier := notify.NewCenter(cfg.Notifications, notifications, notify.NewHub())

	scripted := llm.NewScripted()
	invoker := &stubInvoker{}

	deps := Deps{
		Config:        cfg,
		LLM:           scripted,
		Sessions:      sessions,
		Messages:      messages,
		Memory:        mem,
		Memories:      memories,
		Integrations:  integrations,
		Notifications: notifications,
		Notifier:      notifier,
		Registry:      tools.NewRegistry(),
		Invoker:       invoker,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	k, err := New(deps)
	require.NoError(t, err)

	sess, err := sessions.Start(ctx, tenantID, userID, "web")
	require.NoError(t, err)

	return &kernelFixture{
		kernel:        k,
		cfg:           cfg,
		llm:           scripted,
		invoker:       invoker,
		db:            db,
		sessions:      sessions,
		mem:           mem,
		messages:      messages,
		memories:      memories,
		integrations:  integrations,
		notifications: notifications,
		notifier:      notifier,
		tenantID:      tenantID,
		userID:        userID,
		session:       sess,
	}
}

func (fx *kernelFixture) listNotifications(t *testing.T) []*models.Notification {
	t.Helper()
	list, err := fx.notifications.List(context.Background(),
		fx.tenantID, fx.userID, models.NotificationFilters{})
	require.NoError(t, err)
	return list
}

// contradictionSeed is a stored pair of conflicting statements plus the
// blocking notification raised for them, the state the resolution paths
// start from.
type contradictionSeed struct {
	existing     *models.MemoryEntry
	candidate    *models.MemoryEntry
	notification *models.Notification
	finding      integrity.Finding
}

func seedContradiction(t *testing.T, fx *kernelFixture) *contradictionSeed {
	t.Helper()
	ctx := context.Background()

	existing, err := fx.mem.AddLong(ctx, fx.tenantID, fx.userID,
		"Works at Initech", models.MemoryFact, 0.8, []string{fx.session.ID})
	require.NoError(t, err)

	candidate, err := fx.mem.AddLong(ctx, fx.tenantID, fx.userID,
		"Works at Globex", models.MemoryFact, 0.8, []string{fx.session.ID})
	require.NoError(t, err)

	finding := integrity.Finding{
		Candidate: integrity.Candidate{
			TenantID:  fx.tenantID,
			UserID:    fx.userID,
			SessionID: fx.session.ID,
			Kind:      models.MemoryFact,
			Content:   "Works at Globex",
		},
		Existing:   existing,
		Confidence: 0.9,
		Rationale:  "The stated employer changed.",
	}

	n, err := fx.notifier.Publish(ctx, integrity.BuildContradictionNotification(finding))
	require.NoError(t, err)

	return &contradictionSeed{
		existing:     existing,
		candidate:    candidate,
		notification: n,
		finding:      finding,
	}
}
