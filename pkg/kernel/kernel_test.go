package kernel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famulus-ai/famulus/pkg/llm"
	"github.com/famulus-ai/famulus/pkg/memory"
	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/notify"
	"github.com/famulus-ai/famulus/pkg/pollers"
	"github.com/famulus-ai/famulus/pkg/session"
	"github.com/famulus-ai/famulus/pkg/store"
	"github.com/famulus-ai/famulus/pkg/tools"
)

type stubMailOpener struct{}

func (stubMailOpener) Open(context.Context, *models.Integration) (pollers.MailProvider, error) {
	return nil, errors.New("not connected")
}

type stubCalendarOpener struct{}

func (stubCalendarOpener) Open(context.Context, *models.Integration) (pollers.CalendarProvider, error) {
	return nil, errors.New("not connected")
}

// dummyDeps is a fully populated Deps whose collaborators never get called:
// New only stores them. Good enough for wiring tests without a database.
func dummyDeps() Deps {
	cfg := testConfig()
	mem := memory.NewManager(cfg.Memory, store.NewMemoryStore(nil), nil)
	messages := store.NewMessageStore(nil)
	return Deps{
		Config:        cfg,
		LLM:           llm.NewScripted(),
		Sessions:      session.NewManager(store.NewSessionStore(nil), messages, mem),
		Messages:      messages,
		Memory:        mem,
		Memories:      store.NewMemoryStore(nil),
		Notifications: store.NewNotificationStore(nil),
		Notifier:      notify.NewCenter(nil, store.NewNotificationStore(nil), notify.NewHub()),
		Registry:      tools.NewRegistry(),
		Invoker:       &stubInvoker{},
	}
}

func TestNewValidatesDeps(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Deps)
		wantErr string
	}{
		{"config", func(d *Deps) { d.Config = nil }, "config is required"},
		{"llm", func(d *Deps) { d.LLM = nil }, "llm client is required"},
		{"sessions", func(d *Deps) { d.Sessions = nil }, "session manager is required"},
		{"messages", func(d *Deps) { d.Messages = nil }, "message store is required"},
		{"memory manager", func(d *Deps) { d.Memory = nil }, "memory manager is required"},
		{"memory store", func(d *Deps) { d.Memories = nil }, "memory store is required"},
		{"notifications", func(d *Deps) { d.Notifications = nil }, "notification store is required"},
		{"notifier", func(d *Deps) { d.Notifier = nil }, "notification center is required"},
		{"registry", func(d *Deps) { d.Registry = nil }, "tool registry is required"},
		{"invoker", func(d *Deps) { d.Invoker = nil }, "tool invoker is required"},
		{"pollers need integrations", func(d *Deps) { d.Mail = stubMailOpener{} }, "integration store is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := dummyDeps()
			tc.mutate(&deps)
			_, err := New(deps)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNewWithMinimalDeps(t *testing.T) {
	k, err := New(dummyDeps())
	require.NoError(t, err)
	require.NotNil(t, k)

	h := k.Health()
	assert.Equal(t, 2, h.Dispatcher.Consumers)
	assert.Equal(t, 4, h.Pool.Size)
	assert.Equal(t, 0, h.Queue.Pending)
	assert.Empty(t, h.Warnings)
	assert.Empty(t, h.Probes)

	// Only the retention sweep is scheduled without pollers or probes.
	require.Len(t, h.Jobs, 1)
	assert.Equal(t, "retention", h.Jobs[0].Name)
	assert.Equal(t, k.retention.CleanupInterval, h.Jobs[0].Interval)
}

func TestNewRegistersPollersAndProbes(t *testing.T) {
	deps := dummyDeps()
	deps.Integrations = store.NewIntegrationStore(nil)
	deps.Mail = stubMailOpener{}
	deps.Calendar = stubCalendarOpener{}
	deps.Probes = []pollers.Probe{
		{
			ID:       "imap",
			Resource: "imap.example.com",
			Check:    func(ctx context.Context) pollers.ProbeStatus { return pollers.StatusHealthy },
		},
		{
			ID:       "caldav",
			Resource: "caldav.example.com",
			Interval: 5 * time.Second,
			Check:    func(ctx context.Context) pollers.ProbeStatus { return pollers.StatusHealthy },
		},
	}

	k, err := New(deps)
	require.NoError(t, err)

	jobs := k.Health().Jobs
	names := make(map[string]time.Duration, len(jobs))
	for _, job := range jobs {
		names[job.Name] = job.Interval
	}

	assert.Equal(t, deps.Config.Pollers.EmailInterval, names["email_poller"])
	assert.Equal(t, deps.Config.Pollers.CalendarInterval, names["calendar_watcher"])
	assert.Equal(t, deps.Config.Pollers.HealthInterval, names["health:imap"]) // no per-probe interval
	assert.Equal(t, 5*time.Second, names["health:caldav"])
	assert.Contains(t, names, "retention")
	assert.Len(t, jobs, 5)
}

func TestKernelStartStop(t *testing.T) {
	fx := newKernelFixture(t)
	ctx := context.Background()

	fx.kernel.Start(ctx)
	fx.kernel.Start(ctx) // idempotent

	// A queued repair pass flows scheduler-free through the dispatcher.
	task := models.NewTask(models.TaskIntegrityCheck, models.PriorityMedium, fx.tenantID)
	require.NoError(t, fx.kernel.queue.Enqueue(task))

	require.Eventually(t, func() bool {
		return fx.kernel.dispatcher.Stats().Processed >= 1
	}, 5*time.Second, 10*time.Millisecond)

	fx.kernel.Stop()

	h := fx.kernel.Health()
	assert.GreaterOrEqual(t, h.Queue.Completed, int64(1))
	assert.Equal(t, int64(0), h.Dispatcher.Failed)
}
