package tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/models"
)

// flakyHandler fails with the given error until failures are spent.
type flakyHandler struct {
	mu       sync.Mutex
	failures int
	err      error
	output   string
	calls    int
}

func (h *flakyHandler) Call(_ context.Context, _ Invocation) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.calls <= h.failures {
		return "", h.err
	}
	return h.output, nil
}

// captureIndexer records AddLong calls.
type captureIndexer struct {
	mu      sync.Mutex
	entries []indexedEntry
	err     error
}

type indexedEntry struct {
	userID     string
	content    string
	importance float64
	sources    []string
}

func (c *captureIndexer) AddLong(_ context.Context, _, userID, content string, _ models.MemoryKind, importance float64, sourceSessions []string) (*models.MemoryEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.entries = append(c.entries, indexedEntry{
		userID:     userID,
		content:    content,
		importance: importance,
		sources:    sourceSessions,
	})
	return &models.MemoryEntry{ID: "mem-1", Tier: models.TierLong, Content: content}, nil
}

// captureNotifier records published notifications.
type captureNotifier struct {
	mu        sync.Mutex
	published []*models.Notification
}

func (c *captureNotifier) Publish(_ context.Context, n *models.Notification) (*models.Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, n)
	return n, nil
}

func testDefaults() *config.Defaults {
	return &config.Defaults{
		ToolTimeout:     5 * time.Second,
		ToolTimeoutMax:  10 * time.Minute,
		ToolMaxAttempts: 3,
	}
}

func newTestInvoker(t *testing.T, r *Registry, indexer Indexer, notifier Notifier) *Invoker {
	t.Helper()
	inv := NewInvoker(r, testDefaults(), &config.MemoryConfig{IndexMaxChars: 4000}, indexer, nil, notifier)
	inv.OverrideBackOffForTest(func() backoff.BackOff { return &backoff.ZeroBackOff{} })
	return inv
}

func registerFlaky(t *testing.T, r *Registry, name string, h Handler, indexWorthy bool) {
	t.Helper()
	require.NoError(t, r.Register(&Binding{
		Descriptor: models.ToolDescriptor{
			Name:        name,
			What:        "test tool",
			Schema:      mustSchemaDoc(`{"type":"object","properties":{"query":{"type":"string"}}}`),
			SideEffect:  models.SideEffectRead,
			IndexWorthy: indexWorthy,
		},
		Handler: h,
	}))
}

func TestInvokeSuccess(t *testing.T) {
	r := NewRegistry()
	registerFlaky(t, r, "echo", staticHandler("hello world"), false)
	inv := newTestInvoker(t, r, nil, nil)

	res := inv.Invoke(context.Background(), Call{
		TenantID: "t1", UserID: "u1", SessionID: "s1",
		Tool: "echo", Args: map[string]any{"query": "hi"},
	})

	assert.True(t, res.OK())
	assert.Equal(t, "hello world", res.Output)
	assert.Equal(t, 1, res.Attempts)
	assert.NotEmpty(t, res.ArgsDigest)
	assert.Nil(t, res.Indexing)
}

func TestInvokeUnknownTool(t *testing.T) {
	inv := newTestInvoker(t, NewRegistry(), nil, nil)

	res := inv.Invoke(context.Background(), Call{Tool: "nope"})

	assert.Equal(t, models.ToolError, res.Status)
	assert.Equal(t, models.ErrKindBadArgs, res.ErrorKind)
	assert.Equal(t, 0, res.Attempts)
}

func TestInvokeBadArgs(t *testing.T) {
	r := NewRegistry()
	registerFlaky(t, r, "echo", staticHandler("x"), false)
	inv := newTestInvoker(t, r, nil, nil)

	t.Run("unknown field", func(t *testing.T) {
		res := inv.Invoke(context.Background(), Call{
			Tool: "echo", Args: map[string]any{"query": "hi", "bogus": 1},
		})
		assert.Equal(t, models.ErrKindBadArgs, res.ErrorKind)
		assert.Equal(t, 0, res.Attempts, "validation failures never reach the handler")
	})

	t.Run("wrong type", func(t *testing.T) {
		res := inv.Invoke(context.Background(), Call{
			Tool: "echo", Args: map[string]any{"query": float64(7)},
		})
		assert.Equal(t, models.ErrKindBadArgs, res.ErrorKind)
	})
}

func TestInvokeRetriesRetriableKinds(t *testing.T) {
	r := NewRegistry()
	h := &flakyHandler{
		failures: 2,
		err:      NewError(models.ErrKindUpstreamUnavailable, "upstream hiccup"),
		output:   "finally",
	}
	registerFlaky(t, r, "flaky", h, false)
	inv := newTestInvoker(t, r, nil, nil)

	res := inv.Invoke(context.Background(), Call{Tool: "flaky", Args: map[string]any{}})

	assert.True(t, res.OK())
	assert.Equal(t, "finally", res.Output)
	assert.Equal(t, 3, res.Attempts)
}

func TestInvokeExhaustsAttempts(t *testing.T) {
	r := NewRegistry()
	h := &flakyHandler{
		failures: 10,
		err:      NewError(models.ErrKindTransportTimeout, "too slow"),
	}
	registerFlaky(t, r, "slow", h, false)
	inv := newTestInvoker(t, r, nil, nil)

	res := inv.Invoke(context.Background(), Call{Tool: "slow", Args: map[string]any{}})

	assert.Equal(t, models.ToolError, res.Status)
	assert.Equal(t, models.ErrKindTransportTimeout, res.ErrorKind)
	assert.Equal(t, 3, res.Attempts, "attempt budget is 3")
}

func TestInvokeDoesNotRetryNonRetriable(t *testing.T) {
	tests := []struct {
		name       string
		kind       models.ErrorKind
		wantStatus models.ToolStatus
	}{
		{"bad args", models.ErrKindBadArgs, models.ToolError},
		{"safety blocked", models.ErrKindSafetyBlocked, models.ToolDenied},
		{"auth required", models.ErrKindAuthRequired, models.ToolDenied},
		{"integrity violation", models.ErrKindIntegrityViolation, models.ToolError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			h := &flakyHandler{failures: 10, err: NewError(tt.kind, "nope")}
			registerFlaky(t, r, "tool", h, false)
			inv := newTestInvoker(t, r, nil, nil)

			res := inv.Invoke(context.Background(), Call{Tool: "tool", Args: map[string]any{}})

			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.kind, res.ErrorKind)
			assert.Equal(t, 1, res.Attempts, "non-retriable kinds get exactly one attempt")
		})
	}
}

func TestInvokeAuthRequiredPublishesReauth(t *testing.T) {
	r := NewRegistry()
	h := &flakyHandler{failures: 10, err: NewError(models.ErrKindAuthRequired, "token expired")}
	registerFlaky(t, r, "gmail__list", h, false)
	notifier := &captureNotifier{}
	inv := newTestInvoker(t, r, nil, notifier)

	res := inv.Invoke(context.Background(), Call{
		TenantID: "t1", UserID: "u1", SessionID: "s1",
		Tool: "gmail__list", Args: map[string]any{},
	})

	assert.Equal(t, models.ToolDenied, res.Status)
	require.Len(t, notifier.published, 1)
	n := notifier.published[0]
	assert.Equal(t, models.NotifyReauthRequired, n.Type)
	assert.Equal(t, models.PriorityHigh, n.Priority)
	assert.Equal(t, "u1", n.UserID)
	assert.Equal(t, "gmail__list", n.ReferenceID)
}

func TestInvokeTimeout(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Binding{
		Descriptor: models.ToolDescriptor{Name: "sleepy", Schema: mustSchemaDoc(`{"type":"object"}`)},
		Handler: HandlerFunc(func(ctx context.Context, _ Invocation) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(2 * time.Second):
				return "too late", nil
			}
		}),
		Timeout: 20 * time.Millisecond,
	}))
	inv := newTestInvoker(t, r, nil, nil)

	res := inv.Invoke(context.Background(), Call{Tool: "sleepy", Args: map[string]any{}})

	assert.Equal(t, models.ErrKindTransportTimeout, res.ErrorKind)
	assert.Equal(t, 3, res.Attempts, "timeouts are retriable")
}

func TestTimeoutClamp(t *testing.T) {
	defaults := testDefaults()
	defaults.ToolTimeoutMax = 30 * time.Millisecond
	inv := NewInvoker(NewRegistry(), defaults, nil, nil, nil, nil)

	assert.Equal(t, 30*time.Millisecond, inv.timeoutFor(&Binding{Timeout: 10 * time.Minute}))
	assert.Equal(t, 30*time.Millisecond, inv.timeoutFor(&Binding{}), "the default clamps too")

	inv = NewInvoker(NewRegistry(), testDefaults(), nil, nil, nil, nil)
	assert.Equal(t, 5*time.Second, inv.timeoutFor(&Binding{}), "default below the clamp passes through")
	assert.Equal(t, 2*time.Second, inv.timeoutFor(&Binding{Timeout: 2 * time.Second}), "override below the clamp passes through")
}

func TestInvokeAutoIndex(t *testing.T) {
	r := NewRegistry()
	registerFlaky(t, r, "web_search", staticHandler("Go 1.24 Release Notes\nhttps://go.dev/doc"), true)
	indexer := &captureIndexer{}
	inv := newTestInvoker(t, r, indexer, nil)

	res := inv.Invoke(context.Background(), Call{
		TenantID: "t1", UserID: "u1", SessionID: "s1",
		Tool: "web_search", Args: map[string]any{"query": "go release"},
	})

	require.True(t, res.OK())
	require.NotNil(t, res.Indexing)
	assert.True(t, res.Indexing.Indexed)
	assert.Equal(t, "mem-1", res.Indexing.MemoryID)
	require.Len(t, indexer.entries, 1)
	got := indexer.entries[0]
	assert.Contains(t, got.content, "Go 1.24 Release Notes")
	assert.Equal(t, "u1", got.userID, "indexed output belongs to the user, not the session")
	assert.Equal(t, []string{"s1"}, got.sources, "the calling session is recorded as provenance")
	assert.Equal(t, autoIndexImportance, got.importance)
}

func TestInvokeAutoIndexTruncates(t *testing.T) {
	r := NewRegistry()
	long := strings.Repeat("x", 100)
	registerFlaky(t, r, "web_search", staticHandler(long), true)
	indexer := &captureIndexer{}
	inv := NewInvoker(r, testDefaults(), &config.MemoryConfig{IndexMaxChars: 40}, indexer, nil, nil)
	inv.OverrideBackOffForTest(func() backoff.BackOff { return &backoff.ZeroBackOff{} })

	res := inv.Invoke(context.Background(), Call{Tool: "web_search", Args: map[string]any{"query": "x"}})

	require.NotNil(t, res.Indexing)
	assert.True(t, res.Indexing.Indexed)
	assert.True(t, res.Indexing.Truncated)
	require.Len(t, indexer.entries, 1)
	assert.Len(t, indexer.entries[0].content, 40)
	assert.Equal(t, long, res.Output, "truncation applies to the indexed copy, not the result")
}

func TestInvokeAutoIndexBestEffort(t *testing.T) {
	r := NewRegistry()
	registerFlaky(t, r, "web_search", staticHandler("some output"), true)
	indexer := &captureIndexer{err: errors.New("db down")}
	inv := newTestInvoker(t, r, indexer, nil)

	res := inv.Invoke(context.Background(), Call{Tool: "web_search", Args: map[string]any{"query": "x"}})

	assert.True(t, res.OK(), "indexing failure never fails the call")
	require.NotNil(t, res.Indexing)
	assert.False(t, res.Indexing.Indexed)
	assert.Contains(t, res.Indexing.FailReason, "db down")
}

func TestInvokeNotIndexWorthySkipsIndexing(t *testing.T) {
	r := NewRegistry()
	registerFlaky(t, r, "memory_search", staticHandler("found"), false)
	indexer := &captureIndexer{}
	inv := newTestInvoker(t, r, indexer, nil)

	res := inv.Invoke(context.Background(), Call{Tool: "memory_search", Args: map[string]any{"query": "x"}})

	assert.True(t, res.OK())
	assert.Nil(t, res.Indexing)
	assert.Empty(t, indexer.entries)
}

func TestArgsDigestStable(t *testing.T) {
	a := argsDigest(map[string]any{"b": 2.0, "a": "one"})
	b := argsDigest(map[string]any{"a": "one", "b": 2.0})
	assert.Equal(t, a, b, "digest is key-order independent")
	assert.Len(t, a, 12)
	assert.Empty(t, argsDigest(nil))
}

func TestKindOfMapping(t *testing.T) {
	assert.Equal(t, models.ErrKindBadArgs, KindOf(NewError(models.ErrKindBadArgs, "x")))
	assert.Equal(t, models.ErrKindTransportTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, models.ErrKindUpstreamUnavailable, KindOf(errors.New("mystery")))
	assert.Equal(t, models.ErrorKind(""), KindOf(nil))

	wrapped := WrapError(models.ErrKindAuthRequired, "expired", errors.New("401"))
	assert.Equal(t, models.ErrKindAuthRequired, KindOf(wrapped))
	assert.ErrorContains(t, wrapped, "401")
}
