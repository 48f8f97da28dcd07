package agents

import (
	"context"
	"fmt"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/graph"
	"github.com/famulus-ai/famulus/pkg/integrity"
	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/planner"
	"github.com/famulus-ai/famulus/pkg/tools"
)

func testConfig() *config.Config {
	return &config.Config{
		Defaults: &config.Defaults{LLMProvider: "test"},
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test": {Type: config.LLMProviderTypeAnthropic, Model: "test-model"},
		}),
	}
}

func baseState() *graph.State {
	return &graph.State{
		TenantID:  "tenant-1",
		UserID:    "user-1",
		SessionID: "sess-1",
		Message:   "what does my sister do again?",
		Session: &models.Session{
			ID:       "sess-1",
			TenantID: "tenant-1",
			UserID:   "user-1",
			Status:   models.SessionActive,
		},
	}
}

func userMsg(id int64, content string) *models.Message {
	return &models.Message{ID: id, SessionID: "sess-1", Role: models.RoleUserMsg, Content: content}
}

// opLog records the order of side effects across fakes.
type opLog struct {
	ops []string
}

func (l *opLog) add(op string) { l.ops = append(l.ops, op) }

type fakeMemoryReader struct {
	window []*models.Message
	primed []*models.Message

	result   *models.MemoryQueryResult
	queryErr error
	gotQuery *models.MemoryQuery
}

func (f *fakeMemoryReader) Window(string) []*models.Message { return f.window }

func (f *fakeMemoryReader) Prime(_ string, msgs []*models.Message) {
	f.primed = msgs
	f.window = msgs
}

func (f *fakeMemoryReader) Query(_ context.Context, q *models.MemoryQuery) (*models.MemoryQueryResult, error) {
	f.gotQuery = q
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return &models.MemoryQueryResult{}, nil
}

type fakeTailer struct {
	msgs     []*models.Message
	err      error
	calls    int
	gotLimit int
}

func (f *fakeTailer) Tail(_ context.Context, _, _ string, n int) ([]*models.Message, error) {
	f.calls++
	f.gotLimit = n
	if f.err != nil {
		return nil, f.err
	}
	return f.msgs, nil
}

type fakeMemoryWriter struct {
	log     *opLog
	err     error
	entries []storedEntry
}

type storedEntry struct {
	tenantID   string
	userID     string
	content    string
	kind       models.MemoryKind
	importance float64
	sessions   []string
}

func (f *fakeMemoryWriter) AddLong(_ context.Context, tenantID, userID, content string, kind models.MemoryKind, importance float64, sourceSessions []string) (*models.MemoryEntry, error) {
	if f.log != nil {
		f.log.add("store:" + content)
	}
	if f.err != nil {
		return nil, f.err
	}
	f.entries = append(f.entries, storedEntry{tenantID, userID, content, kind, importance, sourceSessions})
	return &models.MemoryEntry{ID: fmt.Sprintf("mem-%d", len(f.entries)), Content: content}, nil
}

type fakeInvoker struct {
	// results scripts per-tool outcomes consumed in order; an exhausted or
	// missing script yields a default OK result.
	results map[string][]*models.ToolResult
	calls   []tools.Call
}

func (f *fakeInvoker) Invoke(_ context.Context, call tools.Call) *models.ToolResult {
	f.calls = append(f.calls, call)
	if queue := f.results[call.Tool]; len(queue) > 0 {
		next := queue[0]
		f.results[call.Tool] = queue[1:]
		return next
	}
	return &models.ToolResult{Tool: call.Tool, Status: models.ToolOK, Output: "output of " + call.Tool, Attempts: 1}
}

type fakePlanStore struct {
	saved    []*models.Plan
	cleared  int
	saveErr  error
	clearErr error
}

func (f *fakePlanStore) SavePendingPlan(_ context.Context, _, _ string, plan *models.Plan) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, plan)
	return nil
}

func (f *fakePlanStore) ClearPendingPlan(context.Context, string, string) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	f.cleared++
	return nil
}

type fakeTaskSink struct {
	tasks []*models.Task
	err   error
}

func (f *fakeTaskSink) Enqueue(task *models.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

type fakeNotifier struct {
	published []*models.Notification
	err       error
}

func (f *fakeNotifier) Publish(_ context.Context, n *models.Notification) (*models.Notification, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, n)
	return n, nil
}

type fakeChecker struct {
	log      *opLog
	findings []integrity.Finding
	err      error
	got      []integrity.Candidate
}

func (f *fakeChecker) Check(_ context.Context, cand integrity.Candidate) ([]integrity.Finding, error) {
	if f.log != nil {
		f.log.add("check:" + cand.Content)
	}
	f.got = append(f.got, cand)
	if f.err != nil {
		return nil, f.err
	}
	return f.findings, nil
}

type fakeClassifier struct {
	got planner.Input
	dec planner.Decision
}

func (f *fakeClassifier) Classify(_ context.Context, in planner.Input) planner.Decision {
	f.got = in
	return f.dec
}

// fakeSpawner records spawned work. With sync set the function runs inline;
// otherwise it is kept for the test to release.
type fakeSpawner struct {
	sync  bool
	names []string
	fns   []func(ctx context.Context)
}

func (f *fakeSpawner) Spawn(name string, fn func(ctx context.Context)) {
	f.names = append(f.names, name)
	if f.sync {
		fn(context.Background())
		return
	}
	f.fns = append(f.fns, fn)
}
