package integrity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/llm"
	"github.com/famulus-ai/famulus/pkg/models"
)

type fakeMemory struct {
	result   *models.MemoryQueryResult
	err      error
	gotQuery *models.MemoryQuery
}

func (f *fakeMemory) Query(ctx context.Context, q *models.MemoryQuery) (*models.MemoryQueryResult, error) {
	f.gotQuery = q
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &models.MemoryQueryResult{}, nil
	}
	return f.result, nil
}

func integrityConfig() *config.Config {
	return &config.Config{
		Defaults: &config.Defaults{LLMProvider: "test"},
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test": {Type: config.LLMProviderTypeAnthropic, Model: "test-model"},
		}),
	}
}

func hitFor(entry *models.MemoryEntry) models.MemoryHit {
	return models.MemoryHit{Entry: entry, Score: 0.8}
}

func factEntry(id, content string) *models.MemoryEntry {
	return &models.MemoryEntry{
		ID:         id,
		TenantID:   "t1",
		UserID:     "u1",
		Tier:       models.TierLong,
		Kind:       models.MemoryFact,
		Content:    content,
		Importance: 0.9,
	}
}

func candidate(content string) Candidate {
	return Candidate{
		TenantID:   "t1",
		UserID:     "u1",
		SessionID:  "sess-1",
		Kind:       models.MemoryFact,
		Content:    content,
		Importance: 0.8,
	}
}

func TestCheckReportsHighConfidenceContradiction(t *testing.T) {
	mem := &fakeMemory{result: &models.MemoryQueryResult{
		Hits: []models.MemoryHit{hitFor(factEntry("mem-1", "user lives in Lisbon"))},
	}}
	scripted := llm.NewScripted()
	scripted.AddRouted(llm.PurposeIntegrity, llm.ScriptEntry{
		Text: `{"contradiction": true, "confidence": 0.95, "rationale": "cannot live in two cities"}`,
	})
	checker := NewChecker(mem, scripted, integrityConfig())

	findings, err := checker.Check(context.Background(), candidate("user moved to Berlin and lives there now"))
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, "mem-1", f.Existing.ID)
	assert.InDelta(t, 0.95, f.Confidence, 1e-9)
	assert.Equal(t, "cannot live in two cities", f.Rationale)

	// Retrieval is scoped to important long-term memories.
	require.NotNil(t, mem.gotQuery)
	assert.Equal(t, []models.MemoryTier{models.TierLong}, mem.gotQuery.Tiers)
	assert.Equal(t, topSimilar, mem.gotQuery.K)
	assert.InDelta(t, minImportance, mem.gotQuery.MinImportance, 1e-9)

	// Both statements reach the comparison prompt.
	reqs := scripted.Captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, llm.PurposeIntegrity, reqs[0].Purpose)
	assert.True(t, reqs[0].Options.JSONOnly)
	assert.Contains(t, reqs[0].Messages[1].Content, "user lives in Lisbon")
	assert.Contains(t, reqs[0].Messages[1].Content, "moved to Berlin")
}

func TestCheckConfidenceFloor(t *testing.T) {
	mem := &fakeMemory{result: &models.MemoryQueryResult{
		Hits: []models.MemoryHit{hitFor(factEntry("mem-1", "user lives in Lisbon"))},
	}}
	scripted := llm.NewScripted()
	scripted.AddRouted(llm.PurposeIntegrity, llm.ScriptEntry{
		Text: `{"contradiction": true, "confidence": 0.85, "rationale": "probably conflicting"}`,
	})
	checker := NewChecker(mem, scripted, integrityConfig())

	findings, err := checker.Check(context.Background(), candidate("user moved to Berlin and lives there now"))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestCheckSkipsIncompatibleKinds(t *testing.T) {
	pref := factEntry("mem-1", "user prefers aisle seats on planes")
	pref.Kind = models.MemoryPreference
	mem := &fakeMemory{result: &models.MemoryQueryResult{Hits: []models.MemoryHit{hitFor(pref)}}}
	scripted := llm.NewScripted()
	checker := NewChecker(mem, scripted, integrityConfig())

	findings, err := checker.Check(context.Background(), candidate("user is 34 years old"))
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Equal(t, 0, scripted.CallCount())
}

func TestCheckSkipsNearDuplicates(t *testing.T) {
	mem := &fakeMemory{result: &models.MemoryQueryResult{
		Hits: []models.MemoryHit{hitFor(factEntry("mem-1", "user lives in Lisbon"))},
	}}
	scripted := llm.NewScripted()
	checker := NewChecker(mem, scripted, integrityConfig())

	findings, err := checker.Check(context.Background(), candidate("User lives in  Lisbon."))
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Equal(t, 0, scripted.CallCount())
}

func TestCheckComparisonErrorDropsPair(t *testing.T) {
	mem := &fakeMemory{result: &models.MemoryQueryResult{
		Hits: []models.MemoryHit{hitFor(factEntry("mem-1", "user lives in Lisbon"))},
	}}
	scripted := llm.NewScripted()
	scripted.AddRouted(llm.PurposeIntegrity, llm.ScriptEntry{
		Err: llm.NewError(models.ErrKindUpstreamUnavailable, "provider down", nil),
	})
	checker := NewChecker(mem, scripted, integrityConfig())

	findings, err := checker.Check(context.Background(), candidate("user moved to Berlin and lives there now"))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestCheckMalformedVerdictDropsPair(t *testing.T) {
	mem := &fakeMemory{result: &models.MemoryQueryResult{
		Hits: []models.MemoryHit{hitFor(factEntry("mem-1", "user lives in Lisbon"))},
	}}
	scripted := llm.NewScripted()
	scripted.AddRouted(llm.PurposeIntegrity, llm.ScriptEntry{Text: "these statements disagree"})
	checker := NewChecker(mem, scripted, integrityConfig())

	findings, err := checker.Check(context.Background(), candidate("user moved to Berlin and lives there now"))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestCheckParallelPairs(t *testing.T) {
	mem := &fakeMemory{result: &models.MemoryQueryResult{
		Hits: []models.MemoryHit{
			hitFor(factEntry("mem-1", "user lives in Lisbon")),
			hitFor(factEntry("mem-2", "user works from the Lisbon office")),
			hitFor(factEntry("mem-3", "user commutes by tram every day")),
		},
	}}
	scripted := llm.NewScripted()
	for range 3 {
		scripted.AddRouted(llm.PurposeIntegrity, llm.ScriptEntry{
			Text: `{"contradiction": true, "confidence": 0.95, "rationale": "conflict"}`,
		})
	}
	checker := NewChecker(mem, scripted, integrityConfig())

	findings, err := checker.Check(context.Background(), candidate("user moved to Berlin and works remotely now"))
	require.NoError(t, err)
	assert.Len(t, findings, 3)
	assert.Equal(t, 3, scripted.CallCount())
}

func TestCheckQueryError(t *testing.T) {
	mem := &fakeMemory{err: errors.New("store down")}
	checker := NewChecker(mem, llm.NewScripted(), integrityConfig())

	_, err := checker.Check(context.Background(), candidate("anything"))
	require.Error(t, err)
}

func TestCheckEmptyContent(t *testing.T) {
	mem := &fakeMemory{}
	checker := NewChecker(mem, llm.NewScripted(), integrityConfig())

	findings, err := checker.Check(context.Background(), candidate("   "))
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Nil(t, mem.gotQuery)
}

func TestKindsComparable(t *testing.T) {
	tests := []struct {
		a, b models.MemoryKind
		want bool
	}{
		{models.MemoryFact, models.MemoryFact, true},
		{models.MemoryPreference, models.MemoryPreference, true},
		{models.MemoryEvent, models.MemoryEvent, true},
		{models.MemoryFact, models.MemoryEvent, true},
		{models.MemoryEvent, models.MemoryFact, true},
		{models.MemoryFact, models.MemoryPreference, false},
		{models.MemoryPreference, models.MemoryEvent, false},
		{models.MemoryConversationSummary, models.MemoryConversationSummary, false},
		{models.MemoryFact, models.MemoryConversationSummary, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, kindsComparable(tc.a, tc.b), "%s vs %s", tc.a, tc.b)
	}
}

func TestBuildResolutionTask(t *testing.T) {
	f := Finding{
		Candidate:  candidate("user moved to Berlin"),
		Existing:   factEntry("mem-1", "user lives in Lisbon"),
		Confidence: 0.93,
		Rationale:  "conflicting residence",
	}

	task := BuildResolutionTask(f)
	assert.Equal(t, models.TaskResolveContradiction, task.Type)
	assert.Equal(t, models.PriorityHigh, task.Priority)
	assert.Equal(t, "t1", task.TenantID)
	assert.Equal(t, "u1", task.UserID)
	assert.Equal(t, "sess-1", task.SessionID)
	assert.Equal(t, "user moved to Berlin", task.Payload["new_statement"])
	assert.Equal(t, "mem-1", task.Payload["existing_memory_id"])
	assert.Equal(t, "user lives in Lisbon", task.Payload["existing_statement"])
	assert.Equal(t, 0.93, task.Payload["confidence"])
}

func TestBuildContradictionNotification(t *testing.T) {
	f := Finding{
		Candidate:  candidate("user moved to Berlin"),
		Existing:   factEntry("mem-1", "user lives in Lisbon"),
		Confidence: 0.93,
		Rationale:  "conflicting residence",
	}

	n := BuildContradictionNotification(f)
	assert.Equal(t, models.NotifyContradiction, n.Type)
	assert.Equal(t, models.PriorityCritical, n.Priority)
	assert.Equal(t, "mem-1", n.ReferenceID)
	assert.Contains(t, n.Body, "user moved to Berlin")
	assert.Contains(t, n.Body, "user lives in Lisbon")
	assert.Equal(t, ResolutionOptions, n.Metadata["resolution_options"])
	assert.Equal(t, models.ChannelBlocking, models.ChannelFor(n.Priority))
}
