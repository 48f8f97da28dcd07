package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famulus-ai/famulus/pkg/llm"
	"github.com/famulus-ai/famulus/pkg/models"
)

// A plan that pauses on a wait_user step parks in the session; a short
// affirmative from the user resumes it past the question without consulting
// the planner model again, and the force_web_search flag is ignored for the
// acknowledgement.
func TestAcknowledgementResumesPausedPlan(t *testing.T) {
	app := NewTestApp(t)

	app.LLM.AddRouted(llm.PurposePlanner, llm.ScriptEntry{Text: `{
		"needs_plan": true,
		"goal": "Research ACME Corp",
		"steps": [
			{"type": "tool", "tool": "web_search", "args": {"query": "ACME Corp"}},
			{"type": "wait_user", "question": "Want more details?"},
			{"type": "respond", "instructions": "Summarise the findings."}
		]
	}`})
	// One extraction per turn; neither turn teaches anything durable.
	app.LLM.AddRouted(llm.PurposeKnowledge, llm.ScriptEntry{Text: `{"items": []}`})
	app.LLM.AddRouted(llm.PurposeKnowledge, llm.ScriptEntry{Text: `{"items": []}`})
	// The resumed plan's respond step is the only main-agent generation.
	app.LLM.AddRouted(llm.PurposeMainAgent, llm.ScriptEntry{
		Text: "ACME Corp makes everything, from anvils to rockets.",
	})

	sess := app.CreateSession(t, "web")

	reply := app.PostMessage(t, sess.ID, "Look up ACME Corp for me")
	require.NotNil(t, reply.Plan)
	assert.Equal(t, models.PlanWaitingUser, reply.Plan.Status)
	assert.Equal(t, "Want more details?", reply.Text)
	assert.Equal(t, []string{"ACME Corp"}, app.Search.Queries())
	planID := reply.Plan.ID

	// The paused plan is parked in session metadata.
	stored := app.GetSession(t, sess.ID)
	pending, ok := models.DecodePendingPlan(stored.Metadata)
	require.True(t, ok, "paused plan missing from session metadata")
	assert.Equal(t, planID, pending.ID)
	assert.Equal(t, models.PlanWaitingUser, pending.Status)

	reply2 := app.PostMessageForced(t, sess.ID, "sì, grazie")
	require.NotNil(t, reply2.Plan)
	assert.Equal(t, planID, reply2.Plan.ID, "acknowledgement must resume, not re-plan")
	assert.Equal(t, models.PlanCompleted, reply2.Plan.Status)
	assert.Equal(t, "ACME Corp makes everything, from anvils to rockets.", reply2.Text)

	// force_web_search was overridden for the acknowledgement: still one search.
	assert.Equal(t, []string{"ACME Corp"}, app.Search.Queries())

	// The completed plan no longer parks in the session.
	stored = app.GetSession(t, sess.ID)
	_, ok = models.DecodePendingPlan(stored.Metadata)
	assert.False(t, ok, "completed plan must clear from session metadata")

	// Both turns and both replies are in history, oldest first.
	msgs := app.ListMessages(t, sess.ID, "")
	require.Len(t, msgs, 4)
	assert.Equal(t, "Look up ACME Corp for me", msgs[0].Content)
	assert.Equal(t, "Want more details?", msgs[1].Content)
	assert.Equal(t, "sì, grazie", msgs[2].Content)
	assert.Equal(t, "ACME Corp makes everything, from anvils to rockets.", msgs[3].Content)
}

// Resuming is idempotent at the session level: once the plan completed, a
// second acknowledgement has no pending plan to resume and falls through to
// the planner.
func TestSecondAcknowledgementDoesNotReplay(t *testing.T) {
	app := NewTestApp(t)

	app.LLM.AddRouted(llm.PurposePlanner, llm.ScriptEntry{Text: `{
		"needs_plan": true,
		"goal": "Check the weather",
		"steps": [
			{"type": "tool", "tool": "web_search", "args": {"query": "weather Milan"}},
			{"type": "wait_user", "question": "Anything else?"}
		]
	}`})
	// The stray acknowledgement goes through classification like any chat.
	app.LLM.AddRouted(llm.PurposePlanner, llm.ScriptEntry{Text: `{"needs_plan": false}`})
	for range 3 {
		app.LLM.AddRouted(llm.PurposeKnowledge, llm.ScriptEntry{Text: `{"items": []}`})
	}
	// Resume completes the plan by running out of steps; both later turns
	// answer through the main agent.
	app.LLM.AddRouted(llm.PurposeMainAgent, llm.ScriptEntry{Text: "All done."})
	app.LLM.AddRouted(llm.PurposeMainAgent, llm.ScriptEntry{Text: "Nothing pending."})

	sess := app.CreateSession(t, "web")

	reply := app.PostMessage(t, sess.ID, "What's the weather in Milan?")
	require.NotNil(t, reply.Plan)
	require.Equal(t, models.PlanWaitingUser, reply.Plan.Status)

	reply2 := app.PostMessage(t, sess.ID, "ok")
	require.NotNil(t, reply2.Plan)
	assert.Equal(t, models.PlanCompleted, reply2.Plan.Status)
	assert.Equal(t, "All done.", reply2.Text)

	// The plan is spent: another "ok" cannot resume or re-run it.
	reply3 := app.PostMessage(t, sess.ID, "ok")
	assert.Nil(t, reply3.Plan)
	assert.Equal(t, "Nothing pending.", reply3.Text)
	assert.Equal(t, []string{"weather Milan"}, app.Search.Queries())
}

// A user statement that contradicts stored knowledge produces, off the
// critical path: a high-priority resolution task, a blocking notification on
// the live stream, and both statements in long-term memory until the owner
// resolves. The reply never waits for any of it.
func TestContradictionDetectionEndToEnd(t *testing.T) {
	app := NewTestApp(t)
	ctx := context.Background()

	existing, err := app.Memory.AddLong(ctx, app.TenantID, app.UserID,
		"Born on July 12, 1990", models.MemoryFact, 0.9, nil)
	require.NoError(t, err)

	app.LLM.AddRouted(llm.PurposePlanner, llm.ScriptEntry{Text: `{"needs_plan": false}`})
	app.LLM.AddRouted(llm.PurposeMainAgent, llm.ScriptEntry{Text: "Noted, thanks for telling me."})
	app.LLM.AddRouted(llm.PurposeKnowledge, llm.ScriptEntry{
		Text: `{"items": [{"type": "fact", "text": "Born on August 15, 1990", "importance": 0.9}]}`,
	})
	app.LLM.AddRouted(llm.PurposeIntegrity, llm.ScriptEntry{
		Text: `{"contradiction": true, "confidence": 0.95, "rationale": "The stated birth dates differ."}`,
	})

	ws, err := app.ConnectWS(ctx)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()
	_, err = ws.WaitForEventType(models.StreamSnapshot, 5*time.Second)
	require.NoError(t, err)

	sess := app.CreateSession(t, "web")
	reply := app.PostMessage(t, sess.ID, "Sono nato il 15 agosto 1990")

	// The answer comes back immediately; detection runs detached.
	assert.Equal(t, "Noted, thanks for telling me.", reply.Text)
	assert.False(t, reply.Degraded)

	evt, err := ws.WaitForNotification(models.NotifyContradiction, 10*time.Second)
	require.NoError(t, err)
	event := evt.Parsed["event"].(map[string]any)
	assert.Equal(t, string(models.PriorityCritical), event["priority"])
	assert.Equal(t, string(models.ChannelBlocking), event["channel"])
	assert.Equal(t, existing.ID, event["reference_id"])
	notificationID, _ := event["id"].(string)
	require.NotEmpty(t, notificationID)

	// Detection never blocks storage: both statements are on record.
	require.Eventually(t, func() bool {
		entries, listErr := app.Memories.ListLongByUser(ctx, app.TenantID, app.UserID, 0)
		return listErr == nil && len(entries) == 2
	}, 10*time.Second, 50*time.Millisecond, "candidate fact was not stored")

	// The queue carried a resolution task for the pair.
	items := app.ListNotifications(t, "priority=critical")
	require.Len(t, items, 1)
	assert.Equal(t, models.NotifyContradiction, items[0].Type)

	app.ResolveNotification(t, notificationID, "choose_new")

	// choose_new discards the contradicted memory and keeps the candidate.
	entries, err := app.Memories.ListLongByUser(ctx, app.TenantID, app.UserID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Born on August 15, 1990", entries[0].Content)

	items = app.ListNotifications(t, "")
	require.Len(t, items, 1)
	assert.Equal(t, "choose_new", items[0].Resolution)
	assert.NotNil(t, items[0].ResolvedAt)
}

// choose_existing is the mirror image: the user defends the stored fact and
// the freshly extracted candidate is withdrawn.
func TestContradictionResolveKeepsExisting(t *testing.T) {
	app := NewTestApp(t)
	ctx := context.Background()

	_, err := app.Memory.AddLong(ctx, app.TenantID, app.UserID,
		"Works at Initech", models.MemoryFact, 0.9, nil)
	require.NoError(t, err)

	app.LLM.AddRouted(llm.PurposePlanner, llm.ScriptEntry{Text: `{"needs_plan": false}`})
	app.LLM.AddRouted(llm.PurposeMainAgent, llm.ScriptEntry{Text: "Congratulations on the new job!"})
	app.LLM.AddRouted(llm.PurposeKnowledge, llm.ScriptEntry{
		Text: `{"items": [{"type": "fact", "text": "Works at Globex now", "importance": 0.8}]}`,
	})
	app.LLM.AddRouted(llm.PurposeIntegrity, llm.ScriptEntry{
		Text: `{"contradiction": true, "confidence": 0.93, "rationale": "The stated employer changed."}`,
	})

	sess := app.CreateSession(t, "web")
	app.PostMessage(t, sess.ID, "Ho cambiato lavoro, ora sono in Globex")

	var notificationID string
	require.Eventually(t, func() bool {
		items := app.ListNotifications(t, "priority=critical")
		if len(items) != 1 {
			return false
		}
		notificationID = items[0].ID
		return true
	}, 10*time.Second, 50*time.Millisecond, "contradiction notification never arrived")

	require.Eventually(t, func() bool {
		entries, listErr := app.Memories.ListLongByUser(ctx, app.TenantID, app.UserID, 0)
		return listErr == nil && len(entries) == 2
	}, 10*time.Second, 50*time.Millisecond)

	app.ResolveNotification(t, notificationID, "choose_existing")

	entries, err := app.Memories.ListLongByUser(ctx, app.TenantID, app.UserID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Works at Initech", entries[0].Content)
}
