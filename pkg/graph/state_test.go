package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famulus-ai/famulus/pkg/models"
)

func sampleState() *State {
	return &State{
		TenantID:  "t1",
		UserID:    "u1",
		SessionID: "s1",
		Message:   "hello",
		History: []*models.Message{
			{ID: 1, Role: models.RoleUserMsg, Content: "hi"},
		},
		Plan: &models.Plan{
			ID:     "p1",
			Status: models.PlanRunning,
			Steps: []models.Step{
				{Type: models.StepTool, ToolName: "web_search"},
				{Type: models.StepRespond},
			},
		},
		ToolResults: []*models.ToolResult{
			{Tool: "web_search", Status: models.ToolOK},
		},
		Notifications: []*models.Notification{
			{ID: "n1", Type: models.NotifyNewEmail},
		},
	}
}

func TestCloneIsolatesSlicesAndPlan(t *testing.T) {
	orig := sampleState()
	clone := orig.Clone()

	clone.AssistantDraft = "draft"
	clone.History = append(clone.History, &models.Message{ID: 2})
	clone.ToolResults = append(clone.ToolResults, &models.ToolResult{Tool: "web_fetch"})
	clone.Notifications = append(clone.Notifications, &models.Notification{ID: "n2"})
	clone.Plan.Steps[0].Done = true
	clone.Plan.CurrentStep = 1
	clone.Plan.Status = models.PlanCompleted

	assert.Empty(t, orig.AssistantDraft)
	assert.Len(t, orig.History, 1)
	assert.Len(t, orig.ToolResults, 1)
	assert.Len(t, orig.Notifications, 1)
	assert.False(t, orig.Plan.Steps[0].Done)
	assert.Equal(t, 0, orig.Plan.CurrentStep)
	assert.Equal(t, models.PlanRunning, orig.Plan.Status)
}

func TestCloneNilFieldsStayNil(t *testing.T) {
	clone := (&State{SessionID: "s"}).Clone()
	assert.Nil(t, clone.History)
	assert.Nil(t, clone.Plan)
	assert.Nil(t, clone.ToolResults)
	assert.Nil(t, clone.Notifications)
	assert.Equal(t, "s", clone.SessionID)
}

func TestSnapshotUnaffectedByLaterTransitions(t *testing.T) {
	s := sampleState()
	snapshot := s.Snapshot()
	require.NotSame(t, s, snapshot)

	// Later node transitions mutate a clone of the live state.
	live := s.Clone()
	live.AssistantDraft = "answer"
	live.Plan.Status = models.PlanCompleted
	live.Notifications = nil

	assert.Empty(t, snapshot.AssistantDraft)
	assert.Equal(t, models.PlanRunning, snapshot.Plan.Status)
	assert.Len(t, snapshot.Notifications, 1)
}
