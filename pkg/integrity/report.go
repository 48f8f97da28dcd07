package integrity

import (
	"fmt"

	"github.com/famulus-ai/famulus/pkg/models"
)

// BuildResolutionTask turns a finding into the high-priority queue task that
// drives contradiction resolution.
func BuildResolutionTask(f Finding) *models.Task {
	task := models.NewTask(models.TaskResolveContradiction, models.PriorityHigh, f.Candidate.TenantID)
	task.UserID = f.Candidate.UserID
	task.SessionID = f.Candidate.SessionID
	task.Payload = map[string]any{
		"new_statement":      f.Candidate.Content,
		"new_kind":           string(f.Candidate.Kind),
		"existing_memory_id": f.Existing.ID,
		"existing_statement": f.Existing.Content,
		"confidence":         f.Confidence,
		"rationale":          f.Rationale,
	}
	return task
}

// BuildContradictionNotification turns a finding into the blocking
// notification shown to the user, carrying both statements and the
// resolution form.
func BuildContradictionNotification(f Finding) *models.Notification {
	return &models.Notification{
		TenantID:  f.Candidate.TenantID,
		UserID:    f.Candidate.UserID,
		SessionID: f.Candidate.SessionID,
		Type:      models.NotifyContradiction,
		// Critical priority maps onto the blocking channel at publish time.
		Priority:    models.PriorityCritical,
		Title:       "Conflicting information detected",
		Body:        fmt.Sprintf("New: %s\nRemembered: %s\n%s", f.Candidate.Content, f.Existing.Content, f.Rationale),
		ReferenceID: f.Existing.ID,
		Metadata: map[string]any{
			"new_statement":      f.Candidate.Content,
			"existing_statement": f.Existing.Content,
			"existing_memory_id": f.Existing.ID,
			"confidence":         f.Confidence,
			"rationale":          f.Rationale,
			"resolution_options": ResolutionOptions,
		},
	}
}
