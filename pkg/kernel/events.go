package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/famulus-ai/famulus/pkg/graph"
	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/pollers"
	"github.com/famulus-ai/famulus/pkg/store"
)

// contradictionReminderDelay spaces the unresolved-contradiction reminders.
const contradictionReminderDelay = 10 * time.Minute

// HandleEvent runs one background task through the event graph: a synthetic
// state carries the task in, the typed node turns it into notifications, and
// the publish node hands them to the notification center.
func (k *Kernel) HandleEvent(ctx context.Context, task *models.Task) error {
	st := &graph.State{
		TenantID:  task.TenantID,
		UserID:    task.UserID,
		SessionID: task.SessionID,
		Event:     task,
	}
	if _, err := k.eventGraph.Run(ctx, st); err != nil {
		return fmt.Errorf("event %s: %w", task.Type, err)
	}
	return nil
}

// buildEventGraph assembles the background graph. Entry validates the
// synthetic event, the edges route it by task type, and every branch joins
// at publish.
func (k *Kernel) buildEventGraph() (*graph.Graph, error) {
	return graph.NewBuilder("event").
		AddNode("classify", k.classifyEvent).
		AddNode("email", k.emailEvent).
		AddNode("calendar", k.calendarEvent).
		AddNode("health", k.healthEvent).
		AddNode("contradiction", k.contradictionEvent).
		AddNode("publish", k.publishEvent).
		AddEdgeIf("classify", "email", eventOfType(models.TaskEmailNotification)).
		AddEdgeIf("classify", "calendar", eventOfType(models.TaskCalendarReminder)).
		AddEdgeIf("classify", "health", eventOfType(models.TaskServiceHealthTransition)).
		AddEdgeIf("classify", "contradiction", eventOfType(models.TaskResolveContradiction)).
		AddEdge("email", "publish").
		AddEdge("calendar", "publish").
		AddEdge("health", "publish").
		AddEdge("contradiction", "publish").
		SetEntry("classify").
		SetTerminal("publish").
		Build()
}

func eventOfType(taskType string) graph.Predicate {
	return func(s *graph.State) bool {
		return s.Event != nil && s.Event.Type == taskType
	}
}

func (k *Kernel) classifyEvent(ctx context.Context, st *graph.State) (*graph.State, error) {
	if st.Event == nil {
		return nil, errors.New("synthetic run without event")
	}
	return st, nil
}

// emailEvent turns an email poller task into a new-mail notification. The
// priority the poller classified carries through unchanged.
func (k *Kernel) emailEvent(ctx context.Context, st *graph.State) (*graph.State, error) {
	task := st.Event
	title := "New email"
	if from := payloadString(task, "from"); from != "" {
		title = "New email from " + from
	}

	next := st.Clone()
	next.Notifications = append(next.Notifications, &models.Notification{
		TenantID:    task.TenantID,
		UserID:      task.UserID,
		Type:        models.NotifyNewEmail,
		Priority:    task.Priority,
		Title:       title,
		Body:        payloadString(task, "subject"),
		ReferenceID: payloadString(task, "message_id"),
		Metadata: map[string]any{
			"integration_id": payloadString(task, "integration_id"),
			"received_at":    payloadString(task, "received_at"),
		},
	})
	return next, nil
}

// calendarEvent turns a reminder task into an upcoming-event notification.
func (k *Kernel) calendarEvent(ctx context.Context, st *graph.State) (*graph.State, error) {
	task := st.Event
	title := payloadString(task, "title")
	if title == "" {
		title = "Untitled event"
	}

	body := "Starting soon"
	if startsAt, err := time.Parse(time.RFC3339Nano, payloadString(task, "starts_at")); err == nil {
		if lead := time.Until(startsAt).Round(time.Minute); lead > 0 {
			body = fmt.Sprintf("Starts in %s (%s)", lead, startsAt.Local().Format("15:04"))
		}
	}

	next := st.Clone()
	next.Notifications = append(next.Notifications, &models.Notification{
		TenantID:    task.TenantID,
		UserID:      task.UserID,
		Type:        models.NotifyCalendarReminder,
		Priority:    task.Priority,
		Title:       "Upcoming: " + title,
		Body:        body,
		ReferenceID: payloadString(task, "event_id"),
		Metadata: map[string]any{
			"integration_id": payloadString(task, "integration_id"),
			"starts_at":      payloadString(task, "starts_at"),
		},
	})
	return next, nil
}

// healthEvent notifies the owner of a probed integration about a confirmed
// state change. Unowned system probes carry no user; their transitions stay
// on the warnings registry and produce no notification.
func (k *Kernel) healthEvent(ctx context.Context, st *graph.State) (*graph.State, error) {
	task := st.Event
	if task.UserID == "" {
		return st, nil
	}

	resource := payloadString(task, "resource")
	to := pollers.ProbeStatus(payloadString(task, "to"))
	title := fmt.Sprintf("%s is %s", resource, to)
	if to == pollers.StatusHealthy {
		title = resource + " recovered"
	}

	next := st.Clone()
	next.Notifications = append(next.Notifications, &models.Notification{
		TenantID:    task.TenantID,
		UserID:      task.UserID,
		Type:        models.NotifyServiceHealth,
		Priority:    task.Priority,
		Title:       title,
		Body:        fmt.Sprintf("Status changed from %s to %s", payloadString(task, "from"), to),
		ReferenceID: payloadString(task, "probe_id"),
		Metadata: map[string]any{
			"resource": resource,
			"from":     payloadString(task, "from"),
			"to":       string(to),
		},
	})
	return next, nil
}

// contradictionEvent is the watchdog for a pending contradiction decision.
// The blocking notification already exists when the task is first delivered;
// while it stays unread, each delivery nudges it and re-arms a delayed
// reminder until the attempt budget runs out.
func (k *Kernel) contradictionEvent(ctx context.Context, st *graph.State) (*graph.State, error) {
	task := st.Event
	memoryID := payloadString(task, "existing_memory_id")

	pending, err := k.notifications.FindRecentDuplicate(ctx,
		task.TenantID, models.NotifyContradiction, task.UserID, memoryID,
		task.CreatedAt.Add(-time.Minute))
	if errors.Is(err, store.ErrNotFound) {
		// Resolved, dismissed, or deleted; nothing left to chase.
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up contradiction notification: %w", err)
	}

	// First delivery follows the publish by moments; nudging it would just
	// double the count the user sees.
	if task.Attempts > 1 {
		if _, err := k.notifier.Nudge(ctx, task.TenantID, pending.ID); err != nil {
			return nil, fmt.Errorf("nudge contradiction notification: %w", err)
		}
	}

	if task.Attempts >= task.MaxAttempts {
		k.logger.Info("Contradiction still unresolved, reminders exhausted",
			"notification_id", pending.ID,
			"memory_id", memoryID,
			"user_id", task.UserID)
		return st, nil
	}

	// Re-arm under a fresh ID; the attempt count carries over so the budget
	// spans the whole reminder chain.
	reminder := *task
	reminder.ID = uuid.New().String()
	reminder.Status = models.TaskPending
	reminder.VisibleAfter = time.Now().Add(contradictionReminderDelay)
	if err := k.queue.Enqueue(&reminder); err != nil {
		k.logger.Warn("Failed to re-arm contradiction reminder",
			"memory_id", memoryID, "error", err)
	}
	return st, nil
}

// publishEvent drains the buffered notifications into the center. A publish
// failure fails the task so the dispatcher retries it; the poller cursors
// have already moved on, the task is the only carrier left.
func (k *Kernel) publishEvent(ctx context.Context, st *graph.State) (*graph.State, error) {
	for _, n := range st.Notifications {
		if _, err := k.notifier.Publish(ctx, n); err != nil {
			return nil, fmt.Errorf("publish %s: %w", n.Type, err)
		}
	}
	return st, nil
}

func payloadString(task *models.Task, key string) string {
	if task.Payload == nil {
		return ""
	}
	s, _ := task.Payload[key].(string)
	return s
}
