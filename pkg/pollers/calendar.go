package pollers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/famulus-ai/famulus/pkg/models"
)

const (
	// calendarHorizon is how far ahead a sweep looks for events.
	calendarHorizon = 2 * time.Hour

	// Reminder stages. An event gets one medium reminder inside the 15
	// minute lead and one high reminder inside the 5 minute lead.
	mediumReminderLead = 15 * time.Minute
	highReminderLead   = 5 * time.Minute
)

// reminderState records which reminder stages already fired for one event.
type reminderState struct {
	mediumSent bool
	highSent   bool
}

// CalendarWatcher sweeps every enabled calendar integration and produces
// reminder tasks for events approaching their start time.
type CalendarWatcher struct {
	integrations IntegrationSource
	calendars    CalendarOpener
	logger       *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	reminders map[string]map[string]*reminderState // integration ID -> event ID -> stages sent
}

// NewCalendarWatcher creates a watcher over the given integration listing
// and calendar opener.
func NewCalendarWatcher(integrations IntegrationSource, calendars CalendarOpener) *CalendarWatcher {
	return &CalendarWatcher{
		integrations: integrations,
		calendars:    calendars,
		logger:       slog.Default().With("component", "pollers.calendar"),
		now:          time.Now,
		reminders:    make(map[string]map[string]*reminderState),
	}
}

// Poll is the scheduled handler. A failing calendar is logged and skipped.
func (w *CalendarWatcher) Poll(ctx context.Context) ([]*models.Task, error) {
	integrations, err := w.integrations.ListEnabledByProvider(ctx, ProviderCalendar)
	if err != nil {
		return nil, fmt.Errorf("list calendar integrations: %w", err)
	}

	var tasks []*models.Task
	for _, integration := range integrations {
		produced, err := w.pollIntegration(ctx, integration)
		if err != nil {
			w.logger.Warn("calendar sweep failed",
				"integration_id", integration.ID,
				"tenant_id", integration.TenantID,
				"error", err)
			continue
		}
		tasks = append(tasks, produced...)
	}
	return tasks, nil
}

func (w *CalendarWatcher) pollIntegration(ctx context.Context, integration *models.Integration) ([]*models.Task, error) {
	provider, err := w.calendars.Open(ctx, integration)
	if err != nil {
		return nil, fmt.Errorf("open calendar: %w", err)
	}

	now := w.now()
	events, err := provider.ListEvents(ctx, now, now.Add(calendarHorizon))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	states, ok := w.reminders[integration.ID]
	if !ok {
		states = make(map[string]*reminderState)
		w.reminders[integration.ID] = states
	}

	listed := make(map[string]struct{}, len(events))
	var tasks []*models.Task
	for _, event := range events {
		listed[event.ID] = struct{}{}
		lead := event.StartsAt.Sub(now)
		if lead <= 0 {
			continue
		}
		state, ok := states[event.ID]
		if !ok {
			state = &reminderState{}
			states[event.ID] = state
		}
		switch {
		case lead <= highReminderLead && !state.highSent:
			state.highSent = true
			// The medium moment has passed. An event first seen this close
			// to its start gets the high reminder only, never both.
			state.mediumSent = true
			tasks = append(tasks, w.buildTask(integration, event, models.PriorityHigh))
		case lead <= mediumReminderLead && lead > highReminderLead && !state.mediumSent:
			state.mediumSent = true
			tasks = append(tasks, w.buildTask(integration, event, models.PriorityMedium))
		}
	}

	// Events no longer listed have started or were cancelled; their state
	// is dead weight.
	for id := range states {
		if _, ok := listed[id]; !ok {
			delete(states, id)
		}
	}

	if len(tasks) > 0 {
		w.logger.Debug("calendar sweep produced tasks",
			"integration_id", integration.ID, "count", len(tasks))
	}
	return tasks, nil
}

func (w *CalendarWatcher) buildTask(integration *models.Integration, event CalendarEvent, priority models.TaskPriority) *models.Task {
	task := models.NewTask(models.TaskCalendarReminder, priority, integration.TenantID)
	task.UserID = integration.UserID
	task.Payload = map[string]any{
		"integration_id": integration.ID,
		"event_id":       event.ID,
		"title":          event.Title,
		"starts_at":      event.StartsAt.UTC().Format(time.RFC3339Nano),
	}
	return task
}
