// Package pollers holds the background producers the scheduler runs: the
// email poller, the calendar watcher, and the service-health probes. Each
// sweep returns tasks for the queue; the dispatcher turns them into
// notifications. Poller state (cursors, reminder sets, probe streaks) lives
// in memory and resets on restart.
package pollers

import (
	"context"
	"time"

	"github.com/famulus-ai/famulus/pkg/models"
)

// Provider names as stored on integration rows.
const (
	ProviderEmail    = "email"
	ProviderCalendar = "calendar"
)

// IntegrationSource lists the enabled integrations a poller sweeps.
// Satisfied by store.IntegrationStore.
type IntegrationSource interface {
	ListEnabledByProvider(ctx context.Context, provider string) ([]*models.Integration, error)
}

// MailMessage is one unread message as reported by a mail provider.
type MailMessage struct {
	ID         string
	From       string
	Subject    string
	ReceivedAt time.Time
}

// MailProvider reads one connected mailbox.
type MailProvider interface {
	// ListUnread returns unread messages received after since, newest
	// first, at most max.
	ListUnread(ctx context.Context, since time.Time, max int) ([]MailMessage, error)
}

// MailOpener builds a provider session for one integration. The sealed
// credentials travel with the integration; the opener hands them to the
// underlying client without inspecting them.
type MailOpener interface {
	Open(ctx context.Context, integration *models.Integration) (MailProvider, error)
}

// CalendarEvent is one upcoming event as reported by a calendar provider.
type CalendarEvent struct {
	ID       string
	Title    string
	StartsAt time.Time
}

// CalendarProvider reads one connected calendar.
type CalendarProvider interface {
	// ListEvents returns events starting inside [start, end).
	ListEvents(ctx context.Context, start, end time.Time) ([]CalendarEvent, error)
}

// CalendarOpener builds a provider session for one integration.
type CalendarOpener interface {
	Open(ctx context.Context, integration *models.Integration) (CalendarProvider, error)
}
