package pollers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/famulus-ai/famulus/pkg/models"
)

const (
	// emailLookback bounds how far back a sweep asks the provider to go.
	emailLookback = 24 * time.Hour

	// emailFetchMax caps one ListUnread call.
	emailFetchMax = 50

	// emailBootstrapKeep is how many messages the first sweep of a mailbox
	// may report. The rest of the backlog predates the assistant watching
	// and is not news.
	emailBootstrapKeep = 5

	// freshMailWindow is the age under which a non-urgent message still
	// rates a medium nudge.
	freshMailWindow = 5 * time.Minute
)

// urgencyTokens upgrade a message to high priority when the subject
// contains any of them.
var urgencyTokens = []string{
	"urgent", "asap", "emergency", "critical",
	"action required", "deadline", "immediately",
}

// mailCursor marks the newest message already reported for one mailbox.
// Sweeps only report messages received strictly after it.
type mailCursor struct {
	id string
	at time.Time
}

// EmailPoller sweeps every enabled email integration and produces one task
// per message not yet seen.
type EmailPoller struct {
	integrations IntegrationSource
	mail         MailOpener
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.Mutex
	cursors map[string]mailCursor // integration ID -> newest reported message
}

// NewEmailPoller creates a poller over the given integration listing and
// mail opener.
func NewEmailPoller(integrations IntegrationSource, mail MailOpener) *EmailPoller {
	return &EmailPoller{
		integrations: integrations,
		mail:         mail,
		logger:       slog.Default().With("component", "pollers.email"),
		now:          time.Now,
		cursors:      make(map[string]mailCursor),
	}
}

// Poll is the scheduled handler. A failing mailbox is logged and skipped so
// one bad integration never starves the rest of the sweep.
func (p *EmailPoller) Poll(ctx context.Context) ([]*models.Task, error) {
	integrations, err := p.integrations.ListEnabledByProvider(ctx, ProviderEmail)
	if err != nil {
		return nil, fmt.Errorf("list email integrations: %w", err)
	}

	var tasks []*models.Task
	for _, integration := range integrations {
		produced, err := p.pollIntegration(ctx, integration)
		if err != nil {
			p.logger.Warn("email sweep failed",
				"integration_id", integration.ID,
				"tenant_id", integration.TenantID,
				"error", err)
			continue
		}
		tasks = append(tasks, produced...)
	}
	return tasks, nil
}

func (p *EmailPoller) pollIntegration(ctx context.Context, integration *models.Integration) ([]*models.Task, error) {
	provider, err := p.mail.Open(ctx, integration)
	if err != nil {
		return nil, fmt.Errorf("open mailbox: %w", err)
	}

	now := p.now()
	messages, err := provider.ListUnread(ctx, now.Add(-emailLookback), emailFetchMax)
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	// Provider ordering is not trusted.
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].ReceivedAt.After(messages[j].ReceivedAt)
	})

	p.mu.Lock()
	cursor, seen := p.cursors[integration.ID]
	p.mu.Unlock()

	var fresh []MailMessage
	for _, message := range messages {
		if seen && !message.ReceivedAt.After(cursor.at) {
			// Sorted newest first, so everything past here is old news.
			break
		}
		fresh = append(fresh, message)
	}
	if !seen && len(fresh) > emailBootstrapKeep {
		fresh = fresh[:emailBootstrapKeep]
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	tasks := make([]*models.Task, 0, len(fresh))
	for _, message := range fresh {
		tasks = append(tasks, p.buildTask(integration, message, now))
	}

	p.mu.Lock()
	p.cursors[integration.ID] = mailCursor{id: fresh[0].ID, at: fresh[0].ReceivedAt}
	p.mu.Unlock()

	p.logger.Debug("email sweep produced tasks",
		"integration_id", integration.ID, "count", len(tasks))
	return tasks, nil
}

func (p *EmailPoller) buildTask(integration *models.Integration, message MailMessage, now time.Time) *models.Task {
	task := models.NewTask(models.TaskEmailNotification, classifyMail(message, now), integration.TenantID)
	task.UserID = integration.UserID
	task.Payload = map[string]any{
		"integration_id": integration.ID,
		"message_id":     message.ID,
		"from":           message.From,
		"subject":        message.Subject,
		"received_at":    message.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
	return task
}

// classifyMail grades a message: urgency tokens outrank everything, fresh
// mail rates a nudge, the rest can wait for the digest.
func classifyMail(message MailMessage, now time.Time) models.TaskPriority {
	subject := strings.ToLower(message.Subject)
	for _, token := range urgencyTokens {
		if strings.Contains(subject, token) {
			return models.PriorityHigh
		}
	}
	if now.Sub(message.ReceivedAt) < freshMailWindow {
		return models.PriorityMedium
	}
	return models.PriorityLow
}
