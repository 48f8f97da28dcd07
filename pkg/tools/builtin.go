package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/models"
)

// MemoryQuerier answers hybrid memory queries. Satisfied by memory.Manager.
type MemoryQuerier interface {
	Query(ctx context.Context, q *models.MemoryQuery) (*models.MemoryQueryResult, error)
}

// SearchProvider executes web searches. Collaborator-implemented, faked in tests.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error)
}

// IntegrationLister returns a tenant's integrations for one provider kind.
// Satisfied by store.IntegrationStore.
type IntegrationLister interface {
	ListByProvider(ctx context.Context, tenantID, provider string) ([]*models.Integration, error)
}

// MailSource lists unread mail for one integration. Same shape as the poller
// provider so one implementation serves both.
type MailSource interface {
	ListUnread(ctx context.Context, integration *models.Integration, since time.Time, max int) ([]models.EmailMessage, error)
}

// CalendarSource lists events for one integration within a window.
type CalendarSource interface {
	ListEvents(ctx context.Context, integration *models.Integration, from, until time.Time) ([]models.CalendarEvent, error)
}

// BuiltinDeps carries the collaborators the built-in tools call into.
// Optional fields degrade the matching tool to an unavailable error.
type BuiltinDeps struct {
	Memory       MemoryQuerier
	MemCfg       *config.MemoryConfig
	Search       SearchProvider
	Fetcher      *Fetcher
	Integrations IntegrationLister
	Mail         MailSource
	Calendar     CalendarSource
	Pollers      *config.PollersConfig
}

// RegisterBuiltins registers the built-in tool set. web_search may later be
// shadowed by a tool server exposing the same name.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) error {
	builtins := []*Binding{
		webSearchBinding(deps),
		webFetchBinding(deps),
		memorySearchBinding(deps),
		calendarListEventsBinding(deps),
		emailListUnreadBinding(deps),
	}
	for _, b := range builtins {
		if err := r.Register(b); err != nil {
			return err
		}
	}
	return nil
}

func webSearchBinding(deps BuiltinDeps) *Binding {
	return &Binding{
		Descriptor: models.ToolDescriptor{
			Name:      "web_search",
			What:      "Search the web and return titled results with URLs and snippets.",
			WhenToUse: "The user asks about current events, external facts, or anything not in memory.",
			Schema: mustSchemaDoc(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "minLength": 1},
					"limit": {"type": "integer", "minimum": 1, "maximum": 10}
				},
				"required": ["query"]
			}`),
			SideEffect:  models.SideEffectRead,
			IndexWorthy: true,
		},
		Handler: HandlerFunc(func(ctx context.Context, inv Invocation) (string, error) {
			if deps.Search == nil {
				return "", NewError(models.ErrKindUpstreamUnavailable, "no web search provider configured")
			}
			query := argString(inv.Args, "query")
			limit := argInt(inv.Args, "limit", 5)

			results, err := deps.Search.Search(ctx, query, limit)
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "No results found for: " + query, nil
			}

			var sb strings.Builder
			for i, res := range results {
				fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, res.Title, res.URL)
				if res.Snippet != "" {
					fmt.Fprintf(&sb, "   %s\n", res.Snippet)
				}
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		}),
	}
}

func webFetchBinding(deps BuiltinDeps) *Binding {
	return &Binding{
		Descriptor: models.ToolDescriptor{
			Name:      "web_fetch",
			What:      "Fetch the text content of a single web page by URL.",
			WhenToUse: "A search result or the user supplied a URL whose content is needed.",
			Schema: mustSchemaDoc(`{
				"type": "object",
				"properties": {
					"url": {"type": "string", "minLength": 1}
				},
				"required": ["url"]
			}`),
			SideEffect:  models.SideEffectRead,
			IndexWorthy: true,
		},
		Handler: HandlerFunc(func(ctx context.Context, inv Invocation) (string, error) {
			if deps.Fetcher == nil {
				return "", NewError(models.ErrKindUpstreamUnavailable, "web fetch not configured")
			}
			return deps.Fetcher.Fetch(ctx, argString(inv.Args, "url"))
		}),
	}
}

func memorySearchBinding(deps BuiltinDeps) *Binding {
	return &Binding{
		Descriptor: models.ToolDescriptor{
			Name:      "memory_search",
			What:      "Search the user's medium- and long-term memory.",
			WhenToUse: "The user refers to something previously discussed, stored facts, or preferences.",
			Schema: mustSchemaDoc(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "minLength": 1},
					"k": {"type": "integer", "minimum": 1, "maximum": 20},
					"min_importance": {"type": "number", "minimum": 0, "maximum": 1}
				},
				"required": ["query"]
			}`),
			SideEffect: models.SideEffectRead,
		},
		Handler: HandlerFunc(func(ctx context.Context, inv Invocation) (string, error) {
			if deps.Memory == nil {
				return "", NewError(models.ErrKindUpstreamUnavailable, "memory manager not configured")
			}
			q := &models.MemoryQuery{
				TenantID:      inv.TenantID,
				UserID:        inv.UserID,
				SessionID:     inv.SessionID,
				Text:          argString(inv.Args, "query"),
				K:             argInt(inv.Args, "k", 0),
				MinImportance: argFloat(inv.Args, "min_importance", 0),
			}
			result, err := deps.Memory.Query(ctx, q)
			if err != nil {
				return "", WrapError(models.ErrKindUpstreamUnavailable, "memory query", err)
			}
			if len(result.Hits) == 0 {
				return "No matching memories.", nil
			}

			var sb strings.Builder
			for _, hit := range result.Hits {
				fmt.Fprintf(&sb, "- [%s %.2f] %s\n", hit.Entry.Tier, hit.Entry.Importance, hit.Entry.Content)
			}
			if result.Degraded {
				sb.WriteString("(keyword-only ranking: semantic search unavailable)\n")
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		}),
	}
}

func calendarListEventsBinding(deps BuiltinDeps) *Binding {
	return &Binding{
		Descriptor: models.ToolDescriptor{
			Name:      "calendar_list_events",
			What:      "List the user's upcoming calendar events.",
			WhenToUse: "The user asks about their schedule, meetings, or availability.",
			Schema: mustSchemaDoc(`{
				"type": "object",
				"properties": {
					"hours": {"type": "integer", "minimum": 1, "maximum": 168}
				}
			}`),
			SideEffect: models.SideEffectRead,
		},
		Handler: HandlerFunc(func(ctx context.Context, inv Invocation) (string, error) {
			if deps.Calendar == nil || deps.Integrations == nil {
				return "", NewError(models.ErrKindUpstreamUnavailable, "calendar provider not configured")
			}
			horizon := time.Duration(argInt(inv.Args, "hours", 24)) * time.Hour
			now := time.Now()

			integrations, err := enabledIntegrations(ctx, deps.Integrations, inv.TenantID, inv.UserID, "calendar")
			if err != nil {
				return "", err
			}
			if len(integrations) == 0 {
				return "No calendar integrations enabled.", nil
			}

			var events []models.CalendarEvent
			for _, integ := range integrations {
				batch, err := deps.Calendar.ListEvents(ctx, integ, now, now.Add(horizon))
				if err != nil {
					return "", err
				}
				events = append(events, batch...)
			}
			if len(events) == 0 {
				return fmt.Sprintf("No events in the next %d hours.", int(horizon.Hours())), nil
			}

			var sb strings.Builder
			for _, ev := range events {
				fmt.Fprintf(&sb, "- %s at %s", ev.Title, ev.StartsAt.Format("15:04 Mon Jan 2"))
				if ev.Location != "" {
					fmt.Fprintf(&sb, " (%s)", ev.Location)
				}
				sb.WriteByte('\n')
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		}),
	}
}

func emailListUnreadBinding(deps BuiltinDeps) *Binding {
	return &Binding{
		Descriptor: models.ToolDescriptor{
			Name:      "email_list_unread",
			What:      "List the user's recent unread email.",
			WhenToUse: "The user asks about new or unread mail.",
			Schema: mustSchemaDoc(`{
				"type": "object",
				"properties": {
					"max": {"type": "integer", "minimum": 1, "maximum": 50}
				}
			}`),
			SideEffect: models.SideEffectRead,
		},
		Handler: HandlerFunc(func(ctx context.Context, inv Invocation) (string, error) {
			if deps.Mail == nil || deps.Integrations == nil {
				return "", NewError(models.ErrKindUpstreamUnavailable, "mail provider not configured")
			}
			max := argInt(inv.Args, "max", 10)
			lookback := 24 * time.Hour
			if deps.Pollers != nil && deps.Pollers.EmailLookback > 0 {
				lookback = deps.Pollers.EmailLookback
			}
			since := time.Now().Add(-lookback)

			integrations, err := enabledIntegrations(ctx, deps.Integrations, inv.TenantID, inv.UserID, "email")
			if err != nil {
				return "", err
			}
			if len(integrations) == 0 {
				return "No email integrations enabled.", nil
			}

			var messages []models.EmailMessage
			for _, integ := range integrations {
				batch, err := deps.Mail.ListUnread(ctx, integ, since, max)
				if err != nil {
					return "", err
				}
				messages = append(messages, batch...)
			}
			if len(messages) == 0 {
				return "No unread email.", nil
			}
			if len(messages) > max {
				messages = messages[:max]
			}

			var sb strings.Builder
			for _, msg := range messages {
				fmt.Fprintf(&sb, "- [%s] %s\n", msg.From, msg.Subject)
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		}),
	}
}

// enabledIntegrations filters a tenant's provider integrations down to the
// calling user's enabled ones.
func enabledIntegrations(ctx context.Context, lister IntegrationLister, tenantID, userID, provider string) ([]*models.Integration, error) {
	all, err := lister.ListByProvider(ctx, tenantID, provider)
	if err != nil {
		return nil, WrapError(models.ErrKindUpstreamUnavailable, "list integrations", err)
	}
	out := make([]*models.Integration, 0, len(all))
	for _, integ := range all {
		if integ.UserID == userID && integ.Status == models.IntegrationEnabled {
			out = append(out, integ)
		}
	}
	return out, nil
}

// argString returns a string argument, empty when absent or mistyped.
func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// argInt returns an integer argument. JSON numbers arrive as float64.
func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

// argFloat returns a numeric argument.
func argFloat(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}
