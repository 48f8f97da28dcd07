// Package notify implements the notification center: publishes are
// normalised, routed to a delivery channel by priority, coalesced inside a
// dedupe window, persisted, and pushed to every live subscriber of the
// owning user. Cross-process delivery rides Postgres NOTIFY/LISTEN.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/store"
)

// Fanout broadcasts a stored notification to the hubs of other process
// replicas. The publishing Center streams to its own hub directly, so a nil
// Fanout simply keeps delivery in-process.
type Fanout interface {
	Broadcast(ctx context.Context, n *models.Notification) error
}

// Center is the notification service. It owns dedupe and channel routing;
// the store only speaks rows and the hub only speaks envelopes.
type Center struct {
	cfg           *config.NotificationsConfig
	notifications *store.NotificationStore
	hub           *Hub
	fanout        Fanout
	logger        *slog.Logger
	now           func() time.Time
}

// NewCenter creates a notification center over the given store and hub.
func NewCenter(cfg *config.NotificationsConfig, notifications *store.NotificationStore, hub *Hub) *Center {
	if cfg == nil {
		cfg = config.DefaultNotificationsConfig()
	}
	if hub == nil {
		hub = NewHub()
	}
	return &Center{
		cfg:           cfg,
		notifications: notifications,
		hub:           hub,
		logger:        slog.Default().With("component", "notify"),
		now:           time.Now,
	}
}

// SetFanout attaches the cross-process broadcaster. Called once at startup
// after the fanout's listener has this center's hub to route into.
func (c *Center) SetFanout(f Fanout) {
	c.fanout = f
}

// Hub returns the local subscriber hub, for wiring the fanout listener.
func (c *Center) Hub() *Hub {
	return c.hub
}

// Publish normalises, persists, and streams a notification, returning the
// stored row. A publish whose (type, user, reference) key matches an unread
// row inside the dedupe window coalesces into that row with a bumped count;
// the updated row is re-streamed so clients can refresh the badge in place.
func (c *Center) Publish(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	if n == nil {
		return nil, fmt.Errorf("publish: nil notification")
	}

	now := c.now().UTC()
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.Count <= 0 {
		n.Count = 1
	}
	n.Channel = models.ChannelFor(n.Priority)

	since := now.Add(-c.cfg.DedupeWindow)
	dup, err := c.notifications.FindRecentDuplicate(ctx, n.TenantID, n.Type, n.UserID, n.ReferenceID, since)
	switch {
	case err == nil:
		count, err := c.notifications.IncrementCount(ctx, n.TenantID, dup.ID)
		if err == nil {
			dup.Count = count
			c.stream(ctx, dup)
			c.logger.Debug("notification coalesced",
				"id", dup.ID, "type", dup.Type, "count", count)
			return dup, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("coalesce notification: %w", err)
		}
		// The duplicate vanished between lookup and bump; publish fresh.
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("find duplicate notification: %w", err)
	}

	if err := c.notifications.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}
	c.stream(ctx, n)
	c.logger.Info("notification published",
		"id", n.ID, "type", n.Type, "user_id", n.UserID,
		"priority", n.Priority, "channel", n.Channel)
	return n, nil
}

// stream pushes the row to local subscribers and, best-effort, to the other
// replicas. A fanout failure never fails the publish: the row is persisted
// and remote clients pick it up from their next snapshot.
func (c *Center) stream(ctx context.Context, n *models.Notification) {
	c.hub.Broadcast(n.TenantID, n.UserID, models.NotificationEvent(n))
	if c.fanout == nil {
		return
	}
	if err := c.fanout.Broadcast(ctx, n); err != nil {
		c.logger.Warn("cross-process notification broadcast failed",
			"id", n.ID, "error", err)
	}
}

// Subscribe attaches a push stream for one user. The subscription is
// registered before the snapshot query so a publish racing the attach is
// never lost; it may then appear both in the snapshot and as an incremental
// event, and clients reconcile by id.
func (c *Center) Subscribe(ctx context.Context, tenantID, userID string) (*Subscription, error) {
	sub := c.hub.attach(tenantID, userID)
	unread, err := c.notifications.UnreadCount(ctx, tenantID, userID)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("snapshot unread count: %w", err)
	}
	items, err := c.notifications.List(ctx, tenantID, userID,
		models.NotificationFilters{Limit: c.cfg.SnapshotLimit})
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("snapshot notifications: %w", err)
	}
	sub.snapshot = models.SnapshotEvent(unread, items)
	return sub, nil
}

// List returns the user's notifications, newest first. A missing limit
// falls back to the snapshot limit so unbounded listings never hit the
// store.
func (c *Center) List(ctx context.Context, tenantID, userID string, filters models.NotificationFilters) ([]*models.Notification, error) {
	if filters.Limit <= 0 {
		filters.Limit = c.cfg.SnapshotLimit
	}
	return c.notifications.List(ctx, tenantID, userID, filters)
}

// Nudge re-raises a stored notification outside the dedupe window: bumps its
// count and re-streams it so live subscribers see it again. Escalation paths
// use this instead of Publish so one pending decision never piles up rows.
func (c *Center) Nudge(ctx context.Context, tenantID, id string) (*models.Notification, error) {
	if _, err := c.notifications.IncrementCount(ctx, tenantID, id); err != nil {
		return nil, fmt.Errorf("nudge notification: %w", err)
	}
	n, err := c.notifications.Get(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("reload nudged notification: %w", err)
	}
	c.stream(ctx, n)
	c.logger.Debug("notification nudged", "id", n.ID, "type", n.Type, "count", n.Count)
	return n, nil
}

// MarkRead marks the given notifications read and returns how many changed.
func (c *Center) MarkRead(ctx context.Context, tenantID, userID string, ids []string) (int64, error) {
	return c.notifications.MarkRead(ctx, tenantID, userID, ids)
}

// MarkAllRead marks every unread notification of the user read.
func (c *Center) MarkAllRead(ctx context.Context, tenantID, userID string) (int64, error) {
	return c.notifications.MarkAllRead(ctx, tenantID, userID)
}

// Resolve records the outcome of a blocking notification and re-streams the
// resolved row so the user's other devices can drop the prompt.
func (c *Center) Resolve(ctx context.Context, tenantID, id, resolution string) error {
	if err := c.notifications.Resolve(ctx, tenantID, id, resolution); err != nil {
		return err
	}
	n, err := c.notifications.Get(ctx, tenantID, id)
	if err != nil {
		c.logger.Warn("resolved notification reload failed", "id", id, "error", err)
		return nil
	}
	c.stream(ctx, n)
	return nil
}

// Delete removes the given notifications and returns how many were deleted.
func (c *Center) Delete(ctx context.Context, tenantID, userID string, ids []string) (int64, error) {
	return c.notifications.Delete(ctx, tenantID, userID, ids)
}

// UnreadCount returns the user's unread notification count.
func (c *Center) UnreadCount(ctx context.Context, tenantID, userID string) (int, error) {
	return c.notifications.UnreadCount(ctx, tenantID, userID)
}

// UnresolvedBlocking returns how many blocking notifications await a user
// decision.
func (c *Center) UnresolvedBlocking(ctx context.Context, tenantID, userID string) (int, error) {
	return c.notifications.CountUnresolvedBlocking(ctx, tenantID, userID)
}
