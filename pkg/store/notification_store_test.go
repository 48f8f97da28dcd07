package store

import (
	"context"
	"testing"
	"time"

	"github.com/famulus-ai/famulus/pkg/models"
	testdb "github.com/famulus-ai/famulus/test/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNotification(tenantID, userID string, priority models.TaskPriority) *models.Notification {
	return &models.Notification{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		UserID:      userID,
		Type:        models.NotifyNewEmail,
		Priority:    priority,
		Channel:     models.ChannelFor(priority),
		Title:       "New email from Ana",
		Body:        "Subject: Quarterly numbers",
		ReferenceID: "email-123",
		Count:       1,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestNotificationStore_CreateAndDedupe(t *testing.T) {
	client := testdb.NewTestClient(t)
	tenantID, userID := seedTenantUser(t, client.DB())
	notifications := NewNotificationStore(client.DB())
	ctx := context.Background()

	first := newNotification(tenantID, userID, models.PriorityHigh)
	require.NoError(t, notifications.Create(ctx, first))

	t.Run("finds recent duplicate inside window", func(t *testing.T) {
		dup, err := notifications.FindRecentDuplicate(ctx, tenantID, models.NotifyNewEmail,
			userID, "email-123", time.Now().Add(-time.Minute))
		require.NoError(t, err)
		assert.Equal(t, first.ID, dup.ID)
	})

	t.Run("window excludes old rows", func(t *testing.T) {
		_, err := notifications.FindRecentDuplicate(ctx, tenantID, models.NotifyNewEmail,
			userID, "email-123", time.Now().Add(time.Minute))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("different reference is not a duplicate", func(t *testing.T) {
		_, err := notifications.FindRecentDuplicate(ctx, tenantID, models.NotifyNewEmail,
			userID, "email-999", time.Now().Add(-time.Minute))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("coalescing bumps count", func(t *testing.T) {
		count, err := notifications.IncrementCount(ctx, tenantID, first.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		got, err := notifications.Get(ctx, tenantID, first.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Count)
	})

	t.Run("read rows no longer coalesce", func(t *testing.T) {
		changed, err := notifications.MarkRead(ctx, tenantID, userID, []string{first.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(1), changed)

		_, err = notifications.FindRecentDuplicate(ctx, tenantID, models.NotifyNewEmail,
			userID, "email-123", time.Now().Add(-time.Minute))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestNotificationStore_ListAndRead(t *testing.T) {
	client := testdb.NewTestClient(t)
	tenantID, userID := seedTenantUser(t, client.DB())
	notifications := NewNotificationStore(client.DB())
	ctx := context.Background()

	high := newNotification(tenantID, userID, models.PriorityHigh)
	require.NoError(t, notifications.Create(ctx, high))
	low := newNotification(tenantID, userID, models.PriorityLow)
	low.Type = models.NotifyCalendarReminder
	low.ReferenceID = "event-1"
	require.NoError(t, notifications.Create(ctx, low))

	t.Run("unread count", func(t *testing.T) {
		count, err := notifications.UnreadCount(ctx, tenantID, userID)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("filters by priority", func(t *testing.T) {
		listed, err := notifications.List(ctx, tenantID, userID, models.NotificationFilters{
			Priority: models.PriorityHigh,
		})
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, high.ID, listed[0].ID)
	})

	t.Run("unread filter drops read rows", func(t *testing.T) {
		changed, err := notifications.MarkRead(ctx, tenantID, userID, []string{high.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(1), changed)

		listed, err := notifications.List(ctx, tenantID, userID, models.NotificationFilters{Unread: true})
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, low.ID, listed[0].ID)
	})

	t.Run("mark all read", func(t *testing.T) {
		changed, err := notifications.MarkAllRead(ctx, tenantID, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), changed)

		count, err := notifications.UnreadCount(ctx, tenantID, userID)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestNotificationStore_BlockingAndRetention(t *testing.T) {
	client := testdb.NewTestClient(t)
	tenantID, userID := seedTenantUser(t, client.DB())
	notifications := NewNotificationStore(client.DB())
	ctx := context.Background()

	blocking := newNotification(tenantID, userID, models.PriorityCritical)
	blocking.Type = models.NotifyContradiction
	blocking.ReferenceID = "memory-7"
	require.NoError(t, notifications.Create(ctx, blocking))

	t.Run("blocking rows count until resolved", func(t *testing.T) {
		count, err := notifications.CountUnresolvedBlocking(ctx, tenantID, userID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		require.NoError(t, notifications.Resolve(ctx, tenantID, blocking.ID, "keep_new"))

		count, err = notifications.CountUnresolvedBlocking(ctx, tenantID, userID)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		got, err := notifications.Get(ctx, tenantID, blocking.ID)
		require.NoError(t, err)
		assert.Equal(t, "keep_new", got.Resolution)
		assert.NotNil(t, got.ResolvedAt)
		assert.True(t, got.Read)
	})

	t.Run("resolving twice fails", func(t *testing.T) {
		err := notifications.Resolve(ctx, tenantID, blocking.ID, "keep_old")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("retention deletes only read rows", func(t *testing.T) {
		unread := newNotification(tenantID, userID, models.PriorityMedium)
		unread.ReferenceID = "email-retained"
		require.NoError(t, notifications.Create(ctx, unread))

		deleted, err := notifications.DeleteReadOlderThan(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		_, err = notifications.Get(ctx, tenantID, unread.ID)
		assert.NoError(t, err)
	})
}

func TestNotificationStore_Delete(t *testing.T) {
	client := testdb.NewTestClient(t)
	tenantID, userID := seedTenantUser(t, client.DB())
	notifications := NewNotificationStore(client.DB())
	ctx := context.Background()

	first := newNotification(tenantID, userID, models.PriorityHigh)
	require.NoError(t, notifications.Create(ctx, first))
	second := newNotification(tenantID, userID, models.PriorityLow)
	second.ReferenceID = "email-456"
	require.NoError(t, notifications.Create(ctx, second))

	t.Run("scoped to the owning user", func(t *testing.T) {
		deleted, err := notifications.Delete(ctx, tenantID, "someone-else", []string{first.ID})
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})

	t.Run("unknown ids are skipped", func(t *testing.T) {
		deleted, err := notifications.Delete(ctx, tenantID, userID, []string{first.ID, second.ID, "missing"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		_, err = notifications.Get(ctx, tenantID, first.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty id list is a no-op", func(t *testing.T) {
		deleted, err := notifications.Delete(ctx, tenantID, userID, nil)
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})
}
