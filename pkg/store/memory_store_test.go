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

func mediumEntry(tenantID, userID, sessionID string, ttl time.Duration) *models.MemoryEntry {
	expires := time.Now().UTC().Add(ttl)
	return &models.MemoryEntry{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		UserID:     userID,
		SessionID:  sessionID,
		Tier:       models.TierMedium,
		Kind:       models.MemoryFact,
		Content:    "user prefers aisle seats",
		Importance: 0.6,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  &expires,
	}
}

func TestMemoryStore_MediumTier(t *testing.T) {
	client := testdb.NewTestClient(t)
	tenantID, userID := seedTenantUser(t, client.DB())
	session := seedSession(t, client.DB(), tenantID, userID)
	memories := NewMemoryStore(client.DB())
	ctx := context.Background()

	t.Run("insert and list by session", func(t *testing.T) {
		entry := mediumEntry(tenantID, userID, session.ID, time.Hour)
		require.NoError(t, memories.InsertMedium(ctx, entry))

		listed, err := memories.ListMediumBySession(ctx, tenantID, session.ID)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, entry.ID, listed[0].ID)
		assert.Equal(t, models.TierMedium, listed[0].Tier)
		require.NotNil(t, listed[0].ExpiresAt)
	})

	t.Run("expired entries are invisible and sweepable", func(t *testing.T) {
		expired := mediumEntry(tenantID, userID, session.ID, -time.Minute)
		require.NoError(t, memories.InsertMedium(ctx, expired))

		listed, err := memories.ListMediumBySession(ctx, tenantID, session.ID)
		require.NoError(t, err)
		for _, e := range listed {
			assert.NotEqual(t, expired.ID, e.ID)
		}

		deleted, err := memories.DeleteExpiredMedium(ctx, time.Now().UTC())
		require.NoError(t, err)
		ids := make([]string, 0, len(deleted))
		for _, d := range deleted {
			ids = append(ids, d.ID)
		}
		assert.Contains(t, ids, expired.ID)
		assert.Equal(t, session.ID, deleted[0].SessionID)
	})

	t.Run("requires expiry", func(t *testing.T) {
		entry := mediumEntry(tenantID, userID, session.ID, time.Hour)
		entry.ExpiresAt = nil
		err := memories.InsertMedium(ctx, entry)
		assert.True(t, IsValidationError(err))
	})
}

func TestMemoryStore_LongTier(t *testing.T) {
	client := testdb.NewTestClient(t)
	tenantID, userID := seedTenantUser(t, client.DB())
	memories := NewMemoryStore(client.DB())
	ctx := context.Background()

	newLong := func(fingerprint string, importance float64) *models.MemoryEntry {
		return &models.MemoryEntry{
			ID:             uuid.New().String(),
			TenantID:       tenantID,
			UserID:         userID,
			Tier:           models.TierLong,
			Kind:           models.MemoryPreference,
			Content:        "works from Lisbon most of the year",
			Importance:     importance,
			Fingerprint:    fingerprint,
			SourceSessions: []string{"s-1"},
			CreatedAt:      time.Now().UTC(),
		}
	}

	t.Run("insert and fetch by fingerprint", func(t *testing.T) {
		entry := newLong("fp-lisbon", 0.8)
		require.NoError(t, memories.InsertLong(ctx, entry))

		got, err := memories.GetLongByFingerprint(ctx, tenantID, userID, "fp-lisbon")
		require.NoError(t, err)
		assert.Equal(t, entry.ID, got.ID)
		assert.Equal(t, []string{"s-1"}, got.SourceSessions)
	})

	t.Run("fingerprint collision reports ErrAlreadyExists", func(t *testing.T) {
		dup := newLong("fp-lisbon", 0.5)
		err := memories.InsertLong(ctx, dup)
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("merge bumps importance and sources", func(t *testing.T) {
		existing, err := memories.GetLongByFingerprint(ctx, tenantID, userID, "fp-lisbon")
		require.NoError(t, err)

		require.NoError(t, memories.UpdateLong(ctx, tenantID, existing.ID, 0.95, []string{"s-1", "s-2"}))

		got, err := memories.GetLong(ctx, tenantID, existing.ID)
		require.NoError(t, err)
		assert.InDelta(t, 0.95, got.Importance, 1e-9)
		assert.Equal(t, []string{"s-1", "s-2"}, got.SourceSessions)
	})

	t.Run("list by user honors importance floor", func(t *testing.T) {
		low := newLong("fp-low", 0.2)
		low.Content = "mentioned liking espresso once"
		require.NoError(t, memories.InsertLong(ctx, low))

		listed, err := memories.ListLongByUser(ctx, tenantID, userID, 0.5)
		require.NoError(t, err)
		require.NotEmpty(t, listed)
		for _, e := range listed {
			assert.GreaterOrEqual(t, e.Importance, 0.5)
		}
	})

	t.Run("get by ids", func(t *testing.T) {
		existing, err := memories.GetLongByFingerprint(ctx, tenantID, userID, "fp-lisbon")
		require.NoError(t, err)

		found, err := memories.GetLongByIDs(ctx, tenantID, []string{existing.ID, "missing"})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, existing.ID, found[0].ID)

		none, err := memories.GetLongByIDs(ctx, tenantID, nil)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("delete removes the row", func(t *testing.T) {
		entry := newLong("fp-delete", 0.7)
		require.NoError(t, memories.InsertLong(ctx, entry))
		require.NoError(t, memories.DeleteLong(ctx, tenantID, userID, entry.ID))

		_, err := memories.GetLongByFingerprint(ctx, tenantID, userID, "fp-delete")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
