package memory

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/store"
	"github.com/famulus-ai/famulus/pkg/vector"
	testdb "github.com/famulus-ai/famulus/test/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUserSession(t *testing.T, db *sql.DB) (tenantID, userID string, session *models.Session) {
	t.Helper()
	ctx := context.Background()
	tenants := store.NewTenantStore(db)

	tenantID = uuid.New().String()
	require.NoError(t, tenants.CreateTenant(ctx, &models.Tenant{
		ID:        tenantID,
		Name:      "memory-test",
		CreatedAt: time.Now().UTC(),
	}))

	userID = uuid.New().String()
	require.NoError(t, tenants.CreateUser(ctx, &models.User{
		ID:        userID,
		TenantID:  tenantID,
		Email:     userID + "@example.com",
		Role:      models.RoleUser,
		CreatedAt: time.Now().UTC(),
	}))

	session, err := store.NewSessionStore(db).Create(ctx, tenantID, userID, "web")
	require.NoError(t, err)
	return tenantID, userID, session
}

type managerFixture struct {
	manager  *Manager
	memories *store.MemoryStore
	vectors  vector.Store
	tenantID string
	userID   string
	session  *models.Session
}

func newManagerFixture(t *testing.T, embed func() (vector.Store, error)) *managerFixture {
	t.Helper()
	client := testdb.NewTestClient(t)
	tenantID, userID, session := seedUserSession(t, client.DB())

	vectors, err := embed()
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	cfg := config.DefaultMemoryConfig()
	cfg.ShortWindow = 3

	memories := store.NewMemoryStore(client.DB())
	return &managerFixture{
		manager:  NewManager(cfg, memories, vectors),
		memories: memories,
		vectors:  vectors,
		tenantID: tenantID,
		userID:   userID,
		session:  session,
	}
}

func hashVectors() (vector.Store, error) {
	return vector.NewChromemStore("", vector.HashEmbedder(256))
}

func degradedVectors() (vector.Store, error) {
	return vector.NewChromemStore("", vector.UnavailableEmbedder())
}

func TestManager_ShortTermWindow(t *testing.T) {
	m := NewManager(&config.MemoryConfig{ShortWindow: 3}, nil, nil)
	sessionID := uuid.New().String()

	for i := int64(1); i <= 5; i++ {
		m.RecordMessage(sessionID, msg(i, "turn"))
	}

	window := m.Window(sessionID)
	require.Len(t, window, 3)
	assert.Equal(t, int64(3), window[0].ID)
	assert.Equal(t, int64(5), window[2].ID)

	t.Run("prime only seeds an empty ring", func(t *testing.T) {
		fresh := uuid.New().String()
		m.Prime(fresh, []*models.Message{msg(10, "a"), msg(11, "b")})
		require.Len(t, m.Window(fresh), 2)

		m.Prime(fresh, []*models.Message{msg(99, "ignored")})
		window := m.Window(fresh)
		require.Len(t, window, 2)
		assert.Equal(t, int64(10), window[0].ID)
	})

	t.Run("drop releases the window", func(t *testing.T) {
		m.DropSession(sessionID)
		assert.Empty(t, m.Window(sessionID))
	})
}

func TestManager_AddLongDedupe(t *testing.T) {
	f := newManagerFixture(t, hashVectors)
	ctx := context.Background()

	first, err := f.manager.AddLong(ctx, f.tenantID, f.userID,
		"User lives in Lisbon", models.MemoryFact, 0.5, []string{"s1"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	assert.Equal(t, "User lives in Lisbon", first.Content)

	t.Run("same content after normalization merges", func(t *testing.T) {
		second, err := f.manager.AddLong(ctx, f.tenantID, f.userID,
			"user  lives in LISBON", models.MemoryFact, 0.8, []string{"s2"})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 0.8, second.Importance)
		assert.Equal(t, []string{"s1", "s2"}, second.SourceSessions)
		assert.Equal(t, "User lives in Lisbon", second.Content)
	})

	t.Run("lower importance and known session change nothing", func(t *testing.T) {
		third, err := f.manager.AddLong(ctx, f.tenantID, f.userID,
			"user lives in lisbon", models.MemoryFact, 0.2, []string{"s1"})
		require.NoError(t, err)
		assert.Equal(t, 0.8, third.Importance)
		assert.Equal(t, []string{"s1", "s2"}, third.SourceSessions)
	})

	t.Run("one row and one embedding", func(t *testing.T) {
		entries, err := f.memories.ListLongByUser(ctx, f.tenantID, f.userID, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, 1, f.vectors.Count(vector.UserCollection(f.tenantID, f.userID)))
	})

	t.Run("empty content is rejected", func(t *testing.T) {
		_, err := f.manager.AddLong(ctx, f.tenantID, f.userID, "   ", models.MemoryFact, 0.5, nil)
		assert.True(t, store.IsValidationError(err))
	})
}

func TestManager_Query(t *testing.T) {
	f := newManagerFixture(t, hashVectors)
	ctx := context.Background()

	aisle, err := f.manager.AddLong(ctx, f.tenantID, f.userID,
		"prefers aisle seats on long flights", models.MemoryPreference, 0.8, nil)
	require.NoError(t, err)
	_, err = f.manager.AddLong(ctx, f.tenantID, f.userID,
		"works as a marine biologist in Porto", models.MemoryFact, 0.9, nil)
	require.NoError(t, err)
	latte, err := f.manager.AddLong(ctx, f.tenantID, f.userID,
		"drinks oat milk lattes", models.MemoryPreference, 0.1, nil)
	require.NoError(t, err)
	note, err := f.manager.NoteMedium(ctx, f.tenantID, f.userID, f.session.ID,
		"booking a flight to Tokyo next week", models.MemoryEvent)
	require.NoError(t, err)

	t.Run("hybrid ranking surfaces the closest entry", func(t *testing.T) {
		result, err := f.manager.Query(ctx, &models.MemoryQuery{
			TenantID:  f.tenantID,
			UserID:    f.userID,
			SessionID: f.session.ID,
			Text:      "aisle seat preference",
			K:         2,
		})
		require.NoError(t, err)
		assert.False(t, result.Degraded)
		require.NotEmpty(t, result.Hits)
		assert.Equal(t, aisle.ID, result.Hits[0].Entry.ID)
		assert.Greater(t, result.Hits[0].SemanticScore, 0.0)
		assert.LessOrEqual(t, len(result.Hits), 2)
	})

	t.Run("medium tier requires a session scope", func(t *testing.T) {
		result, err := f.manager.Query(ctx, &models.MemoryQuery{
			TenantID:  f.tenantID,
			UserID:    f.userID,
			SessionID: f.session.ID,
			Text:      "flight to tokyo",
			K:         5,
		})
		require.NoError(t, err)
		ids := hitIDs(result)
		assert.Contains(t, ids, note.ID)

		scopeless, err := f.manager.Query(ctx, &models.MemoryQuery{
			TenantID: f.tenantID,
			UserID:   f.userID,
			Text:     "flight to tokyo",
			K:        5,
		})
		require.NoError(t, err)
		assert.NotContains(t, hitIDs(scopeless), note.ID)
	})

	t.Run("importance floor filters the long tier", func(t *testing.T) {
		result, err := f.manager.Query(ctx, &models.MemoryQuery{
			TenantID: f.tenantID,
			UserID:   f.userID,
			Text:     "oat milk latte",
			K:        5,
		})
		require.NoError(t, err)
		assert.NotContains(t, hitIDs(result), latte.ID)

		lowered, err := f.manager.Query(ctx, &models.MemoryQuery{
			TenantID:      f.tenantID,
			UserID:        f.userID,
			Text:          "oat milk latte",
			K:             5,
			MinImportance: 0.05,
		})
		require.NoError(t, err)
		assert.Contains(t, hitIDs(lowered), latte.ID)
	})

	t.Run("empty query returns empty result", func(t *testing.T) {
		result, err := f.manager.Query(ctx, &models.MemoryQuery{
			TenantID: f.tenantID,
			UserID:   f.userID,
			Text:     "   ",
		})
		require.NoError(t, err)
		assert.Empty(t, result.Hits)
		assert.False(t, result.Degraded)
	})
}

func TestManager_QueryDegraded(t *testing.T) {
	f := newManagerFixture(t, degradedVectors)
	ctx := context.Background()

	added, err := f.manager.AddLong(ctx, f.tenantID, f.userID,
		"prefers aisle seats on long flights", models.MemoryPreference, 0.8, nil)
	require.NoError(t, err)

	result, err := f.manager.Query(ctx, &models.MemoryQuery{
		TenantID: f.tenantID,
		UserID:   f.userID,
		Text:     "aisle seats",
		K:        3,
	})
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, added.ID, result.Hits[0].Entry.ID)
	assert.Equal(t, result.Hits[0].KeywordScore, result.Hits[0].Score)
	assert.Zero(t, result.Hits[0].SemanticScore)
}

// failingDeletes wraps a store and refuses deletes while fail is set.
type failingDeletes struct {
	vector.Store
	fail bool
}

func (f *failingDeletes) Delete(ctx context.Context, collection string, ids ...string) error {
	if f.fail {
		return errors.New("index offline")
	}
	return f.Store.Delete(ctx, collection, ids...)
}

func TestManager_DeleteLong(t *testing.T) {
	f := newManagerFixture(t, hashVectors)
	ctx := context.Background()
	userCol := vector.UserCollection(f.tenantID, f.userID)

	t.Run("removes row and embedding", func(t *testing.T) {
		entry, err := f.manager.AddLong(ctx, f.tenantID, f.userID,
			"temporary fact", models.MemoryFact, 0.5, nil)
		require.NoError(t, err)
		require.Equal(t, 1, f.vectors.Count(userCol))

		require.NoError(t, f.manager.DeleteLong(ctx, f.tenantID, f.userID, []string{entry.ID}))

		entries, err := f.memories.ListLongByUser(ctx, f.tenantID, f.userID, 0)
		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.Equal(t, 0, f.vectors.Count(userCol))
	})

	t.Run("unknown id is not an error", func(t *testing.T) {
		assert.NoError(t, f.manager.DeleteLong(ctx, f.tenantID, f.userID, []string{uuid.New().String()}))
	})

	t.Run("stuck embedding surfaces inconsistency and gc recovers", func(t *testing.T) {
		entry, err := f.manager.AddLong(ctx, f.tenantID, f.userID,
			"fact with a stubborn embedding", models.MemoryFact, 0.5, nil)
		require.NoError(t, err)

		flaky := &failingDeletes{Store: f.vectors, fail: true}
		m := NewManager(f.manager.cfg, f.memories, flaky)

		err = m.DeleteLong(ctx, f.tenantID, f.userID, []string{entry.ID})
		require.ErrorIs(t, err, ErrInconsistent)

		entries, err := f.memories.ListLongByUser(ctx, f.tenantID, f.userID, 0)
		require.NoError(t, err)
		assert.Empty(t, entries, "row deletion must not roll back")
		assert.Equal(t, 1, f.vectors.Count(userCol), "embedding left behind")

		flaky.fail = false
		stats, err := f.manager.GC(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.OrphanEmbeddings)
		assert.Equal(t, 0, f.vectors.Count(userCol))
	})
}

func TestManager_GC(t *testing.T) {
	f := newManagerFixture(t, hashVectors)
	ctx := context.Background()
	sessionCol := vector.SessionCollection(f.tenantID, f.session.ID)
	userCol := vector.UserCollection(f.tenantID, f.userID)

	// A live note, indexed normally.
	live, err := f.manager.NoteMedium(ctx, f.tenantID, f.userID, f.session.ID,
		"still working on the Tokyo itinerary", models.MemoryEvent)
	require.NoError(t, err)

	// An already-expired note with a lingering embedding.
	past := time.Now().UTC().Add(-time.Hour)
	stale := &models.MemoryEntry{
		ID:        uuid.New().String(),
		TenantID:  f.tenantID,
		UserID:    f.userID,
		SessionID: f.session.ID,
		Tier:      models.TierMedium,
		Kind:      models.MemoryEvent,
		Content:   "flight leaves at 9am",
		CreatedAt: past.Add(-time.Hour),
		ExpiresAt: &past,
	}
	require.NoError(t, f.memories.InsertMedium(ctx, stale))
	f.manager.indexEntry(ctx, stale)
	require.Equal(t, 2, f.vectors.Count(sessionCol))

	// A long row whose embedding never made it in.
	unindexed := &models.MemoryEntry{
		ID:          uuid.New().String(),
		TenantID:    f.tenantID,
		UserID:      f.userID,
		Tier:        models.TierLong,
		Kind:        models.MemoryFact,
		Content:     "allergic to peanuts",
		Importance:  0.9,
		Fingerprint: Fingerprint("allergic to peanuts"),
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, f.memories.InsertLong(ctx, unindexed))

	stats, err := f.manager.GC(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ExpiredMedium)
	assert.Equal(t, 0, stats.OrphanEmbeddings)
	assert.Equal(t, 1, stats.ReindexedMissing)

	entries, err := f.memories.ListMediumBySession(ctx, f.tenantID, f.session.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, live.ID, entries[0].ID)
	assert.Equal(t, 1, f.vectors.Count(sessionCol))
	assert.Equal(t, 1, f.vectors.Count(userCol))

	t.Run("second pass is a no-op", func(t *testing.T) {
		stats, err := f.manager.GC(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.ExpiredMedium)
		assert.Zero(t, stats.OrphanEmbeddings)
		assert.Zero(t, stats.ReindexedMissing)
	})
}

func TestManager_Reindex(t *testing.T) {
	t.Run("rebuilds embeddings from rows", func(t *testing.T) {
		f := newManagerFixture(t, hashVectors)
		ctx := context.Background()

		expires := time.Now().UTC().Add(time.Hour)
		require.NoError(t, f.memories.InsertMedium(ctx, &models.MemoryEntry{
			ID:        uuid.New().String(),
			TenantID:  f.tenantID,
			UserID:    f.userID,
			SessionID: f.session.ID,
			Tier:      models.TierMedium,
			Kind:      models.MemoryEvent,
			Content:   "renewing passport this month",
			CreatedAt: time.Now().UTC(),
			ExpiresAt: &expires,
		}))
		require.NoError(t, f.memories.InsertLong(ctx, &models.MemoryEntry{
			ID:          uuid.New().String(),
			TenantID:    f.tenantID,
			UserID:      f.userID,
			Tier:        models.TierLong,
			Kind:        models.MemoryFact,
			Content:     "passport expires in march",
			Importance:  0.7,
			Fingerprint: Fingerprint("passport expires in march"),
			CreatedAt:   time.Now().UTC(),
		}))

		indexed, err := f.manager.Reindex(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, indexed)
		assert.Equal(t, 1, f.vectors.Count(vector.SessionCollection(f.tenantID, f.session.ID)))
		assert.Equal(t, 1, f.vectors.Count(vector.UserCollection(f.tenantID, f.userID)))

		again, err := f.manager.Reindex(ctx)
		require.NoError(t, err)
		assert.Zero(t, again)
	})

	t.Run("degraded store short-circuits without error", func(t *testing.T) {
		f := newManagerFixture(t, degradedVectors)
		ctx := context.Background()

		_, err := f.manager.AddLong(ctx, f.tenantID, f.userID,
			"kept as row only", models.MemoryFact, 0.5, nil)
		require.NoError(t, err)

		indexed, err := f.manager.Reindex(ctx)
		require.NoError(t, err)
		assert.Zero(t, indexed)
	})
}

func hitIDs(result *models.MemoryQueryResult) []string {
	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.Entry.ID)
	}
	return ids
}
