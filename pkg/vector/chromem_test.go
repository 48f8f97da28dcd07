package vector

import (
	"context"
	"sync/atomic"
	"testing"

	chromem "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore("", HashEmbedder(256))
	require.NoError(t, err)
	return store
}

func TestChromemStore_UpsertAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	collection := UserCollection("t1", "u1")

	docs := []Document{
		{ID: "m1", Content: "user prefers aisle seats on long flights"},
		{ID: "m2", Content: "user works from Lisbon most of the year"},
		{ID: "m3", Content: "quarterly report deadline is next Friday"},
	}
	for _, doc := range docs {
		require.NoError(t, store.Upsert(ctx, collection, doc))
	}

	t.Run("most similar document ranks first", func(t *testing.T) {
		hits, err := store.Query(ctx, collection, "aisle seats on flights", 3, nil)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "m1", hits[0].ID)
		assert.Greater(t, hits[0].Score, hits[len(hits)-1].Score)
	})

	t.Run("k is clamped to collection size", func(t *testing.T) {
		hits, err := store.Query(ctx, collection, "anything goes", 50, nil)
		require.NoError(t, err)
		assert.Len(t, hits, 3)
	})

	t.Run("empty collection returns no hits", func(t *testing.T) {
		hits, err := store.Query(ctx, SessionCollection("t1", "nope"), "query", 5, nil)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("upsert replaces by id", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, collection, Document{
			ID:      "m3",
			Content: "deadline moved to Monday",
		}))
		assert.Equal(t, 3, store.Count(collection))
	})
}

func TestChromemStore_MetadataFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	collection := SessionCollection("t1", "s1")

	require.NoError(t, store.Upsert(ctx, collection, Document{
		ID: "a", Content: "note about travel", Metadata: map[string]string{"kind": "fact"},
	}))
	require.NoError(t, store.Upsert(ctx, collection, Document{
		ID: "b", Content: "note about travel budget", Metadata: map[string]string{"kind": "preference"},
	}))

	hits, err := store.Query(ctx, collection, "travel", 5, map[string]string{"kind": "fact"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}

func TestChromemStore_DeleteAndIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	collection := UserCollection("t1", "u1")

	require.NoError(t, store.Upsert(ctx, collection, Document{ID: "m1", Content: "alpha"}))
	require.NoError(t, store.Upsert(ctx, collection, Document{ID: "m2", Content: "beta"}))
	assert.ElementsMatch(t, []string{"m1", "m2"}, store.IDs(collection))

	require.NoError(t, store.Delete(ctx, collection, "m1"))
	assert.ElementsMatch(t, []string{"m2"}, store.IDs(collection))
	assert.Equal(t, 1, store.Count(collection))

	t.Run("deleting nothing is a no-op", func(t *testing.T) {
		assert.NoError(t, store.Delete(ctx, collection))
	})

	t.Run("collections are isolated", func(t *testing.T) {
		other := UserCollection("t2", "u1")
		assert.Empty(t, store.IDs(other))
		assert.Equal(t, 0, store.Count(other))
	})
}

func TestUnavailableEmbedder(t *testing.T) {
	store, err := NewChromemStore("", UnavailableEmbedder())
	require.NoError(t, err)
	ctx := context.Background()

	err = store.Upsert(ctx, UserCollection("t1", "u1"), Document{ID: "m1", Content: "text"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewCachedEmbedder(t *testing.T) {
	var calls atomic.Int32
	inner := chromem.EmbeddingFunc(func(ctx context.Context, text string) ([]float32, error) {
		calls.Add(1)
		return HashEmbedder(64)(ctx, text)
	})
	cached := NewCachedEmbedder(inner, 8)
	ctx := context.Background()

	_, err := cached(ctx, "repeated text")
	require.NoError(t, err)
	_, err = cached(ctx, "repeated text")
	require.NoError(t, err)
	_, err = cached(ctx, "different text")
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
}

func TestCollectionNames(t *testing.T) {
	assert.Equal(t, "t1_user_u-1", UserCollection("t1", "u-1"))
	assert.Equal(t, "t1_session_s_1", SessionCollection("t1", "s:1"))
	assert.NotEqual(t, UserCollection("t1", "u1"), SessionCollection("t1", "u1"))
}
