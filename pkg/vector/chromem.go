package vector

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemStore implements Store on chromem-go. Vectors live in memory (or in
// a gob file when a persist path is set); the store also tracks document IDs
// per collection so the memory GC can enumerate them.
type ChromemStore struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc

	mu  sync.RWMutex
	ids map[string]map[string]struct{} // collection → known document IDs
}

// NewChromemStore creates a store backed by chromem-go. persistPath may be
// empty for a purely in-memory index; the memory manager reindexes rows at
// startup in that case.
func NewChromemStore(persistPath string, embed chromem.EmbeddingFunc) (*ChromemStore, error) {
	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(persistPath, "vectors"), false)
		if err != nil {
			return nil, fmt.Errorf("failed to open persistent vector store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &ChromemStore{
		db:    db,
		embed: embed,
		ids:   make(map[string]map[string]struct{}),
	}, nil
}

// Upsert implements Store.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("vector upsert: empty document id")
	}
	col, err := s.collection(collection)
	if err != nil {
		return err
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:       doc.ID,
		Content:  doc.Content,
		Metadata: doc.Metadata,
	})
	if err != nil {
		return fmt.Errorf("vector upsert %s: %w", doc.ID, err)
	}

	s.mu.Lock()
	if s.ids[collection] == nil {
		s.ids[collection] = make(map[string]struct{})
	}
	s.ids[collection][doc.ID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Query implements Store. k is clamped to the collection size; an empty
// collection returns no hits without calling the embedder.
func (s *ChromemStore) Query(ctx context.Context, collection, text string, k int, where map[string]string) ([]Hit, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := col.Query(ctx, text, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ID:       r.ID,
			Score:    float64(r.Similarity),
			Content:  r.Content,
			Metadata: r.Metadata,
		})
	}
	return hits, nil
}

// Delete implements Store.
func (s *ChromemStore) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := s.collection(collection)
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("vector delete: %w", err)
	}

	s.mu.Lock()
	for _, id := range ids {
		delete(s.ids[collection], id)
	}
	s.mu.Unlock()
	return nil
}

// IDs implements Store.
func (s *ChromemStore) IDs(collection string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ids[collection]))
	for id := range s.ids[collection] {
		out = append(out, id)
	}
	return out
}

// Count implements Store.
func (s *ChromemStore) Count(collection string) int {
	col, err := s.collection(collection)
	if err != nil {
		return 0
	}
	return col.Count()
}

// Close implements Store. chromem persists on every change, so there is
// nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection(name, nil, s.embed)
	if err != nil {
		return nil, fmt.Errorf("vector collection %s: %w", name, err)
	}
	return col, nil
}
