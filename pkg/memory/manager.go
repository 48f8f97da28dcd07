// Package memory implements the three-tier memory manager: a per-session
// short-term ring kept in process, TTL-bound medium-term notes persisted per
// session, and fingerprint-deduplicated long-term knowledge persisted per
// user. Medium and long entries are embedded into the vector store under the
// same IDs; retrieval blends cosine similarity with keyword overlap and
// degrades to keyword-only ranking when no embedding endpoint is available.
package memory

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/store"
	"github.com/famulus-ai/famulus/pkg/vector"
)

// ErrInconsistent reports a partial delete: rows were removed but at least
// one embedding is still indexed. GC clears the leftovers on its next pass.
var ErrInconsistent = errors.New("memory tiers inconsistent")

// longStripes bounds the lock table for long-term upserts. Two concurrent
// AddLong calls for the same (tenant, user, fingerprint) always hit the same
// stripe, so the fingerprint check and insert cannot interleave in process.
const longStripes = 64

// Manager coordinates the three memory tiers.
type Manager struct {
	cfg      *config.MemoryConfig
	memories *store.MemoryStore
	vectors  vector.Store
	logger   *slog.Logger

	ringsMu sync.Mutex
	rings   map[string]*ring // session ID → short-term window

	stripes [longStripes]sync.Mutex

	// collections remembers every vector collection we have written to or
	// discovered from rows. The vector store cannot enumerate collections,
	// and GC needs the full set to find embeddings whose rows are gone.
	colMu       sync.Mutex
	collections map[string]struct{}
}

// NewManager creates a memory manager over the given stores.
func NewManager(cfg *config.MemoryConfig, memories *store.MemoryStore, vectors vector.Store) *Manager {
	if cfg == nil {
		cfg = config.DefaultMemoryConfig()
	}
	return &Manager{
		cfg:         cfg,
		memories:    memories,
		vectors:     vectors,
		logger:      slog.Default().With("component", "memory"),
		rings:       make(map[string]*ring),
		collections: make(map[string]struct{}),
	}
}

// RecordMessage appends a message to the session's short-term ring. The ring
// evicts its oldest entry once full.
func (m *Manager) RecordMessage(sessionID string, msg *models.Message) {
	m.sessionRing(sessionID).add(msg)
}

// Window returns the session's short-term window, oldest first.
func (m *Manager) Window(sessionID string) []*models.Message {
	return m.sessionRing(sessionID).snapshot()
}

// Prime seeds an empty ring from persisted messages, oldest first. Used
// after a restart to rebuild the window from the message tail; a ring that
// already holds messages is left alone.
func (m *Manager) Prime(sessionID string, msgs []*models.Message) {
	r := m.sessionRing(sessionID)
	if r.len() > 0 {
		return
	}
	for _, msg := range msgs {
		r.add(msg)
	}
}

// DropSession releases the session's short-term ring. Persisted tiers are
// untouched; medium entries expire through GC.
func (m *Manager) DropSession(sessionID string) {
	m.ringsMu.Lock()
	defer m.ringsMu.Unlock()
	delete(m.rings, sessionID)
}

func (m *Manager) sessionRing(sessionID string) *ring {
	m.ringsMu.Lock()
	defer m.ringsMu.Unlock()
	r, ok := m.rings[sessionID]
	if !ok {
		r = newRing(m.cfg.ShortWindow)
		m.rings[sessionID] = r
	}
	return r
}

// NoteMedium persists a session-scoped note with a TTL and indexes its
// embedding. Indexing is best-effort: the row is kept even when the vector
// store is degraded, and GC restores the embedding later.
func (m *Manager) NoteMedium(ctx context.Context, tenantID, userID, sessionID, content string, kind models.MemoryKind) (*models.MemoryEntry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, store.NewValidationError("content", "required")
	}
	if kind == "" {
		kind = models.MemoryFact
	}

	now := time.Now().UTC()
	expires := now.Add(m.cfg.MediumTTL)
	entry := &models.MemoryEntry{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		UserID:    userID,
		SessionID: sessionID,
		Tier:      models.TierMedium,
		Kind:      kind,
		Content:   content,
		CreatedAt: now,
		ExpiresAt: &expires,
	}
	if err := m.memories.InsertMedium(ctx, entry); err != nil {
		return nil, err
	}
	m.indexEntry(ctx, entry)
	return entry, nil
}

// AddLong upserts a long-term entry keyed by content fingerprint. A
// duplicate merges source sessions (set union) and keeps the higher
// importance. Concurrent upserts of the same content serialise on a lock
// stripe; a cross-process race resolves through the store's uniqueness
// constraint and merges into the winner.
func (m *Manager) AddLong(ctx context.Context, tenantID, userID, content string, kind models.MemoryKind, importance float64, sourceSessions []string) (*models.MemoryEntry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, store.NewValidationError("content", "required")
	}
	if importance < 0 || importance > 1 {
		return nil, store.NewValidationError("importance", "must be between 0 and 1")
	}
	if kind == "" {
		kind = models.MemoryFact
	}
	fingerprint := Fingerprint(content)

	stripe := m.stripeFor(tenantID, userID, fingerprint)
	stripe.Lock()
	defer stripe.Unlock()

	existing, err := m.memories.GetLongByFingerprint(ctx, tenantID, userID, fingerprint)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return m.mergeLong(ctx, existing, importance, sourceSessions)
	}

	entry := &models.MemoryEntry{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		UserID:         userID,
		Tier:           models.TierLong,
		Kind:           kind,
		Content:        content,
		Importance:     importance,
		Fingerprint:    fingerprint,
		CreatedAt:      time.Now().UTC(),
		SourceSessions: unionSessions(nil, sourceSessions),
	}
	err = m.memories.InsertLong(ctx, entry)
	if errors.Is(err, store.ErrAlreadyExists) {
		existing, err = m.memories.GetLongByFingerprint(ctx, tenantID, userID, fingerprint)
		if err != nil {
			return nil, fmt.Errorf("failed to load memory after duplicate insert: %w", err)
		}
		return m.mergeLong(ctx, existing, importance, sourceSessions)
	}
	if err != nil {
		return nil, err
	}
	m.indexEntry(ctx, entry)
	return entry, nil
}

func (m *Manager) mergeLong(ctx context.Context, existing *models.MemoryEntry, importance float64, sourceSessions []string) (*models.MemoryEntry, error) {
	merged := unionSessions(existing.SourceSessions, sourceSessions)
	top := existing.Importance
	if importance > top {
		top = importance
	}
	if top == existing.Importance && len(merged) == len(existing.SourceSessions) {
		return existing, nil
	}
	if err := m.memories.UpdateLong(ctx, existing.TenantID, existing.ID, top, merged); err != nil {
		return nil, err
	}
	existing.Importance = top
	existing.SourceSessions = merged
	return existing, nil
}

func (m *Manager) stripeFor(tenantID, userID, fingerprint string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	return &m.stripes[h.Sum32()%longStripes]
}

func unionSessions(existing, extra []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(extra))
	out := make([]string, 0, len(existing)+len(extra))
	for _, group := range [][]string{existing, extra} {
		for _, id := range group {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Query ranks medium and long entries by a hybrid score
// alpha*semantic + (1-alpha)*keyword_jaccard. When any vector lookup fails
// the whole result degrades to keyword-only ranking and Degraded is set.
// An empty query text returns an empty result without touching the stores.
// The importance floor applies to the long tier; session notes are working
// context and are ranked purely by relevance unless a floor is passed
// explicitly.
func (m *Manager) Query(ctx context.Context, q *models.MemoryQuery) (*models.MemoryQueryResult, error) {
	result := &models.MemoryQueryResult{}
	if q == nil || strings.TrimSpace(q.Text) == "" {
		return result, nil
	}

	k := q.K
	if k <= 0 {
		k = m.cfg.QueryK
	}
	tiers := q.Tiers
	if len(tiers) == 0 {
		tiers = []models.MemoryTier{models.TierMedium, models.TierLong}
	}
	longFloor := q.MinImportance
	if longFloor <= 0 {
		longFloor = m.cfg.MinImportance
	}

	type tierCandidates struct {
		collection string
		entries    []*models.MemoryEntry
	}
	var groups []tierCandidates
	for _, tier := range tiers {
		switch tier {
		case models.TierMedium:
			if q.SessionID == "" {
				continue
			}
			entries, err := m.memories.ListMediumBySession(ctx, q.TenantID, q.SessionID)
			if err != nil {
				return nil, err
			}
			if q.MinImportance > 0 {
				entries = filterImportance(entries, q.MinImportance)
			}
			groups = append(groups, tierCandidates{vector.SessionCollection(q.TenantID, q.SessionID), entries})
		case models.TierLong:
			entries, err := m.memories.ListLongByUser(ctx, q.TenantID, q.UserID, longFloor)
			if err != nil {
				return nil, err
			}
			groups = append(groups, tierCandidates{vector.UserCollection(q.TenantID, q.UserID), entries})
		}
	}

	semantic := make(map[string]float64)
	degraded := false
	for _, group := range groups {
		if degraded || len(group.entries) == 0 {
			continue
		}
		// Rows without a single indexed embedding mean the embedder never
		// ran for this scope: no semantic signal exists yet.
		if m.vectors.Count(group.collection) == 0 {
			degraded = true
			continue
		}
		hits, err := m.vectors.Query(ctx, group.collection, q.Text, len(group.entries), nil)
		if err != nil {
			if !errors.Is(err, vector.ErrUnavailable) {
				m.logger.Warn("Vector query failed, ranking by keywords only",
					"collection", group.collection, "error", err)
			}
			degraded = true
			continue
		}
		for _, hit := range hits {
			semantic[hit.ID] = hit.Score
		}
	}

	queryTokens := tokenize(q.Text)
	alpha := m.cfg.HybridAlpha
	var hits []models.MemoryHit
	for _, group := range groups {
		for _, entry := range group.entries {
			keyword := jaccard(queryTokens, tokenize(entry.Content))
			hit := models.MemoryHit{Entry: entry, KeywordScore: keyword}
			if degraded {
				hit.Score = keyword
			} else {
				hit.SemanticScore = semantic[entry.ID]
				hit.Score = alpha*hit.SemanticScore + (1-alpha)*keyword
			}
			hits = append(hits, hit)
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Entry.Importance > hits[j].Entry.Importance
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	result.Hits = hits
	result.Degraded = degraded
	return result, nil
}

func filterImportance(entries []*models.MemoryEntry, floor float64) []*models.MemoryEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.Importance >= floor {
			out = append(out, e)
		}
	}
	return out
}

// DeleteLong removes long-term entries from both sides. Rows go first; each
// embedding delete is retried with backoff. When an embedding survives the
// retries the error wraps ErrInconsistent and GC removes the orphan later.
func (m *Manager) DeleteLong(ctx context.Context, tenantID, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	collection := vector.UserCollection(tenantID, userID)

	var stuck []string
	for _, id := range ids {
		err := m.memories.DeleteLong(ctx, tenantID, userID, id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to delete memory %s: %w", id, err)
		}
		if err := m.deleteEmbedding(ctx, collection, id); err != nil {
			m.logger.Error("Embedding delete failed after retries",
				"memory_id", id, "collection", collection, "error", err)
			stuck = append(stuck, id)
		}
	}
	if len(stuck) > 0 {
		return fmt.Errorf("%w: %d embedding(s) still indexed after row delete", ErrInconsistent, len(stuck))
	}
	return nil
}

func (m *Manager) deleteEmbedding(ctx context.Context, collection, id string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(func() error {
		err := m.vectors.Delete(ctx, collection, id)
		if errors.Is(err, vector.ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx))
}

// GCStats summarises one garbage collection pass.
type GCStats struct {
	ExpiredMedium    int `json:"expired_medium"`
	OrphanEmbeddings int `json:"orphan_embeddings"`
	ReindexedMissing int `json:"reindexed_missing"`
}

// GC removes medium-term rows past their TTL together with their embeddings,
// deletes embeddings whose rows are gone, and re-indexes rows whose
// embeddings are missing. Safe to run concurrently with reads and writes;
// the scheduler runs it on an interval.
func (m *Manager) GC(ctx context.Context) (*GCStats, error) {
	stats := &GCStats{}

	expired, err := m.memories.DeleteExpiredMedium(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired medium memories: %w", err)
	}
	stats.ExpiredMedium = len(expired)

	expiredByCollection := make(map[string][]string)
	for _, d := range expired {
		col := vector.SessionCollection(d.TenantID, d.SessionID)
		expiredByCollection[col] = append(expiredByCollection[col], d.ID)
	}
	for col, ids := range expiredByCollection {
		m.rememberCollection(col)
		if err := m.vectors.Delete(ctx, col, ids...); err != nil {
			m.logger.Warn("Failed to delete expired embeddings", "collection", col, "error", err)
		}
	}

	live, err := m.liveEntriesByCollection(ctx)
	if err != nil {
		return nil, err
	}

	degraded := false
	for _, col := range m.knownCollections() {
		want := live[col]

		var orphans []string
		for _, id := range m.vectors.IDs(col) {
			if _, ok := want[id]; !ok {
				orphans = append(orphans, id)
			}
		}
		if len(orphans) > 0 {
			if err := m.vectors.Delete(ctx, col, orphans...); err != nil {
				m.logger.Warn("Failed to delete orphan embeddings", "collection", col, "error", err)
			} else {
				stats.OrphanEmbeddings += len(orphans)
			}
		}

		if degraded {
			continue
		}
		indexed := make(map[string]struct{})
		for _, id := range m.vectors.IDs(col) {
			indexed[id] = struct{}{}
		}
		for id, entry := range want {
			if _, ok := indexed[id]; ok {
				continue
			}
			err := m.vectors.Upsert(ctx, col, documentFor(entry))
			if errors.Is(err, vector.ErrUnavailable) {
				degraded = true
				break
			}
			if err != nil {
				m.logger.Warn("Failed to re-index memory", "memory_id", id, "error", err)
				continue
			}
			stats.ReindexedMissing++
		}
	}

	return stats, nil
}

// Reindex rebuilds the vector index from persisted rows: every live row
// without an embedding is embedded. Called at startup when vectors live in
// memory only. Returns the number of entries indexed; a degraded vector
// store short-circuits without error.
func (m *Manager) Reindex(ctx context.Context) (int, error) {
	live, err := m.liveEntriesByCollection(ctx)
	if err != nil {
		return 0, err
	}

	indexed := 0
	for col, entries := range live {
		have := make(map[string]struct{})
		for _, id := range m.vectors.IDs(col) {
			have[id] = struct{}{}
		}
		for id, entry := range entries {
			if _, ok := have[id]; ok {
				continue
			}
			err := m.vectors.Upsert(ctx, col, documentFor(entry))
			if errors.Is(err, vector.ErrUnavailable) {
				m.logger.Info("Vector store unavailable, memory retrieval will rank by keywords only")
				return indexed, nil
			}
			if err != nil {
				m.logger.Warn("Failed to index memory", "memory_id", id, "error", err)
				continue
			}
			indexed++
		}
	}
	return indexed, nil
}

// liveEntriesByCollection loads every live medium and long row grouped by
// collection, remembering each collection for future GC passes.
func (m *Manager) liveEntriesByCollection(ctx context.Context) (map[string]map[string]*models.MemoryEntry, error) {
	long, err := m.memories.ListAllLong(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list long-term memories: %w", err)
	}
	medium, err := m.memories.ListAllMediumLive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list medium-term memories: %w", err)
	}

	out := make(map[string]map[string]*models.MemoryEntry)
	for _, entry := range append(long, medium...) {
		col := collectionFor(entry)
		if out[col] == nil {
			out[col] = make(map[string]*models.MemoryEntry)
		}
		out[col][entry.ID] = entry
		m.rememberCollection(col)
	}
	return out, nil
}

// indexEntry embeds an entry, best-effort. Rows stay authoritative: a failed
// upsert leaves a missing embedding for GC or Reindex to restore.
func (m *Manager) indexEntry(ctx context.Context, entry *models.MemoryEntry) {
	col := collectionFor(entry)
	m.rememberCollection(col)
	if err := m.vectors.Upsert(ctx, col, documentFor(entry)); err != nil {
		if !errors.Is(err, vector.ErrUnavailable) {
			m.logger.Warn("Failed to index memory embedding",
				"memory_id", entry.ID, "collection", col, "error", err)
		}
	}
}

func (m *Manager) rememberCollection(name string) {
	m.colMu.Lock()
	defer m.colMu.Unlock()
	m.collections[name] = struct{}{}
}

func (m *Manager) knownCollections() []string {
	m.colMu.Lock()
	defer m.colMu.Unlock()
	out := make([]string, 0, len(m.collections))
	for name := range m.collections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func collectionFor(entry *models.MemoryEntry) string {
	if entry.Tier == models.TierLong {
		return vector.UserCollection(entry.TenantID, entry.UserID)
	}
	return vector.SessionCollection(entry.TenantID, entry.SessionID)
}

func documentFor(entry *models.MemoryEntry) vector.Document {
	return vector.Document{
		ID:      entry.ID,
		Content: entry.Content,
		Metadata: map[string]string{
			"kind": string(entry.Kind),
			"tier": string(entry.Tier),
		},
	}
}
