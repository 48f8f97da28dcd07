package models

import "time"

// MemoryTier distinguishes the three memory stores.
type MemoryTier string

const (
	TierShort  MemoryTier = "short"
	TierMedium MemoryTier = "medium"
	TierLong   MemoryTier = "long"
)

// MemoryKind classifies what a memory entry records.
type MemoryKind string

const (
	MemoryFact                MemoryKind = "fact"
	MemoryPreference          MemoryKind = "preference"
	MemoryEvent               MemoryKind = "event"
	MemoryConversationSummary MemoryKind = "conversation_summary"
)

// MemoryEntry is a single remembered item. Short-tier entries live only in
// process memory; medium and long entries are persisted with an embedding
// under the same ID.
type MemoryEntry struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	UserID     string     `json:"user_id"`
	SessionID  string     `json:"session_id,omitempty"` // empty for long-term entries
	Tier       MemoryTier `json:"tier"`
	Kind       MemoryKind `json:"kind"`
	Content    string     `json:"content"`
	Importance float64    `json:"importance"` // 0.0 to 1.0
	// Fingerprint deduplicates long-term entries: SHA-256 of the
	// whitespace-normalized, lower-cased content.
	Fingerprint string    `json:"fingerprint,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	// ExpiresAt is set on medium-tier entries (creation + TTL).
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// SourceSessions lists every session that contributed a long-term entry.
	SourceSessions []string `json:"source_sessions,omitempty"`
}

// MemoryQuery describes a hybrid relevance search over medium and long tiers.
type MemoryQuery struct {
	TenantID      string       `json:"tenant_id"`
	UserID        string       `json:"user_id"`
	SessionID     string       `json:"session_id,omitempty"` // scopes the medium tier
	Text          string       `json:"text"`
	Tiers         []MemoryTier `json:"tiers,omitempty"` // defaults to medium+long
	K             int          `json:"k,omitempty"`
	MinImportance float64      `json:"min_importance,omitempty"`
}

// MemoryHit is one scored query result.
type MemoryHit struct {
	Entry         *MemoryEntry `json:"entry"`
	Score         float64      `json:"score"`
	SemanticScore float64      `json:"semantic_score"`
	KeywordScore  float64      `json:"keyword_score"`
}

// MemoryQueryResult carries hits plus a degraded flag set when the vector
// store was unavailable and ranking fell back to keyword overlap only.
type MemoryQueryResult struct {
	Hits     []MemoryHit `json:"hits"`
	Degraded bool        `json:"degraded,omitempty"`
}
