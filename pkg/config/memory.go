package config

import "time"

// MemoryConfig controls the three memory tiers and hybrid retrieval.
type MemoryConfig struct {
	// ShortWindow is the per-session short-term ring size in messages.
	ShortWindow int `yaml:"short_window"`

	// MediumTTL is how long medium-term entries live before GC.
	MediumTTL time.Duration `yaml:"medium_ttl"`

	// HybridAlpha weights semantic vs keyword score:
	// score = alpha*semantic + (1-alpha)*keyword.
	HybridAlpha float64 `yaml:"hybrid_alpha"`

	// QueryK is the default result count for memory queries.
	QueryK int `yaml:"query_k"`

	// MinImportance is the default importance floor applied to query results.
	MinImportance float64 `yaml:"min_importance"`

	// IndexMaxChars truncates tool output before auto-indexing.
	IndexMaxChars int `yaml:"index_max_chars"`

	// GCInterval is how often expired medium entries and orphaned
	// embeddings are collected.
	GCInterval time.Duration `yaml:"gc_interval"`

	// Embedding selects the embedding endpoint backing the vector store.
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// EmbeddingConfig points at an OpenAI-compatible embeddings endpoint.
// An empty APIKey leaves the vector store degraded (keyword-only ranking).
type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`

	// CacheSize bounds the embedding LRU (entries). Repeated query texts
	// and re-indexed content skip the endpoint.
	CacheSize int `yaml:"cache_size"`

	// PersistPath, when set, persists vectors to disk. Empty keeps them in
	// memory and rebuilds from rows at startup.
	PersistPath string `yaml:"persist_path"`
}

// DefaultMemoryConfig returns the built-in memory defaults.
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		ShortWindow:   20,
		MediumTTL:     30 * 24 * time.Hour,
		HybridAlpha:   0.7,
		QueryK:        5,
		MinImportance: 0.3,
		IndexMaxChars: 4000,
		GCInterval:    1 * time.Hour,
		Embedding: EmbeddingConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "text-embedding-3-small",
			CacheSize: 2048,
		},
	}
}
