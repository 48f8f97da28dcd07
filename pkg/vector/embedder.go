package vector

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/famulus-ai/famulus/pkg/config"
)

// EmbedderFromConfig builds the embedding pipeline: an OpenAI-compatible
// endpoint behind an LRU cache. With no API key configured it returns the
// unavailable stub, which keeps the memory manager in keyword-only mode.
func EmbedderFromConfig(cfg config.EmbeddingConfig) chromem.EmbeddingFunc {
	if cfg.APIKey == "" {
		return UnavailableEmbedder()
	}
	fn := chromem.NewEmbeddingFuncOpenAICompat(cfg.BaseURL, cfg.APIKey, cfg.Model, nil)
	if cfg.CacheSize > 0 {
		fn = NewCachedEmbedder(fn, cfg.CacheSize)
	}
	return fn
}

// UnavailableEmbedder always fails with ErrUnavailable. It stands in when no
// embedding endpoint is configured.
func UnavailableEmbedder() chromem.EmbeddingFunc {
	return func(_ context.Context, _ string) ([]float32, error) {
		return nil, ErrUnavailable
	}
}

// NewCachedEmbedder wraps an embedding func with an LRU cache keyed on the
// exact text. Query texts and re-indexed content repeat often enough that
// this saves a round trip per hit.
func NewCachedEmbedder(fn chromem.EmbeddingFunc, size int) chromem.EmbeddingFunc {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		// Only possible with size <= 0, which callers guard against.
		return fn
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		if vec, ok := cache.Get(text); ok {
			return vec, nil
		}
		vec, err := fn(ctx, text)
		if err != nil {
			return nil, err
		}
		cache.Add(text, vec)
		return vec, nil
	}
}

// HashEmbedder returns a deterministic embedding func for tests and offline
// runs: texts become L2-normalized bags of hashed character trigrams, so
// overlapping texts score high on cosine similarity without any endpoint.
func HashEmbedder(dim int) chromem.EmbeddingFunc {
	if dim <= 0 {
		dim = 256
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dim)
		runes := []rune(strings.ToLower(text))
		for i := 0; i+3 <= len(runes); i++ {
			h := fnv.New32a()
			h.Write([]byte(string(runes[i : i+3])))
			vec[h.Sum32()%uint32(dim)]++
		}

		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm == 0 {
			vec[0] = 1
			return vec, nil
		}
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
		return vec, nil
	}
}
