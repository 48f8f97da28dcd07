// Package vector provides the embedding index behind the memory manager:
// a narrow Store interface, a chromem-go implementation, and the embedding
// pipeline (OpenAI-compatible endpoint behind an LRU cache).
package vector

import (
	"context"
	"errors"
	"strings"
)

// ErrUnavailable marks vector operations that failed because no embedding
// endpoint is configured or reachable. Callers degrade to keyword-only
// ranking when they see it.
var ErrUnavailable = errors.New("vector store unavailable")

// Document is one embedded item. The ID always equals the backing row's ID.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Hit is one similarity result.
type Hit struct {
	ID       string
	Score    float64 // cosine similarity, 0..1
	Content  string
	Metadata map[string]string
}

// Store indexes documents per collection and answers similarity queries.
// Collections are cheap; they are created on first write.
type Store interface {
	// Upsert inserts or replaces a document, embedding its content.
	Upsert(ctx context.Context, collection string, doc Document) error

	// Query returns up to k hits for the query text, most similar first.
	// where filters on metadata equality; nil matches everything.
	Query(ctx context.Context, collection, text string, k int, where map[string]string) ([]Hit, error)

	// Delete removes documents by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, collection string, ids ...string) error

	// IDs lists the document IDs currently indexed in a collection. The GC
	// diffs this against rows to find orphaned embeddings.
	IDs(collection string) []string

	// Count returns the number of documents in a collection.
	Count(collection string) int

	Close() error
}

// Collection names are derived from tenant and scope so a query can never
// cross tenants or users.

// UserCollection is the long-term memory collection for one user.
func UserCollection(tenantID, userID string) string {
	return sanitizeCollection(tenantID + "_user_" + userID)
}

// SessionCollection is the medium-term memory collection for one session.
func SessionCollection(tenantID, sessionID string) string {
	return sanitizeCollection(tenantID + "_session_" + sessionID)
}

func sanitizeCollection(name string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
}
