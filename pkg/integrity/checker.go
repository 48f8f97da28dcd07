// Package integrity detects logical contradictions between new knowledge
// items and a user's existing long-term memories. Detection is conservative:
// a contradiction is reported only when the comparison model is at least 90%
// confident, and comparison failures silently drop the pair. The check always
// runs as detached background work, never on the user's critical path.
package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/llm"
	"github.com/famulus-ai/famulus/pkg/models"
)

const (
	// topSimilar bounds how many existing memories are considered.
	topSimilar = 5
	// minImportance filters which memories are worth defending.
	minImportance = 0.7
	// duplicateSimilarity marks a pair as restatement rather than
	// contradiction.
	duplicateSimilarity = 0.95
	// confidenceFloor is the reporting threshold.
	confidenceFloor = 0.90
	// maxParallelCompares bounds concurrent comparison calls.
	maxParallelCompares = 4
)

// MemoryQuerier is the slice of the memory manager the checker needs.
type MemoryQuerier interface {
	Query(ctx context.Context, q *models.MemoryQuery) (*models.MemoryQueryResult, error)
}

// Candidate is a knowledge item about to enter long-term memory.
type Candidate struct {
	TenantID   string
	UserID     string
	SessionID  string
	Kind       models.MemoryKind
	Content    string
	Importance float64
}

// Finding is one detected contradiction between the candidate and an
// existing memory.
type Finding struct {
	Candidate  Candidate
	Existing   *models.MemoryEntry
	Confidence float64
	Rationale  string
}

// Resolution choices offered on a contradiction notification. "New" is the
// candidate statement, "existing" the stored memory.
const (
	ResolutionChooseNew       = "choose_new"
	ResolutionChooseExisting  = "choose_existing"
	ResolutionNoContradiction = "no_contradiction"
	ResolutionMerge           = "merge"
)

// ResolutionOptions is the form attached to every contradiction notification.
var ResolutionOptions = []string{
	ResolutionChooseNew,
	ResolutionChooseExisting,
	ResolutionNoContradiction,
	ResolutionMerge,
}

// Checker compares candidates against similar long-term memories.
// Stateless and safe for concurrent use.
type Checker struct {
	memory MemoryQuerier
	llm    llm.Client
	cfg    *config.Config
	logger *slog.Logger
}

// NewChecker creates a Checker backed by the memory manager and the utility
// LLM provider.
func NewChecker(memory MemoryQuerier, client llm.Client, cfg *config.Config) *Checker {
	return &Checker{
		memory: memory,
		llm:    client,
		cfg:    cfg,
		logger: slog.Default().With("component", "integrity"),
	}
}

// Check runs the detection pipeline: retrieve the most similar important
// memories, pre-filter incomparable and duplicate pairs, compare the rest in
// parallel, and keep only high-confidence contradictions.
func (c *Checker) Check(ctx context.Context, cand Candidate) ([]Finding, error) {
	if strings.TrimSpace(cand.Content) == "" {
		return nil, nil
	}

	res, err := c.memory.Query(ctx, &models.MemoryQuery{
		TenantID:      cand.TenantID,
		UserID:        cand.UserID,
		Text:          cand.Content,
		Tiers:         []models.MemoryTier{models.TierLong},
		K:             topSimilar,
		MinImportance: minImportance,
	})
	if err != nil {
		return nil, fmt.Errorf("querying similar memories: %w", err)
	}

	var pairs []*models.MemoryEntry
	for _, hit := range res.Hits {
		entry := hit.Entry
		if entry == nil || !kindsComparable(cand.Kind, entry.Kind) {
			continue
		}
		if bigramSimilarity(cand.Content, entry.Content) > duplicateSimilarity {
			// A restatement of what we already know, not a conflict.
			continue
		}
		pairs = append(pairs, entry)
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	providerCfg, err := c.cfg.GetLLMProvider(c.cfg.UtilityProvider())
	if err != nil {
		return nil, fmt.Errorf("resolving integrity provider: %w", err)
	}

	var (
		mu       sync.Mutex
		findings []Finding
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelCompares)
	for _, entry := range pairs {
		entry := entry
		g.Go(func() error {
			verdict, err := c.compare(gctx, providerCfg, cand, entry)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Conservative: an unanswered comparison reports nothing.
				c.logger.Warn("contradiction comparison failed, skipping pair",
					"memory_id", entry.ID, "error", err)
				return nil
			}
			if !verdict.Contradiction || verdict.Confidence < confidenceFloor {
				return nil
			}
			mu.Lock()
			findings = append(findings, Finding{
				Candidate:  cand,
				Existing:   entry,
				Confidence: verdict.Confidence,
				Rationale:  verdict.Rationale,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(findings) > 0 {
		c.logger.Info("contradictions detected",
			"user_id", cand.UserID, "count", len(findings))
	}
	return findings, nil
}

// verdict is the JSON shape the comparison model emits.
type verdict struct {
	Contradiction bool    `json:"contradiction"`
	Confidence    float64 `json:"confidence"`
	Rationale     string  `json:"rationale"`
}

// compare asks the model whether the candidate contradicts one existing
// memory.
func (c *Checker) compare(ctx context.Context, providerCfg *config.LLMProviderConfig, cand Candidate, existing *models.MemoryEntry) (*verdict, error) {
	req := &llm.Request{
		SessionID: cand.SessionID,
		Purpose:   llm.PurposeIntegrity,
		Messages: []llm.Message{
			{Role: models.RoleSystem, Content: compareSystemPrompt},
			{Role: models.RoleUserMsg, Content: buildComparePrompt(cand, existing)},
		},
		Config:  providerCfg,
		Options: llm.Options{JSONOnly: true},
	}

	resp, err := c.llm.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.SafetyBlocked() {
		return nil, fmt.Errorf("comparison safety-blocked")
	}

	var v verdict
	if err := llm.DecodeJSON(resp.Text, &v); err != nil {
		return nil, err
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of range", v.Confidence)
	}
	return &v, nil
}

// kindsComparable reports whether two memory kinds can meaningfully
// contradict. Same kind always compares; a recorded event can also
// contradict a standing fact. Preferences only conflict with preferences,
// and conversation summaries are never compared.
func kindsComparable(a, b models.MemoryKind) bool {
	if a == models.MemoryConversationSummary || b == models.MemoryConversationSummary {
		return false
	}
	if a == b {
		return true
	}
	return (a == models.MemoryFact && b == models.MemoryEvent) ||
		(a == models.MemoryEvent && b == models.MemoryFact)
}
