package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/graph"
	"github.com/famulus-ai/famulus/pkg/integrity"
	"github.com/famulus-ai/famulus/pkg/llm"
	"github.com/famulus-ai/famulus/pkg/models"
)

// knowledgeImportanceFloor drops extractions the model itself rated
// throwaway. The retrieval floor is separate and higher.
const knowledgeImportanceFloor = 0.3

// KnowledgeAgent extracts durable facts, preferences, and events from a user
// turn and writes them to long-term memory. It runs detached from the
// request; the reply never waits for it.
type KnowledgeAgent struct {
	llm       llm.Client
	cfg       *config.Config
	memory    MemoryWriter
	integrity *IntegrityAgent
	logger    *slog.Logger
}

// NewKnowledgeAgent creates the knowledge agent. integrity is optional;
// without it extracted items are stored unchecked.
func NewKnowledgeAgent(client llm.Client, cfg *config.Config, memory MemoryWriter, integrity *IntegrityAgent) *KnowledgeAgent {
	return &KnowledgeAgent{
		llm:       client,
		cfg:       cfg,
		memory:    memory,
		integrity: integrity,
		logger:    slog.Default().With("component", "agents.knowledge"),
	}
}

// Process extracts knowledge from the snapshot's user turn, runs every item
// through the integrity check, then stores it. The check reports
// contradictions on its own channels; it never blocks storage.
func (k *KnowledgeAgent) Process(ctx context.Context, snap *graph.State) error {
	items, err := k.extract(ctx, snap)
	if err != nil {
		return fmt.Errorf("knowledge extraction: %w", err)
	}

	for _, item := range items {
		kind := item.kind()
		cand := integrity.Candidate{
			TenantID:   snap.TenantID,
			UserID:     snap.UserID,
			SessionID:  snap.SessionID,
			Kind:       kind,
			Content:    item.Text,
			Importance: item.Importance,
		}
		if k.integrity != nil {
			k.integrity.Inspect(ctx, cand)
		}

		if _, err := k.memory.AddLong(ctx, snap.TenantID, snap.UserID, item.Text, kind, item.Importance, []string{snap.SessionID}); err != nil {
			k.logger.Warn("failed to store extracted knowledge",
				"user_id", snap.UserID, "kind", string(kind), "error", err)
		}
	}

	if len(items) > 0 {
		k.logger.Info("knowledge extracted",
			"session_id", snap.SessionID, "items", len(items))
	}
	return nil
}

type knowledgeEnvelope struct {
	Items []knowledgeItem `json:"items"`
}

type knowledgeItem struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Importance float64 `json:"importance"`
}

func (i knowledgeItem) kind() models.MemoryKind {
	switch i.Type {
	case "preference":
		return models.MemoryPreference
	case "event":
		return models.MemoryEvent
	default:
		return models.MemoryFact
	}
}

func (i knowledgeItem) valid() bool {
	switch i.Type {
	case "fact", "preference", "event":
	default:
		return false
	}
	return strings.TrimSpace(i.Text) != ""
}

// extract runs the extraction generation and filters its output: malformed
// or off-schema items are dropped, importance is clamped to [0,1], items
// under the floor are discarded.
func (k *KnowledgeAgent) extract(ctx context.Context, snap *graph.State) ([]knowledgeItem, error) {
	providerCfg, err := k.cfg.GetLLMProvider(k.cfg.UtilityProvider())
	if err != nil {
		return nil, err
	}

	resp, err := k.llm.Generate(ctx, &llm.Request{
		SessionID: snap.SessionID,
		Purpose:   llm.PurposeKnowledge,
		Messages: []llm.Message{
			{Role: models.RoleSystem, Content: knowledgeSystemPrompt},
			{Role: models.RoleUserMsg, Content: buildKnowledgeUserMessage(snap.History, snap.Message)},
		},
		Config:  providerCfg,
		Options: llm.Options{JSONOnly: true},
	})
	if err != nil {
		return nil, err
	}
	if resp.SafetyBlocked() {
		return nil, nil
	}

	var env knowledgeEnvelope
	if err := llm.DecodeJSON(resp.Text, &env); err != nil {
		return nil, fmt.Errorf("malformed extraction output: %w", err)
	}

	out := make([]knowledgeItem, 0, len(env.Items))
	for _, item := range env.Items {
		if !item.valid() {
			continue
		}
		item.Text = strings.TrimSpace(item.Text)
		if item.Importance < 0 {
			item.Importance = 0
		}
		if item.Importance > 1 {
			item.Importance = 1
		}
		if item.Importance < knowledgeImportanceFloor {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}
