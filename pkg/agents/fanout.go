package agents

import (
	"context"
	"log/slog"
	"strings"

	"github.com/famulus-ai/famulus/pkg/graph"
)

// Fanout hands the knowledge pipeline a state snapshot and returns
// immediately: extraction and integrity checking run detached while the
// critical path continues toward the reply.
type Fanout struct {
	spawner   graph.Spawner
	knowledge *KnowledgeAgent
	logger    *slog.Logger
}

// NewFanout creates the background fan-out node.
func NewFanout(spawner graph.Spawner, knowledge *KnowledgeAgent) *Fanout {
	return &Fanout{
		spawner:   spawner,
		knowledge: knowledge,
		logger:    slog.Default().With("component", "agents.fanout"),
	}
}

// Dispatch implements graph.NodeFunc. A blank turn spawns nothing: there is
// nothing to learn and no memory write may happen.
func (f *Fanout) Dispatch(ctx context.Context, st *graph.State) (*graph.State, error) {
	if strings.TrimSpace(st.Message) == "" {
		return st, nil
	}
	if f.spawner == nil || f.knowledge == nil {
		return st, nil
	}

	snap := st.Snapshot()
	f.spawner.Spawn("knowledge_extraction", func(bg context.Context) {
		if err := f.knowledge.Process(bg, snap); err != nil {
			f.logger.Warn("knowledge pipeline failed",
				"session_id", snap.SessionID, "error", err)
		}
	})
	return st, nil
}
