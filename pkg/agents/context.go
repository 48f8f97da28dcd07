package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/graph"
	"github.com/famulus-ai/famulus/pkg/models"
)

// ContextLoader is the entry node: it fills the state with the short-term
// window and the hybrid memory retrieval for the current message.
type ContextLoader struct {
	memory   MemoryReader
	messages MessageTailer
	cfg      *config.MemoryConfig
	logger   *slog.Logger
}

// NewContextLoader creates the load-context node. messages is optional;
// without it a cold short-term ring starts empty instead of being rebuilt
// from the persisted tail.
func NewContextLoader(memory MemoryReader, messages MessageTailer, cfg *config.MemoryConfig) *ContextLoader {
	if cfg == nil {
		cfg = config.DefaultMemoryConfig()
	}
	return &ContextLoader{
		memory:   memory,
		messages: messages,
		cfg:      cfg,
		logger:   slog.Default().With("component", "agents.context"),
	}
}

// Load implements graph.NodeFunc.
//
// Retrieval failures degrade instead of failing the request: the state gets
// an empty result marked Degraded and the main agent answers from the
// short-term window alone.
func (l *ContextLoader) Load(ctx context.Context, st *graph.State) (*graph.State, error) {
	if st.Session == nil {
		return st, fmt.Errorf("load context: state has no session")
	}

	next := st.Clone()

	window := l.memory.Window(st.SessionID)
	if len(window) == 0 && l.messages != nil {
		tail, err := l.messages.Tail(ctx, st.TenantID, st.SessionID, l.cfg.ShortWindow)
		if err != nil {
			l.logger.Warn("failed to rebuild short-term window",
				"session_id", st.SessionID, "error", err)
		} else if len(tail) > 0 {
			l.memory.Prime(st.SessionID, tail)
			window = l.memory.Window(st.SessionID)
		}
	}
	next.History = window

	if strings.TrimSpace(st.Message) == "" {
		next.Memories = &models.MemoryQueryResult{}
		return next, nil
	}

	result, err := l.memory.Query(ctx, &models.MemoryQuery{
		TenantID:  st.TenantID,
		UserID:    st.UserID,
		SessionID: st.SessionID,
		Text:      st.Message,
	})
	if err != nil {
		l.logger.Warn("memory query failed, continuing without retrieval",
			"session_id", st.SessionID, "error", err)
		result = &models.MemoryQueryResult{Degraded: true}
	}
	next.Memories = result
	return next, nil
}
