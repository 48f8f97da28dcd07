package kernel

import (
	"context"
	"fmt"
	"strings"

	"github.com/famulus-ai/famulus/pkg/graph"
	"github.com/famulus-ai/famulus/pkg/models"
)

// MessageRequest is one user turn arriving from transport.
type MessageRequest struct {
	TenantID  string
	UserID    string
	SessionID string
	Text      string

	// ForceWebSearch makes the planner include a web search step. Ignored
	// when the message resumes a parked plan.
	ForceWebSearch bool
}

// HandleMessage is the request critical path: serialise on the session,
// persist the user turn, run the message graph, persist the reply. Requests
// racing on one session queue behind its slot; distinct sessions run in
// parallel.
func (k *Kernel) HandleMessage(ctx context.Context, req MessageRequest) (*models.Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, k.requestTimeout)
	defer cancel()

	release, err := k.sessions.Acquire(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	defer release()

	sess, err := k.sessions.ActiveSession(ctx, req.TenantID, req.SessionID)
	if err != nil {
		return nil, err
	}

	// A blank turn runs the graph (the main agent prompts for input) but is
	// never persisted and never reaches a memory tier.
	var messageID int64
	if strings.TrimSpace(req.Text) != "" {
		msg, err := k.sessions.AppendUser(ctx, sess, req.Text)
		if err != nil {
			return nil, fmt.Errorf("append user message: %w", err)
		}
		messageID = msg.ID
	}

	st := &graph.State{
		TenantID:       req.TenantID,
		UserID:         req.UserID,
		SessionID:      sess.ID,
		Message:        req.Text,
		MessageID:      messageID,
		ForceWebSearch: req.ForceWebSearch,
		Session:        sess,
	}

	final, runErr := k.messageGraph.Run(ctx, st)
	reply := final.Reply
	if runErr != nil {
		k.logger.Error("Message graph failed",
			"session_id", sess.ID, "error", runErr)

		// Salvage whatever the last completed node left: the formatter turns
		// a missing draft into the fixed apology and keeps any notifications
		// raised before the failure.
		formatted, _ := k.formatter.Format(ctx, final)
		reply = formatted.Reply
		reply.Degraded = true

		// The detached knowledge work may never have been spawned; hand the
		// turn to the queue so the learning survives the failed reply.
		k.deferKnowledge(final)
	}

	if _, err := k.sessions.AppendAssistant(ctx, sess, reply.Text, assistantMetadata(reply)); err != nil {
		// The reply is already composed; losing the row costs history, not
		// the answer.
		k.logger.Warn("Failed to persist assistant message",
			"session_id", sess.ID, "error", err)
	}
	return reply, nil
}

// buildMessageGraph assembles the request graph. The fanout spawns detached
// knowledge work right after context load so extraction sees the same
// snapshot the planner does; the plan edge routes through the tool loop only
// when the planner produced one.
func (k *Kernel) buildMessageGraph() (*graph.Graph, error) {
	return graph.NewBuilder("message").
		AddNode("load_context", k.loader.Load).
		AddNode("fanout", k.fanout.Dispatch).
		AddNode("plan", k.decider.Decide).
		AddNode("tool_loop", k.toolLoop.Execute).
		AddNode("main_agent", k.mainAgent.Respond).
		AddNode("collect", k.collector.Collect).
		AddNode("format", k.formatter.Format).
		AddEdge("load_context", "fanout").
		AddEdge("fanout", "plan").
		AddEdgeIf("plan", "tool_loop", func(s *graph.State) bool { return s.Plan != nil }).
		AddEdge("plan", "main_agent").
		AddEdge("tool_loop", "main_agent").
		AddEdge("main_agent", "collect").
		AddEdge("collect", "format").
		SetEntry("load_context").
		SetTerminal("format").
		Build()
}

// deferKnowledge enqueues the turn for background extraction. Used when the
// graph run failed and the fanout may not have reached the pool; double
// extraction is safe, long-term entries merge by fingerprint.
func (k *Kernel) deferKnowledge(st *graph.State) {
	if strings.TrimSpace(st.Message) == "" {
		return
	}
	task := models.NewTask(models.TaskKnowledgeExtraction, models.PriorityLow, st.TenantID)
	task.UserID = st.UserID
	task.SessionID = st.SessionID
	task.Payload = map[string]any{"message": st.Message}
	if err := k.queue.Enqueue(task); err != nil {
		k.logger.Warn("Failed to defer knowledge extraction",
			"session_id", st.SessionID, "error", err)
	}
}

// handleKnowledgeExtraction replays a deferred turn through the knowledge
// agent, rebuilding a snapshot from the persisted conversation tail.
func (k *Kernel) handleKnowledgeExtraction(ctx context.Context, task *models.Task) error {
	history, err := k.messages.Tail(ctx, task.TenantID, task.SessionID, k.shortWindow)
	if err != nil {
		return fmt.Errorf("load conversation tail: %w", err)
	}
	snap := &graph.State{
		TenantID:  task.TenantID,
		UserID:    task.UserID,
		SessionID: task.SessionID,
		Message:   payloadString(task, "message"),
		History:   history,
	}
	return k.knowledge.Process(ctx, snap)
}

func assistantMetadata(reply *models.Reply) map[string]any {
	meta := make(map[string]any)
	if reply.Plan != nil {
		meta["plan_id"] = reply.Plan.ID
		meta["plan_status"] = string(reply.Plan.Status)
	}
	if reply.NotificationCount > 0 {
		meta["notifications"] = reply.NotificationCount
	}
	if reply.Degraded {
		meta["degraded"] = true
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}
