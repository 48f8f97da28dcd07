package agents

import (
	"context"
	"strings"

	"github.com/famulus-ai/famulus/pkg/graph"
	"github.com/famulus-ai/famulus/pkg/models"
)

// Collector partitions the request's notification buffer: items at high
// priority or above ride the reply in full, the rest only count.
type Collector struct{}

// NewCollector creates the notification-collector node.
func NewCollector() *Collector { return &Collector{} }

// Collect implements graph.NodeFunc.
func (c *Collector) Collect(ctx context.Context, st *graph.State) (*graph.State, error) {
	next := st.Clone()
	next.NotificationCount = 0
	next.HighPriority = nil
	for _, n := range next.Notifications {
		if n == nil {
			continue
		}
		next.NotificationCount++
		if n.Priority.Rank() <= models.PriorityHigh.Rank() {
			next.HighPriority = append(next.HighPriority, n)
		}
	}
	return next, nil
}

// Formatter is the terminal node: it assembles the reply from the assistant
// draft, the executed plan, and the collector's partition. The reply always
// carries text.
type Formatter struct{}

// NewFormatter creates the response-formatter node.
func NewFormatter() *Formatter { return &Formatter{} }

// Format implements graph.NodeFunc.
func (f *Formatter) Format(ctx context.Context, st *graph.State) (*graph.State, error) {
	next := st.Clone()

	text := st.AssistantDraft
	if strings.TrimSpace(text) == "" {
		text = apologyText
	}

	next.Reply = &models.Reply{
		SessionID:         st.SessionID,
		Text:              text,
		Plan:              next.Plan,
		HighPriority:      next.HighPriority,
		NotificationCount: next.NotificationCount,
		Degraded:          replyDegraded(next),
	}
	return next, nil
}

// replyDegraded reports whether the response was produced under reduced
// capability: memory fell back to keyword ranking or the plan failed
// part-way.
func replyDegraded(st *graph.State) bool {
	if st.Memories != nil && st.Memories.Degraded {
		return true
	}
	if st.Plan != nil && st.Plan.Status == models.PlanFailed {
		return true
	}
	return false
}
