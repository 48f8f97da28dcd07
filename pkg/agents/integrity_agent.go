package agents

import (
	"context"
	"log/slog"

	"github.com/famulus-ai/famulus/pkg/integrity"
)

// IntegrityAgent reports contradiction findings: a high-priority resolution
// task on the queue and a blocking notification to the owner. It never
// produces user-visible text and never propagates failures; knowledge
// storage must not stall on the checker.
type IntegrityAgent struct {
	checker  ContradictionChecker
	queue    TaskSink
	notifier Notifier
	logger   *slog.Logger
}

// NewIntegrityAgent creates the integrity agent. queue and notifier are
// optional; a missing sink only costs that reporting channel.
func NewIntegrityAgent(checker ContradictionChecker, queue TaskSink, notifier Notifier) *IntegrityAgent {
	return &IntegrityAgent{
		checker:  checker,
		queue:    queue,
		notifier: notifier,
		logger:   slog.Default().With("component", "agents.integrity"),
	}
}

// Inspect checks one candidate statement against remembered knowledge and
// reports every finding. Returns the findings for callers that record them.
func (a *IntegrityAgent) Inspect(ctx context.Context, cand integrity.Candidate) []integrity.Finding {
	findings, err := a.checker.Check(ctx, cand)
	if err != nil {
		a.logger.Warn("integrity check failed",
			"user_id", cand.UserID, "error", err)
		return nil
	}

	for _, f := range findings {
		if a.queue != nil {
			if err := a.queue.Enqueue(integrity.BuildResolutionTask(f)); err != nil {
				a.logger.Warn("failed to enqueue contradiction task",
					"user_id", cand.UserID, "error", err)
			}
		}
		if a.notifier != nil {
			if _, err := a.notifier.Publish(ctx, integrity.BuildContradictionNotification(f)); err != nil {
				a.logger.Warn("failed to publish contradiction notification",
					"user_id", cand.UserID, "error", err)
			}
		}
		a.logger.Info("contradiction detected",
			"user_id", cand.UserID, "existing_id", f.Existing.ID,
			"confidence", f.Confidence)
	}
	return findings
}
