package agents

import (
	"fmt"
	"strings"

	"github.com/famulus-ai/famulus/pkg/graph"
	"github.com/famulus-ai/famulus/pkg/models"
)

// mainSystemPrompt frames the only generation whose text the user sees.
const mainSystemPrompt = `You are a capable, concise personal assistant.

Ground your answer in the provided context:
- "Remembered about the user" lists knowledge retrieved from memory. Trust it unless the user's current message contradicts it.
- "Plan execution" shows steps already taken on the user's behalf and their outcomes. Build on successful outputs. When a step failed, say plainly what worked and what did not; never invent results for a failed step.
Do not mention these sections, tools, plans, or memory mechanics unless the user asks how you know something.
Answer in the user's language.`

// knowledgeSystemPrompt instructs the extraction model. The response schema
// must stay in sync with knowledgeEnvelope.
const knowledgeSystemPrompt = `You extract durable knowledge about the user from a conversation turn.

Respond with a single JSON object and nothing else (no prose, no code fences):

{"items": [{"type": "<fact|preference|event>", "text": "<one atomic statement>", "importance": <0.0-1.0>}]}

Keep only:
- Durable facts about the user or their world ("I moved to Berlin", "my sister is called Ana").
- Preferences stated with preference verbs (like, love, hate, prefer, always/never want).
- Dated events that matter beyond this conversation.

Discard small talk, questions, hypotheticals, and casual mentions with no lasting value. Each item must stand alone without the conversation around it. Importance reflects how strongly the statement should shape future answers. Return {"items": []} when nothing qualifies.`

// maxPromptOutputChars truncates tool output inside the main agent prompt.
const maxPromptOutputChars = 2000

// buildMainUserMessage assembles the context block for the main agent:
// conversation window, retrieved memories, plan execution, instructions,
// and the message to answer.
func buildMainUserMessage(st *graph.State) string {
	var sb strings.Builder

	if len(st.History) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, m := range st.History {
			if m == nil {
				continue
			}
			sb.WriteString(string(m.Role))
			sb.WriteString(": ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if st.Memories != nil && len(st.Memories.Hits) > 0 {
		sb.WriteString("Remembered about the user:\n")
		for _, hit := range st.Memories.Hits {
			if hit.Entry == nil {
				continue
			}
			fmt.Fprintf(&sb, "- [%s] %s\n", hit.Entry.Kind, hit.Entry.Content)
		}
		if st.Memories.Degraded {
			sb.WriteString("(memory retrieval was degraded; the list may be incomplete)\n")
		}
		sb.WriteString("\n")
	} else if st.Memories != nil && st.Memories.Degraded {
		sb.WriteString("Memory retrieval was unavailable for this message.\n\n")
	}

	if st.Plan != nil {
		writePlanBlock(&sb, st.Plan)
	}

	sb.WriteString("User message:\n")
	sb.WriteString(st.Message)
	return sb.String()
}

// writePlanBlock renders the executed plan: goal, per-step outcome, and the
// respond instructions when the plan carries them.
func writePlanBlock(sb *strings.Builder, plan *models.Plan) {
	fmt.Fprintf(sb, "Plan execution (goal: %s, status: %s):\n", plan.Goal, plan.Status)
	for i, step := range plan.Steps {
		switch step.Type {
		case models.StepTool:
			fmt.Fprintf(sb, "%d. tool %s: %s\n", i+1, step.ToolName, describeToolStep(step))
		case models.StepWaitUser:
			fmt.Fprintf(sb, "%d. asked the user: %s\n", i+1, step.Question)
		case models.StepRespond:
			fmt.Fprintf(sb, "%d. respond\n", i+1)
		}
	}
	if plan.Partial {
		sb.WriteString("(the plan was truncated; it may not cover the whole request)\n")
	}
	if instructions := respondInstructions(plan); instructions != "" {
		sb.WriteString("Response instructions: ")
		sb.WriteString(instructions)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func describeToolStep(step models.Step) string {
	if step.Result == nil {
		if step.Done {
			return "done"
		}
		return "not executed"
	}
	if step.Result.OK() {
		return "ok\n   output: " + truncateOutput(step.Result.Output)
	}
	return fmt.Sprintf("failed (%s): %s", step.Result.ErrorKind, step.Result.Error)
}

func truncateOutput(output string) string {
	if len(output) <= maxPromptOutputChars {
		return output
	}
	return output[:maxPromptOutputChars] + "… (truncated)"
}

// respondInstructions returns the instructions of the plan's respond step,
// empty when the plan has none.
func respondInstructions(plan *models.Plan) string {
	for i := len(plan.Steps) - 1; i >= 0; i-- {
		if plan.Steps[i].Type == models.StepRespond {
			return plan.Steps[i].Instructions
		}
	}
	return ""
}

// knowledgeHistoryWindow caps how many prior turns ground pronoun and name
// resolution during extraction.
const knowledgeHistoryWindow = 4

// buildKnowledgeUserMessage assembles the extraction input: a few prior
// turns for reference resolution, then the turn under extraction.
func buildKnowledgeUserMessage(history []*models.Message, message string) string {
	var sb strings.Builder

	if len(history) > 0 {
		start := len(history) - knowledgeHistoryWindow
		if start < 0 {
			start = 0
		}
		sb.WriteString("Earlier turns (context only, do not extract from them):\n")
		for _, m := range history[start:] {
			if m == nil {
				continue
			}
			sb.WriteString(string(m.Role))
			sb.WriteString(": ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Extract from this user turn:\n")
	sb.WriteString(message)
	return sb.String()
}
