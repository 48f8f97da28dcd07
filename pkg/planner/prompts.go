package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/famulus-ai/famulus/pkg/models"
)

// plannerSystemPrompt instructs the model to classify the message and emit a
// plan envelope as bare JSON. The response schema here must stay in sync with
// planEnvelope.
const plannerSystemPrompt = `You are the planning stage of a personal AI assistant.
Classify the user's latest message and decide whether answering it requires tools.

Respond with a single JSON object and nothing else (no prose, no code fences):

{"needs_plan": false}

or

{"needs_plan": true, "goal": "<short goal>", "steps": [<step>, ...]}

Each step is one of:
- {"type": "tool", "tool": "<tool name>", "args": {<arguments>}}: call a tool.
- {"type": "wait_user", "question": "<question>"}: pause and ask the user before continuing.
- {"type": "respond", "instructions": "<how to compose the answer>"}: produce the final answer.

Rules:
- At most 5 steps. Prefer the shortest plan that answers the message.
- Use only the tools listed in the user message, with arguments matching their parameters.
- Greetings, opinions, plain conversation, and anything answerable from the
  conversation context need no tools: respond {"needs_plan": false}.
- Every plan ends with a "respond" or "wait_user" step.`

// plannerForcedSearchNote is appended to the system prompt when the caller's
// force_web_search flag survives the short-message override.
const plannerForcedSearchNote = `The caller requires fresh web results: the plan must contain at least one "web_search" tool step.`

// historyWindow caps how many recent turns the classification prompt carries.
const historyWindow = 6

// buildUserMessage assembles the tool listing, recent conversation, and the
// message under classification.
func buildUserMessage(descriptors []models.ToolDescriptor, history []models.Message, message string) string {
	var sb strings.Builder

	sb.WriteString("Available tools:\n\n")
	sb.WriteString(formatToolDescriptors(descriptors))
	sb.WriteString("\n\n")

	if len(history) > 0 {
		start := len(history) - historyWindow
		if start < 0 {
			start = 0
		}
		sb.WriteString("Recent conversation:\n")
		for _, m := range history[start:] {
			sb.WriteString(string(m.Role))
			sb.WriteString(": ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("User message:\n")
	sb.WriteString(message)
	return sb.String()
}

// formatToolDescriptors renders the registry's descriptors for prompt
// injection, parameter details included.
func formatToolDescriptors(descriptors []models.ToolDescriptor) string {
	if len(descriptors) == 0 {
		return "No tools available."
	}

	var sb strings.Builder
	for i, d := range descriptors {
		sb.WriteString(fmt.Sprintf("%d. **%s**: %s\n", i+1, d.Name, d.What))
		if d.WhenToUse != "" {
			sb.WriteString("    **When to use**: ")
			sb.WriteString(d.WhenToUse)
			sb.WriteString("\n")
		}

		params := extractParameters(d.Schema)
		if len(params) > 0 {
			sb.WriteString("    **Parameters**:\n")
			for _, p := range params {
				sb.WriteString("    - ")
				sb.WriteString(p)
				sb.WriteString("\n")
			}
		} else {
			sb.WriteString("    **Parameters**: None\n")
		}

		if i < len(descriptors)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// extractParameters lists the properties of an argument schema with type,
// requiredness, and description. Keys are sorted for deterministic prompts.
func extractParameters(schema map[string]any) []string {
	if schema == nil {
		return nil
	}
	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}

	required := make(map[string]bool)
	if reqList, ok := schema["required"].([]any); ok {
		for _, r := range reqList {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	keys := make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var params []string
	for _, name := range keys {
		prop, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}

		reqLabel := "optional"
		if required[name] {
			reqLabel = "required"
		}
		typeSuffix := ""
		if t, ok := prop["type"].(string); ok {
			typeSuffix = ", " + t
		}

		line := name + fmt.Sprintf(" (%s%s)", reqLabel, typeSuffix)
		if desc, ok := prop["description"].(string); ok && desc != "" {
			line += ": " + desc
		}
		params = append(params, line)
	}
	return params
}
