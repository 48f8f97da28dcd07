package integrity

import (
	"fmt"

	"github.com/famulus-ai/famulus/pkg/models"
)

// compareSystemPrompt instructs the model to judge one pair of statements.
// The response schema must stay in sync with verdict.
const compareSystemPrompt = `You judge whether two statements about the same person logically contradict each other.

A contradiction means both statements cannot be true at the same time.
Restatements, refinements, and unrelated statements are NOT contradictions.
Changes over time ("lived in X" vs "moved to Y") are contradictions only when
both claim the present.

Respond with a single JSON object and nothing else:

{"contradiction": <true|false>, "confidence": <0.0-1.0>, "rationale": "<one sentence>"}`

const compareUserTemplate = `Statement A (new, %s):
%s

Statement B (remembered, %s):
%s

Do these statements contradict each other?`

func buildComparePrompt(cand Candidate, existing *models.MemoryEntry) string {
	return fmt.Sprintf(compareUserTemplate, cand.Kind, cand.Content, existing.Kind, existing.Content)
}
