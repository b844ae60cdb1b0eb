package dispatch

import (
	"encoding/json"
	"fmt"
)

// maxEchoLength bounds how much of the task prompt the generic placeholder
// echoes back.
const maxEchoLength = 120

// Canned per-category fallback bodies. Structured categories return valid
// JSON so downstream parsers keep working on degraded results.
const (
	basicDrivers = `[
  {"name": "Safe Growth", "central_trigger": "Fear of failure", "visceral_definition": "Overcoming obstacles with confidence"},
  {"name": "Unlocked Potential", "central_trigger": "Desire for growth", "visceral_definition": "Releasing hidden capabilities"},
  {"name": "Clear Direction", "central_trigger": "Uncertainty", "visceral_definition": "Finding the path to success"}
]`

	basicVisualProofs = `[
  {"name": "Urgency Proof", "category": "urgency", "objective": "Create a sense of urgency"},
  {"name": "Social Proof", "category": "social", "objective": "Validation by peers"},
  {"name": "Authority Proof", "category": "authority", "objective": "Demonstrate expertise"}
]`

	basicObjections = `[
  {"objection": "I don't have time", "category": "time", "response": "Focus on the value of time"},
  {"objection": "It's too expensive", "category": "money", "response": "Show the return on investment"},
  {"objection": "I need to think about it", "category": "need", "response": "Create urgency"}
]`

	basicAvatar = `{
  "profile": "Business owner between 35 and 45",
  "pains": ["Overload", "Fear of failure", "Difficulty delegating"],
  "desires": ["Sustainable growth", "Financial freedom", "Recognition"],
  "fears": ["Losing control", "Failing", "Not being seen as a leader"]
}`
)

// BasicResponder produces a deterministic, non-empty fallback output for a
// task when every provider has been exhausted. It never fails; it is the
// dispatcher's correctness backstop.
type BasicResponder struct{}

// NewBasicResponder creates a BasicResponder.
func NewBasicResponder() *BasicResponder {
	return &BasicResponder{}
}

// Respond returns the canned output for the task's category, or a generic
// placeholder echoing a truncated form of the prompt. The output is never
// empty and, for structured categories, always valid JSON.
func (b *BasicResponder) Respond(task *Task) string {
	if task == nil {
		return "Basic response: no providers available and no task supplied."
	}

	switch task.Category {
	case CategoryDrivers:
		return basicDrivers
	case CategoryVisualProofs:
		return basicVisualProofs
	case CategoryObjections:
		return basicObjections
	case CategoryAvatar:
		return basicAvatar
	case CategorySearch:
		q, _ := json.Marshal(truncate(task.Prompt, maxEchoLength))
		return fmt.Sprintf(`{"query": %s, "results": [], "note": "no search provider available"}`, q)
	default:
		return fmt.Sprintf("Basic analysis for: %s - running in degraded mode; configure providers for a full answer.", truncate(task.Prompt, maxEchoLength))
	}
}

// truncate cuts s to at most n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
