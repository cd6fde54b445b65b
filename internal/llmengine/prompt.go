package llmengine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
)

const systemPreamble = `You are a monitoring assistant for an event-driven trigger service.
You will be given: a natural-language description of a rule the user wants
evaluated, a chronologically ordered summary of recent events in the same
context, and the current event under analysis. Decide whether the rule's
intent is satisfied by the current event in light of the context.
Respond with exactly one JSON object and nothing else, matching this
schema: {"should_trigger": boolean, "confidence": number between 0 and 1,
"reason": string}. Do not include any text outside the JSON object.`

// summaryEvent is the compact, structured (non-prose) shape used for
// both the context summary and the current event in the prompt: the
// event type, the timestamp, and the event's data map as-is.
type summaryEvent struct {
	EventType string                 `json:"event_type"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

func toSummary(e domain.Event) summaryEvent {
	return summaryEvent{
		EventType: e.EventType,
		Timestamp: e.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		Data:      e.Data,
	}
}

// buildContextSummary renders the analysis payload (the context window,
// or for batch mode the flushed batch snapshot) as a compact JSON array
// in chronological order. An empty window still produces a well-formed,
// explicit summary instead of omitting the section.
func buildContextSummary(events []domain.Event) string {
	if len(events) == 0 {
		return "[] (no prior events in this window)"
	}
	summaries := make([]summaryEvent, 0, len(events))
	for _, e := range events {
		summaries = append(summaries, toSummary(e))
	}
	raw, err := json.Marshal(summaries)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

// BuildPrompt assembles the system+user messages sent to the model.
func BuildPrompt(description string, contextEvents []domain.Event, current domain.Event) (system, user string) {
	currentRaw, _ := json.Marshal(toSummary(current))
	var sb strings.Builder
	fmt.Fprintf(&sb, "Rule intent:\n%s\n\n", description)
	fmt.Fprintf(&sb, "Context window (chronological):\n%s\n\n", buildContextSummary(contextEvents))
	fmt.Fprintf(&sb, "Current event:\n%s\n", string(currentRaw))
	return systemPreamble, sb.String()
}

// ContextHash derives the cache key component from the materials that
// determine the model's answer, so an unchanged (rule, context, event)
// triple always hits the cache.
func ContextHash(contextEvents []domain.Event, current domain.Event) string {
	h := sha256.New()
	for _, e := range contextEvents {
		raw, _ := json.Marshal(toSummary(e))
		h.Write(raw)
		h.Write([]byte{0})
	}
	raw, _ := json.Marshal(toSummary(current))
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil))
}
