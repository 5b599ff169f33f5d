package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"trip-planner-be/pkg/llm"
	"trip-planner-be/pkg/planner"
	"trip-planner-be/pkg/planner/intent"
	"trip-planner-be/pkg/retrieval"
)

const snippetSummaryRunes = 200

// Members computes the three derived artifacts. Implementations must be safe
// for concurrent use; the synthesizer calls all three at once.
type Members interface {
	ContextSummary(ctx context.Context, userText string, snippets []retrieval.Snippet) (planner.ContextSummary, error)
	PlanSteps(ctx context.Context, in *planner.Intent) (planner.PlanSteps, error)
	Aggregate(ctx context.Context, in *planner.Intent) (planner.Aggregation, error)
}

// LLMMembers asks the model for each artifact as JSON.
type LLMMembers struct {
	llmProvider llm.LLMProvider
}

var _ Members = &LLMMembers{}

func NewLLMMembers(llmProvider llm.LLMProvider) *LLMMembers {
	return &LLMMembers{llmProvider: llmProvider}
}

func (m *LLMMembers) ask(ctx context.Context, prompt string, out interface{}) error {
	response, err := m.llmProvider.Generate(ctx, prompt, llm.WithTemperature(0.2))
	if err != nil {
		return err
	}
	return intent.DecodeJSON(response, out)
}

func (m *LLMMembers) ContextSummary(ctx context.Context, userText string, snippets []retrieval.Snippet) (planner.ContextSummary, error) {
	var prompt strings.Builder
	prompt.WriteString("Summarize the travel knowledge below for the user's request.\n\n")
	prompt.WriteString("<request>\n")
	prompt.WriteString(userText)
	prompt.WriteString("\n</request>\n\n<documents>\n")
	if len(snippets) == 0 {
		prompt.WriteString("No external context.\n")
	}
	for i, s := range snippets {
		prompt.WriteString(fmt.Sprintf("[%d] %s\n", i+1, s.Summary(snippetSummaryRunes)))
	}
	prompt.WriteString("</documents>\n\n")
	prompt.WriteString(`Respond with JSON only: {"summary": "string", "highlights": ["string"]}`)

	var out planner.ContextSummary
	err := m.ask(ctx, prompt.String(), &out)
	return out, err
}

func (m *LLMMembers) PlanSteps(ctx context.Context, in *planner.Intent) (planner.PlanSteps, error) {
	slots, _ := json.Marshal(in.Slots)

	var prompt strings.Builder
	prompt.WriteString("List the concrete planning actions needed for this trip (transport, lodging, bookings, documents).\n\n")
	prompt.WriteString("<trip>\n")
	prompt.Write(slots)
	prompt.WriteString("\n</trip>\n\n")
	prompt.WriteString(`Respond with JSON only: {"steps": [{"action": "string", "value": "string"}], "assumptions": ["string"], "notes": ["string"]}`)

	var out planner.PlanSteps
	err := m.ask(ctx, prompt.String(), &out)
	return out, err
}

func (m *LLMMembers) Aggregate(ctx context.Context, in *planner.Intent) (planner.Aggregation, error) {
	slots, _ := json.Marshal(in.Slots)

	var prompt strings.Builder
	prompt.WriteString("Propose up to three alternative plan options for this trip and recommend one.\n\n")
	prompt.WriteString("<preferences>\n")
	prompt.Write(slots)
	prompt.WriteString("\n</preferences>\n\n")
	prompt.WriteString(`Respond with JSON only: {"plans": [{"id": "string", "summary": "string", "pros": ["string"], "cons": ["string"], "total_price": 0}], "recommendation": "string"}`)

	var out planner.Aggregation
	err := m.ask(ctx, prompt.String(), &out)
	return out, err
}
