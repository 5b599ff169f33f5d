// Package generate streams the long-form itinerary or recommendation text.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/pkg/llm"
	"trip-planner-be/pkg/planner"
	"trip-planner-be/pkg/retrieval"
)

// TokenBudget sizes the itinerary max_tokens from the trip length.
type TokenBudget struct {
	Base   int
	PerDay int
	Min    int
	Max    int
}

var DefaultTokenBudget = TokenBudget{Base: 1200, PerDay: 700, Min: 1500, Max: 8000}

// ItineraryTokens returns Base + PerDay*days clamped to [Min, Max]. Unknown
// durations count as three days.
func (b TokenBudget) ItineraryTokens(days int) int {
	if days <= 0 {
		days = 3
	}
	n := b.Base + b.PerDay*days
	if b.Min > 0 && n < b.Min {
		n = b.Min
	}
	if b.Max > 0 && n > b.Max {
		n = b.Max
	}
	return n
}

type Config struct {
	Tokens TokenBudget
	// SnippetsInPrompt caps how many retrieval snippets are quoted.
	SnippetsInPrompt int
}

type Input struct {
	Intent    *planner.Intent
	Snippets  []retrieval.Snippet
	Artifacts planner.FanOutArtifacts
	// Revision is the verifier's objection to the previous attempt. Empty on
	// the first attempt.
	Revision string
	Attempt  int
}

type request struct {
	messages []llm.Message
	opts     []llm.Option
}

type strategy func(cfg Config, in Input) request

// strategyFor is the only place task types map to prompts.
func strategyFor(t planner.TaskType) (strategy, bool) {
	switch t {
	case planner.TaskItinerary:
		return itineraryStrategy, true
	case planner.TaskRecommendation:
		return recommendationStrategy, true
	case planner.TaskOther:
		return answerStrategy, true
	}
	return nil, false
}

type Generator struct {
	llmProvider llm.LLMProvider
	cfg         Config
	strategies  map[planner.TaskType]strategy
	logger      logger.ILogger
}

// NewGenerator fails if any task type lacks a strategy.
func NewGenerator(llmProvider llm.LLMProvider, cfg Config, log logger.ILogger) (*Generator, error) {
	if cfg.Tokens == (TokenBudget{}) {
		cfg.Tokens = DefaultTokenBudget
	}
	if cfg.SnippetsInPrompt <= 0 {
		cfg.SnippetsInPrompt = 3
	}

	strategies := make(map[planner.TaskType]strategy, len(planner.TaskTypes()))
	for _, t := range planner.TaskTypes() {
		s, ok := strategyFor(t)
		if !ok {
			return nil, fmt.Errorf("%w: %q has no generation strategy", planner.ErrUnhandledTaskType, t)
		}
		strategies[t] = s
	}

	return &Generator{llmProvider: llmProvider, cfg: cfg, strategies: strategies, logger: log}, nil
}

// Generate streams one full attempt through onToken and returns the
// accumulated text. Zero output is planner.ErrGenerationEmpty.
func (g *Generator) Generate(ctx context.Context, in Input, onToken func(string) error) (planner.GeneratedContent, error) {
	if in.Intent == nil {
		return planner.GeneratedContent{}, fmt.Errorf("%w: nil intent", planner.ErrUnhandledTaskType)
	}
	build, ok := g.strategies[in.Intent.TaskType]
	if !ok {
		return planner.GeneratedContent{}, fmt.Errorf("%w: %q", planner.ErrUnhandledTaskType, in.Intent.TaskType)
	}
	req := build(g.cfg, in)

	var full strings.Builder
	_, err := g.llmProvider.ChatStream(ctx, req.messages, func(delta string) error {
		if delta == "" {
			return nil
		}
		full.WriteString(delta)
		return onToken(delta)
	}, req.opts...)
	if err != nil {
		return planner.GeneratedContent{}, fmt.Errorf("generation attempt %d: %w", in.Attempt, err)
	}

	text := full.String()
	if strings.TrimSpace(text) == "" {
		return planner.GeneratedContent{}, planner.ErrGenerationEmpty
	}

	g.logger.Info("GENERATE", "Generation attempt finished", map[string]interface{}{
		"task_type": in.Intent.TaskType,
		"attempt":   in.Attempt,
		"chars":     len(text),
	})
	return planner.GeneratedContent{FullText: text, Attempt: in.Attempt}, nil
}

func itineraryStrategy(cfg Config, in Input) request {
	s := in.Intent.Slots
	city := s.Destination()
	if in.Intent.Locality != "" {
		city = in.Intent.Locality
	}

	var prompt strings.Builder
	prompt.WriteString("You are a professional travel planner. Write a detailed day-by-day itinerary in Markdown.\n\n")
	prompt.WriteString(fmt.Sprintf("- Destination: %s\n", city))
	prompt.WriteString(fmt.Sprintf("- Departing from: %s\n", s.Origin))
	prompt.WriteString(fmt.Sprintf("- Days: %d\n", s.DurationDays))
	prompt.WriteString(fmt.Sprintf("- Dates: %s ~ %s\n", s.DateWindow.From, s.DateWindow.To))
	prompt.WriteString(fmt.Sprintf("- Travellers: %d\n", s.Party.Size()))
	if s.Budget > 0 {
		prompt.WriteString(fmt.Sprintf("- Total budget: %.0f %s\n", s.Budget, s.Currency))
	}
	if len(s.Tags) > 0 {
		prompt.WriteString(fmt.Sprintf("- Interests: %s\n", strings.Join(s.Tags, ", ")))
	}
	prompt.WriteString("\n## Requirements\n")
	prompt.WriteString("1. Organise by Day 1, Day 2, ... with a timeline from morning to evening.\n")
	prompt.WriteString("2. Every stop lists the place, how to get there, an estimated cost and a practical tip.\n")
	prompt.WriteString("3. Keep durations realistic.\n")
	prompt.WriteString("4. End with a budget summary, booking tips and a rainy-day alternative.\n\n")

	writeArtifacts(&prompt, in.Artifacts)
	writeSnippets(&prompt, in.Snippets, cfg.SnippetsInPrompt)
	prompt.WriteString("Output Markdown only, no JSON and no code fences.\n")

	messages := []llm.Message{{Role: "user", Content: prompt.String()}}
	messages = withRevision(messages, in.Revision)

	return request{
		messages: messages,
		opts: []llm.Option{
			llm.WithTemperature(0.6),
			llm.WithMaxTokens(cfg.Tokens.ItineraryTokens(s.DurationDays)),
		},
	}
}

// RecommendationKind picks the hotel, food or attraction variant.
func RecommendationKind(s planner.Slots) string {
	switch s.Subtype {
	case "hotel", "food", "attraction":
		return s.Subtype
	}
	for _, tag := range s.Tags {
		switch strings.ToLower(tag) {
		case "hotel", "hotels", "stay", "住宿", "酒店":
			return "hotel"
		case "food", "restaurant", "restaurants", "美食", "餐厅":
			return "food"
		}
	}
	return "attraction"
}

var recommendationBriefs = map[string]string{
	"hotel":      "You are a senior hotel advisor. Recommend 3-5 places to stay, each with neighbourhood, price range per night, highlights and booking tips.",
	"food":       "You are a senior food advisor. Recommend 3-5 restaurants, street food spots or cafes, each with signature dishes, average price, opening hours and nearby transit.",
	"attraction": "You are a senior local guide. Recommend 3-5 attractions, each with why it is worth it, opening hours, ticket price and how long to spend there.",
}

func recommendationStrategy(cfg Config, in Input) request {
	s := in.Intent.Slots
	kind := RecommendationKind(s)
	city := s.Destination()
	if in.Intent.Locality != "" {
		city = in.Intent.Locality
	}

	var prompt strings.Builder
	prompt.WriteString(recommendationBriefs[kind])
	prompt.WriteString("\n\n")
	prompt.WriteString(fmt.Sprintf("- City: %s\n", city))
	if len(s.Tags) > 0 {
		prompt.WriteString(fmt.Sprintf("- Preferences: %s\n", strings.Join(s.Tags, ", ")))
	}
	if n := s.Party.Size(); n > 0 {
		prompt.WriteString(fmt.Sprintf("- Travellers: %d\n", n))
	}
	if s.Budget > 0 {
		prompt.WriteString(fmt.Sprintf("- Budget: %.0f %s\n", s.Budget, s.Currency))
	}
	prompt.WriteString("\nGroup the picks (e.g. best value, family friendly) and finish with a short summary and two follow-up questions.\n\n")

	writeArtifacts(&prompt, in.Artifacts)
	writeSnippets(&prompt, in.Snippets, cfg.SnippetsInPrompt)
	prompt.WriteString("Output Markdown only.\n")

	messages := withRevision([]llm.Message{{Role: "user", Content: prompt.String()}}, in.Revision)
	return request{messages: messages, opts: []llm.Option{llm.WithTemperature(0.5)}}
}

func answerStrategy(cfg Config, in Input) request {
	var prompt strings.Builder
	prompt.WriteString("You are a helpful travel assistant. Answer the traveller's question concisely in Markdown.\n\n")
	if in.Artifacts.ContextSummary.Summary != "" {
		prompt.WriteString("<context>\n")
		prompt.WriteString(in.Artifacts.ContextSummary.Summary)
		prompt.WriteString("\n</context>\n\n")
	}
	writeSnippets(&prompt, in.Snippets, cfg.SnippetsInPrompt)
	prompt.WriteString("<question>\n")
	prompt.WriteString(in.Intent.Query)
	prompt.WriteString("\n</question>\n")

	messages := withRevision([]llm.Message{{Role: "user", Content: prompt.String()}}, in.Revision)
	return request{messages: messages, opts: []llm.Option{llm.WithTemperature(0.3)}}
}

func writeArtifacts(b *strings.Builder, a planner.FanOutArtifacts) {
	if a.ContextSummary.Summary != "" {
		b.WriteString("## Background\n")
		b.WriteString(a.ContextSummary.Summary)
		b.WriteString("\n")
		for _, h := range a.ContextSummary.Highlights {
			b.WriteString("- " + h + "\n")
		}
		b.WriteString("\n")
	}
	if len(a.PlanSteps.Steps) > 0 {
		b.WriteString("## Planning checklist\n")
		for _, step := range a.PlanSteps.Steps {
			b.WriteString(fmt.Sprintf("- %s: %s\n", step.Action, step.Value))
		}
		b.WriteString("\n")
	}
	if a.Aggregation.Recommendation != "" || len(a.Aggregation.Plans) > 0 {
		raw, _ := json.Marshal(a.Aggregation)
		b.WriteString("## Candidate plans (reference only)\n")
		b.Write(raw)
		b.WriteString("\n\n")
	}
}

func writeSnippets(b *strings.Builder, snippets []retrieval.Snippet, limit int) {
	if len(snippets) == 0 {
		return
	}
	if len(snippets) > limit {
		snippets = snippets[:limit]
	}
	b.WriteString("## Reference material (blend in naturally, do not quote verbatim)\n")
	for _, s := range snippets {
		b.WriteString("- " + s.Summary(400) + "\n")
	}
	b.WriteString("\n")
}

func withRevision(messages []llm.Message, revision string) []llm.Message {
	if strings.TrimSpace(revision) == "" {
		return messages
	}
	return append(messages, llm.Message{
		Role: "user",
		Content: "A reviewer rejected the previous draft for this reason:\n" + revision +
			"\n\nWrite the complete content again from scratch, fixing the problem.",
	})
}
