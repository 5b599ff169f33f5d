// Command simulation runs planner turns in-process and prints the client
// stream. By default every model call is scripted; -live uses the
// configured LLM provider and retrieval backend instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"trip-planner-be/internal/bootstrap"
	"trip-planner-be/internal/config"
	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/internal/repository/memory"
	"trip-planner-be/pkg/ai/pipeline"
	"trip-planner-be/pkg/llm"
	"trip-planner-be/pkg/llm/factory"
	"trip-planner-be/pkg/llm/llmtest"
	"trip-planner-be/pkg/planner"
	"trip-planner-be/pkg/planner/orchestrator"
	"trip-planner-be/pkg/retrieval"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

var (
	userColor     = color.New(color.FgCyan, color.Bold)
	phaseColor    = color.New(color.FgHiBlack)
	tokenColor    = color.New(color.FgWhite)
	fallbackColor = color.New(color.FgYellow, color.Bold)
	errorColor    = color.New(color.FgRed, color.Bold)
	doneColor     = color.New(color.FgGreen)
)

const scriptedIntent = `{"task_type": "itinerary", "origin": "Shanghai", "dest_pref": ["Paris"], ` +
	`"date_window": {"from": "2026-05-01", "to": "2026-05-03"}, "trip_len_days": 3, "budget_total": 15000, "party": {"adults": 2}}`

const scriptedItinerary = "## Day 1\n- Louvre in the morning\n- Seine walk at sunset\n\n" +
	"## Day 2\n- Montmartre and Sacré-Cœur\n\n## Day 3\n- Musée d'Orsay, then departure"

// scriptedLLM answers each pipeline stage from fixtures. With outage set
// the intent stage fails so the turn degrades to the fallback responder.
func scriptedLLM(outage bool) *llmtest.MockProvider {
	return &llmtest.MockProvider{
		ChunkSize: 6,
		Respond: func(_ context.Context, h []llm.Message) (string, error) {
			if len(h) > 0 && strings.Contains(h[0].Content, "helpful travel assistant") {
				return "Paris in three days: museums on day one, Montmartre on day two, Orsay on day three.", nil
			}
			prompt := llmtest.LastContent(h)
			switch {
			case strings.Contains(prompt, "travel request analyzer"):
				if outage {
					return "", errors.New("simulated model outage")
				}
				return scriptedIntent, nil
			case strings.Contains(prompt, "Summarize the travel knowledge"):
				return `{"summary": "Paris rewards walking between museums"}`, nil
			case strings.Contains(prompt, "planning actions"):
				return `{"steps": [{"action": "book", "value": "Louvre timed entry"}]}`, nil
			case strings.Contains(prompt, "alternative plan options"):
				return `{"recommendation": "museum pass"}`, nil
			case strings.Contains(prompt, "senior travel plan reviewer"):
				return `{"is_safe": true, "explanation": "No major issues detected."}`, nil
			default:
				return scriptedItinerary, nil
			}
		},
	}
}

var scriptedSnippets = retrieval.GatewayFunc(func(_ context.Context, req retrieval.Request) ([]retrieval.Snippet, error) {
	return []retrieval.Snippet{{
		ID:       "paris-1",
		Title:    "Paris museums",
		Text:     "The Louvre opens at 9:00 and is closed on Tuesdays.",
		SourceID: "guide/paris",
		Locality: req.Locality,
	}}, nil
})

func main() {
	live := flag.Bool("live", false, "use the configured LLM provider and retrieval backend")
	outage := flag.Bool("outage", false, "fail the primary pipeline to exercise the fallback path")
	flag.Parse()

	prompts := flag.Args()
	if len(prompts) == 0 {
		prompts = []string{
			"Plan a 3 day trip to Paris from Shanghai, May 1 to May 3, two adults, 15000 RMB",
			"Make day 2 more relaxed",
		}
	}

	cfg := config.Load()
	sysLogger := logger.NewIsolatedLogger("logs/simulation.log")

	var (
		provider llm.LLMProvider   = scriptedLLM(*outage)
		gateway  retrieval.Gateway = scriptedSnippets
	)
	if *live {
		p, err := factory.New(factory.Config{
			Provider: cfg.Ai.LLMProvider,
			Model:    cfg.Ai.LLMModel,
			BaseURL:  cfg.Ai.LLMBaseURL,
			APIKey:   cfg.Keys.HuggingFace,
		})
		if err != nil {
			log.Fatalf("Failed to init LLM provider: %v", err)
		}
		g, closeGateway, err := bootstrap.NewGateway(cfg, nil, nil, sysLogger)
		if err != nil {
			log.Fatalf("Failed to init retrieval: %v", err)
		}
		defer closeGateway()
		provider, gateway = p, g
	}

	sessions := memory.NewSessionRepository(cfg.Planner.SessionCapacity)
	primary, err := bootstrap.NewPipeline(provider, gateway, sessions, cfg.Planner, cfg.Retrieval.TopK, sysLogger)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	history := memory.NewMessageRepository()
	orch := orchestrator.New(
		primary,
		pipeline.NewLLMFallback(provider, pipeline.FallbackConfig{}, sysLogger),
		history,
		orchestrator.Config{FallbackTimeout: cfg.Fallback.Timeout},
		sysLogger,
	)

	correlationID := uuid.NewString()
	fmt.Printf("=== Trip Planner Simulation (session %s) ===\n", correlationID)

	for _, prompt := range prompts {
		userColor.Printf("\nUSER: %s\n", prompt)

		messages, _ := history.History(context.Background(), correlationID)
		messages = append(messages, planner.NewMessage(planner.RoleUser, prompt, nil))

		start := time.Now()
		turn := orch.Run(context.Background(), orchestrator.Request{Messages: messages, CorrelationID: correlationID})
		for f := range turn.StreamPayload {
			printFragment(f)
		}
		outcome := <-turn.PersistPayload
		if outcome.Err != nil {
			errorColor.Printf("\n[not persisted: %v]\n", outcome.Err)
			continue
		}
		doneColor.Printf("\n[persisted %s in %v]\n", outcome.Assistant.ID, time.Since(start).Round(time.Millisecond))
	}
}

func printFragment(f orchestrator.Fragment) {
	switch f.Type {
	case orchestrator.FragmentToken:
		tokenColor.Print(f.Delta)
	case orchestrator.FragmentPhase:
		phaseColor.Printf("[%s %s]\n", f.Phase, formatResult(f.Result))
	case orchestrator.FragmentFallback:
		fallbackColor.Printf("\n[fallback: %v]\n", f.Metadata["fallback_trigger"])
	case orchestrator.FragmentEnd:
		if f.Message != "" {
			tokenColor.Print(f.Message)
		}
	case orchestrator.FragmentError:
		errorColor.Printf("\n[error: %s]\n", f.Message)
	}
}

func formatResult(result map[string]any) string {
	if len(result) == 0 {
		return ""
	}
	parts := make([]string, 0, len(result))
	for k, v := range result {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, " ")
}
