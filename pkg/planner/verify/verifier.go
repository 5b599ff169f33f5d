// Package verify checks generated itineraries and drives the bounded
// regenerate-and-reverify loop.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/pkg/llm"
	"trip-planner-be/pkg/planner"
	"trip-planner-be/pkg/planner/intent"
)

const noIssues = "No major issues detected."

type Verifier struct {
	llmProvider llm.LLMProvider
	logger      logger.ILogger
}

func NewVerifier(llmProvider llm.LLMProvider, log logger.ILogger) *Verifier {
	return &Verifier{llmProvider: llmProvider, logger: log}
}

type verdict struct {
	IsSafe      *bool  `json:"is_safe"`
	Explanation string `json:"explanation"`
}

// Verify asks the model to review text against the trip parameters. A
// reply that cannot be decoded counts as safe and carries the raw reply as
// the explanation. Transport failures are returned as errors.
func (v *Verifier) Verify(ctx context.Context, in *planner.Intent, text string) (planner.VerificationResult, error) {
	slots, _ := json.Marshal(in.Slots)

	var prompt strings.Builder
	prompt.WriteString("You are a senior travel plan reviewer. Check the itinerary below for:\n")
	prompt.WriteString("- budget consistency with the stated total\n")
	prompt.WriteString("- valid dates and a day count matching the trip length\n")
	prompt.WriteString("- impossible schedules (closed venues, unrealistic transfers)\n")
	prompt.WriteString("- unsafe advice for travellers\n\n")
	prompt.WriteString("<trip>\n")
	prompt.Write(slots)
	prompt.WriteString("\n</trip>\n\n<itinerary>\n")
	prompt.WriteString(text)
	prompt.WriteString("\n</itinerary>\n\n")
	prompt.WriteString(`Return ONLY this JSON: {"is_safe": true, "explanation": "briefly describe issues, or say 'No major issues detected.'"}`)

	messages := []llm.Message{
		{Role: "system", Content: "You are a travel plan verifier. Check whether the plan is logical, consistent, complete and safe for travellers."},
		{Role: "user", Content: prompt.String()},
	}
	response, err := v.llmProvider.Chat(ctx, messages, llm.WithTemperature(0.0))
	if err != nil {
		return planner.VerificationResult{}, fmt.Errorf("verifier call: %w", err)
	}

	var out verdict
	if err := intent.DecodeJSON(response, &out); err != nil {
		v.logger.Warn("VERIFY", "Unparseable verdict, treating as safe", map[string]interface{}{"error": err.Error()})
		return planner.VerificationResult{IsSafe: true, Explanation: strings.TrimSpace(response)}, nil
	}

	result := planner.VerificationResult{IsSafe: true, Explanation: strings.TrimSpace(out.Explanation)}
	if out.IsSafe != nil {
		result.IsSafe = *out.IsSafe
	}
	if result.Explanation == "" {
		result.Explanation = noIssues
	}
	return result, nil
}
