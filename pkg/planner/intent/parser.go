// Package intent turns a free-text trip request plus the session's prior
// slots into a planner.Intent.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/pkg/llm"
	"trip-planner-be/pkg/planner"
	"trip-planner-be/pkg/store"
)

const historyWindow = 6

type ParseInput struct {
	Text    string
	Prior   planner.Slots
	History []store.Turn
}

type Parser struct {
	llmProvider llm.LLMProvider
	clarifier   Clarifier
	logger      logger.ILogger
}

func NewParser(llmProvider llm.LLMProvider, log logger.ILogger) *Parser {
	return &Parser{llmProvider: llmProvider, logger: log}
}

// modelIntent is the JSON shape the parsing prompt asks for.
type modelIntent struct {
	TaskType string      `json:"task_type"`
	Origin   string      `json:"origin"`
	Dest     flexStrings `json:"dest_pref"`
	Date     struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `json:"date_window"`
	Days     flexNumber `json:"trip_len_days"`
	Budget   flexNumber `json:"budget_total"`
	Currency string     `json:"currency"`
	Party    struct {
		Adults   *flexNumber `json:"adults"`
		Children *flexNumber `json:"children"`
	} `json:"party"`
	Tags      flexStrings `json:"tags"`
	Subtype   string      `json:"subtype"`
	Keywords  flexStrings `json:"keywords"`
	CityAlias flexStrings `json:"city_alias"`
}

func (m modelIntent) slots() planner.Slots {
	s := planner.Slots{
		TaskType:     planner.NormalizeTaskType(m.TaskType),
		Origin:       strings.TrimSpace(nullString(m.Origin)),
		Destinations: cleanList(m.Dest),
		DateWindow:   planner.DateWindow{From: nullString(m.Date.From), To: nullString(m.Date.To)},
		DurationDays: int(m.Days),
		Budget:       float64(m.Budget),
		Currency:     strings.ToUpper(strings.TrimSpace(m.Currency)),
		Tags:         cleanList(m.Tags),
		Subtype:      strings.ToLower(strings.TrimSpace(m.Subtype)),
	}
	// A schema echo of {"adults": 0, "children": 0} means "not stated".
	if m.Party.Adults != nil && *m.Party.Adults > 0 {
		v := int(*m.Party.Adults)
		s.Party.Adults = &v
		if m.Party.Children != nil {
			c := int(*m.Party.Children)
			s.Party.Children = &c
		}
	} else if m.Party.Children != nil && *m.Party.Children > 0 {
		c := int(*m.Party.Children)
		s.Party.Children = &c
	}
	return s
}

// Parse runs one intent-parsing call. Any model or decoding failure is
// returned wrapped in planner.ErrIntentParsing.
func (p *Parser) Parse(ctx context.Context, in ParseInput) (*planner.Intent, error) {
	prompt := p.buildPrompt(in)

	response, err := p.llmProvider.Generate(ctx, prompt, llm.WithTemperature(0.0))
	if err != nil {
		p.logger.Error("INTENT", "Intent model call failed", map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("%w: %w", planner.ErrIntentParsing, err)
	}

	var parsed modelIntent
	if err := DecodeJSON(response, &parsed); err != nil {
		p.logger.Warn("INTENT", "Unparseable intent output", map[string]interface{}{
			"error":    err.Error(),
			"response": truncate(response, 300),
		})
		return nil, fmt.Errorf("%w: %w", planner.ErrIntentParsing, err)
	}

	current := parsed.slots()
	merged := MergeSlots(in.Prior, current)

	result := &planner.Intent{
		TaskType: merged.TaskType,
		Slots:    merged,
		Keywords: cleanList(parsed.Keywords),
	}
	p.clarifier.Clarify(in.Text, result)

	alias := ""
	if len(parsed.CityAlias) > 0 {
		alias = parsed.CityAlias[0]
	}
	result.Query, result.Locality = RewriteQuery(result, in.Text, alias, result.Keywords)

	p.logger.Info("INTENT", "Intent resolved", map[string]interface{}{
		"task_type": result.TaskType,
		"status":    result.Status,
		"missing":   result.Missing,
		"query":     result.Query,
		"locality":  result.Locality,
	})
	return result, nil
}

func (p *Parser) buildPrompt(in ParseInput) string {
	var prompt strings.Builder

	prompt.WriteString("<system>\n")
	prompt.WriteString("You are a travel request analyzer. Extract structured trip parameters from the user's message.\n")
	prompt.WriteString("You do NOT answer the request. You only extract fields.\n")
	prompt.WriteString("</system>\n\n")

	if !isEmptySlots(in.Prior) {
		known, _ := json.Marshal(in.Prior)
		prompt.WriteString("<known_slots>\n")
		prompt.Write(known)
		prompt.WriteString("\n</known_slots>\n\n")
	}

	if len(in.History) > 0 {
		history := in.History
		if len(history) > historyWindow {
			history = history[len(history)-historyWindow:]
		}
		prompt.WriteString("<conversation>\n")
		for _, turn := range history {
			prompt.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, truncate(turn.Content, 400)))
		}
		prompt.WriteString("</conversation>\n\n")
	}

	prompt.WriteString("<user_message>\n")
	prompt.WriteString(in.Text)
	prompt.WriteString("\n</user_message>\n\n")

	prompt.WriteString("<rules>\n")
	prompt.WriteString("- task_type is one of: itinerary, recommendation, other.\n")
	prompt.WriteString("- Only fill fields the user actually stated in THIS message. Use null or [] otherwise.\n")
	prompt.WriteString("- Dates use YYYY-MM-DD. Resolve relative dates against today.\n")
	prompt.WriteString("- subtype is hotel, food or attraction for recommendations, empty otherwise.\n")
	prompt.WriteString("- city_alias is the English name of the destination city.\n")
	prompt.WriteString("- keywords are 2-6 search keywords for a travel knowledge base.\n")
	prompt.WriteString("</rules>\n\n")

	prompt.WriteString("Respond with JSON only:\n")
	prompt.WriteString(`{"task_type": "string", "origin": "string or null", "dest_pref": ["string"], ` +
		`"date_window": {"from": "YYYY-MM-DD", "to": "YYYY-MM-DD"}, "trip_len_days": 0, "budget_total": 0, ` +
		`"currency": "string", "party": {"adults": 0, "children": 0}, "tags": ["string"], "subtype": "string", ` +
		`"keywords": ["string"], "city_alias": ["string"]}`)
	prompt.WriteString("\n")

	return prompt.String()
}

func isEmptySlots(s planner.Slots) bool {
	return s.TaskType == "" && s.Origin == "" && len(s.Destinations) == 0 &&
		s.DateWindow.IsZero() && s.DurationDays == 0 && s.Budget == 0 &&
		s.Party.IsZero() && len(s.Tags) == 0
}

func nullString(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), "null") {
		return ""
	}
	return s
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(nullString(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
