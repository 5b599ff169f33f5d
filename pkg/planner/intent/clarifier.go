package intent

import (
	"fmt"
	"strings"

	"trip-planner-be/pkg/planner"
)

var (
	itineraryKeywords      = []string{"行程", "旅行", "计划", "trip", "itinerary", "travel plan"}
	recommendationKeywords = []string{"推荐", "景点", "recommend", "attraction", "where to eat", "where to stay"}
)

var followUps = map[string]string{
	planner.SlotOrigin:      "Where will you be departing from? (a city is enough, e.g. Shanghai / Beijing)",
	planner.SlotDestination: "Where would you like to go? (a city or a country, e.g. Paris / Japan)",
	planner.SlotDateWindow:  "When do you plan to leave, or roughly which dates?",
	planner.SlotDuration:    "How many days is the trip? (e.g. 3 days / 5-7 days)",
	planner.SlotBudget:      "Roughly what is your total budget?",
	planner.SlotParty:       "How many people are travelling? (adults / children)",
}

// Clarifier decides whether an intent has enough information to plan and
// renders the follow-up question when it does not.
type Clarifier struct{}

// CorrectTaskType upgrades an unclassified request from keywords in the
// user's text.
func (Clarifier) CorrectTaskType(t planner.TaskType, text string) planner.TaskType {
	if t != "" && t != planner.TaskOther {
		return t
	}
	lower := strings.ToLower(text)
	if containsAny(lower, itineraryKeywords) {
		return planner.TaskItinerary
	}
	if containsAny(lower, recommendationKeywords) {
		return planner.TaskRecommendation
	}
	return planner.TaskOther
}

// FollowUp renders a single question covering every missing slot. Empty
// when nothing is missing.
func (Clarifier) FollowUp(missing []string) string {
	if len(missing) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("I need a bit more information to plan this for you:\n")
	for _, slot := range missing {
		q, ok := followUps[slot]
		if !ok {
			q = fmt.Sprintf("Please tell me the %s.", slot)
		}
		b.WriteString("- ")
		b.WriteString(q)
		b.WriteString("\n")
	}
	b.WriteString("(You can answer several of these in one message.)")
	return b.String()
}

// Clarify fills TaskType, Missing, Clarification and Status on in.
func (c Clarifier) Clarify(text string, in *planner.Intent) {
	in.TaskType = c.CorrectTaskType(in.TaskType, text)
	in.Slots.TaskType = in.TaskType
	in.Missing = in.Slots.Missing(in.TaskType)
	if len(in.Missing) > 0 {
		in.Status = planner.StatusIncomplete
		in.Clarification = c.FollowUp(in.Missing)
		return
	}
	in.Status = planner.StatusComplete
	in.Clarification = ""
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
