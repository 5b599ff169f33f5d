// Package planner holds the domain vocabulary shared by every pipeline stage:
// task types, slots, intents, fan-out artifacts, verification results and
// persisted messages.
package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskType is the closed set of request kinds the pipeline understands.
type TaskType string

const (
	TaskItinerary      TaskType = "itinerary"
	TaskRecommendation TaskType = "recommendation"
	TaskOther          TaskType = "other"
)

// TaskTypes lists every variant. Dispatch tables are checked against it at
// construction time.
func TaskTypes() []TaskType {
	return []TaskType{TaskItinerary, TaskRecommendation, TaskOther}
}

func (t TaskType) Valid() bool {
	switch t {
	case TaskItinerary, TaskRecommendation, TaskOther:
		return true
	}
	return false
}

// NormalizeTaskType maps free-form model output onto the closed set.
// Unknown labels (including the legacy "qa") become TaskOther.
func NormalizeTaskType(raw string) TaskType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "itinerary", "trip", "plan":
		return TaskItinerary
	case "recommendation", "recommend", "recommendations":
		return TaskRecommendation
	default:
		return TaskOther
	}
}

// Slot names, also used as clarification keys.
const (
	SlotOrigin      = "origin"
	SlotDestination = "destination"
	SlotDateWindow  = "date_window"
	SlotDuration    = "duration"
	SlotBudget      = "budget"
	SlotParty       = "party"
)

// RequiredSlots returns the slots that must be filled before content is
// generated for t.
func RequiredSlots(t TaskType) []string {
	switch t {
	case TaskItinerary:
		return []string{SlotOrigin, SlotDestination, SlotDateWindow, SlotDuration, SlotBudget, SlotParty}
	case TaskRecommendation:
		return []string{SlotDestination}
	case TaskOther:
		return nil
	}
	return nil
}

type DateWindow struct {
	From string `json:"from,omitempty"` // YYYY-MM-DD
	To   string `json:"to,omitempty"`
}

func (d DateWindow) IsZero() bool { return d.From == "" && d.To == "" }

type Party struct {
	Adults   *int `json:"adults,omitempty"`
	Children *int `json:"children,omitempty"`
}

func (p Party) IsZero() bool { return p.Adults == nil && p.Children == nil }

// Size returns the total headcount, zero when unknown.
func (p Party) Size() int {
	n := 0
	if p.Adults != nil {
		n += *p.Adults
	}
	if p.Children != nil {
		n += *p.Children
	}
	return n
}

// Slots are the structured trip parameters accumulated across turns.
type Slots struct {
	TaskType     TaskType   `json:"task_type,omitempty"`
	Origin       string     `json:"origin,omitempty"`
	Destinations []string   `json:"destinations,omitempty"`
	DateWindow   DateWindow `json:"date_window,omitempty"`
	DurationDays int        `json:"duration_days,omitempty"`
	Budget       float64    `json:"budget,omitempty"`
	Currency     string     `json:"currency,omitempty"`
	Party        Party      `json:"party,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	Subtype      string     `json:"subtype,omitempty"`
}

// Destination returns the primary destination or "".
func (s Slots) Destination() string {
	if len(s.Destinations) == 0 {
		return ""
	}
	return s.Destinations[0]
}

// Clone returns a copy that shares no slices or pointers with s.
func (s Slots) Clone() Slots {
	c := s
	c.Destinations = append([]string(nil), s.Destinations...)
	c.Tags = append([]string(nil), s.Tags...)
	if s.Party.Adults != nil {
		v := *s.Party.Adults
		c.Party.Adults = &v
	}
	if s.Party.Children != nil {
		v := *s.Party.Children
		c.Party.Children = &v
	}
	return c
}

// Missing reports which required slots for t are unset.
func (s Slots) Missing(t TaskType) []string {
	var missing []string
	for _, slot := range RequiredSlots(t) {
		if !s.has(slot) {
			missing = append(missing, slot)
		}
	}
	return missing
}

func (s Slots) has(slot string) bool {
	switch slot {
	case SlotOrigin:
		return strings.TrimSpace(s.Origin) != ""
	case SlotDestination:
		return len(s.Destinations) > 0
	case SlotDateWindow:
		return !s.DateWindow.IsZero()
	case SlotDuration:
		return s.DurationDays > 0
	case SlotBudget:
		return s.Budget > 0
	case SlotParty:
		return !s.Party.IsZero()
	}
	return false
}

type IntentStatus string

const (
	StatusComplete   IntentStatus = "complete"
	StatusIncomplete IntentStatus = "incomplete"
)

// Intent is the parser's output for one turn.
type Intent struct {
	TaskType      TaskType
	Slots         Slots
	Missing       []string
	Query         string // rewritten retrieval query
	Locality      string // retrieval locality filter, normally the city
	Keywords      []string
	Clarification string
	Status        IntentStatus
}

// Proceed reports whether retrieval and generation should run.
func (i *Intent) Proceed() bool {
	return i.Status == StatusComplete
}

type ContextSummary struct {
	Summary    string   `json:"summary"`
	Highlights []string `json:"highlights,omitempty"`
}

type PlanStep struct {
	Action string `json:"action"`
	Value  string `json:"value"`
}

type PlanSteps struct {
	Steps       []PlanStep `json:"steps"`
	Assumptions []string   `json:"assumptions,omitempty"`
	Notes       []string   `json:"notes,omitempty"`
}

type PlanOption struct {
	ID         string   `json:"id"`
	Summary    string   `json:"summary"`
	Pros       []string `json:"pros,omitempty"`
	Cons       []string `json:"cons,omitempty"`
	TotalPrice float64  `json:"total_price,omitempty"`
}

type Aggregation struct {
	Plans          []PlanOption `json:"plans,omitempty"`
	Recommendation string       `json:"recommendation"`
}

// FanOutArtifacts is the joined output of the three concurrent members.
// A member that failed leaves its field at the zero value.
type FanOutArtifacts struct {
	ContextSummary ContextSummary
	PlanSteps      PlanSteps
	Aggregation    Aggregation
}

// GeneratedContent is one full generation attempt.
type GeneratedContent struct {
	FullText string
	Attempt  int
}

type VerificationResult struct {
	IsSafe      bool   `json:"is_safe"`
	Explanation string `json:"explanation"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one persisted history entry. ID is assigned once, at creation,
// and never derived from content or memory identity.
type Message struct {
	ID        uuid.UUID      `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func NewMessage(role Role, content string, metadata map[string]any) Message {
	return Message{
		ID:        uuid.New(),
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
}

func (m Message) String() string {
	return fmt.Sprintf("%s(%s): %d chars", m.Role, m.ID, len(m.Content))
}
