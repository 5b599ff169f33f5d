package orchestrator

import (
	"trip-planner-be/pkg/planner"
)

type FragmentType string

const (
	FragmentToken FragmentType = "token"
	FragmentPhase FragmentType = "phase"
	// FragmentFallback tells the client to discard the primary tokens it
	// has rendered so far; the fallback reply follows.
	FragmentFallback FragmentType = "fallback"
	FragmentEnd      FragmentType = "end"
	FragmentError    FragmentType = "error"
)

// Fragment is one unit of the client-facing stream.
type Fragment struct {
	Type      FragmentType   `json:"type"`
	Delta     string         `json:"delta,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Attempt   int            `json:"attempt,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// PersistOutcome reports what was written to history for the turn. Err is
// set when nothing was persisted.
type PersistOutcome struct {
	User      planner.Message
	Assistant planner.Message
	Err       error
}

// Turn is the two-channel result of Run. StreamPayload is closed after the
// end or error fragment. PersistPayload delivers exactly one outcome and is
// then closed.
type Turn struct {
	StreamPayload  <-chan Fragment
	PersistPayload <-chan PersistOutcome
}

// Collect drains the turn and returns the concatenated reply text seen by a
// client that honours fallback fragments, plus the persist outcome.
func (t *Turn) Collect() (string, []Fragment, PersistOutcome) {
	var (
		text      []byte
		fragments []Fragment
	)
	for f := range t.StreamPayload {
		fragments = append(fragments, f)
		switch f.Type {
		case FragmentToken:
			text = append(text, f.Delta...)
		case FragmentFallback:
			text = text[:0]
		}
	}
	outcome, ok := <-t.PersistPayload
	if !ok {
		outcome = PersistOutcome{Err: planner.ErrPrimaryUnavailable}
	}
	return string(text), fragments, outcome
}
