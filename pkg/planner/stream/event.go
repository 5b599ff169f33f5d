// Package stream defines the ordered events one pipeline turn emits and
// their server-sent-events encoding.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
)

type Phase string

const (
	PhaseIntentParsing Phase = "intent_parsing"
	PhaseRetrieval     Phase = "retrieval"
	PhaseFanOut        Phase = "fanout"
	PhaseGeneration    Phase = "generation"
	PhaseVerification  Phase = "verification"
)

const (
	TypePhaseStart = "phase_start"
	TypePhaseEnd   = "phase_end"
	TypeToken      = "token"
	TypeEnd        = "end"
	TypeError      = "error"
)

const (
	StatusComplete   = "complete"
	StatusIncomplete = "incomplete"
)

// Event is one of PhaseStart, PhaseEnd, Token, End or Error.
type Event interface {
	Type() string
	// Terminal reports whether the event closes the turn.
	Terminal() bool
	sealed()
}

type PhaseStart struct {
	Phase   Phase `json:"phase"`
	Attempt int   `json:"attempt,omitempty"`
}

type PhaseEnd struct {
	Phase  Phase          `json:"phase"`
	Result map[string]any `json:"result,omitempty"`
}

type Token struct {
	Delta string `json:"delta"`
}

type End struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	// Message carries the clarification question on incomplete turns.
	Message    string `json:"message,omitempty"`
	Unsafe     bool   `json:"unsafe,omitempty"`
	Unverified bool   `json:"unverified,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`

	// Commit is set when the turn was started with deferred commit. It
	// applies the turn to the pipeline session and must be called at most
	// once, after the caller has stored the turn.
	Commit func(context.Context) error `json:"-"`
}

type Error struct {
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (PhaseStart) Type() string { return TypePhaseStart }
func (PhaseEnd) Type() string   { return TypePhaseEnd }
func (Token) Type() string      { return TypeToken }
func (End) Type() string        { return TypeEnd }
func (Error) Type() string      { return TypeError }

func (PhaseStart) Terminal() bool { return false }
func (PhaseEnd) Terminal() bool   { return false }
func (Token) Terminal() bool      { return false }
func (End) Terminal() bool        { return true }
func (Error) Terminal() bool      { return true }

func (PhaseStart) sealed() {}
func (PhaseEnd) sealed()   {}
func (Token) sealed()      {}
func (End) sealed()        {}
func (Error) sealed()      {}

func (e Error) Unwrap() error { return e.Cause }

func (e PhaseStart) MarshalJSON() ([]byte, error) {
	type alias PhaseStart
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypePhaseStart, alias(e)})
}

func (e PhaseEnd) MarshalJSON() ([]byte, error) {
	type alias PhaseEnd
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypePhaseEnd, alias(e)})
}

func (e Token) MarshalJSON() ([]byte, error) {
	type alias Token
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeToken, alias(e)})
}

func (e End) MarshalJSON() ([]byte, error) {
	type alias End
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeEnd, alias(e)})
}

func (e Error) MarshalJSON() ([]byte, error) {
	type alias Error
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeError, alias(e)})
}

// Decode parses one JSON event as produced by the MarshalJSON methods.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	var (
		ev  Event
		err error
	)
	switch head.Type {
	case TypePhaseStart:
		var e PhaseStart
		err = json.Unmarshal(data, &e)
		ev = e
	case TypePhaseEnd:
		var e PhaseEnd
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeToken:
		var e Token
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeEnd:
		var e End
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeError:
		var e Error
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// DoneSentinel follows the terminal event on the wire.
const DoneSentinel = "[DONE]"

// WriteSSE writes one "data: <json>" frame and flushes.
func WriteSSE(w *bufio.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

// WriteDone writes the closing sentinel frame and flushes.
func WriteDone(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", DoneSentinel); err != nil {
		return err
	}
	return w.Flush()
}
