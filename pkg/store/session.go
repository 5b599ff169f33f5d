// Package store holds the pipeline-local session state kept between turns.
package store

import (
	"errors"
	"time"

	"trip-planner-be/pkg/planner"
)

// ErrSessionBusy is returned when a second turn for a session arrives while
// one is still running and the store is configured to reject.
var ErrSessionBusy = errors.New("session is busy with another turn")

// MaxHistoryTurns bounds how much conversation is kept per session.
const MaxHistoryTurns = 20

// Turn is one line of pipeline-local conversation history.
type Turn struct {
	Role    planner.Role `json:"role"`
	Content string       `json:"content"`
	At      time.Time    `json:"at"`
}

// Session is the state the pipeline carries across turns for one session
// id: accumulated slots and recent history.
type Session struct {
	ID        string        `json:"id"`
	Slots     planner.Slots `json:"slots"`
	History   []Turn        `json:"history"`
	CreatedAt time.Time     `json:"created_at"`
	TouchedAt time.Time     `json:"touched_at"`
}

func NewSession(id string, now time.Time) *Session {
	return &Session{ID: id, CreatedAt: now, TouchedAt: now}
}

// Commit applies the outcome of a finished turn.
func (s *Session) Commit(slots planner.Slots, user, assistant string, now time.Time) {
	s.Slots = slots
	s.History = append(s.History,
		Turn{Role: planner.RoleUser, Content: user, At: now},
		Turn{Role: planner.RoleAssistant, Content: assistant, At: now},
	)
	if len(s.History) > MaxHistoryTurns {
		s.History = append([]Turn(nil), s.History[len(s.History)-MaxHistoryTurns:]...)
	}
	s.TouchedAt = now
}

// Clone returns a deep copy so a running turn can work on its own snapshot.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Slots = s.Slots.Clone()
	c.History = append([]Turn(nil), s.History...)
	return &c
}
