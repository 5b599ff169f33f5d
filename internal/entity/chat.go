package entity

import (
	"time"

	"github.com/google/uuid"
)

// ChatSession is one planner conversation. Only the newest active session of
// a user receives new turns; older ones are archived on reset.
type ChatSession struct {
	Id        uuid.UUID
	UserId    uuid.UUID
	Title     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatMessage is an immutable history entry. Metadata carries the pipeline
// outcome for assistant replies (status, fallback trigger, verdict).
type ChatMessage struct {
	Id            uuid.UUID
	ChatSessionId uuid.UUID
	Role          string
	Content       string
	Metadata      map[string]any
	CreatedAt     time.Time
}
