package events

import "time"

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "PLANNER_TURN_COMPLETED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

const (
	TypeTurnCompleted = "PLANNER_TURN_COMPLETED"
	TypeSessionReset  = "PLANNER_SESSION_RESET"
)

// BaseEvent is the generic event rebuilt by subscribers.
type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// String returns Data[key] when it is a string.
func (e BaseEvent) String(key string) string {
	v, _ := e.Data[key].(string)
	return v
}

// TurnCompleted is published after a turn's messages are persisted.
type TurnCompleted struct {
	UserID             string
	ChatSessionID      string
	UserMessageID      string
	AssistantMessageID string
	Fallback           bool
	FallbackTrigger    string
	OccurredAt         time.Time
}

func (e TurnCompleted) EventType() string { return TypeTurnCompleted }

func (e TurnCompleted) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":              e.UserID,
		"chat_session_id":      e.ChatSessionID,
		"user_message_id":      e.UserMessageID,
		"assistant_message_id": e.AssistantMessageID,
		"fallback":             e.Fallback,
		"fallback_trigger":     e.FallbackTrigger,
	}
}

func (e TurnCompleted) Timestamp() time.Time { return e.OccurredAt }

// SessionReset tells every instance to drop the pipeline session of a
// conversation the user closed.
type SessionReset struct {
	UserID        string
	ChatSessionID string
	OccurredAt    time.Time
}

func (e SessionReset) EventType() string { return TypeSessionReset }

func (e SessionReset) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         e.UserID,
		"chat_session_id": e.ChatSessionID,
	}
}

func (e SessionReset) Timestamp() time.Time { return e.OccurredAt }
