package dto

import (
	"time"

	"github.com/google/uuid"
)

type PlanContext struct {
	Language string `json:"language,omitempty" validate:"omitempty,max=16"`
}

type PlanRequest struct {
	Prompt  string       `json:"prompt" validate:"required,max=4000"`
	Context *PlanContext `json:"context,omitempty"`
}

type PlanResponse struct {
	ChatSessionId uuid.UUID              `json:"chat_session_id"`
	MessageId     uuid.UUID              `json:"message_id"`
	Reply         string                 `json:"reply"`
	Fallback      bool                   `json:"fallback"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

type ChatMessageResponse struct {
	Id        uuid.UUID              `json:"id"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

type ChatHistoryResponse struct {
	ChatSessionId *uuid.UUID             `json:"chat_session_id"`
	Title         string                 `json:"title,omitempty"`
	Messages      []*ChatMessageResponse `json:"messages"`
}

type ResetHistoryResponse struct {
	ArchivedSessionId *uuid.UUID `json:"archived_session_id,omitempty"`
	ChatSessionId     uuid.UUID  `json:"chat_session_id"`
}

// NluStreamRequest drives the pipeline directly, without history or
// fallback.
type NluStreamRequest struct {
	Text      string `json:"text" validate:"required,max=4000"`
	SessionId string `json:"session_id,omitempty" validate:"omitempty,max=128"`
}

// TurnCompletedMessage travels over the in-process bus after a turn is
// persisted.
type TurnCompletedMessage struct {
	UserId             uuid.UUID `json:"user_id"`
	ChatSessionId      uuid.UUID `json:"chat_session_id"`
	UserMessageId      uuid.UUID `json:"user_message_id"`
	AssistantMessageId uuid.UUID `json:"assistant_message_id"`
	Prompt             string    `json:"prompt"`
	Fallback           bool      `json:"fallback"`
	FallbackTrigger    string    `json:"fallback_trigger,omitempty"`
	CompletedAt        time.Time `json:"completed_at"`
}
