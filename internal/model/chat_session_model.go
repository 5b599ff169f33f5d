package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ChatSessionActive   = "active"
	ChatSessionArchived = "archived"
)

// ChatSession groups the persisted turns of one planner conversation. Its
// id doubles as the pipeline correlation id. Sessions are archived, never
// deleted.
type ChatSession struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId    uuid.UUID `gorm:"type:uuid;not null;index:idx_chat_sessions_user_status,priority:1"`
	Title     string    `gorm:"type:text;not null"`
	Status    string    `gorm:"type:varchar(20);not null;index:idx_chat_sessions_user_status,priority:2"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}
