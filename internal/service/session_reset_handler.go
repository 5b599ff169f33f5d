package service

import (
	"context"

	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/pkg/events"
)

// SessionResetHandler drops pipeline sessions reset on another instance.
type SessionResetHandler struct {
	sessions PipelineSessions
	logger   logger.ILogger
}

func NewSessionResetHandler(sessions PipelineSessions, log logger.ILogger) *SessionResetHandler {
	return &SessionResetHandler{sessions: sessions, logger: log}
}

func (h *SessionResetHandler) Handle(ctx context.Context, event events.Event) error {
	id, _ := event.Payload()["chat_session_id"].(string)
	if id == "" {
		return nil
	}
	if h.sessions.Delete(id) {
		h.logger.Info("SESSION_RESET", "Dropped pipeline session", map[string]interface{}{"chat_session_id": id})
	}
	return nil
}
