package service

import (
	"context"
	"fmt"

	"trip-planner-be/internal/mapper"
	"trip-planner-be/internal/repository/unitofwork"
	"trip-planner-be/pkg/planner"

	"github.com/google/uuid"
)

// TurnRecorder writes a turn's two messages to the chat session named by
// the correlation id, inside one transaction.
type TurnRecorder struct {
	uowFactory unitofwork.RepositoryFactory
	mapper     *mapper.ChatMapper
}

func NewTurnRecorder(uowFactory unitofwork.RepositoryFactory) *TurnRecorder {
	return &TurnRecorder{uowFactory: uowFactory, mapper: mapper.NewChatMapper()}
}

func (r *TurnRecorder) AppendTurn(ctx context.Context, correlationID string, user, assistant planner.Message) error {
	sessionId, err := uuid.Parse(correlationID)
	if err != nil {
		return fmt.Errorf("correlation id is not a chat session id: %w", err)
	}

	return unitofwork.Transact(ctx, r.uowFactory, func(uow unitofwork.UnitOfWork) error {
		messages := uow.ChatMessageRepository()
		for _, msg := range []planner.Message{user, assistant} {
			if err := messages.Create(ctx, r.mapper.PlannerMessageToEntity(sessionId, msg)); err != nil {
				return fmt.Errorf("create %s message: %w", msg.Role, err)
			}
		}
		return nil
	})
}
