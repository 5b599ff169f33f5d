package service

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"trip-planner-be/internal/dto"
	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/internal/repository/unitofwork"
	"trip-planner-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// EventPublisher is the cluster bus, normally *nats.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type IConsumerService interface {
	Consume(ctx context.Context) error
}

const (
	defaultSessionTitle = "New trip"
	maxTitleRunes       = 60
)

type consumerService struct {
	pubSub     *gochannel.GoChannel
	topicName  string
	uowFactory unitofwork.RepositoryFactory
	events     EventPublisher
	logger     logger.ILogger
}

// NewConsumerService handles turn-completed messages: it titles a session
// after its first turn and forwards the event to the cluster bus. events
// may be nil.
func NewConsumerService(
	pubSub *gochannel.GoChannel,
	topicName string,
	uowFactory unitofwork.RepositoryFactory,
	eventPublisher EventPublisher,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		pubSub:     pubSub,
		topicName:  topicName,
		uowFactory: uowFactory,
		events:     eventPublisher,
		logger:     log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.pubSub.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var payload dto.TurnCompletedMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		cs.logger.Error("CONSUMER", "Failed to unmarshal turn message", map[string]interface{}{"error": err.Error()})
		msg.Ack() // poison message, never retry
		return
	}

	if err := cs.titleSession(ctx, payload); err != nil {
		cs.logger.Error("CONSUMER", "Failed to title session", map[string]interface{}{
			"chat_session_id": payload.ChatSessionId.String(),
			"error":           err.Error(),
		})
		msg.Nack()
		return
	}

	if cs.events != nil {
		evt := events.TurnCompleted{
			UserID:             payload.UserId.String(),
			ChatSessionID:      payload.ChatSessionId.String(),
			UserMessageID:      payload.UserMessageId.String(),
			AssistantMessageID: payload.AssistantMessageId.String(),
			Fallback:           payload.Fallback,
			FallbackTrigger:    payload.FallbackTrigger,
			OccurredAt:         payload.CompletedAt,
		}
		// The cluster bus is best effort; history is already durable.
		if err := cs.events.Publish(ctx, evt); err != nil {
			cs.logger.Warn("CONSUMER", "Failed to forward turn event", map[string]interface{}{"error": err.Error()})
		}
	}

	msg.Ack()
}

func (cs *consumerService) titleSession(ctx context.Context, payload dto.TurnCompletedMessage) error {
	title := SessionTitle(payload.Prompt)
	if title == "" {
		return nil
	}

	uow := cs.uowFactory.NewUnitOfWork(ctx)
	renamed, err := uow.ChatSessionRepository().RenameIfUntitled(ctx, payload.ChatSessionId, defaultSessionTitle, title)
	if err != nil {
		return err
	}
	if renamed {
		cs.logger.Debug("CONSUMER", "Session titled", map[string]interface{}{
			"chat_session_id": payload.ChatSessionId.String(),
			"title":           title,
		})
	}
	return nil
}

// SessionTitle derives a one-line title from the opening prompt.
func SessionTitle(prompt string) string {
	title := strings.Join(strings.Fields(prompt), " ")
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleRunes-3])) + "..."
}
