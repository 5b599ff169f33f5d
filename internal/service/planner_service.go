package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trip-planner-be/internal/dto"
	"trip-planner-be/internal/entity"
	"trip-planner-be/internal/mapper"
	"trip-planner-be/internal/model"
	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/internal/repository/unitofwork"
	"trip-planner-be/pkg/events"
	"trip-planner-be/pkg/planner"
	"trip-planner-be/pkg/planner/orchestrator"

	"github.com/google/uuid"
)

type IPlannerService interface {
	StreamPlan(ctx context.Context, userId uuid.UUID, request *dto.PlanRequest) (*PlanStream, error)
	Plan(ctx context.Context, userId uuid.UUID, request *dto.PlanRequest) (*dto.PlanResponse, error)
	GetHistory(ctx context.Context, userId uuid.UUID) (*dto.ChatHistoryResponse, error)
	ResetHistory(ctx context.Context, userId uuid.UUID) (*dto.ResetHistoryResponse, error)
}

// TurnRunner is the orchestrator.
type TurnRunner interface {
	Run(ctx context.Context, req orchestrator.Request) *orchestrator.Turn
}

// PipelineSessions is the in-memory session store of this instance.
type PipelineSessions interface {
	Delete(id string) bool
}

// PlanStream is a running turn bound to the chat session it writes to.
type PlanStream struct {
	ChatSessionId uuid.UUID
	*orchestrator.Turn
}

type PlannerServiceConfig struct {
	// HistoryLimit caps the prior messages handed to the orchestrator.
	HistoryLimit int
}

type plannerService struct {
	uowFactory unitofwork.RepositoryFactory
	runner     TurnRunner
	publisher  IPublisherService
	sessions   PipelineSessions
	events     EventPublisher
	cfg        PlannerServiceConfig
	mapper     *mapper.ChatMapper
	logger     logger.ILogger
}

func NewPlannerService(
	uowFactory unitofwork.RepositoryFactory,
	runner TurnRunner,
	publisher IPublisherService,
	sessions PipelineSessions,
	eventPublisher EventPublisher,
	cfg PlannerServiceConfig,
	log logger.ILogger,
) IPlannerService {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &plannerService{
		uowFactory: uowFactory,
		runner:     runner,
		publisher:  publisher,
		sessions:   sessions,
		events:     eventPublisher,
		cfg:        cfg,
		mapper:     mapper.NewChatMapper(),
		logger:     log,
	}
}

func (s *plannerService) StreamPlan(ctx context.Context, userId uuid.UUID, request *dto.PlanRequest) (*PlanStream, error) {
	session, err := s.activeSession(ctx, userId, true)
	if err != nil {
		return nil, err
	}

	history, err := s.recentMessages(ctx, session.Id)
	if err != nil {
		return nil, err
	}

	var metadata map[string]any
	if request.Context != nil && request.Context.Language != "" {
		metadata = map[string]any{"language": request.Context.Language}
	}
	messages := append(history, planner.NewMessage(planner.RoleUser, request.Prompt, metadata))

	turn := s.runner.Run(ctx, orchestrator.Request{
		Messages:      messages,
		CorrelationID: session.Id.String(),
	})

	return &PlanStream{
		ChatSessionId: session.Id,
		Turn:          s.announce(userId, session.Id, request.Prompt, turn),
	}, nil
}

// announce relays the persist outcome and publishes a turn-completed
// message once the turn is durable.
func (s *plannerService) announce(userId, sessionId uuid.UUID, prompt string, turn *orchestrator.Turn) *orchestrator.Turn {
	persist := make(chan orchestrator.PersistOutcome, 1)

	go func() {
		defer close(persist)
		outcome, ok := <-turn.PersistPayload
		if !ok {
			return
		}
		if outcome.Err == nil && s.publisher != nil {
			trigger, _ := outcome.Assistant.Metadata["fallback_trigger"].(string)
			msg := dto.TurnCompletedMessage{
				UserId:             userId,
				ChatSessionId:      sessionId,
				UserMessageId:      outcome.User.ID,
				AssistantMessageId: outcome.Assistant.ID,
				Prompt:             prompt,
				Fallback:           trigger != "",
				FallbackTrigger:    trigger,
				CompletedAt:        time.Now(),
			}
			if payload, err := json.Marshal(msg); err == nil {
				if err := s.publisher.Publish(context.Background(), payload); err != nil {
					s.logger.Warn("PLANNER", "Failed to publish turn message", map[string]interface{}{"error": err.Error()})
				}
			}
		}
		persist <- outcome
	}()

	return &orchestrator.Turn{StreamPayload: turn.StreamPayload, PersistPayload: persist}
}

func (s *plannerService) Plan(ctx context.Context, userId uuid.UUID, request *dto.PlanRequest) (*dto.PlanResponse, error) {
	stream, err := s.StreamPlan(ctx, userId, request)
	if err != nil {
		return nil, err
	}

	_, _, outcome := stream.Collect()
	if outcome.Err != nil {
		return nil, outcome.Err
	}

	fallback, _ := outcome.Assistant.Metadata["fallback"].(bool)
	return &dto.PlanResponse{
		ChatSessionId: stream.ChatSessionId,
		MessageId:     outcome.Assistant.ID,
		Reply:         outcome.Assistant.Content,
		Fallback:      fallback,
		Metadata:      outcome.Assistant.Metadata,
	}, nil
}

func (s *plannerService) GetHistory(ctx context.Context, userId uuid.UUID) (*dto.ChatHistoryResponse, error) {
	session, err := s.activeSession(ctx, userId, false)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return &dto.ChatHistoryResponse{Messages: []*dto.ChatMessageResponse{}}, nil
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	messages, err := uow.ChatMessageRepository().FindBySession(ctx, session.Id)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.ChatMessageResponse, 0, len(messages))
	for _, msg := range messages {
		res = append(res, &dto.ChatMessageResponse{
			Id:        msg.Id,
			Role:      msg.Role,
			Content:   msg.Content,
			Metadata:  msg.Metadata,
			CreatedAt: msg.CreatedAt,
		})
	}

	return &dto.ChatHistoryResponse{
		ChatSessionId: &session.Id,
		Title:         session.Title,
		Messages:      res,
	}, nil
}

// ResetHistory archives the active conversation and opens a new one. The
// archived session's pipeline state is dropped here and, through the
// cluster bus, on every other instance.
func (s *plannerService) ResetHistory(ctx context.Context, userId uuid.UUID) (*dto.ResetHistoryResponse, error) {
	res := &dto.ResetHistoryResponse{}
	next := newChatSession(userId)

	err := unitofwork.Transact(ctx, s.uowFactory, func(uow unitofwork.UnitOfWork) error {
		sessions := uow.ChatSessionRepository()
		current, err := sessions.FindActiveByUser(ctx, userId)
		if err != nil {
			return err
		}
		if current != nil {
			if err := sessions.Archive(ctx, current.Id); err != nil {
				return fmt.Errorf("archive chat session: %w", err)
			}
			archived := current.Id
			res.ArchivedSessionId = &archived
		}
		return sessions.Create(ctx, next)
	})
	if err != nil {
		return nil, err
	}
	res.ChatSessionId = next.Id

	if res.ArchivedSessionId != nil {
		s.dropPipelineSession(ctx, userId, *res.ArchivedSessionId)
	}

	s.logger.Info("PLANNER", "History reset", map[string]interface{}{
		"user_id":         userId.String(),
		"chat_session_id": next.Id.String(),
	})
	return res, nil
}

func (s *plannerService) dropPipelineSession(ctx context.Context, userId, sessionId uuid.UUID) {
	if s.sessions != nil {
		s.sessions.Delete(sessionId.String())
	}
	if s.events == nil {
		return
	}
	evt := events.SessionReset{
		UserID:        userId.String(),
		ChatSessionID: sessionId.String(),
		OccurredAt:    time.Now(),
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn("PLANNER", "Failed to broadcast session reset", map[string]interface{}{
			"chat_session_id": sessionId.String(),
			"error":           err.Error(),
		})
	}
}

// activeSession returns the user's newest active session, creating one
// when create is set.
func (s *plannerService) activeSession(ctx context.Context, userId uuid.UUID, create bool) (*entity.ChatSession, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	session, err := uow.ChatSessionRepository().FindActiveByUser(ctx, userId)
	if err != nil {
		return nil, err
	}
	if session != nil || !create {
		return session, nil
	}

	session = newChatSession(userId)
	if err := uow.ChatSessionRepository().Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create chat session: %w", err)
	}
	return session, nil
}

func (s *plannerService) recentMessages(ctx context.Context, sessionId uuid.UUID) ([]planner.Message, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	messages, err := uow.ChatMessageRepository().FindRecent(ctx, sessionId, s.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	return s.mapper.ChatMessagesToPlanner(messages), nil
}

func newChatSession(userId uuid.UUID) *entity.ChatSession {
	return &entity.ChatSession{
		Id:        uuid.New(),
		UserId:    userId,
		Title:     defaultSessionTitle,
		Status:    model.ChatSessionActive,
		CreatedAt: time.Now(),
	}
}
