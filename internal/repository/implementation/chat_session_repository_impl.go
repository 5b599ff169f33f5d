package implementation

import (
	"context"
	"errors"

	"trip-planner-be/internal/entity"
	"trip-planner-be/internal/mapper"
	"trip-planner-be/internal/model"
	"trip-planner-be/internal/repository/contract"
	"trip-planner-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ChatSessionRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ChatMapper
}

func NewChatSessionRepository(db *gorm.DB) contract.ChatSessionRepository {
	return &ChatSessionRepositoryImpl{
		db:     db,
		mapper: mapper.NewChatMapper(),
	}
}

func (r *ChatSessionRepositoryImpl) Create(ctx context.Context, session *entity.ChatSession) error {
	if session.Id == uuid.Nil {
		return errors.New("chat session id must be assigned before create")
	}
	m := r.mapper.ChatSessionToModel(session)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*session = *r.mapper.ChatSessionToEntity(m)
	return nil
}

func (r *ChatSessionRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ChatSession, error) {
	var m model.ChatSession
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ChatSessionToEntity(&m), nil
}

func (r *ChatSessionRepositoryImpl) FindActiveByUser(ctx context.Context, userId uuid.UUID) (*entity.ChatSession, error) {
	return r.FindOne(ctx,
		specification.UserOwnedBy{UserID: userId},
		specification.ByStatus{Status: model.ChatSessionActive},
		specification.Latest{},
	)
}

func (r *ChatSessionRepositoryImpl) Archive(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.ChatSession{}).
		Where("id = ?", id).
		Update("status", model.ChatSessionArchived).Error
}

func (r *ChatSessionRepositoryImpl) RenameIfUntitled(ctx context.Context, id uuid.UUID, placeholder, title string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.ChatSession{}).
		Where("id = ? AND status = ? AND title = ?", id, model.ChatSessionActive, placeholder).
		Update("title", title)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
