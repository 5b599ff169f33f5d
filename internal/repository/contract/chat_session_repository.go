package contract

import (
	"context"

	"trip-planner-be/internal/entity"
	"trip-planner-be/internal/repository/specification"

	"github.com/google/uuid"
)

type ChatSessionRepository interface {
	Create(ctx context.Context, session *entity.ChatSession) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ChatSession, error)
	// FindActiveByUser returns the user's newest active session, or nil.
	FindActiveByUser(ctx context.Context, userId uuid.UUID) (*entity.ChatSession, error)
	Archive(ctx context.Context, id uuid.UUID) error
	// RenameIfUntitled sets title only while the session is active and still
	// carries placeholder. It reports whether a row changed.
	RenameIfUntitled(ctx context.Context, id uuid.UUID, placeholder, title string) (bool, error)
}
