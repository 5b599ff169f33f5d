package memory

import (
	"context"
	"sync"

	"trip-planner-be/pkg/planner"
)

// MessageRepository keeps persisted conversation history in process. It is
// the history store for the simulation binary and for tests; the service
// uses the gorm-backed recorder.
type MessageRepository struct {
	mu       sync.RWMutex
	messages map[string][]planner.Message
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{messages: make(map[string][]planner.Message)}
}

// AppendTurn stores both messages or neither.
func (r *MessageRepository) AppendTurn(ctx context.Context, correlationID string, user, assistant planner.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[correlationID] = append(r.messages[correlationID], user, assistant)
	return nil
}

// History returns the messages for correlationID in insertion order.
func (r *MessageRepository) History(ctx context.Context, correlationID string) ([]planner.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]planner.Message(nil), r.messages[correlationID]...), nil
}

func (r *MessageRepository) Reset(correlationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, correlationID)
}
