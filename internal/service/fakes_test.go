package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"trip-planner-be/internal/entity"
	"trip-planner-be/internal/model"
	"trip-planner-be/internal/repository/contract"
	"trip-planner-be/internal/repository/specification"
	"trip-planner-be/internal/repository/unitofwork"

	"github.com/google/uuid"
)

// memoryDB backs a unit of work with plain slices.
type memoryDB struct {
	mu       sync.Mutex
	sessions []*entity.ChatSession
	messages []*entity.ChatMessage
}

func (db *memoryDB) NewUnitOfWork(context.Context) unitofwork.UnitOfWork { return &memoryUoW{db: db} }

type memoryUoW struct{ db *memoryDB }

func (u *memoryUoW) Begin(context.Context) error { return nil }
func (u *memoryUoW) Commit() error               { return nil }
func (u *memoryUoW) Rollback() error             { return nil }

func (u *memoryUoW) ChatSessionRepository() contract.ChatSessionRepository {
	return &memorySessions{db: u.db}
}

func (u *memoryUoW) ChatMessageRepository() contract.ChatMessageRepository {
	return &memoryMessages{db: u.db}
}

type memorySessions struct{ db *memoryDB }

func (r *memorySessions) Create(_ context.Context, s *entity.ChatSession) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *s
	r.db.sessions = append(r.db.sessions, &cp)
	return nil
}

func (r *memorySessions) FindOne(_ context.Context, specs ...specification.Specification) (*entity.ChatSession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, s := range r.db.sessions {
		if sessionMatches(s, specs) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memorySessions) FindActiveByUser(_ context.Context, userId uuid.UUID) (*entity.ChatSession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var newest *entity.ChatSession
	for _, s := range r.db.sessions {
		if s.UserId != userId || s.Status != model.ChatSessionActive {
			continue
		}
		if newest == nil || s.CreatedAt.After(newest.CreatedAt) {
			newest = s
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

func (r *memorySessions) Archive(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range r.db.sessions {
		if s.Id == id {
			s.Status = model.ChatSessionArchived
		}
	}
	return nil
}

func (r *memorySessions) RenameIfUntitled(_ context.Context, id uuid.UUID, placeholder, title string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range r.db.sessions {
		if s.Id == id && s.Status == model.ChatSessionActive && s.Title == placeholder {
			s.Title = title
			return true, nil
		}
	}
	return false, nil
}

func sessionMatches(s *entity.ChatSession, specs []specification.Specification) bool {
	for _, spec := range specs {
		switch v := spec.(type) {
		case specification.UserOwnedBy:
			if s.UserId != v.UserID {
				return false
			}
		case specification.ByStatus:
			if s.Status != v.Status {
				return false
			}
		}
	}
	return true
}

type memoryMessages struct{ db *memoryDB }

func (r *memoryMessages) Create(_ context.Context, m *entity.ChatMessage) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *m
	r.db.messages = append(r.db.messages, &cp)
	return nil
}

func (r *memoryMessages) FindBySession(_ context.Context, sessionId uuid.UUID) ([]*entity.ChatMessage, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []*entity.ChatMessage
	for _, m := range r.db.messages {
		if m.ChatSessionId == sessionId {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryMessages) FindRecent(ctx context.Context, sessionId uuid.UUID, limit int) ([]*entity.ChatMessage, error) {
	out, _ := r.FindBySession(ctx, sessionId)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

var errStoreDown = errors.New("store down")

type failingFactory struct{}

func (failingFactory) NewUnitOfWork(context.Context) unitofwork.UnitOfWork {
	return failingUoW{&memoryUoW{db: &memoryDB{}}}
}

type failingUoW struct{ *memoryUoW }

func (u failingUoW) ChatSessionRepository() contract.ChatSessionRepository {
	return failingSessions{&memorySessions{db: u.db}}
}

type failingSessions struct{ *memorySessions }

func (failingSessions) FindActiveByUser(context.Context, uuid.UUID) (*entity.ChatSession, error) {
	return nil, errStoreDown
}
