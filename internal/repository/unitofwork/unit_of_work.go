// Package unitofwork scopes the chat repositories to one gorm handle, either
// the shared pool or a transaction.
package unitofwork

import (
	"context"
	"errors"

	"trip-planner-be/internal/repository/contract"
	"trip-planner-be/internal/repository/implementation"

	"gorm.io/gorm"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	ChatSessionRepository() contract.ChatSessionRepository
	ChatMessageRepository() contract.ChatMessageRepository
}

type RepositoryFactory interface {
	NewUnitOfWork(ctx context.Context) UnitOfWork
}

var (
	ErrTxStarted = errors.New("transaction already started")
	ErrNoTx      = errors.New("no active transaction")
)

// Transact runs fn inside a transaction, committing when fn returns nil.
func Transact(ctx context.Context, factory RepositoryFactory, fn func(uow UnitOfWork) error) error {
	uow := factory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback()

	if err := fn(uow); err != nil {
		return err
	}
	return uow.Commit()
}

type gormFactory struct {
	db *gorm.DB
}

func NewRepositoryFactory(db *gorm.DB) RepositoryFactory {
	return &gormFactory{db: db}
}

func (f *gormFactory) NewUnitOfWork(context.Context) UnitOfWork {
	return &gormUnit{db: f.db}
}

type gormUnit struct {
	db *gorm.DB
	tx *gorm.DB
}

func (u *gormUnit) handle() *gorm.DB {
	if u.tx != nil {
		return u.tx
	}
	return u.db
}

func (u *gormUnit) Begin(ctx context.Context) error {
	if u.tx != nil {
		return ErrTxStarted
	}
	tx := u.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	u.tx = tx
	return nil
}

func (u *gormUnit) Commit() error {
	if u.tx == nil {
		return ErrNoTx
	}
	err := u.tx.Commit().Error
	u.tx = nil
	return err
}

// Rollback is a no-op after Commit.
func (u *gormUnit) Rollback() error {
	if u.tx == nil {
		return nil
	}
	err := u.tx.Rollback().Error
	u.tx = nil
	return err
}

func (u *gormUnit) ChatSessionRepository() contract.ChatSessionRepository {
	return implementation.NewChatSessionRepository(u.handle())
}

func (u *gormUnit) ChatMessageRepository() contract.ChatMessageRepository {
	return implementation.NewChatMessageRepository(u.handle())
}
