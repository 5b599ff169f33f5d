package implementation

import (
	"context"
	"testing"
	"time"

	"trip-planner-be/internal/entity"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

var messageColumns = []string{"id", "chat_session_id", "role", "content", "metadata", "created_at"}

func TestChatSessionRepository_FindActiveByUserReturnsNilWhenMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChatSessionRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "chat_sessions" WHERE user_id = .* AND status = `).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "status", "created_at", "updated_at"}))

	session, err := repo.FindActiveByUser(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatSessionRepository_Archive(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChatSessionRepository(db)

	mock.ExpectExec(`UPDATE "chat_sessions" SET "status"=.* WHERE id = `).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Archive(context.Background(), uuid.New()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatSessionRepository_RenameIfUntitled(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChatSessionRepository(db)
	id := uuid.New()

	mock.ExpectExec(`UPDATE "chat_sessions" SET "title"=.* WHERE id = .* AND status = .* AND title = `).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "chat_sessions" SET "title"=`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	renamed, err := repo.RenameIfUntitled(context.Background(), id, "New trip", "Lisbon weekend")
	require.NoError(t, err)
	assert.True(t, renamed)

	renamed, err = repo.RenameIfUntitled(context.Background(), id, "New trip", "Porto")
	require.NoError(t, err)
	assert.False(t, renamed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatSessionRepository_CreateRequiresID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChatSessionRepository(db)

	err := repo.Create(context.Background(), &entity.ChatSession{UserId: uuid.New()})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatMessageRepository_FindRecentReturnsOldestFirst(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChatMessageRepository(db)
	sessionId := uuid.New()
	now := time.Now()

	// Query order is newest first.
	rows := sqlmock.NewRows(messageColumns).
		AddRow(uuid.New(), sessionId, "assistant", "Day 1: Alfama", []byte(`{"status":"complete"}`), now).
		AddRow(uuid.New(), sessionId, "user", "2 days in Lisbon", nil, now.Add(-time.Second))
	mock.ExpectQuery(`SELECT \* FROM "chat_messages" WHERE chat_session_id = .* ORDER BY .* LIMIT`).
		WillReturnRows(rows)

	messages, err := repo.FindRecent(context.Background(), sessionId, 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)
	assert.Equal(t, "complete", messages[1].Metadata["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatMessageRepository_FindBySession(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChatMessageRepository(db)
	sessionId := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "chat_messages" WHERE chat_session_id = `).
		WillReturnRows(sqlmock.NewRows(messageColumns))

	messages, err := repo.FindBySession(context.Background(), sessionId)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.NoError(t, mock.ExpectationsWereMet())
}
