package checkpoint

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/internal/sqldb"
)

func setupMockStore(t *testing.T) (sqlmock.Sqlmock, *SQLStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return mock, NewSQLStore(db, sqldb.Postgres)
}

func TestSQLStore_AppendRollsBackOnInsertFailure(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE threads SET updated_at = $1 WHERE id = $2`)).
		WithArgs(sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(seq), -1) + 1 FROM thread_messages WHERE thread_id = $1`)).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO thread_messages`)).
		WithArgs("t1", int64(2), "assistant", "researcher", "", sqlmock.AnyArg(), "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO thread_messages`)).
		WithArgs("t1", int64(3), "tool", "tavily_search", "{}", "", "c1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	call := core.ToolCall{ID: "c1", Name: "tavily_search"}
	err := s.Append(context.Background(), "t1",
		core.Message{Role: core.RoleAssistant, Name: "researcher", ToolCalls: []core.ToolCall{call}},
		core.NewToolMessage(call, "{}"),
	)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_AppendUnknownThread(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE threads SET updated_at = $1 WHERE id = $2`)).
		WithArgs(sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Append(context.Background(), "missing", core.NewUserMessage("hi"))
	assert.ErrorIs(t, err, core.ErrThreadNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_LoadDatabaseError(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT created_at, updated_at FROM threads WHERE id = $1`)).
		WithArgs("t1").
		WillReturnError(errors.New("timeout"))

	_, err := s.Load(context.Background(), "t1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrThreadNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
