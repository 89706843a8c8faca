package journal

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/event-archive-ingestion/internal/models"
)

var (
	selectJournal = regexp.QuoteMeta(`FROM "ingestion_journal"`)
	upsertJournal = regexp.QuoteMeta(`ON CONFLICT (journal_key) DO UPDATE`)
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewPostgresStoreWithDB(db, "ingestion_journal"), mock
}

func TestPostgresStore_Load_NoRowIsIdle(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	mock.ExpectQuery(selectJournal).WithArgs("logs/|web").WillReturnError(sql.ErrNoRows)

	state, err := store.Load(context.Background(), "logs/|web")

	require.NoError(t, err)
	assert.Equal(t, models.IdleState(), state)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load_NullColumns(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	rows := sqlmock.NewRows([]string{"last_completed_file", "current_file", "current_line"}).
		AddRow(nil, "logs/b.zip", int64(7))
	mock.ExpectQuery(selectJournal).WithArgs("logs/|web").WillReturnRows(rows)

	state, err := store.Load(context.Background(), "logs/|web")

	require.NoError(t, err)
	assert.Nil(t, state.LastCompletedFile)
	require.NotNil(t, state.CurrentFile)
	assert.Equal(t, "logs/b.zip", *state.CurrentFile)
	assert.Equal(t, int64(7), state.CurrentLine)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Save_Upserts(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	mock.ExpectExec(upsertJournal).
		WithArgs("logs/|web", "logs/a.zip", nil, int64(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Save(context.Background(), "logs/|web", models.JournalState{LastCompletedFile: strPtr("logs/a.zip")})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DriverErrors(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	mock.ExpectQuery(selectJournal).WillReturnError(assert.AnError)
	mock.ExpectExec(upsertJournal).WillReturnError(assert.AnError)

	_, err := store.Load(context.Background(), "k")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failed to load journal")

	err = store.Save(context.Background(), "k", models.JournalState{CurrentFile: strPtr("f"), CurrentLine: 3})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failed to save journal")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureTable(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "ingestion_journal"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.ensureTable(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
