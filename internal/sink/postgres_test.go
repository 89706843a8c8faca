package sink

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cyderes/event-archive-ingestion/internal/models"
)

func tinyTable() *Table {
	return &Table{
		Name:       "web",
		PrimaryKey: "insert_id",
		Columns: []Column{
			insertIDColumn(),
			clientEventTimeColumn(),
		},
	}
}

func TestBuildInsert(t *testing.T) {
	got := buildInsert(tinyTable(), 2)

	assert.Equal(t,
		`INSERT INTO "web" ("insert_id", "client_event_time") VALUES ($1, $2), ($3, $4) ON CONFLICT ("insert_id") DO NOTHING`,
		got)
}

func TestBuildCreate(t *testing.T) {
	got := buildCreate(tinyTable())

	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "web" ("insert_id" TEXT, "client_event_time" TIMESTAMPTZ NOT NULL, PRIMARY KEY ("insert_id"))`,
		got)
}

func TestPostgresSink_WriteCommits(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	evs := []models.Event{
		{InsertID: "a", ClientEventTime: ts},
		{InsertID: "b", ClientEventTime: ts},
		{InsertID: "c", ClientEventTime: ts},
	}

	// four parameters per statement means two rows per insert
	mock.ExpectBegin()
	mock.ExpectExec(buildInsert(tinyTable(), 2)).
		WithArgs("a", ts, "b", ts).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(buildInsert(tinyTable(), 1)).
		WithArgs("c", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := NewWriter(NewPostgresSinkWithDB(db, 4), zap.NewNop())
	require.NoError(t, w.Write(context.Background(), tinyTable(), evs))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_WriteRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(buildInsert(tinyTable(), 1)).
		WithArgs("a", ts).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	w := NewWriter(NewPostgresSinkWithDB(db, 20000), zap.NewNop())
	err = w.Write(context.Background(), tinyTable(), []models.Event{{InsertID: "a", ClientEventTime: ts}})

	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_EnsureTable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(buildCreate(tinyTable())).WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewPostgresSinkWithDB(db, 20000)
	require.NoError(t, s.EnsureTable(context.Background(), tinyTable()))
	assert.Equal(t, 20000, s.MaxParameters())
	assert.NoError(t, mock.ExpectationsWereMet())
}
