package ingestion

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cyderes/event-archive-ingestion/internal/journal"
	"github.com/cyderes/event-archive-ingestion/internal/metrics"
	"github.com/cyderes/event-archive-ingestion/internal/models"
	"github.com/cyderes/event-archive-ingestion/internal/sink"
)

func (f *fixture) ingestor(batchSize int) *FileIngestor {
	j := journal.New(f.store, journal.Key("logs/", "web"), zap.NewNop())
	return NewFileIngestor(f.objects, j, sink.NewWriter(f.sink, zap.NewNop()), batchSize, metrics.NewCollector(), zap.NewNop())
}

func tenLines() []string {
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = validLine(fmt.Sprintf("e%02d", i+1))
	}
	return lines
}

func sortedIDs(s *memSink) []string {
	ids := s.ids("web")
	sort.Strings(ids)
	return ids
}

func TestIngestFile_CheckpointsConsumedLines(t *testing.T) {
	f := newFixture(2)
	f.objects.put("logs/a.ndjson.zip", day(1), zipOf(t,
		validLine("a1"),
		`{"$insert_id":"a2",`,
		``,
		validLine("a4"),
		validLine("a5"),
		`not json at all`,
	))

	result, err := f.ingestor(2).IngestFile(context.Background(), "logs/a.ndjson.zip", sink.WebTable())

	require.NoError(t, err)
	assert.Equal(t, FileResult{
		Key:       "logs/a.ndjson.zip",
		Payload:   "export.ndjson",
		LinesRead: 6,
		Records:   3,
		Skipped:   1,
		Malformed: 2,
		Batches:   2,
	}, result)

	require.Len(t, f.store.saved, 2)
	assert.Equal(t, "logs/a.ndjson.zip", *f.store.saved[0].CurrentFile)
	assert.Equal(t, int64(4), f.store.saved[0].CurrentLine, "checkpoint counts lines, not records")
	assert.Equal(t, "logs/a.ndjson.zip", *f.store.saved[1].LastCompletedFile)
	assert.Nil(t, f.store.saved[1].CurrentFile)
}

func TestIngestFile_LeadingArrayBracket(t *testing.T) {
	f := newFixture(10)
	f.objects.put("logs/a.ndjson.zip", day(1), zipOf(t, "[", validLine("a1")+",", validLine("a2"), "]"))

	result, err := f.ingestor(10).IngestFile(context.Background(), "logs/a.ndjson.zip", sink.WebTable())

	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Records)
	assert.Equal(t, int64(2), result.Skipped)
	assert.Equal(t, []string{"a1", "a2"}, sortedIDs(f.sink))
}

func TestIngestFile_SchemaViolationAbortsAtCheckpoint(t *testing.T) {
	f := newFixture(10)
	f.objects.put("logs/a.ndjson.zip", day(1), zipOf(t,
		validLine("a1"),
		validLine("a2"),
		`{"client_event_time":"2024-01-01T00:00:00Z"}`,
		validLine("a4"),
	))

	result, err := f.ingestor(10).IngestFile(context.Background(), "logs/a.ndjson.zip", sink.WebTable())

	assert.ErrorIs(t, err, ErrSchemaViolation)
	assert.Contains(t, err.Error(), "line 3")
	assert.Equal(t, int64(2), result.Records)
	assert.Equal(t, []string{"a1", "a2"}, sortedIDs(f.sink))

	state := f.state(t, "logs/", "web")
	assert.Equal(t, "logs/a.ndjson.zip", *state.CurrentFile)
	assert.Equal(t, int64(2), state.CurrentLine)
	assert.Nil(t, state.LastCompletedFile)
}

func TestIngestFile_MissingTableKeyIsSchemaViolation(t *testing.T) {
	f := newFixture(10)
	f.objects.put("logs/a.ndjson.zip", day(1), zipOf(t,
		validLine("a1"),
		`{"$insert_id":"a2","client_event_time":"2024-01-01T00:00:00Z"}`,
	))

	_, err := f.ingestor(10).IngestFile(context.Background(), "logs/a.ndjson.zip", sink.MpTable())

	assert.ErrorIs(t, err, ErrSchemaViolation)
	assert.ErrorIs(t, err, sink.ErrMissingPrimaryKey)
	assert.Equal(t, []string{"u-a1"}, f.sink.ids("mp"))
	assert.Equal(t, int64(1), f.state(t, "logs/", "web").CurrentLine)
}

func TestIngestFile_NoPayloadCompletesFile(t *testing.T) {
	f := newFixture(10)
	f.objects.put("logs/a.ndjson.zip", day(1), zipBytesWithEntry(t, "readme.txt", "hello"))

	result, err := f.ingestor(10).IngestFile(context.Background(), "logs/a.ndjson.zip", sink.WebTable())

	require.NoError(t, err)
	assert.Zero(t, result.LinesRead)
	assert.Equal(t, "logs/a.ndjson.zip", *f.state(t, "logs/", "web").LastCompletedFile)
}

func TestIngestFile_FetchFailureLeavesJournal(t *testing.T) {
	f := newFixture(10)
	f.objects.put("logs/a.ndjson.zip", day(1), zipOf(t, validLine("a1")))
	f.objects.getErr["logs/a.ndjson.zip"] = assert.AnError

	_, err := f.ingestor(10).IngestFile(context.Background(), "logs/a.ndjson.zip", sink.WebTable())

	assert.ErrorIs(t, err, ErrTransientIO)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, f.store.saved)
}

func TestIngestFile_JournalFailureIsFatal(t *testing.T) {
	f := newFixture(10)
	f.objects.put("logs/a.ndjson.zip", day(1), zipOf(t, validLine("a1")))
	f.store.loadErr = assert.AnError

	_, err := f.ingestor(10).IngestFile(context.Background(), "logs/a.ndjson.zip", sink.WebTable())

	assert.ErrorIs(t, err, ErrJournal)
	assert.Empty(t, f.objects.gets)
}

func TestIngestFile_StopsOnCancel(t *testing.T) {
	f := newFixture(2)
	f.objects.put("logs/a.ndjson.zip", day(1), zipOf(t, tenLines()...))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ingestor(2).IngestFile(ctx, "logs/a.ndjson.zip", sink.WebTable())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.sink.ids("web"))
	assert.Empty(t, f.store.saved)
}

// Interrupting the sink after any number of committed batches and running
// again must end with exactly the rows of an uninterrupted run.
func TestIngestFile_ResumptionIsIdempotent(t *testing.T) {
	want := make([]string, 10)
	for i := range want {
		want[i] = fmt.Sprintf("e%02d", i+1)
	}

	for n := 0; n <= 3; n++ {
		t.Run(fmt.Sprintf("sink fails after %d batches", n), func(t *testing.T) {
			f := newFixture(3)
			f.objects.put("logs/a.ndjson.zip", day(1), zipOf(t, tenLines()...))
			f.sink.failInsert = n + 1

			_, err := f.ingestor(3).IngestFile(context.Background(), "logs/a.ndjson.zip", sink.WebTable())
			require.ErrorIs(t, err, ErrTransientIO)
			assert.Len(t, f.sink.ids("web"), 3*n, "failed batch must not be visible")

			state := f.state(t, "logs/", "web")
			if n > 0 {
				assert.Equal(t, int64(3*n), state.CurrentLine)
			}

			result, err := f.ingestor(3).IngestFile(context.Background(), "logs/a.ndjson.zip", sink.WebTable())
			require.NoError(t, err)
			assert.Equal(t, int64(3*n), result.ResumedFrom)

			assert.Equal(t, want, sortedIDs(f.sink))
			for id, commits := range f.sink.commits {
				assert.Equal(t, 1, commits, "row %s committed more than once", id)
			}
		})
	}
}

// A crash between the sink commit and the checkpoint replays one batch; the
// sink ignores the rows it already holds.
func TestIngestFile_ReplayAfterLostCheckpoint(t *testing.T) {
	f := newFixture(3)
	f.objects.put("logs/a.ndjson.zip", day(1), zipOf(t, tenLines()...))
	f.store.failSave = 2

	_, err := f.ingestor(3).IngestFile(context.Background(), "logs/a.ndjson.zip", sink.WebTable())
	require.ErrorIs(t, err, ErrJournal)
	assert.Len(t, f.sink.ids("web"), 6)
	assert.Equal(t, int64(3), f.state(t, "logs/", "web").CurrentLine)

	result, err := f.ingestor(3).IngestFile(context.Background(), "logs/a.ndjson.zip", sink.WebTable())
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.ResumedFrom)
	assert.Len(t, f.sink.ids("web"), 10)
	assert.True(t, f.state(t, "logs/", "web").IsIdle())
}

func TestIngestFile_OtherFileInJournalIsNotResumed(t *testing.T) {
	f := newFixture(10)
	f.objects.put("logs/a.ndjson.zip", day(1), zipOf(t, validLine("a1"), validLine("a2")))
	require.NoError(t, f.store.MemoryStore.Save(context.Background(), "logs/|web", models.JournalState{
		CurrentFile: strPtr("logs/other.ndjson.zip"),
		CurrentLine: 1,
	}))

	result, err := f.ingestor(10).IngestFile(context.Background(), "logs/a.ndjson.zip", sink.WebTable())

	require.NoError(t, err)
	assert.Zero(t, result.ResumedFrom)
	assert.Equal(t, int64(2), result.Records)
}
