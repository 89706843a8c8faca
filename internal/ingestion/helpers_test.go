package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cyderes/event-archive-ingestion/internal/config"
	"github.com/cyderes/event-archive-ingestion/internal/journal"
	"github.com/cyderes/event-archive-ingestion/internal/metrics"
	"github.com/cyderes/event-archive-ingestion/internal/models"
	"github.com/cyderes/event-archive-ingestion/internal/notify"
	"github.com/cyderes/event-archive-ingestion/internal/objectstore"
	"github.com/cyderes/event-archive-ingestion/internal/sink"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func strPtr(s string) *string { return &s }

func validLine(id string) string {
	return fmt.Sprintf(`{"$insert_id":%q,"uuid":%q,"client_event_time":"2024-01-01 10:00:00.000000","event_type":"view"}`, id, "u-"+id)
}

func zipOf(t *testing.T, lines ...string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("export.ndjson")
	require.NoError(t, err)
	_, err = io.WriteString(w, strings.Join(lines, "\n")+"\n")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// fakeObjects is an in-memory object store. List returns objects in
// insertion order filtered and sorted like the real clients.
type fakeObjects struct {
	mu      sync.Mutex
	objs    []models.ObjectDescriptor
	data    map[string][]byte
	gets    []string
	getErr  map[string]error
	listErr error
	release chan struct{}
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{data: map[string][]byte{}, getErr: map[string]error{}}
}

func (f *fakeObjects) put(key string, modified time.Time, raw []byte) {
	f.objs = append(f.objs, models.ObjectDescriptor{Key: key, LastModified: modified, Size: int64(len(raw))})
	f.data[key] = raw
}

func (f *fakeObjects) List(ctx context.Context, prefix string) ([]models.ObjectDescriptor, error) {
	if f.release != nil {
		<-f.release
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return objectstore.DirectChildren(prefix, append([]models.ObjectDescriptor(nil), f.objs...)), nil
}

func (f *fakeObjects) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, key)
	if err := f.getErr[key]; err != nil {
		return nil, err
	}
	raw, ok := f.data[key]
	if !ok {
		return nil, fmt.Errorf("no such key %s", key)
	}
	return raw, nil
}

func (f *fakeObjects) Close() error { return nil }

// memSink stores rows keyed by primary key and ignores conflicting rows,
// like the postgres sink
type memSink struct {
	mu         sync.Mutex
	rows       map[string]map[string][]any
	commits    map[string]int
	inserts    int
	failInsert int
}

func newMemSink() *memSink {
	return &memSink{rows: map[string]map[string][]any{}, commits: map[string]int{}}
}

type memTx struct {
	s       *memSink
	pending map[string][]any
	table   string
}

func (m *memSink) Begin(ctx context.Context) (sink.Tx, error) {
	return &memTx{s: m, pending: map[string][]any{}}, nil
}

func (m *memSink) EnsureTable(ctx context.Context, table *sink.Table) error { return nil }

func (m *memSink) MaxParameters() int { return 20000 }

func (m *memSink) Close() error { return nil }

func (m *memSink) ids(table string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id := range m.rows[table] {
		out = append(out, id)
	}
	return out
}

func (tx *memTx) Insert(ctx context.Context, table *sink.Table, rows [][]any) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()

	tx.s.inserts++
	if tx.s.failInsert == tx.s.inserts {
		return fmt.Errorf("connection reset")
	}

	pk := 0
	for i, c := range table.Columns {
		if c.Name == table.PrimaryKey {
			pk = i
		}
	}
	tx.table = table.Name
	for _, row := range rows {
		tx.pending[row[pk].(string)] = row
	}
	return nil
}

func (tx *memTx) Commit() error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()

	if tx.s.rows[tx.table] == nil {
		tx.s.rows[tx.table] = map[string][]any{}
	}
	for id, row := range tx.pending {
		if _, exists := tx.s.rows[tx.table][id]; exists {
			continue
		}
		tx.s.rows[tx.table][id] = row
		tx.s.commits[id]++
	}
	return nil
}

func (tx *memTx) Rollback() error {
	tx.pending = nil
	return nil
}

// recordingStore remembers every saved state and can fail a chosen save
type recordingStore struct {
	*journal.MemoryStore
	mu       sync.Mutex
	saved    []models.JournalState
	failSave int
	loadErr  error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: journal.NewMemoryStore()}
}

func (r *recordingStore) Load(ctx context.Context, key string) (models.JournalState, error) {
	if r.loadErr != nil {
		return models.JournalState{}, r.loadErr
	}
	return r.MemoryStore.Load(ctx, key)
}

func (r *recordingStore) Save(ctx context.Context, key string, state models.JournalState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failSave == len(r.saved)+1 {
		r.failSave = 0
		return fmt.Errorf("disk full")
	}
	r.saved = append(r.saved, state)
	return r.MemoryStore.Save(ctx, key, state)
}

// MockNotifier is a mock implementation of the Notifier interface
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Publish(ctx context.Context, ev notify.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockNotifier) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockNotifier) types() []string {
	var out []string
	for _, call := range m.Calls {
		if call.Method == "Publish" {
			out = append(out, call.Arguments.Get(1).(notify.Event).Type)
		}
	}
	return out
}

func newNotifier() *MockNotifier {
	n := new(MockNotifier)
	n.On("Publish", mock.Anything, mock.Anything).Return(nil)
	return n
}

type fixture struct {
	objects  *fakeObjects
	store    *recordingStore
	sink     *memSink
	notifier *MockNotifier
	service  *Service
}

func newFixture(batchSize int) *fixture {
	f := &fixture{
		objects:  newFakeObjects(),
		store:    newRecordingStore(),
		sink:     newMemSink(),
		notifier: newNotifier(),
	}
	f.service = NewService(
		config.IngestionConfig{BatchSize: batchSize},
		f.objects, f.store, f.sink, f.notifier,
		metrics.NewCollector(), zap.NewNop(),
	)
	return f
}

func (f *fixture) state(t *testing.T, prefix, table string) models.JournalState {
	t.Helper()
	state, err := f.store.Load(context.Background(), journal.Key(objectstore.FolderPrefix(prefix), table))
	require.NoError(t, err)
	return state
}

func (f *fixture) run(req models.RunRequest) (RunResult, error) {
	return f.service.Run(context.Background(), "run-test", req)
}

func zipBytesWithEntry(t *testing.T, name, body string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = io.WriteString(w, body)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
