package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cyderes/event-archive-ingestion/internal/config"
	"github.com/cyderes/event-archive-ingestion/internal/models"
)

// ErrJournal marks failures of the underlying journal store. Progress can not be
// trusted after one, so callers abort the run.
var ErrJournal = errors.New("journal store failure")

// Store defines the contract for journal persistence. Save must replace the
// state atomically: a later Load observes either the old or the new state.
type Store interface {
	Load(ctx context.Context, key string) (models.JournalState, error)
	Save(ctx context.Context, key string, state models.JournalState) error
	Close() error
}

// NewStore creates a journal store based on configuration
func NewStore(ctx context.Context, cfg config.JournalConfig) (Store, error) {
	switch cfg.Backend {
	case "file":
		store, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		store, err := NewPostgresStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "dynamodb":
		store, err := NewDynamoDBStore(cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "mongodb":
		store, err := NewMongoDBStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported journal backend: %s", cfg.Backend)
	}
}

// Key namespaces the journal of one prefix/table pair
func Key(prefix, table string) string {
	return prefix + "|" + table
}

// Checkpoint acknowledges a state that the store reported as durably written
type Checkpoint struct {
	Key     string
	State   models.JournalState
	SavedAt time.Time
}

// Journal records ingestion progress for a single prefix/table pair
type Journal struct {
	store  Store
	key    string
	logger *zap.Logger
	now    func() time.Time
}

// New binds a store to one journal key
func New(store Store, key string, logger *zap.Logger) *Journal {
	return &Journal{
		store:  store,
		key:    key,
		logger: logger.With(zap.String("journal", key)),
		now:    time.Now,
	}
}

// Key returns the journal key
func (j *Journal) Key() string {
	return j.key
}

// Load returns the persisted state, or the idle state if none exists
func (j *Journal) Load(ctx context.Context) (models.JournalState, error) {
	state, err := j.store.Load(ctx, j.key)
	if err != nil {
		return models.JournalState{}, fmt.Errorf("%w: load %s: %w", ErrJournal, j.key, err)
	}
	return state, nil
}

// Save persists the full state and acknowledges it once written
func (j *Journal) Save(ctx context.Context, state models.JournalState) (Checkpoint, error) {
	if err := j.store.Save(ctx, j.key, state); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: save %s: %w", ErrJournal, j.key, err)
	}
	return Checkpoint{Key: j.key, State: state, SavedAt: j.now().UTC()}, nil
}

// MarkCompleted records fileKey as fully ingested and clears the current cursor
func (j *Journal) MarkCompleted(ctx context.Context, fileKey string) (Checkpoint, error) {
	state, err := j.Load(ctx)
	if err != nil {
		return Checkpoint{}, err
	}

	completed := fileKey
	state.LastCompletedFile = &completed
	state.CurrentFile = nil
	state.CurrentLine = 0

	cp, err := j.Save(ctx, state)
	if err != nil {
		return Checkpoint{}, err
	}

	j.logger.Info("journal: file completed", zap.String("file", fileKey))
	return cp, nil
}

// MarkProgress records that line lines of fileKey are durably committed
func (j *Journal) MarkProgress(ctx context.Context, fileKey string, line int64) (Checkpoint, error) {
	state, err := j.Load(ctx)
	if err != nil {
		return Checkpoint{}, err
	}

	current := fileKey
	state.CurrentFile = &current
	state.CurrentLine = line

	cp, err := j.Save(ctx, state)
	if err != nil {
		return Checkpoint{}, err
	}

	j.logger.Debug("journal: progress", zap.String("file", fileKey), zap.Int64("line", line))
	return cp, nil
}
