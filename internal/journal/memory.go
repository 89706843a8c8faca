package journal

import (
	"context"
	"sync"

	"github.com/cyderes/event-archive-ingestion/internal/models"
)

// MemoryStore keeps journal states in process memory
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]models.JournalState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]models.JournalState)}
}

func (m *MemoryStore) Load(ctx context.Context, key string) (models.JournalState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[key]
	if !ok {
		return models.IdleState(), nil
	}
	return copyState(state), nil
}

func (m *MemoryStore) Save(ctx context.Context, key string, state models.JournalState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[key] = copyState(state)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// copyState detaches the string pointers so callers can not mutate stored state
func copyState(s models.JournalState) models.JournalState {
	out := models.JournalState{CurrentLine: s.CurrentLine}
	if s.LastCompletedFile != nil {
		v := *s.LastCompletedFile
		out.LastCompletedFile = &v
	}
	if s.CurrentFile != nil {
		v := *s.CurrentFile
		out.CurrentFile = &v
	}
	return out
}
