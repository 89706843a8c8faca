package journal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/cyderes/event-archive-ingestion/internal/models"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileStore keeps one JSON document per journal key in a directory. Writes go
// to a temp file in the same directory which is synced and renamed over the
// target, so readers never see a partial document.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates the journal directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file backing key
func (f *FileStore) Path(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := unsafeChars.ReplaceAllString(key, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return filepath.Join(f.dir, fmt.Sprintf("journal-%s-%s.json", name, hex.EncodeToString(sum[:4])))
}

func (f *FileStore) Load(ctx context.Context, key string) (models.JournalState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return models.IdleState(), nil
		}
		return models.JournalState{}, fmt.Errorf("failed to read journal: %w", err)
	}

	var state models.JournalState
	if err := json.Unmarshal(data, &state); err != nil {
		return models.JournalState{}, fmt.Errorf("failed to decode journal: %w", err)
	}
	if state.CurrentLine < 0 {
		return models.JournalState{}, fmt.Errorf("journal has negative current_line %d", state.CurrentLine)
	}

	return state, nil
}

func (f *FileStore) Save(ctx context.Context, key string, state models.JournalState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}

	target := f.Path(key)
	tmp, err := os.CreateTemp(f.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp journal: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write journal: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close journal: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename journal: %w", err)
	}

	// Persist the rename itself. Not every platform allows syncing a directory.
	if dir, err := os.Open(f.dir); err == nil {
		_ = dir.Sync()
		dir.Close()
	}

	return nil
}

func (f *FileStore) Close() error {
	return nil
}
