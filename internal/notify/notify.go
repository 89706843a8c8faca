package notify

import (
	"context"
	"time"
)

// Event types
const (
	FileCompleted = "file_completed"
	FileFailed    = "file_failed"
	RunFinished   = "run_finished"
)

// Event announces ingestion progress to downstream consumers
type Event struct {
	Type    string    `json:"type"`
	RunID   string    `json:"run_id"`
	Prefix  string    `json:"prefix"`
	Table   string    `json:"table_name"`
	File    string    `json:"file,omitempty"`
	Lines   int64     `json:"lines,omitempty"`
	Records int64     `json:"records,omitempty"`
	Files   int       `json:"files,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier publishes ingestion events. Publishing is best effort: callers
// log failures and carry on.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
	Close(ctx context.Context) error
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(ctx context.Context, ev Event) error { return nil }

func (Nop) Close(ctx context.Context) error { return nil }
