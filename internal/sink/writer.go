package sink

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cyderes/event-archive-ingestion/internal/models"
)

// ChunkSize returns how many rows fit in one statement without exceeding
// maxParams bind parameters
func ChunkSize(maxParams, columns int) int {
	if columns < 1 {
		return 1
	}
	return max(1, maxParams/columns)
}

// Writer persists batches of events atomically
type Writer struct {
	sink      Sink
	maxParams int
	logger    *zap.Logger
}

// NewWriter creates a writer bounded by the sink's parameter limit
func NewWriter(s Sink, logger *zap.Logger) *Writer {
	return &Writer{
		sink:      s,
		maxParams: s.MaxParameters(),
		logger:    logger,
	}
}

// Write inserts events into table in a single transaction, split into
// statements that respect the parameter limit. Either every event becomes
// visible or none does.
func (w *Writer) Write(ctx context.Context, table *Table, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]any, len(events))
	for i := range events {
		rows[i] = table.Row(&events[i])
	}

	tx, err := w.sink.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	chunk := ChunkSize(w.maxParams, len(table.Columns))
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		if err := tx.Insert(ctx, table, rows[start:end]); err != nil {
			w.rollback(tx)
			return fmt.Errorf("failed to insert rows %d-%d into %s: %w", start, end-1, table.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		w.rollback(tx)
		return fmt.Errorf("failed to commit batch into %s: %w", table.Name, err)
	}

	w.logger.Debug("Batch committed",
		zap.String("table", table.Name),
		zap.Int("records", len(rows)),
		zap.Int("statements", (len(rows)+chunk-1)/chunk),
	)
	return nil
}

func (w *Writer) rollback(tx Tx) {
	if err := tx.Rollback(); err != nil {
		w.logger.Warn("Rollback failed", zap.Error(err))
	}
}
