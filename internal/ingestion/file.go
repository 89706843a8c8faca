package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cyderes/event-archive-ingestion/internal/archive"
	"github.com/cyderes/event-archive-ingestion/internal/decoder"
	"github.com/cyderes/event-archive-ingestion/internal/journal"
	"github.com/cyderes/event-archive-ingestion/internal/metrics"
	"github.com/cyderes/event-archive-ingestion/internal/models"
	"github.com/cyderes/event-archive-ingestion/internal/objectstore"
	"github.com/cyderes/event-archive-ingestion/internal/sink"
	"github.com/cyderes/event-archive-ingestion/internal/tracing"
)

// FileResult summarises one IngestFile call. LinesRead counts lines consumed
// after the resume offset, including skipped and malformed ones.
type FileResult struct {
	Key         string
	Payload     string
	ResumedFrom int64
	LinesRead   int64
	Records     int64
	Skipped     int64
	Malformed   int64
	Batches     int
}

// FileIngestor moves the events of one archive into the sink, checkpointing
// the journal after every committed batch
type FileIngestor struct {
	objects   objectstore.Client
	journal   *journal.Journal
	writer    *sink.Writer
	batchSize int
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewFileIngestor creates a file ingestor
func NewFileIngestor(objects objectstore.Client, j *journal.Journal, writer *sink.Writer, batchSize int, m *metrics.Collector, logger *zap.Logger) *FileIngestor {
	return &FileIngestor{
		objects:   objects,
		journal:   j,
		writer:    writer,
		batchSize: max(1, batchSize),
		metrics:   m,
		logger:    logger,
	}
}

// IngestFile ingests key into table, resuming after the journal's offset when
// the journal points at key
func (f *FileIngestor) IngestFile(ctx context.Context, key string, table *sink.Table) (result FileResult, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "ingestion.file", trace.WithAttributes(
		attribute.String("file", key),
		attribute.String("table", table.Name),
	))
	defer func() {
		span.SetAttributes(
			attribute.Int64("lines_read", result.LinesRead),
			attribute.Int64("records", result.Records),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	result.Key = key
	logger := f.logger.With(zap.String("file", key), zap.String("table", table.Name))

	state, err := f.journal.Load(ctx)
	if err != nil {
		return result, err
	}
	if state.CurrentFile != nil && *state.CurrentFile == key {
		result.ResumedFrom = state.CurrentLine
		logger.Info("Resuming file", zap.Int64("line", state.CurrentLine))
	}

	raw, err := f.objects.Get(ctx, key)
	if err != nil {
		return result, fmt.Errorf("%w: fetch %s: %w", ErrTransientIO, key, err)
	}

	payload, err := archive.Open(raw)
	if errors.Is(err, archive.ErrNoPayload) {
		logger.Warn("No .ndjson entry in archive, marking file completed")
		if _, err := f.journal.MarkCompleted(ctx, key); err != nil {
			return result, err
		}
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("%w: open %s: %w", ErrTransientIO, key, err)
	}
	defer payload.Close()

	result.Payload = payload.Name()
	logger.Info("Processing payload", zap.String("payload", payload.Name()))

	var lineNum int64
	batch := make([]models.Event, 0, f.batchSize)

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		line, err := payload.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, fmt.Errorf("%w: read %s line %d: %w", ErrTransientIO, key, lineNum+1, err)
		}

		lineNum++
		if lineNum <= result.ResumedFrom {
			f.metrics.LineSkipped(metrics.ReasonResumed)
			continue
		}
		result.LinesRead++
		f.metrics.LineRead()

		ev, err := decoder.Decode(line)
		if err == nil {
			err = table.Check(ev)
		}

		switch {
		case err == nil:
		case errors.Is(err, decoder.ErrSkip):
			result.Skipped++
			f.metrics.LineSkipped(metrics.ReasonEmpty)
			continue
		case errors.Is(err, decoder.ErrMalformedJSON):
			result.Malformed++
			f.metrics.LineSkipped(metrics.ReasonMalformed)
			logger.Warn("Skipping malformed line", zap.Int64("line", lineNum), zap.Error(err))
			continue
		default:
			// Schema violation: keep everything before this line, then stop.
			return result, f.abort(ctx, logger, key, table, batch, lineNum, err, &result)
		}

		batch = append(batch, *ev)
		if len(batch) >= f.batchSize {
			if err := f.flush(ctx, key, table, batch, lineNum, &result); err != nil {
				return result, err
			}
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		if err := f.write(ctx, table, batch, &result); err != nil {
			return result, err
		}
		logger.Info("Final batch inserted", zap.Int("records", len(batch)))
	}

	if _, err := f.journal.MarkCompleted(ctx, key); err != nil {
		return result, err
	}

	logger.Info("Completed file",
		zap.Int64("total_lines", lineNum),
		zap.Int64("records", result.Records),
		zap.Int64("malformed", result.Malformed),
	)
	return result, nil
}

// flush writes batch and checkpoints line as durably consumed
func (f *FileIngestor) flush(ctx context.Context, key string, table *sink.Table, batch []models.Event, line int64, result *FileResult) error {
	start := time.Now()

	if err := f.write(ctx, table, batch, result); err != nil {
		return err
	}
	if _, err := f.journal.MarkProgress(ctx, key, line); err != nil {
		return err
	}

	if len(batch) > 0 {
		f.metrics.BatchCommitted(table.Name, len(batch), time.Since(start))
	}
	return nil
}

func (f *FileIngestor) write(ctx context.Context, table *sink.Table, batch []models.Event, result *FileResult) error {
	if len(batch) == 0 {
		return nil
	}
	if err := f.writer.Write(ctx, table, batch); err != nil {
		return fmt.Errorf("%w: write to %s: %w", ErrTransientIO, table.Name, err)
	}
	result.Records += int64(len(batch))
	result.Batches++
	return nil
}

// abort commits the pending batch, checkpoints up to but excluding line and
// returns the violation
func (f *FileIngestor) abort(ctx context.Context, logger *zap.Logger, key string, table *sink.Table, batch []models.Event, line int64, cause error, result *FileResult) error {
	logger.Error("Schema violation, aborting file", zap.Int64("line", line), zap.Error(cause))

	if err := f.flush(ctx, key, table, batch, line-1, result); err != nil {
		return err
	}

	return fmt.Errorf("%w: %s line %d: %w", ErrSchemaViolation, key, line, cause)
}
