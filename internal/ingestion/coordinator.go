package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cyderes/event-archive-ingestion/internal/decoder"
	"github.com/cyderes/event-archive-ingestion/internal/journal"
	"github.com/cyderes/event-archive-ingestion/internal/metrics"
	"github.com/cyderes/event-archive-ingestion/internal/models"
	"github.com/cyderes/event-archive-ingestion/internal/notify"
	"github.com/cyderes/event-archive-ingestion/internal/objectstore"
	"github.com/cyderes/event-archive-ingestion/internal/sink"
	"github.com/cyderes/event-archive-ingestion/internal/tracing"
)

// RunResult summarises one coordinator run
type RunResult struct {
	StartIndex int
	Total      int
	Files      []FileResult
}

// Coordinator drives the file ingestor across the ordered files of a prefix
type Coordinator struct {
	objects  objectstore.Client
	journal  *journal.Journal
	files    *FileIngestor
	notifier notify.Notifier
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewCoordinator creates a coordinator for one journal
func NewCoordinator(objects objectstore.Client, j *journal.Journal, files *FileIngestor, notifier notify.Notifier, m *metrics.Collector, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		objects:  objects,
		journal:  j,
		files:    files,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// ParseStartDate accepts a date (YYYY-MM-DD) or a full timestamp. Values
// without a zone are UTC.
func ParseStartDate(s string) (time.Time, error) {
	t, err := decoder.ParseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidStartDate, s)
	}
	return t, nil
}

// ResolveStart picks the index of the first file to ingest. Explicit
// overrides win over the journal, start file over start date, and the last
// completed file over the current one.
func ResolveStart(objs []models.ObjectDescriptor, state models.JournalState, req models.RunRequest, logger *zap.Logger) (int, error) {
	indexOf := func(key string) int {
		for i, obj := range objs {
			if obj.Key == key {
				return i
			}
		}
		return -1
	}

	if req.StartFile != "" {
		key := req.StartFile
		folder := objectstore.FolderPrefix(req.Prefix)
		if !strings.HasPrefix(key, folder) {
			key = folder + key
		}
		idx := indexOf(req.StartFile)
		if idx < 0 {
			idx = indexOf(key)
		}
		if idx < 0 {
			return 0, configurationError(fmt.Errorf("%w: %s", ErrStartFileNotFound, req.StartFile))
		}
		logger.Info("Starting from specified file", zap.String("file", objs[idx].Key))
		return idx, nil
	}

	if req.StartDate != "" {
		date, err := ParseStartDate(req.StartDate)
		if err != nil {
			return 0, configurationError(err)
		}
		for i, obj := range objs {
			if !obj.LastModified.Before(date) {
				logger.Info("Starting from first file after date",
					zap.String("start_date", req.StartDate),
					zap.String("file", obj.Key),
				)
				return i, nil
			}
		}
		return 0, configurationError(fmt.Errorf("%w: %s", ErrNoFilesAfterDate, req.StartDate))
	}

	if state.LastCompletedFile != nil {
		if idx := indexOf(*state.LastCompletedFile); idx >= 0 {
			logger.Info("Resuming after completed file", zap.String("file", *state.LastCompletedFile))
			return idx + 1, nil
		}
		logger.Warn("Last completed file not found in listing, starting over",
			zap.String("file", *state.LastCompletedFile))
		return 0, nil
	}

	if state.CurrentFile != nil {
		if idx := indexOf(*state.CurrentFile); idx >= 0 {
			logger.Info("Resuming current file",
				zap.String("file", *state.CurrentFile),
				zap.Int64("line", state.CurrentLine),
			)
			return idx, nil
		}
		logger.Warn("Current file not found in listing, starting over",
			zap.String("file", *state.CurrentFile))
		return 0, nil
	}

	return 0, nil
}

// Run ingests the files of req.Prefix sequentially from the resolved start
// index. The first failing file stops the run.
func (c *Coordinator) Run(ctx context.Context, runID string, req models.RunRequest) (result RunResult, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "ingestion.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("prefix", req.Prefix),
		attribute.String("table", req.Table),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := c.logger.With(
		zap.String("run_id", runID),
		zap.String("prefix", req.Prefix),
		zap.String("table", req.Table),
	)

	table, err := sink.TableByName(req.Table)
	if err != nil {
		return result, configurationError(err)
	}

	defer func() {
		finished := notify.Event{Type: notify.RunFinished, Files: len(result.Files)}
		if err != nil {
			finished.Error = err.Error()
		}
		c.publish(ctx, runID, req, finished)
	}()

	objs, err := c.objects.List(ctx, req.Prefix)
	if err != nil {
		return result, fmt.Errorf("%w: list %s: %w", ErrTransientIO, req.Prefix, err)
	}
	result.Total = len(objs)

	state, err := c.journal.Load(ctx)
	if err != nil {
		return result, err
	}

	start, err := ResolveStart(objs, state, req, logger)
	if err != nil {
		logger.Error("Run not started", zap.Error(err))
		return result, err
	}
	result.StartIndex = start

	for idx := start; idx < len(objs); idx++ {
		key := objs[idx].Key
		logger.Info("Processing file",
			zap.Int("index", idx+1),
			zap.Int("total", len(objs)),
			zap.String("file", key),
		)

		fr, err := c.files.IngestFile(ctx, key, table)
		result.Files = append(result.Files, fr)
		if err != nil {
			c.metrics.FileFailed(table.Name)
			c.publish(ctx, runID, req, notify.Event{Type: notify.FileFailed, File: key, Lines: fr.LinesRead, Records: fr.Records, Error: err.Error()})
			return result, fmt.Errorf("file %s: %w", key, err)
		}

		c.metrics.FileCompleted(table.Name)
		c.publish(ctx, runID, req, notify.Event{Type: notify.FileCompleted, File: key, Lines: fr.LinesRead, Records: fr.Records})
	}

	logger.Info("Run finished all files", zap.Int("files", len(result.Files)))
	return result, nil
}

func (c *Coordinator) publish(ctx context.Context, runID string, req models.RunRequest, ev notify.Event) {
	ev.RunID = runID
	ev.Prefix = req.Prefix
	ev.Table = req.Table
	ev.At = time.Now().UTC()

	// The run may have been cancelled; the notification should still go out.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := c.notifier.Publish(ctx, ev); err != nil {
		c.logger.Warn("Failed to publish notification", zap.String("type", ev.Type), zap.Error(err))
	}
}
