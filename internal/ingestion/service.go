package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cyderes/event-archive-ingestion/internal/config"
	"github.com/cyderes/event-archive-ingestion/internal/journal"
	"github.com/cyderes/event-archive-ingestion/internal/metrics"
	"github.com/cyderes/event-archive-ingestion/internal/models"
	"github.com/cyderes/event-archive-ingestion/internal/notify"
	"github.com/cyderes/event-archive-ingestion/internal/objectstore"
	"github.com/cyderes/event-archive-ingestion/internal/sink"
)

// ErrServiceClosed is returned by Start after Close
var ErrServiceClosed = errors.New("ingestion service is shutting down")

// Service starts ingestion runs in the background and reports their progress
type Service struct {
	config   config.IngestionConfig
	objects  objectstore.Client
	journals journal.Store
	sink     sink.Sink
	notifier notify.Notifier
	metrics  *metrics.Collector
	logger   *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	active  map[string]models.RunHandle
	lastErr map[string]string
}

// NewService creates a new ingestion service
func NewService(cfg config.IngestionConfig, objects objectstore.Client, journals journal.Store, snk sink.Sink, notifier notify.Notifier, m *metrics.Collector, logger *zap.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:   cfg,
		objects:  objects,
		journals: journals,
		sink:     snk,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		baseCtx:  ctx,
		cancel:   cancel,
		active:   make(map[string]models.RunHandle),
		lastErr:  make(map[string]string),
	}
}

// Start validates req and launches a background run. It returns as soon as
// the run is scheduled; the outcome is reported through Status.
func (s *Service) Start(ctx context.Context, req models.RunRequest) (models.RunHandle, error) {
	if _, err := sink.TableByName(req.Table); err != nil {
		return models.RunHandle{}, configurationError(err)
	}
	if req.StartDate != "" {
		if _, err := ParseStartDate(req.StartDate); err != nil {
			return models.RunHandle{}, configurationError(err)
		}
	}
	if req.StartFile != "" && req.StartDate != "" {
		s.logger.Warn("Both start_file and start_date provided; prioritizing start_file")
	}

	req.Prefix = objectstore.FolderPrefix(req.Prefix)
	key := journal.Key(req.Prefix, req.Table)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.RunHandle{}, ErrServiceClosed
	}
	if running, ok := s.active[key]; ok {
		s.mu.Unlock()
		return models.RunHandle{}, fmt.Errorf("%w: %s (run %s)", ErrRunActive, key, running.ID)
	}

	handle := models.RunHandle{
		ID:        uuid.NewString(),
		Prefix:    req.Prefix,
		Table:     req.Table,
		StartedAt: time.Now().UTC(),
	}
	s.active[key] = handle
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Starting background run",
		zap.String("run_id", handle.ID),
		zap.String("prefix", req.Prefix),
		zap.String("table", req.Table),
		zap.String("start_file", req.StartFile),
		zap.String("start_date", req.StartDate),
	)

	go s.runInBackground(handle, req)

	return handle, nil
}

func (s *Service) runInBackground(handle models.RunHandle, req models.RunRequest) {
	defer s.wg.Done()

	key := journal.Key(req.Prefix, req.Table)
	done := s.metrics.RunStarted(req.Table)
	defer done()

	ctx := s.baseCtx
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}

	result, err := s.Run(ctx, handle.ID, req)

	s.mu.Lock()
	delete(s.active, key)
	if err != nil {
		s.lastErr[key] = err.Error()
	} else {
		delete(s.lastErr, key)
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Run failed",
			zap.String("run_id", handle.ID),
			zap.Int("files", len(result.Files)),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("Run completed",
		zap.String("run_id", handle.ID),
		zap.Int("files", len(result.Files)),
		zap.Duration("elapsed", time.Since(handle.StartedAt)),
	)
}

// Run executes one run synchronously. Every collaborator bound to the
// journal key is constructed for this run only. Prefixes that list the same
// folder ("logs" and "logs/") share one journal.
func (s *Service) Run(ctx context.Context, runID string, req models.RunRequest) (RunResult, error) {
	req.Prefix = objectstore.FolderPrefix(req.Prefix)
	j := journal.New(s.journals, journal.Key(req.Prefix, req.Table), s.logger)
	writer := sink.NewWriter(s.sink, s.logger)
	files := NewFileIngestor(s.objects, j, writer, s.config.BatchSize, s.metrics, s.logger)
	coordinator := NewCoordinator(s.objects, j, files, s.notifier, s.metrics, s.logger)

	return coordinator.Run(ctx, runID, req)
}

// Status cross-references the listing of prefix with the journal of the
// prefix/table pair
func (s *Service) Status(ctx context.Context, prefix, table string) (models.IngestionStatus, error) {
	prefix = objectstore.FolderPrefix(prefix)
	objs, err := s.objects.List(ctx, prefix)
	if err != nil {
		return models.IngestionStatus{}, fmt.Errorf("%w: list %s: %w", ErrTransientIO, prefix, err)
	}

	key := journal.Key(prefix, table)
	state, err := journal.New(s.journals, key, s.logger).Load(ctx)
	if err != nil {
		return models.IngestionStatus{}, err
	}

	status := models.IngestionStatus{
		TotalFiles:      len(objs),
		CurrentFile:     state.CurrentFile,
		CurrentLine:     state.CurrentLine,
		CurrentProgress: "Idle",
		Status:          "idle",
	}

	if state.LastCompletedFile != nil {
		for i, obj := range objs {
			if obj.Key == *state.LastCompletedFile {
				status.CompletedFiles = i + 1
				break
			}
		}
	}

	if state.CurrentFile != nil {
		status.CurrentProgress = fmt.Sprintf("%s at line %d", *state.CurrentFile, state.CurrentLine)
		status.Status = "running"
	}

	s.mu.Lock()
	if running, ok := s.active[key]; ok {
		status.Status = "running"
		status.ActiveRun = &running
	}
	status.LastError = s.lastErr[key]
	s.mu.Unlock()

	return status, nil
}

// Files returns the ingestible keys under prefix in ingestion order
func (s *Service) Files(ctx context.Context, prefix string) ([]string, error) {
	objs, err := s.objects.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrTransientIO, prefix, err)
	}
	s.logger.Info("Listed files", zap.String("prefix", prefix), zap.Int("count", len(objs)))
	return objectstore.Keys(objs), nil
}

// Poll starts a run for the configured prefix every PollInterval until ctx
// is cancelled. A failed run is picked up again from its checkpoint on the
// next tick.
func (s *Service) Poll(ctx context.Context) error {
	if s.config.PollInterval <= 0 {
		return nil
	}

	req := models.RunRequest{Prefix: s.config.PollPrefix, Table: s.config.PollTable}

	// Perform initial run
	s.trigger(ctx, req)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.trigger(ctx, req)
		}
	}
}

func (s *Service) trigger(ctx context.Context, req models.RunRequest) {
	_, err := s.Start(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, ErrRunActive):
		s.logger.Debug("Scheduled run skipped, previous run still active", zap.String("prefix", req.Prefix))
	default:
		// Log error but don't stop polling
		s.logger.Warn("Scheduled run not started", zap.Error(err))
	}
}

// Wait blocks until every background run has returned
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels active runs and waits for them until ctx expires. Runs stop
// between lines, leaving the journal at their last checkpoint.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
