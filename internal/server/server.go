package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cyderes/event-archive-ingestion/internal/config"
	"github.com/cyderes/event-archive-ingestion/internal/ingestion"
	"github.com/cyderes/event-archive-ingestion/internal/models"
)

// Ingestion is the part of the ingestion service exposed over HTTP
type Ingestion interface {
	Start(ctx context.Context, req models.RunRequest) (models.RunHandle, error)
	Status(ctx context.Context, prefix, table string) (models.IngestionStatus, error)
	Files(ctx context.Context, prefix string) ([]string, error)
}

// Server handles HTTP requests
type Server struct {
	config    config.ServerConfig
	ingestion Ingestion
	logger    *zap.Logger
	router    chi.Router
	server    *http.Server
}

// NewServer creates a new HTTP server. metrics may be nil.
func NewServer(cfg config.ServerConfig, svc Ingestion, metrics http.Handler, logger *zap.Logger) *Server {
	s := &Server{
		config:    cfg,
		ingestion: svc,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/start", s.handleStart)
	r.Get("/status", s.handleStatus)
	r.Get("/files", s.handleFiles)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	s.router = r

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Handler exposes the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStart schedules a background run and answers immediately
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := models.RunRequest{
		Prefix:    q.Get("prefix"),
		Table:     q.Get("table_name"),
		StartFile: q.Get("start_file"),
		StartDate: q.Get("start_date"),
	}

	if req.Prefix == "" || req.Table == "" {
		writeError(w, http.StatusBadRequest, "prefix and table_name are required")
		return
	}

	s.logger.Info("API /start called",
		zap.String("prefix", req.Prefix),
		zap.String("table", req.Table),
		zap.String("start_file", req.StartFile),
		zap.String("start_date", req.StartDate),
	)

	handle, err := s.ingestion.Start(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, ingestion.ErrConfiguration):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ingestion.ErrRunActive):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, ingestion.ErrServiceClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		s.logger.Error("Failed to start run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":    "Processing started in background",
		"run_id":     handle.ID,
		"started_at": handle.StartedAt,
	})
}

// handleStatus handles GET requests for ingestion status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		s.logger.Warn("No prefix provided for /status; using empty prefix")
	}
	table := r.URL.Query().Get("table_name")
	if table == "" {
		table = "web"
	}

	status, err := s.ingestion.Status(r.Context(), prefix, table)
	if err != nil {
		s.logger.Error("Failed to retrieve status", zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve status: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// handleFiles lists the ingestible files under a prefix in ingestion order
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		writeError(w, http.StatusBadRequest, "prefix is required")
		return
	}

	files, err := s.ingestion.Files(r.Context(), prefix)
	if err != nil {
		s.logger.Error("Failed to list files", zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list files: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, files)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
