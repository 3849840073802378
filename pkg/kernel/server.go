package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/domain"
	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/ports"
	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/services"
)

// Server exposes the analysis kernel API: document submission, job lookups
// and the per-job SSE event stream the client tracker consumes.
type Server struct {
	logger   *slog.Logger
	eventBus *services.EventBus
	pipeline *services.AnalysisPipeline
	repo     ports.JobRepository
}

func NewServer(
	logger *slog.Logger,
	eventBus *services.EventBus,
	pipeline *services.AnalysisPipeline,
	repo ports.JobRepository,
) *Server {
	return &Server{
		logger:   logger,
		eventBus: eventBus,
		pipeline: pipeline,
		repo:     repo,
	}
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/v1/documents":
			s.handleSubmitDocument(w, r)
		case r.Method == "GET" && r.URL.Path == "/v1/jobs":
			s.handleListJobs(w, r)
		case r.Method == "GET" && isJobEventsPath(r.URL.Path):
			s.handleJobSSE(w, r)
		case r.Method == "GET" && strings.HasPrefix(r.URL.Path, "/v1/jobs/"):
			s.handleGetJob(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// isJobEventsPath checks if an URL path matches /v1/jobs/{id}/events
func isJobEventsPath(path string) bool {
	const prefix = "/v1/jobs/"
	const suffix = "/events"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return false
	}
	middle := path[len(prefix) : len(path)-len(suffix)]
	return len(middle) > 0 && !strings.Contains(middle, "/")
}

type submitDocumentRequest struct {
	Filename string `json:"filename"`
}

type submitDocumentResponse struct {
	JobID domain.JobID `json:"job_id"`
}

// handleSubmitDocument registers an uploaded document and schedules its
// analysis run. The response carries the job ID the client tracks against.
func (s *Server) handleSubmitDocument(w http.ResponseWriter, r *http.Request) {
	var req submitDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Filename) == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}

	now := time.Now().UTC()
	rec := domain.JobRecord{
		ID:          domain.JobID(uuid.NewString()),
		Filename:    req.Filename,
		Status:      domain.JobStatusQueued,
		SubmittedAt: now,
		UpdatedAt:   now,
	}

	if err := s.repo.SaveJob(r.Context(), rec); err != nil {
		s.logger.Error("failed to save job", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save job")
		return
	}
	if err := s.pipeline.Submit(r.Context(), rec); err != nil {
		s.logger.Error("failed to queue job", "job_id", rec.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "analysis queue full")
		return
	}

	s.logger.Info("document submitted", "job_id", rec.ID, "filename", rec.Filename)
	writeJSON(w, http.StatusCreated, submitDocumentResponse{JobID: rec.ID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	rec, err := s.repo.GetJob(r.Context(), domain.JobID(id))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("failed to load job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	records, err := s.repo.ListJobs(r.Context())
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if records == nil {
		records = []domain.JobRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Run serves the API until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http shutdown failed", "error", err)
		}
	}()

	s.logger.Info("kernel listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
