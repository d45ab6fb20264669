package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/varifit/varifit/internal/opt"
	"github.com/varifit/varifit/internal/report"
	"github.com/varifit/varifit/internal/store"
)

// Server exposes job management over HTTP.
type Server struct {
	jobManager      *JobManager
	addr            string
	baseDir         string
	checkpointStore store.Store
	index           *store.RunIndex
	server          *http.Server
}

// NewServer creates a new HTTP server. baseDir is the data directory used
// for trace files; checkpointStore and index may be nil to disable
// persistence.
func NewServer(addr, baseDir string, checkpointStore store.Store, index *store.RunIndex) *Server {
	return &Server{
		jobManager:      NewJobManager(),
		addr:            addr,
		baseDir:         baseDir,
		checkpointStore: checkpointStore,
		index:           index,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /api/v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleGetJobStatus)
	mux.HandleFunc("GET /api/v1/jobs/{id}/status", s.handleGetJobStatus)
	mux.HandleFunc("GET /api/v1/jobs/{id}/trace", s.handleGetTrace)
	mux.HandleFunc("GET /api/v1/jobs/{id}/trace.png", s.handleGetTracePlot)
	mux.HandleFunc("GET /api/v1/jobs/{id}/events", s.handleJobStream)
	mux.HandleFunc("POST /api/v1/jobs/{id}/cancel", s.handleCancelJob)

	handler := s.loggingMiddleware(s.corsMiddleware(mux))

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: handler,
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var config JobConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if config.Objective == "" {
		http.Error(w, "objective is required", http.StatusBadRequest)
		return
	}
	if config.Dim <= 0 {
		config.Dim = 2
	}
	if config.Iters <= 0 {
		config.Iters = 100
	}
	if config.StepSize <= 0 {
		config.StepSize = 0.01
	}

	job := s.jobManager.CreateJob(config)

	jobCtx, cancel := context.WithCancel(context.Background())
	s.jobManager.RegisterCancel(job.ID, cancel)
	go func() {
		defer cancel()
		runJob(jobCtx, s.jobManager, s.checkpointStore, s.index, s.baseDir, job.ID)
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobManager.ListJobs()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

// handleGetJobStatus handles GET /api/v1/jobs/{id}/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request) {
	job, exists := s.jobManager.GetJob(r.PathValue("id"))
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	eps := float64(0)
	if elapsed.Seconds() > 0 && job.Iterations > 0 {
		eps = float64(job.Iterations) / elapsed.Seconds()
	}

	response := map[string]interface{}{
		"id":          job.ID,
		"state":       job.State,
		"config":      job.Config,
		"currentCost": job.CurrentCost,
		"bestCost":    job.BestCost,
		"initialCost": job.InitialCost,
		"iterations":  job.Iterations,
		"elapsed":     elapsed.Seconds(),
		"evalsPerSec": eps,
		"startTime":   job.StartTime,
		"endTime":     job.EndTime,
		"error":       job.Error,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleGetTrace handles GET /api/v1/jobs/{id}/trace
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	entries, err := s.readTrace(jobID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read trace: %v", err), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// handleGetTracePlot handles GET /api/v1/jobs/{id}/trace.png
func (s *Server) handleGetTracePlot(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	entries, err := s.readTrace(jobID)
	if err != nil || len(entries) == 0 {
		http.Error(w, "No trace yet", http.StatusNotFound)
		return
	}

	title := fmt.Sprintf("%s / %s", job.Config.Objective, job.Config.Rule)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")

	if err := report.RenderTrace(w, opt.Trace(store.Costs(entries)), title); err != nil {
		slog.Error("Failed to render trace plot", "job_id", jobID, "error", err)
	}
}

// handleCancelJob handles POST /api/v1/jobs/{id}/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	if !s.jobManager.Cancel(jobID) {
		http.Error(w, "Job is not running", http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintln(w, "cancellation requested")
}

func (s *Server) readTrace(jobID string) ([]store.TraceEntry, error) {
	if s.baseDir == "" {
		return nil, fmt.Errorf("trace storage disabled")
	}

	reader, err := store.NewTraceReader(s.baseDir, jobID)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return reader.ReadAll()
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
