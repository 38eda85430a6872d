package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cwbudde/clkernel/internal/cl"
	"github.com/cwbudde/clkernel/internal/clc"
	"github.com/cwbudde/clkernel/internal/store"
)

// Server represents the HTTP server
type Server struct {
	cfg        Config
	rt         *cl.Runtime
	clctx      cl.Context
	devices    []cl.Device
	jobManager *JobManager
	store      *store.FSStore
	server     *http.Server

	baseCtx context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// NewServer creates a server with its own runtime and one context holding
// every configured device. A nil compiler selects the built-in OpenCL C
// front end.
func NewServer(cfg Config, compiler cl.Compiler) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	if compiler == nil {
		compiler = &clc.Compiler{StrictArgInfo: cfg.StrictArgInfo, Filename: "<job>"}
	}

	rt := cl.New(compiler)
	clctx, devices, err := rt.CreateContext(cfg.Devices...)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	s := &Server{
		cfg:        cfg,
		rt:         rt,
		clctx:      clctx,
		devices:    devices,
		jobManager: NewJobManager(),
	}
	if cfg.DataDir != "" {
		if s.store, err = store.NewFSStore(cfg.DataDir); err != nil {
			rt.ReleaseContext(clctx)
			return nil, err
		}
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Handler returns the routed and wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/reports", s.handleReports)
	mux.HandleFunc("/api/v1/reports/", s.handleReportByID)
	mux.HandleFunc("/api/v1/devices", s.handleDevices)
	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Starting HTTP server", "addr", s.cfg.Addr, "devices", len(s.devices), "persist", s.store != nil)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, cancels running jobs, waits for
// workers and releases the runtime context.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}

	if rerr := s.rt.ReleaseContext(s.clctx); rerr != nil {
		err = errors.Join(err, rerr)
	}
	return err
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}
	jobID := parts[0]

	switch {
	case len(parts) == 1 || parts[1] == "status":
		s.handleGetJobStatus(w, r, jobID)
	case parts[1] == "report":
		s.handleGetJobReport(w, r, jobID)
	case parts[1] == "events":
		s.handleGetJobEvents(w, r, jobID)
	case parts[1] == "stream":
		s.handleJobStream(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	body := io.Reader(r.Body)
	if s.cfg.MaxSourceBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.cfg.MaxSourceBytes+4096)
	}
	var config JobConfig
	if err := json.NewDecoder(body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(config.Source) == "" {
		http.Error(w, "source is required", http.StatusBadRequest)
		return
	}
	if s.cfg.MaxSourceBytes > 0 && int64(len(config.Source)) > s.cfg.MaxSourceBytes {
		http.Error(w, fmt.Sprintf("source exceeds %d bytes", s.cfg.MaxSourceBytes), http.StatusRequestEntityTooLarge)
		return
	}
	if _, err := s.selectDevices(config.Devices); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if config.Name == "" {
		config.Name = "source.cl"
	}

	job := s.jobManager.CreateJob(config)
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		if err := s.runJob(s.baseCtx, job.ID); err != nil {
			slog.Debug("Job ended with error", "job_id", job.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusCreated, job)
}

// selectDevices filters the server devices by name substrings.
func (s *Server) selectDevices(filters []string) ([]cl.Device, error) {
	if len(filters) == 0 {
		return s.devices, nil
	}
	var out []cl.Device
	for i, dev := range s.devices {
		name := strings.ToLower(s.cfg.Devices[i].Name)
		for _, f := range filters {
			if strings.Contains(name, strings.ToLower(f)) {
				out = append(out, dev)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no device matches %s", strings.Join(filters, ", "))
	}
	return out, nil
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
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

	response := map[string]interface{}{
		"id":        job.ID,
		"state":     job.State,
		"name":      job.Config.Name,
		"options":   job.Config.Options,
		"kernels":   job.Kernels,
		"reportId":  job.ReportID,
		"elapsed":   elapsed.Seconds(),
		"startTime": job.StartTime,
		"endTime":   job.EndTime,
		"error":     job.Error,
		"buildLog":  job.BuildLog,
	}
	writeJSON(w, http.StatusOK, response)
}

// handleGetJobReport handles GET /api/v1/jobs/:id/report
func (s *Server) handleGetJobReport(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if job.Report == nil {
		http.Error(w, "No report yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Report)
}

// handleGetJobEvents handles GET /api/v1/jobs/:id/events
func (s *Server) handleGetJobEvents(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if s.store == nil {
		http.Error(w, "Event log requires a data directory", http.StatusNotFound)
		return
	}
	events, err := store.ReadEvents(s.store.BaseDir(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		events = []store.Event{}
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleReports handles GET /api/v1/reports
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "Reports require a data directory", http.StatusNotFound)
		return
	}
	infos, err := s.store.ListReports()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleReportByID handles GET and DELETE /api/v1/reports/:id
func (s *Server) handleReportByID(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "Reports require a data directory", http.StatusNotFound)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/reports/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Report ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		report, err := s.store.LoadReport(id)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Report not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, report)
	case http.MethodDelete:
		err := s.store.DeleteReport(id)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Report not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDevices handles GET /api/v1/devices
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Devices)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
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
