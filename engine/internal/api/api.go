// Package api provides the engine's HTTP surface.
//
// # Endpoints
//
// Ingest API:
//   - POST /api/v1/installations/{id}/observations - Record an observation
//   - POST /api/v1/installations/{id}/addons - Record an addon list
//   - POST /api/v1/installations/{id}/logs - Record a log update
//   - POST /api/v1/installations/{id}/analyze - Evaluate alarms now
//
// Health:
//   - GET /api/v1/health - Engine health
//   - GET /metrics - Prometheus metrics
//
// Request bodies are JSON, optionally gzip-compressed (Content-Encoding: gzip).
package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pilot-net/hamon/engine/internal/analyzer"
	"github.com/pilot-net/hamon/engine/internal/metrics"
	"github.com/pilot-net/hamon/pkg/types"
)

// Collector records inbound telemetry.
type Collector interface {
	CollectObservation(ctx context.Context, installationID string, obs *types.Observation) (int, error)
	CollectAddons(ctx context.Context, installationID string, list *types.AddonList) (int, error)
	CollectLogs(ctx context.Context, installationID string, update *types.LogUpdate) (int, error)
}

// Analyzer evaluates an installation on demand.
type Analyzer interface {
	AnalyzeInstallation(ctx context.Context, installationID string) (analyzer.Summary, error)
}

// HealthReporter reports engine health.
type HealthReporter interface {
	Health(ctx context.Context) *metrics.Health
}

// DefaultMaxBodyBytes caps a decompressed request body.
const DefaultMaxBodyBytes = 10 << 20

// Server is the HTTP API server.
type Server struct {
	collector    Collector
	analyzer     Analyzer
	health       HealthReporter
	logger       *slog.Logger
	mux          *http.ServeMux
	maxBodyBytes int64
}

// NewServer creates an API server. analyzer and health may be nil.
func NewServer(collector Collector, analyzer Analyzer, health HealthReporter, maxBodyBytes int64, logger *slog.Logger) *Server {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{
		collector:    collector,
		analyzer:     analyzer,
		health:       health,
		logger:       logger.With("component", "api"),
		mux:          http.NewServeMux(),
		maxBodyBytes: maxBodyBytes,
	}
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request",
		"method", r.Method,
		"path", r.URL.Path,
		"duration", time.Since(start))
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.mux.HandleFunc("POST /api/v1/installations/{id}/observations", s.handleObservation)
	s.mux.HandleFunc("POST /api/v1/installations/{id}/addons", s.handleAddons)
	s.mux.HandleFunc("POST /api/v1/installations/{id}/logs", s.handleLogs)
	s.mux.HandleFunc("POST /api/v1/installations/{id}/analyze", s.handleAnalyze)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	h := s.health.Health(r.Context())
	status := http.StatusOK
	if h.Database != "healthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, h)
}

func (s *Server) handleObservation(w http.ResponseWriter, r *http.Request) {
	var obs types.Observation
	if !s.decode(w, r, &obs) {
		return
	}
	s.collected(w, r, "observation", func(ctx context.Context, id string) (int, error) {
		return s.collector.CollectObservation(ctx, id, &obs)
	})
}

func (s *Server) handleAddons(w http.ResponseWriter, r *http.Request) {
	var list types.AddonList
	if !s.decode(w, r, &list) {
		return
	}
	s.collected(w, r, "addons", func(ctx context.Context, id string) (int, error) {
		return s.collector.CollectAddons(ctx, id, &list)
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	var update types.LogUpdate
	if !s.decode(w, r, &update) {
		return
	}
	s.collected(w, r, "logs", func(ctx context.Context, id string) (int, error) {
		return s.collector.CollectLogs(ctx, id, &update)
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		s.writeError(w, http.StatusServiceUnavailable, "analyzer not configured")
		return
	}
	id := r.PathValue("id")
	sum, err := s.analyzer.AnalyzeInstallation(r.Context(), id)
	if err != nil {
		s.logger.Error("analysis failed", "installation_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{
		"evaluated":   sum.Evaluated,
		"skipped":     sum.Skipped,
		"transitions": sum.Transitions,
		"triggers":    sum.Triggers,
		"failed":      sum.Failed,
	})
}

func (s *Server) collected(w http.ResponseWriter, r *http.Request, kind string, collect func(context.Context, string) (int, error)) {
	id := r.PathValue("id")
	n, err := collect(r.Context(), id)
	if err != nil {
		s.logger.Error("telemetry ingestion failed", "kind", kind, "installation_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]int{"records": n})
}

// decode reads a JSON body, transparently gunzipping it. It writes the
// error response itself and reports whether decoding succeeded.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	var reader io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid gzip")
			return false
		}
		defer gz.Close()
		reader = gz
	}
	reader = http.MaxBytesReader(w, io.NopCloser(reader), s.maxBodyBytes)

	if err := json.NewDecoder(reader).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
