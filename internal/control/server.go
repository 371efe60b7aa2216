// Package control is the read-only HTTP surface operators and the
// cluster controller poll for this log system's health and persisted
// configuration: /healthz, /status, /corestate, /metrics. It generalizes
// the teacher's internal/http/server.go router to a read-only API with no
// mutating routes, since a log system exposes no public write surface of
// its own (writes arrive over internal/logsystem/transport from proxies).
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"logsystem/internal/logsystem"
	"logsystem/pkg/metrics"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = 5 * time.Second
)

// System is the subset of *logsystem.LogSystem the control surface reads.
type System interface {
	GetLogSystemConfig() logsystem.LogSystemConfig
	ToCoreState() logsystem.DBCoreState
	GetEnd() logsystem.Version
	HasRemoteLogs() bool
}

// Server serves the control routes for one LogSystem.
type Server struct {
	system     System
	registry   *metrics.Registry
	addr       string
	httpServer *http.Server
}

func NewServer(addr string, system System, registry *metrics.Registry) *Server {
	return &Server{system: system, registry: registry, addr: addr}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Get("/corestate", s.handleCoreState)
	r.Get("/metrics", s.handleMetrics)
	return r
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router(),
		ReadHeaderTimeout: time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("control: server error", "error", err)
		}
	}()
	slog.Info("control: server started", "addr", s.addr)
	return nil
}

func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("control: shutdown: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("control: failed to encode response", "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"end":             s.system.GetEnd(),
		"has_remote_logs": s.system.HasRemoteLogs(),
		"config":          s.system.GetLogSystemConfig(),
	})
}

func (s *Server) handleCoreState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.system.ToCoreState())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.registry == nil {
		if _, err := w.Write([]byte("# no metrics registry configured\n")); err != nil {
			slog.Warn("control: failed to write metrics response", "error", err)
		}
		return
	}
	if _, err := w.Write([]byte(s.registry.Render())); err != nil {
		slog.Warn("control: failed to write metrics response", "error", err)
	}
}
