package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"logsystem/internal/logsystem"
)

const defaultShutdownTimeout = 5 * time.Second

// LogServerHandler is the server-side RPC surface a running log server or
// log router implements; it is the mirror image of LogServerClient.
type LogServerHandler interface {
	Lock(ctx context.Context) (logsystem.TLogLockResult, error)
	Commit(ctx context.Context, req logsystem.TLogCommitRequest) (logsystem.TLogCommitReply, error)
	Pop(ctx context.Context, req logsystem.TLogPopRequest) error
	Peek(ctx context.Context, req logsystem.PeekRequest) (logsystem.PeekReply, error)
	ConfirmRunning(ctx context.Context, req logsystem.TLogConfirmRunningRequest) error
	RecoveryFinished(ctx context.Context) error
}

// WorkerHandler is the server-side surface a recruitable worker process
// implements, answering the requests newEpoch sends before the worker is
// itself a running log server.
type WorkerHandler interface {
	InitializeTLog(ctx context.Context, req logsystem.InitializeTLogRequest) (logsystem.InitializeTLogReply, error)
	InitializeLogRouter(ctx context.Context, req logsystem.InitializeLogRouterRequest) (logsystem.InitializeLogRouterReply, error)
}

// Server exposes a LogServerHandler and an optional WorkerHandler over
// HTTP. Either handler may be nil: a pure worker process that has not yet
// been initialized as a tlog need not implement LogServerHandler, and a
// running tlog need not keep answering worker-recruitment requests.
type Server struct {
	logHandler    LogServerHandler
	workerHandler WorkerHandler
	addr          string
	httpServer    *http.Server
}

// NewServer builds a Server listening on addr (":PORT" form).
func NewServer(addr string, logHandler LogServerHandler, workerHandler WorkerHandler) *Server {
	return &Server{logHandler: logHandler, workerHandler: workerHandler, addr: addr}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	if s.logHandler != nil {
		r.Post("/tlog/lock", s.handleLock)
		r.Post("/tlog/commit", s.handleCommit)
		r.Post("/tlog/pop", s.handlePop)
		r.Post("/tlog/peek", s.handlePeek)
		r.Post("/tlog/confirm-running", s.handleConfirmRunning)
		r.Post("/tlog/recovery-finished", s.handleRecoveryFinished)
	}
	if s.workerHandler != nil {
		r.Post("/worker/initialize-tlog", s.handleInitializeTLog)
		r.Post("/worker/initialize-log-router", s.handleInitializeLogRouter)
	}
	return r
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router(),
		ReadHeaderTimeout: time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("transport: server error", "error", err)
		}
	}()
	slog.Info("transport: server started", "addr", s.addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("transport: shutdown: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("transport: failed to encode response", "error", err)
	}
}

func (s *Server) statusFor(err error) int {
	switch {
	case errors.Is(err, logsystem.ErrTLogStopped):
		return http.StatusGone
	case errors.Is(err, logsystem.ErrBrokenPromise), errors.Is(err, logsystem.ErrWorkerRemoved):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody[T any](r *http.Request) (T, error) {
	var out T
	err := json.NewDecoder(r.Body).Decode(&out)
	return out, err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	out, err := s.logHandler.Lock(r.Context())
	if err != nil {
		s.writeJSON(w, s.statusFor(err), nil)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[logsystem.TLogCommitRequest](r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, nil)
		return
	}
	out, err := s.logHandler.Commit(r.Context(), req)
	if err != nil {
		s.writeJSON(w, s.statusFor(err), nil)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePop(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[logsystem.TLogPopRequest](r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, nil)
		return
	}
	if err := s.logHandler.Pop(r.Context(), req); err != nil {
		s.writeJSON(w, s.statusFor(err), nil)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handlePeek(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[logsystem.PeekRequest](r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, nil)
		return
	}
	out, err := s.logHandler.Peek(r.Context(), req)
	if err != nil {
		s.writeJSON(w, s.statusFor(err), nil)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConfirmRunning(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[logsystem.TLogConfirmRunningRequest](r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, nil)
		return
	}
	if err := s.logHandler.ConfirmRunning(r.Context(), req); err != nil {
		s.writeJSON(w, s.statusFor(err), nil)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleRecoveryFinished(w http.ResponseWriter, r *http.Request) {
	if err := s.logHandler.RecoveryFinished(r.Context()); err != nil {
		s.writeJSON(w, s.statusFor(err), nil)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleInitializeTLog(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[logsystem.InitializeTLogRequest](r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, nil)
		return
	}
	out, err := s.workerHandler.InitializeTLog(r.Context(), req)
	if err != nil {
		s.writeJSON(w, s.statusFor(err), nil)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInitializeLogRouter(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[logsystem.InitializeLogRouterRequest](r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, nil)
		return
	}
	out, err := s.workerHandler.InitializeLogRouter(r.Context(), req)
	if err != nil {
		s.writeJSON(w, s.statusFor(err), nil)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}
