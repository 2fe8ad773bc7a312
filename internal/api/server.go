// Package api exposes the HTTP interface for the collector service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/asolovev/wb-collector/internal/cache"
	"github.com/asolovev/wb-collector/internal/collector"
	"github.com/asolovev/wb-collector/internal/config"
	"github.com/asolovev/wb-collector/internal/dispatcher"
	"github.com/asolovev/wb-collector/internal/metrics"
)

// Submitter queues one message as a durable task.
type Submitter interface {
	Submit(ctx context.Context, user collector.User, msg collector.Message) (collector.Task, error)
}

// QueueStats reports the current queue depth.
type QueueStats interface {
	Len() int
}

// PoolStats reports how many rotation entries are currently usable.
type PoolStats interface {
	ActiveCount() int
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	tasks        collector.TaskStore
	submitter    Submitter
	queue        QueueStats
	cache        *cache.Cache
	proxies      PoolStats
	identities   PoolStats
	checkProxies func(ctx context.Context)
	logger       *zap.Logger
	cfg          config.Config
}

// Deps collects the server's collaborators. Realtime is mounted at /ws
// when non-nil.
type Deps struct {
	Tasks      collector.TaskStore
	Submitter  Submitter
	Queue      QueueStats
	Cache      *cache.Cache
	Proxies    PoolStats
	Identities PoolStats
	Realtime   http.Handler
	// CheckProxies runs a canary probe over the proxy pool. Optional.
	CheckProxies func(ctx context.Context)
	Logger       *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config) *Server {
	s := &Server{
		tasks:        deps.Tasks,
		submitter:    deps.Submitter,
		queue:        deps.Queue,
		cache:        deps.Cache,
		proxies:      deps.Proxies,
		identities:   deps.Identities,
		checkProxies: deps.CheckProxies,
		logger:       deps.Logger.Named("api"),
		cfg:          cfg,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	if deps.Realtime != nil {
		r.Handle("/ws", deps.Realtime)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(60 * time.Second))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.submitTask)
			r.Get("/{task_id}", s.getTask)
		})
		r.Get("/stats", s.getStats)
		r.Post("/proxies/check", s.checkProxyPool)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The stores back every request path; a failing count means the
	// database is unreachable.
	if _, err := s.tasks.CountByStatus(r.Context()); err != nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitTaskRequest struct {
	collector.Message
	UserID string `json:"userId,omitempty"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	user := collector.User{ID: req.UserID, Role: "api"}
	if user.ID == "" {
		user.ID = "api"
	}

	task, err := s.submitter.Submit(r.Context(), user, req.Message)
	if err != nil {
		status, msg := submitErrorStatus(err)
		writeError(s.logger, w, status, msg)
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{
		"task_id": task.ID,
		"status":  string(task.Status),
	})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.tasks.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, collector.ErrTaskNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "task not found")
			return
		}
		writeError(s.logger, w, http.StatusInternalServerError, "failed to fetch task")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.tasks.CountByStatus(r.Context())
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "failed to count tasks")
		return
	}

	stats := map[string]any{
		"queue_depth": s.queue.Len(),
		"tasks":       counts,
	}
	if s.cache != nil {
		stats["cache"] = s.cache.Snapshot()
	}
	if s.proxies != nil {
		stats["active_proxies"] = s.proxies.ActiveCount()
	}
	if s.identities != nil {
		stats["active_identities"] = s.identities.ActiveCount()
	}
	writeJSON(s.logger, w, http.StatusOK, stats)
}

func (s *Server) checkProxyPool(w http.ResponseWriter, r *http.Request) {
	if s.checkProxies == nil {
		writeError(s.logger, w, http.StatusNotImplemented, "proxy check not configured")
		return
	}
	// The probe outlives the request; it touches every active proxy.
	go s.checkProxies(context.WithoutCancel(r.Context()))
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{"status": "check started"})
}

func submitErrorStatus(err error) (int, string) {
	var ve *collector.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Reason
	case errors.Is(err, collector.ErrInvalidMessage),
		errors.Is(err, collector.ErrUnsupportedSource),
		errors.Is(err, collector.ErrUnsupportedType):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, dispatcher.ErrQueueFull):
		return http.StatusTooManyRequests, "queue_full"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, err.Error()
	default:
		return http.StatusInternalServerError, "failed to submit task"
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is required for the websocket upgrade behind the middleware chain.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacker not supported")
	}
	return h.Hijack()
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeJSON(zap.NewNop(), w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
