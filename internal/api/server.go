// Package api exposes the HTTP interface for the risk pipeline service:
// read-only archive projections, SSE push channels, and the manual daily
// trigger.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riskradar/riskradar/internal/alert"
	"github.com/riskradar/riskradar/internal/archive"
	"github.com/riskradar/riskradar/internal/feed"
	"github.com/riskradar/riskradar/internal/metrics"
	"github.com/riskradar/riskradar/internal/stream"
)

const requestTimeout = 60 * time.Second

// DailyRunner triggers a marker-guarded daily pass.
type DailyRunner interface {
	RunDaily(ctx context.Context, date string) error
}

// Server wires HTTP handlers to the archive store and push hubs.
type Server struct {
	router     chi.Router
	store      archive.Store
	alerts     *alert.Service
	hotlistHub *stream.Hub
	riskHub    *stream.Hub
	runner     DailyRunner
	clock      feed.Clock
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store archive.Store,
	alerts *alert.Service,
	hotlistHub *stream.Hub,
	riskHub *stream.Hub,
	runner DailyRunner,
	clock feed.Clock,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		store:      store,
		alerts:     alerts,
		hotlistHub: hotlistHub,
		riskHub:    riskHub,
		runner:     runner,
		clock:      clock,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))
			r.Get("/daily30", s.daily30)
			r.Get("/hotlist/current", s.hotlistCurrent)
			r.Get("/risk/latest", s.riskLatest)
			r.Get("/events/{date}/{name}", s.eventDetail)
			r.Get("/central", s.centralData)
			r.Route("/health", func(r chi.Router) {
				r.Get("/dates", s.healthDates)
				r.Get("/timeline", s.healthTimeline)
				r.Get("/events/{slug}", s.healthEvent)
			})
			r.Post("/admin/run_daily", s.runDaily)
		})
		// SSE connections outlive the request timeout.
		r.Get("/stream/hotlist", s.streamSnapshots(s.hotlistHub, "hotlist"))
		r.Get("/stream/risk", s.streamSnapshots(s.riskHub, "risk"))
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if _, err := s.store.Dates(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "archive store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
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
					writeError(w, http.StatusInternalServerError, "internal server error")
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

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
