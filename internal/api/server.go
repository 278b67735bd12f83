// Package api exposes the HTTP control surface for the crawl engine:
// status snapshot, start, cooperative stop, and the delay setter.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealhound/catalog-crawler/internal/catalog"
	"github.com/dealhound/catalog-crawler/internal/engine"
	"github.com/dealhound/catalog-crawler/internal/metrics"
)

// Controller is the engine contract the server drives.
type Controller interface {
	Status() catalog.Status
	Start(ctx context.Context, opts engine.RunOptions) error
	RequestStop()
}

// DelaySetter tunes the transport pacing delay at runtime.
type DelaySetter interface {
	SetDelay(d time.Duration) error
	Delay() time.Duration
}

// Config controls server behavior.
type Config struct {
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the crawl engine.
type Server struct {
	router     chi.Router
	controller Controller
	delays     DelaySetter
	runCtx     context.Context
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. runCtx is the
// long-lived context crawl runs are launched under; request contexts end
// with the request and must not bound a background run.
func NewServer(
	runCtx context.Context,
	controller Controller,
	delays DelaySetter,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		controller: controller,
		delays:     delays,
		runCtx:     runCtx,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/crawler", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Post("/start", s.startCrawl)
		r.Post("/stop", s.stopCrawl)
		r.Post("/delay", s.setDelay)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.controller.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"delay":  s.delays.Delay().Seconds(),
	})
}

type startRequest struct {
	MaxDomains int   `json:"max_domains"`
	Resume     *bool `json:"resume"`
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.MaxDomains < 0 {
		writeError(w, http.StatusBadRequest, "max_domains must not be negative")
		return
	}
	resume := true
	if req.Resume != nil {
		resume = *req.Resume
	}

	opts := engine.RunOptions{MaxDomains: req.MaxDomains, Resume: resume}
	if err := s.controller.Start(s.runCtx, opts); err != nil {
		if errors.Is(err, engine.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":     "crawl started",
		"max_domains": req.MaxDomains,
		"resume":      resume,
	})
}

func (s *Server) stopCrawl(w http.ResponseWriter, _ *http.Request) {
	s.controller.RequestStop()
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "stop signal sent; the crawler halts after the current item",
	})
}

type delayRequest struct {
	Delay float64 `json:"delay"`
}

func (s *Server) setDelay(w http.ResponseWriter, r *http.Request) {
	var req delayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	d := time.Duration(req.Delay * float64(time.Second))
	if err := s.delays.SetDelay(d); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"delay":   req.Delay,
		"message": fmt.Sprintf("delay updated to %.2fs", req.Delay),
	})
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
			elapsed := time.Since(start)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", elapsed.Milliseconds()),
			)
			metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.status, elapsed)
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
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
