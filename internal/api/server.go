package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-crawler/internal/crawler"
	"github.com/JakeFAU/discourse-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/discourse-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/discourse-crawler/internal/metrics"
)

// FailureSource exposes the failures recorded so far.
type FailureSource interface {
	Snapshot() map[string]crawler.FailureReason
}

// FrontierSource exposes the fetch engine's queue state.
type FrontierSource interface {
	Stats() dispatcher.Stats
}

// RobotsSource lists forums crawled without a readable robots.txt.
type RobotsSource interface {
	RobotsFallbacks() []collyfetcher.RobotsFallback
}

// Option customizes a Server.
type Option func(*Server)

// WithRobots reports robots.txt fallbacks on /v1/frontier.
func WithRobots(src RobotsSource) Option {
	return func(s *Server) { s.robots = src }
}

// Server wires HTTP handlers to the running crawl.
type Server struct {
	router   chi.Router
	failures FailureSource
	frontier FrontierSource
	robots   RobotsSource
	runID    string
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runID string,
	failures FailureSource,
	frontier FrontierSource,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		failures: failures,
		frontier: frontier,
		runID:    runID,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/failures", s.getFailures)
		r.Get("/frontier", s.getFrontier)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on ln until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("Status server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve status api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status api: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.frontier == nil {
		writeJSON(s.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready", "run_id": s.runID})
}

type failureEntry struct {
	URL    string                `json:"url"`
	Reason crawler.FailureReason `json:"reason"`
}

type failuresResponse struct {
	RunID    string                        `json:"run_id"`
	Total    int                           `json:"total"`
	ByReason map[crawler.FailureReason]int `json:"by_reason"`
	Failures []failureEntry                `json:"failures"`
}

func (s *Server) getFailures(w http.ResponseWriter, r *http.Request) {
	if s.failures == nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "failure ledger not loaded")
		return
	}
	reason := crawler.FailureReason(r.URL.Query().Get("reason"))
	if reason != "" && !reason.Valid() {
		writeError(s.logger, w, http.StatusBadRequest, fmt.Sprintf("unknown reason %q", reason))
		return
	}

	resp := failuresResponse{
		RunID:    s.runID,
		ByReason: map[crawler.FailureReason]int{},
		Failures: []failureEntry{},
	}
	for url, got := range s.failures.Snapshot() {
		resp.Total++
		resp.ByReason[got]++
		if reason == "" || got == reason {
			resp.Failures = append(resp.Failures, failureEntry{URL: url, Reason: got})
		}
	}
	sort.Slice(resp.Failures, func(i, j int) bool {
		return resp.Failures[i].URL < resp.Failures[j].URL
	})
	writeJSON(s.logger, w, http.StatusOK, resp)
}

func (s *Server) getFrontier(w http.ResponseWriter, _ *http.Request) {
	if s.frontier == nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "crawl not running")
		return
	}
	robots := []collyfetcher.RobotsFallback{}
	if s.robots != nil {
		robots = s.robots.RobotsFallbacks()
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"run_id":           s.runID,
		"frontier":         s.frontier.Stats(),
		"robots_fallbacks": robots,
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
			logger.Debug("Request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
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

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
