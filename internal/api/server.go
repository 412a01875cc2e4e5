package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/storewatch/internal/breaker"
	"github.com/JakeFAU/storewatch/internal/config"
	"github.com/JakeFAU/storewatch/internal/metrics"
	"github.com/JakeFAU/storewatch/internal/monitor"
	"github.com/JakeFAU/storewatch/internal/review"
)

// ReviewQueue lists pending review items and applies reviewer verdicts.
type ReviewQueue interface {
	Pending(ctx context.Context) ([]review.Item, error)
	Resolve(ctx context.Context, targetID string, online bool) error
}

// CycleSource exposes the results of the latest cycle.
type CycleSource interface {
	LastSummary() (monitor.CycleSummary, bool)
	LastStatus(targetID string) (monitor.Status, bool)
	LastReview() []review.Item
}

// CircuitSource reports per-target breaker state.
type CircuitSource interface {
	State(targetID string) breaker.State
}

// Deps are the collaborators the HTTP handlers read from.
type Deps struct {
	Review   ReviewQueue
	Cycles   CycleSource
	Circuits CircuitSource
	Targets  []monitor.Target
	Ready    func(ctx context.Context) error
}

// Server wires HTTP handlers to the engine.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger.Named("api")}
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	rh := newReviewHandler(deps.Review, s.logger)
	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/targets", s.listTargets)
		r.Post("/targets/{target_id}/override", rh.Override)
		r.Get("/review", rh.List)
		r.Get("/cycles/last", s.lastCycle)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type targetDTO struct {
	ID          string           `json:"id"`
	DisplayName string           `json:"display_name"`
	URL         string           `json:"url"`
	Platform    monitor.Platform `json:"platform"`
	LastStatus  monitor.Status   `json:"last_status,omitempty"`
	Circuit     breaker.State    `json:"circuit,omitempty"`
}

func (s *Server) listTargets(w http.ResponseWriter, _ *http.Request) {
	out := make([]targetDTO, 0, len(s.deps.Targets))
	for _, t := range s.deps.Targets {
		dto := targetDTO{ID: t.ID, DisplayName: t.DisplayName, URL: t.URL, Platform: t.Platform}
		if s.deps.Cycles != nil {
			if st, ok := s.deps.Cycles.LastStatus(t.ID); ok {
				dto.LastStatus = st
			}
		}
		if s.deps.Circuits != nil {
			dto.Circuit = s.deps.Circuits.State(t.ID)
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": out})
}

type cycleDTO struct {
	CycleID    string         `json:"cycle_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	DurationMs int64          `json:"duration_ms"`
	Total      int            `json:"total"`
	Checked    int            `json:"checked"`
	Skipped    int            `json:"skipped"`
	Abandoned  int            `json:"abandoned"`
	Online     int            `json:"online"`
	Offline    int            `json:"offline"`
	Counts     map[string]int `json:"counts"`
}

func (s *Server) lastCycle(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Cycles == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}
	summary, ok := s.deps.Cycles.LastSummary()
	if !ok {
		writeError(w, http.StatusNotFound, "no cycle has finished yet")
		return
	}
	counts := make(map[string]int, len(summary.Counts))
	for st, n := range summary.Counts {
		counts[string(st)] = n
	}
	items := s.deps.Cycles.LastReview()
	if items == nil {
		items = []review.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"review": items, "cycle": cycleDTO{
		CycleID:    summary.CycleID,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
		DurationMs: summary.Duration().Milliseconds(),
		Total:      summary.Total,
		Checked:    summary.Checked,
		Skipped:    summary.Skipped,
		Abandoned:  summary.Abandoned,
		Online:     summary.Online(),
		Offline:    summary.Offline(),
		Counts:     counts,
	}})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
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
				zap.String("request_id", requestID(r.Context())),
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
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

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
