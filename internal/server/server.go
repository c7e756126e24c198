// Package server implements the HTTP server that exposes the ragline
// question-answering workflow and ingestion pipeline via a REST API.
// The server is started by the `ragline serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kb4n0/ragline-go/internal/ingestion"
	"github.com/kb4n0/ragline-go/internal/lifecycle"
	"github.com/kb4n0/ragline-go/internal/logging"
	"github.com/kb4n0/ragline-go/internal/store"
)

// ControllerAsker answers questions through a lifecycle.Controller,
// compiling the workflow on first use.
type ControllerAsker struct {
	// Controller owns the published workflow engine.
	Controller *lifecycle.Controller
}

// Ask runs one question through the controller's current engine. The answer
// payload is the rendered execution trace, so callers see every node visited,
// not just the final message.
func (a ControllerAsker) Ask(ctx context.Context, question string) (string, error) {
	eng, err := a.Controller.Ensure(ctx)
	if err != nil {
		return "", fmt.Errorf("server: workflow unavailable: %w", err)
	}
	trace, err := eng.Run(ctx, question)
	if err != nil {
		return "", fmt.Errorf("server: workflow run: %w", err)
	}
	logging.FromContext(ctx).Debug("workflow final message",
		slog.String("answer", trace.FinalMessage()),
	)
	return trace.Render(), nil
}

// New constructs a Server from the lifecycle controller, ingestion pipeline,
// query log (nil disables GET /api/history), and config.
func New(ctrl *lifecycle.Controller, pipe *ingestion.Pipeline, history store.QueryLog, cfg *Config) (*Server, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("server: controller must not be nil")
	}
	if pipe == nil {
		return nil, fmt.Errorf("server: pipeline must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover a full workflow run including rewrites.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.AskTimeout == 0 {
		cfg.AskTimeout = 2 * time.Minute
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsRegistry == nil {
		reg := prometheus.NewRegistry()
		cfg.MetricsRegistry = reg
		cfg.MetricsGatherer = reg
	}

	s := &Server{
		asker:   ControllerAsker{Controller: ctrl},
		ingest:  pipe,
		refresh: ctrl,
		history: history,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: RAGLINE_API_KEY not set — API authentication is disabled")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	mux := http.NewServeMux()

	protected := func(name string, h http.Handler) http.Handler {
		return s.instrument(name, authMiddleware(cfg.APIKey, h))
	}
	mux.Handle("POST /api/ask", protected("ask", rl.middleware(http.HandlerFunc(s.handleAsk))))
	mux.Handle("POST /api/inject", protected("inject", http.HandlerFunc(s.handleInject)))
	mux.Handle("POST /api/delete", protected("delete", http.HandlerFunc(s.handleDelete)))
	mux.Handle("GET /api/metadata/counts", protected("metadata_counts", http.HandlerFunc(s.handleMetadataCounts)))
	mux.Handle("GET /api/history", protected("history", http.HandlerFunc(s.handleHistory)))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	if cfg.MetricsGatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleAsk handles POST /api/ask. It runs the question through the workflow
// and returns the final answer with the wall-clock processing time.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AskTimeout)
	defer cancel()

	s.metrics.askInFlight.Inc()
	defer s.metrics.askInFlight.Dec()

	start := time.Now()
	answer, err := s.asker.Ask(ctx, req.Question)
	elapsed := time.Since(start)

	if err != nil {
		outcome := "error"
		if ctx.Err() == context.DeadlineExceeded {
			outcome = "timeout"
		}
		s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.askDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
		log.Error("ask failed",
			slog.Any("error", err),
			slog.Duration("duration", elapsed),
		)
		// Internal detail stays in the logs.
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.metrics.askRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.askDurationSeconds.WithLabelValues("ok").Observe(elapsed.Seconds())

	if s.history != nil {
		if err := s.history.Append(r.Context(), req.Question, answer, elapsed); err != nil {
			log.Warn("query log append failed", slog.Any("error", err))
		}
	}

	writeJSON(w, http.StatusOK, askResponse{
		Answer:         answer,
		ProcessingTime: elapsed.Seconds(),
	})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
