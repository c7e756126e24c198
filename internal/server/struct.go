package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kb4n0/ragline-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AskTimeout bounds a single question-answering run. Defaults to 2 minutes.
	AskTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives all Prometheus metric registrations. Defaults
	// to a fresh registry shared with MetricsGatherer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs the GET /metrics endpoint.
	MetricsGatherer prometheus.Gatherer
}

// asker runs one question through the compiled workflow and returns the
// final answer. ControllerAsker satisfies it; tests inject a fake.
type asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// ingestor mutates the knowledge base contents.
// *ingestion.Pipeline satisfies it; tests inject a fake.
type ingestor interface {
	AddURLs(ctx context.Context, urls []string) (int, []string)
	DeleteBySource(ctx context.Context, source string) (int, error)
	MetadataCounts(ctx context.Context) (map[string]int, error)
}

// refresher schedules a background workflow rebuild after content changes.
// *lifecycle.Controller satisfies it.
type refresher interface {
	ScheduleRefresh(force bool)
}

// Server is the HTTP server exposing the question-answering and ingestion API.
type Server struct {
	// asker answers questions; set to a ControllerAsker in production,
	// overridden by a fake in tests.
	asker asker
	// ingest mutates the knowledge base.
	ingest ingestor
	// refresh schedules workflow rebuilds after ingestion changes.
	refresh refresher
	// history is the persisted query log. Nil when history is disabled.
	history store.QueryLog
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds all Prometheus metrics owned by this server instance.
	metrics *serverMetrics
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
}

// askResponse is the JSON response for POST /api/ask.
type askResponse struct {
	// Answer is the generated answer text.
	Answer string `json:"answer"`
	// ProcessingTime is the wall-clock duration of the run in seconds.
	ProcessingTime float64 `json:"processing_time"`
}

// injectRequest is the JSON body for POST /api/inject.
type injectRequest struct {
	// URLs is the list of source URLs to fetch and index.
	URLs []string `json:"urls"`
}

// injectResponse is the JSON response for POST /api/inject.
type injectResponse struct {
	// Status is "success" when every URL was indexed, "partial_success"
	// when at least one failed.
	Status string `json:"status"`
	// AddedCount is the total number of chunks written across all URLs.
	AddedCount int `json:"added_count"`
	// Errors holds one entry per failed URL. Empty on full success.
	Errors []string `json:"errors,omitempty"`
}

// deleteRequest is the JSON body for POST /api/delete.
type deleteRequest struct {
	// Source is the source URL whose chunks should be removed.
	Source string `json:"source"`
}

// deleteResponse is the JSON response for POST /api/delete.
type deleteResponse struct {
	// Status is "success" when chunks were removed, "no_match" when the
	// source was not present.
	Status string `json:"status"`
	// DeletedCount is the number of chunks removed.
	DeletedCount int `json:"deleted_count"`
}

// metadataCountsResponse is the JSON response for GET /api/metadata/counts.
type metadataCountsResponse struct {
	// Counts maps each source URL to its number of stored chunks.
	Counts map[string]int `json:"counts"`
}

// historyEntry is one answered question in GET /api/history responses.
type historyEntry struct {
	// Question is the user's query as received.
	Question string `json:"question"`
	// Answer is the generated response.
	Answer string `json:"answer"`
	// ProcessingTime is the original run duration in seconds.
	ProcessingTime float64 `json:"processing_time"`
	// CreatedAt is when the entry was persisted (RFC 3339).
	CreatedAt string `json:"created_at"`
}

// historyResponse is the JSON response for GET /api/history.
type historyResponse struct {
	// Entries is ordered newest-first.
	Entries []historyEntry `json:"entries"`
}
