package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/kb4n0/ragline-go/internal/logging"
	"github.com/kb4n0/ragline-go/internal/provider"
	"github.com/kb4n0/ragline-go/internal/server"
	"github.com/kb4n0/ragline-go/internal/store"
	"github.com/kb4n0/ragline-go/internal/tracing"
)

// NewServeCmd constructs the `ragline serve` command, which starts the HTTP
// server exposing the question-answering and ingestion API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragline HTTP server",
		Long: `Start the ragline HTTP server on localhost.

The server exposes POST /api/ask for question answering, POST /api/inject
and /api/delete for knowledge base management, and GET /api/metadata/counts,
/api/history, /api/health, /api/ready, and /metrics for inspection.

The question-answering workflow is compiled lazily on the first ask, and
rebuilt in the background after ingestion changes.

Examples:
  ragline serve
  ragline serve --port 9090
  MODEL_PROVIDER=azure ragline serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "ollama")))

			emb, kb, err := buildKnowledgeBase(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer kb.Close()

			ctrl, err := buildController(chatModel, emb, kb, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer ctrl.Close()

			// Startup compile is best-effort: on failure the server still
			// boots and the first ask triggers a lazy compile.
			if err := ctrl.Compile(ctx, false); err != nil {
				log.Warn("startup workflow compile failed, deferring to first ask", slog.Any("error", err))
			}

			pipeline, err := newPipeline(emb, kb)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			// Open the query log. RAGLINE_HISTORY_DB overrides the default
			// path (~/.ragline/history.db). Set to "disabled" to disable.
			var history store.QueryLog
			dbPath := os.Getenv("RAGLINE_HISTORY_DB")
			if dbPath != "disabled" {
				if dbPath == "" {
					dbPath, err = store.DefaultDBPath()
					if err != nil {
						log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
					}
				}
				if dbPath != "" {
					hs, hsErr := store.Open(dbPath)
					if hsErr != nil {
						log.Warn("history: failed to open store, disabling", slog.Any("error", hsErr))
					} else {
						history = hs
						defer func() { _ = hs.Close() }()
						log.Info("history: store opened", slog.String("path", dbPath))
					}
				}
			} else {
				log.Info("history: disabled via RAGLINE_HISTORY_DB=disabled")
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			pingers := []server.Pinger{
				server.NewQdrantPinger(kb.Client()),
				server.NewLLMPinger(chatModel, getEnvOrDefault("MODEL_PROVIDER", "ollama")),
			}

			srv, err := server.New(ctrl, pipeline, history, &server.Config{
				Host:            host,
				Port:            port,
				Logger:          log,
				Pingers:         pingers,
				APIKey:          os.Getenv("RAGLINE_API_KEY"),
				MetricsRegistry: reg,
				MetricsGatherer: reg,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
