package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// NewIngestCmd constructs the `ragline ingest` command, which fetches
// documents by URL and indexes them into the Qdrant vector store.
func NewIngestCmd() *cobra.Command {
	var urls []string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest documents into the knowledge base",
		Long: `Fetch, chunk, embed, and index documents into the Qdrant vector store.

Each URL is processed independently: a fetch or embedding failure on one URL
is reported without aborting the rest of the batch.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: ragline-docs)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  MODEL_PROVIDER       Embedding backend: ollama, openai, azure (default: ollama)
  EMBEDDING_*          Provider-specific overrides (see README)

Examples:
  ragline ingest --url https://raft.github.io/raft.pdf
  ragline ingest -u https://example.com/doc-a -u https://example.com/doc-b`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()

			if len(urls) == 0 {
				return fmt.Errorf("ingest: at least one --url is required")
			}

			emb, kb, err := buildKnowledgeBase(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer kb.Close()

			pipeline, err := newPipeline(emb, kb)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			log.Info("starting ingestion", slog.Int("urls", len(urls)))

			added, errs := pipeline.AddURLs(ctx, urls)
			for _, e := range errs {
				log.Warn("ingestion error", slog.String("error", e))
			}

			log.Info("ingestion complete",
				slog.Int("chunks_added", added),
				slog.Int("failures", len(errs)),
			)

			if len(errs) == len(urls) {
				return fmt.Errorf("ingest: all %d URLs failed", len(urls))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Document URL to ingest (repeatable)")

	return cmd
}
