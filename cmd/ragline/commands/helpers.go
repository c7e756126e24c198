package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/cloudwego/eino/components/model"

	"github.com/kb4n0/ragline-go/internal/embedder"
	"github.com/kb4n0/ragline-go/internal/ingestion"
	"github.com/kb4n0/ragline-go/internal/lifecycle"
	"github.com/kb4n0/ragline-go/internal/rag"
	"github.com/kb4n0/ragline-go/internal/tools"
	"github.com/kb4n0/ragline-go/internal/workflow"
)

// buildKnowledgeBase wires the embedder and Qdrant vector store from env
// configuration. The caller owns the returned store and must Close it.
func buildKnowledgeBase(ctx context.Context, log *slog.Logger) (rag.Embedder, *rag.QdrantStore, error) {
	if err := embedder.ValidateForRAG(log); err != nil {
		return nil, nil, err
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	embBackend := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))
	vectorSize := uint64(embedder.DefaultDimensions(embBackend)) //nolint:gosec // dimensions are bounded

	// Probe the embedder so a fresh collection is created with the model's
	// actual output dimension rather than the per-backend default.
	if vecs, probeErr := emb.Embed(ctx, []string{"dimension probe"}); probeErr != nil {
		log.Warn("embedding probe failed, using default dimensions",
			slog.Uint64("dimensions", vectorSize),
			slog.Any("error", probeErr),
		)
	} else if len(vecs) > 0 && len(vecs[0]) > 0 {
		vectorSize = uint64(len(vecs[0]))
	}

	host := getEnvOrDefault("QDRANT_HOST", "localhost")
	port := getEnvInt("QDRANT_PORT", 6334)
	collection := getEnvOrDefault("QDRANT_COLLECTION", "ragline-docs")

	kb, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: collection,
		VectorSize: vectorSize,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}

	log.Info("qdrant store ready",
		slog.String("host", host),
		slog.Int("port", port),
		slog.String("collection", collection),
	)
	return emb, kb, nil
}

// buildController wires the retriever tool manager and workflow lifecycle
// controller on top of the given chat model and knowledge base.
func buildController(chatModel model.ToolCallingChatModel, emb rag.Embedder, kb *rag.QdrantStore, log *slog.Logger) (*lifecycle.Controller, error) {
	topK := getEnvInt("RETRIEVAL_TOP_K", 4)

	manager, err := tools.NewManager(func(ctx context.Context) (*tools.RetrieverTool, error) {
		retr, err := rag.NewRetriever(emb, kb, topK)
		if err != nil {
			return nil, err
		}
		return tools.NewRetrieverTool(retr, topK, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tool manager: %w", err)
	}

	build := func(ctx context.Context, tool *tools.RetrieverTool) (*workflow.Engine, error) {
		return workflow.New(ctx, &workflow.Config{
			ChatModel:        chatModel,
			Tool:             tool,
			MaxRewrites:      getEnvInt("MAX_REWRITES", 3),
			MaxContextTokens: getEnvInt("MAX_CONTEXT_TOKENS", 0),
		})
	}

	ctrl, err := lifecycle.NewController(&lifecycle.Config{
		Manager:      manager,
		Build:        build,
		Cooldown:     getEnvDuration("REFRESH_COOLDOWN", 0),
		DocumentsDir: os.Getenv("DOCUMENTS_DIR"),
		Logger:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lifecycle controller: %w", err)
	}
	return ctrl, nil
}

// newPipeline constructs the ingestion pipeline with chunking parameters
// from env configuration. Zero values fall back to the pipeline defaults.
func newPipeline(emb rag.Embedder, kb *rag.QdrantStore) (*ingestion.Pipeline, error) {
	p, err := ingestion.NewPipeline(emb, kb, &ingestion.Config{
		ChunkSize:    getEnvInt("CHUNK_SIZE", 0),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 0),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion pipeline: %w", err)
	}
	return p, nil
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration returns the duration value of the named environment
// variable (Go duration string, e.g. "5s"), or fallback when unset or
// not parseable.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
