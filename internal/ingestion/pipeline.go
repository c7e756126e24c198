// Package ingestion implements the knowledge index mutation pipeline.
// It fetches documents from URLs, normalizes and chunks the text, embeds each
// chunk, and upserts the results into the vector store; it also implements
// deletion by source and per-source counting via a full-index scan.
// The pipeline is invoked by the HTTP inject/delete handlers and the
// `ragline ingest` / `ragline delete` CLI commands.
package ingestion

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/kb4n0/ragline-go/internal/logging"
	"github.com/kb4n0/ragline-go/internal/rag"
)

// scrollPageSize bounds each page of the full-index scan used by
// DeleteBySource and MetadataCounts.
const scrollPageSize = 1000

// whitespaceRun matches any run of whitespace for normalization.
var whitespaceRun = regexp.MustCompile(`\s+`)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per document chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters to overlap between consecutive
	// chunks. Defaults to 100 if zero or out of range.
	ChunkOverlap int

	// HTTPTimeout is the timeout for each document fetch request.
	// Defaults to 30s if zero.
	HTTPTimeout time.Duration

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string
}

// Pipeline orchestrates the fetch → normalize → chunk → embed → upsert flow
// and the scan-driven delete/count operations.
type Pipeline struct {
	// embedder converts text chunks into dense vector embeddings.
	embedder rag.Embedder

	// store persists and scans the embedded chunks.
	store rag.VectorStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// httpClient is the HTTP client used for fetching documents.
	httpClient *http.Client
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "ragline/1.0 (knowledge base ingestion)"
	}

	return &Pipeline{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
	}, nil
}

// AddURLs fetches, normalizes, chunks, embeds, and stores each URL
// independently. Chunks are written synchronously, so the caller observes
// them as soon as AddURLs returns. A failure on one URL is recorded as an
// error entry and processing continues with the remaining URLs — no single
// bad URL aborts the batch. Returns the total chunk count successfully added
// and the list of per-URL error messages.
func (p *Pipeline) AddURLs(ctx context.Context, urls []string) (int, []string) {
	log := logging.FromContext(ctx)

	var errs []string
	added := 0

	for _, url := range urls {
		n, err := p.addURL(ctx, url)
		if err != nil {
			msg := fmt.Sprintf("failed processing URL %s: %v", url, err)
			log.Error("ingestion: url failed", slog.String("url", url), slog.Any("error", err))
			errs = append(errs, msg)
			continue
		}
		added += n
		log.Info("ingestion: url indexed", slog.String("url", url), slog.Int("chunks", n))
	}

	return added, errs
}

// addURL processes a single URL end to end and returns the chunk count.
func (p *Pipeline) addURL(ctx context.Context, url string) (int, error) {
	content, err := p.fetch(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}

	chunks := p.chunk(normalize(content))
	if len(chunks) == 0 {
		return 0, nil
	}

	embeddings, err := p.embedder.Embed(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed: %w", err)
	}

	docs := make([]rag.Document, 0, len(chunks))
	for i, chunk := range chunks {
		docs = append(docs, rag.Document{
			ID:      chunkID(url, i),
			Content: chunk,
			Source:  url,
			Metadata: StripVolatile(map[string]string{
				"chunk_index": fmt.Sprintf("%d", i),
			}),
		})
	}

	if err := p.store.Upsert(ctx, docs, embeddings); err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}

	return len(chunks), nil
}

// DeleteBySource scans the entire index collecting the IDs of chunks whose
// source equals the target (both payload layouts are checked by the store
// layer), then issues a single bulk delete. Returns the number of chunks
// removed; 0 means no match, which is distinct from failure.
//
// The scan and the delete are not one transaction: a concurrent ingest for
// the same source may be missed or included depending on timing.
func (p *Pipeline) DeleteBySource(ctx context.Context, source string) (int, error) {
	var ids []string

	err := p.scan(ctx, func(doc rag.Document) {
		if doc.Source == source {
			ids = append(ids, doc.ID)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("ingestion: delete scan failed: %w", err)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	if err := p.store.Delete(ctx, ids); err != nil {
		return 0, fmt.Errorf("ingestion: bulk delete failed: %w", err)
	}

	return len(ids), nil
}

// MetadataCounts scans the entire index and tallies chunk counts by source.
func (p *Pipeline) MetadataCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)

	err := p.scan(ctx, func(doc rag.Document) {
		if doc.Source != "" {
			counts[doc.Source]++
		}
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion: count scan failed: %w", err)
	}

	return counts, nil
}

// scan pages through the whole index, invoking visit for every document.
func (p *Pipeline) scan(ctx context.Context, visit func(rag.Document)) error {
	var offset *rag.ScrollOffset
	for {
		docs, next, err := p.store.Scroll(ctx, scrollPageSize, offset)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			visit(doc)
		}
		if next == nil || len(docs) == 0 {
			return nil
		}
		offset = next
	}
}

// fetch retrieves the raw text content of a URL.
func (p *Pipeline) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain, text/html")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}

	return string(body), nil
}

// normalize collapses every whitespace run to a single space and trims the
// result, so chunk boundaries are stable across formatting differences.
func normalize(text string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(text), " ")
}

// chunk splits text into overlapping chunks of cfg.ChunkSize characters.
func (p *Pipeline) chunk(text string) []string {
	if len(text) == 0 {
		return nil
	}

	var chunks []string
	size := p.cfg.ChunkSize
	overlap := p.cfg.ChunkOverlap

	for start := 0; start < len(text); start += size - overlap {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}

	return chunks
}

// chunkID generates a deterministic UUID-formatted ID for a chunk based on
// its source URL and chunk index. Qdrant requires point IDs to be UUIDs or
// unsigned integers, so the digest is rendered in canonical UUID form.
func chunkID(sourceURL string, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", sourceURL, index)))
	return fmt.Sprintf("%x-%x-%x-%x-%x", h[0:4], h[4:6], h[6:8], h[8:10], h[10:16])
}
