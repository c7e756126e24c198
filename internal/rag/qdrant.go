package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this
	// collection. Used only when the collection does not exist yet.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists (creating it if necessary), and returns a ready-to-use VectorStore.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	clientCfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}

	client, err := qdrant.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	return nil
}

// Upsert stores or updates a batch of documents with their embeddings.
// The embeddings slice must be parallel to docs. The source is written as a
// top-level payload field — the canonical layout for new points. The call
// waits for the write to be applied so callers observe their chunks
// immediately after Upsert returns.
func (s *QdrantStore) Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("qdrant: %d documents but %d embeddings", len(docs), len(embeddings))
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i, doc := range docs {
		payload := map[string]interface{}{
			"content": doc.Content,
			"source":  doc.Source,
		}
		for k, v := range doc.Metadata {
			payload[k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(doc.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// Search performs a cosine similarity search and returns the top-k results.
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error) {
	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		doc := documentFromPayload(r.Id.GetUuid(), r.Payload)
		doc.Score = r.Score
		docs = append(docs, doc)
	}

	return docs, nil
}

// Scroll pages through the collection without vectors. The returned offset
// token wraps Qdrant's next_page_offset point ID; a nil token means the scan
// is complete.
func (s *QdrantStore) Scroll(ctx context.Context, limit int, offset *ScrollOffset) ([]Document, *ScrollOffset, error) {
	lim := uint32(limit) //nolint:gosec // page sizes are small and caller-controlled
	req := &qdrant.ScrollPoints{
		CollectionName: s.cfg.Collection,
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if offset != nil {
		req.Offset = qdrant.NewIDUUID(offset.ID)
	}

	resp, err := s.client.GetPointsClient().Scroll(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("qdrant: scroll failed: %w", err)
	}

	docs := make([]Document, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		docs = append(docs, documentFromPayload(p.Id.GetUuid(), p.Payload))
	}

	var next *ScrollOffset
	if npo := resp.GetNextPageOffset(); npo != nil {
		next = &ScrollOffset{ID: npo.GetUuid()}
	}

	return docs, next, nil
}

// Delete removes documents from the collection by their IDs in a single bulk
// call, waiting for the deletion to be applied.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}

	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// Client exposes the underlying gRPC client for health probes.
func (s *QdrantStore) Client() *qdrant.Client {
	return s.client
}

// documentFromPayload converts a Qdrant payload into a Document, reading the
// source via payloadSource so both historical layouts are honoured.
func documentFromPayload(id string, payload map[string]*qdrant.Value) Document {
	doc := Document{
		ID:       id,
		Metadata: make(map[string]string),
	}
	if payload == nil {
		return doc
	}

	if v, ok := payload["content"]; ok {
		doc.Content = v.GetStringValue()
	}
	doc.Source = payloadSource(payload)

	for k, v := range payload {
		if k == "content" || k == "source" || k == "metadata" {
			continue
		}
		doc.Metadata[k] = v.GetStringValue()
	}

	return doc
}

// payloadSource extracts the source from a Qdrant payload, checking the
// canonical top-level "source" field first, then the legacy layout where the
// source sits nested under a "metadata" sub-object. Both read paths are
// permanently supported.
func payloadSource(payload map[string]*qdrant.Value) string {
	if v, ok := payload["source"]; ok {
		if s := v.GetStringValue(); s != "" {
			return s
		}
	}
	if v, ok := payload["metadata"]; ok {
		if nested := v.GetStructValue(); nested != nil {
			if sv, ok := nested.Fields["source"]; ok {
				return sv.GetStringValue()
			}
		}
	}
	return ""
}
