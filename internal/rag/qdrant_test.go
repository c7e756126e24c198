package rag

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
)

func TestPayloadSource_TopLevelField(t *testing.T) {
	t.Parallel()

	payload := qdrant.NewValueMap(map[string]interface{}{
		"content": "chunk text",
		"source":  "https://example.com/doc",
	})

	if got := payloadSource(payload); got != "https://example.com/doc" {
		t.Errorf("payloadSource = %q", got)
	}
}

func TestPayloadSource_LegacyNestedMetadata(t *testing.T) {
	t.Parallel()

	payload := qdrant.NewValueMap(map[string]interface{}{
		"content": "chunk text",
		"metadata": map[string]interface{}{
			"source": "https://example.com/legacy",
		},
	})

	if got := payloadSource(payload); got != "https://example.com/legacy" {
		t.Errorf("payloadSource = %q", got)
	}
}

func TestPayloadSource_TopLevelWinsOverNested(t *testing.T) {
	t.Parallel()

	payload := qdrant.NewValueMap(map[string]interface{}{
		"source": "https://example.com/canonical",
		"metadata": map[string]interface{}{
			"source": "https://example.com/legacy",
		},
	})

	if got := payloadSource(payload); got != "https://example.com/canonical" {
		t.Errorf("payloadSource = %q", got)
	}
}

func TestPayloadSource_EmptyTopLevelFallsThrough(t *testing.T) {
	t.Parallel()

	payload := qdrant.NewValueMap(map[string]interface{}{
		"source": "",
		"metadata": map[string]interface{}{
			"source": "https://example.com/legacy",
		},
	})

	if got := payloadSource(payload); got != "https://example.com/legacy" {
		t.Errorf("empty top-level source should fall through to nested, got %q", got)
	}
}

func TestPayloadSource_Missing(t *testing.T) {
	t.Parallel()

	if got := payloadSource(qdrant.NewValueMap(map[string]interface{}{"content": "x"})); got != "" {
		t.Errorf("payloadSource = %q, want empty", got)
	}
	if got := payloadSource(nil); got != "" {
		t.Errorf("payloadSource(nil) = %q, want empty", got)
	}
}

func TestDocumentFromPayload(t *testing.T) {
	t.Parallel()

	payload := qdrant.NewValueMap(map[string]interface{}{
		"content":     "chunk text",
		"source":      "https://example.com/doc",
		"chunk_index": "7",
	})

	doc := documentFromPayload("id-1", payload)

	if doc.ID != "id-1" {
		t.Errorf("ID = %q", doc.ID)
	}
	if doc.Content != "chunk text" {
		t.Errorf("Content = %q", doc.Content)
	}
	if doc.Source != "https://example.com/doc" {
		t.Errorf("Source = %q", doc.Source)
	}
	if doc.Metadata["chunk_index"] != "7" {
		t.Errorf("Metadata = %v", doc.Metadata)
	}
	if _, ok := doc.Metadata["content"]; ok {
		t.Error("content must not leak into Metadata")
	}
	if _, ok := doc.Metadata["source"]; ok {
		t.Error("source must not leak into Metadata")
	}
}

func TestDocumentFromPayload_NilPayload(t *testing.T) {
	t.Parallel()

	doc := documentFromPayload("id-2", nil)
	if doc.ID != "id-2" || doc.Content != "" || doc.Source != "" {
		t.Errorf("unexpected document: %+v", doc)
	}
	if doc.Metadata == nil {
		t.Error("Metadata should be an empty map, not nil")
	}
}
