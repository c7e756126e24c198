package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kb4n0/ragline-go/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeAsker implements the asker interface for tests.
type fakeAsker struct {
	// answer is returned on success.
	answer string
	// err is returned as the error value.
	err error
	// gotQuestion records the last question received.
	gotQuestion string
}

func (f *fakeAsker) Ask(_ context.Context, question string) (string, error) {
	f.gotQuestion = question
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

// fakeIngestor implements the ingestor interface for tests.
type fakeIngestor struct {
	added     int
	addErrs   []string
	deleted   int
	delErr    error
	counts    map[string]int
	countsErr error

	gotURLs   []string
	gotSource string
}

func (f *fakeIngestor) AddURLs(_ context.Context, urls []string) (int, []string) {
	f.gotURLs = urls
	return f.added, f.addErrs
}

func (f *fakeIngestor) DeleteBySource(_ context.Context, source string) (int, error) {
	f.gotSource = source
	return f.deleted, f.delErr
}

func (f *fakeIngestor) MetadataCounts(_ context.Context) (map[string]int, error) {
	return f.counts, f.countsErr
}

// fakeRefresher records ScheduleRefresh calls.
type fakeRefresher struct {
	calls []bool
}

func (f *fakeRefresher) ScheduleRefresh(force bool) {
	f.calls = append(f.calls, force)
}

// newTestServer builds a *Server with fakes and an isolated metrics registry.
func newTestServer() *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		asker:   &fakeAsker{answer: "fine"},
		ingest:  &fakeIngestor{},
		refresh: &fakeRefresher{},
		cfg:     &Config{Port: 8080, AskTimeout: time.Minute},
		log:     slog.Default(),
		metrics: newServerMetrics(reg),
	}
}

// ---------------------------------------------------------------------------
// POST /api/ask
// ---------------------------------------------------------------------------

func TestHandleAsk_InvalidJSON(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`not-json`))
	w := httptest.NewRecorder()

	s.handleAsk(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleAsk_MissingQuestion(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	s.handleAsk(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleAsk_Success(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	fa := &fakeAsker{answer: "Raft elects a leader per term."}
	s.asker = fa

	req := httptest.NewRequest(http.MethodPost, "/api/ask",
		strings.NewReader(`{"question":"how does raft elect a leader?"}`))
	w := httptest.NewRecorder()

	s.handleAsk(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp askResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer != "Raft elects a leader per term." {
		t.Errorf("answer: got %q", resp.Answer)
	}
	if resp.ProcessingTime < 0 {
		t.Errorf("processing_time: got %v", resp.ProcessingTime)
	}
	if fa.gotQuestion != "how does raft elect a leader?" {
		t.Errorf("question passed to asker: got %q", fa.gotQuestion)
	}
}

// TestHandleAsk_WorkflowError verifies that workflow failures surface as a
// generic 500 — the underlying error stays in the logs.
func TestHandleAsk_WorkflowError(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.asker = &fakeAsker{err: fmt.Errorf("model unavailable")}

	req := httptest.NewRequest(http.MethodPost, "/api/ask",
		strings.NewReader(`{"question":"anything"}`))
	w := httptest.NewRecorder()

	s.handleAsk(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	body := strings.TrimSpace(w.Body.String())
	if body != "Internal server error" {
		t.Errorf("expected generic error body, got %q", body)
	}
	if strings.Contains(body, "model unavailable") {
		t.Error("internal error detail leaked to client")
	}
}

func TestHandleAsk_AppendsHistory(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	hist, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = hist.Close() })
	s.history = hist

	req := httptest.NewRequest(http.MethodPost, "/api/ask",
		strings.NewReader(`{"question":"q"}`))
	w := httptest.NewRecorder()

	s.handleAsk(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	entries, err := hist.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Question != "q" {
		t.Errorf("expected one persisted entry for %q, got %+v", "q", entries)
	}
}

// ---------------------------------------------------------------------------
// POST /api/inject
// ---------------------------------------------------------------------------

func TestHandleInject_MissingURLs(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/inject", strings.NewReader(`{"urls":[]}`))
	w := httptest.NewRecorder()

	s.handleInject(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleInject_Success(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	ing := &fakeIngestor{added: 7}
	ref := &fakeRefresher{}
	s.ingest = ing
	s.refresh = ref

	req := httptest.NewRequest(http.MethodPost, "/api/inject",
		strings.NewReader(`{"urls":["https://a.example/doc","https://b.example/doc"]}`))
	w := httptest.NewRecorder()

	s.handleInject(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp injectResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "success" || resp.AddedCount != 7 || len(resp.Errors) != 0 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(ing.gotURLs) != 2 {
		t.Errorf("expected 2 URLs passed through, got %v", ing.gotURLs)
	}
	if len(ref.calls) != 1 || !ref.calls[0] {
		t.Errorf("expected one forced refresh, got %v", ref.calls)
	}
}

func TestHandleInject_PartialFailure(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.ingest = &fakeIngestor{
		added:   4,
		addErrs: []string{"failed processing URL https://bad.example: fetch failed"},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/inject",
		strings.NewReader(`{"urls":["https://good.example","https://bad.example"]}`))
	w := httptest.NewRecorder()

	s.handleInject(w, req)

	var resp injectResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "partial_success" {
		t.Errorf("status: got %q", resp.Status)
	}
	if resp.AddedCount != 4 || len(resp.Errors) != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

// TestHandleInject_NothingAdded verifies that a run where every URL failed
// does not schedule a pointless workflow rebuild.
func TestHandleInject_NothingAdded(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	ref := &fakeRefresher{}
	s.ingest = &fakeIngestor{added: 0, addErrs: []string{"failed processing URL https://bad.example: boom"}}
	s.refresh = ref

	req := httptest.NewRequest(http.MethodPost, "/api/inject",
		strings.NewReader(`{"urls":["https://bad.example"]}`))
	w := httptest.NewRecorder()

	s.handleInject(w, req)

	if len(ref.calls) != 0 {
		t.Errorf("expected no refresh, got %v", ref.calls)
	}
}

// ---------------------------------------------------------------------------
// POST /api/delete
// ---------------------------------------------------------------------------

func TestHandleDelete_MissingSource(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/delete", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	s.handleDelete(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleDelete_Success(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	ing := &fakeIngestor{deleted: 12}
	ref := &fakeRefresher{}
	s.ingest = ing
	s.refresh = ref

	req := httptest.NewRequest(http.MethodPost, "/api/delete",
		strings.NewReader(`{"source":"https://a.example/doc"}`))
	w := httptest.NewRecorder()

	s.handleDelete(w, req)

	var resp deleteResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "success" || resp.DeletedCount != 12 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if ing.gotSource != "https://a.example/doc" {
		t.Errorf("source passed through: got %q", ing.gotSource)
	}
	if len(ref.calls) != 1 || !ref.calls[0] {
		t.Errorf("expected one forced refresh, got %v", ref.calls)
	}
}

func TestHandleDelete_NoMatch(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	ref := &fakeRefresher{}
	s.ingest = &fakeIngestor{deleted: 0}
	s.refresh = ref

	req := httptest.NewRequest(http.MethodPost, "/api/delete",
		strings.NewReader(`{"source":"https://unknown.example"}`))
	w := httptest.NewRecorder()

	s.handleDelete(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp deleteResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "no_match" || resp.DeletedCount != 0 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(ref.calls) != 0 {
		t.Errorf("expected no refresh when nothing deleted, got %v", ref.calls)
	}
}

func TestHandleDelete_StoreError(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.ingest = &fakeIngestor{delErr: fmt.Errorf("qdrant unreachable")}

	req := httptest.NewRequest(http.MethodPost, "/api/delete",
		strings.NewReader(`{"source":"https://a.example"}`))
	w := httptest.NewRecorder()

	s.handleDelete(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// GET /api/metadata/counts
// ---------------------------------------------------------------------------

func TestHandleMetadataCounts_OK(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.ingest = &fakeIngestor{counts: map[string]int{
		"https://a.example/doc": 3,
		"https://b.example/doc": 5,
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/metadata/counts", nil)
	w := httptest.NewRecorder()

	s.handleMetadataCounts(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp metadataCountsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Counts["https://a.example/doc"] != 3 || resp.Counts["https://b.example/doc"] != 5 {
		t.Errorf("unexpected counts: %v", resp.Counts)
	}
}

func TestHandleMetadataCounts_StoreError(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.ingest = &fakeIngestor{countsErr: fmt.Errorf("scroll failed")}

	req := httptest.NewRequest(http.MethodGet, "/api/metadata/counts", nil)
	w := httptest.NewRecorder()

	s.handleMetadataCounts(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// GET /api/history
// ---------------------------------------------------------------------------

func TestHandleHistory_Disabled(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w := httptest.NewRecorder()

	s.handleHistory(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 when history disabled, got %d", w.Code)
	}
}

func TestHandleHistory_InvalidLimit(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	hist, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = hist.Close() })
	s.history = hist

	req := httptest.NewRequest(http.MethodGet, "/api/history?limit=zero", nil)
	w := httptest.NewRecorder()

	s.handleHistory(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleHistory_ReturnsEntries(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	hist, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = hist.Close() })
	s.history = hist

	if err := hist.Append(context.Background(), "q1", "a1", 1200*time.Millisecond); err != nil {
		t.Fatalf("append: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/history?limit=10", nil)
	w := httptest.NewRecorder()

	s.handleHistory(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp historyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(resp.Entries))
	}
	e := resp.Entries[0]
	if e.Question != "q1" || e.Answer != "a1" {
		t.Errorf("entry content: got %+v", e)
	}
	if e.ProcessingTime != 1.2 {
		t.Errorf("processing_time: want 1.2, got %v", e.ProcessingTime)
	}
	if _, err := time.Parse(time.RFC3339, e.CreatedAt); err != nil {
		t.Errorf("created_at not RFC 3339: %q", e.CreatedAt)
	}
}
