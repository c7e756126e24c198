package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kb4n0/ragline-go/internal/logging"
)

// defaultHistoryLimit is how many entries GET /api/history returns when the
// limit query parameter is absent.
const defaultHistoryLimit = 20

// handleInject handles POST /api/inject. It fetches, chunks, and indexes the
// given URLs, then schedules a workflow rebuild so new content is retrievable.
func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.URLs) == 0 {
		http.Error(w, "urls is required", http.StatusBadRequest)
		return
	}

	added, errs := s.ingest.AddURLs(r.Context(), req.URLs)
	if added > 0 {
		s.refresh.ScheduleRefresh(true)
	}

	status := "success"
	if len(errs) > 0 {
		status = "partial_success"
		log.Warn("inject completed with failures",
			slog.Int("added", added),
			slog.Int("failed", len(errs)),
		)
	} else {
		log.Info("inject completed",
			slog.Int("urls", len(req.URLs)),
			slog.Int("added", added),
		)
	}

	writeJSON(w, http.StatusOK, injectResponse{
		Status:     status,
		AddedCount: added,
		Errors:     errs,
	})
}

// handleDelete handles POST /api/delete. It removes every chunk originating
// from the given source URL and schedules a workflow rebuild.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Source == "" {
		http.Error(w, "source is required", http.StatusBadRequest)
		return
	}

	deleted, err := s.ingest.DeleteBySource(r.Context(), req.Source)
	if err != nil {
		log.Error("delete failed",
			slog.String("source", req.Source),
			slog.Any("error", err),
		)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	status := "success"
	if deleted == 0 {
		status = "no_match"
	} else {
		s.refresh.ScheduleRefresh(true)
	}
	log.Info("delete completed",
		slog.String("source", req.Source),
		slog.Int("deleted", deleted),
	)

	writeJSON(w, http.StatusOK, deleteResponse{
		Status:       status,
		DeletedCount: deleted,
	})
}

// handleMetadataCounts handles GET /api/metadata/counts. It reports how many
// chunks each source URL contributes to the knowledge base.
func (s *Server) handleMetadataCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.ingest.MetadataCounts(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("metadata counts failed", slog.Any("error", err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, metadataCountsResponse{Counts: counts})
}

// handleHistory handles GET /api/history. It returns the most recent answered
// questions, newest-first. The optional limit query parameter caps the count.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("history read failed", slog.Any("error", err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := historyResponse{Entries: make([]historyEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, historyEntry{
			Question:       e.Question,
			Answer:         e.Answer,
			ProcessingTime: e.Elapsed.Seconds(),
			CreatedAt:      e.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
