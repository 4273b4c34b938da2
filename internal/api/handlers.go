package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"esports-insights/internal/ingest"
	"esports-insights/internal/match"
	"esports-insights/internal/review"

	"github.com/go-chi/chi/v5"
)

// Handler methods for routerHandlers

func (h *routerHandlers) handleListMatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"matches": h.states.Matches(),
	})
}

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	st := h.states.GetState(matchID)
	if st == nil {
		writeError(w, "match not found", http.StatusNotFound)
		return
	}
	writeJSON(w, st)
}

func (h *routerHandlers) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, nonNil(h.events.MatchEvents(chi.URLParam(r, "matchID"))))
}

func (h *routerHandlers) handleGetRaw(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, nonNil(h.events.RawEvents(chi.URLParam(r, "matchID"))))
}

func (h *routerHandlers) handleGetSignals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, nonNil(h.events.Signals(chi.URLParam(r, "matchID"))))
}

func (h *routerHandlers) handleAllEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, nonNil(h.events.AllCanonicalEvents()))
}

func (h *routerHandlers) handleRebuild(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	st, err := h.events.RebuildFromEvents(matchID, h.states)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if st == nil {
		writeError(w, "no events for match", http.StatusNotFound)
		return
	}
	log.Printf("📊 Rebuilt state for %s from %d events", matchID, len(h.events.MatchEvents(matchID)))
	writeJSON(w, st)
}

func (h *routerHandlers) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, nonNil(h.review.Queue()))
}

func (h *routerHandlers) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.review.Approve)
}

func (h *routerHandlers) handleReject(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.review.Reject)
}

func (h *routerHandlers) resolve(w http.ResponseWriter, r *http.Request, fn func(string, review.Reviewer) (*match.AgentSignal, error)) {
	p, _ := principalFrom(r.Context())
	sig, err := fn(chi.URLParam(r, "signalID"), p)
	if errors.Is(err, review.ErrForbidden) {
		writeError(w, err.Error(), http.StatusForbidden)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// resolving a signal that is not pending is a no-op, not an error
	writeJSON(w, map[string]interface{}{
		"success": true,
		"changed": sig != nil,
		"signal":  sig,
	})
}

func (h *routerHandlers) handleInsights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, nonNil(h.review.Released(h.now())))
}

func (h *routerHandlers) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.ingest.Status())
}

func (h *routerHandlers) handleIngestStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MatchID string `json:"matchId"`
		Path    string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	req.MatchID = strings.TrimSpace(req.MatchID)
	if req.MatchID == "" || req.Path == "" {
		writeError(w, "matchId and path are required", http.StatusBadRequest)
		return
	}
	if h.packetDir == "" {
		writeError(w, "file ingestion is not configured", http.StatusServiceUnavailable)
		return
	}
	if !filepath.IsLocal(req.Path) {
		writeError(w, "path must be relative to the packet directory", http.StatusBadRequest)
		return
	}

	src, err := ingest.OpenFileSource(filepath.Join(h.packetDir, req.Path))
	if err != nil {
		writeError(w, "packet file not found", http.StatusNotFound)
		return
	}
	if err := h.ingest.Start(h.ingestCtx, req.MatchID, src); err != nil {
		src.Close()
		if errors.Is(err, ingest.ErrBusy) {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	log.Printf("📡 Ingestion of %s requested via API (%s)", req.MatchID, req.Path)
	writeJSON(w, h.ingest.Status())
}

func (h *routerHandlers) handleIngestStop(w http.ResponseWriter, r *http.Request) {
	log.Println("🛑 Ingestion stop requested via API")
	h.ingest.Stop()
	writeJSON(w, map[string]bool{"success": true})
}

// Helper functions (package-level for reuse)

// nonNil keeps empty lists as [] rather than null
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
