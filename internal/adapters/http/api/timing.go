package api

import (
	"errors"
	"net/http"

	"github.com/okian/racefeed/internal/adapters/repository"
)

// TimingHandler serves the stored timing reads.
type TimingHandler struct {
	deps TimingDependencies
}

// NewTimingHandler creates a new timing handler.
func NewTimingHandler(deps TimingDependencies) *TimingHandler {
	return &TimingHandler{deps: deps}
}

// HandleDatabaseStatus handles GET /api/timing/database-status.
func (h *TimingHandler) HandleDatabaseStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.DatabaseStatus(r.Context()))
}

// HandleSessions handles GET /api/timing/sessions?limit=N.
func (h *TimingHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, defaultSessionLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	sessions, err := h.deps.Sessions(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessions": sessions})
}

// HandleStats handles GET /api/timing/stats.
func (h *TimingHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Stats(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}

// HandleRecentReads handles GET /api/timing/recent-reads?limit=N.
func (h *TimingHandler) HandleRecentReads(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, defaultRecentLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	reads, err := h.deps.RecentReads(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "reads": reads})
}

// writeStoreError maps a disabled store to 503 and anything else to 500.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrNotConnected) {
		writeError(w, http.StatusServiceUnavailable, "database_disabled", err)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err)
}
