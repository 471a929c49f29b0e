package api

import (
	"net/http"

	"github.com/okian/racefeed/pkg/logger"
)

// ListenerHandler handles device listener requests.
type ListenerHandler struct {
	deps ListenerDependencies
	log  logger.Logger
}

// NewListenerHandler creates a new listener handler.
func NewListenerHandler(deps ListenerDependencies, log logger.Logger) *ListenerHandler {
	return &ListenerHandler{deps: deps, log: log}
}

// HandleStart handles POST /api/listener/start. Starting a running listener
// succeeds and reports already_running.
func (h *ListenerHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.StartListener(r.Context())
	if err != nil {
		h.log.Error(r.Context(), "listener start failed", logger.Error(err))
		writeError(w, http.StatusServiceUnavailable, "listener_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleStatus handles GET /api/listener/status.
func (h *ListenerHandler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.ListenerStatus())
}
