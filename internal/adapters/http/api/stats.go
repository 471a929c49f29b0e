package api

import (
	"net/http"
)

// StatsProvider reports the pipeline counters shown on /stats.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler serves the service counters.
type StatsHandler struct {
	stats StatsProvider
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(stats StatsProvider) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// HandleStats handles GET /stats: listener, hub, roster and persistence
// counters as one flat object.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.GetStats())
}
