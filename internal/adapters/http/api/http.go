// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/racefeed/internal/adapters/mq/broadcast"
	"github.com/okian/racefeed/internal/adapters/repository"
	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/internal/domain/types"
	"github.com/okian/racefeed/pkg/logger"
)

const (
	defaultRecentLimit  = 50
	defaultSessionLimit = 20
	maxLimit            = 1000
)

// LoginDependencies runs login cycles.
type LoginDependencies interface {
	TriggerLogin(ctx context.Context, eventID, userID, password string) types.LoginResult
	TestConnection(ctx context.Context, eventID, userID, password string) types.ConnectionCheck
	LoginProgress() model.LoginProgress
}

// ListenerDependencies controls the device listener.
type ListenerDependencies interface {
	StartListener(ctx context.Context) (types.ListenerStatus, error)
	ListenerStatus() types.ListenerStatus
}

// StreamDependencies hands out result subscriptions.
type StreamDependencies interface {
	Subscribe() (*broadcast.Subscription, error)
}

// TimingDependencies serves the stored reads.
type TimingDependencies interface {
	DatabaseStatus(ctx context.Context) repository.Status
	Sessions(ctx context.Context, limit int) ([]model.Session, error)
	Stats(ctx context.Context) (repository.Stats, error)
	RecentReads(ctx context.Context, limit int) ([]model.PersistedRead, error)
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	LoginDependencies
	ListenerDependencies
	StreamDependencies
	TimingDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	loginHandler    *LoginHandler
	listenerHandler *ListenerHandler
	streamHandler   *StreamHandler
	timingHandler   *TimingHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(deps),
		loginHandler:    NewLoginHandler(deps, log.Named("login")),
		listenerHandler: NewListenerHandler(deps, log.Named("listener")),
		streamHandler:   NewStreamHandler(deps, log.Named("stream")),
		timingHandler:   NewTimingHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /api/login", MetricsMiddleware(s.loginHandler.HandleLogin, "login"))
	mux.HandleFunc("POST /api/test-connection", MetricsMiddleware(s.loginHandler.HandleTestConnection, "test_connection"))
	mux.HandleFunc("GET /api/login-progress", MetricsMiddleware(s.loginHandler.HandleProgress, "login_progress"))

	mux.HandleFunc("POST /api/listener/start", MetricsMiddleware(s.listenerHandler.HandleStart, "listener_start"))
	mux.HandleFunc("GET /api/listener/status", MetricsMiddleware(s.listenerHandler.HandleStatus, "listener_status"))

	mux.HandleFunc("GET /stream", MetricsMiddleware(s.streamHandler.HandleSSE, "stream"))
	mux.HandleFunc("GET /ws", MetricsMiddleware(s.streamHandler.HandleWebSocket, "ws"))

	mux.HandleFunc("GET /api/timing/database-status", MetricsMiddleware(s.timingHandler.HandleDatabaseStatus, "database_status"))
	mux.HandleFunc("GET /api/timing/sessions", MetricsMiddleware(s.timingHandler.HandleSessions, "sessions"))
	mux.HandleFunc("GET /api/timing/stats", MetricsMiddleware(s.timingHandler.HandleStats, "timing_stats"))
	mux.HandleFunc("GET /api/timing/recent-reads", MetricsMiddleware(s.timingHandler.HandleRecentReads, "recent_reads"))
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// limitParam reads ?limit=, falling back to def when absent.
func limitParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxLimit {
		return 0, fmt.Errorf("%w: limit must be between 1 and %d", ErrBadRequest, maxLimit)
	}
	return n, nil
}
