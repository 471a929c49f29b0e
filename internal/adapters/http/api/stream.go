package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/racefeed/internal/adapters/mq/broadcast"
	"github.com/okian/racefeed/pkg/logger"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 512
)

// keepalive is sent when no result arrived within the heartbeat interval.
var keepalive = map[string]bool{"keepalive": true} //nolint:gochecknoglobals // fixed payload

// StreamHandler pushes processed results to live consumers.
type StreamHandler struct {
	deps     StreamDependencies
	upgrader websocket.Upgrader
	log      logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(deps StreamDependencies, log logger.Logger) *StreamHandler {
	return &StreamHandler{
		deps: deps,
		upgrader: websocket.Upgrader{
			// displays are served from other origins
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log,
	}
}

func payload(it broadcast.Item) ([]byte, error) {
	if it.Heartbeat {
		return json.Marshal(keepalive)
	}
	return json.Marshal(it.Result)
}

// HandleSSE handles GET /stream as server-sent events. Every event is a
// result or a keepalive; the stream ends when the client goes away.
func (h *StreamHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", ErrStreaming)
		return
	}
	sub, err := h.deps.Subscribe()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", fmt.Errorf("%w: %w", ErrUnavailable, err))
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	h.log.Debug(ctx, "stream consumer attached", logger.String("subscriber", sub.ID()))
	for it := range sub.Items(ctx) {
		data, err := payload(it)
		if err != nil {
			h.log.Error(ctx, "encode stream item", logger.Error(err))
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
	h.log.Debug(ctx, "stream consumer detached",
		logger.String("subscriber", sub.ID()),
		logger.Int64("dropped", sub.Dropped()))
}

// HandleWebSocket handles GET /ws, pushing the same items as /stream as
// text messages.
func (h *StreamHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sub, err := h.deps.Subscribe()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", fmt.Errorf("%w: %w", ErrUnavailable, err))
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request
		h.log.Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	defer conn.Close()

	// Request contexts end on hijack; the read loop detects the close instead.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	conn.SetReadLimit(wsReadLimit)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.log.Debug(ctx, "websocket consumer attached", logger.String("subscriber", sub.ID()))
	for it := range sub.Items(ctx) {
		data, err := payload(it)
		if err != nil {
			h.log.Error(ctx, "encode stream item", logger.Error(err))
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
		time.Now().Add(time.Second))
}
