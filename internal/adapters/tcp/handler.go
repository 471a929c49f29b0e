// Package tcp accepts timing device connections and runs the device
// protocol on each of them.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/racefeed/internal/domain/correlate"
	"github.com/okian/racefeed/internal/domain/failure"
	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/internal/domain/protocol"
	"github.com/okian/racefeed/pkg/logger"
	"github.com/okian/racefeed/pkg/metrics"
)

// State is the protocol state of one connection.
type State int

const (
	StateAwaitGreeting State = iota
	StateNegotiating
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitGreeting:
		return "await_greeting"
	case StateNegotiating:
		return "negotiating"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink consumes parsed records.
type Sink interface {
	Handle(ctx context.Context, rec model.TimingRecord) correlate.Outcome
}

// ConnStats counts what one connection delivered.
type ConnStats struct {
	Lines     int
	Pings     int
	Acks      int
	Malformed int
	Outcomes  map[correlate.Outcome]int
}

// Handler runs the device protocol on a connection.
type Handler struct {
	parser     protocol.Parser
	terminator string
	sink       Sink
	log        logger.Logger
}

// NewHandler creates a handler delivering records to sink.
func NewHandler(sink Sink, opts ...HandlerOption) *Handler {
	h := &Handler{
		parser:     protocol.NewParser("", ""),
		terminator: protocol.DefaultLineTerminator,
		sink:       sink,
		log:        logger.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve greets, negotiates and then streams records from conn until the
// peer disconnects, a read or write fails, or ctx ends. It always closes
// conn. A clean disconnect returns nil.
func (h *Handler) Serve(ctx context.Context, conn net.Conn) (ConnStats, error) {
	connID := uuid.NewString()
	log := h.log.With(logger.String("conn", connID), logger.String("remote", remoteAddr(conn)))
	stats := ConnStats{Outcomes: make(map[correlate.Outcome]int)}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	r := bufio.NewReader(conn)
	state := StateAwaitGreeting
	log.Info(ctx, "device connected")

	for state != StateClosed {
		switch state {
		case StateAwaitGreeting:
			greeting, err := h.readLine(r)
			if err != nil {
				return stats, h.closed(ctx, log, "greeting", fmt.Errorf("%w: %w", ErrNoGreeting, err))
			}
			log.Info(ctx, "device greeting", logger.String("greeting", greeting))
			state = StateNegotiating

		case StateNegotiating:
			for _, line := range protocol.Handshake(h.parser.Separator) {
				if err := h.writeLine(conn, line); err != nil {
					return stats, h.closed(ctx, log, "negotiate", fmt.Errorf("%w: %w", ErrHandshakeWrite, err))
				}
			}
			log.Debug(ctx, "handshake sent")
			state = StateStreaming

		case StateStreaming:
			line, err := h.readLine(r)
			if err != nil {
				log.Info(ctx, "device disconnected",
					logger.Int("lines", stats.Lines),
					logger.Int("matched", stats.Outcomes[correlate.OutcomeMatched]),
					logger.Int("unmatched", stats.Outcomes[correlate.OutcomeUnmatched]),
					logger.Int("malformed", stats.Malformed))
				return stats, h.closed(ctx, log, "stream", err)
			}
			if err := h.handleLine(ctx, log, conn, line, &stats); err != nil {
				return stats, h.closed(ctx, log, "stream", err)
			}
		}
	}
	return stats, nil
}

func (h *Handler) handleLine(ctx context.Context, log logger.Logger, conn net.Conn, line string, stats *ConnStats) error {
	if line == "" {
		return nil
	}
	stats.Lines++
	metrics.RecordLineReceived()

	switch {
	case line == protocol.Ping:
		stats.Pings++
		metrics.RecordPingAnswered()
		return h.writeLine(conn, protocol.PingAck(h.parser.Separator))
	case protocol.IsAck(h.parser.Separator, line):
		stats.Acks++
		log.Debug(ctx, "device ack", logger.String("line", line))
		return nil
	}

	rec, err := h.parser.Parse(line)
	if err != nil {
		stats.Malformed++
		metrics.RecordMalformed()
		log.Warn(ctx, "malformed record", logger.String("line", line), logger.Error(err))
		return nil
	}
	stats.Outcomes[h.sink.Handle(ctx, rec)]++
	return nil
}

// closed maps the end of a connection to its error. EOF is a clean close.
func (h *Handler) closed(ctx context.Context, log logger.Logger, phase string, err error) error {
	if errors.Is(err, io.EOF) || ctx.Err() != nil {
		return nil
	}
	metrics.RecordConnectionError()
	wrapped := failure.Wrap("tcp."+phase, failure.TransportError, err)
	log.Warn(ctx, "connection closed on error", logger.Error(wrapped))
	return wrapped
}

func (h *Handler) readLine(r *bufio.Reader) (string, error) {
	delim := h.terminator[len(h.terminator)-1]
	line, err := r.ReadString(delim)
	if err != nil {
		if line != "" && errors.Is(err, io.EOF) {
			// last line without terminator
			return line, nil
		}
		return "", err
	}
	return h.trim(line), nil
}

func (h *Handler) trim(line string) string {
	if trimmed, ok := strings.CutSuffix(line, h.terminator); ok {
		return trimmed
	}
	return strings.TrimSuffix(line, "\n")
}

func (h *Handler) writeLine(conn net.Conn, line string) error {
	_, err := io.WriteString(conn, line+h.terminator)
	return err
}

func remoteAddr(conn net.Conn) string {
	if a := conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
