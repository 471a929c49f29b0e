package tcp

import (
	"github.com/okian/racefeed/internal/domain/protocol"
	"github.com/okian/racefeed/pkg/logger"
)

// HandlerOption applies a configuration option to the Handler.
type HandlerOption func(*Handler)

// WithParser sets the separator and format id used for records and commands.
func WithParser(p protocol.Parser) HandlerOption {
	return func(h *Handler) {
		if p.Separator != "" && p.FormatID != "" {
			h.parser = p
		}
	}
}

// WithLineTerminator sets the terminator written after, and stripped from,
// every line.
func WithLineTerminator(t string) HandlerOption {
	return func(h *Handler) {
		if t != "" {
			h.terminator = t
		}
	}
}

// WithHandlerLogger sets the handler's logger.
func WithHandlerLogger(l logger.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// ListenerOption applies a configuration option to the Listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the listener's logger.
func WithListenerLogger(l logger.Logger) ListenerOption {
	return func(ln *Listener) {
		if l != nil {
			ln.log = l
		}
	}
}

// WithListenFunc replaces how the socket is bound, e.g. to wrap it.
func WithListenFunc(f ListenFunc) ListenerOption {
	return func(ln *Listener) {
		if f != nil {
			ln.listen = f
		}
	}
}
