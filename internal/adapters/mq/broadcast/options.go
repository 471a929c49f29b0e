package broadcast

import (
	"time"

	"github.com/okian/racefeed/pkg/logger"
)

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithHeartbeat sets how long Next waits before returning a heartbeat.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// WithLogger sets the hub's logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}
