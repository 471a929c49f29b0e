package rosterapi

import (
	"net/http"
	"time"

	"github.com/okian/racefeed/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithFormat sets the format query parameter.
func WithFormat(format string) Option {
	return func(c *Client) {
		if format != "" {
			c.format = format
		}
	}
}

// WithClientID sets the client_id query parameter.
func WithClientID(id string) Option {
	return func(c *Client) {
		c.clientID = id
	}
}

// WithLogger sets the client's logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}
