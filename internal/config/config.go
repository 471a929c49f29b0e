// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Flat snake_case koanf keys, one per field.
// - New(ctx) builds a Config with defaults; Load layers file and env on top.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"context"
	"time"

	"github.com/okian/racefeed/internal/domain/encourage"
	"github.com/okian/racefeed/internal/domain/protocol"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":5000".
	Addr string `koanf:"addr"`

	// ListenAddr is where timing devices connect.
	ListenAddr string `koanf:"listen_addr"`
	// AutoStartListener starts the device listener at boot instead of after login.
	AutoStartListener bool   `koanf:"auto_start_listener"`
	FormatID          string `koanf:"format_id"`
	FieldSeparator    string `koanf:"field_separator"`
	LineTerminator    string `koanf:"line_terminator"`

	// Roster service.
	RosterBaseURL   string `koanf:"roster_base_url"`
	RosterFormat    string `koanf:"roster_format"`
	ClientID        string `koanf:"client_id"`
	RosterUserID    string `koanf:"roster_user_id"`
	RosterPassword  string `koanf:"roster_password"`
	RosterPageSize  int    `koanf:"roster_page_size"`
	RosterTimeoutMS int    `koanf:"roster_timeout_ms"`

	// Messages are the encouragement lines attached to matched results.
	Messages []string `koanf:"messages"`

	// SubscriberBuffer bounds each stream consumer's backlog.
	SubscriberBuffer int `koanf:"subscriber_buffer"`
	// HeartbeatMS is the keepalive interval of idle stream consumers.
	HeartbeatMS int `koanf:"heartbeat_ms"`
	// ReplayWindow bounds the replay guard; 0 (default) disables it.
	ReplayWindow int `koanf:"replay_window"`

	// Persistence.
	StoreToDatabase   bool   `koanf:"store_to_database"`
	DatabaseDriver    string `koanf:"database_driver"`
	DatabaseURL       string `koanf:"database_url"`
	DatabaseDebug     bool   `koanf:"database_debug"`
	SessionNameFormat string `koanf:"session_name_format"`
	AutoCreateSession bool   `koanf:"auto_create_session"`
	PersistQueueSize  int    `koanf:"persist_queue_size"`
	// PersistWorkers above 1 may reorder upserts of the same read.
	PersistWorkers    int    `koanf:"persist_workers"`
}

// New creates a Config with defaults. Context is accepted first to
// satisfy the project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":5000",
		ListenAddr:        ":61611",
		FormatID:          protocol.DefaultFormatID,
		FieldSeparator:    protocol.DefaultSeparator,
		LineTerminator:    protocol.DefaultLineTerminator,
		RosterBaseURL:     "https://api.example.com",
		RosterFormat:      "json",
		RosterPageSize:    100,
		RosterTimeoutMS:   10_000,
		Messages:          append([]string(nil), encourage.DefaultMessages...),
		SubscriberBuffer:  256,
		HeartbeatMS:       1000,
		ReplayWindow:      0,
		DatabaseDriver:    "postgres",
		SessionNameFormat: "Session_20060102_150405",
		AutoCreateSession: true,
		PersistQueueSize:  10_000,
		PersistWorkers:    1,
	}
}

// RosterTimeout returns the roster request timeout.
func (c *Config) RosterTimeout() time.Duration {
	return time.Duration(c.RosterTimeoutMS) * time.Millisecond
}

// Heartbeat returns the stream keepalive interval.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatMS) * time.Millisecond
}
