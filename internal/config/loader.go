package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix = "RACEFEED_"
	envFile   = "RACEFEED_CONFIG"
	// messageSeparator splits RACEFEED_MESSAGES; messages themselves contain commas.
	messageSeparator = "|"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if RACEFEED_CONFIG is set
//  3. env (prefix RACEFEED_)
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	if path := os.Getenv(envFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// RACEFEED_LISTEN_ADDR -> listen_addr (flat keys, underscores preserved).
	envProvider := env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, any) {
		key = strings.TrimPrefix(strings.ToLower(key), strings.ToLower(envPrefix))
		if key == "config" {
			return "", nil
		}
		if key == "messages" {
			return key, splitMessages(value)
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields the service cannot run without.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.ListenAddr == "":
		return fmt.Errorf("%w: listen_addr must not be empty", ErrInvalidConfig)
	case c.FieldSeparator == "":
		return fmt.Errorf("%w: field_separator must not be empty", ErrInvalidConfig)
	case c.FormatID == "":
		return fmt.Errorf("%w: format_id must not be empty", ErrInvalidConfig)
	case c.RosterPageSize <= 0:
		return fmt.Errorf("%w: roster_page_size must be positive", ErrInvalidConfig)
	case c.RosterTimeoutMS <= 0:
		return fmt.Errorf("%w: roster_timeout_ms must be positive", ErrInvalidConfig)
	case c.SubscriberBuffer <= 0:
		return fmt.Errorf("%w: subscriber_buffer must be positive", ErrInvalidConfig)
	case c.HeartbeatMS <= 0:
		return fmt.Errorf("%w: heartbeat_ms must be positive", ErrInvalidConfig)
	case c.ReplayWindow < 0:
		return fmt.Errorf("%w: replay_window must not be negative", ErrInvalidConfig)
	case c.PersistQueueSize <= 0:
		return fmt.Errorf("%w: persist_queue_size must be positive", ErrInvalidConfig)
	case c.PersistWorkers <= 0:
		return fmt.Errorf("%w: persist_workers must be positive", ErrInvalidConfig)
	case len(c.Messages) == 0:
		return fmt.Errorf("%w: messages must not be empty", ErrInvalidConfig)
	}
	if c.StoreToDatabase {
		switch c.DatabaseDriver {
		case "postgres", "sqlite":
		default:
			return fmt.Errorf("%w: unknown database_driver %q", ErrInvalidConfig, c.DatabaseDriver)
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: database_url is required when store_to_database is set", ErrInvalidConfig)
		}
	}
	return nil
}

func splitMessages(v string) []string {
	parts := strings.Split(v, messageSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
