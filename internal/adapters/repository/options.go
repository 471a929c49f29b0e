package repository

import "github.com/okian/racefeed/pkg/logger"

// Option applies a configuration option to the BunStore.
type Option func(*BunStore)

// WithLogger sets the store's logger.
func WithLogger(l logger.Logger) Option {
	return func(s *BunStore) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSessionNameLayout sets the time layout new session names are built from.
func WithSessionNameLayout(layout string) Option {
	return func(s *BunStore) {
		if layout != "" {
			s.sessionLayout = layout
		}
	}
}

// WithAutoCreateSession controls whether StoreRead may create a session when
// no active one exists. An existing active session is resumed either way.
func WithAutoCreateSession(enabled bool) Option {
	return func(s *BunStore) {
		s.autoCreate = enabled
	}
}

// WithDriverName records the driver for status reports.
func WithDriverName(driver string) Option {
	return func(s *BunStore) {
		s.driver = driver
	}
}
