package roster

import "github.com/okian/racefeed/pkg/logger"

// Option applies a configuration option to the Loader.
type Option func(*Loader)

// WithLogger sets the loader's logger.
func WithLogger(l logger.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.log = l
		}
	}
}

// WithPageSize sets the number of entries requested per page.
func WithPageSize(size int) Option {
	return func(ld *Loader) {
		if size > 0 {
			ld.pageSize = size
		}
	}
}
