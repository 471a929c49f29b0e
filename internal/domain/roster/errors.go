package roster

import "errors"

// Sentinel errors for roster loading.
var (
	ErrFirstPage   = errors.New("first roster page failed")
	ErrPage        = errors.New("roster page failed")
	ErrNoFetcher   = errors.New("no page fetcher configured")
	ErrEmptyEvent  = errors.New("event id is empty")
	ErrRowMismatch = errors.New("merged entries differ from reported rows")
)
