package rosterapi

import "errors"

// Sentinel errors for roster requests.
var (
	ErrStatus       = errors.New("unexpected roster status")
	ErrBody         = errors.New("malformed roster body")
	ErrMissingEntry = errors.New("event_entry missing")
	ErrHeader       = errors.New("malformed pagination header")
)
