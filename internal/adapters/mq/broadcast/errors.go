package broadcast

import "errors"

// Sentinel errors for the hub.
var (
	ErrClosed = errors.New("subscription closed")
)
