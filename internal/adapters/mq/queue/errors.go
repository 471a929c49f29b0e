package queue

import "errors"

// Sentinel errors for the persistence queue.
var (
	ErrQueueFull = errors.New("persistence queue full")
)
