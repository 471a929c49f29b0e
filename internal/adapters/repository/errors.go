package repository

import "errors"

// Sentinel errors for timing storage.
var (
	ErrNoSession     = errors.New("no active timing session")
	ErrCoerce        = errors.New("field is not an integer")
	ErrUnknownDriver = errors.New("unknown database driver")
	ErrMissingDSN    = errors.New("database url is empty")
	ErrNotConnected  = errors.New("database not connected")
	ErrInvalidLimit  = errors.New("invalid limit")
	ErrEmptyLocation = errors.New("location name is empty")
)
