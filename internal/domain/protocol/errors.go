package protocol

import "errors"

// Sentinel errors for record parsing.
var (
	ErrMalformedRecord = errors.New("malformed record")
	ErrTooFewFields    = errors.New("too few fields")
	ErrFormatMismatch  = errors.New("format id mismatch")
)
