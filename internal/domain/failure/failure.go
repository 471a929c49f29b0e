// Package failure classifies pipeline errors so callers can tell retryable,
// data and fatal conditions apart without string matching.
package failure

import (
	"errors"
	"fmt"
)

// Kind names a failure category of the ingestion pipeline.
type Kind string

const (
	MalformedRecord          Kind = "malformed_record"
	RosterLoadFailure        Kind = "roster_load_failure"
	RosterPagePartialFailure Kind = "roster_page_partial_failure"
	CorrelationMiss          Kind = "correlation_miss"
	PersistenceFailure       Kind = "persistence_failure"
	ListenerStartFailure     Kind = "listener_start_failure"
	TransportError           Kind = "transport_error"
)

// Class groups kinds by how a caller should react.
type Class int

const (
	// Transient failures may succeed on retry.
	Transient Class = iota
	// Invalid failures come from bad input and will not succeed on retry.
	Invalid
	// Fatal failures stop the operation that raised them.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Invalid:
		return "invalid"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Class returns the class a kind belongs to.
func (k Kind) Class() Class {
	switch k {
	case MalformedRecord, CorrelationMiss:
		return Invalid
	case RosterLoadFailure, ListenerStartFailure:
		return Fatal
	default:
		return Transient
	}
}

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, failure.New(k)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Wrap attaches a kind and operation name to err. A nil err stays nil.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// New returns a bare error of the given kind, usable as an errors.Is target.
func New(kind Kind) error {
	return &Error{Kind: kind}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// IsTransient reports whether err is classified as transient.
func IsTransient(err error) bool { return classOf(err) == Transient }

// IsInvalid reports whether err is classified as invalid input.
func IsInvalid(err error) bool { return classOf(err) == Invalid }

// IsFatal reports whether err is classified as fatal.
func IsFatal(err error) bool { return classOf(err) == Fatal }

func classOf(err error) Class {
	k, ok := KindOf(err)
	if !ok {
		return -1
	}
	return k.Class()
}
