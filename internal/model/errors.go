package model

import "errors"

// Error taxonomy surfaced by the mutation path. Call sites wrap these with
// detail using fmt.Errorf("...: %w", ErrX) so errors.Is keeps working.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("state version conflict")
	ErrInternal     = errors.New("internal error")
)

// ErrorKind is the wire-level name of an error class
type ErrorKind string

const (
	KindInvalidInput ErrorKind = "INVALID_INPUT"
	KindNotFound     ErrorKind = "NOT_FOUND"
	KindUnauthorized ErrorKind = "UNAUTHORIZED"
	KindConflict     ErrorKind = "CONFLICT"
	KindInternal     ErrorKind = "INTERNAL"
)

// Kind classifies err into the taxonomy. Anything unrecognized is internal.
func Kind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}
