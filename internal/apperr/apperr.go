// Package apperr defines the error kinds shared by all services.
//
// Services declare their own sentinel errors with New, so callers can match
// either the precise sentinel (errors.Is(err, orders.ErrOrderNotFound)) or the
// broad kind (errors.Is(err, apperr.NotFound)).
package apperr

import "errors"

var (
	NotFound       = errors.New("not found")
	Conflict       = errors.New("conflict")
	InvalidState   = errors.New("invalid state")
	Forbidden      = errors.New("forbidden")
	Authentication = errors.New("authentication failed")
	Validation     = errors.New("validation failed")
	Unavailable    = errors.New("unavailable")
	RateLimited    = errors.New("rate limited")
)

var kinds = []error{
	NotFound,
	Conflict,
	InvalidState,
	Forbidden,
	Authentication,
	Validation,
	Unavailable,
	RateLimited,
}

type Error struct {
	kind error
	msg  string
}

// New returns a sentinel error of the given kind.
func New(kind error, msg string) error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

// KindOf returns the kind of err, or nil when err carries none.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
