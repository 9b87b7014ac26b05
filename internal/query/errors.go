package query

import (
	"errors"
	"fmt"
)

// Status codes carried by query errors and search responses.
const (
	StatusOK             = 200
	StatusMalformed      = 400
	StatusWindowExceeded = 413
	StatusBadSort        = 422
)

// ErrSyntax is wrapped by every malformed query error.
var ErrSyntax = errors.New("query syntax error")

// Error reports a query that cannot be run. It never indicates an engine
// fault.
type Error struct {
	Status int
	Query  string
	Pos    int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("query %q: %s at offset %d", e.Query, e.Msg, e.Pos)
	}
	return fmt.Sprintf("query %q: %s", e.Query, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func syntaxError(q string, pos int, format string, args ...any) *Error {
	return &Error{Status: StatusMalformed, Query: q, Pos: pos, Msg: fmt.Sprintf(format, args...), Err: ErrSyntax}
}

// NewError builds an error with a status other than StatusMalformed.
func NewError(status int, q, msg string) *Error {
	return &Error{Status: status, Query: q, Pos: -1, Msg: msg}
}
