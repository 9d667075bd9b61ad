package fleetvuln

import (
	"errors"
	"strings"
)

// Error is the fleetvuln error domain type.
//
// Errors coming from fleetvuln components should be able to be inspected as
// ([errors.As]) an *Error at some point in the error chain.
//
// Implementers of fleetvuln components should create an Error at the system
// boundary (e.g. when using a database handle or reading a package file) and
// intermediate layers should not wrap in another Error except to add
// additional [ErrorKind] information. That is to say, use [fmt.Errorf] with a
// "%w" verb in preference to creating a containing Error.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrConflict,
		ErrBusy,
		ErrIntegrity,
		ErrInvalid,
		ErrNotFound,
		ErrUnavailable,
		ErrInternal:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is].
//
// It compares the error kind. Callers should compare against a declared
// [ErrorKind] over a specific error.
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents classes of errors to be checked against.
//
// If an error is unsure which kind to use, ErrInternal should be used.
type ErrorKind string

// Defined error kinds.
var (
	ErrConflict    = ErrorKind("conflict")    // conflicting write, e.g. duplicate external ID
	ErrBusy        = ErrorKind("busy")        // store contention outlasted the retry budget
	ErrIntegrity   = ErrorKind("integrity")   // content fails its integrity check
	ErrInvalid     = ErrorKind("invalid")     // invalid request or record
	ErrNotFound    = ErrorKind("notfound")    // named entity does not exist
	ErrUnavailable = ErrorKind("unavailable") // required collaborator is unreachable
	ErrInternal    = ErrorKind("internal")    // non-specific internal error
)

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}

// ErrUnparseableVersion is reported by version parsing when the input can't
// be interpreted. Callers in the expression path swallow it: the expression
// degrades to [PatternUnknown] and never matches.
var ErrUnparseableVersion = errors.New("fleetvuln: unparseable version")
