// Package percepterr defines the fixed set of error kinds every tool
// invocation can fail with, so a caller across a process boundary (MCP,
// HTTP) can branch on kind without parsing message text.
package percepterr

import "fmt"

type Kind string

const (
	InvalidInput       Kind = "invalid_input"
	UnknownRef         Kind = "unknown_ref"
	ElementStale       Kind = "element_stale"
	DriverUnavailable  Kind = "driver_unavailable"
	DriverTimeout      Kind = "driver_timeout"
	DriverError        Kind = "driver_error"
	ParseError         Kind = "parse_error"
	PipelineError      Kind = "pipeline_error"
	SchemaBindingError Kind = "schema_binding_error"
)

// Error wraps an underlying cause with a fixed Kind, so tool dispatch
// can translate it into the right exit code or protocol error code
// without string matching.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As reports whether err (or anything it wraps) is a *Error of the
// given kind.
func As(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if pe, ok := err.(*Error); ok {
			e = pe
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return e != nil && e.Kind == kind
}
