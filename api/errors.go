// Package api holds the structured error type shared by loop, network, and
// btstream, grounded on the teacher's own api/errors.go.
package api

import "fmt"

// ErrorCode classifies the sentinel errors exported by this module's
// packages, mirroring the teacher's enumeration.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeTimeout
	ErrCodeNotSupported
	ErrCodeAlreadyExists
	ErrCodeNotFound
	ErrCodeClosed
	ErrCodeInternal
)

// Error is a structured error with a machine-checkable Code alongside the
// human Message, plus optional Context for diagnostics picked up along the
// way (which req_id timed out, which endpoint was already bound, ...).
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// NewError creates a new structured error. Package-level sentinels
// (loop.ErrShutdown, network.ErrNetworkClosed, btstream.ErrProtocol, ...)
// are built once at init with this and compared by pointer identity, the
// same way bare errors.New sentinels are.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithContext returns e with key/value recorded in its Context, allocating
// the map on first use. It mutates and returns the receiver rather than
// copying, so callers chain it on a freshly-minted *Error, never on a
// shared package-level sentinel.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
