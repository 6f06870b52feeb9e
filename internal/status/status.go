// Package status defines the error taxonomy shared by every tbon
// component: a small, closed set of POSIX-flavored codes that
// synchronous operations return directly and asynchronous operations
// attach to a failed future.
package status

import "fmt"

// Code is one of the eleven error kinds the core ever produces.
type Code int

const (
	OK Code = iota
	Invalid
	NotFound
	Exists
	Timeout
	NoData
	NoSpace
	WouldBlock
	ConnectionReset
	AlreadySet
	Interrupted
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case Invalid:
		return "invalid"
	case NotFound:
		return "not-found"
	case Exists:
		return "exists"
	case Timeout:
		return "timeout"
	case NoData:
		return "no-data"
	case NoSpace:
		return "no-space"
	case WouldBlock:
		return "would-block"
	case ConnectionReset:
		return "connection-reset"
	case AlreadySet:
		return "already-set"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Error pairs a Code with a human-readable message and an optional
// wrapped cause, following the standard errors.Is/errors.As idiom.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err is a *Error carrying code.
func Is(err error, code Code) bool {
	var se *Error
	if !asError(err, &se) {
		return false
	}
	return se.Code == code
}

func asError(err error, target **Error) bool {
	for err != nil {
		if se, ok := err.(*Error); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CodeOf extracts the Code from err, or OK if err is nil, or Invalid if
// err is a non-status error (a defensive default for boundary code that
// must report *something*).
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var se *Error
	if asError(err, &se) {
		return se.Code
	}
	return Invalid
}
