package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes shared by every keyforge component.
const (
	EInternal     = "internal error"
	EInvalid      = "invalid"
	ENotFound     = "not found"
	EUnavailable  = "unavailable" // resource is not in the state the operation needs
	EUnauthorized = "unauthorized"
	EForbidden    = "forbidden"
	EUpstream     = "upstream" // a downstream backend call failed
)

// Error is the error type returned by keyforge services.
//
// Code drives the HTTP status, Msg is shown to the caller, and Op/Err
// form a logical stack trace for the operator:
//
//	&errs.Error{Code: errs.ENotFound, Msg: "Instance not found", Op: "registry.GetInstance"}
type Error struct {
	Code string
	Msg  string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" && e.Err != nil {
		var b strings.Builder
		b.WriteString(e.Msg)
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
		return b.String()
	} else if e.Msg != "" {
		return e.Msg
	} else if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("<%s>", e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error carrying code and msg.
func New(code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap annotates err with op. The code of err is preserved.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Upstream classifies err as a failed downstream call.
func Upstream(op, msg string, err error) *Error {
	return &Error{Code: EUpstream, Op: op, Msg: msg, Err: err}
}

// Internal classifies err as an unexpected failure.
func Internal(op string, err error) *Error {
	return &Error{Code: EInternal, Op: op, Err: err}
}

// ErrorCode returns the code of the first coded error in the chain, or
// EInternal when there is none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	for errors.As(err, &e) {
		if e.Code != "" {
			return e.Code
		}
		if e.Err == nil {
			break
		}
		err = e.Err
	}
	return EInternal
}

// ErrorMessage returns the first human readable message in the chain.
// Errors that carry no message yield a generic text so internal details
// never reach the caller.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	for errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		if e.Err == nil {
			break
		}
		err = e.Err
	}
	return "An internal error has occurred."
}

// HTTPStatus maps an error code to its HTTP status.
func HTTPStatus(code string) int {
	switch code {
	case EInvalid:
		return http.StatusBadRequest
	case ENotFound:
		return http.StatusNotFound
	case EUnavailable:
		return http.StatusServiceUnavailable
	case EUnauthorized:
		return http.StatusUnauthorized
	case EForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
