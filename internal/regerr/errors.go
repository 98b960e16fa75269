// Package regerr defines the registry's public, typed error kinds (spec.md
// §7). These are small structs rather than sentinel strings so callers can
// use errors.As and forwarded responses can round-trip the same kind
// regardless of which node in the cluster actually served the request.
package regerr

import (
	"errors"
	"fmt"
)

// Kind names one of the distinct error categories spec.md §7 enumerates.
type Kind string

const (
	KindInvalidSchema      Kind = "InvalidSchema"
	KindIncompatibleSchema Kind = "IncompatibleSchema"
	KindStoreError         Kind = "StoreError"
	KindTimeout            Kind = "Timeout"
	KindUnknownMaster      Kind = "UnknownMaster"
	KindForwardingError    Kind = "ForwardingError"
	KindInitialization     Kind = "Initialization"
	KindNotFound           Kind = "NotFound"
)

// Error is the registry's uniform error type.
type Error struct {
	Kind    Kind
	Message string
	// Status is the upstream HTTP status when this Error was reconstructed
	// from a forwarded response; zero otherwise.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is match on Kind alone when the target is another *Error,
// e.g. errors.Is(err, regerr.New(regerr.KindTimeout, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// WithStatus attaches an upstream HTTP status code, used by Forwarder when
// reconstructing the error a forwarded request's target reported.
func WithStatus(kind Kind, msg string, status int) *Error {
	return &Error{Kind: kind, Message: msg, Status: status}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, defaulting to
// KindStoreError for anything unrecognized so callers always get a typed
// response.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStoreError
}
