package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an API error for clients. Serialized in the `kind` field
// of error responses.
type Kind string

const (
	KindNotFound          Kind = "NotFound"
	KindInvalidRequest    Kind = "InvalidRequest"
	KindUnauthorized      Kind = "Unauthorized"
	KindSpawnFailed       Kind = "SpawnFailed"
	KindSessionGone       Kind = "SessionGone"
	KindSlowConsumer      Kind = "SlowConsumer"
	KindRemoteUnavailable Kind = "RemoteUnavailable"
	KindConflict          Kind = "Conflict"
	KindInternal          Kind = "Internal"
)

// Error carries a Kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given kind and message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to an existing error. Returns nil if err is nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the Kind from an error chain, defaulting to Internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Status maps an error kind to its HTTP status code.
func Status(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindSessionGone, KindConflict:
		return http.StatusConflict
	case KindRemoteUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
