// Package internaltypes holds the error taxonomy shared by the scheduling
// core, the HTTP API and the CLI.
package internaltypes

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Kind is a stable label callers use to decide how to react to a failure.
type Kind string

const (
	KindInvalidTimeFormat  Kind = "invalid_time_format"
	KindValidation         Kind = "validation"
	KindCredentialsMissing Kind = "credentials_missing"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindBackendRejected    Kind = "backend_rejected"
	KindUnauthorized       Kind = "unauthorized"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindInternal           Kind = "internal"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// Error is a classified failure. Attempts is set for backend failures that
// went through the retry policy.
type Error struct {
	Kind     Kind
	Msg      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func InvalidTimeFormat(format string, args ...any) error {
	return Newf(KindInvalidTimeFormat, format, args...)
}

func Validation(format string, args ...any) error {
	return Newf(KindValidation, format, args...)
}

// CredentialsMissing tells the caller the user has not configured the
// provider login yet.
func CredentialsMissing() error {
	return errors.WithHint(
		New(KindCredentialsMissing, "provider credentials not found"),
		"add your provider login in settings",
	)
}

func BackendUnavailable(err error, attempts int) error {
	return errors.WithHint(
		&Error{Kind: KindBackendUnavailable, Msg: fmt.Sprintf("task backend unavailable after %d attempt(s)", attempts), Attempts: attempts, Err: err},
		"try again in a few minutes",
	)
}

func BackendRejected(err error, attempts int) error {
	return &Error{Kind: KindBackendRejected, Msg: "task backend rejected the request", Attempts: attempts, Err: err}
}

// KindOf classifies err. Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	}
	return KindInternal
}

// AttemptsOf returns the retry count recorded on err, or 0.
func AttemptsOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Attempts
	}
	return 0
}

// Hint returns the user-facing hints attached to err, flattened.
func Hint(err error) string {
	return errors.FlattenHints(err)
}

// Retryable reports whether a caller may usefully offer a retry action.
func Retryable(kind Kind) bool {
	switch kind {
	case KindBackendUnavailable, KindInternal:
		return true
	}
	return false
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidTimeFormat, KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindCredentialsMissing, KindConflict:
		return http.StatusConflict
	case KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case KindBackendRejected:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
