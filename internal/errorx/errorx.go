package errorx

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for HTTP status mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindAlreadyFriends
	KindSelfRequest
	KindForbidden
	KindConflict
	KindTransientIO
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAlreadyFriends:
		return "already_friends"
	case KindSelfRequest:
		return "self_request"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindTransientIO:
		return "transient_io"
	default:
		return "internal"
	}
}

// Error is a kind-coded error that can wrap a lower level cause.
type Error struct {
	Kind  Kind
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error of the same kind, so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to err.
func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, cause: err}
}

// Wrapf attaches a kind and formatted message to err.
func Wrapf(err error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), cause: err}
}

// Validation, NotFound, Forbidden and Conflict are shorthands for the common domain kinds.
func Validation(msg string) *Error { return New(KindValidation, msg) }

func NotFound(msg string) *Error { return New(KindNotFound, msg) }

func Forbidden(msg string) *Error { return New(KindForbidden, msg) }

func Conflict(msg string) *Error { return New(KindConflict, msg) }

// Transient wraps a backend failure.
func Transient(err error, msg string) *Error { return Wrap(err, KindTransientIO, msg) }

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

// HTTPStatus maps a kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindSelfRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyFriends, KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindTransientIO:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Domain sentinels.
var (
	ErrAlreadyFriends = New(KindAlreadyFriends, "already friends")
	ErrSelfRequest    = New(KindSelfRequest, "cannot send a friend request to yourself")
)
