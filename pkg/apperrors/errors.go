package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and retry decisions.
type Kind int

const (
	// KindInternal is the default for unexpected failures; retryable.
	KindInternal Kind = iota
	// KindNotFound marks a missing tweet/user/comment; not retried.
	KindNotFound
	// KindValidation marks malformed input, rejected before any mutation.
	KindValidation
	// KindUnavailable marks a dependency (cache, database) being down or
	// timing out; callers may fall back or ask the client to retry.
	KindUnavailable
)

// Error carries a kind alongside the message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(msg string) error { return &Error{Kind: KindNotFound, Msg: msg} }

func Validation(msg string) error { return &Error{Kind: KindValidation, Msg: msg} }

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func Unavailable(msg string, err error) error {
	return &Error{Kind: KindUnavailable, Msg: msg, Err: err}
}

func Internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf reports the kind of err, defaulting to KindInternal for plain
// errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

func IsValidation(err error) bool { return KindOf(err) == KindValidation }

func IsUnavailable(err error) bool { return KindOf(err) == KindUnavailable }
