package domain

import (
	"errors"
	"fmt"
)

// Kind is one of the typed error variants from §7.
type Kind string

const (
	NotFound        Kind = "not_found"
	PolicyDenied    Kind = "policy_denied"
	InvalidInput    Kind = "invalid_input"
	StateConflict   Kind = "state_conflict"
	ExternalTimeout Kind = "external_timeout"
	IOError         Kind = "io_error"
	AlreadyFinalized Kind = "already_finalized"
)

// Error is a typed orchestrator error. Callers should use errors.As to
// recover the Kind rather than matching on message text.
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

// Is makes errors.Is(err, SomeKind-shaped sentinel) work by Kind comparison
// when the target is also *Error with the same Kind and empty Msg/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

// NewError constructs a new typed error, optionally wrapping a cause.
func NewError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// NotFoundf builds a NotFound error naming the missing input.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: NotFound, Msg: fmt.Sprintf(format, args...)}
}

// PolicyDeniedf builds a PolicyDenied error naming the violated rule.
func PolicyDeniedf(format string, args ...any) *Error {
	return &Error{Kind: PolicyDenied, Msg: fmt.Sprintf(format, args...)}
}

// InvalidInputf builds an InvalidInput error.
func InvalidInputf(format string, args ...any) *Error {
	return &Error{Kind: InvalidInput, Msg: fmt.Sprintf(format, args...)}
}

// StateConflictf builds a StateConflict error.
func StateConflictf(format string, args ...any) *Error {
	return &Error{Kind: StateConflict, Msg: fmt.Sprintf(format, args...)}
}

// ExternalTimeoutf builds an ExternalTimeout error.
func ExternalTimeoutf(format string, args ...any) *Error {
	return &Error{Kind: ExternalTimeout, Msg: fmt.Sprintf(format, args...)}
}

// IOErrorf wraps a filesystem failure.
func IOErrorf(cause error, format string, args ...any) *Error {
	return &Error{Kind: IOError, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// AlreadyFinalizedf builds an AlreadyFinalized error.
func AlreadyFinalizedf(format string, args ...any) *Error {
	return &Error{Kind: AlreadyFinalized, Msg: fmt.Sprintf(format, args...)}
}

// ExitCode maps an error's Kind to the CLI exit code contract in §6.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) && e.Kind == ExternalTimeout {
		return 2
	}
	return 1
}
