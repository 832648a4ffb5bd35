package automation

import (
	"errors"
	"fmt"
)

// ErrTimeout marks a bounded wait that expired. Page implementations wrap it.
var ErrTimeout = errors.New("timeout")

// ErrorKind classifies a failed run.
type ErrorKind string

const (
	KindAuthenticationTimeout ErrorKind = "AuthenticationTimeout"
	KindNavigation            ErrorKind = "NavigationError"
	KindDownload              ErrorKind = "DownloadError"
	KindSave                  ErrorKind = "SaveError"
	KindUnknown               ErrorKind = "UnknownFailure"
)

// Error is the classified failure of a run. Detail is safe to show to
// callers; Err carries the underlying cause for the log only.
type Error struct {
	Kind   ErrorKind
	State  State
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s in %s: %s", e.Kind, e.State, e.Detail)
	}
	return fmt.Sprintf("%s in %s: %s: %v", e.Kind, e.State, e.Detail, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func failf(kind ErrorKind, state State, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, State: state, Detail: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of a classified error, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
