// Package apperr classifies failures at the boundaries where they happen so
// the event loop can turn them into user-visible notices.
package apperr

import (
	"github.com/pkg/errors"
)

type Kind string

const (
	KindUnknown    Kind = ""
	KindCapture    Kind = "capture"
	KindDeletion   Kind = "deletion"
	KindLoad       Kind = "load"
	KindSubmission Kind = "submission"
	KindIPC        Kind = "ipc"
)

// Error carries a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: errors.WithStack(err)}
}

// New classifies a failure described only by a message.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// KindOf returns the outermost Kind found in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
