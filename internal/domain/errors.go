package domain

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the wallet can surface.
type Kind string

const (
	KindNotFound                Kind = "NotFound"
	KindAlreadyExists           Kind = "AlreadyExists"
	KindAlreadyDeleted          Kind = "AlreadyDeleted"
	KindDuplicateRequest        Kind = "DuplicateRequest"
	KindOutOfOrder              Kind = "OutOfOrder"
	KindInsufficientFunds       Kind = "InsufficientFunds"
	KindInvalidInput            Kind = "InvalidInput"
	KindMultipleMatches         Kind = "MultipleMatches"
	KindProjectionInconsistency Kind = "ProjectionInconsistency"
	KindTransient               Kind = "Transient"
)

// Error is a classified failure. Sentinels below match any Error of the
// same kind through errors.Is.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrAlreadyExists           = &Error{Kind: KindAlreadyExists}
	ErrAlreadyDeleted          = &Error{Kind: KindAlreadyDeleted}
	ErrDuplicateRequest        = &Error{Kind: KindDuplicateRequest}
	ErrOutOfOrder              = &Error{Kind: KindOutOfOrder}
	ErrInsufficientFunds       = &Error{Kind: KindInsufficientFunds}
	ErrInvalidInput            = &Error{Kind: KindInvalidInput}
	ErrMultipleMatches         = &Error{Kind: KindMultipleMatches}
	ErrProjectionInconsistency = &Error{Kind: KindProjectionInconsistency}
	ErrTransient               = &Error{Kind: KindTransient}
)

// Errorf builds a classified error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind of err, or "" when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
