package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors so the transport layer can map them to
// status codes without string matching.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindAlreadyExists
	KindDuplicate
	KindBadRequest
	KindUnsupportedStage
	KindUnsupportedOperator
	KindDivisionByZero
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindDuplicate:
		return "duplicate"
	case KindBadRequest:
		return "bad request"
	case KindUnsupportedStage:
		return "unsupported stage"
	case KindUnsupportedOperator:
		return "unsupported operator"
	case KindDivisionByZero:
		return "division by zero"
	default:
		return "internal"
	}
}

// Error is a kinded engine error. All errors surfaced by engine operations
// either are of this type or wrap one; anything else is treated as internal.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return fmt.Sprintf("%s: %v", e.Msg, e.Err)
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a kinded error with a formatted message.
func NewError(kind Kind, format string, a ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, a...)}
}

// WrapError wraps err with a kind and a formatted message.
func WrapError(kind Kind, err error, format string, a ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, a...), Err: err}
}

func NotFoundf(format string, a ...interface{}) error {
	return NewError(KindNotFound, format, a...)
}

func AlreadyExistsf(format string, a ...interface{}) error {
	return NewError(KindAlreadyExists, format, a...)
}

func Duplicatef(format string, a ...interface{}) error {
	return NewError(KindDuplicate, format, a...)
}

func BadRequestf(format string, a ...interface{}) error {
	return NewError(KindBadRequest, format, a...)
}

func Internalf(format string, a ...interface{}) error {
	return NewError(KindInternal, format, a...)
}

// KindOf returns the kind of err, or KindInternal if err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
