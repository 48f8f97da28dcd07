package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/famulus-ai/famulus/pkg/models"
)

// Error is a typed tool failure carrying the error kind the invoker reports
// and retries on. Handlers return *Error for failures they can classify;
// anything else is mapped by KindOf.
type Error struct {
	Kind    models.ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a typed tool error.
func NewError(kind models.ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates a typed tool error with a formatted message.
func Errorf(kind models.ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps an underlying error with a kind and message.
func WrapError(kind models.ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf maps any handler error to its error kind. Typed errors keep their
// kind; deadline expiry becomes a transport timeout; everything else is
// treated as the upstream being unavailable.
func KindOf(err error) models.ErrorKind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrKindTransportTimeout
	}
	return models.ErrKindUpstreamUnavailable
}
