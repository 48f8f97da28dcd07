package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/famulus-ai/famulus/pkg/models"
)

// Error classifies a provider failure so callers can decide whether to
// retry. Transports construct it; the rest of the runtime only reads Kind.
type Error struct {
	Kind    models.ErrorKind
	Message string
	Err     error // underlying transport error, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("llm %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retriable reports whether the failure is worth another attempt.
func (e *Error) Retriable() bool {
	return e.Kind.Retriable()
}

// NewError builds a classified provider error.
func NewError(kind models.ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the error kind from an LLM call failure. Deadline errors
// map to transport timeouts; anything else unclassified counts as upstream
// unavailability, which is retriable.
func KindOf(err error) models.ErrorKind {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrKindTransportTimeout
	}
	return models.ErrKindUpstreamUnavailable
}
