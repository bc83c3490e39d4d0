package shared

import (
	"maps"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
)

// Error is a domain failure classified by one of the httpx sentinel kinds.
type Error struct {
	Kind    error
	Message string
	Details map[string]any
	Err     error
}

// NewError builds an Error of the given kind.
func NewError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Validation builds a validation failure.
func Validation(message string) *Error { return NewError(httpx.ErrValidation, message) }

// NotFound builds a not-found failure.
func NotFound(message string) *Error { return NewError(httpx.ErrNotFound, message) }

// Precondition builds a stage-ordering failure.
func Precondition(message string) *Error { return NewError(httpx.ErrPrecondition, message) }

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Is matches another Error of the same kind and message, so sentinels still match
// after With or Wrap produced a copy.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Message == e.Message
}

// ProblemDetails returns structured context for problem responses.
func (e *Error) ProblemDetails() map[string]any {
	return e.Details
}

// With returns a copy of e carrying an extra detail.
func (e *Error) With(key string, value any) *Error {
	out := *e
	out.Details = maps.Clone(e.Details)
	if out.Details == nil {
		out.Details = make(map[string]any)
	}
	out.Details[key] = value
	return &out
}

// Wrap returns a copy of e caused by err.
func (e *Error) Wrap(err error) *Error {
	out := *e
	out.Err = err
	return &out
}
