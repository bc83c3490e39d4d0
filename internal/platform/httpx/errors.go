// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("concurrent modification")
	ErrPrecondition = errors.New("precondition failed")
	ErrCapacity     = errors.New("insufficient capacity")
)

// detailer is implemented by domain errors that carry structured context.
type detailer interface {
	ProblemDetails() map[string]any
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var details map[string]any
	var d detailer
	if errors.As(err, &d) {
		details = d.ProblemDetails()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		problem(w, http.StatusNotFound, "Not Found", err.Error(), details)
	case errors.Is(err, ErrDuplicate):
		problem(w, http.StatusConflict, "Duplicate", err.Error(), details)
	case errors.Is(err, ErrValidation):
		problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), details)
	case errors.Is(err, ErrForbidden):
		problem(w, http.StatusForbidden, "Forbidden", err.Error(), details)
	case errors.Is(err, ErrUnauthorized):
		problem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), details)
	case errors.Is(err, ErrConflict):
		problem(w, http.StatusConflict, "Conflict", err.Error(), details)
	case errors.Is(err, ErrPrecondition):
		problem(w, http.StatusConflict, "Precondition Failed", err.Error(), details)
	case errors.Is(err, ErrCapacity):
		problem(w, http.StatusUnprocessableEntity, "Insufficient Capacity", err.Error(), details)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
