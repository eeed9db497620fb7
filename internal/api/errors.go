package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/store"
	"github.com/phrazzld/adlens/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes.
func MapErrorToStatusCode(err error) int {
	var fatal *task.FatalPersistenceError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrFatalConfiguration),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest
	case errors.Is(err, task.ErrAlreadyRegistered),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.As(err, &fatal):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	var fatal *task.FatalPersistenceError
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, store.ErrJobNotFound):
		return "Job not found"
	case errors.Is(err, store.ErrNotFound):
		return "Not found"
	case errors.Is(err, domain.ErrFatalConfiguration):
		return "Missing required job parameters"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid job data"
	case errors.Is(err, task.ErrAlreadyRegistered),
		errors.Is(err, store.ErrDuplicate):
		return "Job already exists"
	case errors.As(err, &fatal):
		return "Job storage is temporarily unavailable"
	default:
		return "An unexpected error occurred"
	}
}
