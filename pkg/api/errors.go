package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cacophony-project/cacophony-api/pkg/httputil"
	"github.com/cacophony-project/cacophony-api/pkg/observability"
)

// ValidationError indicates malformed or missing input (400)
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NewValidationError creates a validation error
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// AuthorizationError indicates the caller lacks permission (403)
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string { return e.Message }

// NewAuthorizationError creates an authorization error
func NewAuthorizationError(format string, args ...interface{}) *AuthorizationError {
	return &AuthorizationError{Message: fmt.Sprintf(format, args...)}
}

// ConflictError indicates a uniqueness violation such as a name already
// in use (422)
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// NewConflictError creates a conflict error
func NewConflictError(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError indicates an absent entity (404)
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// NewNotFoundError creates a not-found error
func NewNotFoundError(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// writeDomainError maps a typed domain error onto the response envelope.
// Unrecognized errors are logged and surfaced as a generic 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr    *ValidationError
		authorizationErr *AuthorizationError
		conflictErr      *ConflictError
		notFoundErr      *NotFoundError
	)

	switch {
	case errors.As(err, &validationErr):
		httputil.WriteValidationError(w, validationErr.Message)
	case errors.As(err, &authorizationErr):
		httputil.WriteForbidden(w, authorizationErr.Message)
	case errors.As(err, &conflictErr):
		httputil.WriteUnprocessable(w, conflictErr.Message)
	case errors.As(err, &notFoundErr):
		httputil.WriteNotFound(w, notFoundErr.Message)
	default:
		observability.FromContext(r.Context()).WithError(err).Error("unhandled error in handler")
		httputil.WriteInternalError(w)
	}
}
