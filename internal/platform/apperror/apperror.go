// Package apperror defines the error taxonomy shared by the domain services
// and its mapping onto HTTP responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	// KindValidation marks bad or missing caller input.
	KindValidation Kind = "VALIDATION"
	// KindNotFound marks a referenced doctor, patient or appointment that does not exist.
	KindNotFound Kind = "NOT_FOUND"
	// KindConflict marks a lost race for a slot or a concurrent status change.
	KindConflict Kind = "CONFLICT"
	// KindInvalidTransition marks a status change the lifecycle does not allow.
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	// KindDependency marks a failure of the persistence store or another collaborator.
	KindDependency Kind = "DEPENDENCY"
)

// GenericDependencyMessage is the only text a caller ever sees for a
// dependency failure.
const GenericDependencyMessage = "the service is temporarily unavailable, please try again"

// Error is an application error carrying its Kind and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation creates a validation error.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a not-found error.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a conflict error.
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition creates a lifecycle violation error.
func InvalidTransition(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

// Dependency wraps a collaborator failure.
func Dependency(message string, err error) *Error {
	return &Error{Kind: KindDependency, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain. Errors outside
// the taxonomy are reported as KindDependency.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindDependency
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind onto a response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvalidTransition:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text that may be shown to the caller. Dependency
// errors never leak internal detail.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindDependency {
		return appErr.Message
	}
	return GenericDependencyMessage
}
