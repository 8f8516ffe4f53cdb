package posts

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies missing or oversized input fields.
	ErrValidation = errors.New("posts: validation failed")
	// ErrNotFound classifies a reply whose target post does not exist.
	ErrNotFound = errors.New("posts: post not found")
	// ErrStore classifies backend read or write failures.
	ErrStore = errors.New("posts: store failure")
)

// ServiceError carries a dotted operation code, an error class and the underlying cause.
type ServiceError struct {
	code string
	kind error
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Is matches the error class so callers can use errors.Is(err, ErrNotFound).
func (e *ServiceError) Is(target error) bool {
	return target != nil && target == e.kind
}

func (e *ServiceError) Code() string {
	return e.code
}

// Message is safe to return to clients. Store causes are not exposed.
func (e *ServiceError) Message() string {
	switch e.kind {
	case ErrValidation:
		var fieldErr *FieldError
		if errors.As(e.err, &fieldErr) {
			return fieldErr.Error()
		}
		return "invalid submission"
	case ErrNotFound:
		return "post not found"
	default:
		return "store failure"
	}
}

func newServiceError(operation, reason string, kind, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, kind: kind, err: cause}
}
