package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError reports a missing record, or a task addressed through the wrong project.
type NotFoundError struct {
	Resource string
	Message  string
}

func (e NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConflictError reports a uniqueness violation.
type ConflictError struct {
	Field   string
	Message string
}

func (e ConflictError) Error() string {
	return e.Message
}

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
